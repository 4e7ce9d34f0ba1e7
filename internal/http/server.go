package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"moff.io/moff-estate/internal/cache"
	"moff.io/moff-estate/internal/config"
	"moff.io/moff-estate/internal/listing"
	"moff.io/moff-estate/internal/session"
	"moff.io/moff-estate/pkg/errors"
	"moff.io/moff-estate/pkg/log"
	"moff.io/moff-estate/pkg/log/middleware"
	"moff.io/moff-estate/pkg/log/meta"
)

const (
	defaultAddr     = ":8080"
	shutdownTimeout = 5 * time.Second
)

type Server struct {
	store     *session.Store
	hub       *Hub
	favorites cache.Favorites

	addr        string
	connectRate int
	// connect 在请求结束后继续执行，使用服务级别的上下文
	baseCtx context.Context
	srv     *http.Server
	router  *gin.Engine
}

func NewServer(store *session.Store, hub *Hub, favorites cache.Favorites) *Server {
	if favorites == nil {
		favorites = cache.NewMemoryFavorites()
	}
	s := &Server{
		store:     store,
		hub:       hub,
		favorites: favorites,
		addr:      defaultAddr,
		baseCtx:   context.Background(),
	}
	s.router = s.routes()
	return s
}

func (s *Server) Apply(conf *config.Configuration) {
	if conf == nil {
		return
	}
	if conf.HTTP.Addr != "" {
		s.addr = conf.HTTP.Addr
	}
	s.connectRate = conf.HTTP.ConnectRatePerMinute
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(ctx context.Context) {
	s.baseCtx = ctx
	s.srv = &http.Server{Addr: s.addr, Handler: s.router}
	go func() {
		log.Infof("http server listening on %v", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(errors.WrapAndReport(err, "http server"))
		}
	}()
}

func (s *Server) Stop() {
	if s.srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		log.Error(errors.Wrap(err, "shutdown http server"))
	}
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(middleware.RecoveredHTTPLog(), middleware.TimeoutHTTP())

	api := router.Group("/api")
	w := api.Group("/wallet")
	w.GET("", s.getWallet)
	w.POST("/connect", s.connect)
	w.POST("/disconnect", s.disconnect)
	w.GET("/explorer", s.explorer)
	w.GET("/pairing.png", s.pairingQRCode)
	w.GET("/events", s.events)

	api.GET("/properties", s.listProperties)
	api.GET("/properties/:id", s.getProperty)

	guarded := api.Group("", RequireWallet(s.store))
	guarded.GET("/dashboard", s.dashboard)
	guarded.GET("/favorites", s.listFavorites)
	guarded.PUT("/favorites/:id", s.addFavorite)
	guarded.DELETE("/favorites/:id", s.removeFavorite)
	return router
}

// RequireWallet sends visitors without a connected wallet back to the home page.
func RequireWallet(store *session.Store) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		st := store.State()
		if !st.Wallet.IsConnected {
			ctx.Redirect(http.StatusFound, "/")
			// 非 GET 请求的重定向没有正文，立即写出响应头
			ctx.Writer.WriteHeaderNow()
			ctx.Abort()
			return
		}
		meta.WithWalletAddress(ctx.Request.Context(), st.Wallet.Address)
		ctx.Next()
	}
}

func fail(ctx *gin.Context, status, code int, msg string) {
	ctx.JSON(status, gin.H{"code": code, "msg": msg})
}

func (s *Server) view() walletView {
	return newWalletView(s.store.Service(), s.store.State())
}

func (s *Server) getWallet(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, s.view())
}

func (s *Server) connect(ctx *gin.Context) {
	allowed, err := cache.AllowConnect(ctx.Request.Context(), ctx.ClientIP(), s.connectRate)
	if err != nil {
		log.Error(err)
	}
	if !allowed {
		fail(ctx, http.StatusTooManyRequests, 4290, "Too many connect attempts")
		return
	}
	go func() {
		if err := s.store.Connect(s.baseCtx); err != nil {
			log.Warnf("wallet - connect: %v", err)
		}
	}()
	ctx.JSON(http.StatusAccepted, s.view())
}

func (s *Server) disconnect(ctx *gin.Context) {
	s.store.Disconnect()
	ctx.JSON(http.StatusOK, s.view())
}

func (s *Server) explorer(ctx *gin.Context) {
	v := s.view()
	if v.ExplorerURL == "" {
		fail(ctx, http.StatusNotFound, 4040, "Wallet not connected")
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"url": v.ExplorerURL})
}

func (s *Server) pairingQRCode(ctx *gin.Context) {
	pairer, ok := s.store.Service().Pairer()
	if !ok {
		fail(ctx, http.StatusNotFound, 4041, "Pairing not supported by the wallet provider")
		return
	}
	png, err := pairer.PairingQRCode()
	if err != nil {
		log.Error(err)
		fail(ctx, http.StatusInternalServerError, 5001, "Failed to render pairing code")
		return
	}
	ctx.Data(http.StatusOK, "image/png", png)
}

func (s *Server) events(ctx *gin.Context) {
	err := s.hub.ServeWS(ctx.Writer, ctx.Request)
	if errors.Is(err, ErrTooManyClients) {
		fail(ctx, http.StatusServiceUnavailable, 5030, err.Error())
		return
	}
	if err != nil {
		// upgrader 已经写入了错误响应
		log.Warn(err)
	}
}

func (s *Server) listProperties(ctx *gin.Context) {
	if ctx.Query("featured") == "true" {
		ctx.JSON(http.StatusOK, listing.Featured())
		return
	}
	ctx.JSON(http.StatusOK, listing.All())
}

func (s *Server) getProperty(ctx *gin.Context) {
	p, ok := listing.Get(ctx.Param("id"))
	if !ok {
		fail(ctx, http.StatusNotFound, 4042, "Property not found")
		return
	}
	ctx.JSON(http.StatusOK, p)
}

func walletAddress(ctx *gin.Context) string {
	return meta.WalletAddress(ctx.Request.Context())
}

func (s *Server) favoriteProperties(ctx *gin.Context) ([]listing.Property, bool) {
	ids, err := s.favorites.List(ctx.Request.Context(), walletAddress(ctx))
	if err != nil {
		log.Error(err)
		fail(ctx, http.StatusInternalServerError, 5002, "Failed to load favorites")
		return nil, false
	}
	return listing.ByIDs(ids), true
}

func (s *Server) dashboard(ctx *gin.Context) {
	favorites, ok := s.favoriteProperties(ctx)
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"wallet":    s.view(),
		"favorites": favorites,
		"featured":  listing.Featured(),
	})
}

func (s *Server) listFavorites(ctx *gin.Context) {
	favorites, ok := s.favoriteProperties(ctx)
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, favorites)
}

func (s *Server) addFavorite(ctx *gin.Context) {
	id := ctx.Param("id")
	if _, ok := listing.Get(id); !ok {
		fail(ctx, http.StatusNotFound, 4042, "Property not found")
		return
	}
	if err := s.favorites.Add(ctx.Request.Context(), walletAddress(ctx), id); err != nil {
		log.Error(err)
		fail(ctx, http.StatusInternalServerError, 5003, "Failed to save favorite")
		return
	}
	s.listFavorites(ctx)
}

func (s *Server) removeFavorite(ctx *gin.Context) {
	if err := s.favorites.Remove(ctx.Request.Context(), walletAddress(ctx), ctx.Param("id")); err != nil {
		log.Error(err)
		fail(ctx, http.StatusInternalServerError, 5004, "Failed to remove favorite")
		return
	}
	s.listFavorites(ctx)
}
