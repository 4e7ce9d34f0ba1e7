package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"moff.io/moff-estate/internal/cache"
	"moff.io/moff-estate/internal/config"
	"moff.io/moff-estate/internal/databus"
	"moff.io/moff-estate/internal/ethrpc"
	"moff.io/moff-estate/internal/http"
	"moff.io/moff-estate/internal/session"
	"moff.io/moff-estate/internal/starter"
	"moff.io/moff-estate/internal/wallet"
	"moff.io/moff-estate/internal/walletconnect"
	"moff.io/moff-estate/pkg/errors"
	"moff.io/moff-estate/pkg/log"
)

func main() {
	log.Infof("Starting app")
	startApp()
}

func startApp() {
	defer func() {
		if i := recover(); i != nil {
			log.Fatal(errors.ErrorfAndReport("%v", i))
		}
	}()
	config.Read()
	conf := config.Global
	log.SetLevel(conf.LogLevel)
	setupReporters(conf)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := http.NewHub()
	provider, closeProvider := newProvider(ctx, &conf.Wallet, hub)
	defer closeProvider()

	svc := wallet.NewService(provider,
		wallet.WithNavigator(hub),
		wallet.WithDownloadURL(conf.Wallet.DownloadURL),
		wallet.WithGuidanceURL(conf.Wallet.GuidanceURL),
	)
	store := session.NewStore(svc)
	hub.Bind(store)

	var favorites cache.Favorites
	if conf.RedisCredential.Enabled() {
		cache.Init(&conf.RedisCredential)
		defer cache.Close()
		favorites = cache.NewRedisFavorites(cache.Redis)
	} else {
		log.Info("redis not configured, favorites kept in memory")
		favorites = cache.NewMemoryFavorites()
	}

	// hub 与 publisher 先于 store 启动，被动检查得到的连接状态会被推送和发布
	components := []starter.Startable{hub}
	if conf.KafkaServer != "" {
		if err := databus.InitDataBus(conf.KafkaServer); err != nil {
			log.Error(errors.WrapAndReport(err, "init databus"))
		} else {
			defer databus.GetDataBus().Close()
			components = append(components, databus.NewSessionPublisher(store, databus.GetDataBus()))
		}
	}
	components = append(components, store)
	components = append(components, http.NewServer(store, hub, favorites))

	starter.Start(ctx, components...)
	<-ctx.Done()
	log.Info("Shutting down")
	starter.Stop(components...)
}

func setupReporters(conf *config.Configuration) {
	errors.SetReportTitle(conf.ReportTitle)
	if conf.SentryDSN != "" {
		if err := errors.NewSentryReporter(conf.SentryDSN); err != nil {
			log.Error(err)
		}
	}
	if conf.LarkAlarmWebhook != "" {
		errors.NewLarkReporter(conf.LarkAlarmWebhook, conf.ReportSilence)
	}
	if conf.DingTalk.Webhook != "" {
		errors.NewDingTalkReporter(conf.DingTalk.Webhook, conf.DingTalk.Secret, conf.ReportSilence)
	}
}

// newProvider returns a nil interface when no wallet is reachable, so the
// service reports it as not installed.
func newProvider(ctx context.Context, conf *config.Wallet, hub *http.Hub) (wallet.Provider, func()) {
	switch conf.Provider {
	case config.ProviderRPC:
		p, err := ethrpc.Dial(ctx, conf.RPCURL, conf.AssumeMetaMask)
		if err != nil {
			log.Warnf("wallet - rpc provider unavailable: %v", err)
			return nil, func() {}
		}
		return p, p.Close
	case config.ProviderWalletConnect:
		c, err := walletconnect.NewClient(walletconnect.Config{
			BridgeURL: conf.BridgeURL,
			MetaMask:  conf.AssumeMetaMask,
			Meta: walletconnect.ClientMeta{
				Name:        conf.ClientMeta.Name,
				Description: conf.ClientMeta.Description,
				URL:         conf.ClientMeta.URL,
				Icons:       conf.ClientMeta.Icons,
			},
			OnDisplayURI: hub.Open,
		})
		if err != nil {
			log.Error(errors.WrapAndReport(err, "walletconnect client"))
			return nil, func() {}
		}
		return c, c.Close
	default:
		return nil, func() {}
	}
}
