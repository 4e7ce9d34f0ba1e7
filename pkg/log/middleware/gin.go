package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"moff.io/moff-estate/pkg/errors"
	"moff.io/moff-estate/pkg/log"
	"moff.io/moff-estate/pkg/log/meta"
)

const HeaderRequestID = "x-request-id"

// Custom response writer to record handler response body.
type responseBodyWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

// Write writes response message into response body and the connection.
func (r responseBodyWriter) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

type httpInfo struct {
	Headers       map[string]string      `json:"headers"`
	Method        string                 `json:"method"`
	RequestAPI    string                 `json:"request_api,omitempty"`
	RemoteAddr    string                 `json:"remote_addr,omitempty"`
	Meta          map[string]interface{} `json:"meta,omitempty"`
	Response      *response              `json:"response,omitempty"`
	ExecutionTime string                 `json:"execution_time,omitempty"`
}

func newHTTPInfo(ctx *gin.Context) *httpInfo {
	return &httpInfo{
		Headers:    requestHeaderFilter(ctx.Request.Header),
		Method:     ctx.Request.Method,
		RequestAPI: ctx.Request.RequestURI,
		RemoteAddr: ctx.ClientIP(),
		Meta:       meta.Fields(ctx.Request.Context()),
	}
}

func (i *httpInfo) String() string {
	raw, err := json.Marshal(i)
	if err != nil {
		return fmt.Sprintf("%v %v", i.Method, i.RequestAPI)
	}
	return string(raw)
}

// RecoveredHTTPLog gin框架请求日志拦截器，拦截请求与响应，打印日志
func RecoveredHTTPLog() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		// 启用日志元信息
		rctx := meta.Begin(ctx.Request.Context())
		ctx.Request = ctx.Request.WithContext(rctx)
		requestID := ctx.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		meta.WithValue(rctx, meta.KeyRequestID, requestID)
		ctx.Header(HeaderRequestID, requestID)

		// 自定义writer，抓取响应
		w := &responseBodyWriter{body: &bytes.Buffer{}, ResponseWriter: ctx.Writer}
		ctx.Writer = w

		start := time.Now()
		defer func() {
			r := recover()
			if r != nil {
				err := errors.ErrorfAndReportContext(rctx, "%v", r)
				log.Error(err)
			}
			logHTTP(ctx, w, start, r != nil)
		}()
		ctx.Next()
	}
}

const defaultRequestTimeout = time.Second * 60

// TimeoutHTTP HTTP超时拦截器
func TimeoutHTTP(timeout ...time.Duration) gin.HandlerFunc {
	d := defaultRequestTimeout
	if len(timeout) != 0 && timeout[0] > 0 {
		d = timeout[0]
	}
	return func(ctx *gin.Context) {
		timeoutCtx, cancelFunc := context.WithTimeout(ctx.Request.Context(), d)
		defer cancelFunc()
		ctx.Request = ctx.Request.WithContext(timeoutCtx)
		ctx.Next()
	}
}

// 根据响应状态，打印http日志
func logHTTP(ctx *gin.Context, w *responseBodyWriter, start time.Time, panicked bool) {
	if !ctx.Writer.Written() {
		// 只设置了状态码没有正文，如非 GET 请求的重定向，补发响应头
		if !panicked && ctx.Writer.Status() != http.StatusOK {
			ctx.Writer.WriteHeaderNow()
		} else {
			// 如果没有写入响应则写入内部错误
			ctx.JSON(http.StatusInternalServerError, map[string]interface{}{
				"code": 5000,
				"msg":  "Server internal error",
			})
		}
	}

	s := w.Status()
	info := newHTTPInfo(ctx)
	info.Response = decodeHandlerResponse(w.body.Bytes(), s)
	info.ExecutionTime = fmt.Sprintf("%vms", time.Since(start).Milliseconds())
	switch {
	case s < http.StatusBadRequest:
		log.Info(info.String())
	case s >= http.StatusInternalServerError:
		log.Error(info.String())
	default:
		log.Warn(info.String())
	}
}

type response struct {
	//ProtocolCode is the response protocol status code
	ProtocolCode int `json:"protocol_code"`
	//Code is the response business code.
	Code interface{} `json:"code,omitempty"`
	//Message is the response message.
	Message interface{} `json:"msg,omitempty"`
}

func decodeHandlerResponse(respBody []byte, httpCode int) *response {
	var resp response
	_ = json.Unmarshal(respBody, &resp)
	resp.ProtocolCode = httpCode
	return &resp
}

var excludedHeaders = map[string]bool{
	"token":         true,
	"access-token":  true,
	"authorization": true,
	"cookie":        true,
}

func requestHeaderFilter(headers map[string][]string) map[string]string {
	filtered := make(map[string]string)
	for k, v := range headers {
		k = strings.ToLower(k)
		if excludedHeaders[k] {
			continue
		}
		filtered[k] = strings.Join(v, ";")
	}
	return filtered
}
