package errors

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/certifi/gocertifi"
	"github.com/getsentry/sentry-go"

	"moff.io/moff-estate/pkg/errors/reporter"
	"moff.io/moff-estate/pkg/log"
	"moff.io/moff-estate/pkg/log/meta"
)

// 设置该变量，则不会上报
const debugMode = "DEBUG"

const (
	defaultSilence = time.Minute
	defaultTitle   = "moff-estate error"
)

var (
	mu          sync.RWMutex
	reporters   []Reporter
	reportTitle = defaultTitle
)

func init() {
	if os.Getenv(debugMode) == "" {
		log.Info("Env DEBUG not set, report errors enabled.")
	} else {
		log.Info("Env DEBUG set, report errors disabled.")
	}
}

// Reporter 错误报告器。fields 来自请求上下文的元信息，如 request_id、wallet_address
type Reporter interface {
	Report(err error, fields map[string]interface{})
}

// SetReportTitle 设置告警标题，一般为服务名
func SetReportTitle(title string) {
	if title == "" {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	reportTitle = title
}

func title() string {
	mu.RLock()
	defer mu.RUnlock()
	return reportTitle
}

func addReporter(r Reporter) {
	mu.Lock()
	defer mu.Unlock()
	reporters = append(reporters, r)
}

func report(ctx context.Context, err error) {
	if err == nil || os.Getenv(debugMode) != "" {
		return
	}
	mu.RLock()
	rs := reporters
	mu.RUnlock()
	if len(rs) == 0 {
		return
	}
	var fields map[string]interface{}
	if ctx != nil {
		fields = meta.Fields(ctx)
	}
	for _, r := range rs {
		r.Report(err, fields)
	}
}

// reportLines 渲染告警正文，lark 与钉钉共用
func reportLines(err error, fields map[string]interface{}, stats errorStats, stacks []string) []string {
	lines := []string{
		fmt.Sprintf("Last Report: %v", formatReportTime(stats.lastReportTime)),
		fmt.Sprintf("Error Count Since Last Report: %v", stats.occurCountSinceLastReport),
		fmt.Sprintf("Message: %v", err.Error()),
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %v", k, fields[k]))
	}
	lines = append(lines, "Stacks:")
	for _, s := range stacks {
		lines = append(lines, "    "+s)
	}
	return lines
}

func formatReportTime(t *time.Time) string {
	if t == nil {
		return "none"
	}
	return t.Format("2006.01.02 15:04")
}

type sentryReporter struct{}

func (s *sentryReporter) Report(err error, fields map[string]interface{}) {
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range fields {
			scope.SetTag(k, fmt.Sprint(v))
		}
		sentry.CaptureException(err)
	})
}

// NewSentryReporter
// 初始化错误sentry报告器
// 环境变量DEBUG不为空时，不会产生错误上报
func NewSentryReporter(sentryDSN string) error {
	if sentryDSN == "" {
		log.Warn("empty DSN found, skipping sentry reporter initialization.")
		return nil
	}
	rootCAs, err := gocertifi.CACerts()
	if err != nil {
		return Wrap(err, "init sentry CA")
	}
	err = sentry.Init(sentry.ClientOptions{
		Dsn:        sentryDSN,
		CaCerts:    rootCAs,
		ServerName: title(),
	})
	if err != nil {
		return Wrap(err, "init sentry")
	}
	log.Info("sentry error reporter initialized.")
	addReporter(&sentryReporter{})
	return nil
}

type dingTalkRobotReporter struct {
	limiter *rateLimiter
	robot   reporter.DingTalkRobot
}

// NewDingTalkReporter
// 初始化钉钉机器人上报错误至指定的webhook，同一堆栈在 silent 内只上报一次
func NewDingTalkReporter(webhook, secret string, silent time.Duration) {
	if webhook == "" {
		log.Warn("empty dingtalk webhook found, skipping dingtalk reporter initialization.")
		return
	}
	robot := reporter.NewDingTalkRobot(webhook).WithSecret(secret)
	addReporter(&dingTalkRobotReporter{limiter: newRateLimiter(silent), robot: robot})
	log.Info("dingtalk error reporter initialized.")
}

func (r *dingTalkRobotReporter) Report(err error, fields map[string]interface{}) {
	if err == nil {
		return
	}
	stacks := callers().fullStack()
	limited, stats := r.limiter.StackBasedRateLimited(stacks[2])
	if limited {
		return
	}
	t := title()
	text := "### " + t + "\n\n" + strings.Join(reportLines(err, fields, stats, stacks), "\n\n")
	if err := r.robot.SendMarkdown(t, text, nil, true); err != nil {
		log.Info(WithStack(err))
	}
}
