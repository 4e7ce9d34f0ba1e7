package reporter

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const sendTimeout = 5 * time.Second

// DingTalkRobot 钉钉自定义机器人，只保留告警用到的文本与markdown消息
type DingTalkRobot interface {
	SendText(content string, atMobiles []string, isAtAll bool) error
	SendMarkdown(title, text string, atMobiles []string, isAtAll bool) error
	WithSecret(secret string) DingTalkRobot
}

type dingTalkRobot struct {
	webHook string
	secret  string
	client  *http.Client
}

func NewDingTalkRobot(webHook string) DingTalkRobot {
	return &dingTalkRobot{
		webHook: webHook,
		client:  &http.Client{Timeout: sendTimeout},
	}
}

// WithSecret 开启加签，请求时附带 timestamp 与 sign
func (r *dingTalkRobot) WithSecret(secret string) DingTalkRobot {
	r.secret = secret
	return r
}

func (r *dingTalkRobot) SendText(content string, atMobiles []string, isAtAll bool) error {
	return r.send(&textMessage{
		MsgType: msgTypeText,
		Text:    textParams{Content: content},
		At:      atParams{AtMobiles: atMobiles, IsAtAll: isAtAll},
	})
}

func (r *dingTalkRobot) SendMarkdown(title, text string, atMobiles []string, isAtAll bool) error {
	return r.send(&markdownMessage{
		MsgType:  msgTypeMarkdown,
		Markdown: markdownParams{Title: title, Text: text},
		At:       atParams{AtMobiles: atMobiles, IsAtAll: isAtAll},
	})
}

func (r *dingTalkRobot) send(msg interface{}) error {
	m, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	webURL := r.webHook
	if r.secret != "" {
		webURL += signQuery(r.secret, time.Now())
	}
	resp, err := r.client.Post(webURL, "application/json", bytes.NewReader(m))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var dr dingResponse
	if err := json.Unmarshal(data, &dr); err != nil {
		return fmt.Errorf("dingrobot decode response (status %d): %w", resp.StatusCode, err)
	}
	if dr.Errcode != 0 {
		return fmt.Errorf("dingrobot send failed: %v", dr.Errmsg)
	}
	return nil
}

func signQuery(secret string, now time.Time) string {
	timeStr := fmt.Sprintf("%d", now.UnixMilli())
	sign := hmacSha256Base64(fmt.Sprintf("%s\n%s", timeStr, secret), secret)
	return fmt.Sprintf("&timestamp=%s&sign=%s", timeStr, url.QueryEscape(sign))
}

func hmacSha256Base64(message, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
