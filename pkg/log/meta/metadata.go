package meta

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// 元信息对象
type metadata struct {
	// 同步map，确保并发安全
	carrier map[interface{}]interface{}
	mu      sync.RWMutex
}

func (c *metadata) Value(key interface{}) interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.carrier[key]
}

func (c *metadata) WithValue(key, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.carrier[key] = value
}

func (c *metadata) fields() logrus.Fields {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fields := make(logrus.Fields, len(c.carrier))
	for k, v := range c.carrier {
		if name, ok := k.(Key); ok {
			fields[string(name)] = v
		}
	}
	return fields
}

type contextKey struct{}

var metaContextKey = contextKey{}

// Key 是写入日志字段的元信息键
type Key string

const (
	KeyRequestID     Key = "request_id"
	KeyWalletAddress Key = "wallet_address"
)

// Begin 开启元信息对象
// 注意：
//  1. 该方法在整个上下文的对象中注入元信息对象，应该在尽量靠近根上下文处调用
//  2. 如父类上下文中已存在元信息对象，则直接返回父类上下文
func Begin(parent context.Context) context.Context {
	value := parent.Value(metaContextKey)
	if value == nil {
		meta := &metadata{
			carrier: make(map[interface{}]interface{}),
		}
		return context.WithValue(parent, metaContextKey, meta)
	}
	return parent
}

// 从父类上下文获取元信息对象
func metadataFrom(parent context.Context) *metadata {
	value := parent.Value(metaContextKey)
	if value == nil {
		logrus.Debug("meta not found from context, should call meta.Begin() first?")
		return nil
	}
	return value.(*metadata)
}

// WithValue 设置键值对至上下文的元信息对象
func WithValue(parent context.Context, key, val interface{}) {
	meta := metadataFrom(parent)
	if meta == nil {
		return
	}
	meta.WithValue(key, val)
}

// Value 从上下文的元信息对象中获取对应key的值
func Value(parent context.Context, key interface{}) interface{} {
	meta := metadataFrom(parent)
	if meta == nil {
		return nil
	}
	return meta.Value(key)
}

// WithWalletAddress 记录当前请求对应的钱包地址
func WithWalletAddress(parent context.Context, address string) {
	if address == "" {
		return
	}
	WithValue(parent, KeyWalletAddress, address)
}

func WalletAddress(parent context.Context) string {
	s, _ := Value(parent, KeyWalletAddress).(string)
	return s
}

// Fields 返回所有 Key 类型的元信息，用于日志字段
func Fields(parent context.Context) logrus.Fields {
	meta := metadataFrom(parent)
	if meta == nil {
		return logrus.Fields{}
	}
	return meta.fields()
}
