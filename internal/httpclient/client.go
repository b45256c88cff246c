package httpclient

import (
	"time"

	"github.com/sethgrid/pester"
	"go.uber.org/zap"
)

// Options 出站HTTP客户端参数
type Options struct {
	Timeout    time.Duration
	MaxRetries int
	// Backoff 为空时使用带抖动的指数退避
	Backoff pester.BackoffStrategy
	Logger  *zap.Logger
}

// New 创建带重试的HTTP客户端，5xx、429和网络错误会重试，重试记录写入日志
func New(opts Options) *pester.Client {
	c := pester.New()
	c.Timeout = opts.Timeout
	c.MaxRetries = opts.MaxRetries
	if c.MaxRetries < 1 {
		c.MaxRetries = 1
	}
	c.RetryOnHTTP429 = true
	c.Backoff = pester.ExponentialJitterBackoff
	if opts.Backoff != nil {
		c.Backoff = opts.Backoff
	}
	if opts.Logger != nil {
		logger := opts.Logger
		c.LogHook = func(e pester.ErrEntry) {
			logger.Warn("HTTP请求失败，准备重试",
				zap.String("method", e.Method),
				zap.String("url", e.URL),
				zap.Int("attempt", e.Attempt),
				zap.Error(e.Err))
		}
	}
	return c
}
