package scheduler

import (
	"context"
	"errors"
	"time"
)

// ErrDisabled 未配置外部定时服务
var ErrDisabled = errors.New("scheduler disabled")

// Trigger 一次定时回调
type Trigger struct {
	Title       string
	CallbackURL string
	// Method 回调使用的HTTP方法，为空时使用GET
	Method      string
	Headers     map[string]string
	When        time.Time
}

// Scheduler 外部定时触发服务
type Scheduler interface {
	ScheduleTrigger(ctx context.Context, t Trigger) (string, error)
	CancelTrigger(ctx context.Context, triggerID string) error
}

// Disabled 总是返回ErrDisabled
type Disabled struct{}

func (Disabled) ScheduleTrigger(ctx context.Context, t Trigger) (string, error) {
	return "", ErrDisabled
}

func (Disabled) CancelTrigger(ctx context.Context, triggerID string) error {
	return ErrDisabled
}
