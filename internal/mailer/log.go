package mailer

import (
	"context"

	"go.uber.org/zap"
)

// LogSender 未启用邮件服务时只记录日志
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) SendTemplatedEmail(ctx context.Context, to string, templateID int64, params map[string]string) error {
	s.logger.Info("邮件服务未启用，跳过发送",
		zap.String("to", to),
		zap.Int64("templateId", templateID),
		zap.Int("params", len(params)))
	return nil
}
