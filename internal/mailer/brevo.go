package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sethgrid/pester"
	"go.uber.org/zap"

	"github.com/lvdashuaibi/electvote/config"
	"github.com/lvdashuaibi/electvote/internal/httpclient"
)

// Sender 发送模板邮件
type Sender interface {
	SendTemplatedEmail(ctx context.Context, to string, templateID int64, params map[string]string) error
}

type contact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendRequest struct {
	Sender     *contact          `json:"sender,omitempty"`
	To         []contact         `json:"to"`
	TemplateID int64             `json:"templateId"`
	Params     map[string]string `json:"params,omitempty"`
}

// BrevoSender 通过Brevo事务邮件接口发送
type BrevoSender struct {
	baseURL string
	apiKey  string
	sender  *contact
	client  *pester.Client
	logger  *zap.Logger
}

func NewBrevoSender(cfg config.EmailConfig, logger *zap.Logger) *BrevoSender {
	s := &BrevoSender{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client: httpclient.New(httpclient.Options{
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.RetryMax,
			Logger:     logger,
		}),
		logger: logger,
	}
	if cfg.SenderEmail != "" {
		s.sender = &contact{Email: cfg.SenderEmail, Name: cfg.SenderName}
	}
	return s
}

func (s *BrevoSender) SendTemplatedEmail(ctx context.Context, to string, templateID int64, params map[string]string) error {
	body, err := json.Marshal(sendRequest{
		Sender:     s.sender,
		To:         []contact{{Email: to}},
		TemplateID: templateID,
		Params:     params,
	})
	if err != nil {
		return fmt.Errorf("序列化邮件请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v3/smtp/email", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("创建邮件请求失败: %w", err)
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("content-type", "application/json")
	req.Header.Set("api-key", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送邮件失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("邮件服务返回 %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	s.logger.Debug("邮件已发送", zap.String("to", to), zap.Int64("templateId", templateID))
	return nil
}
