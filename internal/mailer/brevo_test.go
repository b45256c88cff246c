package mailer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lvdashuaibi/electvote/config"
)

func TestBrevoSend(t *testing.T) {
	var got sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/smtp/email", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"messageId":"<abc@smtp>"}`))
	}))
	defer srv.Close()

	s := NewBrevoSender(config.EmailConfig{BaseURL: srv.URL, APIKey: "secret", SenderEmail: "aec@x.com", SenderName: "AEC", Timeout: time.Second, RetryMax: 1}, zap.NewNop())
	err := s.SendTemplatedEmail(context.Background(), "v1@x.com", 1, map[string]string{"link": "http://f/vote?token=t"})
	require.NoError(t, err)

	assert.Equal(t, int64(1), got.TemplateID)
	assert.Equal(t, []contact{{Email: "v1@x.com"}}, got.To)
	assert.Equal(t, "aec@x.com", got.Sender.Email)
	assert.Equal(t, "http://f/vote?token=t", got.Params["link"])
}

func TestBrevoSendRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":"invalid_parameter","message":"templateId is invalid"}`))
	}))
	defer srv.Close()

	s := NewBrevoSender(config.EmailConfig{BaseURL: srv.URL, Timeout: time.Second, RetryMax: 1}, zap.NewNop())
	err := s.SendTemplatedEmail(context.Background(), "v1@x.com", 99, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "templateId is invalid")
}

func TestLogSenderNeverFails(t *testing.T) {
	s := NewLogSender(zap.NewNop())
	assert.NoError(t, s.SendTemplatedEmail(context.Background(), "v1@x.com", 1, map[string]string{"endDate": "x"}))
}
