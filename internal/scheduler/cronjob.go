package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sethgrid/pester"
	"go.uber.org/zap"

	"github.com/lvdashuaibi/electvote/config"
	"github.com/lvdashuaibi/electvote/internal/httpclient"
)

// cron-job.org 接口的错误码说明
var statusText = map[int]string{
	http.StatusBadRequest:          "Invalid request / input data",
	http.StatusUnauthorized:        "Invalid API key",
	http.StatusForbidden:           "API key cannot be used from this origin",
	http.StatusNotFound:            "Resource not found",
	http.StatusConflict:            "Conflict",
	http.StatusTooManyRequests:     "Quota or rate limit exceeded",
	http.StatusInternalServerError: "Internal server error",
}

// Schedule cron-job.org 的执行计划
type Schedule struct {
	Timezone  string `json:"timezone"`
	ExpiresAt int64  `json:"expiresAt"`
	Hours     []int  `json:"hours"`
	MDays     []int  `json:"mdays"`
	Minutes   []int  `json:"minutes"`
	Months    []int  `json:"months"`
	WDays     []int  `json:"wdays"`
}

// cron-job.org 的 requestMethod 取值
var requestMethods = map[string]int{
	http.MethodGet:     0,
	http.MethodPost:    1,
	http.MethodOptions: 2,
	http.MethodHead:    3,
	http.MethodPut:     4,
	http.MethodDelete:  5,
	http.MethodTrace:   6,
	http.MethodConnect: 7,
	http.MethodPatch:   8,
}

type extendedData struct {
	Headers map[string]string `json:"headers,omitempty"`
}

type job struct {
	Enabled       bool         `json:"enabled"`
	Title         string       `json:"title"`
	SaveResponses bool         `json:"saveResponses"`
	URL           string       `json:"url"`
	RequestMethod int          `json:"requestMethod"`
	Schedule      Schedule     `json:"schedule"`
	ExtendedData  extendedData `json:"extendedData"`
}

type createJobResponse struct {
	JobID int64 `json:"jobId"`
}

// CronJobClient cron-job.org REST客户端
type CronJobClient struct {
	baseURL string
	apiKey  string
	client  *pester.Client
	logger  *zap.Logger
}

func NewCronJobClient(cfg config.SchedulerConfig, logger *zap.Logger) *CronJobClient {
	return &CronJobClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client: httpclient.New(httpclient.Options{
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.RetryMax,
			Logger:     logger,
		}),
		logger: logger,
	}
}

// DateToSchedule 转换为在t所在分钟执行一次的计划，t之后10分钟过期
func DateToSchedule(t time.Time) Schedule {
	t = t.UTC()
	expiry := t.Add(10 * time.Minute)
	expiresAt, _ := strconv.ParseInt(expiry.Format("20060102150405"), 10, 64)
	return Schedule{
		Timezone:  "UTC",
		ExpiresAt: expiresAt,
		Hours:     []int{t.Hour()},
		MDays:     []int{t.Day()},
		Minutes:   []int{t.Minute()},
		Months:    []int{int(t.Month())},
		WDays:     []int{-1},
	}
}

func (c *CronJobClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("序列化请求失败: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("请求定时服务失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, ok := statusText[resp.StatusCode]
		if !ok {
			msg = "Unknown error"
		}
		return fmt.Errorf("定时服务返回 %d: %s", resp.StatusCode, msg)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("解析定时服务响应失败: %w", err)
		}
	}
	return nil
}

// ScheduleTrigger 创建定时任务，返回任务id
func (c *CronJobClient) ScheduleTrigger(ctx context.Context, t Trigger) (string, error) {
	method := t.Method
	if method == "" {
		method = http.MethodGet
	}
	code, ok := requestMethods[method]
	if !ok {
		return "", fmt.Errorf("不支持的回调方法 %q", t.Method)
	}

	payload := map[string]job{
		"job": {
			Enabled:       true,
			Title:         t.Title,
			SaveResponses: true,
			URL:           t.CallbackURL,
			RequestMethod: code,
			Schedule:      DateToSchedule(t.When),
			ExtendedData:  extendedData{Headers: t.Headers},
		},
	}

	var resp createJobResponse
	if err := c.do(ctx, http.MethodPut, "/jobs", payload, &resp); err != nil {
		return "", err
	}

	id := strconv.FormatInt(resp.JobID, 10)
	c.logger.Info("已创建定时任务", zap.String("jobId", id), zap.String("title", t.Title), zap.Time("when", t.When))
	return id, nil
}

// CancelTrigger 删除定时任务
func (c *CronJobClient) CancelTrigger(ctx context.Context, triggerID string) error {
	return c.do(ctx, http.MethodDelete, "/jobs/"+triggerID, nil, nil)
}
