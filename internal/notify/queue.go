package notify

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lvdashuaibi/electvote/internal/mailer"
	"github.com/lvdashuaibi/electvote/internal/model"
)

// EmailQueue 接收待发送的邮件任务
type EmailQueue interface {
	Enqueue(ctx context.Context, jobs []*model.EmailJob) error
}

// JobPublisher 由kafka.Producer实现
type JobPublisher interface {
	SendEmailJob(ctx context.Context, job *model.EmailJob) error
}

// deliverConcurrency 直接发送时的并发上限
const deliverConcurrency = 8

// DirectQueue 在请求内直接调用邮件服务发送
type DirectQueue struct {
	sender mailer.Sender
	logger *zap.Logger
}

func NewDirectQueue(sender mailer.Sender, logger *zap.Logger) *DirectQueue {
	return &DirectQueue{sender: sender, logger: logger}
}

// Enqueue 并发发送全部邮件，单封失败不影响其他邮件，最后汇总错误
func (q *DirectQueue) Enqueue(ctx context.Context, jobs []*model.EmailJob) error {
	errs := make([]error, len(jobs))

	var g errgroup.Group
	g.SetLimit(deliverConcurrency)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			if err := q.sender.SendTemplatedEmail(ctx, job.To, job.TemplateID, job.Params); err != nil {
				q.logger.Error("发送邮件失败", zap.String("to", job.To), zap.Int64("templateId", job.TemplateID), zap.Error(err))
				errs[i] = fmt.Errorf("发送邮件到 %s 失败: %w", job.To, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return multierr.Combine(errs...)
}

// KafkaQueue 把邮件任务写入Kafka，由消费者异步发送
type KafkaQueue struct {
	publisher JobPublisher
	logger    *zap.Logger
}

func NewKafkaQueue(publisher JobPublisher, logger *zap.Logger) *KafkaQueue {
	return &KafkaQueue{publisher: publisher, logger: logger}
}

func (q *KafkaQueue) Enqueue(ctx context.Context, jobs []*model.EmailJob) error {
	var err error
	for _, job := range jobs {
		err = multierr.Append(err, q.publisher.SendEmailJob(ctx, job))
	}
	if err != nil {
		return err
	}
	q.logger.Info("邮件任务已写入Kafka", zap.Int("count", len(jobs)))
	return nil
}

// Deliver 返回消费者使用的邮件任务处理函数
func Deliver(sender mailer.Sender) func(ctx context.Context, job *model.EmailJob) error {
	return func(ctx context.Context, job *model.EmailJob) error {
		return sender.SendTemplatedEmail(ctx, job.To, job.TemplateID, job.Params)
	}
}
