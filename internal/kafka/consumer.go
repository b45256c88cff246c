package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/lvdashuaibi/electvote/config"
	"github.com/lvdashuaibi/electvote/internal/model"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EmailJobHandler 处理一条邮件任务
type EmailJobHandler func(ctx context.Context, job *model.EmailJob) error

// Consumer 消费者组内的多个工作线程并发消费邮件任务
type Consumer struct {
	readers []messageReader
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	// 读取失败后的等待时间
	retryDelay time.Duration
}

func NewConsumer(cfg config.KafkaConfig, logger *zap.Logger) *Consumer {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}

	// 同一GroupID下的多个reader由Kafka分配分区
	readers := make([]messageReader, 0, workers)
	for i := 0; i < workers; i++ {
		readers = append(readers, kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       cfg.EmailTopic,
			GroupID:     cfg.GroupID,
			MinBytes:    1,
			MaxBytes:    10e6, // 10MB
			ErrorLogger: kafka.LoggerFunc(logger.Sugar().Errorf),
		}))
	}

	logger.Info("创建Kafka消费者", zap.String("topic", cfg.EmailTopic), zap.String("groupId", cfg.GroupID), zap.Int("workers", workers))
	return newConsumer(readers, logger)
}

func newConsumer(readers []messageReader, logger *zap.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		readers:    readers,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		retryDelay: time.Second,
	}
}

// StartConsuming 开始消费消息，每个reader一个goroutine
func (c *Consumer) StartConsuming(handler EmailJobHandler) {
	for i, reader := range c.readers {
		c.wg.Add(1)
		go func(workerID int, r messageReader) {
			defer c.wg.Done()
			c.consumeMessages(workerID, r, handler)
		}(i, reader)
	}

	c.logger.Info("已启动Kafka消费者工作线程", zap.Int("workers", len(c.readers)))
}

// consumeMessages 单个消费者goroutine的消费逻辑，处理完成后提交偏移量
func (c *Consumer) consumeMessages(workerID int, reader messageReader, handler EmailJobHandler) {
	logger := c.logger.With(zap.Int("worker", workerID))

	for {
		m, err := reader.FetchMessage(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			logger.Warn("读取消息失败", zap.Error(err))
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(c.retryDelay):
			}
			continue
		}

		var job model.EmailJob
		if err := json.Unmarshal(m.Value, &job); err != nil {
			// 无法解析的消息直接提交，避免阻塞分区
			logger.Error("解析邮件任务失败", zap.Int64("offset", m.Offset), zap.Error(err))
		} else if err := handler(c.ctx, &job); err != nil {
			logger.Error("处理邮件任务失败", zap.String("to", job.To), zap.Int64("templateId", job.TemplateID), zap.Error(err))
		}

		if err := reader.CommitMessages(c.ctx, m); err != nil && c.ctx.Err() == nil {
			logger.Warn("提交偏移量失败", zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}

// Stop 停止消费并关闭所有reader
func (c *Consumer) Stop() error {
	c.cancel()
	c.wg.Wait()

	var err error
	for _, reader := range c.readers {
		err = multierr.Append(err, reader.Close())
	}

	c.logger.Info("所有Kafka消费者工作线程已停止")
	return err
}
