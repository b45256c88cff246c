package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/lvdashuaibi/electvote/config"
	"github.com/lvdashuaibi/electvote/internal/model"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer 发送投票事件和邮件任务，主题由消息指定
type Producer struct {
	writer     messageWriter
	voteTopic  string
	emailTopic string
	logger     *zap.Logger
}

func NewProducer(cfg config.KafkaConfig, logger *zap.Logger) *Producer {
	// 使用Hash分区器，基于消息Key进行分区路由
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		ErrorLogger:            kafka.LoggerFunc(logger.Sugar().Errorf),
	}
	return newProducer(writer, cfg, logger)
}

func newProducer(w messageWriter, cfg config.KafkaConfig, logger *zap.Logger) *Producer {
	return &Producer{
		writer:     w,
		voteTopic:  cfg.VoteTopic,
		emailTopic: cfg.EmailTopic,
		logger:     logger,
	}
}

func (p *Producer) send(ctx context.Context, topic string, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("发送消息到 %s 失败: %w", topic, err)
	}
	return nil
}

// SendVoteEvent 发送投票事件，以选民id为key保证同一选民的事件有序
func (p *Producer) SendVoteEvent(ctx context.Context, event *model.VoteEvent) error {
	return p.send(ctx, p.voteTopic, event.VoterID, event)
}

// SendEmailJob 发送邮件任务，以收件人为key
func (p *Producer) SendEmailJob(ctx context.Context, job *model.EmailJob) error {
	return p.send(ctx, p.emailTopic, job.To, job)
}

// Close 关闭Kafka生产者
func (p *Producer) Close() error {
	return p.writer.Close()
}
