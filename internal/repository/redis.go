package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/lvdashuaibi/electvote/config"
	"github.com/lvdashuaibi/electvote/internal/model"
)

const (
	// Redis键前缀
	CandidateKey = "electvote:candidate:"
	VoterKey     = "electvote:voter:"
	VotedKey     = "electvote:voted:"
)

// RedisRepository 候选人/选民缓存及已投票标记
type RedisRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRepository(ctx context.Context, cfg config.RedisConfig) (*RedisRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.DataAddress,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	// 测试连接
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("Redis数据节点连接测试失败: %w", err)
	}

	return NewRedisRepositoryWithClient(client, cfg.CacheTTL), nil
}

func NewRedisRepositoryWithClient(client *redis.Client, ttl time.Duration) *RedisRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisRepository{client: client, ttl: ttl}
}

func (r *RedisRepository) getJSON(ctx context.Context, key string, v interface{}) (bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil // 缓存未命中
		}
		return false, fmt.Errorf("读取缓存 %s 失败: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("解析缓存 %s 失败: %w", key, err)
	}
	return true, nil
}

func (r *RedisRepository) setJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("序列化缓存 %s 失败: %w", key, err)
	}
	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("写入缓存 %s 失败: %w", key, err)
	}
	return nil
}

func (r *RedisRepository) del(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("删除缓存 %s 失败: %w", key, err)
	}
	return nil
}

// GetCandidate 从缓存获取候选人
func (r *RedisRepository) GetCandidate(ctx context.Context, id string) (*model.Candidate, bool, error) {
	var c model.Candidate
	found, err := r.getJSON(ctx, CandidateKey+id, &c)
	if !found || err != nil {
		return nil, false, err
	}
	return &c, true, nil
}

func (r *RedisRepository) SetCandidate(ctx context.Context, c *model.Candidate) error {
	return r.setJSON(ctx, CandidateKey+c.ID, c)
}

func (r *RedisRepository) DeleteCandidateCache(ctx context.Context, id string) error {
	return r.del(ctx, CandidateKey+id)
}

// GetVoter 从缓存获取选民
func (r *RedisRepository) GetVoter(ctx context.Context, id string) (*model.Voter, bool, error) {
	var v model.Voter
	found, err := r.getJSON(ctx, VoterKey+id, &v)
	if !found || err != nil {
		return nil, false, err
	}
	return &v, true, nil
}

func (r *RedisRepository) SetVoter(ctx context.Context, v *model.Voter) error {
	return r.setJSON(ctx, VoterKey+v.ID, v)
}

func (r *RedisRepository) DeleteVoterCache(ctx context.Context, id string) error {
	return r.del(ctx, VoterKey+id)
}

// MarkVoted 记录选民已在该选举中投票，只缓存肯定结果
func (r *RedisRepository) MarkVoted(ctx context.Context, electionID, voterID string) error {
	if err := r.client.Set(ctx, VotedKey+electionID+":"+voterID, 1, r.ttl).Err(); err != nil {
		return fmt.Errorf("写入投票标记失败: %w", err)
	}
	return nil
}

func (r *RedisRepository) HasVotedMark(ctx context.Context, electionID, voterID string) (bool, error) {
	n, err := r.client.Exists(ctx, VotedKey+electionID+":"+voterID).Result()
	if err != nil {
		return false, fmt.Errorf("读取投票标记失败: %w", err)
	}
	return n > 0, nil
}

// Close 关闭Redis连接
func (r *RedisRepository) Close() error {
	return r.client.Close()
}
