package repository

import (
	"context"

	"go.uber.org/zap"

	"github.com/lvdashuaibi/electvote/internal/model"
)

// CachedStore 在Store之上增加Redis旁路缓存，缓存读写失败只记录日志
type CachedStore struct {
	Store
	cache  *RedisRepository
	logger *zap.Logger
}

func NewCachedStore(store Store, cache *RedisRepository, logger *zap.Logger) *CachedStore {
	return &CachedStore{Store: store, cache: cache, logger: logger}
}

func (s *CachedStore) FindCandidateByID(ctx context.Context, id string) (*model.Candidate, bool, error) {
	c, found, err := s.cache.GetCandidate(ctx, id)
	if err != nil {
		s.logger.Warn("读取候选人缓存失败", zap.String("candidateId", id), zap.Error(err))
	} else if found {
		return c, true, nil
	}

	c, found, err = s.Store.FindCandidateByID(ctx, id)
	if err != nil || !found {
		return c, found, err
	}
	if err := s.cache.SetCandidate(ctx, c); err != nil {
		s.logger.Warn("写入候选人缓存失败", zap.String("candidateId", id), zap.Error(err))
	}
	return c, true, nil
}

func (s *CachedStore) UpdateCandidate(ctx context.Context, c *model.Candidate) (bool, error) {
	found, err := s.Store.UpdateCandidate(ctx, c)
	s.evictCandidate(ctx, c.ID)
	return found, err
}

func (s *CachedStore) DeleteCandidate(ctx context.Context, id string) (bool, error) {
	found, err := s.Store.DeleteCandidate(ctx, id)
	s.evictCandidate(ctx, id)
	return found, err
}

func (s *CachedStore) SetPastPosition(ctx context.Context, id string, year int, position string) (bool, error) {
	found, err := s.Store.SetPastPosition(ctx, id, year, position)
	s.evictCandidate(ctx, id)
	return found, err
}

func (s *CachedStore) evictCandidate(ctx context.Context, id string) {
	if err := s.cache.DeleteCandidateCache(ctx, id); err != nil {
		s.logger.Warn("删除候选人缓存失败", zap.String("candidateId", id), zap.Error(err))
	}
}

func (s *CachedStore) FindVoterByID(ctx context.Context, id string) (*model.Voter, bool, error) {
	v, found, err := s.cache.GetVoter(ctx, id)
	if err != nil {
		s.logger.Warn("读取选民缓存失败", zap.String("voterId", id), zap.Error(err))
	} else if found {
		return v, true, nil
	}

	v, found, err = s.Store.FindVoterByID(ctx, id)
	if err != nil || !found {
		return v, found, err
	}
	if err := s.cache.SetVoter(ctx, v); err != nil {
		s.logger.Warn("写入选民缓存失败", zap.String("voterId", id), zap.Error(err))
	}
	return v, true, nil
}

func (s *CachedStore) UpdateVoter(ctx context.Context, v *model.Voter) (bool, error) {
	found, err := s.Store.UpdateVoter(ctx, v)
	s.evictVoter(ctx, v.ID)
	return found, err
}

func (s *CachedStore) DeleteVoter(ctx context.Context, id string) (bool, error) {
	found, err := s.Store.DeleteVoter(ctx, id)
	s.evictVoter(ctx, id)
	return found, err
}

func (s *CachedStore) evictVoter(ctx context.Context, id string) {
	if err := s.cache.DeleteVoterCache(ctx, id); err != nil {
		s.logger.Warn("删除选民缓存失败", zap.String("voterId", id), zap.Error(err))
	}
}

func (s *CachedStore) AppendVote(ctx context.Context, electionID string, v *model.Vote) error {
	if err := s.Store.AppendVote(ctx, electionID, v); err != nil {
		return err
	}
	if err := s.cache.MarkVoted(ctx, electionID, v.VoterID); err != nil {
		s.logger.Warn("写入投票标记失败", zap.String("electionId", electionID), zap.Error(err))
	}
	return nil
}

func (s *CachedStore) HasVoted(ctx context.Context, electionID, voterID string) (bool, error) {
	voted, err := s.cache.HasVotedMark(ctx, electionID, voterID)
	if err != nil {
		s.logger.Warn("读取投票标记失败", zap.String("electionId", electionID), zap.Error(err))
	} else if voted {
		return true, nil
	}
	return s.Store.HasVoted(ctx, electionID, voterID)
}

func (s *CachedStore) Close() error {
	return s.Store.Close()
}
