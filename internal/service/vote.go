package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lvdashuaibi/electvote/internal/apperr"
	"github.com/lvdashuaibi/electvote/internal/model"
	"github.com/lvdashuaibi/electvote/internal/repository"
)

func voteLockName(electionID, voterID string) string {
	return "vote:" + electionID + ":" + voterID
}

// votingElection 返回选民可以投票的最新选举，非成员无论选举状态都拒绝
func (s *ElectionService) votingElection(ctx context.Context, voterID string) (*model.Election, error) {
	e, err := s.latest(ctx)
	if err != nil {
		return nil, err
	}
	if !e.HasVoter(voterID) {
		return nil, apperr.Unauthorized("Cannot participate in this election")
	}
	if !e.IsActive(s.now()) {
		return nil, apperr.NotFound("There is no active election")
	}
	return e, nil
}

// CastVote 投一票，同一选民每个职位只能投一次
func (s *ElectionService) CastVote(ctx context.Context, voterID, candidateID string) (*model.VoteResult, error) {
	e, err := s.votingElection(ctx, voterID)
	if err != nil {
		return nil, err
	}
	return s.cast(ctx, e, voterID, candidateID)
}

// CastVotes 依次为每个候选人投票，候选人级别的失败记录在结果中
func (s *ElectionService) CastVotes(ctx context.Context, voterID string, candidateIDs []string) ([]model.VoteResult, error) {
	e, err := s.votingElection(ctx, voterID)
	if err != nil {
		return nil, err
	}

	results := make([]model.VoteResult, 0, len(candidateIDs))
	for _, candidateID := range candidateIDs {
		res, err := s.cast(ctx, e, voterID, candidateID)
		if err != nil {
			if !apperr.Is(err, apperr.KindNotFound) && !apperr.Is(err, apperr.KindConflict) {
				return nil, err
			}
			res = &model.VoteResult{Message: apperr.Message(err), VoterID: voterID, CandidateID: candidateID}
		}
		results = append(results, *res)
	}
	return results, nil
}

func (s *ElectionService) cast(ctx context.Context, e *model.Election, voterID, candidateID string) (*model.VoteResult, error) {
	if !e.HasCandidate(candidateID) {
		return nil, apperr.NotFound("Candidate not found in this election")
	}
	candidate, err := s.candidates.GetByID(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	position := candidate.CurrentPosition

	release, err := s.acquire(ctx, voteLockName(e.ID, voterID))
	if err != nil {
		return nil, err
	}
	defer release()

	voted, err := s.votedPositions(ctx, e.ID, voterID)
	if err != nil {
		return nil, err
	}
	if voted[position] {
		return nil, apperr.Conflict("You have already voted for this position")
	}

	vote := &model.Vote{
		ID:          uuid.NewString(),
		VoterID:     voterID,
		CandidateID: candidateID,
		Position:    position,
		CastAt:      s.now(),
	}
	if err := s.elections.AppendVote(ctx, e.ID, vote); err != nil {
		if errors.Is(err, repository.ErrDuplicateVote) {
			return nil, apperr.Conflict("You have already voted for this position")
		}
		return nil, apperr.Wrap(err, "append vote")
	}

	s.publish(ctx, e.ID, vote)
	return &model.VoteResult{
		Success:     true,
		Message:     "Vote cast successfully",
		VoterID:     voterID,
		CandidateID: candidateID,
	}, nil
}

// votedPositions 选民已投职位，按候选人当前职位计算，同时包含投票时记录的职位
func (s *ElectionService) votedPositions(ctx context.Context, electionID, voterID string) (map[string]bool, error) {
	votes, err := s.elections.ListVotesByVoter(ctx, electionID, voterID)
	if err != nil {
		return nil, apperr.Wrap(err, "list votes")
	}

	positions := make(map[string]bool, len(votes))
	if len(votes) == 0 {
		return positions, nil
	}

	ids := make([]string, 0, len(votes))
	for _, v := range votes {
		positions[v.Position] = true
		ids = append(ids, v.CandidateID)
	}
	cs, err := s.candidates.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, c := range cs {
		positions[c.CurrentPosition] = true
	}
	return positions, nil
}

func (s *ElectionService) publish(ctx context.Context, electionID string, v *model.Vote) {
	if s.events == nil {
		return
	}
	err := s.events.SendVoteEvent(ctx, &model.VoteEvent{
		ElectionID:  electionID,
		VoterID:     v.VoterID,
		CandidateID: v.CandidateID,
		Position:    v.Position,
		VotedAt:     v.CastAt,
	})
	if err != nil {
		// 选票已经落库，事件发送失败不影响投票结果
		s.logger.Warn("发送投票事件失败", zap.String("electionId", electionID), zap.String("voterId", v.VoterID), zap.Error(err))
	}
}

// CheckIfAlreadyVoted 选民是否已在进行中的选举里投过票
func (s *ElectionService) CheckIfAlreadyVoted(ctx context.Context, voterID string) (bool, error) {
	e, err := s.active(ctx)
	if err != nil {
		return false, err
	}
	voted, err := s.elections.HasVoted(ctx, e.ID, voterID)
	if err != nil {
		return false, apperr.Wrap(err, "check vote")
	}
	return voted, nil
}
