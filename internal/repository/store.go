package repository

import (
	"context"
	"errors"
	"time"

	"github.com/lvdashuaibi/electvote/internal/model"
)

var (
	// ErrDuplicateKey 自然键(候选人姓名/选民邮箱)已存在
	ErrDuplicateKey = errors.New("duplicate natural key")
	// ErrDuplicateVote 同一选民在同一选举中对同一职位重复投票
	ErrDuplicateVote = errors.New("duplicate vote for position")
	// ErrInUse 候选人仍属于某个选举，不能删除
	ErrInUse = errors.New("candidate belongs to an election")
)

// CandidateRepository 候选人存储
//
// Find* 方法在记录不存在时返回 found=false 而不是错误。
type CandidateRepository interface {
	ListCandidates(ctx context.Context) ([]*model.Candidate, error)
	FindCandidateByID(ctx context.Context, id string) (*model.Candidate, bool, error)
	FindCandidateByName(ctx context.Context, name string) (*model.Candidate, bool, error)
	// FindCandidatesByIDs 不存在的id被跳过
	FindCandidatesByIDs(ctx context.Context, ids []string) ([]*model.Candidate, error)
	CreateCandidate(ctx context.Context, c *model.Candidate) error
	UpdateCandidate(ctx context.Context, c *model.Candidate) (bool, error)
	// DeleteCandidate 候选人仍是任一选举的成员时返回ErrInUse
	DeleteCandidate(ctx context.Context, id string) (bool, error)
	SetPastPosition(ctx context.Context, id string, year int, position string) (bool, error)
}

// VoterRepository 选民存储
type VoterRepository interface {
	ListVoters(ctx context.Context) ([]*model.Voter, error)
	FindVoterByID(ctx context.Context, id string) (*model.Voter, bool, error)
	FindVoterByEmail(ctx context.Context, email string) (*model.Voter, bool, error)
	FindVotersByIDs(ctx context.Context, ids []string) ([]*model.Voter, error)
	CreateVoter(ctx context.Context, v *model.Voter) error
	UpdateVoter(ctx context.Context, v *model.Voter) (bool, error)
	DeleteVoter(ctx context.Context, id string) (bool, error)
}

// ElectionRepository 选举及选票存储
//
// 返回的Election不含Votes，选票通过ListVotes单独读取。
type ElectionRepository interface {
	CreateElection(ctx context.Context, e *model.Election) error
	FindElectionByID(ctx context.Context, id string) (*model.Election, bool, error)
	// FindLatestElection 按开始时间取最新的选举
	FindLatestElection(ctx context.Context) (*model.Election, bool, error)
	// FindElectionStartingIn 查找开始时间在[from, to)内的选举
	FindElectionStartingIn(ctx context.Context, from, to time.Time) (*model.Election, bool, error)
	FindActiveElection(ctx context.Context, now time.Time) (*model.Election, bool, error)
	UpdateElectionDates(ctx context.Context, id string, start, end time.Time) (bool, error)
	SetTriggerJobID(ctx context.Context, id string, boundary model.TriggerBoundary, jobID string) error
	AddElectionMembers(ctx context.Context, id string, candidateIDs, voterIDs []string) error
	RemoveElectionMembers(ctx context.Context, id string, candidateIDs, voterIDs []string) error
	DeleteElection(ctx context.Context, id string) (bool, error)

	// AppendVote 追加选票，(electionID, voterID, position)重复时返回ErrDuplicateVote
	AppendVote(ctx context.Context, electionID string, v *model.Vote) error
	ListVotes(ctx context.Context, electionID string) ([]model.Vote, error)
	ListVotesByVoter(ctx context.Context, electionID, voterID string) ([]model.Vote, error)
	HasVoted(ctx context.Context, electionID, voterID string) (bool, error)
}

// Store 聚合全部存储接口
type Store interface {
	CandidateRepository
	VoterRepository
	ElectionRepository
	Close() error
}

// YearRange 返回loc时区下某一年的起止时间[from, to)
func YearRange(year int, loc *time.Location) (time.Time, time.Time) {
	from := time.Date(year, time.January, 1, 0, 0, 0, 0, loc)
	return from, from.AddDate(1, 0, 0)
}

// mergeIDs 合并id集合，保持首次出现的顺序并去重
func mergeIDs(existing []string, add ...[]string) []string {
	seen := make(map[string]struct{}, len(existing))
	out := make([]string, 0, len(existing))
	for _, id := range existing {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, ids := range add {
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func removeIDs(existing, remove []string) []string {
	drop := make(map[string]struct{}, len(remove))
	for _, id := range remove {
		drop[id] = struct{}{}
	}
	out := make([]string, 0, len(existing))
	for _, id := range existing {
		if _, ok := drop[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
