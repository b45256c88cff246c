package model

import (
	"time"
)

// Candidate 候选人模型
type Candidate struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	CurrentPosition string         `json:"currentPosition"`
	ImageURL        string         `json:"imageUrl,omitempty"`
	PastPositions   map[int]string `json:"pastPositions,omitempty"`
}

// CandidateInput 新建或更新候选人的输入，按姓名匹配
type CandidateInput struct {
	Name            string `json:"name" validate:"required"`
	CurrentPosition string `json:"currentPosition" validate:"required"`
	ImageURL        string `json:"imageUrl,omitempty" validate:"omitempty,url"`
}

// CandidateUpdate 候选人部分更新，nil字段保持不变
type CandidateUpdate struct {
	Name            *string `json:"name,omitempty" validate:"omitempty,min=1"`
	CurrentPosition *string `json:"currentPosition,omitempty" validate:"omitempty,min=1"`
	ImageURL        *string `json:"imageUrl,omitempty" validate:"omitempty,url"`
}

// Voter 选民模型
type Voter struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// VoterInput 新建或更新选民的输入，按邮箱匹配
type VoterInput struct {
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name,omitempty"`
}

// VoterUpdate 选民部分更新
type VoterUpdate struct {
	Email *string `json:"email,omitempty" validate:"omitempty,email"`
	Name  *string `json:"name,omitempty"`
}

// BulkResult 批量写入结果
type BulkResult struct {
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	IDs     []string `json:"ids"`
}

// Vote 投票记录，Position为投票时候选人的职位
type Vote struct {
	ID          string    `json:"id"`
	VoterID     string    `json:"voterId"`
	CandidateID string    `json:"candidateId"`
	Position    string    `json:"position"`
	CastAt      time.Time `json:"castAt"`
}

// ElectionState 选举状态，由当前时间推导
type ElectionState string

const (
	StateScheduled ElectionState = "scheduled"
	StateActive    ElectionState = "active"
	StateEnded     ElectionState = "ended"
)

// Election 选举模型
type Election struct {
	ID           string    `json:"id"`
	StartDate    time.Time `json:"startDate"`
	EndDate      time.Time `json:"endDate"`
	CandidateIDs []string  `json:"candidateIds"`
	VoterIDs     []string  `json:"voterIds"`
	Votes        []Vote    `json:"votes,omitempty"`
	StartJobID   string    `json:"startJobId,omitempty"`
	EndJobID     string    `json:"endJobId,omitempty"`
}

// Year 选举年份，取开始时间在loc下的年份
func (e *Election) Year(loc *time.Location) int {
	return e.StartDate.In(loc).Year()
}

// State 返回now时刻的选举状态，时间窗口两端均包含
func (e *Election) State(now time.Time) ElectionState {
	switch {
	case now.Before(e.StartDate):
		return StateScheduled
	case now.After(e.EndDate):
		return StateEnded
	default:
		return StateActive
	}
}

func (e *Election) IsActive(now time.Time) bool {
	return e.State(now) == StateActive
}

func (e *Election) HasCandidate(id string) bool {
	return contains(e.CandidateIDs, id)
}

func (e *Election) HasVoter(id string) bool {
	return contains(e.VoterIDs, id)
}

// WithoutVotes 返回不含选票的副本，对外展示时使用
func (e *Election) WithoutVotes() *Election {
	c := *e
	c.Votes = nil
	return &c
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// ElectionView 对外展示的选举信息
type ElectionView struct {
	*Election
	Year           int           `json:"year"`
	State          ElectionState `json:"state"`
	Active         bool          `json:"active"`
	CandidateCount int           `json:"candidateCount"`
	VoterCount     int           `json:"voterCount"`
}

// TriggerStatus 定时触发器创建结果
type TriggerStatus string

const (
	TriggerSuccess TriggerStatus = "Success"
	TriggerFailed  TriggerStatus = "Failed"
	TriggerSkipped TriggerStatus = "Skipped"
)

// TriggerBoundary 选举的开始或结束边界
type TriggerBoundary string

const (
	BoundaryStart TriggerBoundary = "Start"
	BoundaryEnd   TriggerBoundary = "End"
)

type JobStatus struct {
	Start TriggerStatus `json:"start"`
	End   TriggerStatus `json:"end"`
}

// CreateElectionRequest 创建选举请求
type CreateElectionRequest struct {
	Start      *time.Time       `json:"start,omitempty"`
	End        *time.Time       `json:"end,omitempty"`
	Candidates []CandidateInput `json:"candidates,omitempty" validate:"omitempty,dive"`
	Voters     []VoterInput     `json:"voters,omitempty" validate:"omitempty,dive"`
}

// UpdateElectionRequest 更新选举请求，Force为true时无论日期是否变化都重建触发器
type UpdateElectionRequest struct {
	Start      *time.Time       `json:"start,omitempty"`
	End        *time.Time       `json:"end,omitempty"`
	Candidates []CandidateInput `json:"candidates,omitempty" validate:"omitempty,dive"`
	Voters     []VoterInput     `json:"voters,omitempty" validate:"omitempty,dive"`
	Force      bool             `json:"force,omitempty"`
}

// ElectionResponse 创建或更新选举的响应
type ElectionResponse struct {
	Message    string      `json:"message"`
	ElectionID string      `json:"electionId"`
	Candidates *BulkResult `json:"candidates,omitempty"`
	Voters     *BulkResult `json:"voters,omitempty"`
	JobStatus  JobStatus   `json:"jobStatus"`
}

// RemoveMembersRequest 从最新选举中移除候选人或选民
type RemoveMembersRequest struct {
	CandidateIDs []string `json:"candidateIds,omitempty"`
	VoterIDs     []string `json:"voterIds,omitempty"`
}

// CandidateTally 单个候选人的得票
type CandidateTally struct {
	Candidate *Candidate `json:"candidate"`
	Count     int        `json:"count"`
}

// PositionSummary 单个职位的统计
type PositionSummary struct {
	TotalVotes        int              `json:"totalVotes"`
	LeadingCandidates []CandidateTally `json:"leadingCandidates"`
}

// ElectionSummary 选举统计
type ElectionSummary struct {
	Active     bool                       `json:"active"`
	StartDate  time.Time                  `json:"startDate"`
	EndDate    time.Time                  `json:"endDate"`
	Year       int                        `json:"year"`
	TotalVotes int                        `json:"totalVotes"`
	Positions  map[string]PositionSummary `json:"positions"`
}

// VoteResult 投票结果
type VoteResult struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	VoterID     string `json:"voterId"`
	CandidateID string `json:"candidateId"`
}

// VoterClaims 投票令牌中携带的信息
type VoterClaims struct {
	VoterEmail string    `json:"voterEmail"`
	ElectionID string    `json:"electionId"`
	IssuedAt   time.Time `json:"issuedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// VoteEvent Kafka投票事件
type VoteEvent struct {
	ElectionID  string    `json:"electionId"`
	VoterID     string    `json:"voterId"`
	CandidateID string    `json:"candidateId"`
	Position    string    `json:"position"`
	VotedAt     time.Time `json:"votedAt"`
}

// EmailJob 待发送的模板邮件
type EmailJob struct {
	To         string            `json:"to"`
	TemplateID int64             `json:"templateId"`
	Params     map[string]string `json:"params"`
}

// CastVoteRequest 单票请求
type CastVoteRequest struct {
	CandidateID string `json:"candidateId" validate:"required"`
}

// CastVotesRequest 批量投票请求
type CastVotesRequest struct {
	CandidateIDs []string `json:"candidateIds" validate:"required,min=1,dive,required"`
}

// TokenRequest 为选民签发令牌
type TokenRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// TokenResponse 签发的令牌
type TokenResponse struct {
	Token  string       `json:"token"`
	Claims *VoterClaims `json:"claims"`
}

// ErrorResponse 错误响应体
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// MessageResponse 只包含提示信息的响应
type MessageResponse struct {
	Message string `json:"message"`
}
