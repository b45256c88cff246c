package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lvdashuaibi/electvote/config"
	"github.com/lvdashuaibi/electvote/internal/apperr"
	"github.com/lvdashuaibi/electvote/internal/directory"
	"github.com/lvdashuaibi/electvote/internal/lock"
	"github.com/lvdashuaibi/electvote/internal/model"
	"github.com/lvdashuaibi/electvote/internal/repository"
	"github.com/lvdashuaibi/electvote/internal/scheduler"
)

// adminLockName 串行化选举的创建和修改
const adminLockName = "election:admin"

const (
	defaultElectionDuration = 14 * 24 * time.Hour
	defaultSchedulerTimeout = 10 * time.Second
	defaultLockTTL          = 10 * time.Second
	defaultLockRetry        = 20 * time.Millisecond
)

// VoteEventPublisher 由kafka.Producer实现
type VoteEventPublisher interface {
	SendVoteEvent(ctx context.Context, event *model.VoteEvent) error
}

// ElectionService 选举生命周期、投票和计票
type ElectionService struct {
	elections  repository.ElectionRepository
	candidates *directory.CandidateDirectory
	voters     *directory.VoterDirectory
	locker     lock.Lock
	scheduler  scheduler.Scheduler
	events     VoteEventPublisher

	electionCfg config.ElectionConfig
	lockCfg     config.LockConfig
	backendURL  string
	adminToken  string
	loc         *time.Location

	logger *zap.Logger
	now    func() time.Time
}

type Option func(*ElectionService)

// WithClock 替换时间源
func WithClock(now func() time.Time) Option {
	return func(s *ElectionService) { s.now = now }
}

// WithVoteEvents 投票成功后发布事件
func WithVoteEvents(p VoteEventPublisher) Option {
	return func(s *ElectionService) { s.events = p }
}

func NewElectionService(
	elections repository.ElectionRepository,
	candidates *directory.CandidateDirectory,
	voters *directory.VoterDirectory,
	locker lock.Lock,
	sched scheduler.Scheduler,
	cfg *config.Config,
	logger *zap.Logger,
	opts ...Option,
) (*ElectionService, error) {
	loc, err := cfg.Election.Location()
	if err != nil {
		return nil, fmt.Errorf("加载选举时区失败: %w", err)
	}
	if sched == nil {
		sched = scheduler.Disabled{}
	}

	s := &ElectionService{
		elections:   elections,
		candidates:  candidates,
		voters:      voters,
		locker:      locker,
		scheduler:   sched,
		electionCfg: cfg.Election,
		lockCfg:     cfg.Lock,
		backendURL:  cfg.Server.BackendURL,
		adminToken:  cfg.Server.AdminToken,
		loc:         loc,
		logger:      logger,
		now:         time.Now,
	}
	if s.electionCfg.DefaultDuration <= 0 {
		s.electionCfg.DefaultDuration = defaultElectionDuration
	}
	if s.electionCfg.SchedulerTimeout <= 0 {
		s.electionCfg.SchedulerTimeout = defaultSchedulerTimeout
	}
	if s.lockCfg.TTL <= 0 {
		s.lockCfg.TTL = defaultLockTTL
	}
	if s.lockCfg.RetryInterval <= 0 {
		s.lockCfg.RetryInterval = defaultLockRetry
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *ElectionService) acquire(ctx context.Context, name string) (func(), error) {
	release, err := lock.Acquire(ctx, s.locker, name, s.lockCfg.TTL, s.lockCfg.RetryInterval)
	if err != nil {
		return nil, apperr.Wrap(err, "acquire lock")
	}
	return func() {
		if err := release(); err != nil {
			s.logger.Warn("释放锁失败", zap.String("lock", name), zap.Error(err))
		}
	}, nil
}

func (s *ElectionService) latest(ctx context.Context) (*model.Election, error) {
	e, found, err := s.elections.FindLatestElection(ctx)
	if err != nil {
		return nil, apperr.Wrap(err, "find latest election")
	}
	if !found {
		return nil, apperr.NotFound("No elections found")
	}
	return e, nil
}

func (s *ElectionService) byYear(ctx context.Context, year int) (*model.Election, error) {
	from, to := repository.YearRange(year, s.loc)
	e, found, err := s.elections.FindElectionStartingIn(ctx, from, to)
	if err != nil {
		return nil, apperr.Wrap(err, "find election by year")
	}
	if !found {
		return nil, apperr.NotFound("Election not found for the given year")
	}
	return e, nil
}

func (s *ElectionService) view(e *model.Election) *model.ElectionView {
	now := s.now()
	return &model.ElectionView{
		Election:       e.WithoutVotes(),
		Year:           e.Year(s.loc),
		State:          e.State(now),
		Active:         e.IsActive(now),
		CandidateCount: len(e.CandidateIDs),
		VoterCount:     len(e.VoterIDs),
	}
}

func (s *ElectionService) GetLatestElection(ctx context.Context) (*model.ElectionView, error) {
	e, err := s.latest(ctx)
	if err != nil {
		return nil, err
	}
	return s.view(e), nil
}

// GetActiveElection 最新的选举处于投票窗口内时返回
func (s *ElectionService) GetActiveElection(ctx context.Context) (*model.ElectionView, error) {
	e, err := s.active(ctx)
	if err != nil {
		return nil, err
	}
	return s.view(e), nil
}

func (s *ElectionService) active(ctx context.Context) (*model.Election, error) {
	e, err := s.latest(ctx)
	if err != nil {
		return nil, err
	}
	if !e.IsActive(s.now()) {
		return nil, apperr.NotFound("There is no active election")
	}
	return e, nil
}

func (s *ElectionService) GetElectionByYear(ctx context.Context, year int) (*model.ElectionView, error) {
	e, err := s.byYear(ctx, year)
	if err != nil {
		return nil, err
	}
	return s.view(e), nil
}

func (s *ElectionService) GetCandidatesByYear(ctx context.Context, year int) ([]*model.Candidate, error) {
	e, err := s.byYear(ctx, year)
	if err != nil {
		return nil, err
	}
	return s.candidates.GetMany(ctx, e.CandidateIDs)
}

func (s *ElectionService) GetVotersByYear(ctx context.Context, year int) ([]*model.Voter, error) {
	e, err := s.byYear(ctx, year)
	if err != nil {
		return nil, err
	}
	return s.voters.GetMany(ctx, e.VoterIDs)
}

// startOfNextDay 选举时区下次日零点
func (s *ElectionService) startOfNextDay(now time.Time) time.Time {
	local := now.In(s.loc)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, s.loc)
}

// CreateElection 创建当年的选举，同时写入候选人和选民
func (s *ElectionService) CreateElection(ctx context.Context, req model.CreateElectionRequest) (*model.ElectionResponse, error) {
	now := s.now()
	year := now.In(s.loc).Year()

	var start time.Time
	if req.Start != nil {
		start = *req.Start
		if start.In(s.loc).Year() != year || start.Before(now) {
			return nil, apperr.InvalidInput("Invalid start date")
		}
	} else {
		start = s.startOfNextDay(now)
	}

	var end time.Time
	if req.End != nil {
		end = *req.End
		if end.Before(start) {
			return nil, apperr.InvalidInput("Invalid end date")
		}
	} else {
		end = start.Add(s.electionCfg.DefaultDuration)
	}

	release, err := s.acquire(ctx, adminLockName)
	if err != nil {
		return nil, err
	}
	defer release()

	if _, found, err := s.elections.FindActiveElection(ctx, now); err != nil {
		return nil, apperr.Wrap(err, "find active election")
	} else if found {
		return nil, apperr.Conflict("There is already an active election")
	}
	if _, err := s.byYear(ctx, year); err == nil {
		return nil, apperr.Conflict("Election already exists for the current year")
	} else if !apperr.Is(err, apperr.KindNotFound) {
		return nil, err
	}

	resp := &model.ElectionResponse{}
	candidateIDs, voterIDs, err := s.upsertMembers(ctx, year, req.Candidates, req.Voters, resp)
	if err != nil {
		return nil, err
	}

	e := &model.Election{
		ID:           uuid.NewString(),
		StartDate:    start,
		EndDate:      end,
		CandidateIDs: candidateIDs,
		VoterIDs:     voterIDs,
	}
	if err := s.elections.CreateElection(ctx, e); err != nil {
		return nil, apperr.Wrap(err, "create election")
	}
	s.logger.Info("选举已创建",
		zap.String("electionId", e.ID),
		zap.Time("start", start),
		zap.Time("end", end),
		zap.Int("candidates", len(candidateIDs)),
		zap.Int("voters", len(voterIDs)))

	resp.JobStatus = s.scheduleTriggers(ctx, e, e.StartDate, e.EndDate, true)
	resp.ElectionID = e.ID
	resp.Message = "Success"
	return resp, nil
}

// UpdateElectionByYear 修改日期并合并新的成员，日期变化的边界重建触发器
func (s *ElectionService) UpdateElectionByYear(ctx context.Context, year int, req model.UpdateElectionRequest) (*model.ElectionResponse, error) {
	release, err := s.acquire(ctx, adminLockName)
	if err != nil {
		return nil, err
	}
	defer release()

	e, err := s.byYear(ctx, year)
	if err != nil {
		return nil, err
	}
	now := s.now()

	start := e.StartDate
	if req.Start != nil {
		start = *req.Start
		if start.In(s.loc).Year() != year || start.Before(now) {
			return nil, apperr.InvalidInput("Invalid start date")
		}
	}

	end := e.EndDate
	switch {
	case req.End != nil:
		end = *req.End
		if end.Before(start) {
			return nil, apperr.InvalidInput("Invalid end date")
		}
	case e.EndDate.Before(start):
		return nil, apperr.InvalidInput("End date required for the given start date")
	}

	resp := &model.ElectionResponse{}
	candidateIDs, voterIDs, err := s.upsertMembers(ctx, year, req.Candidates, req.Voters, resp)
	if err != nil {
		return nil, err
	}

	if _, err := s.elections.UpdateElectionDates(ctx, e.ID, start, end); err != nil {
		return nil, apperr.Wrap(err, "update election dates")
	}
	if len(candidateIDs) > 0 || len(voterIDs) > 0 {
		if err := s.elections.AddElectionMembers(ctx, e.ID, candidateIDs, voterIDs); err != nil {
			return nil, apperr.Wrap(err, "add election members")
		}
	}

	prevStart, prevEnd := e.StartDate, e.EndDate
	e.StartDate, e.EndDate = start, end
	resp.JobStatus = s.scheduleTriggers(ctx, e, prevStart, prevEnd, req.Force)
	resp.ElectionID = e.ID
	resp.Message = "Success"
	return resp, nil
}

// upsertMembers 批量写入候选人和选民，并记录候选人当年的职位
func (s *ElectionService) upsertMembers(
	ctx context.Context,
	year int,
	candidates []model.CandidateInput,
	voters []model.VoterInput,
	resp *model.ElectionResponse,
) ([]string, []string, error) {
	var candidateIDs, voterIDs []string

	if len(candidates) > 0 {
		res, err := s.candidates.BulkUpsert(ctx, candidates)
		if err != nil {
			return nil, nil, err
		}
		resp.Candidates = res
		candidateIDs = res.IDs
		if err := s.recordPastPositions(ctx, candidateIDs, year); err != nil {
			return nil, nil, err
		}
	}

	if len(voters) > 0 {
		res, err := s.voters.BulkUpsert(ctx, voters)
		if err != nil {
			return nil, nil, err
		}
		resp.Voters = res
		voterIDs = res.IDs
	}
	return candidateIDs, voterIDs, nil
}

func (s *ElectionService) recordPastPositions(ctx context.Context, ids []string, year int) error {
	cs, err := s.candidates.GetMany(ctx, ids)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, c := range cs {
		c := c
		g.Go(func() error {
			return s.candidates.SetPastPosition(gctx, c.ID, year, c.CurrentPosition)
		})
	}
	return g.Wait()
}

// EndActiveElection 把进行中选举的结束时间设为当前时间
func (s *ElectionService) EndActiveElection(ctx context.Context) error {
	release, err := s.acquire(ctx, adminLockName)
	if err != nil {
		return err
	}
	defer release()

	e, err := s.active(ctx)
	if err != nil {
		return err
	}
	now := s.now()
	if _, err := s.elections.UpdateElectionDates(ctx, e.ID, e.StartDate, now); err != nil {
		return apperr.Wrap(err, "end election")
	}
	s.logger.Info("选举已提前结束", zap.String("electionId", e.ID), zap.Time("end", now))
	return nil
}

// DeleteCandidatesOrVoters 选举开始前从最新选举中移除成员
func (s *ElectionService) DeleteCandidatesOrVoters(ctx context.Context, req model.RemoveMembersRequest) (string, error) {
	release, err := s.acquire(ctx, adminLockName)
	if err != nil {
		return "", err
	}
	defer release()

	e, err := s.latest(ctx)
	if err != nil {
		return "", err
	}
	if s.now().After(e.StartDate) {
		return "", apperr.Conflict("Cannot delete candidates or voters from an already started election")
	}
	if err := s.elections.RemoveElectionMembers(ctx, e.ID, req.CandidateIDs, req.VoterIDs); err != nil {
		return "", apperr.Wrap(err, "remove election members")
	}
	return "Candidates or voters deleted successfully", nil
}

// DeleteLatestElection 删除最新的选举及其选票，已创建的触发器尽量取消
func (s *ElectionService) DeleteLatestElection(ctx context.Context) (string, error) {
	release, err := s.acquire(ctx, adminLockName)
	if err != nil {
		return "", err
	}
	defer release()

	e, err := s.latest(ctx)
	if err != nil {
		return "", err
	}
	if _, err := s.elections.DeleteElection(ctx, e.ID); err != nil {
		return "", apperr.Wrap(err, "delete election")
	}
	s.logger.Info("最新选举已删除", zap.String("electionId", e.ID))

	for _, jobID := range []string{e.StartJobID, e.EndJobID} {
		if jobID != "" {
			s.cancelTrigger(ctx, jobID)
		}
	}
	return "Latest election deleted successfully", nil
}
