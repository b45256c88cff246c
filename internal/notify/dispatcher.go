package notify

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/lvdashuaibi/electvote/config"
	"github.com/lvdashuaibi/electvote/internal/apperr"
	"github.com/lvdashuaibi/electvote/internal/model"
)

// ElectionFinder 查找最新选举
type ElectionFinder interface {
	FindLatestElection(ctx context.Context) (*model.Election, bool, error)
}

// VoterLister 按id批量解析选民
type VoterLister interface {
	GetMany(ctx context.Context, ids []string) ([]*model.Voter, error)
}

// TokenMinter 为选民签发投票令牌
type TokenMinter interface {
	IssueFor(email, electionID string) (string, *model.VoterClaims, error)
}

// preStartWindow 开始前多久可以发送选举前邮件
const preStartWindow = time.Hour

// Dispatcher 根据最新选举的状态发送选举前或选举后的邮件
type Dispatcher struct {
	elections   ElectionFinder
	voters      VoterLister
	tokens      TokenMinter
	queue       EmailQueue
	frontendURL string
	preTemplate int64
	postTmpl    int64
	loc         *time.Location
	logger      *zap.Logger
	now         func() time.Time
}

func NewDispatcher(
	elections ElectionFinder,
	voters VoterLister,
	tokens TokenMinter,
	queue EmailQueue,
	serverCfg config.ServerConfig,
	emailCfg config.EmailConfig,
	logger *zap.Logger,
) (*Dispatcher, error) {
	loc, err := time.LoadLocation(emailCfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("加载邮件时区 %s 失败: %w", emailCfg.Timezone, err)
	}
	return &Dispatcher{
		elections:   elections,
		voters:      voters,
		tokens:      tokens,
		queue:       queue,
		frontendURL: serverCfg.FrontendURL,
		preTemplate: emailCfg.PreTemplateID,
		postTmpl:    emailCfg.PostTemplateID,
		loc:         loc,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// SetClock 替换时间源
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// FormatDateTime 格式化为 "Monday, March 2nd, 2026 at 9:00 AM"
func (d *Dispatcher) FormatDateTime(t time.Time) string {
	t = t.In(d.loc)
	return fmt.Sprintf("%s, %s %s, %d at %s",
		t.Weekday(), t.Month(), humanize.Ordinal(t.Day()), t.Year(), t.Format("3:04 PM"))
}

// SendPreOrPostElectionEmails 由定时触发器回调调用
func (d *Dispatcher) SendPreOrPostElectionEmails(ctx context.Context) (string, error) {
	election, found, err := d.elections.FindLatestElection(ctx)
	if err != nil {
		return "", apperr.Wrap(err, "find latest election")
	}
	if !found {
		return "", apperr.NotFound("No elections found")
	}

	now := d.now()
	preWindow := now.After(election.StartDate.Add(-preStartWindow)) && now.Before(election.StartDate)

	switch {
	case election.IsActive(now) || preWindow:
		d.logger.Info("发送选举前邮件", zap.String("electionId", election.ID), zap.Int("voters", len(election.VoterIDs)))
		if err := d.sendPre(ctx, election); err != nil {
			return "", err
		}
		return "Pre-election emails sent", nil
	case now.After(election.EndDate):
		d.logger.Info("发送选举后邮件", zap.String("electionId", election.ID), zap.Int("voters", len(election.VoterIDs)))
		if err := d.sendPost(ctx, election); err != nil {
			return "", err
		}
		return "Post-election emails sent", nil
	default:
		return "", apperr.Conflict("Not the right time to send emails")
	}
}

func (d *Dispatcher) sendPre(ctx context.Context, election *model.Election) error {
	voters, err := d.voters.GetMany(ctx, election.VoterIDs)
	if err != nil {
		return err
	}

	start := d.FormatDateTime(election.StartDate)
	end := d.FormatDateTime(election.EndDate)

	jobs := make([]*model.EmailJob, 0, len(voters))
	for _, v := range voters {
		token, _, err := d.tokens.IssueFor(v.Email, election.ID)
		if err != nil {
			return err
		}
		jobs = append(jobs, &model.EmailJob{
			To:         v.Email,
			TemplateID: d.preTemplate,
			Params: map[string]string{
				"link":      d.frontendURL + "/vote?token=" + url.QueryEscape(token),
				"startDate": start,
				"endDate":   end,
			},
		})
	}
	return d.enqueue(ctx, jobs)
}

func (d *Dispatcher) sendPost(ctx context.Context, election *model.Election) error {
	voters, err := d.voters.GetMany(ctx, election.VoterIDs)
	if err != nil {
		return err
	}

	end := d.FormatDateTime(election.EndDate)
	jobs := make([]*model.EmailJob, 0, len(voters))
	for _, v := range voters {
		jobs = append(jobs, &model.EmailJob{
			To:         v.Email,
			TemplateID: d.postTmpl,
			Params:     map[string]string{"endDate": end},
		})
	}
	return d.enqueue(ctx, jobs)
}

func (d *Dispatcher) enqueue(ctx context.Context, jobs []*model.EmailJob) error {
	if len(jobs) == 0 {
		return nil
	}
	if err := d.queue.Enqueue(ctx, jobs); err != nil {
		return apperr.Wrap(err, "enqueue emails")
	}
	return nil
}
