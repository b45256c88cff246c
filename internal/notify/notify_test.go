package notify

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lvdashuaibi/electvote/config"
	"github.com/lvdashuaibi/electvote/internal/apperr"
	"github.com/lvdashuaibi/electvote/internal/directory"
	"github.com/lvdashuaibi/electvote/internal/model"
	"github.com/lvdashuaibi/electvote/internal/repository"
	"github.com/lvdashuaibi/electvote/internal/token"
)

type recordingQueue struct {
	jobs []*model.EmailJob
}

func (q *recordingQueue) Enqueue(ctx context.Context, jobs []*model.EmailJob) error {
	q.jobs = append(q.jobs, jobs...)
	return nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	fail map[string]bool
}

func (s *fakeSender) SendTemplatedEmail(ctx context.Context, to string, templateID int64, params map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[to] {
		return errors.New("rejected")
	}
	s.sent = append(s.sent, to)
	return nil
}

type fakePublisher struct {
	jobs []*model.EmailJob
}

func (p *fakePublisher) SendEmailJob(ctx context.Context, job *model.EmailJob) error {
	p.jobs = append(p.jobs, job)
	return nil
}

var (
	start = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	end   = start.AddDate(0, 0, 14)
)

type fixture struct {
	dispatcher *Dispatcher
	queue      *recordingQueue
	issuer     *token.Issuer
	clock      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	voters := directory.NewVoterDirectory(repo, zap.NewNop())

	res, err := voters.BulkUpsert(ctx, []model.VoterInput{{Email: "v1@x.com"}, {Email: "v2@x.com"}})
	require.NoError(t, err)
	require.NoError(t, repo.CreateElection(ctx, &model.Election{ID: "e1", StartDate: start, EndDate: end, VoterIDs: res.IDs}))

	f := &fixture{queue: &recordingQueue{}, clock: start}
	f.issuer = token.NewIssuer(config.TokenConfig{Secret: "s3cret", TTL: 24 * time.Hour}, voters, repo, zap.NewNop(),
		token.WithClock(func() time.Time { return f.clock }))

	d, err := NewDispatcher(repo, voters, f.issuer, f.queue,
		config.ServerConfig{FrontendURL: "https://vote.example.com"},
		config.EmailConfig{PreTemplateID: 1, PostTemplateID: 2, Timezone: "Africa/Lagos"},
		zap.NewNop())
	require.NoError(t, err)
	d.SetClock(func() time.Time { return f.clock })
	f.dispatcher = d
	return f
}

func TestFormatDateTime(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "Monday, March 2nd, 2026 at 9:00 AM", f.dispatcher.FormatDateTime(start))
	assert.Equal(t, "Monday, March 16th, 2026 at 9:00 AM", f.dispatcher.FormatDateTime(end))
}

func TestPreElectionEmailsDuringElection(t *testing.T) {
	f := newFixture(t)
	f.clock = start.Add(time.Hour)

	msg, err := f.dispatcher.SendPreOrPostElectionEmails(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Pre-election emails sent", msg)
	require.Len(t, f.queue.jobs, 2)

	job := f.queue.jobs[0]
	assert.Equal(t, int64(1), job.TemplateID)
	assert.Equal(t, "Monday, March 2nd, 2026 at 9:00 AM", job.Params["startDate"])
	require.True(t, strings.HasPrefix(job.Params["link"], "https://vote.example.com/vote?token="))

	u, err := url.Parse(job.Params["link"])
	require.NoError(t, err)
	voter, err := f.issuer.Validate(context.Background(), u.Query().Get("token"))
	require.NoError(t, err)
	assert.Equal(t, job.To, voter.Email)
}

func TestPreElectionEmailsWithinHourBeforeStart(t *testing.T) {
	f := newFixture(t)
	f.clock = start.Add(-30 * time.Minute)

	msg, err := f.dispatcher.SendPreOrPostElectionEmails(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Pre-election emails sent", msg)
}

func TestPostElectionEmails(t *testing.T) {
	f := newFixture(t)
	f.clock = end.Add(time.Minute)

	msg, err := f.dispatcher.SendPreOrPostElectionEmails(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Post-election emails sent", msg)
	require.Len(t, f.queue.jobs, 2)
	assert.Equal(t, int64(2), f.queue.jobs[0].TemplateID)
	assert.NotContains(t, f.queue.jobs[0].Params, "link")
}

func TestWrongTimeToSendEmails(t *testing.T) {
	f := newFixture(t)
	f.clock = start.Add(-2 * time.Hour)

	_, err := f.dispatcher.SendPreOrPostElectionEmails(context.Background())
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	assert.Empty(t, f.queue.jobs)
}

func TestNoElection(t *testing.T) {
	repo := repository.NewMemoryRepository()
	voters := directory.NewVoterDirectory(repo, zap.NewNop())
	d, err := NewDispatcher(repo, voters, nil, &recordingQueue{}, config.ServerConfig{}, config.EmailConfig{Timezone: "UTC"}, zap.NewNop())
	require.NoError(t, err)

	_, err = d.SendPreOrPostElectionEmails(context.Background())
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestDirectQueueReportsPartialFailure(t *testing.T) {
	s := &fakeSender{fail: map[string]bool{"bad@x.com": true}}
	q := NewDirectQueue(s, zap.NewNop())

	err := q.Enqueue(context.Background(), []*model.EmailJob{{To: "a@x.com"}, {To: "bad@x.com"}, {To: "b@x.com"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad@x.com")
	assert.ElementsMatch(t, []string{"a@x.com", "b@x.com"}, s.sent)
}

func TestKafkaQueueAndDeliver(t *testing.T) {
	p := &fakePublisher{}
	q := NewKafkaQueue(p, zap.NewNop())
	require.NoError(t, q.Enqueue(context.Background(), []*model.EmailJob{{To: "a@x.com", TemplateID: 2}}))
	require.Len(t, p.jobs, 1)

	s := &fakeSender{}
	require.NoError(t, Deliver(s)(context.Background(), p.jobs[0]))
	assert.Equal(t, []string{"a@x.com"}, s.sent)
}
