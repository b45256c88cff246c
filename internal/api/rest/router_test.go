package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lvdashuaibi/electvote/config"
	"github.com/lvdashuaibi/electvote/internal/directory"
	"github.com/lvdashuaibi/electvote/internal/lock"
	"github.com/lvdashuaibi/electvote/internal/model"
	"github.com/lvdashuaibi/electvote/internal/repository"
	"github.com/lvdashuaibi/electvote/internal/scheduler"
	"github.com/lvdashuaibi/electvote/internal/service"
	"github.com/lvdashuaibi/electvote/internal/token"
)

const adminToken = "admin-secret"

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type stubDispatcher struct {
	msg string
	err error
}

func (d stubDispatcher) SendPreOrPostElectionEmails(ctx context.Context) (string, error) {
	return d.msg, d.err
}

type testServer struct {
	router    *gin.Engine
	clock     *clock
	issuer    *token.Issuer
	elections *service.ElectionService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWith(t, scheduler.Disabled{})
}

func newTestServerWith(t *testing.T, sched scheduler.Scheduler) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Config{
		Server: config.ServerConfig{AdminToken: adminToken, BackendURL: "http://backend", RequestTimeout: 5 * time.Second},
		Token:  config.TokenConfig{Secret: "token-secret", TTL: 24 * time.Hour},
		Lock:   config.LockConfig{TTL: time.Second, RetryInterval: time.Millisecond},
		Election: config.ElectionConfig{
			Timezone:         "UTC",
			DefaultDuration:  14 * 24 * time.Hour,
			SchedulerTimeout: time.Second,
		},
		GraphQL: config.GraphQLConfig{Path: "/graphql"},
		Log:     config.LogConfig{Development: true},
	}

	clk := &clock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	repo := repository.NewMemoryRepository()
	candidates := directory.NewCandidateDirectory(repo, zap.NewNop())
	voters := directory.NewVoterDirectory(repo, zap.NewNop())
	elections, err := service.NewElectionService(repo, candidates, voters, lock.NewLocalLock(), sched, &cfg, zap.NewNop(),
		service.WithClock(clk.Now))
	require.NoError(t, err)
	issuer := token.NewIssuer(cfg.Token, voters, repo, zap.NewNop(), token.WithClock(clk.Now))

	r := NewRouter(Handlers{
		Elections:  elections,
		Candidates: candidates,
		Voters:     voters,
		Tokens:     issuer,
		Emails:     stubDispatcher{msg: "Pre-election emails sent"},
	}, cfg, zap.NewNop())
	return &testServer{router: r, clock: clk, issuer: issuer, elections: elections}
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/", "", nil).Code)
}

func TestAdminRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/election", "", model.CreateElectionRequest{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/election", "wrong", model.CreateElectionRequest{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var body model.ErrorResponse
	decode(t, w, &body)
	assert.Equal(t, "Unauthorized", body.Error)
	assert.Equal(t, "Invalid admin token", body.Message)
}

func TestElectionLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/election/latest", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	var errBody model.ErrorResponse
	decode(t, w, &errBody)
	assert.Equal(t, "Not Found", errBody.Error)
	assert.Equal(t, "No elections found", errBody.Message)

	w = s.do(t, http.MethodPost, "/election", adminToken, model.CreateElectionRequest{
		Candidates: []model.CandidateInput{{Name: "Alice", CurrentPosition: "President"}, {Name: "Bob", CurrentPosition: "President"}},
		Voters:     []model.VoterInput{{Email: "v1@x.com"}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created model.ElectionResponse
	decode(t, w, &created)
	assert.Equal(t, model.TriggerSkipped, created.JobStatus.Start)

	w = s.do(t, http.MethodGet, "/election/2026", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view map[string]interface{}
	decode(t, w, &view)
	assert.Equal(t, float64(2), view["candidateCount"])
	assert.NotContains(t, view, "votes")

	w = s.do(t, http.MethodGet, "/election/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/candidate?name=Alice", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var alice model.Candidate
	decode(t, w, &alice)

	// 选举期间签发令牌并投票
	s.clock.Set(time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC))

	w = s.do(t, http.MethodPost, "/vote/token", adminToken, model.TokenRequest{Email: "v1@x.com"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var tok model.TokenResponse
	decode(t, w, &tok)

	w = s.do(t, http.MethodGet, "/vote/verify", tok.Token, nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/vote", tok.Token, model.CastVoteRequest{CandidateID: alice.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res model.VoteResult
	decode(t, w, &res)
	assert.Equal(t, "Vote cast successfully", res.Message)

	w = s.do(t, http.MethodPost, "/vote", tok.Token, model.CastVoteRequest{CandidateID: alice.ID})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodGet, "/vote/already-voted", tok.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var voted map[string]bool
	decode(t, w, &voted)
	assert.True(t, voted["voted"])

	w = s.do(t, http.MethodGet, "/election/active/summary", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sum model.ElectionSummary
	decode(t, w, &sum)
	assert.Equal(t, 1, sum.TotalVotes)
	assert.Equal(t, 1, sum.Positions["President"].LeadingCandidates[0].Count)

	w = s.do(t, http.MethodPatch, "/election/end", adminToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestVoteRoutesRequireValidToken(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/vote", "", model.CastVoteRequest{CandidateID: "c1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/vote", "not-a-jwt", model.CastVoteRequest{CandidateID: "c1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	var body model.ErrorResponse
	decode(t, w, &body)
	assert.Equal(t, "Invalid token", body.Message)
}

func TestValidationErrors(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/voter", adminToken, model.VoterInput{Email: "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var body model.ErrorResponse
	decode(t, w, &body)
	assert.Equal(t, "Bad Request", body.Error)
	assert.Contains(t, body.Message, "Email")

	req := httptest.NewRequest(http.MethodPost, "/candidate", bytes.NewBufferString("{not json"))
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDirectoryRoutes(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/candidate/bulk", adminToken, []model.CandidateInput{
		{Name: "Alice", CurrentPosition: "President"},
		{Name: "Carol", CurrentPosition: "Treasurer"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var bulk model.BulkResult
	decode(t, w, &bulk)
	assert.Equal(t, 2, bulk.Created)

	w = s.do(t, http.MethodGet, "/candidate/all", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var all []model.Candidate
	decode(t, w, &all)
	assert.Len(t, all, 2)

	pos := "Secretary"
	w = s.do(t, http.MethodPatch, "/candidate/"+all[0].ID, adminToken, model.CandidateUpdate{CurrentPosition: &pos})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/candidate", adminToken, model.CandidateInput{Name: "Alice", CurrentPosition: "President"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodDelete, "/candidate/"+all[0].ID, adminToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodGet, "/candidate/"+all[0].ID, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/voter", adminToken, model.VoterInput{Email: "V1@X.com"})
	require.Equal(t, http.StatusCreated, w.Code)
	w = s.do(t, http.MethodGet, "/voter?email=v1@x.com", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSendEmailsRoute(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/send-emails/pre-post", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body model.MessageResponse
	decode(t, w, &body)
	assert.Equal(t, "Pre-election emails sent", body.Message)
}

// recordingScheduler 记录创建的回调
type recordingScheduler struct {
	mu       sync.Mutex
	triggers []scheduler.Trigger
}

func (r *recordingScheduler) ScheduleTrigger(ctx context.Context, t scheduler.Trigger) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggers = append(r.triggers, t)
	return strconv.Itoa(len(r.triggers)), nil
}

func (r *recordingScheduler) CancelTrigger(ctx context.Context, id string) error { return nil }

func TestScheduledCallbackReachesDispatcher(t *testing.T) {
	sched := &recordingScheduler{}
	s := newTestServerWith(t, sched)

	_, err := s.elections.CreateElection(context.Background(), model.CreateElectionRequest{})
	require.NoError(t, err)
	require.Len(t, sched.triggers, 2)

	for _, trig := range sched.triggers {
		u, err := url.Parse(trig.CallbackURL)
		require.NoError(t, err)

		req := httptest.NewRequest(trig.Method, u.Path, nil)
		for k, v := range trig.Headers {
			req.Header.Set(k, v)
		}
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code, trig.Title)
		var body model.MessageResponse
		decode(t, w, &body)
		assert.Equal(t, "Pre-election emails sent", body.Message)
	}
}
