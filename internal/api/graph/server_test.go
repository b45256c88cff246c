package graph

import (
	"context"
	"encoding/json"
	"testing"
	"time"

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

type fixture struct {
	server     *GraphQLServer
	elections  *service.ElectionService
	candidates *directory.CandidateDirectory
	issuer     *token.Issuer
	now        time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }

	cfg := &config.Config{
		Lock:     config.LockConfig{TTL: time.Second, RetryInterval: time.Millisecond},
		Election: config.ElectionConfig{Timezone: "UTC"},
	}
	repo := repository.NewMemoryRepository()
	f.candidates = directory.NewCandidateDirectory(repo, zap.NewNop())
	voters := directory.NewVoterDirectory(repo, zap.NewNop())

	var err error
	f.elections, err = service.NewElectionService(repo, f.candidates, voters, lock.NewLocalLock(), scheduler.Disabled{}, cfg, zap.NewNop(),
		service.WithClock(clock))
	require.NoError(t, err)
	f.issuer = token.NewIssuer(config.TokenConfig{Secret: "secret", TTL: time.Hour}, voters, repo, zap.NewNop(), token.WithClock(clock))
	f.server = NewGraphQLServer(f.elections, f.issuer, zap.NewNop())
	return f
}

func (f *fixture) exec(t *testing.T, query string, vars map[string]interface{}, out interface{}) []string {
	t.Helper()
	resp := f.server.Exec(context.Background(), query, vars)
	var msgs []string
	for _, e := range resp.Errors {
		msgs = append(msgs, e.Message)
	}
	if out != nil && len(resp.Data) > 0 {
		require.NoError(t, json.Unmarshal(resp.Data, out))
	}
	return msgs
}

func TestQueryWithoutElection(t *testing.T) {
	f := newFixture(t)
	errs := f.exec(t, `{ latestElection { id } }`, nil, nil)
	assert.Equal(t, []string{"No elections found"}, errs)
}

func TestCastVoteMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.elections.CreateElection(ctx, model.CreateElectionRequest{
		Candidates: []model.CandidateInput{{Name: "Alice", CurrentPosition: "President"}},
		Voters:     []model.VoterInput{{Email: "v1@x.com"}},
	})
	require.NoError(t, err)
	alice, err := f.candidates.GetByName(ctx, "Alice")
	require.NoError(t, err)

	var latest struct {
		LatestElection struct {
			Year           int32
			State          string
			CandidateCount int32
		}
	}
	require.Empty(t, f.exec(t, `{ latestElection { year state candidateCount } }`, nil, &latest))
	assert.Equal(t, int32(2026), latest.LatestElection.Year)
	assert.Equal(t, "scheduled", latest.LatestElection.State)
	assert.Equal(t, int32(1), latest.LatestElection.CandidateCount)

	f.now = time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	raw, _, err := f.issuer.Issue(ctx, "v1@x.com")
	require.NoError(t, err)

	mutation := `mutation($token: String!, $id: ID!) { castVote(token: $token, candidateId: $id) { success message } }`
	vars := map[string]interface{}{"token": raw, "id": alice.ID}

	var out struct {
		CastVote struct {
			Success bool
			Message string
		}
	}
	require.Empty(t, f.exec(t, mutation, vars, &out))
	assert.True(t, out.CastVote.Success)

	errs := f.exec(t, mutation, vars, nil)
	assert.Equal(t, []string{"You have already voted for this position"}, errs)

	errs = f.exec(t, mutation, map[string]interface{}{"token": "bogus", "id": alice.ID}, nil)
	assert.Equal(t, []string{"Invalid token"}, errs)

	var voted struct{ AlreadyVoted bool }
	require.Empty(t, f.exec(t, `query($token: String!) { alreadyVoted(token: $token) }`, map[string]interface{}{"token": raw}, &voted))
	assert.True(t, voted.AlreadyVoted)

	var sum struct {
		Summary struct {
			TotalVotes int32
			Positions  []struct {
				Position          string
				TotalVotes        int32
				LeadingCandidates []struct {
					Candidate struct{ Name string }
					Count     int32
				}
			}
		}
	}
	require.Empty(t, f.exec(t, `{ summary { totalVotes positions { position totalVotes leadingCandidates { candidate { name } count } } } }`, nil, &sum))
	assert.Equal(t, int32(1), sum.Summary.TotalVotes)
	require.Len(t, sum.Summary.Positions, 1)
	assert.Equal(t, "President", sum.Summary.Positions[0].Position)
	assert.Equal(t, "Alice", sum.Summary.Positions[0].LeadingCandidates[0].Candidate.Name)
}
