package token

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lvdashuaibi/electvote/config"
	"github.com/lvdashuaibi/electvote/internal/apperr"
	"github.com/lvdashuaibi/electvote/internal/directory"
	"github.com/lvdashuaibi/electvote/internal/model"
	"github.com/lvdashuaibi/electvote/internal/repository"
)

type fixture struct {
	repo   *repository.MemoryRepository
	issuer *Issuer
	now    time.Time
	voter  *model.Voter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		repo: repository.NewMemoryRepository(),
		now:  time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	}
	voters := directory.NewVoterDirectory(f.repo, zap.NewNop())
	v, err := voters.Create(ctx, model.VoterInput{Email: "v1@x.com"})
	require.NoError(t, err)
	f.voter = v

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, f.repo.CreateElection(ctx, &model.Election{ID: "e1", StartDate: start, EndDate: start.AddDate(0, 0, 14)}))

	f.issuer = NewIssuer(config.TokenConfig{Secret: "test-secret", TTL: 24 * time.Hour}, voters, f.repo, zap.NewNop(),
		WithClock(func() time.Time { return f.now }))
	return f
}

func TestIssueAndValidate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	raw, claims, err := f.issuer.Issue(ctx, "V1@x.com")
	require.NoError(t, err)
	assert.Equal(t, "v1@x.com", claims.VoterEmail)
	assert.Equal(t, "e1", claims.ElectionID)
	assert.Equal(t, f.now.Add(24*time.Hour), claims.ExpiresAt)

	voter, err := f.issuer.Validate(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, f.voter.ID, voter.ID)
}

func TestIssueUnknownVoter(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.issuer.Issue(context.Background(), "nobody@x.com")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestValidateExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	raw, _, err := f.issuer.Issue(ctx, "v1@x.com")
	require.NoError(t, err)

	f.now = f.now.Add(25 * time.Hour)
	_, err = f.issuer.Validate(ctx, raw)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
	assert.Equal(t, "Token has expired", apperr.Message(err))
}

func TestValidateRejectsTampering(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	other := NewIssuer(config.TokenConfig{Secret: "other-secret", TTL: time.Hour}, nil, nil, zap.NewNop(),
		WithClock(func() time.Time { return f.now }))
	forged, _, err := other.IssueFor("v1@x.com", "e1")
	require.NoError(t, err)

	_, err = f.issuer.Validate(ctx, forged)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	_, err = f.issuer.Validate(ctx, "not-a-token")
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	// alg=none 令牌必须被拒绝
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"email": "v1@x.com", "electionId": "e1", "exp": f.now.Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = f.issuer.Validate(ctx, none)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
}

func TestValidateRejectsTokenFromPreviousElection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	raw, _, err := f.issuer.Issue(ctx, "v1@x.com")
	require.NoError(t, err)

	// 新的选举成为最新选举，旧令牌即使未过期也失效
	start := time.Date(2027, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, f.repo.CreateElection(ctx, &model.Election{ID: "e2", StartDate: start, EndDate: start.AddDate(0, 0, 14)}))

	_, err = f.issuer.Validate(ctx, raw)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
}

func TestValidateRejectsDeletedVoter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	raw, _, err := f.issuer.Issue(ctx, "v1@x.com")
	require.NoError(t, err)

	_, err = f.repo.DeleteVoter(ctx, f.voter.ID)
	require.NoError(t, err)

	_, err = f.issuer.Validate(ctx, raw)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
}
