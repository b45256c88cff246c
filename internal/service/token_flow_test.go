package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lvdashuaibi/electvote/config"
	"github.com/lvdashuaibi/electvote/internal/apperr"
	"github.com/lvdashuaibi/electvote/internal/model"
	"github.com/lvdashuaibi/electvote/internal/token"
)

func TestTokenInvalidatedByNewElection(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.createScenario(t)

	issuer := token.NewIssuer(config.TokenConfig{Secret: "s3cret", TTL: 365 * 24 * time.Hour}, e.voters, e.repo, zap.NewNop(),
		token.WithClock(e.clock.Now))
	raw, claims, err := issuer.Issue(ctx, "v1@x.com")
	require.NoError(t, err)

	voter, err := issuer.Validate(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, "v1@x.com", voter.Email)

	// 第一次选举结束，下一年创建新的选举
	e.clock.Set(time.Date(2027, 1, 5, 0, 0, 0, 0, time.UTC))
	resp, err := e.svc.CreateElection(ctx, model.CreateElectionRequest{Voters: []model.VoterInput{{Email: "v1@x.com"}}})
	require.NoError(t, err)
	require.NotEqual(t, claims.ElectionID, resp.ElectionID)

	_, err = issuer.Validate(ctx, raw)
	assertKind(t, err, apperr.KindUnauthorized)
}
