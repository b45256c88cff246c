package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/lvdashuaibi/electvote/config"
	"github.com/lvdashuaibi/electvote/internal/apperr"
	"github.com/lvdashuaibi/electvote/internal/model"
)

// VoterFinder 按邮箱查找选民
type VoterFinder interface {
	Find(ctx context.Context, email string) (*model.Voter, bool, error)
}

// ElectionFinder 查找最新选举
type ElectionFinder interface {
	FindLatestElection(ctx context.Context) (*model.Election, bool, error)
}

type voterClaims struct {
	Email      string `json:"email"`
	ElectionID string `json:"electionId"`
	jwt.RegisteredClaims
}

// Issuer 签发和校验投票令牌，令牌绑定选民邮箱和具体的选举
type Issuer struct {
	secret    []byte
	ttl       time.Duration
	voters    VoterFinder
	elections ElectionFinder
	logger    *zap.Logger
	now       func() time.Time
}

type Option func(*Issuer)

// WithClock 替换时间源，测试使用
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

func NewIssuer(cfg config.TokenConfig, voters VoterFinder, elections ElectionFinder, logger *zap.Logger, opts ...Option) *Issuer {
	i := &Issuer{
		secret:    []byte(cfg.Secret),
		ttl:       cfg.TTL,
		voters:    voters,
		elections: elections,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue 为选民签发绑定当前最新选举的令牌
func (i *Issuer) Issue(ctx context.Context, email string) (string, *model.VoterClaims, error) {
	voter, found, err := i.voters.Find(ctx, email)
	if err != nil {
		return "", nil, err
	}
	if !found {
		return "", nil, apperr.NotFound("Voter not found")
	}

	election, found, err := i.elections.FindLatestElection(ctx)
	if err != nil {
		return "", nil, apperr.Wrap(err, "find latest election")
	}
	if !found {
		return "", nil, apperr.NotFound("No election found")
	}

	return i.IssueFor(voter.Email, election.ID)
}

// IssueFor 为已知的选民和选举签发令牌，不做查询
func (i *Issuer) IssueFor(email, electionID string) (string, *model.VoterClaims, error) {
	now := i.now()
	claims := voterClaims{
		Email:      email,
		ElectionID: electionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", nil, apperr.Wrap(fmt.Errorf("签名令牌失败: %w", err), "sign token")
	}

	return signed, &model.VoterClaims{
		VoterEmail: email,
		ElectionID: electionID,
		IssuedAt:   claims.IssuedAt.Time,
		ExpiresAt:  claims.ExpiresAt.Time,
	}, nil
}

// Parse 只校验签名和有效期，返回令牌内容
func (i *Issuer) Parse(raw string) (*model.VoterClaims, error) {
	var claims voterClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.Unauthorized("Token has expired")
		}
		return nil, apperr.Unauthorized("Invalid token")
	}
	if claims.Email == "" || claims.ElectionID == "" {
		return nil, apperr.Unauthorized("Invalid token")
	}

	out := &model.VoterClaims{VoterEmail: claims.Email, ElectionID: claims.ElectionID}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	out.ExpiresAt = claims.ExpiresAt.Time
	return out, nil
}

// Validate 校验令牌并重新解析选民和最新选举，返回选民
func (i *Issuer) Validate(ctx context.Context, raw string) (*model.Voter, error) {
	claims, err := i.Parse(raw)
	if err != nil {
		return nil, err
	}

	voter, found, err := i.voters.Find(ctx, claims.VoterEmail)
	if err != nil {
		return nil, err
	}
	if !found || voter.Email != claims.VoterEmail {
		return nil, apperr.Unauthorized("Voter not found")
	}

	election, found, err := i.elections.FindLatestElection(ctx)
	if err != nil {
		return nil, apperr.Wrap(err, "find latest election")
	}
	if !found || election.ID != claims.ElectionID {
		i.logger.Info("令牌所属选举已不是最新选举",
			zap.String("voterId", voter.ID),
			zap.String("tokenElectionId", claims.ElectionID))
		return nil, apperr.Unauthorized("Token is not valid for the current election")
	}

	return voter, nil
}
