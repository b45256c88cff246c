package rest

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lvdashuaibi/electvote/config"
	"github.com/lvdashuaibi/electvote/internal/apperr"
	"github.com/lvdashuaibi/electvote/internal/directory"
	"github.com/lvdashuaibi/electvote/internal/model"
	"github.com/lvdashuaibi/electvote/internal/service"
	"github.com/lvdashuaibi/electvote/internal/validation"
)

// TokenService 由token.Issuer实现
type TokenService interface {
	Issue(ctx context.Context, email string) (string, *model.VoterClaims, error)
	Validate(ctx context.Context, raw string) (*model.Voter, error)
}

// EmailDispatcher 由notify.Dispatcher实现
type EmailDispatcher interface {
	SendPreOrPostElectionEmails(ctx context.Context) (string, error)
}

// Handlers 路由依赖
type Handlers struct {
	Elections  *service.ElectionService
	Candidates *directory.CandidateDirectory
	Voters     *directory.VoterDirectory
	Tokens     TokenService
	Emails     EmailDispatcher
	// GraphQL 为nil时不挂载
	GraphQL http.Handler
}

type server struct {
	Handlers
	logger *zap.Logger
}

// NewRouter 创建gin路由
func NewRouter(h Handlers, cfg config.Config, logger *zap.Logger) *gin.Engine {
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(logger), RequestTimeout(cfg.Server.RequestTimeout))

	s := &server{Handlers: h, logger: logger}
	admin := AdminAuth(cfg.Server.AdminToken)
	voter := VoterAuth(h.Tokens, logger)

	r.GET("/", s.health)
	r.GET("/health", s.health)

	election := r.Group("/election")
	{
		election.GET("/active", s.getActiveElection)
		election.GET("/active/summary", s.getActiveSummary)
		election.GET("/latest", s.getLatestElection)
		election.GET("/latest/summary", s.getLatestSummary)
		election.GET("/:year", s.getElectionByYear)
		election.GET("/:year/summary", s.getSummaryByYear)
		election.GET("/:year/candidates", s.getCandidatesByYear)
		election.GET("/:year/voters", s.getVotersByYear)

		election.POST("", admin, s.createElection)
		election.PATCH("/end", admin, s.endActiveElection)
		election.PATCH("/remove-people", admin, s.removePeople)
		election.PATCH("/:year", admin, s.updateElection)
		election.DELETE("/latest", admin, s.deleteLatestElection)
	}

	candidate := r.Group("/candidate")
	{
		candidate.GET("/all", s.listCandidates)
		candidate.GET("", s.getCandidateByName)
		candidate.GET("/:id", s.getCandidate)
		candidate.POST("", admin, s.createCandidate)
		candidate.POST("/bulk", admin, s.bulkCandidates)
		candidate.PATCH("/:id", admin, s.updateCandidate)
		candidate.DELETE("/:id", admin, s.deleteCandidate)
	}

	voters := r.Group("/voter")
	{
		voters.GET("/all", s.listVoters)
		voters.GET("", s.getVoterByEmail)
		voters.GET("/:id", s.getVoter)
		voters.POST("", admin, s.createVoter)
		voters.POST("/bulk", admin, s.bulkVoters)
		voters.PATCH("/:id", admin, s.updateVoter)
		voters.DELETE("/:id", admin, s.deleteVoter)
	}

	vote := r.Group("/vote")
	{
		vote.POST("/token", admin, s.issueToken)
		vote.GET("/verify", voter, s.verifyToken)
		vote.POST("", voter, s.castVote)
		vote.POST("/batch", voter, s.castVotes)
		vote.GET("/already-voted", voter, s.alreadyVoted)
	}

	// 定时服务以GET回调
	r.GET(service.EmailCallbackPath, admin, s.sendEmails)
	r.POST(service.EmailCallbackPath, admin, s.sendEmails)

	if h.GraphQL != nil {
		r.POST(cfg.GraphQL.Path, gin.WrapH(h.GraphQL))
	}
	return r
}

func (s *server) fail(c *gin.Context, err error) {
	abortWithError(c, s.logger, err)
}

// bind 解析JSON请求体并校验
func (s *server) bind(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		s.fail(c, apperr.InvalidInput("Invalid request body"))
		return false
	}
	if err := validation.Struct(v); err != nil {
		s.fail(c, err)
		return false
	}
	return true
}

func (s *server) year(c *gin.Context) (int, bool) {
	year, err := strconv.Atoi(c.Param("year"))
	if err != nil || year < 1 {
		s.fail(c, apperr.InvalidInput("Invalid year"))
		return 0, false
	}
	return year, true
}

func (s *server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
