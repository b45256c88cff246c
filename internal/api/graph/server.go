package graph

import (
	"context"
	"net/http"
	"sort"
	"time"

	graphql "github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"
	"go.uber.org/zap"

	"github.com/lvdashuaibi/electvote/internal/apperr"
	"github.com/lvdashuaibi/electvote/internal/model"
	"github.com/lvdashuaibi/electvote/internal/service"
)

// GraphQLServer GraphQL服务
type GraphQLServer struct {
	schema   *graphql.Schema
	handler  *relay.Handler
	resolver *Resolver
}

const schemaString = `
type Candidate {
  id: ID!
  name: String!
  currentPosition: String!
  imageUrl: String
}

type Election {
  id: ID!
  year: Int!
  state: String!
  active: Boolean!
  startDate: String!
  endDate: String!
  candidateCount: Int!
  voterCount: Int!
}

type CandidateTally {
  candidate: Candidate!
  count: Int!
}

type PositionSummary {
  position: String!
  totalVotes: Int!
  leadingCandidates: [CandidateTally!]!
}

type ElectionSummary {
  active: Boolean!
  year: Int!
  startDate: String!
  endDate: String!
  totalVotes: Int!
  positions: [PositionSummary!]!
}

type VoteResult {
  success: Boolean!
  message: String!
  voterId: String!
  candidateId: String!
}

type Query {
  activeElection: Election!
  latestElection: Election!
  electionByYear(year: Int!): Election!
  # 不传year时返回最新选举的统计
  summary(year: Int): ElectionSummary!
  alreadyVoted(token: String!): Boolean!
}

type Mutation {
  castVote(token: String!, candidateId: ID!): VoteResult!
}

schema {
  query: Query
  mutation: Mutation
}
`

// TokenValidator 由token.Issuer实现
type TokenValidator interface {
	Validate(ctx context.Context, raw string) (*model.Voter, error)
}

func NewGraphQLServer(elections *service.ElectionService, tokens TokenValidator, logger *zap.Logger) *GraphQLServer {
	resolver := &Resolver{elections: elections, tokens: tokens, logger: logger}
	schema := graphql.MustParseSchema(schemaString, resolver)

	return &GraphQLServer{
		schema:   schema,
		handler:  &relay.Handler{Schema: schema},
		resolver: resolver,
	}
}

func (s *GraphQLServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Exec 直接执行查询
func (s *GraphQLServer) Exec(ctx context.Context, query string, variables map[string]interface{}) *graphql.Response {
	return s.schema.Exec(ctx, query, "", variables)
}

// resolverError 只暴露可以返回给调用方的信息，分类放在extensions.code
type resolverError struct {
	kind apperr.Kind
	msg  string
}

func (e *resolverError) Error() string { return e.msg }

func (e *resolverError) Extensions() map[string]interface{} {
	return map[string]interface{}{"code": e.kind.String()}
}

// Resolver 根解析器
type Resolver struct {
	elections *service.ElectionService
	tokens    TokenValidator
	logger    *zap.Logger
}

func (r *Resolver) wrap(err error) error {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		r.logger.Error("GraphQL请求内部错误", zap.Error(err))
	}
	return &resolverError{kind: kind, msg: apperr.Message(err)}
}

func (r *Resolver) ActiveElection(ctx context.Context) (*electionResolver, error) {
	view, err := r.elections.GetActiveElection(ctx)
	if err != nil {
		return nil, r.wrap(err)
	}
	return &electionResolver{view}, nil
}

func (r *Resolver) LatestElection(ctx context.Context) (*electionResolver, error) {
	view, err := r.elections.GetLatestElection(ctx)
	if err != nil {
		return nil, r.wrap(err)
	}
	return &electionResolver{view}, nil
}

func (r *Resolver) ElectionByYear(ctx context.Context, args struct{ Year int32 }) (*electionResolver, error) {
	view, err := r.elections.GetElectionByYear(ctx, int(args.Year))
	if err != nil {
		return nil, r.wrap(err)
	}
	return &electionResolver{view}, nil
}

func (r *Resolver) Summary(ctx context.Context, args struct{ Year *int32 }) (*summaryResolver, error) {
	var (
		sum *model.ElectionSummary
		err error
	)
	if args.Year != nil {
		sum, err = r.elections.GetElectionSummaryByYear(ctx, int(*args.Year))
	} else {
		sum, err = r.elections.GetLatestElectionSummary(ctx)
	}
	if err != nil {
		return nil, r.wrap(err)
	}
	return &summaryResolver{sum}, nil
}

func (r *Resolver) voter(ctx context.Context, token string) (*model.Voter, error) {
	if token == "" {
		return nil, apperr.Unauthorized("Missing voter token")
	}
	return r.tokens.Validate(ctx, token)
}

func (r *Resolver) AlreadyVoted(ctx context.Context, args struct{ Token string }) (bool, error) {
	voter, err := r.voter(ctx, args.Token)
	if err != nil {
		return false, r.wrap(err)
	}
	voted, err := r.elections.CheckIfAlreadyVoted(ctx, voter.ID)
	if err != nil {
		return false, r.wrap(err)
	}
	return voted, nil
}

func (r *Resolver) CastVote(ctx context.Context, args struct {
	Token       string
	CandidateID graphql.ID
}) (*voteResultResolver, error) {
	voter, err := r.voter(ctx, args.Token)
	if err != nil {
		return nil, r.wrap(err)
	}
	res, err := r.elections.CastVote(ctx, voter.ID, string(args.CandidateID))
	if err != nil {
		return nil, r.wrap(err)
	}
	return &voteResultResolver{res}, nil
}

type electionResolver struct {
	view *model.ElectionView
}

func (r *electionResolver) ID() graphql.ID        { return graphql.ID(r.view.ID) }
func (r *electionResolver) Year() int32           { return int32(r.view.Year) }
func (r *electionResolver) State() string         { return string(r.view.State) }
func (r *electionResolver) Active() bool          { return r.view.Active }
func (r *electionResolver) StartDate() string     { return r.view.StartDate.Format(time.RFC3339) }
func (r *electionResolver) EndDate() string       { return r.view.EndDate.Format(time.RFC3339) }
func (r *electionResolver) CandidateCount() int32 { return int32(r.view.CandidateCount) }
func (r *electionResolver) VoterCount() int32     { return int32(r.view.VoterCount) }

type candidateResolver struct {
	c *model.Candidate
}

func (r *candidateResolver) ID() graphql.ID          { return graphql.ID(r.c.ID) }
func (r *candidateResolver) Name() string            { return r.c.Name }
func (r *candidateResolver) CurrentPosition() string { return r.c.CurrentPosition }

func (r *candidateResolver) ImageURL() *string {
	if r.c.ImageURL == "" {
		return nil
	}
	return &r.c.ImageURL
}

type tallyResolver struct {
	t model.CandidateTally
}

func (r *tallyResolver) Candidate() *candidateResolver { return &candidateResolver{r.t.Candidate} }
func (r *tallyResolver) Count() int32                  { return int32(r.t.Count) }

type positionResolver struct {
	name string
	p    model.PositionSummary
}

func (r *positionResolver) Position() string  { return r.name }
func (r *positionResolver) TotalVotes() int32 { return int32(r.p.TotalVotes) }

func (r *positionResolver) LeadingCandidates() []*tallyResolver {
	out := make([]*tallyResolver, 0, len(r.p.LeadingCandidates))
	for _, t := range r.p.LeadingCandidates {
		out = append(out, &tallyResolver{t})
	}
	return out
}

type summaryResolver struct {
	s *model.ElectionSummary
}

func (r *summaryResolver) Active() bool      { return r.s.Active }
func (r *summaryResolver) Year() int32       { return int32(r.s.Year) }
func (r *summaryResolver) StartDate() string { return r.s.StartDate.Format(time.RFC3339) }
func (r *summaryResolver) EndDate() string   { return r.s.EndDate.Format(time.RFC3339) }
func (r *summaryResolver) TotalVotes() int32 { return int32(r.s.TotalVotes) }

// Positions 按职位名排序
func (r *summaryResolver) Positions() []*positionResolver {
	names := make([]string, 0, len(r.s.Positions))
	for name := range r.s.Positions {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*positionResolver, 0, len(names))
	for _, name := range names {
		out = append(out, &positionResolver{name: name, p: r.s.Positions[name]})
	}
	return out
}

type voteResultResolver struct {
	res *model.VoteResult
}

func (r *voteResultResolver) Success() bool       { return r.res.Success }
func (r *voteResultResolver) Message() string     { return r.res.Message }
func (r *voteResultResolver) VoterID() string     { return r.res.VoterID }
func (r *voteResultResolver) CandidateID() string { return r.res.CandidateID }
