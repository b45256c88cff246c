package service

import (
	"context"
	"sort"

	"github.com/lvdashuaibi/electvote/internal/apperr"
	"github.com/lvdashuaibi/electvote/internal/model"
)

func (s *ElectionService) GetLatestElectionSummary(ctx context.Context) (*model.ElectionSummary, error) {
	e, err := s.latest(ctx)
	if err != nil {
		return nil, err
	}
	return s.summarize(ctx, e)
}

func (s *ElectionService) GetActiveElectionSummary(ctx context.Context) (*model.ElectionSummary, error) {
	e, err := s.active(ctx)
	if err != nil {
		return nil, err
	}
	return s.summarize(ctx, e)
}

func (s *ElectionService) GetElectionSummaryByYear(ctx context.Context, year int) (*model.ElectionSummary, error) {
	e, err := s.byYear(ctx, year)
	if err != nil {
		return nil, err
	}
	return s.summarize(ctx, e)
}

// summarize 每次从完整的选票重新计票，按候选人当前职位分组
func (s *ElectionService) summarize(ctx context.Context, e *model.Election) (*model.ElectionSummary, error) {
	candidates, err := s.candidates.GetMany(ctx, e.CandidateIDs)
	if err != nil {
		return nil, err
	}
	votes, err := s.elections.ListVotes(ctx, e.ID)
	if err != nil {
		return nil, apperr.Wrap(err, "list votes")
	}

	return &model.ElectionSummary{
		Active:     e.IsActive(s.now()),
		StartDate:  e.StartDate,
		EndDate:    e.EndDate,
		Year:       e.Year(s.loc),
		TotalVotes: len(votes),
		Positions:  Tally(candidates, votes),
	}, nil
}

// Tally 计算每个职位的得票，票数相同按候选人id升序
func Tally(candidates []*model.Candidate, votes []model.Vote) map[string]model.PositionSummary {
	byPosition := make(map[string][]*model.Candidate)
	positionOf := make(map[string]string, len(candidates))
	counts := make(map[string]int, len(candidates))
	for _, c := range candidates {
		byPosition[c.CurrentPosition] = append(byPosition[c.CurrentPosition], c)
		positionOf[c.ID] = c.CurrentPosition
		counts[c.ID] = 0
	}

	totals := make(map[string]int, len(byPosition))
	for _, v := range votes {
		position, ok := positionOf[v.CandidateID]
		if !ok {
			continue
		}
		counts[v.CandidateID]++
		totals[position]++
	}

	positions := make(map[string]model.PositionSummary, len(byPosition))
	for position, cs := range byPosition {
		sort.Slice(cs, func(i, j int) bool {
			if counts[cs[i].ID] != counts[cs[j].ID] {
				return counts[cs[i].ID] > counts[cs[j].ID]
			}
			return cs[i].ID < cs[j].ID
		})

		leading := make([]model.CandidateTally, 0, len(cs))
		for _, c := range cs {
			leading = append(leading, model.CandidateTally{Candidate: c, Count: counts[c.ID]})
		}
		positions[position] = model.PositionSummary{
			TotalVotes:        totals[position],
			LeadingCandidates: leading,
		}
	}
	return positions
}
