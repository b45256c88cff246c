package directory

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lvdashuaibi/electvote/internal/apperr"
	"github.com/lvdashuaibi/electvote/internal/model"
	"github.com/lvdashuaibi/electvote/internal/repository"
	"github.com/lvdashuaibi/electvote/internal/validation"
)

// bulkConcurrency 批量写入时的并发上限
const bulkConcurrency = 16

// CandidateDirectory 候选人目录，以姓名为自然键
type CandidateDirectory struct {
	repo   repository.CandidateRepository
	logger *zap.Logger
}

func NewCandidateDirectory(repo repository.CandidateRepository, logger *zap.Logger) *CandidateDirectory {
	return &CandidateDirectory{repo: repo, logger: logger}
}

func (d *CandidateDirectory) GetAll(ctx context.Context) ([]*model.Candidate, error) {
	cs, err := d.repo.ListCandidates(ctx)
	if err != nil {
		return nil, apperr.Wrap(err, "list candidates")
	}
	if cs == nil {
		cs = []*model.Candidate{}
	}
	return cs, nil
}

func (d *CandidateDirectory) GetByID(ctx context.Context, id string) (*model.Candidate, error) {
	c, found, err := d.repo.FindCandidateByID(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(err, "find candidate")
	}
	if !found {
		return nil, apperr.NotFound("Candidate not found")
	}
	return c, nil
}

func (d *CandidateDirectory) GetByName(ctx context.Context, name string) (*model.Candidate, error) {
	c, found, err := d.Find(ctx, name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperr.NotFound("Candidate not found")
	}
	return c, nil
}

// Find 按姓名查找，不存在时found为false
func (d *CandidateDirectory) Find(ctx context.Context, name string) (*model.Candidate, bool, error) {
	c, found, err := d.repo.FindCandidateByName(ctx, strings.TrimSpace(name))
	if err != nil {
		return nil, false, apperr.Wrap(err, "find candidate")
	}
	return c, found, nil
}

// GetMany 按id批量获取，不存在的id被忽略
func (d *CandidateDirectory) GetMany(ctx context.Context, ids []string) ([]*model.Candidate, error) {
	cs, err := d.repo.FindCandidatesByIDs(ctx, ids)
	if err != nil {
		return nil, apperr.Wrap(err, "find candidates")
	}
	if cs == nil {
		cs = []*model.Candidate{}
	}
	return cs, nil
}

func (d *CandidateDirectory) Create(ctx context.Context, in model.CandidateInput) (*model.Candidate, error) {
	in = normalizeCandidate(in)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	c := &model.Candidate{
		ID:              uuid.NewString(),
		Name:            in.Name,
		CurrentPosition: in.CurrentPosition,
		ImageURL:        in.ImageURL,
	}
	if err := d.repo.CreateCandidate(ctx, c); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, apperr.Conflict("Candidate with this name already exists")
		}
		return nil, apperr.Wrap(err, "create candidate")
	}
	return c, nil
}

func (d *CandidateDirectory) Update(ctx context.Context, id string, upd model.CandidateUpdate) (*model.Candidate, error) {
	if err := validation.Struct(upd); err != nil {
		return nil, err
	}
	c, err := d.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Name != nil {
		c.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.CurrentPosition != nil {
		c.CurrentPosition = strings.TrimSpace(*upd.CurrentPosition)
	}
	if upd.ImageURL != nil {
		c.ImageURL = *upd.ImageURL
	}
	return c, d.save(ctx, c)
}

func (d *CandidateDirectory) save(ctx context.Context, c *model.Candidate) error {
	found, err := d.repo.UpdateCandidate(ctx, c)
	if errors.Is(err, repository.ErrDuplicateKey) {
		return apperr.Conflict("Candidate with this name already exists")
	}
	if err != nil {
		return apperr.Wrap(err, "update candidate")
	}
	if !found {
		return apperr.NotFound("Candidate not found")
	}
	return nil
}

func (d *CandidateDirectory) Remove(ctx context.Context, id string) error {
	found, err := d.repo.DeleteCandidate(ctx, id)
	if errors.Is(err, repository.ErrInUse) {
		return apperr.Conflict("Cannot delete a candidate that belongs to an election")
	}
	if err != nil {
		return apperr.Wrap(err, "delete candidate")
	}
	if !found {
		return apperr.NotFound("Candidate not found")
	}
	return nil
}

// SetPastPosition 记录候选人某一年参选的职位
func (d *CandidateDirectory) SetPastPosition(ctx context.Context, id string, year int, position string) error {
	found, err := d.repo.SetPastPosition(ctx, id, year, position)
	if err != nil {
		return apperr.Wrap(err, "set past position")
	}
	if !found {
		return apperr.NotFound("Candidate not found")
	}
	return nil
}

// BulkUpsert 并发按姓名新建或更新候选人
func (d *CandidateDirectory) BulkUpsert(ctx context.Context, items []model.CandidateInput) (*model.BulkResult, error) {
	for i := range items {
		items[i] = normalizeCandidate(items[i])
		if err := validation.Struct(items[i]); err != nil {
			return nil, err
		}
	}

	var (
		created = atomic.NewInt64(0)
		updated = atomic.NewInt64(0)
		mu      sync.Mutex
		ids     = make([]string, 0, len(items))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bulkConcurrency)
	for _, item := range items {
		item := item
		g.Go(func() error {
			id, isNew, err := d.upsert(gctx, item)
			if err != nil {
				return err
			}
			if isNew {
				created.Inc()
			} else {
				updated.Inc()
			}
			mu.Lock()
			ids = append(ids, id)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		d.logger.Error("批量写入候选人失败", zap.Int("items", len(items)), zap.Error(err))
		return nil, err
	}

	return &model.BulkResult{
		Created: int(created.Load()),
		Updated: int(updated.Load()),
		IDs:     ids,
	}, nil
}

func (d *CandidateDirectory) upsert(ctx context.Context, in model.CandidateInput) (string, bool, error) {
	existing, found, err := d.Find(ctx, in.Name)
	if err != nil {
		return "", false, err
	}
	if !found {
		c, err := d.Create(ctx, in)
		if err == nil {
			return c.ID, true, nil
		}
		if !apperr.Is(err, apperr.KindConflict) {
			return "", false, err
		}
		// 同名候选人被并发创建，转为更新
		if existing, found, err = d.Find(ctx, in.Name); err != nil {
			return "", false, err
		}
		if !found {
			return "", false, apperr.Wrap(errors.New("candidate vanished during upsert"), "upsert candidate")
		}
	}

	existing.CurrentPosition = in.CurrentPosition
	if in.ImageURL != "" {
		existing.ImageURL = in.ImageURL
	}
	if err := d.save(ctx, existing); err != nil {
		return "", false, err
	}
	return existing.ID, false, nil
}

func normalizeCandidate(in model.CandidateInput) model.CandidateInput {
	in.Name = strings.TrimSpace(in.Name)
	in.CurrentPosition = strings.TrimSpace(in.CurrentPosition)
	in.ImageURL = strings.TrimSpace(in.ImageURL)
	return in
}
