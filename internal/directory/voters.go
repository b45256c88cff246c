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

// VoterDirectory 选民目录，以邮箱为自然键
type VoterDirectory struct {
	repo   repository.VoterRepository
	logger *zap.Logger
}

func NewVoterDirectory(repo repository.VoterRepository, logger *zap.Logger) *VoterDirectory {
	return &VoterDirectory{repo: repo, logger: logger}
}

func (d *VoterDirectory) GetAll(ctx context.Context) ([]*model.Voter, error) {
	vs, err := d.repo.ListVoters(ctx)
	if err != nil {
		return nil, apperr.Wrap(err, "list voters")
	}
	if vs == nil {
		vs = []*model.Voter{}
	}
	return vs, nil
}

func (d *VoterDirectory) GetByID(ctx context.Context, id string) (*model.Voter, error) {
	v, found, err := d.repo.FindVoterByID(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(err, "find voter")
	}
	if !found {
		return nil, apperr.NotFound("Voter not found")
	}
	return v, nil
}

func (d *VoterDirectory) GetByEmail(ctx context.Context, email string) (*model.Voter, error) {
	v, found, err := d.Find(ctx, email)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperr.NotFound("Voter not found")
	}
	return v, nil
}

// Find 按邮箱查找，邮箱不区分大小写
func (d *VoterDirectory) Find(ctx context.Context, email string) (*model.Voter, bool, error) {
	v, found, err := d.repo.FindVoterByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, false, apperr.Wrap(err, "find voter")
	}
	return v, found, nil
}

func (d *VoterDirectory) GetMany(ctx context.Context, ids []string) ([]*model.Voter, error) {
	vs, err := d.repo.FindVotersByIDs(ctx, ids)
	if err != nil {
		return nil, apperr.Wrap(err, "find voters")
	}
	if vs == nil {
		vs = []*model.Voter{}
	}
	return vs, nil
}

func (d *VoterDirectory) Create(ctx context.Context, in model.VoterInput) (*model.Voter, error) {
	in = normalizeVoter(in)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	v := &model.Voter{ID: uuid.NewString(), Email: in.Email, Name: in.Name}
	if err := d.repo.CreateVoter(ctx, v); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, apperr.Conflict("Voter with this email already exists")
		}
		return nil, apperr.Wrap(err, "create voter")
	}
	return v, nil
}

func (d *VoterDirectory) Update(ctx context.Context, id string, upd model.VoterUpdate) (*model.Voter, error) {
	if err := validation.Struct(upd); err != nil {
		return nil, err
	}
	v, err := d.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Email != nil {
		v.Email = normalizeEmail(*upd.Email)
	}
	if upd.Name != nil {
		v.Name = strings.TrimSpace(*upd.Name)
	}
	return v, d.save(ctx, v)
}

func (d *VoterDirectory) save(ctx context.Context, v *model.Voter) error {
	found, err := d.repo.UpdateVoter(ctx, v)
	if errors.Is(err, repository.ErrDuplicateKey) {
		return apperr.Conflict("Voter with this email already exists")
	}
	if err != nil {
		return apperr.Wrap(err, "update voter")
	}
	if !found {
		return apperr.NotFound("Voter not found")
	}
	return nil
}

func (d *VoterDirectory) Remove(ctx context.Context, id string) error {
	found, err := d.repo.DeleteVoter(ctx, id)
	if err != nil {
		return apperr.Wrap(err, "delete voter")
	}
	if !found {
		return apperr.NotFound("Voter not found")
	}
	return nil
}

// BulkUpsert 并发按邮箱新建或更新选民
func (d *VoterDirectory) BulkUpsert(ctx context.Context, items []model.VoterInput) (*model.BulkResult, error) {
	for i := range items {
		items[i] = normalizeVoter(items[i])
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
		d.logger.Error("批量写入选民失败", zap.Int("items", len(items)), zap.Error(err))
		return nil, err
	}

	return &model.BulkResult{
		Created: int(created.Load()),
		Updated: int(updated.Load()),
		IDs:     ids,
	}, nil
}

func (d *VoterDirectory) upsert(ctx context.Context, in model.VoterInput) (string, bool, error) {
	existing, found, err := d.Find(ctx, in.Email)
	if err != nil {
		return "", false, err
	}
	if !found {
		v, err := d.Create(ctx, in)
		if err == nil {
			return v.ID, true, nil
		}
		if !apperr.Is(err, apperr.KindConflict) {
			return "", false, err
		}
		// 同一邮箱被并发创建，转为更新
		if existing, found, err = d.Find(ctx, in.Email); err != nil {
			return "", false, err
		}
		if !found {
			return "", false, apperr.Wrap(errors.New("voter vanished during upsert"), "upsert voter")
		}
	}

	if in.Name != "" && in.Name != existing.Name {
		existing.Name = in.Name
		if err := d.save(ctx, existing); err != nil {
			return "", false, err
		}
	}
	return existing.ID, false, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizeVoter(in model.VoterInput) model.VoterInput {
	in.Email = normalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	return in
}
