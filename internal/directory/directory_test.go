package directory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lvdashuaibi/electvote/internal/apperr"
	"github.com/lvdashuaibi/electvote/internal/model"
	"github.com/lvdashuaibi/electvote/internal/repository"
)

func strPtr(s string) *string { return &s }

func TestCandidateCRUD(t *testing.T) {
	ctx := context.Background()
	d := NewCandidateDirectory(repository.NewMemoryRepository(), zap.NewNop())

	alice, err := d.Create(ctx, model.CandidateInput{Name: " Alice ", CurrentPosition: "President"})
	require.NoError(t, err)
	assert.Equal(t, "Alice", alice.Name)

	_, err = d.Create(ctx, model.CandidateInput{Name: "Alice", CurrentPosition: "Treasurer"})
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	_, err = d.Create(ctx, model.CandidateInput{Name: "NoPosition"})
	assert.True(t, apperr.Is(err, apperr.KindInvalidInput))

	got, err := d.GetByName(ctx, "Alice")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)

	_, err = d.GetByID(ctx, "missing")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	updated, err := d.Update(ctx, alice.ID, model.CandidateUpdate{ImageURL: strPtr("https://img.example.com/alice.png")})
	require.NoError(t, err)
	assert.Equal(t, "President", updated.CurrentPosition)
	assert.Equal(t, "https://img.example.com/alice.png", updated.ImageURL)

	_, err = d.Update(ctx, "missing", model.CandidateUpdate{Name: strPtr("X")})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	require.NoError(t, d.Remove(ctx, alice.ID))
	assert.True(t, apperr.Is(d.Remove(ctx, alice.ID), apperr.KindNotFound))
}

func TestRemoveCandidateInElection(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	d := NewCandidateDirectory(repo, zap.NewNop())
	alice, err := d.Create(ctx, model.CandidateInput{Name: "Alice", CurrentPosition: "President"})
	require.NoError(t, err)
	require.NoError(t, repo.CreateElection(ctx, &model.Election{
		ID:           "e1",
		StartDate:    time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		EndDate:      time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC),
		CandidateIDs: []string{alice.ID},
	}))

	err = d.Remove(ctx, alice.ID)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	_, err = d.GetByID(ctx, alice.ID)
	assert.NoError(t, err)
}

func TestCandidateRenameConflict(t *testing.T) {
	ctx := context.Background()
	d := NewCandidateDirectory(repository.NewMemoryRepository(), zap.NewNop())
	_, err := d.Create(ctx, model.CandidateInput{Name: "Alice", CurrentPosition: "President"})
	require.NoError(t, err)
	bob, err := d.Create(ctx, model.CandidateInput{Name: "Bob", CurrentPosition: "President"})
	require.NoError(t, err)

	_, err = d.Update(ctx, bob.ID, model.CandidateUpdate{Name: strPtr("Alice")})
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestCandidateBulkUpsertIdempotent(t *testing.T) {
	ctx := context.Background()
	d := NewCandidateDirectory(repository.NewMemoryRepository(), zap.NewNop())
	items := func() []model.CandidateInput {
		return []model.CandidateInput{
			{Name: "Alice", CurrentPosition: "President"},
			{Name: "Bob", CurrentPosition: "President"},
		}
	}

	first, err := d.BulkUpsert(ctx, items())
	require.NoError(t, err)
	assert.Equal(t, 2, first.Created)
	assert.Equal(t, 0, first.Updated)
	assert.Len(t, first.IDs, 2)

	second, err := d.BulkUpsert(ctx, items())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 2, second.Updated)
	assert.ElementsMatch(t, first.IDs, second.IDs)

	all, err := d.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCandidateBulkUpsertUpdatesPosition(t *testing.T) {
	ctx := context.Background()
	d := NewCandidateDirectory(repository.NewMemoryRepository(), zap.NewNop())
	_, err := d.BulkUpsert(ctx, []model.CandidateInput{{Name: "Alice", CurrentPosition: "President"}})
	require.NoError(t, err)

	_, err = d.BulkUpsert(ctx, []model.CandidateInput{{Name: "Alice", CurrentPosition: "Treasurer"}})
	require.NoError(t, err)

	alice, err := d.GetByName(ctx, "Alice")
	require.NoError(t, err)
	assert.Equal(t, "Treasurer", alice.CurrentPosition)
}

func TestCandidateBulkUpsertSameNameInBatch(t *testing.T) {
	ctx := context.Background()
	d := NewCandidateDirectory(repository.NewMemoryRepository(), zap.NewNop())

	items := make([]model.CandidateInput, 20)
	for i := range items {
		items[i] = model.CandidateInput{Name: "Alice", CurrentPosition: "President"}
	}
	res, err := d.BulkUpsert(ctx, items)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 19, res.Updated)
	assert.Len(t, res.IDs, 20)

	all, _ := d.GetAll(ctx)
	assert.Len(t, all, 1)
}

func TestCandidateBulkUpsertRejectsInvalidItem(t *testing.T) {
	ctx := context.Background()
	d := NewCandidateDirectory(repository.NewMemoryRepository(), zap.NewNop())

	_, err := d.BulkUpsert(ctx, []model.CandidateInput{{Name: "Alice", CurrentPosition: "President"}, {Name: ""}})
	assert.True(t, apperr.Is(err, apperr.KindInvalidInput))
	all, _ := d.GetAll(ctx)
	assert.Empty(t, all)
}

func TestSetPastPosition(t *testing.T) {
	ctx := context.Background()
	d := NewCandidateDirectory(repository.NewMemoryRepository(), zap.NewNop())
	alice, err := d.Create(ctx, model.CandidateInput{Name: "Alice", CurrentPosition: "President"})
	require.NoError(t, err)

	require.NoError(t, d.SetPastPosition(ctx, alice.ID, 2025, "Secretary"))
	require.NoError(t, d.SetPastPosition(ctx, alice.ID, 2026, "President"))
	got, _ := d.GetByID(ctx, alice.ID)
	assert.Equal(t, map[int]string{2025: "Secretary", 2026: "President"}, got.PastPositions)

	assert.True(t, apperr.Is(d.SetPastPosition(ctx, "missing", 2026, "President"), apperr.KindNotFound))
}

func TestVoterBulkUpsertNormalizesEmail(t *testing.T) {
	ctx := context.Background()
	d := NewVoterDirectory(repository.NewMemoryRepository(), zap.NewNop())

	var items []model.VoterInput
	for i := 0; i < 30; i++ {
		items = append(items, model.VoterInput{Email: fmt.Sprintf("voter%d@x.com", i)})
	}
	res, err := d.BulkUpsert(ctx, items)
	require.NoError(t, err)
	assert.Equal(t, 30, res.Created)

	res, err = d.BulkUpsert(ctx, []model.VoterInput{{Email: " VOTER1@X.COM ", Name: "One"}})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 1, res.Updated)

	v, err := d.GetByEmail(ctx, "Voter1@x.com")
	require.NoError(t, err)
	assert.Equal(t, "One", v.Name)
	assert.Equal(t, res.IDs[0], v.ID)
}

func TestVoterCRUD(t *testing.T) {
	ctx := context.Background()
	d := NewVoterDirectory(repository.NewMemoryRepository(), zap.NewNop())

	v, err := d.Create(ctx, model.VoterInput{Email: "v1@x.com"})
	require.NoError(t, err)

	_, err = d.Create(ctx, model.VoterInput{Email: "V1@x.com"})
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	_, err = d.Create(ctx, model.VoterInput{Email: "nope"})
	assert.True(t, apperr.Is(err, apperr.KindInvalidInput))

	v, err = d.Update(ctx, v.ID, model.VoterUpdate{Name: strPtr("Vee")})
	require.NoError(t, err)
	assert.Equal(t, "Vee", v.Name)

	many, err := d.GetMany(ctx, []string{v.ID, "missing"})
	require.NoError(t, err)
	assert.Len(t, many, 1)

	require.NoError(t, d.Remove(ctx, v.ID))
	_, err = d.GetByEmail(ctx, "v1@x.com")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
