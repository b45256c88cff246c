package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lvdashuaibi/electvote/internal/apperr"
	"github.com/lvdashuaibi/electvote/internal/model"
)

func TestStruct(t *testing.T) {
	assert.NoError(t, Struct(model.VoterInput{Email: "v1@x.com"}))

	err := Struct(model.VoterInput{Email: "not-an-email"})
	assert.True(t, apperr.Is(err, apperr.KindInvalidInput))
	assert.Equal(t, "Email must be a valid email address", apperr.Message(err))

	err = Struct(model.CandidateInput{Name: "Alice"})
	assert.Equal(t, "CurrentPosition is required", apperr.Message(err))
}

func TestStructDivesIntoSlices(t *testing.T) {
	err := Struct(model.CreateElectionRequest{
		Voters: []model.VoterInput{{Email: "ok@x.com"}, {Email: ""}},
	})
	assert.True(t, apperr.Is(err, apperr.KindInvalidInput))
	assert.Contains(t, apperr.Message(err), "Voters[1].Email is required")
}
