package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lvdashuaibi/electvote/internal/apperr"
	"github.com/lvdashuaibi/electvote/internal/model"
)

func (s *server) listCandidates(c *gin.Context) {
	cs, err := s.Candidates.GetAll(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cs)
}

func (s *server) getCandidateByName(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		s.fail(c, apperr.InvalidInput("name query parameter is required"))
		return
	}
	cand, err := s.Candidates.GetByName(c.Request.Context(), name)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cand)
}

func (s *server) getCandidate(c *gin.Context) {
	cand, err := s.Candidates.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cand)
}

func (s *server) createCandidate(c *gin.Context) {
	var in model.CandidateInput
	if !s.bind(c, &in) {
		return
	}
	cand, err := s.Candidates.Create(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, cand)
}

func (s *server) bulkCandidates(c *gin.Context) {
	var items []model.CandidateInput
	if err := c.ShouldBindJSON(&items); err != nil {
		s.fail(c, apperr.InvalidInput("Invalid request body"))
		return
	}
	res, err := s.Candidates.BulkUpsert(c.Request.Context(), items)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *server) updateCandidate(c *gin.Context) {
	var upd model.CandidateUpdate
	if !s.bind(c, &upd) {
		return
	}
	cand, err := s.Candidates.Update(c.Request.Context(), c.Param("id"), upd)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cand)
}

func (s *server) deleteCandidate(c *gin.Context) {
	if err := s.Candidates.Remove(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, model.MessageResponse{Message: "Candidate deleted successfully"})
}

func (s *server) listVoters(c *gin.Context) {
	vs, err := s.Voters.GetAll(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, vs)
}

func (s *server) getVoterByEmail(c *gin.Context) {
	email := c.Query("email")
	if email == "" {
		s.fail(c, apperr.InvalidInput("email query parameter is required"))
		return
	}
	v, err := s.Voters.GetByEmail(c.Request.Context(), email)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *server) getVoter(c *gin.Context) {
	v, err := s.Voters.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *server) createVoter(c *gin.Context) {
	var in model.VoterInput
	if !s.bind(c, &in) {
		return
	}
	v, err := s.Voters.Create(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, v)
}

func (s *server) bulkVoters(c *gin.Context) {
	var items []model.VoterInput
	if err := c.ShouldBindJSON(&items); err != nil {
		s.fail(c, apperr.InvalidInput("Invalid request body"))
		return
	}
	res, err := s.Voters.BulkUpsert(c.Request.Context(), items)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *server) updateVoter(c *gin.Context) {
	var upd model.VoterUpdate
	if !s.bind(c, &upd) {
		return
	}
	v, err := s.Voters.Update(c.Request.Context(), c.Param("id"), upd)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *server) deleteVoter(c *gin.Context) {
	if err := s.Voters.Remove(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, model.MessageResponse{Message: "Voter deleted successfully"})
}
