package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lvdashuaibi/electvote/internal/model"
)

func (s *server) getActiveElection(c *gin.Context) {
	view, err := s.Elections.GetActiveElection(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *server) getActiveSummary(c *gin.Context) {
	sum, err := s.Elections.GetActiveElectionSummary(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (s *server) getLatestElection(c *gin.Context) {
	view, err := s.Elections.GetLatestElection(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *server) getLatestSummary(c *gin.Context) {
	sum, err := s.Elections.GetLatestElectionSummary(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (s *server) getElectionByYear(c *gin.Context) {
	year, ok := s.year(c)
	if !ok {
		return
	}
	view, err := s.Elections.GetElectionByYear(c.Request.Context(), year)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *server) getSummaryByYear(c *gin.Context) {
	year, ok := s.year(c)
	if !ok {
		return
	}
	sum, err := s.Elections.GetElectionSummaryByYear(c.Request.Context(), year)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (s *server) getCandidatesByYear(c *gin.Context) {
	year, ok := s.year(c)
	if !ok {
		return
	}
	cs, err := s.Elections.GetCandidatesByYear(c.Request.Context(), year)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cs)
}

func (s *server) getVotersByYear(c *gin.Context) {
	year, ok := s.year(c)
	if !ok {
		return
	}
	vs, err := s.Elections.GetVotersByYear(c.Request.Context(), year)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, vs)
}

func (s *server) createElection(c *gin.Context) {
	var req model.CreateElectionRequest
	if !s.bind(c, &req) {
		return
	}
	resp, err := s.Elections.CreateElection(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (s *server) updateElection(c *gin.Context) {
	year, ok := s.year(c)
	if !ok {
		return
	}
	var req model.UpdateElectionRequest
	if !s.bind(c, &req) {
		return
	}
	resp, err := s.Elections.UpdateElectionByYear(c.Request.Context(), year, req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *server) endActiveElection(c *gin.Context) {
	if err := s.Elections.EndActiveElection(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, model.MessageResponse{Message: "Election ended"})
}

func (s *server) removePeople(c *gin.Context) {
	var req model.RemoveMembersRequest
	if !s.bind(c, &req) {
		return
	}
	msg, err := s.Elections.DeleteCandidatesOrVoters(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, model.MessageResponse{Message: msg})
}

func (s *server) deleteLatestElection(c *gin.Context) {
	msg, err := s.Elections.DeleteLatestElection(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, model.MessageResponse{Message: msg})
}

func (s *server) sendEmails(c *gin.Context) {
	msg, err := s.Emails.SendPreOrPostElectionEmails(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, model.MessageResponse{Message: msg})
}
