package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lvdashuaibi/electvote/internal/model"
)

func (s *server) issueToken(c *gin.Context) {
	var req model.TokenRequest
	if !s.bind(c, &req) {
		return
	}
	raw, claims, err := s.Tokens.Issue(c.Request.Context(), req.Email)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, model.TokenResponse{Token: raw, Claims: claims})
}

func (s *server) verifyToken(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Token is valid", "voter": currentVoter(c)})
}

func (s *server) castVote(c *gin.Context) {
	var req model.CastVoteRequest
	if !s.bind(c, &req) {
		return
	}
	res, err := s.Elections.CastVote(c.Request.Context(), currentVoter(c).ID, req.CandidateID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *server) castVotes(c *gin.Context) {
	var req model.CastVotesRequest
	if !s.bind(c, &req) {
		return
	}
	results, err := s.Elections.CastVotes(c.Request.Context(), currentVoter(c).ID, req.CandidateIDs)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

func (s *server) alreadyVoted(c *gin.Context) {
	voted, err := s.Elections.CheckIfAlreadyVoted(c.Request.Context(), currentVoter(c).ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"voted": voted})
}
