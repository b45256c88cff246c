package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lvdashuaibi/electvote/internal/model"
)

type voteKey struct {
	electionID string
	voterID    string
	position   string
}

// MemoryRepository 内存存储，storage.driver=memory 及测试使用
type MemoryRepository struct {
	mu         sync.RWMutex
	candidates map[string]*model.Candidate
	voters     map[string]*model.Voter
	elections  map[string]*model.Election
	votes      map[string][]model.Vote
	voteIndex  map[voteKey]struct{}
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		candidates: make(map[string]*model.Candidate),
		voters:     make(map[string]*model.Voter),
		elections:  make(map[string]*model.Election),
		votes:      make(map[string][]model.Vote),
		voteIndex:  make(map[voteKey]struct{}),
	}
}

func copyCandidate(c *model.Candidate) *model.Candidate {
	cp := *c
	if c.PastPositions != nil {
		cp.PastPositions = make(map[int]string, len(c.PastPositions))
		for y, p := range c.PastPositions {
			cp.PastPositions[y] = p
		}
	}
	return &cp
}

func copyVoter(v *model.Voter) *model.Voter {
	cp := *v
	return &cp
}

func copyElection(e *model.Election) *model.Election {
	cp := *e
	cp.CandidateIDs = append([]string(nil), e.CandidateIDs...)
	cp.VoterIDs = append([]string(nil), e.VoterIDs...)
	cp.Votes = nil
	return &cp
}

// ---- 候选人 ----

func (r *MemoryRepository) ListCandidates(ctx context.Context) ([]*model.Candidate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.Candidate, 0, len(r.candidates))
	for _, c := range r.candidates {
		out = append(out, copyCandidate(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *MemoryRepository) FindCandidateByID(ctx context.Context, id string) (*model.Candidate, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.candidates[id]
	if !ok {
		return nil, false, nil
	}
	return copyCandidate(c), true, nil
}

func (r *MemoryRepository) FindCandidateByName(ctx context.Context, name string) (*model.Candidate, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.candidates {
		if c.Name == name {
			return copyCandidate(c), true, nil
		}
	}
	return nil, false, nil
}

func (r *MemoryRepository) FindCandidatesByIDs(ctx context.Context, ids []string) ([]*model.Candidate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.Candidate, 0, len(ids))
	for _, id := range ids {
		if c, ok := r.candidates[id]; ok {
			out = append(out, copyCandidate(c))
		}
	}
	return out, nil
}

func (r *MemoryRepository) nameTaken(name, exceptID string) bool {
	for id, c := range r.candidates {
		if c.Name == name && id != exceptID {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) CreateCandidate(ctx context.Context, c *model.Candidate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.candidates[c.ID]; ok || r.nameTaken(c.Name, "") {
		return ErrDuplicateKey
	}
	r.candidates[c.ID] = copyCandidate(c)
	return nil
}

func (r *MemoryRepository) UpdateCandidate(ctx context.Context, c *model.Candidate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.candidates[c.ID]; !ok {
		return false, nil
	}
	if r.nameTaken(c.Name, c.ID) {
		return true, ErrDuplicateKey
	}
	r.candidates[c.ID] = copyCandidate(c)
	return true, nil
}

func (r *MemoryRepository) DeleteCandidate(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.candidates[id]; !ok {
		return false, nil
	}
	for _, e := range r.elections {
		if e.HasCandidate(id) {
			return true, ErrInUse
		}
	}
	delete(r.candidates, id)
	return true, nil
}

func (r *MemoryRepository) SetPastPosition(ctx context.Context, id string, year int, position string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.candidates[id]
	if !ok {
		return false, nil
	}
	if c.PastPositions == nil {
		c.PastPositions = make(map[int]string)
	}
	c.PastPositions[year] = position
	return true, nil
}

// ---- 选民 ----

func (r *MemoryRepository) ListVoters(ctx context.Context) ([]*model.Voter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.Voter, 0, len(r.voters))
	for _, v := range r.voters {
		out = append(out, copyVoter(v))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (r *MemoryRepository) FindVoterByID(ctx context.Context, id string) (*model.Voter, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.voters[id]
	if !ok {
		return nil, false, nil
	}
	return copyVoter(v), true, nil
}

func (r *MemoryRepository) FindVoterByEmail(ctx context.Context, email string) (*model.Voter, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, v := range r.voters {
		if v.Email == email {
			return copyVoter(v), true, nil
		}
	}
	return nil, false, nil
}

func (r *MemoryRepository) FindVotersByIDs(ctx context.Context, ids []string) ([]*model.Voter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.Voter, 0, len(ids))
	for _, id := range ids {
		if v, ok := r.voters[id]; ok {
			out = append(out, copyVoter(v))
		}
	}
	return out, nil
}

func (r *MemoryRepository) emailTaken(email, exceptID string) bool {
	for id, v := range r.voters {
		if v.Email == email && id != exceptID {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) CreateVoter(ctx context.Context, v *model.Voter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.voters[v.ID]; ok || r.emailTaken(v.Email, "") {
		return ErrDuplicateKey
	}
	r.voters[v.ID] = copyVoter(v)
	return nil
}

func (r *MemoryRepository) UpdateVoter(ctx context.Context, v *model.Voter) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.voters[v.ID]; !ok {
		return false, nil
	}
	if r.emailTaken(v.Email, v.ID) {
		return true, ErrDuplicateKey
	}
	r.voters[v.ID] = copyVoter(v)
	return true, nil
}

func (r *MemoryRepository) DeleteVoter(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.voters[id]; !ok {
		return false, nil
	}
	delete(r.voters, id)
	return true, nil
}

// ---- 选举 ----

func (r *MemoryRepository) CreateElection(ctx context.Context, e *model.Election) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.elections[e.ID]; ok {
		return ErrDuplicateKey
	}
	cp := copyElection(e)
	cp.CandidateIDs = mergeIDs(cp.CandidateIDs)
	cp.VoterIDs = mergeIDs(cp.VoterIDs)
	r.elections[e.ID] = cp
	return nil
}

func (r *MemoryRepository) FindElectionByID(ctx context.Context, id string) (*model.Election, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.elections[id]
	if !ok {
		return nil, false, nil
	}
	return copyElection(e), true, nil
}

func (r *MemoryRepository) FindLatestElection(ctx context.Context) (*model.Election, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *model.Election
	for _, e := range r.elections {
		if latest == nil || e.StartDate.After(latest.StartDate) {
			latest = e
		}
	}
	if latest == nil {
		return nil, false, nil
	}
	return copyElection(latest), true, nil
}

func (r *MemoryRepository) FindElectionStartingIn(ctx context.Context, from, to time.Time) (*model.Election, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.elections {
		if !e.StartDate.Before(from) && e.StartDate.Before(to) {
			return copyElection(e), true, nil
		}
	}
	return nil, false, nil
}

func (r *MemoryRepository) FindActiveElection(ctx context.Context, now time.Time) (*model.Election, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.elections {
		if e.IsActive(now) {
			return copyElection(e), true, nil
		}
	}
	return nil, false, nil
}

func (r *MemoryRepository) UpdateElectionDates(ctx context.Context, id string, start, end time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.elections[id]
	if !ok {
		return false, nil
	}
	e.StartDate = start
	e.EndDate = end
	return true, nil
}

func (r *MemoryRepository) SetTriggerJobID(ctx context.Context, id string, boundary model.TriggerBoundary, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.elections[id]
	if !ok {
		return nil
	}
	if boundary == model.BoundaryStart {
		e.StartJobID = jobID
	} else {
		e.EndJobID = jobID
	}
	return nil
}

func (r *MemoryRepository) AddElectionMembers(ctx context.Context, id string, candidateIDs, voterIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.elections[id]
	if !ok {
		return nil
	}
	e.CandidateIDs = mergeIDs(e.CandidateIDs, candidateIDs)
	e.VoterIDs = mergeIDs(e.VoterIDs, voterIDs)
	return nil
}

func (r *MemoryRepository) RemoveElectionMembers(ctx context.Context, id string, candidateIDs, voterIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.elections[id]
	if !ok {
		return nil
	}
	e.CandidateIDs = removeIDs(e.CandidateIDs, candidateIDs)
	e.VoterIDs = removeIDs(e.VoterIDs, voterIDs)
	return nil
}

func (r *MemoryRepository) DeleteElection(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.elections[id]; !ok {
		return false, nil
	}
	delete(r.elections, id)
	for _, v := range r.votes[id] {
		delete(r.voteIndex, voteKey{id, v.VoterID, v.Position})
	}
	delete(r.votes, id)
	return true, nil
}

func (r *MemoryRepository) AppendVote(ctx context.Context, electionID string, v *model.Vote) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := voteKey{electionID, v.VoterID, v.Position}
	if _, ok := r.voteIndex[key]; ok {
		return ErrDuplicateVote
	}
	r.voteIndex[key] = struct{}{}
	r.votes[electionID] = append(r.votes[electionID], *v)
	return nil
}

func (r *MemoryRepository) ListVotes(ctx context.Context, electionID string) ([]model.Vote, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]model.Vote(nil), r.votes[electionID]...), nil
}

func (r *MemoryRepository) ListVotesByVoter(ctx context.Context, electionID, voterID string) ([]model.Vote, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []model.Vote
	for _, v := range r.votes[electionID] {
		if v.VoterID == voterID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (r *MemoryRepository) HasVoted(ctx context.Context, electionID, voterID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, v := range r.votes[electionID] {
		if v.VoterID == voterID {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) Close() error {
	return nil
}
