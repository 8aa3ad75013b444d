package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProposalState is one stage of the governance state machine:
// `Draft → Deliberation → Voting → (Approved ∨ Rejected) → (Executed)`.
type ProposalState string

const (
	StateDraft        ProposalState = "Draft"
	StateDeliberation ProposalState = "Deliberation"
	StateVoting       ProposalState = "Voting"
	StateApproved     ProposalState = "Approved"
	StateRejected     ProposalState = "Rejected"
	StateExecuted     ProposalState = "Executed"
)

// Proposal is a federation governance proposal to apply a storage policy
// change, tracked through its state
// machine and tallied by one fixed VotingMethod.
type Proposal struct {
	ID           string
	Federation   string
	Kind         PolicyKind
	Payload      any
	Alternatives []string // candidates for ranked_choice/single_choice
	Proposer     DID
	Method       VotingMethod
	Quorum       float64 // fraction of eligible members, e.g. 0.3
	Approval     float64 // fraction of yes/(yes+no), e.g. 0.5 or supermajority threshold
	State        ProposalState
	Deadline     int64
	Votes        map[DID]Ballot
	CreatedAt    int64
}

// GovernanceBook holds every proposal and is the single place federation
// controllers, facilitators, and members interact with the state machine.
type GovernanceBook struct {
	mu        sync.Mutex
	proposals map[string]*Proposal
	members   func(federation string) int // eligible-voter count, supplied by the node assembly
	policies  *PolicyBook
	log       *zap.SugaredLogger
}

// NewGovernanceBook wires a governance book against the policy book it
// executes approved proposals into, and a membership-count callback used
// for quorum (the federation's member roster lives in Storage/Identity,
// not here).
func NewGovernanceBook(policies *PolicyBook, members func(federation string) int) *GovernanceBook {
	logger, _ := zap.NewProduction()
	return &GovernanceBook{
		proposals: make(map[string]*Proposal),
		members:   members,
		policies:  policies,
		log:       logger.Sugar(),
	}
}

// Propose submits a federation controller's draft; the proposal enters
// Deliberation immediately.
func (g *GovernanceBook) Propose(federation string, proposer DID, kind PolicyKind, payload any, method VotingMethod, alternatives []string, quorum, approval float64) (*Proposal, error) {
	if quorum < 0 || quorum > 1 || approval < 0 || approval > 1 {
		return nil, fmt.Errorf("%w: quorum and approval must be fractions in [0,1]", ErrInvalidInput)
	}
	p := &Proposal{
		ID:           uuid.NewString(),
		Federation:   federation,
		Kind:         kind,
		Payload:      payload,
		Alternatives: alternatives,
		Proposer:     proposer,
		Method:       method,
		Quorum:       quorum,
		Approval:     approval,
		State:        StateDeliberation,
		Votes:        make(map[DID]Ballot),
		CreatedAt:    now(),
	}
	g.mu.Lock()
	g.proposals[p.ID] = p
	g.mu.Unlock()
	g.log.Infow("proposal entered deliberation", "proposal", p.ID, "federation", federation, "kind", kind)
	return p, nil
}

// OpenVoting implements the `Deliberation → Voting` transition: a
// configured facilitator or an automatic timer fixes the voting deadline.
func (g *GovernanceBook) OpenVoting(proposalID string, votingPeriod time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.proposals[proposalID]
	if !ok {
		return fmt.Errorf("%w: proposal %s", ErrNotFound, proposalID)
	}
	if p.State != StateDeliberation {
		return fmt.Errorf("%w: proposal %s is not in Deliberation", ErrInvalidInput, proposalID)
	}
	p.State = StateVoting
	p.Deadline = now() + int64(votingPeriod.Seconds())
	g.log.Infow("proposal entered voting", "proposal", proposalID, "deadline", p.Deadline)
	return nil
}

// CastVote records one member's ballot while the proposal is open.
// Duplicate votes by the same member replace the earlier vote.
func (g *GovernanceBook) CastVote(proposalID string, voter DID, ballot Ballot) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.proposals[proposalID]
	if !ok {
		return fmt.Errorf("%w: proposal %s", ErrNotFound, proposalID)
	}
	if p.State != StateVoting {
		return fmt.Errorf("%w: proposal %s is not open for voting", ErrInvalidInput, proposalID)
	}
	if now() > p.Deadline {
		return fmt.Errorf("%w: proposal %s voting period has ended", ErrInvalidInput, proposalID)
	}
	p.Votes[voter] = ballot
	g.log.Infow("vote cast", "proposal", proposalID, "voter", voter)
	return nil
}

// Finalize implements the deadline transition: tallies votes per the
// proposal's fixed method and sets Approved or Rejected.
func (g *GovernanceBook) Finalize(proposalID string) (*Proposal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.proposals[proposalID]
	if !ok {
		return nil, fmt.Errorf("%w: proposal %s", ErrNotFound, proposalID)
	}
	if p.State != StateVoting {
		return nil, fmt.Errorf("%w: proposal %s is not in Voting", ErrInvalidInput, proposalID)
	}
	total := 0
	if g.members != nil {
		total = g.members(p.Federation)
	}
	result, err := tally(p.Method, p.Alternatives, p.Votes, total, p.Quorum, p.Approval)
	if err != nil {
		return nil, err
	}
	if result.Approved {
		p.State = StateApproved
	} else {
		p.State = StateRejected
	}
	g.log.Infow("proposal finalized", "proposal", proposalID, "state", p.State, "participation", result.Participation)
	return p, nil
}

// Execute applies an Approved storage-policy proposal through the
// apply-policy path; on success the proposal becomes Executed.
func (g *GovernanceBook) Execute(proposalID string) error {
	g.mu.Lock()
	p, ok := g.proposals[proposalID]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: proposal %s", ErrNotFound, proposalID)
	}
	if p.State != StateApproved {
		g.mu.Unlock()
		return fmt.Errorf("%w: proposal %s is not Approved", ErrInvalidInput, proposalID)
	}
	federation, kind, payload := p.Federation, p.Kind, p.Payload
	g.mu.Unlock()

	if err := g.policies.applyPolicy(federation, kind, payload); err != nil {
		return err
	}

	g.mu.Lock()
	p.State = StateExecuted
	g.mu.Unlock()
	g.log.Infow("proposal executed", "proposal", proposalID, "kind", kind)
	return nil
}

// Get returns a proposal by id.
func (g *GovernanceBook) Get(proposalID string) (*Proposal, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.proposals[proposalID]
	return p, ok
}
