package core

import (
	"fmt"
	"math"
	"sort"
)

// VotingMethod selects how ballots cast during a proposal's Voting phase
// are tallied. The method is fixed when the proposal is created and never
// changes.
type VotingMethod string

const (
	VoteMajority      VotingMethod = "majority"
	VoteSupermajority VotingMethod = "supermajority"
	VoteConsensus     VotingMethod = "consensus"
	VoteRankedChoice  VotingMethod = "ranked_choice"
	VoteQuadratic     VotingMethod = "quadratic"
	VoteSingleChoice  VotingMethod = "single_choice"
)

// Ballot is one member's cast vote. Which fields matter depends on the
// proposal's VotingMethod: Approve for the three binary methods, Credits
// (quadratic, "vote cost = votes²" so the member's voting weight is
// √Credits) spent on Choice, Ranking for ranked_choice's IRV, or Choice
// alone for single_choice.
type Ballot struct {
	Approve *bool
	Choice  string
	Ranking []string
	Credits int
}

// TallyResult is the outcome of applying a proposal's voting method to its
// cast ballots.
type TallyResult struct {
	Participation int
	Approved      bool
	Winner        string
}

// tally dispatches to the method-specific vote count. totalMembers is the
// federation's eligible-voter count, used for the participation/quorum
// check: a proposal is approved iff participation ≥ quorum and
// yes/(yes+no) ≥ approval.
func tally(method VotingMethod, alternatives []string, votes map[DID]Ballot, totalMembers int, quorum, approval float64) (TallyResult, error) {
	participation := len(votes)
	quorumMet := totalMembers > 0 && float64(participation)/float64(totalMembers) >= quorum

	switch method {
	case VoteMajority, VoteSupermajority, VoteConsensus:
		threshold := approval
		if method == VoteMajority {
			threshold = 0.5
		}
		yes, no := 0, 0
		for _, b := range votes {
			if b.Approve == nil {
				continue
			}
			if *b.Approve {
				yes++
			} else {
				no++
			}
		}
		if method == VoteConsensus && no > 0 {
			return TallyResult{Participation: participation, Approved: false}, nil
		}
		approved := quorumMet && yes+no > 0 && float64(yes)/float64(yes+no) >= threshold
		return TallyResult{Participation: participation, Approved: approved}, nil

	case VoteQuadratic:
		weight := make(map[string]float64)
		for _, b := range votes {
			if b.Credits < 0 {
				return TallyResult{}, fmt.Errorf("%w: negative quadratic credits", ErrInvalidInput)
			}
			choice := b.Choice
			if choice == "" {
				choice = "yes"
			}
			weight[choice] += math.Sqrt(float64(b.Credits))
		}
		yes, no := weight["yes"], weight["no"]
		approved := quorumMet && yes+no > 0 && yes/(yes+no) >= approval
		return TallyResult{Participation: participation, Approved: approved}, nil

	case VoteSingleChoice:
		counts := make(map[string]int)
		for _, b := range votes {
			counts[b.Choice]++
		}
		winner := pluralityWinner(counts)
		return TallyResult{Participation: participation, Approved: quorumMet && winner != "", Winner: winner}, nil

	case VoteRankedChoice:
		winner, err := instantRunoff(alternatives, votes)
		if err != nil {
			return TallyResult{}, err
		}
		return TallyResult{Participation: participation, Approved: quorumMet && winner != "", Winner: winner}, nil

	default:
		return TallyResult{}, fmt.Errorf("%w: unknown voting method %q", ErrInvalidInput, method)
	}
}

func pluralityWinner(counts map[string]int) string {
	best, bestCount := "", -1
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys) // deterministic tie-break
	for _, k := range keys {
		if counts[k] > bestCount {
			best, bestCount = k, counts[k]
		}
	}
	return best
}

// instantRunoff runs ranked_choice's IRV tabulation: repeatedly eliminate
// the alternative with the fewest first-preference votes among remaining
// alternatives until one holds a majority of continuing ballots.
func instantRunoff(alternatives []string, votes map[DID]Ballot) (string, error) {
	if len(alternatives) == 0 {
		return "", fmt.Errorf("%w: ranked_choice proposal has no alternatives", ErrInvalidInput)
	}
	remaining := append([]string(nil), alternatives...)

	for len(remaining) > 1 {
		counts := make(map[string]int)
		for _, alt := range remaining {
			counts[alt] = 0
		}
		total := 0
		for _, b := range votes {
			for _, pref := range b.Ranking {
				if _, ok := counts[pref]; ok {
					counts[pref]++
					total++
					break
				}
			}
		}
		if total == 0 {
			return "", nil
		}
		for alt, c := range counts {
			if float64(c) > float64(total)/2 {
				return alt, nil
			}
		}
		worst, worstCount := "", math.MaxInt32
		sorted := append([]string(nil), remaining...)
		sort.Strings(sorted) // deterministic tie-break among lowest
		for _, alt := range sorted {
			if counts[alt] < worstCount {
				worst, worstCount = alt, counts[alt]
			}
		}
		filtered := remaining[:0]
		for _, alt := range remaining {
			if alt != worst {
				filtered = append(filtered, alt)
			}
		}
		remaining = filtered
	}
	if len(remaining) == 1 {
		return remaining[0], nil
	}
	return "", nil
}
