package orchestrator

import (
	"sort"
	"time"
)

// candidate is an agent in has_answer state at turn close.
type candidate struct {
	agentID    string
	answer     string
	answerTime time.Time
	votes      int
}

// ballot is one recorded vote, counted at close time.
type ballot struct {
	voter  string
	target string
	reason string
}

// selectWinner counts ballots against the candidate set and picks the
// winner. Ballots naming a non-candidate are dropped; the caller logs
// them. Tie-breaks: highest vote count, earliest answer time,
// lexicographic agent id. Empty candidate set returns false.
func selectWinner(candidates map[string]*candidate, ballots []ballot, allowSelfVotes bool) (*candidate, []ballot, bool) {
	var dropped []ballot
	for _, b := range ballots {
		target, ok := candidates[b.target]
		if !ok {
			dropped = append(dropped, b)
			continue
		}
		if !allowSelfVotes && b.voter == b.target {
			dropped = append(dropped, b)
			continue
		}
		target.votes++
	}

	if len(candidates) == 0 {
		return nil, dropped, false
	}

	ranked := make([]*candidate, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, c)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].votes != ranked[j].votes {
			return ranked[i].votes > ranked[j].votes
		}
		if !ranked[i].answerTime.Equal(ranked[j].answerTime) {
			return ranked[i].answerTime.Before(ranked[j].answerTime)
		}
		return ranked[i].agentID < ranked[j].agentID
	})
	return ranked[0], dropped, true
}
