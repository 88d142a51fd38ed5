// Package results computes and serves poll outcomes.
package results

import "github.com/approval-polls/backend/internal/models"

// ChoiceResult is one choice's approval count.
type ChoiceResult struct {
	ID         int64   `json:"id"`
	Text       string  `json:"choice_text"`
	Link       *string `json:"choice_link,omitempty"`
	Votes      int     `json:"votes"`
	Percentage int     `json:"percentage"`
	Leading    bool    `json:"leading"`
}

// Summary is the plain approval tally of a poll.
type Summary struct {
	Choices      []ChoiceResult `json:"choices"`
	TotalBallots int            `json:"total_ballots"`
	TotalVotes   int            `json:"total_votes"`
}

// ProportionalScore is a choice's share when every ballot's weight is split evenly over its approvals.
type ProportionalScore struct {
	ChoiceID int64   `json:"choice_id"`
	Score    float64 `json:"score"`
	Share    float64 `json:"share"`
}

// CoApprovalMatrix holds, for each ordered pair (A, B), the fraction of A's approvers who also approved B.
// Rows and columns follow ChoiceIDs.
type CoApprovalMatrix struct {
	ChoiceIDs []int64     `json:"choice_ids"`
	Rates     [][]float64 `json:"rates"`
}

// SeatRound records who won one seat and with what score.
type SeatRound struct {
	Seat     int     `json:"seat"`
	ChoiceID int64   `json:"choice_id"`
	Score    float64 `json:"score"`
}

// SeatResult is the number of seats a choice won.
type SeatResult struct {
	ChoiceID int64 `json:"choice_id"`
	Seats    int   `json:"seats"`
}

// SeatAllocation is the outcome of sequential proportional approval voting.
type SeatAllocation struct {
	Seats   int          `json:"seats"`
	Results []SeatResult `json:"results"`
	Rounds  []SeatRound  `json:"rounds"`
}

// ballotIndexes maps each ballot's approvals to choice positions, dropping unknown and repeated ids.
func ballotIndexes(choices []models.Choice, ballots [][]int64) [][]int {
	pos := make(map[int64]int, len(choices))
	for i, c := range choices {
		pos[c.ID] = i
	}
	out := make([][]int, len(ballots))
	for b, approvals := range ballots {
		seen := make(map[int]bool, len(approvals))
		idx := make([]int, 0, len(approvals))
		for _, id := range approvals {
			i, ok := pos[id]
			if !ok || seen[i] {
				continue
			}
			seen[i] = true
			idx = append(idx, i)
		}
		out[b] = idx
	}
	return out
}

// Tally counts approvals per choice. Percentages are of ballots, rounded down.
// Choices tied at the highest non-zero count are marked leading.
func Tally(choices []models.Choice, ballots [][]int64) Summary {
	counts := make([]int, len(choices))
	total := 0
	for _, idx := range ballotIndexes(choices, ballots) {
		for _, i := range idx {
			counts[i]++
			total++
		}
	}
	top := 0
	for _, n := range counts {
		if n > top {
			top = n
		}
	}
	s := Summary{Choices: make([]ChoiceResult, len(choices)), TotalBallots: len(ballots), TotalVotes: total}
	for i, c := range choices {
		r := ChoiceResult{ID: c.ID, Text: c.Text, Link: c.Link, Votes: counts[i], Leading: top > 0 && counts[i] == top}
		if len(ballots) > 0 {
			r.Percentage = counts[i] * 100 / len(ballots)
		}
		s.Choices[i] = r
	}
	return s
}

// Proportional splits each non-empty ballot's unit weight evenly among its approvals.
func Proportional(choices []models.Choice, ballots [][]int64) []ProportionalScore {
	scores := make([]float64, len(choices))
	weight := 0.0
	for _, idx := range ballotIndexes(choices, ballots) {
		if len(idx) == 0 {
			continue
		}
		weight++
		share := 1 / float64(len(idx))
		for _, i := range idx {
			scores[i] += share
		}
	}
	out := make([]ProportionalScore, len(choices))
	for i, c := range choices {
		out[i] = ProportionalScore{ChoiceID: c.ID, Score: scores[i]}
		if weight > 0 {
			out[i].Share = scores[i] * 100 / weight
		}
	}
	return out
}

// CoApproval computes the co-approval matrix. A row is all zero when its choice has no approvals.
func CoApproval(choices []models.Choice, ballots [][]int64) CoApprovalMatrix {
	n := len(choices)
	both := make([][]int, n)
	for i := range both {
		both[i] = make([]int, n)
	}
	for _, idx := range ballotIndexes(choices, ballots) {
		for _, a := range idx {
			for _, b := range idx {
				both[a][b]++
			}
		}
	}
	m := CoApprovalMatrix{ChoiceIDs: make([]int64, n), Rates: make([][]float64, n)}
	for a, c := range choices {
		m.ChoiceIDs[a] = c.ID
		m.Rates[a] = make([]float64, n)
		approvals := both[a][a]
		if approvals == 0 {
			continue
		}
		for b := 0; b < n; b++ {
			m.Rates[a][b] = float64(both[a][b]) / float64(approvals)
		}
	}
	return m
}

// Distribution returns counts[k] = number of ballots approving exactly k choices, for k in [0, len(choices)].
func Distribution(choices []models.Choice, ballots [][]int64) []int {
	counts := make([]int, len(choices)+1)
	for _, idx := range ballotIndexes(choices, ballots) {
		counts[len(idx)]++
	}
	return counts
}

// AllocateSeats fills seats one at a time. In every round each ballot gives 1/(1+w) to each choice
// it approves, where w is the number of seats already won by choices on that ballot; the highest
// score takes the seat, ties going to the earlier choice. A choice may win several seats.
// Allocation stops early once no choice scores above zero.
func AllocateSeats(choices []models.Choice, ballots [][]int64, seats int) SeatAllocation {
	out := SeatAllocation{Seats: seats, Results: make([]SeatResult, len(choices)), Rounds: []SeatRound{}}
	for i, c := range choices {
		out.Results[i] = SeatResult{ChoiceID: c.ID}
	}
	if seats <= 0 || len(ballots) == 0 || len(choices) == 0 {
		return out
	}
	idx := ballotIndexes(choices, ballots)
	won := make([]int, len(choices))
	for seat := 1; seat <= seats; seat++ {
		scores := make([]float64, len(choices))
		for _, approvals := range idx {
			w := 0
			for _, i := range approvals {
				w += won[i]
			}
			share := 1 / float64(1+w)
			for _, i := range approvals {
				scores[i] += share
			}
		}
		best := 0
		for i := 1; i < len(scores); i++ {
			if scores[i] > scores[best] {
				best = i
			}
		}
		if scores[best] == 0 {
			break
		}
		won[best]++
		out.Rounds = append(out.Rounds, SeatRound{Seat: seat, ChoiceID: choices[best].ID, Score: scores[best]})
	}
	for i := range choices {
		out.Results[i].Seats = won[i]
	}
	return out
}
