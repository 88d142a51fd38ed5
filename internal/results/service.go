package results

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/approval-polls/backend/internal/models"
	"github.com/approval-polls/backend/pkg/database"
)

// Seat count bounds for the proportional allocation view.
const (
	DefaultSeats = 1
	MaxSeats     = 100
)

// EventBallotCast is published to live subscribers after each ballot.
const EventBallotCast = "ballot_cast"

// ErrPollNotFound is returned for missing or unpublished polls.
var ErrPollNotFound = errors.New("poll not found")

// PollReader loads polls with their choices.
type PollReader interface {
	GetByID(ctx context.Context, id int64) (*models.Poll, error)
}

// BallotSource lists ballot approvals.
type BallotSource interface {
	Ballots(ctx context.Context, pollID int64) ([][]int64, error)
}

// Cache stores computed analyses. Set must refuse, with ErrStaleGeneration, an analysis whose
// generation was read before the poll's latest Invalidate.
type Cache interface {
	Generation(ctx context.Context, pollID int64) (int64, error)
	Get(ctx context.Context, pollID int64, seats int) (*Analysis, bool, error)
	Set(ctx context.Context, pollID int64, seats int, gen int64, a *Analysis) error
	Invalidate(ctx context.Context, pollID int64) error
}

// Publisher fans poll events out to live subscribers.
type Publisher interface {
	PublishPollEvent(ctx context.Context, pollID int64, event string, payload interface{}) error
}

// Analysis is every view computed from a poll's ballots.
type Analysis struct {
	Summary
	Proportional []ProportionalScore `json:"proportional"`
	CoApproval   CoApprovalMatrix    `json:"co_approval"`
	Distribution []int               `json:"distribution"`
	Seats        SeatAllocation      `json:"seats"`
}

// Document is the results page of a poll.
type Document struct {
	Poll *models.Poll `json:"poll"`
	*Analysis
}

// RawChoice identifies a choice in the raw ballot export.
type RawChoice struct {
	ID   int64  `json:"id"`
	Text string `json:"choice_text"`
}

// RawBallots is the machine-readable ballot export.
type RawBallots struct {
	Ballots [][]int64   `json:"ballots"`
	Choices []RawChoice `json:"choices"`
}

// Service computes results and keeps caches and live views current.
type Service struct {
	polls     PollReader
	ballots   BallotSource
	cache     Cache
	publisher Publisher
	now       func() time.Time
	logger    *zap.Logger
}

// NewService creates a results service. cache and publisher may be nil.
func NewService(polls PollReader, ballots BallotSource, cache Cache, publisher Publisher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{polls: polls, ballots: ballots, cache: cache, publisher: publisher, now: time.Now, logger: logger}
}

// Analyze computes all views for the given choices and ballots.
func Analyze(choices []models.Choice, ballots [][]int64, seats int) *Analysis {
	return &Analysis{
		Summary:      Tally(choices, ballots),
		Proportional: Proportional(choices, ballots),
		CoApproval:   CoApproval(choices, ballots),
		Distribution: Distribution(choices, ballots),
		Seats:        AllocateSeats(choices, ballots, seats),
	}
}

// ClampSeats applies the default and upper bound to a requested seat count.
func ClampSeats(seats int) int {
	switch {
	case seats < 1:
		return DefaultSeats
	case seats > MaxSeats:
		return MaxSeats
	}
	return seats
}

func (s *Service) published(ctx context.Context, pollID int64) (*models.Poll, error) {
	p, err := s.polls.GetByID(ctx, pollID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrPollNotFound
	}
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !p.IsPublished(now) {
		return nil, ErrPollNotFound
	}
	p.Closed = p.IsClosed(now)
	return p, nil
}

// Results returns the poll with its full analysis, served from cache when possible.
func (s *Service) Results(ctx context.Context, pollID int64, seats int) (*Document, error) {
	seats = ClampSeats(seats)
	// Generation first: a change after this read leaves the analysis uncached.
	cacheable := s.cache != nil
	var gen int64
	if cacheable {
		var err error
		if gen, err = s.cache.Generation(ctx, pollID); err != nil {
			s.logger.Warn("results cache generation read failed", zap.Error(err), zap.Int64("poll_id", pollID))
			cacheable = false
		}
	}
	p, err := s.published(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if cacheable {
		a, ok, err := s.cache.Get(ctx, pollID, seats)
		if err != nil {
			s.logger.Warn("results cache read failed", zap.Error(err), zap.Int64("poll_id", pollID))
		}
		if ok {
			return &Document{Poll: p, Analysis: a}, nil
		}
	}
	ballots, err := s.ballots.Ballots(ctx, pollID)
	if err != nil {
		return nil, fmt.Errorf("load ballots: %w", err)
	}
	a := Analyze(p.Choices, ballots, seats)
	if cacheable {
		err := s.cache.Set(ctx, pollID, seats, gen, a)
		switch {
		case errors.Is(err, ErrStaleGeneration):
			s.logger.Debug("results changed while computing, not cached", zap.Int64("poll_id", pollID))
		case err != nil:
			s.logger.Warn("results cache write failed", zap.Error(err), zap.Int64("poll_id", pollID))
		}
	}
	return &Document{Poll: p, Analysis: a}, nil
}

// Raw returns every ballot's approvals along with the poll's choices.
func (s *Service) Raw(ctx context.Context, pollID int64) (*RawBallots, error) {
	p, err := s.published(ctx, pollID)
	if err != nil {
		return nil, err
	}
	ballots, err := s.ballots.Ballots(ctx, pollID)
	if err != nil {
		return nil, fmt.Errorf("load ballots: %w", err)
	}
	out := &RawBallots{Ballots: ballots, Choices: make([]RawChoice, len(p.Choices))}
	for i, c := range p.Choices {
		out.Choices[i] = RawChoice{ID: c.ID, Text: c.Text}
	}
	return out, nil
}

// Invalidate drops cached results for the poll. Called after the poll or its choices change.
func (s *Service) Invalidate(ctx context.Context, pollID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, pollID); err != nil {
		s.logger.Warn("results cache invalidate failed", zap.Error(err), zap.Int64("poll_id", pollID))
	}
}

// BallotCast drops cached results for the poll and pushes the new summary to live subscribers.
func (s *Service) BallotCast(ctx context.Context, pollID int64) {
	s.Invalidate(ctx, pollID)
	if s.publisher == nil {
		return
	}
	p, err := s.polls.GetByID(ctx, pollID)
	if err != nil {
		s.logger.Warn("load poll for broadcast failed", zap.Error(err), zap.Int64("poll_id", pollID))
		return
	}
	ballots, err := s.ballots.Ballots(ctx, pollID)
	if err != nil {
		s.logger.Warn("load ballots for broadcast failed", zap.Error(err), zap.Int64("poll_id", pollID))
		return
	}
	if err := s.publisher.PublishPollEvent(ctx, pollID, EventBallotCast, Tally(p.Choices, ballots)); err != nil {
		s.logger.Warn("publish ballot_cast failed", zap.Error(err), zap.Int64("poll_id", pollID))
	}
}
