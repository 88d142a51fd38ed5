package subscriptions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/approval-polls/backend/internal/models"
)

// MemberSource lists mailing list members by lower-cased email.
type MemberSource interface {
	Members(ctx context.Context) (map[string]bool, error)
}

// Store is the subscription persistence the syncer needs.
type Store interface {
	List(ctx context.Context) ([]models.Subscription, error)
	DeleteByIDs(ctx context.Context, ids []int64) (int64, error)
}

// Syncer drops local subscriptions whose user is no longer on the mailing list.
type Syncer struct {
	members MemberSource
	store   Store
	logger  *zap.Logger
}

// NewSyncer creates a subscription syncer.
func NewSyncer(members MemberSource, store Store, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{members: members, store: store, logger: logger}
}

// Sync runs one reconciliation and returns the number of subscriptions removed.
func (s *Syncer) Sync(ctx context.Context) (int64, error) {
	members, err := s.members.Members(ctx)
	if err != nil {
		return 0, fmt.Errorf("list members: %w", err)
	}
	subs, err := s.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list subscriptions: %w", err)
	}
	var stale []int64
	for _, sub := range subs {
		if !members[strings.ToLower(sub.Email)] {
			stale = append(stale, sub.ID)
		}
	}
	removed, err := s.store.DeleteByIDs(ctx, stale)
	if err != nil {
		return 0, fmt.Errorf("delete subscriptions: %w", err)
	}
	s.logger.Info("subscriptions synced", zap.Int("members", len(members)), zap.Int("local", len(subs)), zap.Int64("removed", removed))
	return removed, nil
}

// Run syncs immediately and then every interval until ctx is done.
func (s *Syncer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sync(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("subscription sync failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			s.logger.Info("subscription sync stopping")
			return
		case <-ticker.C:
		}
	}
}
