package voting

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/approval-polls/backend/internal/models"
	"github.com/approval-polls/backend/internal/polls"
	"github.com/approval-polls/backend/internal/testutil"
	"github.com/approval-polls/backend/pkg/database"
)

func createPoll(t *testing.T, repo *polls.Repository, owner uuid.UUID, vtype models.VoteType, choices ...string) *models.Poll {
	t.Helper()
	var in []polls.NewChoice
	for _, c := range choices {
		in = append(in, polls.NewChoice{Text: c})
	}
	p := &models.Poll{Question: "Which?", UserID: owner, VType: vtype}
	require.NoError(t, repo.Create(context.Background(), p, in, nil))
	return p
}

func countBallots(t *testing.T, pool *pgxpool.Pool, pollID int64) int {
	t.Helper()
	var n int
	require.NoError(t, pool.QueryRow(context.Background(), `SELECT COUNT(*) FROM ballots WHERE poll_id = $1`, pollID).Scan(&n))
	return n
}

func TestCast(t *testing.T) {
	pool := testutil.NewPostgres(t)
	ctx := context.Background()
	pollRepo := polls.NewRepository(pool)
	repo := NewRepository(pool)
	owner := testutil.CreateUser(t, pool, "owner")
	voter := testutil.CreateUser(t, pool, "voter")

	t.Run("open polls take every ballot", func(t *testing.T) {
		p := createPoll(t, pollRepo, owner, models.VoteTypeOpen, "A", "B")
		for i := 0; i < 3; i++ {
			_, err := repo.Cast(ctx, CastParams{PollID: p.ID, VType: p.VType, ChoiceIDs: []int64{p.Choices[0].ID}})
			require.NoError(t, err)
		}
		assert.Equal(t, 3, countBallots(t, pool, p.ID))
	})

	t.Run("authenticated ballots are replaced", func(t *testing.T) {
		p := createPoll(t, pollRepo, owner, models.VoteTypeAuthenticated, "A", "B", "C")
		other := createPoll(t, pollRepo, owner, models.VoteTypeOpen, "X")

		first, err := repo.Cast(ctx, CastParams{PollID: p.ID, VType: p.VType, UserID: voter,
			ChoiceIDs: []int64{p.Choices[0].ID, p.Choices[1].ID, other.Choices[0].ID}})
		require.NoError(t, err)
		approvals, err := repo.UserApprovals(ctx, p.ID, voter)
		require.NoError(t, err)
		assert.Equal(t, []int64{p.Choices[0].ID, p.Choices[1].ID}, approvals, "foreign choices are never recorded")

		second, err := repo.Cast(ctx, CastParams{PollID: p.ID, VType: p.VType, UserID: voter, ChoiceIDs: []int64{p.Choices[2].ID}})
		require.NoError(t, err)
		assert.Equal(t, first, second)
		approvals, err = repo.UserApprovals(ctx, p.ID, voter)
		require.NoError(t, err)
		assert.Equal(t, []int64{p.Choices[2].ID}, approvals)

		_, err = repo.Cast(ctx, CastParams{PollID: p.ID, VType: p.VType, UserID: voter})
		require.NoError(t, err)
		approvals, err = repo.UserApprovals(ctx, p.ID, voter)
		require.NoError(t, err)
		assert.Empty(t, approvals)
		assert.Equal(t, 1, countBallots(t, pool, p.ID))
	})

	t.Run("concurrent first ballots converge", func(t *testing.T) {
		p := createPoll(t, pollRepo, owner, models.VoteTypeAuthenticated, "A")
		user := testutil.CreateUser(t, pool, "racer")
		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := repo.Cast(ctx, CastParams{PollID: p.ID, VType: p.VType, UserID: user, ChoiceIDs: []int64{p.Choices[0].ID}})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
		assert.Equal(t, 1, countBallots(t, pool, p.ID))
	})

	t.Run("write-in reuses matching choice", func(t *testing.T) {
		p := createPoll(t, pollRepo, owner, models.VoteTypeOpen, "Tacos")
		_, err := repo.Cast(ctx, CastParams{PollID: p.ID, VType: p.VType, WriteIn: "TACOS"})
		require.NoError(t, err)
		_, err = repo.Cast(ctx, CastParams{PollID: p.ID, VType: p.VType, WriteIn: "Pho"})
		require.NoError(t, err)

		choices, err := pollRepo.Choices(ctx, p.ID)
		require.NoError(t, err)
		require.Len(t, choices, 2)
		assert.Equal(t, 1, choices[0].Votes)
		assert.Equal(t, "Pho", choices[1].Text)
		assert.Equal(t, 1, choices[1].Votes)
	})

	t.Run("invitation ballots are linked once", func(t *testing.T) {
		p := createPoll(t, pollRepo, owner, models.VoteTypeInvitation, "A", "B")
		var invID int64
		err := pool.QueryRow(ctx, `INSERT INTO vote_invitations (email, poll_id, key) VALUES ('guest@example.com', $1, 'k1') RETURNING id`, p.ID).Scan(&invID)
		require.NoError(t, err)

		valid, approvals, err := repo.InvitationApprovals(ctx, p.ID, "k1", "GUEST@example.com")
		require.NoError(t, err)
		assert.True(t, valid)
		assert.Empty(t, approvals)

		inv, err := repo.FindInvitation(ctx, p.ID, "k1", "guest@example.com")
		require.NoError(t, err)
		first, err := repo.Cast(ctx, CastParams{PollID: p.ID, VType: p.VType, InvitationID: inv.ID, ChoiceIDs: []int64{p.Choices[0].ID}})
		require.NoError(t, err)
		second, err := repo.Cast(ctx, CastParams{PollID: p.ID, VType: p.VType, InvitationID: inv.ID, ChoiceIDs: []int64{p.Choices[1].ID}})
		require.NoError(t, err)
		assert.Equal(t, first, second)

		_, approvals, err = repo.InvitationApprovals(ctx, p.ID, "k1", "guest@example.com")
		require.NoError(t, err)
		assert.Equal(t, []int64{p.Choices[1].ID}, approvals)

		valid, _, err = repo.InvitationApprovals(ctx, p.ID, "wrong", "guest@example.com")
		require.NoError(t, err)
		assert.False(t, valid)
		_, err = repo.FindInvitation(ctx, p.ID+1000, "k1", "guest@example.com")
		assert.ErrorIs(t, err, database.ErrNotFound)
	})
}
