package results

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/approval-polls/backend/internal/models"
	"github.com/approval-polls/backend/internal/polls"
	"github.com/approval-polls/backend/internal/testutil"
)

func TestRepositoryBallots(t *testing.T) {
	pool := testutil.NewPostgres(t)
	ctx := context.Background()
	owner := testutil.CreateUser(t, pool, "owner")

	p := &models.Poll{Question: "Pick", UserID: owner, VType: models.VoteTypeOpen}
	require.NoError(t, polls.NewRepository(pool).Create(ctx, p,
		[]polls.NewChoice{{Text: "A"}, {Text: "B"}}, nil))

	insert := func(choiceIDs ...int64) {
		var ballotID int64
		require.NoError(t, pool.QueryRow(ctx, `INSERT INTO ballots (poll_id) VALUES ($1) RETURNING id`, p.ID).Scan(&ballotID))
		for _, id := range choiceIDs {
			_, err := pool.Exec(ctx, `INSERT INTO votes (ballot_id, choice_id) VALUES ($1, $2)`, ballotID, id)
			require.NoError(t, err)
		}
	}
	a, b := p.Choices[0].ID, p.Choices[1].ID
	insert(b, a)
	insert()
	insert(b)

	got, err := NewRepository(pool).Ballots(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{a, b}, {}, {b}}, got)
}

func TestRedisCache(t *testing.T) {
	rdb := testutil.NewRedis(t)
	ctx := context.Background()
	cache := NewRedisCache(rdb, 0)

	_, ok, err := cache.Get(ctx, 1, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	a := Analyze(sampleChoices, sampleBallots, 2)
	gen, err := cache.Generation(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, gen)
	require.NoError(t, cache.Set(ctx, 1, 2, gen, a))
	got, ok, err := cache.Get(ctx, 1, 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, a.Summary, got.Summary)
	assert.Equal(t, a.Seats, got.Seats)

	ttl, err := rdb.TTL(ctx, cacheKey(1)).Result()
	require.NoError(t, err)
	assert.Positive(t, ttl)

	require.NoError(t, cache.Invalidate(ctx, 1))
	_, ok, err = cache.Get(ctx, 1, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	t.Run("writes computed before an invalidation are refused", func(t *testing.T) {
		assert.ErrorIs(t, cache.Set(ctx, 1, 2, gen, a), ErrStaleGeneration)
		_, ok, err := cache.Get(ctx, 1, 2)
		require.NoError(t, err)
		assert.False(t, ok)

		current, err := cache.Generation(ctx, 1)
		require.NoError(t, err)
		assert.EqualValues(t, 1, current)
		require.NoError(t, cache.Set(ctx, 1, 2, current, a))
		_, ok, err = cache.Get(ctx, 1, 2)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}
