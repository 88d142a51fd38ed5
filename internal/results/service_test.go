package results

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/approval-polls/backend/internal/models"
	"github.com/approval-polls/backend/pkg/database"
)

var testNow = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

type fakePolls map[int64]*models.Poll

func (f fakePolls) GetByID(_ context.Context, id int64) (*models.Poll, error) {
	p, ok := f[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

type fakeBallots struct {
	byPoll map[int64][][]int64
	calls  int
}

func (f *fakeBallots) Ballots(_ context.Context, pollID int64) ([][]int64, error) {
	f.calls++
	return f.byPoll[pollID], nil
}

type memoryCache struct {
	entries     map[int64]map[int]*Analysis
	generations map[int64]int64
	invalidated []int64
}

func (m *memoryCache) Generation(_ context.Context, pollID int64) (int64, error) {
	return m.generations[pollID], nil
}

func (m *memoryCache) Get(_ context.Context, pollID int64, seats int) (*Analysis, bool, error) {
	a, ok := m.entries[pollID][seats]
	return a, ok, nil
}

func (m *memoryCache) Set(_ context.Context, pollID int64, seats int, gen int64, a *Analysis) error {
	if gen != m.generations[pollID] {
		return ErrStaleGeneration
	}
	if m.entries[pollID] == nil {
		m.entries[pollID] = map[int]*Analysis{}
	}
	m.entries[pollID][seats] = a
	return nil
}

func (m *memoryCache) Invalidate(_ context.Context, pollID int64) error {
	delete(m.entries, pollID)
	m.generations[pollID]++
	m.invalidated = append(m.invalidated, pollID)
	return nil
}

type event struct {
	pollID  int64
	name    string
	payload interface{}
}

type recordingPublisher struct{ events []event }

func (r *recordingPublisher) PublishPollEvent(_ context.Context, pollID int64, name string, payload interface{}) error {
	r.events = append(r.events, event{pollID, name, payload})
	return nil
}

func newService() (*Service, fakePolls, *fakeBallots, *memoryCache, *recordingPublisher) {
	pollsByID := fakePolls{
		1: {ID: 1, Question: "Lunch?", PubDate: testNow.Add(-time.Hour), Choices: sampleChoices},
		2: {ID: 2, Question: "Later", PubDate: testNow.Add(time.Hour), Choices: sampleChoices},
	}
	ballots := &fakeBallots{byPoll: map[int64][][]int64{1: sampleBallots}}
	cache := &memoryCache{entries: map[int64]map[int]*Analysis{}, generations: map[int64]int64{}}
	pub := &recordingPublisher{}
	s := NewService(pollsByID, ballots, cache, pub, nil)
	s.now = func() time.Time { return testNow }
	return s, pollsByID, ballots, cache, pub
}

func TestClampSeats(t *testing.T) {
	assert.Equal(t, 1, ClampSeats(0))
	assert.Equal(t, 1, ClampSeats(-4))
	assert.Equal(t, 7, ClampSeats(7))
	assert.Equal(t, MaxSeats, ClampSeats(5000))
}

func TestResultsCaching(t *testing.T) {
	s, _, ballots, cache, _ := newService()
	ctx := context.Background()

	doc, err := s.Results(ctx, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, "Lunch?", doc.Poll.Question)
	assert.Equal(t, 5, doc.TotalBallots)
	assert.Equal(t, []int{1, 1, 2, 1}, doc.Distribution)
	assert.Len(t, doc.Seats.Rounds, 3)
	assert.Equal(t, 1, ballots.calls)

	_, err = s.Results(ctx, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, ballots.calls, "second read is served from cache")

	_, err = s.Results(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, ballots.calls, "seat counts are cached separately")
	assert.Len(t, cache.entries[1], 2)

	_, err = s.Results(ctx, 2, 1)
	assert.ErrorIs(t, err, ErrPollNotFound)
	_, err = s.Results(ctx, 9, 1)
	assert.ErrorIs(t, err, ErrPollNotFound)
}

func TestBallotCast(t *testing.T) {
	s, _, _, cache, pub := newService()
	ctx := context.Background()
	_, err := s.Results(ctx, 1, 1)
	require.NoError(t, err)

	s.BallotCast(ctx, 1)
	assert.Empty(t, cache.entries[1])
	assert.Equal(t, []int64{1}, cache.invalidated)
	require.Len(t, pub.events, 1)
	assert.Equal(t, EventBallotCast, pub.events[0].name)
	summary, ok := pub.events[0].payload.(Summary)
	require.True(t, ok)
	assert.Equal(t, 8, summary.TotalVotes)
}

// racingBallots stores one more ballot right after handing out its snapshot, the way a vote
// committed mid-computation would.
type racingBallots struct {
	s       *Service
	stored  [][]int64
	pending []int64
}

func (r *racingBallots) Ballots(ctx context.Context, _ int64) ([][]int64, error) {
	snapshot := append([][]int64(nil), r.stored...)
	if r.pending != nil {
		r.stored = append(r.stored, r.pending)
		r.pending = nil
		r.s.BallotCast(ctx, 1)
	}
	return snapshot, nil
}

func TestResultsNotCachedAcrossBallot(t *testing.T) {
	s, _, _, cache, _ := newService()
	racing := &racingBallots{s: s, stored: [][]int64{{1}}, pending: []int64{2}}
	s.ballots = racing
	ctx := context.Background()

	doc, err := s.Results(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, doc.TotalBallots)
	assert.Empty(t, cache.entries[1], "analysis computed before the ballot is not cached")

	doc, err = s.Results(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, doc.TotalBallots)
	assert.Len(t, cache.entries[1], 1)
}

func TestInvalidateAfterEdit(t *testing.T) {
	s, pollsByID, _, cache, pub := newService()
	ctx := context.Background()
	_, err := s.Results(ctx, 1, 1)
	require.NoError(t, err)

	edited := *pollsByID[1]
	edited.Choices = append([]models.Choice{{ID: 1, PollID: 1, Text: "Renamed"}}, sampleChoices[1:]...)
	edited.Choices = append(edited.Choices, models.Choice{ID: 999, PollID: 1, Text: "New"})
	pollsByID[1] = &edited
	s.Invalidate(ctx, 1)

	doc, err := s.Results(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, doc.Choices, 4)
	assert.Equal(t, "Renamed", doc.Choices[0].Text)
	assert.Len(t, doc.CoApproval.ChoiceIDs, 4)
	assert.Len(t, doc.Distribution, 5)
	assert.Equal(t, []int64{1}, cache.invalidated)
	assert.Empty(t, pub.events, "edits do not broadcast")
}

func TestRaw(t *testing.T) {
	s, _, _, _, _ := newService()
	raw, err := s.Raw(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, sampleBallots, raw.Ballots)
	assert.Equal(t, []RawChoice{{1, "A"}, {2, "B"}, {3, "C"}}, raw.Choices)
}

func TestHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s, _, _, _, _ := newService()
	h := NewHandler(s, nil)
	r := gin.New()
	r.GET("/polls/:id/results", h.Results)
	r.GET("/polls/:id/raw", h.Raw)

	get := func(path string) (*httptest.ResponseRecorder, map[string]interface{}) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		var body struct {
			Data map[string]interface{} `json:"data"`
		}
		_ = json.Unmarshal(w.Body.Bytes(), &body)
		return w, body.Data
	}

	w, data := get("/polls/1/results?seats=abc")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 5, data["total_ballots"])
	assert.EqualValues(t, 1, data["seats"].(map[string]interface{})["seats"])

	w, data = get("/polls/1/results?seats=1000")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, MaxSeats, data["seats"].(map[string]interface{})["seats"])

	w, data = get("/polls/1/raw")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, data["ballots"], 5)

	w, _ = get("/polls/2/results")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = get("/polls/x/raw")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
