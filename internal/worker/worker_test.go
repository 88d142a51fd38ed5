package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/approval-polls/backend/pkg/mailer"
	"github.com/approval-polls/backend/pkg/queue"
)

type fakeMailer struct {
	mu    sync.Mutex
	sent  []mailer.Message
	fails int
}

func (f *fakeMailer) Send(_ context.Context, m mailer.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("provider returned 503")
	}
	f.sent = append(f.sent, m)
	return nil
}

type fakeLogs struct {
	mu     sync.Mutex
	sent   map[uuid.UUID]time.Time
	failed map[uuid.UUID]string
}

func (f *fakeLogs) MarkSent(_ context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[id] = at
	return nil
}

func (f *fakeLogs) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id] = reason
	return nil
}

type fakeInvitations struct {
	mu   sync.Mutex
	sent map[int64]time.Time
}

func (f *fakeInvitations) MarkSent(_ context.Context, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[id] = at
	return nil
}

type memoryQueue struct {
	mu      sync.Mutex
	pending []*queue.Job
	dlq     []*queue.Job
}

func (q *memoryQueue) Dequeue(ctx context.Context, queues ...string) (*queue.Job, string, error) {
	q.mu.Lock()
	if len(q.pending) > 0 {
		job := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()
		return job, queues[0], nil
	}
	q.mu.Unlock()
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Millisecond):
	}
	return nil, "", nil
}

func (q *memoryQueue) Retry(_ context.Context, _ string, job *queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job.Attempt++
	if job.Attempt >= queue.MaxRetries {
		q.dlq = append(q.dlq, job)
		return nil
	}
	q.pending = append(q.pending, job)
	return nil
}

func emailJob(t *testing.T, payload queue.EmailPayload) *queue.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &queue.Job{ID: uuid.NewString(), Type: queue.JobTypeInvitationEmail, Payload: raw}
}

func newProcessor(m *fakeMailer, q JobQueue) (*EmailProcessor, *fakeLogs, *fakeInvitations) {
	logs := &fakeLogs{sent: map[uuid.UUID]time.Time{}, failed: map[uuid.UUID]string{}}
	invs := &fakeInvitations{sent: map[int64]time.Time{}}
	p := NewEmailProcessor(m, logs, invs, q, nil)
	p.backoff = time.Millisecond
	return p, logs, invs
}

func TestProcess(t *testing.T) {
	m := &fakeMailer{}
	p, logs, invs := newProcessor(m, &memoryQueue{})
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	logID, invID := uuid.New(), int64(4)
	err := p.Process(context.Background(), emailJob(t, queue.EmailPayload{
		EmailLogID: logID, PollID: 2, InvitationID: &invID,
		RecipientEmail: "guest@example.com", Subject: "Invitation to vote: Lunch?", BodyHTML: "<p>vote</p>",
	}))
	require.NoError(t, err)
	require.Len(t, m.sent, 1)
	assert.Equal(t, mailer.Message{To: "guest@example.com", Subject: "Invitation to vote: Lunch?", HTML: "<p>vote</p>"}, m.sent[0])
	assert.Equal(t, now, logs.sent[logID])
	assert.Equal(t, now, invs.sent[invID])

	err = p.Process(context.Background(), &queue.Job{Type: "mystery"})
	assert.Error(t, err)
}

func TestProcessSendFailure(t *testing.T) {
	m := &fakeMailer{fails: 1}
	p, logs, invs := newProcessor(m, &memoryQueue{})
	logID := uuid.New()
	err := p.Process(context.Background(), emailJob(t, queue.EmailPayload{EmailLogID: logID, RecipientEmail: "x@example.com"}))
	require.Error(t, err)
	assert.Equal(t, "provider returned 503", logs.failed[logID])
	assert.Empty(t, logs.sent)
	assert.Empty(t, invs.sent)
}

func TestRunRetriesThenDeadLetters(t *testing.T) {
	m := &fakeMailer{fails: 1}
	q := &memoryQueue{}
	p, logs, _ := newProcessor(m, q)

	flaky := uuid.New()
	q.pending = []*queue.Job{
		emailJob(t, queue.EmailPayload{EmailLogID: flaky, RecipientEmail: "a@example.com"}),
		{ID: "bad", Type: queue.JobTypeInvitationEmail, Payload: json.RawMessage(`"not an object"`)},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		logs.mu.Lock()
		defer logs.mu.Unlock()
		_, sent := logs.sent[flaky]
		return sent && len(q.dlq) == 1 && len(q.pending) == 0
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, "bad", q.dlq[0].ID)
	assert.Equal(t, queue.MaxRetries, q.dlq[0].Attempt)
}
