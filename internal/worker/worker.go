// Package worker runs background jobs pulled from the Redis queue.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/approval-polls/backend/pkg/mailer"
	"github.com/approval-polls/backend/pkg/queue"
)

// JobQueue is the part of the Redis queue the worker consumes.
type JobQueue interface {
	Dequeue(ctx context.Context, queues ...string) (*queue.Job, string, error)
	Retry(ctx context.Context, queueName string, job *queue.Job) error
}

// LogMarker records delivery outcomes on email log rows.
type LogMarker interface {
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// InvitationMarker stamps invitations once their email is out.
type InvitationMarker interface {
	MarkSent(ctx context.Context, id int64, at time.Time) error
}

// EmailProcessor delivers queued emails: send via the mailer, then update the email log and invitation.
type EmailProcessor struct {
	mailer      mailer.Mailer
	logs        LogMarker
	invitations InvitationMarker
	queue       JobQueue
	backoff     time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

// NewEmailProcessor creates an email delivery processor.
func NewEmailProcessor(m mailer.Mailer, logs LogMarker, invitations InvitationMarker, q JobQueue, logger *zap.Logger) *EmailProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailProcessor{
		mailer:      m,
		logs:        logs,
		invitations: invitations,
		queue:       q,
		backoff:     queue.RetryBackoff,
		now:         time.Now,
		logger:      logger,
	}
}

// Process executes one email job.
func (p *EmailProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeInvitationEmail {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.EmailPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	err := p.mailer.Send(ctx, mailer.Message{
		To:      payload.RecipientEmail,
		Subject: payload.Subject,
		HTML:    payload.BodyHTML,
	})
	if err != nil {
		if mErr := p.logs.MarkFailed(ctx, payload.EmailLogID, err.Error()); mErr != nil {
			p.logger.Error("mark email failed", zap.Error(mErr), zap.String("email_log_id", payload.EmailLogID.String()))
		}
		return fmt.Errorf("send: %w", err)
	}

	sentAt := p.now()
	if err := p.logs.MarkSent(ctx, payload.EmailLogID, sentAt); err != nil {
		p.logger.Error("mark email sent failed", zap.Error(err), zap.String("email_log_id", payload.EmailLogID.String()))
	}
	if payload.InvitationID != nil {
		if err := p.invitations.MarkSent(ctx, *payload.InvitationID, sentAt); err != nil {
			p.logger.Error("mark invitation sent failed", zap.Error(err), zap.Int64("invitation_id", *payload.InvitationID))
		}
	}
	p.logger.Info("email sent", zap.String("email_log_id", payload.EmailLogID.String()), zap.Int64("poll_id", payload.PollID))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *EmailProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("email worker stopping")
			return
		default:
		}

		job, queueName, err := p.queue.Dequeue(ctx, queue.QueueEmails)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.queue.Retry(ctx, queueName, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *EmailProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
