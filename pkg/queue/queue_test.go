package queue

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobWrapsPayload(t *testing.T) {
	invitationID := int64(42)
	payload := EmailPayload{
		EmailLogID:     uuid.New(),
		PollID:         7,
		InvitationID:   &invitationID,
		RecipientEmail: "voter@example.com",
		Subject:        "Invitation to vote: Lunch?",
	}

	job, err := newJob(JobTypeInvitationEmail, payload)
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, JobTypeInvitationEmail, job.Type)
	assert.Zero(t, job.Attempt)

	var decoded EmailPayload
	require.NoError(t, json.Unmarshal(job.Payload, &decoded))
	assert.Equal(t, payload, decoded)
}
