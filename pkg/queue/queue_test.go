package queue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewQueue(client, nil), mr
}

func TestEnqueueDequeueEmail(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	payload := EmailPayload{
		EmailType:      "invite",
		RecipientEmail: "a@b.com",
		Subject:        "You are invited",
		BodyText:       "join us",
	}
	require.NoError(t, q.EnqueueEmail(ctx, payload))

	job, origin, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, QueueEmails, origin)
	assert.Equal(t, JobTypeEmail, job.Type)
	assert.Equal(t, 0, job.Attempt)
	assert.NotEmpty(t, job.ID)

	var got EmailPayload
	require.NoError(t, json.Unmarshal(job.Payload, &got))
	assert.Equal(t, payload, got)
}

func TestEnqueueDequeueWebhookDelivery(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	deliveryID := uuid.New()
	require.NoError(t, q.EnqueueWebhookDelivery(ctx, WebhookDeliveryPayload{DeliveryID: deliveryID}))

	job, origin, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, QueueWebhooks, origin)
	assert.Equal(t, JobTypeWebhookDelivery, job.Type)

	var got WebhookDeliveryPayload
	require.NoError(t, json.Unmarshal(job.Payload, &got))
	assert.Equal(t, deliveryID, got.DeliveryID)
}

func TestRetryRequeuesOnOrigin(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.EnqueueEmail(ctx, EmailPayload{RecipientEmail: "a@b.com"}))
	job, origin, err := q.Dequeue(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Retry(ctx, job, origin))

	again, origin2, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, QueueEmails, origin2)
	assert.Equal(t, job.ID, again.ID)
	assert.Equal(t, 1, again.Attempt)
}

func TestRetryMovesToDLQAfterMaxRetries(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.EnqueueEmail(ctx, EmailPayload{RecipientEmail: "a@b.com"}))
	job, origin, err := q.Dequeue(ctx)
	require.NoError(t, err)

	job.Attempt = MaxRetries - 1
	require.NoError(t, q.Retry(ctx, job, origin))

	assert.Equal(t, 0, listLen(t, mr, QueueEmails))
	require.Equal(t, 1, listLen(t, mr, QueueDLQ))

	raw, err := mr.Lpop(QueueDLQ)
	require.NoError(t, err)
	var dead Job
	require.NoError(t, json.Unmarshal([]byte(raw), &dead))
	assert.Equal(t, job.ID, dead.ID)
	assert.Equal(t, MaxRetries, dead.Attempt)
}

func listLen(t *testing.T, mr *miniredis.Miniredis, key string) int {
	t.Helper()
	if !mr.Exists(key) {
		return 0
	}
	items, err := mr.List(key)
	require.NoError(t, err)
	return len(items)
}
