package jobs

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallbill/smallbill/internal/invoicing"
)

func TestEnqueuedInvoiceEmailRetriesOnFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	redisOpts := asynq.RedisClientOpt{Addr: mr.Addr()}

	client, err := NewClient(redisOpts)
	require.NoError(t, err)
	defer client.Close()

	invoiceID := uuid.New()
	require.NoError(t, client.EnqueueInvoiceEmail(context.Background(), invoiceID, invoicing.EmailOptions{}))

	inspector := asynq.NewInspector(redisOpts)
	defer inspector.Close()
	tasks, err := inspector.ListPendingTasks(QueueDefault)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, TaskTypeInvoiceEmail, tasks[0].Type)

	// A transient SMTP failure must leave room for redelivery.
	assert.Greater(t, tasks[0].MaxRetry, 0)

	var payload InvoiceEmailPayload
	require.NoError(t, json.Unmarshal(tasks[0].Payload, &payload))
	assert.Equal(t, invoiceID, payload.InvoiceID)
}

func TestEnqueueCarriesEmailOverrides(t *testing.T) {
	mr := miniredis.RunT(t)
	redisOpts := asynq.RedisClientOpt{Addr: mr.Addr()}

	client, err := NewClient(redisOpts)
	require.NoError(t, err)
	defer client.Close()

	opts := invoicing.EmailOptions{
		Recipient: "accounts@customer.example",
		Subject:   "Your September invoice",
		Message:   "Thanks for your business.",
	}
	require.NoError(t, client.EnqueueInvoiceEmail(context.Background(), uuid.New(), opts))

	inspector := asynq.NewInspector(redisOpts)
	defer inspector.Close()
	tasks, err := inspector.ListPendingTasks(QueueDefault)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	var payload InvoiceEmailPayload
	require.NoError(t, json.Unmarshal(tasks[0].Payload, &payload))
	assert.Equal(t, opts.Recipient, payload.Recipient)
	assert.Equal(t, opts.Subject, payload.Subject)
	assert.Equal(t, opts.Message, payload.Message)
}
