// Package jobs runs background work through Asynq: invoice email
// delivery and the status side effect that follows it.
package jobs

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeInvoiceEmail is the task type delivering an invoice to
	// the customer.
	TaskTypeInvoiceEmail = "invoice:email"
)

// InvoiceEmailPayload identifies the invoice to deliver. The worker
// re-loads the invoice so a draft edited between enqueue and delivery
// goes out with its current content. Recipient, Subject and Message
// override the defaults derived from the invoice when set.
type InvoiceEmailPayload struct {
	InvoiceID uuid.UUID `json:"invoice_id"`
	Recipient string    `json:"recipient,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// NewInvoiceEmailTask constructs an Asynq task. Retry policy is left
// to the server defaults so transient SMTP failures get retried.
func NewInvoiceEmailTask(payload InvoiceEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeInvoiceEmail, data), nil
}
