package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	// JobTypeCreditApply re-applies a verified payment webhook whose ledger
	// write failed.
	JobTypeCreditApply JobType = "credit_apply"
	// JobTypeWebhookReconcile scans stored webhook events that never finished
	// and enqueues credit_apply jobs for them.
	JobTypeWebhookReconcile JobType = "webhook_reconcile"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
	JobStatusDead       JobStatus = "dead"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// CreditApplyJobPayload carries a verified webhook body to re-apply. A zero
// WebhookEventID means the event could not be stored when it arrived.
type CreditApplyJobPayload struct {
	WebhookEventID uint   `json:"webhook_event_id"`
	Provider       string `json:"provider"`
	EventID        string `json:"event_id"`
	PayloadJSON    string `json:"payload_json"`
}

// ToMap converts the payload to a map for storage
func (p CreditApplyJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"webhook_event_id": p.WebhookEventID,
		"provider":         p.Provider,
		"event_id":         p.EventID,
		"payload_json":     p.PayloadJSON,
	}
}

// CreditApplyJobPayloadFromMap creates a payload from a map
func CreditApplyJobPayloadFromMap(data map[string]interface{}) (*CreditApplyJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload CreditApplyJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// WebhookReconcileJobPayload bounds one reconcile sweep.
type WebhookReconcileJobPayload struct {
	MinAgeSeconds int `json:"min_age_seconds"`
	Limit         int `json:"limit"`
}

func (p WebhookReconcileJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"min_age_seconds": p.MinAgeSeconds,
		"limit":           p.Limit,
	}
}

func WebhookReconcileJobPayloadFromMap(data map[string]interface{}) (*WebhookReconcileJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var payload WebhookReconcileJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}

// MarkAsDead marks a job that exhausted its retries
func (j *Job) MarkAsDead() {
	j.Status = JobStatusDead
	j.UpdatedAt = time.Now()
}
