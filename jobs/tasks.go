package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries time-bound work such as challenge mail.
	QueueCritical = "critical"
	// TaskSweep removes expired sessions, grants and idempotency keys.
	TaskSweep = "admin:sweep"
	// TaskRevealChallenge mails a second-factor code to an admin.
	TaskRevealChallenge = "reveal:challenge"
)

// SweepPayload is empty; the sweep always covers every store.
type SweepPayload struct{}

// NewSweepTask constructs the sweep task registered on the cron schedule.
func NewSweepTask() (*asynq.Task, error) {
	data, err := json.Marshal(SweepPayload{})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSweep, data), nil
}

// ChallengePayload describes a challenge mail.
type ChallengePayload struct {
	ChallengeID string    `json:"challenge_id"`
	To          string    `json:"to"`
	ResourceID  string    `json:"resource_id"`
	Code        string    `json:"code"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// NewChallengeTask constructs a challenge task that is dropped once the code
// has expired.
func NewChallengeTask(payload ChallengePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRevealChallenge, data,
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(3),
		asynq.Deadline(payload.ExpiresAt),
		asynq.TaskID(payload.ChallengeID),
	), nil
}
