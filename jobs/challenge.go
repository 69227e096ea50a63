package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/dateapp/dateapp-admin/internal/jobs"
)

// MailSender delivers a message; *SMTPMailer satisfies it.
type MailSender interface {
	Send(ctx context.Context, m Mail) error
}

// ChallengeJob mails reveal challenge codes.
type ChallengeJob struct {
	Mailer  MailSender
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewChallengeJob wires dependencies for the challenge handler.
func NewChallengeJob(mailer MailSender, logger *slog.Logger, metrics *jobmetrics.Metrics) *ChallengeJob {
	return &ChallengeJob{
		Mailer:  mailer,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskRevealChallenge.
func (j *ChallengeJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Mailer == nil {
		return errors.New("challenge: handler not configured")
	}
	var payload ChallengePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	logger := j.logger().With(slog.String("challenge_id", payload.ChallengeID))
	if payload.To == "" || payload.Code == "" {
		logger.Warn("challenge payload incomplete")
		return asynq.SkipRetry
	}
	if !j.now().Before(payload.ExpiresAt) {
		logger.Info("challenge expired before delivery")
		return nil
	}

	tracker := j.metrics().Track(TaskRevealChallenge)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	err := j.Mailer.Send(ctx, Mail{
		To:      payload.To,
		Subject: "Your verification code",
		Body:    challengeBody(payload),
	})
	if err != nil {
		logger.Warn("challenge delivery", slog.Any("error", err))
		return err
	}
	logger.Info("challenge delivered")
	return nil
}

func challengeBody(p ChallengePayload) string {
	return fmt.Sprintf(
		"Your code to view protected details of record %s is %s.\r\n\r\nIt expires at %s UTC and can be used once.\r\nIf you did not request it, contact the security team.\r\n",
		p.ResourceID, p.Code, p.ExpiresAt.UTC().Format("15:04:05"),
	)
}

func (j *ChallengeJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

func (j *ChallengeJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *ChallengeJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
