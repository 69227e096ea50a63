package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/dateapp/dateapp-admin/internal/jobs"
	"github.com/dateapp/dateapp-admin/internal/reveal"
	_ "github.com/dateapp/dateapp-admin/testing"
)

type recordingEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (e *recordingEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.tasks = append(e.tasks, task)
	return &asynq.TaskInfo{ID: "1", Type: task.Type()}, nil
}

func (e *recordingEnqueuer) Close() error { return nil }

type fakeMailer struct {
	sent []Mail
	err  error
}

func (m *fakeMailer) Send(ctx context.Context, mail Mail) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, mail)
	return nil
}

func TestClientSendChallengeEnqueuesTask(t *testing.T) {
	enq := &recordingEnqueuer{}
	client := NewClientWith(enq)
	expires := time.Date(2025, 3, 1, 9, 5, 0, 0, time.UTC)

	err := client.SendChallenge(context.Background(), reveal.Delivery{
		ChallengeID: "01JNCH",
		PrincipalID: "adm-1",
		Email:       "kim@example.com",
		ResourceID:  "M001.phone",
		Code:        "042913",
		ExpiresAt:   expires,
	})
	require.NoError(t, err)
	require.Len(t, enq.tasks, 1)
	assert.Equal(t, TaskRevealChallenge, enq.tasks[0].Type())

	var payload ChallengePayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	assert.Equal(t, "kim@example.com", payload.To)
	assert.Equal(t, "042913", payload.Code)
	assert.True(t, payload.ExpiresAt.Equal(expires))

	err = client.SendChallenge(context.Background(), reveal.Delivery{ChallengeID: "x", PrincipalID: "adm-2"})
	assert.Error(t, err)
	assert.Len(t, enq.tasks, 1)
}

func TestChallengeJobDelivers(t *testing.T) {
	mailer := &fakeMailer{}
	job := NewChallengeJob(mailer, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	job.clock = func() time.Time { return now }

	task, err := NewChallengeTask(ChallengePayload{ChallengeID: "c1", To: "kim@example.com", ResourceID: "M001.phone", Code: "111222", ExpiresAt: now.Add(5 * time.Minute)})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, mailer.sent, 1)
	assert.Contains(t, mailer.sent[0].Body, "111222")
	assert.Equal(t, "kim@example.com", mailer.sent[0].To)
}

func TestChallengeJobSkipsExpiredAndMalformed(t *testing.T) {
	mailer := &fakeMailer{}
	job := NewChallengeJob(mailer, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	job.clock = func() time.Time { return now }

	expired, err := NewChallengeTask(ChallengePayload{ChallengeID: "c2", To: "kim@example.com", Code: "1", ExpiresAt: now})
	require.NoError(t, err)
	assert.NoError(t, job.Handle(context.Background(), expired))
	assert.Empty(t, mailer.sent)

	err = job.Handle(context.Background(), asynq.NewTask(TaskRevealChallenge, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestChallengeJobPropagatesSendFailure(t *testing.T) {
	mailer := &fakeMailer{err: errors.New("relay down")}
	job := NewChallengeJob(mailer, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	task, err := NewChallengeTask(ChallengePayload{ChallengeID: "c3", To: "kim@example.com", Code: "1", ExpiresAt: time.Now().Add(time.Minute)})
	require.NoError(t, err)
	assert.Error(t, job.Handle(context.Background(), task))
}

func TestSMTPMailerComposesAndTrips(t *testing.T) {
	var got []byte
	calls := 0
	fail := false
	mailer := NewSMTPMailer(MailerConfig{
		Host:        "mail.internal",
		Port:        1025,
		From:        "security@dateapp.test",
		MaxFailures: 2,
		OpenFor:     time.Hour,
		Send: func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
			calls++
			assert.Equal(t, "mail.internal:1025", addr)
			got = msg
			if fail {
				return errors.New("connection refused")
			}
			return nil
		},
	})

	require.NoError(t, mailer.Send(context.Background(), Mail{To: "kim@example.com", Subject: "Code", Body: "123456"}))
	text := string(got)
	assert.Contains(t, text, "To: kim@example.com\r\n")
	assert.Contains(t, text, "Message-ID: <")
	assert.True(t, strings.HasSuffix(text, "\r\n\r\n123456"))

	fail = true
	assert.Error(t, mailer.Send(context.Background(), Mail{To: "kim@example.com"}))
	assert.Error(t, mailer.Send(context.Background(), Mail{To: "kim@example.com"}))
	assert.Equal(t, gobreaker.StateOpen, mailer.State())

	before := calls
	err := mailer.Send(context.Background(), Mail{To: "kim@example.com"})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, before, calls)
}

func TestSweepJobSweepsEveryStore(t *testing.T) {
	boom := errors.New("redis down")
	var keysOlderThan time.Duration
	job := &SweepJob{
		Sessions:     SweeperFunc(func(ctx context.Context) (int, error) { return 0, boom }),
		Grants:       SweeperFunc(func(ctx context.Context) (int, error) { return 4, nil }),
		Keys:         cleanerFunc(func(ctx context.Context, d time.Duration) (int64, error) { keysOlderThan = d; return 2, nil }),
		KeyRetention: 72 * time.Hour,
		Metrics:      jobmetrics.NewMetrics(prometheus.NewRegistry()),
	}
	task, err := NewSweepTask()
	require.NoError(t, err)

	err = job.Handle(context.Background(), task)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 72*time.Hour, keysOlderThan)
}

type cleanerFunc func(ctx context.Context, d time.Duration) (int64, error)

func (f cleanerFunc) Cleanup(ctx context.Context, d time.Duration) (int64, error) { return f(ctx, d) }

type stubInspector struct {
	err error
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &asynq.QueueInfo{Queue: queue, Pending: 3}, nil
}

func TestHealthHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	NewHandler(stubInspector{}, nil).health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"queue":"critical"`)
	assert.Contains(t, rr.Body.String(), `"pending":3`)

	rr = httptest.NewRecorder()
	NewHandler(stubInspector{err: errors.New("down")}, nil).health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
