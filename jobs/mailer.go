package jobs

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
)

const (
	defaultMailMaxFailures uint32 = 5
	defaultMailOpenFor            = 30 * time.Second
	defaultMailInterval           = time.Minute
)

// Mail is a plain-text message.
type Mail struct {
	To      string
	Subject string
	Body    string
}

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// MailerConfig configures an SMTPMailer.
type MailerConfig struct {
	Host string
	Port int
	From string
	// MaxFailures consecutive send errors open the breaker for OpenFor.
	MaxFailures uint32
	OpenFor     time.Duration
	Logger      *slog.Logger
	Send        SendFunc
	Now         func() time.Time
}

// SMTPMailer sends mail through a relay behind a circuit breaker. While the
// breaker is open sends fail fast and asynq retries the task.
type SMTPMailer struct {
	addr    string
	from    string
	domain  string
	send    SendFunc
	now     func() time.Time
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewSMTPMailer constructs an SMTPMailer.
func NewSMTPMailer(cfg MailerConfig) *SMTPMailer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = defaultMailMaxFailures
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = defaultMailOpenFor
	}
	if cfg.Send == nil {
		cfg.Send = smtp.SendMail
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	maxFailures := cfg.MaxFailures
	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "smtp:" + cfg.Host,
		MaxRequests: 1,
		Interval:    defaultMailInterval,
		Timeout:     cfg.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	return &SMTPMailer{
		addr:    net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		from:    cfg.From,
		domain:  cfg.Host,
		send:    cfg.Send,
		now:     cfg.Now,
		breaker: breaker,
	}
}

// Send delivers m. It returns gobreaker.ErrOpenState while the relay is
// considered down.
func (m *SMTPMailer) Send(ctx context.Context, mail Mail) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := m.compose(mail)
	_, err := m.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, m.send(m.addr, nil, m.from, []string{mail.To}, msg)
	})
	if err != nil {
		return fmt.Errorf("smtp: send to %s: %w", mail.To, err)
	}
	return nil
}

// State reports the breaker state.
func (m *SMTPMailer) State() gobreaker.State {
	return m.breaker.State()
}

func (m *SMTPMailer) compose(mail Mail) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", m.from)
	fmt.Fprintf(&b, "To: %s\r\n", mail.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mail.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", m.now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: <%s@%s>\r\n", uuid.NewString(), m.domain)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(mail.Body)
	return b.Bytes()
}
