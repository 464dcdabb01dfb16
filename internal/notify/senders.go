package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wneessen/go-mail"

	"github.com/example/chair-portal/internal/logging"
)

// LogSender renders messages and writes them to the structured log instead of
// delivering them. It is the default for development and cron dry runs.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender constructs a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

// Send implements Sender.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.To.Email) == "" {
		return ErrNoRecipient
	}
	rendered, err := Render(msg)
	if err != nil {
		return err
	}
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = s.logger
	}
	logger.InfoContext(ctx, "notification rendered",
		"kind", string(msg.Kind),
		"recipient", msg.To.Email,
		"subject", rendered.Subject,
		"body_bytes", len(rendered.Body),
	)
	return nil
}

// SMTPConfig configures SMTPSender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	TLS      bool
}

// SMTPSender delivers rendered messages through an SMTP relay.
type SMTPSender struct {
	cfg    SMTPConfig
	client *mail.Client
}

// NewSMTPSender validates cfg and prepares a client. Connections are opened per send.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("notify: smtp host is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("notify: sender address is required")
	}

	opts := []mail.Option{mail.WithPort(cfg.Port)}
	if cfg.TLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("notify: create smtp client: %w", err)
	}
	return &SMTPSender{cfg: cfg, client: client}, nil
}

// Send implements Sender.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.To.Email) == "" {
		return ErrNoRecipient
	}
	rendered, err := Render(msg)
	if err != nil {
		return err
	}

	m := mail.NewMsg()
	if err := m.From(s.cfg.From); err != nil {
		return fmt.Errorf("notify: invalid from address: %w", err)
	}
	if err := m.To(msg.To.Email); err != nil {
		return fmt.Errorf("notify: invalid recipient address: %w", err)
	}
	m.Subject(rendered.Subject)
	m.SetBodyString(mail.TypeTextPlain, rendered.Body)

	if err := s.client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("notify: smtp delivery: %w", err)
	}
	return nil
}
