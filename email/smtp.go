package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"net/textproto"
	"time"
)

// SMTPProvider sends emails over SMTP with implicit TLS (port 465).
type SMTPProvider struct {
	logger   *slog.Logger
	host     string
	port     string
	user     string
	password string
	from     string
	timeout  time.Duration
}

// NewSMTPProvider creates an SMTP provider. from defaults to user.
func NewSMTPProvider(host, port, user, password, from string, logger *slog.Logger) *SMTPProvider {
	if from == "" {
		from = user
	}
	return &SMTPProvider{
		logger:   logger,
		host:     host,
		port:     port,
		user:     user,
		password: password,
		from:     from,
		timeout:  30 * time.Second,
	}
}

// Send implements Provider.
func (p *SMTPProvider) Send(ctx context.Context, msg Message) error {
	raw, err := buildMIME(p.from, msg)
	if err != nil {
		return fmt.Errorf("build message: %w", err)
	}
	to := sanitizeEmailHeader(msg.To)

	return deliver(ctx, p.logger, "smtp", msg, func() error {
		return smtpError(p.transmit(ctx, to, raw))
	})
}

// smtpError turns server replies into StatusErrors. 5xx replies are
// permanent; 4xx replies may succeed later.
func smtpError(err error) error {
	var reply *textproto.Error
	if !errors.As(err, &reply) {
		return err
	}
	return fmt.Errorf("%w: %s", &StatusError{
		Provider:  "smtp",
		Code:      reply.Code,
		Permanent: reply.Code >= 500,
	}, reply.Msg)
}

func (p *SMTPProvider) transmit(ctx context.Context, to string, raw []byte) error {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: p.timeout},
		Config:    &tls.Config{ServerName: p.host, MinVersion: tls.VersionTLS12},
	}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(p.host, p.port))
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(p.timeout))
	}

	c, err := smtp.NewClient(conn, p.host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp client: %w", err)
	}
	defer func() {
		if closeErr := c.Close(); closeErr != nil {
			p.logger.Debug("SMTP close failed", "error", closeErr)
		}
	}()

	if err := c.Auth(smtp.PlainAuth("", p.user, p.password, p.host)); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := c.Mail(p.from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("end data: %w", err)
	}
	return c.Quit()
}
