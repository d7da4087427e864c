// Package mailer opens authenticated SMTP submission sessions for the dispatch loop.
package mailer

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"

	"github.com/unclebandit/reminder-mailer/internal/metrics"
	"github.com/unclebandit/reminder-mailer/internal/model"
)

// Transport opens a session that stays open for a whole dispatch run.
type Transport interface {
	Dial(ctx context.Context) (Session, error)
}

type Session interface {
	Send(ctx context.Context, email model.Email) error
	Close() error
}

type Config struct {
	Host               string
	Port               int
	Username           string
	Password           string
	InsecureSkipVerify bool
}

// SMTPTransport dials host:port, upgrades with STARTTLS when offered and
// authenticates once per session.
type SMTPTransport struct {
	dialer *gomail.Dialer
	log    zerolog.Logger
}

func NewSMTPTransport(cfg Config, log zerolog.Logger) *SMTPTransport {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.TLSConfig = &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
	if cfg.InsecureSkipVerify {
		d.TLSConfig.InsecureSkipVerify = true
	}
	l := log.With().Str("component", "mailer").Str("host", cfg.Host).Int("port", cfg.Port).Logger()
	l.Info().Str("user", cfg.Username).Msg("smtp transport configured")
	return &SMTPTransport{dialer: d, log: l}
}

func (t *SMTPTransport) Host() string { return t.dialer.Host }

func (t *SMTPTransport) Dial(ctx context.Context) (Session, error) {
	type result struct {
		sc  gomail.SendCloser
		err error
	}
	ch := make(chan result, 1)
	go func() {
		sc, err := t.dialer.Dial()
		ch <- result{sc: sc, err: err}
	}()

	select {
	case <-ctx.Done():
		// the dial may still succeed; close it when it does
		go func() {
			if r := <-ch; r.sc != nil {
				_ = r.sc.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			metrics.MailConnectFailure.WithLabelValues(t.Host()).Inc()
			t.log.Warn().Err(r.err).Msg("smtp dial failed")
			return nil, fmt.Errorf("dial %s:%d: %w", t.dialer.Host, t.dialer.Port, r.err)
		}
		t.log.Debug().Msg("smtp session opened")
		return &smtpSession{sc: r.sc, host: t.Host(), log: t.log}, nil
	}
}

type smtpSession struct {
	sc   gomail.SendCloser
	host string
	log  zerolog.Logger
}

func (s *smtpSession) Send(ctx context.Context, email model.Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := gomail.Send(s.sc, buildMessage(email)); err != nil {
		metrics.MailSendFailure.WithLabelValues(s.host).Inc()
		return err
	}
	metrics.MailSendSuccess.WithLabelValues(s.host).Inc()
	s.log.Debug().Str("to", email.To).Msg("mail sent")
	return nil
}

func (s *smtpSession) Close() error {
	return s.sc.Close()
}

func buildMessage(email model.Email) *gomail.Message {
	msg := gomail.NewMessage()
	msg.SetHeader("From", email.From)
	msg.SetHeader("To", email.To)
	msg.SetHeader("Subject", email.Subject)
	msg.SetBody("text/plain", email.Body)
	return msg
}

var _ Transport = (*SMTPTransport)(nil)
