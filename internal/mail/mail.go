// Package mail sends digest emails. Sender is the delivery contract the
// digest workers depend on; SMTP delivers through gomail and Log writes the
// message to the structured log for local development.
package mail

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"
	"strings"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/tbourn/go-feature-board/internal/config"
	"github.com/tbourn/go-feature-board/internal/domain"
)

// Sender delivers one plain-text message.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// ErrRejected marks failures that retrying cannot fix: an invalid message or
// a permanent (5xx) SMTP reply. It wraps domain.ErrPermanent; every other
// send failure wraps domain.ErrTransient.
var ErrRejected = fmt.Errorf("%w: mail rejected", domain.ErrPermanent)

// dialSender is the part of *gomail.Dialer SMTP uses.
type dialSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTP sends mail through an SMTP relay.
type SMTP struct {
	from    string
	timeout time.Duration
	dialer  dialSender
}

// NewSMTP builds an SMTP sender from cfg. Each Send dials its own
// connection.
func NewSMTP(cfg config.SMTPConfig) *SMTP {
	return &SMTP{
		from:    cfg.From,
		timeout: 30 * time.Second,
		dialer:  gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

// Send delivers the message, giving up when ctx is done or the send takes
// longer than the sender's timeout.
func (s *SMTP) Send(ctx context.Context, to, subject, body string) error {
	msg, err := buildMessage(s.from, to, subject, body)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- s.dialer.DialAndSend(msg)
	}()

	wait := s.timeout
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 && d < wait {
			wait = d
		}
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		var tpErr *textproto.Error
		if errors.As(err, &tpErr) && tpErr.Code >= 500 {
			return fmt.Errorf("%w: smtp %d: %s", ErrRejected, tpErr.Code, tpErr.Msg)
		}
		return fmt.Errorf("%w: smtp send: %w", domain.ErrTransient, err)
	case <-ctx.Done():
		return fmt.Errorf("%w: smtp send: %w", domain.ErrTransient, ctx.Err())
	case <-timer.C:
		return fmt.Errorf("%w: smtp send: %w", domain.ErrTransient, context.DeadlineExceeded)
	}
}

func buildMessage(from, to, subject, body string) (*gomail.Message, error) {
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	subject = strings.TrimSpace(subject)
	switch {
	case from == "":
		return nil, fmt.Errorf("%w: from is required", ErrRejected)
	case to == "":
		return nil, fmt.Errorf("%w: recipient is required", ErrRejected)
	case subject == "":
		return nil, fmt.Errorf("%w: subject is required", ErrRejected)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)
	return m, nil
}
