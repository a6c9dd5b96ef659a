package mailer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/FilipeAphrody/estate-auth/internal/metrics"
)

// Message is one outbound email.
type Message struct {
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sent_at"`
}

// Sender hands a message to a concrete transport.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

const defaultSendTimeout = 5 * time.Second

// Async implements domain.Mailer on top of a Sender. Every email is sent on
// its own goroutine so the request path never waits on the transport.
type Async struct {
	sender  Sender
	timeout time.Duration
	now     func() time.Time
	wg      sync.WaitGroup
}

func NewAsync(sender Sender, timeout time.Duration) *Async {
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &Async{sender: sender, timeout: timeout, now: time.Now}
}

// SendEmail dispatches in the background. Failures are logged and counted,
// never returned.
func (a *Async) SendEmail(ctx context.Context, to, subject, body string) {
	msg := Message{To: to, Subject: subject, Body: body, SentAt: a.now().UTC()}

	// detach from the request so a finished handler does not cancel delivery
	base := context.WithoutCancel(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		sendCtx, cancel := context.WithTimeout(base, a.timeout)
		defer cancel()

		err := a.sender.Send(sendCtx, msg)
		metrics.RecordEmailDispatched(a.sender.Name(), err)
		if err != nil {
			log.Error().Err(err).
				Str("transport", a.sender.Name()).
				Str("to", to).
				Str("subject", subject).
				Msg("email dispatch failed")
		}
	}()
}

// Wait blocks until every in-flight email has been handed off.
func (a *Async) Wait() {
	a.wg.Wait()
}
