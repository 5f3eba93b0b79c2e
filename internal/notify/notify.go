// Package notify delivers best-effort notifications (lockout notices,
// verification and reset mail). Delivery is at-most-once: submissions run in
// the background and failures are logged, never surfaced to the caller.
package notify

import (
	"context"
	"sync"
	"time"

	"authcore.org/internal/obs"
)

// Mailer sends a single message. Concrete transports (SMTP, an email API)
// live outside the core; the identity core only consumes this contract.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// LogMailer writes messages to the shared log instead of delivering them.
// Used in development and tests.
type LogMailer struct {
	From string
}

func (m LogMailer) Send(_ context.Context, to, subject, _ string) error {
	obs.Log(map[string]any{
		"level":   "info",
		"msg":     "mail delivered to log",
		"from":    m.From,
		"to":      to,
		"subject": subject,
	})
	return nil
}

// Dispatcher submits sends as background tasks with a bounded per-send
// timeout.
type Dispatcher struct {
	mailer  Mailer
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewDispatcher(mailer Mailer) *Dispatcher {
	if mailer == nil {
		mailer = LogMailer{}
	}
	return &Dispatcher{mailer: mailer, timeout: 10 * time.Second}
}

// Submit queues a send. It returns immediately; the outcome is logged.
func (d *Dispatcher) Submit(to, subject, htmlBody string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.mailer.Send(ctx, to, subject, htmlBody); err != nil {
			obs.Log(map[string]any{
				"level":   "warn",
				"msg":     "notification send failed",
				"to":      to,
				"subject": subject,
				"error":   err.Error(),
			})
		}
	}()
}

// Close waits for in-flight sends to finish.
func (d *Dispatcher) Close() {
	d.wg.Wait()
}
