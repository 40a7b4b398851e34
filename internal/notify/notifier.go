package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"scriba/internal/config"
	"scriba/internal/messaging"
)

// Notifier sends user-facing status messages for one recipient without
// flooding the channel. Non-forced messages respect a minimum interval;
// milestone messages pass force to bypass it.
type Notifier struct {
	provider  messaging.Provider
	recipient string
	cfg       config.NotifyConfig
	log       *logrus.Entry

	mu       sync.Mutex
	lastSent time.Time

	now func() time.Time
}

// NewNotifier creates a Notifier bound to one recipient.
func NewNotifier(provider messaging.Provider, recipient string, cfg config.NotifyConfig, log *logrus.Entry) *Notifier {
	return &Notifier{
		provider:  provider,
		recipient: recipient,
		cfg:       cfg,
		log:       log.WithField("component", "notify"),
		now:       time.Now,
	}
}

// Send delivers a status message, dropping it when the rate limit applies.
// Provider failures are logged and swallowed; a lost status message never
// aborts a pipeline.
func (n *Notifier) Send(ctx context.Context, text string, force bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	current := n.now()
	if !force && current.Sub(n.lastSent) < n.cfg.MinInterval {
		return
	}

	if err := n.provider.SendText(ctx, n.recipient, text); err != nil {
		n.log.WithError(err).WithField("recipient", n.recipient).Warn("Failed to send status message")
		return
	}
	n.lastSent = current
}

// RunWithHeartbeat runs fn, emitting periodic "still working" messages while
// it executes. The heartbeat loop starts only when the estimate crosses the
// configured threshold, and is always stopped and awaited before the final
// success or failure message, so no heartbeat can race past completion.
func (n *Notifier) RunWithHeartbeat(ctx context.Context, name string, estimate time.Duration, fn func(context.Context) error) error {
	start := n.now()

	initial := "🔄 " + name
	if estimate >= time.Minute {
		initial += fmt.Sprintf(" (~%s)", formatDuration(estimate))
	}
	n.Send(ctx, initial, true)

	var hbDone chan struct{}
	var hbCancel context.CancelFunc
	if estimate >= n.cfg.HeartbeatThreshold {
		var hbCtx context.Context
		hbCtx, hbCancel = context.WithCancel(ctx)
		hbDone = make(chan struct{})
		go n.heartbeatLoop(hbCtx, hbDone, name, estimate, start)
	}

	err := fn(ctx)

	if hbCancel != nil {
		hbCancel()
		<-hbDone
	}

	elapsed := n.now().Sub(start)
	if err != nil {
		n.Send(ctx, fmt.Sprintf("❌ %s failed after %s", name, formatDuration(elapsed)), true)
		return err
	}

	completion := "✅ " + name + " done"
	if elapsed > 45*time.Second {
		completion += fmt.Sprintf(" (%s)", formatDuration(elapsed))
	}
	n.Send(ctx, completion, true)
	return nil
}

func (n *Notifier) heartbeatLoop(ctx context.Context, done chan<- struct{}, name string, estimate time.Duration, start time.Time) {
	defer close(done)

	ticker := time.NewTicker(n.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			n.log.WithField("operation", name).Debug("Heartbeat stopped")
			return
		case <-ticker.C:
			elapsed := n.now().Sub(start)
			msg := fmt.Sprintf("⏳ %s still working, %s elapsed", name, formatDuration(elapsed))
			if remaining := estimate - elapsed; remaining > 0 {
				msg += fmt.Sprintf(", ~%s remaining", formatDuration(remaining))
			}
			n.Send(ctx, msg, false)
		}
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%.1fmin", d.Minutes())
}
