// Package poller follows an installation from the client side: it polls the
// server at a fixed interval, forwards new log entries and progress to a view
// and stops once the job is terminal or the attempt budget is spent.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"

	api "github.com/serverkit/installer/api/v1alpha1"
)

const (
	DefaultInterval    = time.Second
	DefaultMaxAttempts = 300
)

type State string

const (
	StateIdle         State = "idle"
	StatePolling      State = "polling"
	StateCompleted    State = "completed"
	StateErrorStopped State = "errorStopped"
	StateTimedOut     State = "timedOut"
)

// ErrPollTimeout is returned when the job was still running after the last
// allowed attempt. The server side job is left alone.
var ErrPollTimeout = errors.New("installation timeout, please check the server logs")

// ErrJobFailed carries the message of a job that ended in error.
type ErrJobFailed struct {
	Message string
}

func (e *ErrJobFailed) Error() string {
	return "installation failed: " + e.Message
}

// Source is polled for the progress of one session.
type Source interface {
	Poll(ctx context.Context) (*api.ProgressResponse, error)
}

// LogView receives what the user should see. Entries are only ever appended
// and progress only ever increases.
type LogView interface {
	AppendLog(entry api.LogEntry)
	SetProgress(progress int, label string)
}

type Option func(p *Poller)

func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

func WithJitter(j jitterbug.Jitter) Option {
	return func(p *Poller) {
		p.jitter = j
	}
}

type Poller struct {
	source      Source
	view        LogView
	interval    time.Duration
	maxAttempts int
	jitter      jitterbug.Jitter

	mu       sync.Mutex
	state    State
	progress int
	attempts int
}

func New(source Source, view LogView, opts ...Option) *Poller {
	p := &Poller{
		source:      source,
		view:        view,
		interval:    DefaultInterval,
		maxAttempts: DefaultMaxAttempts,
		jitter:      &jitterbug.Norm{Stdev: 30 * time.Millisecond, Mean: 0},
		state:       StateIdle,
		progress:    -1,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Progress returns the highest progress seen so far.
func (p *Poller) Progress() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return max(p.progress, 0)
}

func (p *Poller) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// Run polls until the job completes, fails or the attempts run out. Only one
// request is outstanding at any time. Cancelling ctx abandons the loop, the
// job keeps running on the server.
func (p *Poller) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.state == StatePolling {
		p.mu.Unlock()
		return errors.New("poller is already running")
	}
	p.state = StatePolling
	p.attempts = 0
	p.mu.Unlock()

	logger := zap.S().Named("poller")
	ticker := jitterbug.New(p.interval, p.jitter)
	defer ticker.Stop()

	for {
		resp, err := p.source.Poll(ctx)
		p.mu.Lock()
		p.attempts++
		attempts := p.attempts
		p.mu.Unlock()

		if err != nil {
			p.appendLog("error", "Failed to get installation progress: "+err.Error())
			p.setState(StateErrorStopped)
			return fmt.Errorf("polling installation progress: %w", err)
		}

		p.forward(resp)

		switch resp.Status {
		case api.JobStatusCompleted:
			p.appendLog("success", "Installation completed successfully!")
			p.setState(StateCompleted)
			return nil
		case api.JobStatusError:
			p.appendLog("error", "Installation failed: "+resp.Message)
			p.setState(StateErrorStopped)
			return &ErrJobFailed{Message: resp.Message}
		}

		if attempts >= p.maxAttempts {
			logger.Warnw("giving up on installation progress", "attempts", attempts)
			p.appendLog("error", "Installation timeout. Please check the server logs.")
			p.setState(StateTimedOut)
			return ErrPollTimeout
		}

		select {
		case <-ctx.Done():
			p.setState(StateErrorStopped)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Poller) forward(resp *api.ProgressResponse) {
	p.mu.Lock()
	increased := resp.Progress > p.progress
	if increased {
		p.progress = resp.Progress
	}
	p.mu.Unlock()

	if increased && p.view != nil {
		p.view.SetProgress(resp.Progress, Label(resp.Progress))
	}
	if p.view != nil {
		for _, l := range resp.Logs {
			p.view.AppendLog(l)
		}
	}
}

func (p *Poller) appendLog(kind, message string) {
	if p.view == nil {
		return
	}
	p.view.AppendLog(api.LogEntry{Type: kind, Message: message, Timestamp: time.Now()})
}

func (p *Poller) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Label describes the part of the installation a progress value falls in.
func Label(progress int) string {
	switch {
	case progress < 20:
		return "Installing system packages..."
	case progress < 40:
		return "Configuring database..."
	case progress < 60:
		return "Setting up web server..."
	case progress < 80:
		return "Installing application files..."
	case progress < 100:
		return "Finalizing configuration..."
	default:
		return "Installation complete!"
	}
}
