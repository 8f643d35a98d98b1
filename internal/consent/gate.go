package consent

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Status is the platform ad-tracking permission decision.
type Status string

const (
	NotDetermined Status = "not-determined"
	Denied        Status = "denied"
	Granted       Status = "granted"
	Restricted    Status = "restricted"
)

// Parse maps a platform string to a Status. Unknown values are NotDetermined.
func Parse(s string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case Granted, "authorized":
		return Granted
	case Denied:
		return Denied
	case Restricted:
		return Restricted
	default:
		return NotDetermined
	}
}

// AllowsIdentifiers reports whether advertiser identifiers may be collected.
func (s Status) AllowsIdentifiers() bool { return s == Granted }

// Prompter shows the OS-level tracking permission dialog.
type Prompter interface {
	Prompt(ctx context.Context) (Status, error)
}

// PromptFunc adapts a function to Prompter.
type PromptFunc func(ctx context.Context) (Status, error)

func (f PromptFunc) Prompt(ctx context.Context) (Status, error) { return f(ctx) }

// Fixed is a Prompter that always answers with the same decision, as reported
// by the device on behalf of the platform.
type Fixed Status

func (f Fixed) Prompt(context.Context) (Status, error) { return Status(f), nil }

// Gate resolves tracking consent exactly once per process.
type Gate struct {
	prompter   Prompter
	applicable bool
	log        *zap.Logger

	once   sync.Once
	status Status
}

// NewGate returns a gate for the given platform. Only "ios" shows a prompt;
// every other platform resolves to Granted immediately.
func NewGate(platform string, p Prompter, log *zap.Logger) *Gate {
	return &Gate{
		prompter:   p,
		applicable: strings.EqualFold(platform, "ios"),
		log:        log.Named("consent"),
	}
}

// Request suspends until the decision is known. Later calls return the stored
// decision without prompting again.
func (g *Gate) Request(ctx context.Context) Status {
	g.once.Do(func() {
		if !g.applicable || g.prompter == nil {
			g.status = Granted
			g.log.Debug("tracking prompt not applicable")
			return
		}

		st, err := g.prompter.Prompt(ctx)
		if err != nil {
			g.log.Warn("tracking prompt failed", zap.Error(err))
			st = NotDetermined
		}
		g.status = st
		g.log.Info("tracking consent resolved", zap.String("status", string(st)))
	})
	return g.status
}
