package team

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/officefloor/officefloor/internal/log"
)

// Passive runs each job on the goroutine that assigns it.
type Passive struct {
	name    string
	logger  *slog.Logger
	stopped atomic.Bool
}

var _ Team = (*Passive)(nil)

// NewPassive creates a passive team.
func NewPassive(name string, logger *slog.Logger) *Passive {
	if logger == nil {
		logger = log.WithComponent("team")
	}
	return &Passive{name: name, logger: logger.With("team", name)}
}

func (p *Passive) Name() string { return p.name }

func (p *Passive) Assign(job Job) error {
	if p.stopped.Load() {
		return fmt.Errorf("assign to %s: %w", p.name, ErrTeamStopped)
	}
	run(p.name, job, p.logger)
	return nil
}

func (p *Passive) Stop(context.Context) error {
	p.stopped.Store(true)
	return nil
}
