package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel/attribute"

	"foundry/internal/config"
	"foundry/internal/telemetry"
)

// Sweeper periodically escalates approvals that have waited too long.
// Settings is read before every sweep so interval and timeout changes apply
// without a restart. A zero TimeoutHours defers to each foundry's
// escalation.timeout_hours.
type Sweeper struct {
	Engine   Engine
	Settings func() config.ServerSettings
	Logger   *slog.Logger
}

func (s Sweeper) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s Sweeper) settings() config.ServerSettings {
	st := config.DefaultServerSettings()
	if s.Settings != nil {
		st = s.Settings()
	}
	if st.SweepInterval <= 0 {
		st.SweepInterval = 15 * time.Minute
	}
	return st
}

// Run sweeps immediately and then on every interval until ctx is done.
// A panicking sweep is logged and the loop keeps going.
func (s Sweeper) Run(ctx context.Context) error {
	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		st := s.settings()
		var catcher panics.Catcher
		catcher.Try(func() {
			n, err := s.SweepOnce(ctx, st.TimeoutHours)
			switch {
			case err != nil && !errors.Is(err, context.Canceled):
				s.logger().ErrorContext(ctx, "escalation sweep failed", "error", err)
			case n > 0:
				s.logger().InfoContext(ctx, "escalation sweep", "escalated", n)
			default:
				s.logger().DebugContext(ctx, "escalation sweep", "escalated", 0)
			}
		})
		if r := catcher.Recovered(); r != nil {
			s.logger().ErrorContext(ctx, "escalation sweep panicked", "error", r.AsError())
		}
		t.Reset(st.SweepInterval)
	}
}

// SweepOnce escalates every overdue, not yet escalated approval in every
// foundry and returns how many were escalated.
func (s Sweeper) SweepOnce(ctx context.Context, timeoutHours float64) (n int, err error) {
	ctx, span := telemetry.Start(ctx, "engine.Sweep")
	defer func() {
		span.SetAttributes(attribute.Int("escalated", n))
		telemetry.End(span, err)
	}()

	foundries, err := s.Engine.Repo.ListFoundries(ctx)
	if err != nil {
		return 0, err
	}
	var errs []error
	for _, f := range foundries {
		candidates, err := s.Engine.TasksNeedingEscalation(ctx, f.ID, timeoutHours)
		if err != nil {
			errs = append(errs, fmt.Errorf("foundry %s: %w", f.ID, err))
			continue
		}
		for _, c := range candidates {
			if c.Escalated {
				continue
			}
			reason := fmt.Sprintf("approval pending for %dh", int(math.Floor(c.HoursPending)))
			_, updated, err := s.Engine.escalate(ctx, c.TaskID, reason, SystemEscalationActor)
			if errors.Is(err, ErrNotAwaitingApproval) {
				continue
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("task %s: %w", c.TaskID, err))
				continue
			}
			if updated {
				n++
			}
		}
	}
	return n, errors.Join(errs...)
}
