// Package coordinator implements the singleton distributed mutex that
// serializes compactions. One logical instance exists per lake; a single
// goroutine runs every operation in turn, which gives the
// serialized-by-construction guarantee the state machine relies on.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultStaleAfter is the reference stale-lock expiry window.
const DefaultStaleAfter = 10 * time.Minute

// Status is an operator-visible snapshot of the lock.
type Status struct {
	Busy      bool      `json:"busy"`
	BatchSize int       `json:"batchSize,omitempty"`
	StartedAt time.Time `json:"startedAt,omitzero"`
}

// Age returns how long the lock has been held, zero when idle.
func (s Status) Age(now time.Time) time.Duration {
	if !s.Busy || s.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(s.StartedAt)
}

// Coordinator guards the compaction critical section. Every operation loads
// the durable state, applies one transition, and persists the result; stale
// locks are recovered during load, which is the only automatic way out of
// the held state.
type Coordinator struct {
	ops        chan func()
	store      StateStore
	staleAfter time.Duration
	now        func() time.Time
	log        *slog.Logger
}

// Config configures the coordinator.
type Config struct {
	StaleAfter time.Duration `yaml:"stale_lock_after"`
	StateDir   string        `yaml:"lock_state_dir"`
}

// New creates a coordinator over the given state store.
func New(store StateStore, staleAfter time.Duration) *Coordinator {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	c := &Coordinator{
		ops:        make(chan func()),
		store:      store,
		staleAfter: staleAfter,
		now:        time.Now,
		log:        slog.With("component", "coordinator"),
	}
	go c.loop()
	return c
}

// loop drives all operations on a single dedicated goroutine, so no two
// method invocations on the same instance ever execute concurrently.
func (c *Coordinator) loop() {
	for op := range c.ops {
		op()
	}
}

func (c *Coordinator) run(ctx context.Context, op func()) error {
	done := make(chan struct{})
	select {
	case c.ops <- func() { op(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// Close stops the coordinator's operation loop.
func (c *Coordinator) Close() {
	close(c.ops)
}

// load reads the durable state and recovers a stale lock. A missing state
// file means the lock has never been taken.
func (c *Coordinator) load(ctx context.Context) (*State, error) {
	st, err := c.store.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrNoState) {
			return &State{}, nil
		}
		return nil, fmt.Errorf("load lock state: %w", err)
	}

	if st.Busy {
		age := c.now().Sub(time.UnixMilli(st.StartedAt))
		if age > c.staleAfter {
			c.log.Warn("recovering stale compaction lock",
				"age", age.String(),
				"batch_size", len(st.Batch),
			)
			st = &State{}
			if err := c.store.Save(ctx, st); err != nil {
				return nil, fmt.Errorf("persist stale-lock recovery: %w", err)
			}
		}
	}
	return st, nil
}

// TryAcquire attempts to take the lock for the given batch. When the lock is
// already held it returns acquired=false and a diagnostic message with the
// holder's batch size and age.
func (c *Coordinator) TryAcquire(ctx context.Context, batch []string) (acquired bool, message string, err error) {
	rerr := c.run(ctx, func() {
		st, lerr := c.load(ctx)
		if lerr != nil {
			err = lerr
			return
		}

		if st.Busy {
			age := c.now().Sub(time.UnixMilli(st.StartedAt)).Round(time.Second)
			message = fmt.Sprintf("compaction already in progress: %d files, started %s ago",
				len(st.Batch), age)
			return
		}

		st = &State{
			Busy:      true,
			Batch:     append([]string(nil), batch...),
			StartedAt: c.now().UnixMilli(),
		}
		if serr := c.store.Save(ctx, st); serr != nil {
			err = fmt.Errorf("persist lock acquire: %w", serr)
			return
		}
		acquired = true
		message = "acquired"
	})
	if rerr != nil {
		return false, "", rerr
	}
	return acquired, message, err
}

// Release returns the lock to idle. Releasing an idle lock is a no-op.
func (c *Coordinator) Release(ctx context.Context) error {
	var err error
	rerr := c.run(ctx, func() {
		st, lerr := c.load(ctx)
		if lerr != nil {
			err = lerr
			return
		}
		if !st.Busy {
			return
		}
		if serr := c.store.Save(ctx, &State{}); serr != nil {
			err = fmt.Errorf("persist lock release: %w", serr)
		}
	})
	if rerr != nil {
		return rerr
	}
	return err
}

// ForceRelease administratively returns the lock to idle regardless of the
// holder, emitting a warning.
func (c *Coordinator) ForceRelease(ctx context.Context) error {
	var err error
	rerr := c.run(ctx, func() {
		st, lerr := c.load(ctx)
		if lerr != nil {
			err = lerr
			return
		}
		if st.Busy {
			c.log.Warn("force-releasing compaction lock",
				"batch_size", len(st.Batch),
				"age", c.now().Sub(time.UnixMilli(st.StartedAt)).String(),
			)
		}
		if serr := c.store.Save(ctx, &State{}); serr != nil {
			err = fmt.Errorf("persist force release: %w", serr)
		}
	})
	if rerr != nil {
		return rerr
	}
	return err
}

// Status returns a snapshot of the lock so operators can distinguish
// "progressing" from "stuck".
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	var (
		out Status
		err error
	)
	rerr := c.run(ctx, func() {
		st, lerr := c.load(ctx)
		if lerr != nil {
			err = lerr
			return
		}
		out.Busy = st.Busy
		if st.Busy {
			out.BatchSize = len(st.Batch)
			out.StartedAt = time.UnixMilli(st.StartedAt).UTC()
		}
	})
	if rerr != nil {
		return Status{}, rerr
	}
	return out, err
}
