// Package gate provides the one-time setup barrier shared by all shards of a
// pipeline type: create the topic, run the DDL, whatever the destination
// needs exactly once. Concurrent callers coalesce into a single execution
// and all wait for it; once the execution has been recorded, later calls
// return immediately.
package gate

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// PrepareFunc performs the actual one-time setup.
type PrepareFunc func(ctx context.Context) error

// Gate is consumed by pipeline workers before their first streaming attempt.
type Gate interface {
	Execute(ctx context.Context) error
}

// FlagStore records that the prepare ran to completion, so a restarted
// process does not run it again. Implementations must be safe for
// concurrent use.
type FlagStore interface {
	Done() (bool, error)
	Mark() error
}

type CoalescingGate struct {
	prepare PrepareFunc
	flags   FlagStore
	sf      singleflight.Group
}

func New(prepare PrepareFunc, flags FlagStore) *CoalescingGate {
	if flags == nil {
		flags = NewMemoryFlag()
	}
	return &CoalescingGate{prepare: prepare, flags: flags}
}

// Execute runs the prepare at most effectively once. Every concurrent caller
// blocks until the single in-flight execution finishes and observes its
// result. A failed execution is not recorded; the next caller triggers a
// fresh run.
func (g *CoalescingGate) Execute(ctx context.Context) error {
	done, err := g.flags.Done()
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	_, err, _ = g.sf.Do("prepare", func() (any, error) {
		done, err := g.flags.Done()
		if err != nil {
			return nil, err
		}
		if done {
			return nil, nil
		}
		if err := g.prepare(ctx); err != nil {
			return nil, err
		}
		return nil, g.flags.Mark()
	})
	return err
}

var _ Gate = (*CoalescingGate)(nil)
