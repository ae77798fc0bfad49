// Package resolver locates the endpoints a sink should connect to. Absence
// of endpoints is reported as ErrNoEndpoints and treated as transient by the
// pipeline: the configuration or the discovery backend may come up later.
package resolver

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// ErrNoEndpoints signals that the name resolved to nothing and no fallback
// applies.
var ErrNoEndpoints = fmt.Errorf("resolver: no endpoints")

type Resolver interface {
	Locate(ctx context.Context, name string) ([]string, error)
}

// Static resolves every name to a fixed, comma-separated endpoint list.
type Static struct {
	endpoints []string
}

func NewStatic(csv string) *Static {
	return &Static{endpoints: SplitCSV(csv)}
}

func (s *Static) Locate(_ context.Context, name string) ([]string, error) {
	if len(s.endpoints) == 0 {
		return nil, fmt.Errorf("%w for %q", ErrNoEndpoints, name)
	}
	return s.endpoints, nil
}

// Env resolves a name by reading a comma-separated list from an environment
// variable, falling back to a static list when the variable is unset. The
// lookup happens on every call, so endpoints appearing later are picked up
// by the next restart.
type Env struct {
	Var      string
	Fallback string
}

func (e *Env) Locate(_ context.Context, name string) ([]string, error) {
	if eps := SplitCSV(os.Getenv(e.Var)); len(eps) > 0 {
		return eps, nil
	}
	if eps := SplitCSV(e.Fallback); len(eps) > 0 {
		return eps, nil
	}
	return nil, fmt.Errorf("%w for %q (env %s unset, no fallback)", ErrNoEndpoints, name, e.Var)
}

// SplitCSV splits a comma-separated list, trimming blanks.
func SplitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, x := range parts {
		x = strings.TrimSpace(x)
		if x != "" {
			out = append(out, x)
		}
	}
	return out
}

var (
	_ Resolver = (*Static)(nil)
	_ Resolver = (*Env)(nil)
)
