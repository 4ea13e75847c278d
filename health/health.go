// Package health runs named dependency checks in parallel and reports them
// over HTTP (Handler) or through the gRPC health service in grpckit.
package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	polyguard "github.com/ai8future/polyguard"
	"github.com/ai8future/polyguard/work"
)

// Check is the standard health check signature. A nil return indicates a
// healthy dependency; any non-nil error is treated as unhealthy.
type Check func(ctx context.Context) error

// Result represents the outcome of a named health check.
type Result struct {
	Name     string `json:"name"`
	Healthy  bool   `json:"healthy"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

// DefaultCheckTimeout bounds every individual check.
const DefaultCheckTimeout = 2 * time.Second

type namedCheck struct {
	name  string
	check Check
}

type checkResult struct {
	result Result
	err    error
}

// All returns a function that runs every named check in parallel via
// work.Map, each bounded by DefaultCheckTimeout. Every check runs regardless
// of the others. Results are sorted by name; the error joins every failure,
// wrapped with its check name.
func All(checks map[string]Check) func(ctx context.Context) ([]Result, error) {
	polyguard.AssertVersionChecked()
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)
	entries := make([]namedCheck, 0, len(checks))
	for _, name := range names {
		entries = append(entries, namedCheck{name: name, check: checks[name]})
	}

	return func(ctx context.Context) ([]Result, error) {
		crs, _ := work.Map(ctx, entries, func(ctx context.Context, nc namedCheck) (checkResult, error) {
			ctx, cancel := context.WithTimeout(ctx, DefaultCheckTimeout)
			defer cancel()

			start := time.Now()
			err := nc.check(ctx)
			r := Result{Name: nc.name, Healthy: err == nil, Duration: time.Since(start).String()}
			if err != nil {
				r.Error = err.Error()
			}
			// Map must see success so it keeps every result.
			return checkResult{result: r, err: err}, nil
		}, work.Workers(len(entries)))

		results := make([]Result, len(crs))
		var errs []error
		for i, cr := range crs {
			if cr.result.Name == "" {
				// Skipped by a cancelled context.
				cr.result = Result{Name: entries[i].name, Error: ctx.Err().Error()}
				cr.err = ctx.Err()
			}
			results[i] = cr.result
			if cr.err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", cr.result.Name, cr.err))
			}
		}

		return results, errors.Join(errs...)
	}
}
