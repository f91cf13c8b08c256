package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"repoforge/internal/logging"
	"repoforge/internal/spec"
)

// RetryPolicy bounds attempts with exponential backoff: Delay, 2*Delay, 4*Delay... capped at
// MaxDelay.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
	MaxDelay time.Duration
}

// DefaultRetryPolicy returns three attempts starting at two seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Delay: 2 * time.Second, MaxDelay: 30 * time.Second}
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.Delay << attempt
	if p.MaxDelay > 0 && (d > p.MaxDelay || d <= 0) {
		d = p.MaxDelay
	}
	return d
}

// do runs fn until it succeeds, attempts run out or ctx ends. The final failure is a
// GenerationUnavailable ForgeError; cancellation returns ctx.Err().
func (p RetryPolicy) do(ctx context.Context, op string, fn func(context.Context) error) error {
	attempts := max(p.Attempts, 1)
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logging.OracleWarn("%s attempt %d/%d failed: %v", op, attempt+1, attempts, lastErr)

		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.backoff(attempt)):
			}
		}
	}
	return spec.NewError(spec.KindGenerationUnavailable, op, fmt.Errorf("giving up after %d attempts: %w", attempts, lastErr))
}

// errNoRequestedFiles marks a response that answered none of the requested paths.
var errNoRequestedFiles = errors.New("response contains none of the requested files")

// Retrying wraps an Oracle with bounded retries. A response is retried when it contains
// none of the requested paths.
type Retrying struct {
	Oracle Oracle
	Policy RetryPolicy
}

// NewRetrying wraps o with policy.
func NewRetrying(o Oracle, policy RetryPolicy) *Retrying {
	return &Retrying{Oracle: o, Policy: policy}
}

// Generate implements Oracle.
func (r *Retrying) Generate(ctx context.Context, req Request) (Response, error) {
	var resp Response
	err := r.Policy.do(ctx, "oracle.Generate", func(ctx context.Context) error {
		out, err := r.Oracle.Generate(ctx, req)
		if err != nil {
			return err
		}
		if matched, _ := Requested(out.Files, req.Targets); len(matched) == 0 && len(req.Targets) > 0 {
			return errNoRequestedFiles
		}
		resp = out
		return nil
	})
	return resp, err
}

// RetryingPlanner wraps a Planner with bounded retries.
type RetryingPlanner struct {
	Planner Planner
	Policy  RetryPolicy
}

// NewRetryingPlanner wraps p with policy.
func NewRetryingPlanner(p Planner, policy RetryPolicy) *RetryingPlanner {
	return &RetryingPlanner{Planner: p, Policy: policy}
}

// Plan implements Planner.
func (r *RetryingPlanner) Plan(ctx context.Context, query string) (*spec.ProjectSpec, error) {
	var plan *spec.ProjectSpec
	err := r.Policy.do(ctx, "planner.Plan", func(ctx context.Context) error {
		p, err := r.Planner.Plan(ctx, query)
		if err != nil {
			return err
		}
		plan = p
		return nil
	})
	return plan, err
}
