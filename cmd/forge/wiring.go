package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"repoforge/internal/api"
	"repoforge/internal/config"
	"repoforge/internal/controller"
	"repoforge/internal/modernize"
	"repoforge/internal/oracle"
	"repoforge/internal/repair"
	"repoforge/internal/runstore"
	"repoforge/internal/sandbox"
	"repoforge/internal/verification"
)

func newVerifier(c *config.Config) *verification.Verifier {
	return verification.New(verification.Options{
		ExtraStdlib:   c.Verification.ExtraStdlib,
		ModuleAliases: c.Verification.ModuleAliases,
		Workers:       c.Verification.Workers,
	})
}

// newOracle builds the Gemini-backed generator and planner behind bounded retries.
func newOracle(ctx context.Context, c *config.Config) (oracle.Oracle, oracle.Planner, error) {
	client, err := oracle.NewGeminiClient(ctx, c)
	if err != nil {
		return nil, nil, err
	}
	policy := oracle.RetryPolicy{
		Attempts: c.LLM.MaxRetries,
		Delay:    c.GetRetryDelay(),
		MaxDelay: 30 * time.Second,
	}
	return oracle.NewRetrying(client, policy), oracle.NewRetryingPlanner(client, policy), nil
}

func newSandboxFactory(c *config.Config) *sandbox.Factory {
	f := sandbox.NewFactory(c.Sandbox)
	f.SetAuditCallback(func(ev sandbox.AuditEvent) {
		fields := []zap.Field{
			zap.String("type", string(ev.Type)),
			zap.String("phase", string(ev.Phase)),
			zap.String("dir", ev.WorkDir),
		}
		if ev.Detail != "" {
			fields = append(fields, zap.String("detail", ev.Detail))
		}
		if ev.Result != nil {
			fields = append(fields, zap.Int("exit_code", ev.Result.ExitCode), zap.Duration("duration", ev.Result.Duration))
		}
		logger.Debug("sandbox audit", fields...)
	})
	return f
}

// newBuilder returns a controller factory sharing one verifier, oracle and sandbox factory.
func newBuilder(c *config.Config, o oracle.Oracle, p oracle.Planner) api.Builder {
	v := newVerifier(c)
	sandboxes := newSandboxFactory(c)
	mod := modernize.New(nil)
	return func(cc controller.Config) *controller.Controller {
		return controller.New(cc, controller.Deps{
			Verifier:   v,
			Repairer:   repair.New(v, o),
			Oracle:     o,
			Planner:    p,
			Modernizer: mod,
			Sandboxes:  func() controller.Runner { return sandboxes.New() },
		})
	}
}

// openStore opens run history, or returns nil when it is disabled.
func openStore(c *config.Config) (*runstore.Store, error) {
	if !c.Store.Enabled || c.Store.DatabasePath == "" {
		return nil, nil
	}
	return runstore.Open(c.Store.DatabasePath)
}

func newRunID() string { return uuid.NewString() }
