package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/openfroyo/patchwork/pkg/config"
	"github.com/openfroyo/patchwork/pkg/packaging"
	"github.com/openfroyo/patchwork/pkg/policy"
	"github.com/openfroyo/patchwork/pkg/stores"
	"github.com/openfroyo/patchwork/pkg/telemetry"
)

// runtime holds the services shared by the commands.
type runtime struct {
	cfg      *config.Config
	tel      *telemetry.Telemetry
	store    *stores.SQLiteStore
	policies *policy.Engine
	executor *packaging.Executor
}

// loadConfig reads the config file and applies the command line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", configPath, err)
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openRuntime loads the configuration and opens the telemetry, the store,
// the policy engine and the executor. extra options are applied after the
// configured ones.
func openRuntime(ctx context.Context, extra ...packaging.Option) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(cfg.Telemetry(buildVersion))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	rt := &runtime{cfg: cfg, tel: tel}

	rt.store, err = stores.Open(ctx, stores.Config{
		Path:         cfg.Database.Path,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	})
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("failed to open package database: %w", err)
	}

	opts := []packaging.Option{
		packaging.WithTelemetry(tel),
		packaging.WithConsole(os.Stdout),
		packaging.WithTargetPath(cfg.Execution.TargetPath),
		packaging.WithReleaseDateTolerance(cfg.Execution.Tolerance()),
		packaging.WithForceReinstall(cfg.Execution.ForceReinstall),
		packaging.WithInProcessPhases(cfg.Execution.InProcessPhases),
		packaging.WithDefaultParameters(cfg.Parameters),
	}

	if cfg.Policies.Enabled {
		rt.policies, err = openPolicies(ctx, cfg, tel.Logger)
		if err != nil {
			rt.close()
			return nil, err
		}
		opts = append(opts, packaging.WithPolicyGate(rt.policies))
	}

	rt.executor = packaging.NewExecutor(rt.store, append(opts, extra...)...)
	return rt, nil
}

func openPolicies(ctx context.Context, cfg *config.Config, logger *telemetry.Logger) (*policy.Engine, error) {
	engine, err := policy.NewEngine(logger.NewComponentLogger("policy").Zerolog(),
		policy.WithEnvironment(cfg.Policies.Environment))
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}
	if cfg.Policies.Dir == "" {
		return engine, nil
	}

	if _, err := os.Stat(cfg.Policies.Dir); errors.Is(err, os.ErrNotExist) {
		logger.WithField("dir", cfg.Policies.Dir).Debug("Policy directory not found, using built-in policies")
		return engine, nil
	}
	if err := engine.LoadPolicies(ctx, []string{cfg.Policies.Dir}); err != nil {
		_ = engine.Close()
		return nil, err
	}
	return engine, nil
}

// close releases everything opened by openRuntime.
func (rt *runtime) close() {
	if rt.policies != nil {
		_ = rt.policies.Close()
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.tel.Logger.WithError(err).Warn("Failed to close package database")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.tel.Shutdown(ctx); err != nil {
		rt.tel.Logger.WithError(err).Warn("Failed to flush telemetry")
	}
}
