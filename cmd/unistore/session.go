package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"mercator-hq/unistore/pkg/cli"
	"mercator-hq/unistore/pkg/config"
	"mercator-hq/unistore/pkg/security/secrets"
	"mercator-hq/unistore/pkg/storage"
	"mercator-hq/unistore/pkg/storage/factory"
	"mercator-hq/unistore/pkg/telemetry/logging"
	"mercator-hq/unistore/pkg/telemetry/metrics"
	"mercator-hq/unistore/pkg/telemetry/tracing"
)

// session holds what one command invocation needs: configuration, logger,
// metrics, tracer and the factory owning the opened instances.
type session struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Collector
	tracer  *tracing.Tracer
	factory *factory.Factory
}

func openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, cli.NewConfigError("config", err.Error())
	}
	if logLevel != "" {
		cfg.Telemetry.Logging.Level = logLevel
	}

	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging, cmd.ErrOrStderr()))
	if err != nil {
		return nil, cli.NewConfigError("log-level", err.Error())
	}

	if err := resolveSecrets(cmd.Context(), cfg, logger); err != nil {
		return nil, err
	}

	tracer, err := tracing.New(&cfg.Telemetry.Tracing, Version)
	if err != nil {
		return nil, cli.NewConfigError("telemetry.tracing", err.Error())
	}

	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
	f := factory.New(
		factory.WithLogger(logger),
		factory.WithMetrics(collector),
		factory.WithTracer(tracer.Tracer()),
	)

	return &session{cfg: cfg, logger: logger, metrics: collector, tracer: tracer, factory: f}, nil
}

// resolveSecrets replaces ${secret:name} references in every instance's
// options.
func resolveSecrets(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	var providers []secrets.SecretProvider
	if dir := cfg.Secrets.Directory; dir != "" {
		fp, err := secrets.NewFileProvider(dir, false, logger)
		if err != nil {
			return cli.NewConfigError("secrets.directory", err.Error())
		}
		providers = append(providers, fp)
	}
	providers = append(providers, secrets.NewEnvProvider(cfg.Secrets.EnvPrefix))

	m := secrets.NewManager(providers, cfg.Secrets.CacheTTL, logger)
	defer m.Close()

	for name, inst := range cfg.Storage.Instances {
		opts, err := m.ResolveOptions(ctx, inst.Options)
		if err != nil {
			return cli.NewConfigError("storage.instances."+name, err.Error())
		}
		inst.Options = opts
		cfg.Storage.Instances[name] = inst
	}
	return nil
}

// open returns the instance selected by --instance, or the configured default.
func (s *session) open(ctx context.Context) (*storage.BaseStorage, error) {
	name := instanceName
	if name == "" {
		name = s.cfg.Storage.Default
	}
	inst, ok := s.cfg.Storage.Instances[name]
	if !ok {
		names := make([]string, 0, len(s.cfg.Storage.Instances))
		for n := range s.cfg.Storage.Instances {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, cli.NewConfigError("instance",
			fmt.Sprintf("unknown instance %q (configured: %s)", name, strings.Join(names, ", ")))
	}
	return s.factory.CreateOrGetStorage(ctx, inst.Type, storage.Options(inst.Options), name)
}

// close shuts every instance down and flushes pending spans within the
// configured shutdown timeout.
func (s *session) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Storage.ShutdownTimeout)
	defer cancel()
	return errors.Join(s.factory.Shutdown(ctx), s.tracer.Shutdown(ctx))
}

// storeCommand adapts fn into a cobra RunE that opens the selected instance
// and closes everything afterwards.
func storeCommand(fn func(cmd *cobra.Command, args []string, store *storage.BaseStorage) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		sess, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := sess.close(); cerr != nil && err == nil {
				err = cerr
			}
		}()

		parent := cmd.Context()
		ctx, span := sess.tracer.Start(parent, "unistore."+cmd.Name())
		defer span.End()
		cmd.SetContext(ctx)
		defer cmd.SetContext(parent)

		store, err := sess.open(ctx)
		if err != nil {
			return err
		}
		return fn(cmd, args, store)
	}
}

// render writes data in the --output format.
func render(cmd *cobra.Command, data any) error {
	formatter, err := cli.NewFormatter(cli.OutputFormat(outputFormat))
	if err != nil {
		return err
	}
	return formatter.FormatTo(cmd.OutOrStdout(), data)
}
