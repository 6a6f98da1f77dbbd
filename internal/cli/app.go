package cli

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/tOgg1/sshmcp/internal/activity"
	"github.com/tOgg1/sshmcp/internal/config"
	"github.com/tOgg1/sshmcp/internal/logging"
	"github.com/tOgg1/sshmcp/internal/ssh"
)

// app holds the collaborators built from configuration.
type app struct {
	cfg      *config.Config
	policy   *ssh.Policy
	dialer   *ssh.Dialer
	registry *ssh.Registry
	executor *ssh.Executor
	activity *activity.Logger
	logger   zerolog.Logger
}

func loadConfig(opts *globalOptions) (*config.Config, error) {
	loader := config.NewLoader()
	if opts.envFile != "" {
		loader.SetEnvFile(opts.envFile)
	}
	if opts.logLevel != "" {
		loader.Set(config.KeyLogLevel, opts.logLevel)
	}
	if opts.logFormat != "" {
		loader.Set(config.KeyLogFormat, opts.logFormat)
	}
	return loader.Load()
}

// newApp loads configuration and wires the SSH stack.
func newApp(opts *globalOptions) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
	logger := logging.Component("cli")

	dialerOpts := []ssh.DialerOption{ssh.WithAgent(cfg.SSH.UseAgent)}
	if cfg.SSH.KnownHostsPath != "" {
		opt, err := ssh.WithKnownHosts(cfg.SSH.KnownHostsPath)
		if err != nil {
			return nil, err
		}
		dialerOpts = append(dialerOpts, opt)
	} else {
		logger.Debug().Msg("SSH_KNOWN_HOSTS not set, host keys are not verified")
	}

	policy := ssh.NewPolicy(cfg.SSH, cfg.Policy)
	dialer := ssh.NewDialer(policy, dialerOpts...)
	registry := ssh.NewRegistry(dialer)
	executor := ssh.NewExecutor(policy, dialer, registry,
		ssh.WithLocale(ssh.Locale{Lang: cfg.Remote.Lang, LCAll: cfg.Remote.LCAll}),
		ssh.WithDefaultTimeout(cfg.Exec.Timeout),
	)

	logger.Debug().
		Str("host", cfg.SSH.Host).
		Int("port", cfg.SSH.Port).
		Int("allowed_hosts", len(cfg.Policy.AllowedHosts)).
		Bool("activity_log", cfg.Logging.ActivityFile != "").
		Msg("configuration loaded")

	return &app{
		cfg:      cfg,
		policy:   policy,
		dialer:   dialer,
		registry: registry,
		executor: executor,
		activity: activity.New(activity.Config{
			Path:      cfg.Logging.ActivityFile,
			MaxSizeMB: cfg.Logging.ActivityMaxSizeMB,
		}),
		logger: logger,
	}, nil
}

// Close tears down every session and flushes the activity log.
func (a *app) Close() {
	a.registry.CloseAll()
	if err := a.activity.Close(); err != nil {
		a.logger.Debug().Err(err).Msg("close activity log")
	}
}
