package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/graphstore/internal/config"
	"github.com/roach88/graphstore/internal/coordinator"
	"github.com/roach88/graphstore/internal/graph"
	"github.com/roach88/graphstore/internal/logging"
	"github.com/roach88/graphstore/internal/storage"
)

// session is one open store for the duration of a command.
type session struct {
	coord  *coordinator.Coordinator
	main   *graph.Context
	out    *OutputFormatter
	logger *slog.Logger
}

// loadConfig reads --config (or the defaults), applies flag overrides and
// validates the result. The store name must come from --name or the file.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		var err error
		if cfg, err = config.Read(opts.ConfigPath); err != nil {
			return config.Config{}, err
		}
	}
	if opts.Name != "" {
		cfg.Store.Name = opts.Name
	}
	if opts.Directory != "" {
		cfg.Store.Directory = opts.Directory
	}
	if opts.Group != "" {
		cfg.Store.SharedGroup = opts.Group
	}
	if opts.Schema != "" {
		cfg.Schema = opts.Schema
	}
	if opts.LogFormat != "" {
		cfg.Log.Format = opts.LogFormat
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, cfg.Validate()
}

func openSession(opts *RootOptions, cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	level, _ := logging.ParseLevel(cfg.Log.Level)
	logger, err := logging.New(cmd.ErrOrStderr(), cfg.Log.Format, level)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	storeCfg, err := cfg.StoreConfig()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	coordOpts, err := cfg.CoordinatorOptions(logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load schema", err)
	}

	logger.Debug("opening store", "path", storeCfg.Path())
	coord, err := coordinator.Open(storeCfg, coordOpts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	main, err := coord.MainContext()
	if err != nil {
		_ = coord.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}

	return &session{
		coord:  coord,
		main:   main,
		out:    &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()},
		logger: logger,
	}, nil
}

func (s *session) Close() error {
	return s.coord.Close()
}

// fail reports err in the output format and returns an ExitError carrying
// the error's code.
func (s *session) fail(message string, err error) error {
	code := errorCode(err)
	_ = s.out.Error(code, fmt.Sprintf("%s: %v", message, err))
	return WrapExitError(ExitFailure, message, err)
}

func errorCode(err error) string {
	var se *coordinator.SaveError
	if errors.As(err, &se) {
		return string(se.Code)
	}
	var ce *graph.ContextError
	if errors.As(err, &ce) {
		return string(ce.Code)
	}
	var oe *storage.OpenError
	if errors.As(err, &oe) {
		return string(oe.Kind)
	}
	return "E_COMMAND"
}
