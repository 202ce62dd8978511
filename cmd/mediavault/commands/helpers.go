package commands

import (
	"github.com/systmms/mediavault/internal/config"
	"github.com/systmms/mediavault/internal/logging"
)

// loadConfig loads the configuration and swaps in the logger the logging
// section asks for.
func loadConfig(cfg *config.Config, debug bool) error {
	if err := cfg.Load(); err != nil {
		return err
	}

	lc := cfg.Definition.Logging
	if lc.Format == "" && lc.File == "" && lc.Level == "" {
		return nil
	}

	logger, err := logging.NewWithOptions(logging.Options{
		Debug:    debug || lc.Level == "debug",
		Format:   lc.Format,
		FilePath: lc.File,
	})
	if err != nil {
		return err
	}
	cfg.Logger = logger
	return nil
}
