package main

import (
	"fmt"
	"log/slog"

	"github.com/odvcencio/zentools/pkg/config"
	"github.com/odvcencio/zentools/pkg/iostore"
	"github.com/odvcencio/zentools/pkg/packagemap"
	"github.com/spf13/cobra"
)

// settings are the flags shared by commands that read containers. Flags
// that were set explicitly override the configuration file.
type settings struct {
	configPath string
	keysPath   string
	logLevel   string
	logFormat  string
}

func (s *settings) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&s.configPath, "config", config.FileName, "configuration file (ignored when missing)")
	f.StringVar(&s.keysPath, "encryption-keys", "", "JSON file mapping key GUIDs to hex AES-256 keys")
	f.StringVar(&s.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	f.StringVar(&s.logFormat, "log-format", "text", "log format: text or json")
}

// load reads the configuration and applies explicitly set flags over it.
func (s *settings) load(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadOptional(s.configPath)
	if err != nil {
		return nil, nil, err
	}
	f := cmd.Flags()
	if f.Changed("encryption-keys") {
		cfg.EncryptionKeys = s.keysPath
	}
	if f.Changed("log-level") {
		cfg.Log.Level = s.logLevel
	}
	if f.Changed("log-format") {
		cfg.Log.Format = s.logFormat
	}
	logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func loadKeys(path string, logger *slog.Logger) (iostore.Keys, error) {
	if path == "" {
		return nil, nil
	}
	keys, skipped, err := iostore.LoadKeys(path)
	if err != nil {
		return nil, err
	}
	for _, guid := range skipped {
		logger.Warn("skipping malformed encryption key", "guid", guid, "path", path)
	}
	logger.Debug("loaded encryption keys", "count", len(keys), "path", path)
	return keys, nil
}

// openStore opens every container in dir and indexes them. The caller
// closes the returned containers.
func openStore(dir string, keys iostore.Keys, logger *slog.Logger) (*packagemap.Map, []*iostore.Container, error) {
	bases, err := iostore.FindContainers(dir)
	if err != nil {
		return nil, nil, err
	}
	if len(bases) == 0 {
		return nil, nil, fmt.Errorf("no containers in %s", dir)
	}
	pmap := packagemap.New(logger)
	var containers []*iostore.Container
	for _, base := range bases {
		c, err := iostore.OpenContainer(base, keys)
		if err != nil {
			closeAll(containers)
			return nil, nil, err
		}
		containers = append(containers, c)
		if err := pmap.Populate(c); err != nil {
			closeAll(containers)
			return nil, nil, err
		}
	}
	return pmap, containers, nil
}

func closeAll(containers []*iostore.Container) {
	for _, c := range containers {
		c.Close()
	}
}
