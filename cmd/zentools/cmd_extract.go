package main

import (
	"fmt"

	"github.com/odvcencio/zentools/pkg/extract"
	"github.com/spf13/cobra"
)

func newExtractCmd() *cobra.Command {
	var (
		s               settings
		workers         int
		noManifest      bool
		noScriptObjects bool
	)

	cmd := &cobra.Command{
		Use:   "extract [container-dir] [output-dir]",
		Short: "Write every package of a container directory as legacy asset files",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := s.load(cmd)
			if err != nil {
				return err
			}
			if len(args) > 0 {
				cfg.ContainerDir = args[0]
			}
			if len(args) > 1 {
				cfg.OutputDir = args[1]
			}
			if cfg.ContainerDir == "" || cfg.OutputDir == "" {
				return fmt.Errorf("container and output directories are required (arguments or %s)", s.configPath)
			}
			if cmd.Flags().Changed("workers") {
				cfg.Workers = workers
			}

			keys, err := loadKeys(cfg.EncryptionKeys, logger)
			if err != nil {
				return err
			}

			stats, err := extract.Run(cmd.Context(), cfg.ContainerDir, keys, extract.Options{
				OutputDir:          cfg.OutputDir,
				Workers:            cfg.Workers,
				WriteScriptObjects: *cfg.WriteScriptObjects && !noScriptObjects,
				WriteManifest:      *cfg.WriteManifest && !noManifest,
			}, logger)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d package(s) and %d bulk file(s) to %s\n", stats.Packages, stats.BulkFiles, cfg.OutputDir)
			if stats.Failed > 0 {
				return fmt.Errorf("%d package(s) failed", stats.Failed)
			}
			return nil
		},
	}

	s.bind(cmd)
	cmd.Flags().IntVar(&workers, "workers", 0, "packages transcoded concurrently (default: number of CPUs)")
	cmd.Flags().BoolVar(&noManifest, "no-manifest", false, "do not write PackageStoreManifest.json")
	cmd.Flags().BoolVar(&noScriptObjects, "no-script-objects", false, "do not write ScriptObjects.bin")
	return cmd
}
