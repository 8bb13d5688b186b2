package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pkt.systems/bundled"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage bundled configuration files",
	}
	cmd.AddCommand(newConfigGenCommand())
	return cmd
}

func newConfigGenCommand() *cobra.Command {
	var outPath string
	var force bool
	var stdout bool

	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate a default bundled configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if stdout && outPath != "" {
				return fmt.Errorf("--stdout and --out are mutually exclusive")
			}
			if outPath == "" {
				outPath = "bundled.yaml"
			}

			data, err := defaultConfigYAML()
			if err != nil {
				return err
			}

			if stdout {
				fmt.Fprint(cmd.OutOrStdout(), string(data))
				return nil
			}

			if dir := filepath.Dir(outPath); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("create config dir: %w", err)
				}
			}
			if !force {
				if _, err := os.Stat(outPath); err == nil {
					return fmt.Errorf("config file %s already exists (use --force to overwrite)", outPath)
				} else if !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("stat config file: %w", err)
				}
			}
			if err := os.WriteFile(outPath, data, 0o600); err != nil {
				return fmt.Errorf("write config file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote default config to %s\n", outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "", "output path for generated config (defaults to bundled.yaml)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite the target file if it already exists")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "print the config to stdout instead of writing a file")
	return cmd
}

type configDefaults struct {
	Listen           string `yaml:"listen"`
	ListenProto      string `yaml:"listen-proto"`
	Store            string `yaml:"store"`
	MetricsListen    string `yaml:"metrics-listen"`
	PprofListen      string `yaml:"pprof-listen"`
	JSONMax          string `yaml:"json-max"`
	EntryTimeout     string `yaml:"entry-timeout"`
	MaxBundleEntries int    `yaml:"max-bundle-entries"`
	DisableBundles   bool   `yaml:"disable-bundles"`
	LogLevel         string `yaml:"log-level"`
}

func defaultConfigYAML() ([]byte, error) {
	defaults := configDefaults{
		Listen:           bundled.DefaultListen,
		ListenProto:      bundled.DefaultListenProto,
		Store:            bundled.DefaultStore,
		MetricsListen:    bundled.DefaultMetricsListen,
		PprofListen:      bundled.DefaultPprofListen,
		JSONMax:          humanizeBytes(bundled.DefaultJSONMaxBytes),
		EntryTimeout:     bundled.DefaultEntryTimeout.String(),
		MaxBundleEntries: bundled.DefaultMaxBundleEntries,
		DisableBundles:   false,
		LogLevel:         "info",
	}
	data, err := yaml.Marshal(&defaults)
	if err != nil {
		return nil, fmt.Errorf("marshal default config: %w", err)
	}
	header := []byte("# bundled configuration file\n# values mirror the command-line flags; BUNDLED_* environment variables take precedence\n")
	return append(header, data...), nil
}
