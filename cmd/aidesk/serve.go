package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aidesk/internal/server/bootstrap"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

func newServeCommand(a *app) *cobra.Command {
	var printConfig bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestration API and the streaming chat gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if printConfig {
				return writeConfig(cmd.OutOrStdout(), a.v)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return bootstrap.RunServer(ctx, a.cfg)
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&printConfig, "print-config", false, "print the effective configuration as YAML and exit")
	flags.String("addr", "", "listen address")
	flags.String("generated-dir", "", "directory for generated report files")
	flags.String("db", "", "sqlite database file")
	bindFlag(flags, "addr", "server.addr")
	bindFlag(flags, "generated-dir", "server.generated_dir")
	bindFlag(flags, "db", "store.dsn")
	return cmd
}

// writeConfig dumps every setting of v as YAML, with durations in their
// human readable form.
func writeConfig(out io.Writer, v *viper.Viper) error {
	settings := v.AllSettings()
	stringifyDurations(settings)

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(settings); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return enc.Close()
}

func stringifyDurations(m map[string]any) {
	for key, value := range m {
		switch val := value.(type) {
		case time.Duration:
			m[key] = val.String()
		case map[string]any:
			stringifyDurations(val)
		}
	}
}
