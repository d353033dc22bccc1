package main

import (
	"fmt"
	"os"

	"aidesk/internal/config"
	"aidesk/internal/logging"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// viperKeyAnnotation marks a flag with the config key it overrides.
const viperKeyAnnotation = "aidesk/viper-key"

// app carries the configuration shared by every subcommand.
type app struct {
	configFile string
	v          *viper.Viper
	cfg        *config.Config
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "aidesk",
		Short: "AI reports and project chat for the ERP desk",
		Long: fmt.Sprintf(`%s

%s
  aidesk serve                                  # Orchestration API and chat gateway
  aidesk report "recommend suppliers by sales"  # Generate a report and follow it
  aidesk chat --project proj-demo               # Ask questions about a project`,
			bold("aidesk"), bold("EXAMPLES:")),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd.Flags())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (default ./aidesk.yaml or ~/.aidesk/aidesk.yaml)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	bindFlag(flags, "log-level", "log.level")

	root.AddCommand(newServeCommand(a))
	root.AddCommand(newReportCommand(a))
	root.AddCommand(newChatCommand(a))
	return root
}

// bindFlag records that flag name overrides config key when set.
func bindFlag(flags *pflag.FlagSet, name, key string) {
	_ = flags.SetAnnotation(name, viperKeyAnnotation, []string{key})
}

// load builds the viper instance, binds annotated flags and decodes the config.
func (a *app) load(flags *pflag.FlagSet) error {
	a.v = config.New(a.configFile)

	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		keys := f.Annotations[viperKeyAnnotation]
		if len(keys) == 0 || bindErr != nil {
			return
		}
		bindErr = a.v.BindPFlag(keys[0], f)
	})
	if bindErr != nil {
		return fmt.Errorf("binding flags: %w", bindErr)
	}

	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	logging.Configure(logging.ParseLevel(cfg.Log.Level), os.Stderr)
	return nil
}
