package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mirkobrombin/go-lockguard/v1/config"
	"github.com/mirkobrombin/go-lockguard/v1/logging"
	"github.com/mirkobrombin/go-lockguard/v1/presets"
)

type globalFlags struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "lockguard",
		Short: "Privacy lock guard",
		Long: `lockguard keeps an application obscured behind a passcode challenge
whenever it returns to the foreground and the user enabled the privacy lock.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "lockguard.yaml", "path to the YAML configuration")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded before environment overrides")

	root.AddCommand(
		newRunCmd(flags),
		newEmitCmd(flags),
		newSetLockCmd(flags),
		newHashPasscodeCmd(),
	)
	return root
}

// load resolves configuration and the logger for a command.
func (f *globalFlags) load() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(f.configPath, f.envFile)
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// openShared builds a stack for one-shot commands. Those only make sense
// against backends another process can see.
func (f *globalFlags) openShared(needPrefs, needLifecycle bool) (*presets.Stack, error) {
	cfg, log, err := f.load()
	if err != nil {
		return nil, err
	}
	if needPrefs && cfg.Prefs.Backend == "memory" {
		return nil, errMemoryBackend("prefs")
	}
	if needLifecycle && cfg.Lifecycle.Backend == "memory" {
		return nil, errMemoryBackend("lifecycle")
	}
	return presets.FromConfig(cfg, logging.Component(log, "cli"))
}
