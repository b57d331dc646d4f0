package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stripaudio/api/internal/config"
)

func newRootCommand() *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:           "stripaudio",
		Short:         "HTTP service that removes the audio track from uploaded videos",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := rootCmd.Flags()
	flags.StringP("config", "c", "", "Configuration file path")
	flags.StringP("port", "p", "", "Listen port")
	flags.String("data-dir", "", "Directory holding uploads and outputs")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")

	bindings := map[string]string{
		"config":           "config",
		"server.port":      "port",
		"storage.data_dir": "data-dir",
		"server.log_level": "log-level",
	}
	for key, flag := range bindings {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}

	return rootCmd
}
