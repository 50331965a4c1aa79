package main

import (
	"os"
	"strings"
	"sync"

	"confvideo/pkg/config"

	"github.com/spf13/cobra"
)

// defaultConfigPaths are tried in order when --config is not given.
var defaultConfigPaths = []string{
	"configs/config.yaml",
	"/etc/confvideo/config.yaml",
	"config.yaml",
}

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		c.config, c.configErr = config.Load(c.configPath())
	})
	return c.config, c.configErr
}

// configPath returns the flag value, else the first default path that
// exists. A missing file loads the defaults.
func (c *commandContext) configPath() string {
	if c.configFlag != nil {
		if path := strings.TrimSpace(*c.configFlag); path != "" {
			return path
		}
	}
	for _, path := range defaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return defaultConfigPaths[0]
}

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := newCommandContext(&configFlag)

	rootCmd := &cobra.Command{
		Use:           "receiver",
		Short:         "Receive conference participant video streams",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newRatioCommand())
	rootCmd.AddCommand(newTokenCommand(ctx))

	return rootCmd
}
