// Copyright © 2018 One Concern

package cmd

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "confmon",
	Short: "Confmon keeps the configuration of game servers under version control",
	Long: `Confmon keeps the configuration of game servers under version control.

It backs up the configuration tree of each server as snapshots in a content addressed store,
shows the differences between any two snapshots, and deploys a chosen snapshot back onto a server,
rolling back on failure.

Backups may run on demand or on a schedule with "confmon serve".
`,
	SilenceUsage: true,
}

var config *Config

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		osExit(1)
	}
}

func init() {
	log.SetFlags(0)
	cobra.OnInitialize(initConfig)

	addLogLevelFlag(rootCmd)
	addFormatFlag(rootCmd)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	setConfigDefaults(viper.GetViper())
	if os.Getenv("CONFMON_CONFIG") != "" {
		viper.SetConfigFile(os.Getenv("CONFMON_CONFIG"))
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.confmon")
		viper.AddConfigPath("/etc/confmon")
		viper.SetConfigName("confmon")
	}

	viper.SetEnvPrefix("confmon")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err == nil {
		infoLogger.Println("Using config file:", viper.ConfigFileUsed())
	}

	var err error
	config, err = newConfig(viper.GetViper())
	if err != nil {
		wrapFatalln("invalid configuration", err)
		return
	}
	if confmonFlags.root.logLevel != "" {
		config.LogLevel = confmonFlags.root.logLevel
	}
}
