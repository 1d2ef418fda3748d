package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/justchokingaround/segfetch/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage segfetch configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.InitializeDirs(); err != nil {
			return fmt.Errorf("initialize directories: %w", err)
		}
		path := filepath.Join(config.GetConfigDir(), "config.yaml")
		if err := config.SaveDefaultConfig(path); err != nil {
			return err
		}
		fmt.Printf("Wrote default config to %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("%+v\n", *cfg)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(filepath.Join(config.GetConfigDir(), "config.yaml"))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd, configShowCmd, configPathCmd)
}
