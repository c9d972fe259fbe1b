// Package cmd provides CLI commands for inspecting and managing a
// tideline-backed Git repository.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adalundhe/tideline/core/backend"
	"github.com/adalundhe/tideline/core/config"
)

var (
	gitDirFlag string
	configFlag string
)

var rootCmd = &cobra.Command{
	Use:   "tideline",
	Short: "Tideline - Git interop core for a jj-style version control tool",
	Long: `Tideline stores an internal commit model inside a Git repository's object
database and reconciles its view of bookmarks and tags with Git's refs.
These commands inspect and manage the Git side of that store.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&gitDirFlag, "git-dir", ".git", "Path to the Git directory")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Path to a settings file")
}

func loadSettings() (*config.Settings, error) {
	if configFlag == "" {
		return config.DefaultSettings(), nil
	}
	settings, err := config.Load(configFlag)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return settings, nil
}

func openBackend() (*backend.Backend, *config.Settings, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, nil, err
	}
	b, err := backend.Open(gitDirFlag, settings)
	if err != nil {
		return nil, nil, err
	}
	return b, settings, nil
}
