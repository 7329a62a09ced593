package main

import (
	"os"

	"github.com/benpate/imageserver/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "imageserver",
	Short: "Serves and resizes images from a directory",
	Long: `imageserver serves images from a directory over HTTP, resizes them
on demand (?w=800&h=600&q=85), and caches the results on disk.

Every setting can also be provided as an environment variable with the
upper-cased name of its key, e.g. IMAGE_ROOT, CACHE_ROOT, UPLOAD_API_KEY.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (YAML, JSON, or TOML)")
	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sweepCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("imageserver failed")
		os.Exit(1)
	}
}

// loadConfig reads the configuration for a command, and sets up logging to match.
func loadConfig(cmd *cobra.Command) error {

	configFile, err := cmd.Flags().GetString("config")

	if err != nil {
		return err
	}

	loaded, err := config.Load(configFile, cmd.Flags())

	if err != nil {
		return err
	}

	setupLogging(loaded.LogLevel, loaded.LogFormat)
	currentConfig = loaded
	return nil
}
