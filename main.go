// Package main provides the entry point for the listenup player.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/listenupapp/listenup-desktop/internal/config"
	"github.com/listenupapp/listenup-desktop/internal/logging"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	cfg        config.Config

	// closeLog releases the log file opened in PersistentPreRunE.
	closeLog = func() error { return nil }

	rootCmd = &cobra.Command{
		Use:   "listenup [MANIFEST|FILE...]",
		Short: "Listen to audiobooks in the terminal",
		Long: paragraph(
			fmt.Sprintf("\nListen to audiobooks from local files or a %s server, at any speed.", keyword("ListenUp")),
		),
		Example: paragraph("listenup book.yaml\nlistenup part01.mp3 part02.mp3 --speed 1.5\nlistenup https://example.com/audio/book.m4b --no-tui"),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.ArbitraryArgs,
		ValidArgsFunction: func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
			return []string{"yaml", "yml", "json", "mp3", "m4b", "m4a", "flac", "ogg", "wav"}, cobra.ShellCompDirectiveFilterFileExt
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(cmd)
		},
		RunE: runPlay,
	}
)

// loadConfig reads the merged viper state into cfg and sets up logging.
// The player UI owns the terminal, so its logs go to a file.
func loadConfig(cmd *cobra.Command) error {
	if cmd.Flags().Changed("config") {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("unable to read config file: %w", err)
		}
	}

	var err error
	cfg, err = config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	opts := logging.Options{Debug: cfg.Debug, File: cfg.LogFile}
	if opts.File == "" && usesTUI(cmd) {
		if opts.File, err = config.LogPath("listenup.log"); err != nil {
			return fmt.Errorf("unable to locate log file: %w", err)
		}
	}
	closeLog, err = logging.Initialize(opts)
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		_ = closeLog()
		os.Exit(1)
	}
	_ = closeLog()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", configFile, "config file")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().String("decoder", config.DecoderAuto, "decoder backend: auto, ffmpeg or beep")
	rootCmd.PersistentFlags().Float64P("speed", "s", 1.0, "playback speed")
	rootCmd.PersistentFlags().String("server", "", "ListenUp server url for relative segment urls")
	rootCmd.PersistentFlags().String("token-file", "", "file holding the server bearer token")
	addPlayFlags(rootCmd)

	// Config bindings
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("player.decoder", rootCmd.PersistentFlags().Lookup("decoder"))
	_ = viper.BindPFlag("player.speed", rootCmd.PersistentFlags().Lookup("speed"))
	_ = viper.BindPFlag("server.url", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("server.token_file", rootCmd.PersistentFlags().Lookup("token-file"))

	config.SetDefaults(viper.GetViper())

	rootCmd.AddCommand(playCmd, renderCmd, probeCmd, progressCmd, configCmd, manCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	dirs, err := config.ConfigDirs()
	if err != nil {
		fmt.Println("Could not find configuration directory.")
		os.Exit(1)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName(config.AppName)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", used)
		configFile = used
		return
	}

	configFile = filepath.Join(dirs[0], config.AppName+".yml")
	if err := config.EnsureFile(configFile); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
