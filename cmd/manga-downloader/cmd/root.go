package cmd

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-manga-download/internal/api"
	"go-manga-download/internal/config"
	"go-manga-download/internal/models"
)

// cfgFile holds the path to the config file specified by the user
var cfgFile string

// logHttpFlag holds the value of the --log-http flag
var logHttpFlag bool

// savePathFlag holds the value of the --save-path flag
var savePathFlag string

// logLevelFlag holds the value of the --log-level flag
var logLevelFlag string

// globalConfig holds the loaded configuration
var globalConfig models.Config

// globalHttpTransport holds the globally configured HTTP transport (base or logging-wrapped)
var globalHttpTransport http.RoundTripper

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "manga-downloader",
	Short: "A tool to download and archive manga chapters",
	Long: `Manga Downloader fetches chapter pages described by a manifest,
resumes interrupted jobs, and packs finished chapters into CBZ or PDF.`,
	PersistentPreRunE: loadGlobalConfig,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	defer func() {
		if loggingTransport, ok := globalHttpTransport.(*api.LoggingTransport); ok && loggingTransport != nil {
			if err := loggingTransport.Close(); err != nil {
				log.WithError(err).Error("Error closing HTTP log file")
			}
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.toml", "Configuration file path")
	rootCmd.PersistentFlags().BoolVar(&logHttpFlag, "log-http", false, "Log HTTP requests/responses to http.log (overrides config)")
	rootCmd.PersistentFlags().StringVar(&savePathFlag, "save-path", "", "Directory to save chapters (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "info", "Log level (debug, info, warn, error)")
}

// loadGlobalConfig loads the configuration, applies flag overrides and sets
// up logging plus the shared HTTP transport.
func loadGlobalConfig(cmd *cobra.Command, args []string) error {
	level, err := log.ParseLevel(logLevelFlag)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", logLevelFlag, err)
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	globalConfig, err = config.LoadConfig(cfgFile)
	if err != nil {
		// Commands can still run on defaults plus flags; they fail later if
		// they need something only the file could provide.
		log.WithError(err).Warnf("Failed to load configuration from %s", cfgFile)
	}

	if cmd.Flags().Changed("log-http") {
		globalConfig.LogHttpRequests = logHttpFlag
	}
	if cmd.Flags().Changed("save-path") {
		if savePathFlag != "" {
			globalConfig.SavePath = savePathFlag
		} else {
			log.Warn("--save-path flag provided but value is empty, ignoring.")
		}
	}

	globalHttpTransport = http.DefaultTransport
	if globalConfig.LogHttpRequests {
		logFilePath := "http.log"
		if globalConfig.SavePath != "" {
			if _, statErr := os.Stat(globalConfig.SavePath); statErr == nil {
				logFilePath = filepath.Join(globalConfig.SavePath, logFilePath)
			}
		}
		log.Infof("HTTP logging to file: %s", logFilePath)
		loggingTransport, err := api.NewLoggingTransport(http.DefaultTransport, logFilePath)
		if err != nil {
			log.WithError(err).Error("Failed to initialize HTTP logging transport, logging disabled.")
		} else {
			globalHttpTransport = loggingTransport
		}
	}

	return nil
}
