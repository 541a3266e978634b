package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/MeKo-Tech/meterread/internal/config"
	"github.com/MeKo-Tech/meterread/internal/models"
	"github.com/MeKo-Tech/meterread/internal/ocr"
	"github.com/MeKo-Tech/meterread/internal/pipeline"
	"github.com/MeKo-Tech/meterread/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	// Global configuration loader.
	configLoader *config.Loader
	// Global configuration.
	globalConfig *config.Config
	// Configuration file path.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "meterread",
	Short: "Read the digits of utility meters from camera frames and photos",
	Long: `meterread detects the digits of electricity, gas and water meters.

It runs two pipelines over ONNX detection models:
- a streaming pipeline that reads live frames and keeps only the latest value
- a still-image pipeline that masks the photo around the indicator region
  and proposes labeled candidates from the digit model and OCR

Examples:
  meterread image meter.jpg
  meterread image photos/ --format json
  meterread stream frames/ --interval 100
  meterread watch inbox/
  meterread serve --port 8080`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if v, _ := cmd.PersistentFlags().GetBool("version"); v {
			printVersion(cmd)
			return nil
		}
		return cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetRootCommand returns the root command for testing purposes.
func GetRootCommand() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is meterread.yaml in ., $HOME/.config/meterread, $HOME, /etc/meterread)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	defaultModelsDir := models.DefaultModelsDir
	if envDir := os.Getenv(models.EnvModelsDir); envDir != "" {
		defaultModelsDir = envDir
	}
	rootCmd.PersistentFlags().String("models-dir", defaultModelsDir,
		"directory containing ONNX models (can also be set via "+models.EnvModelsDir+")")
	rootCmd.PersistentFlags().Bool("gpu", false, "enable GPU acceleration using CUDA")
	rootCmd.PersistentFlags().Int("gpu-device", 0, "CUDA device ID to use")
	rootCmd.PersistentFlags().String("gpu-mem-limit", "auto", "GPU memory limit (e.g. 2GB, 512MB, auto)")
	rootCmd.PersistentFlags().Uint64("seed", 0, "line fit random seed (0 = random)")
	rootCmd.PersistentFlags().Bool("version", false, "print version information and exit")

	bindFlags(rootCmd.PersistentFlags(), []flagBinding{
		{"verbose", "verbose"},
		{"log_level", "log-level"},
		{"models_dir", "models-dir"},
		{"gpu.enabled", "gpu"},
		{"gpu.device", "gpu-device"},
		{"gpu.memory_limit", "gpu-mem-limit"},
		{"detection.seed", "seed"},
	})

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if globalConfig == nil {
			if err := initConfig(); err != nil {
				return err
			}
		}
		setupLogging(GetConfig())
		return nil
	}
}

// setupLogging installs the JSON slog handler at the configured level.
func setupLogging(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.Verbose {
		logLevel = slog.LevelDebug
	} else {
		switch cfg.LogLevel {
		case "debug":
			logLevel = slog.LevelDebug
		case "warn":
			logLevel = slog.LevelWarn
		case "error":
			logLevel = slog.LevelError
		}
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() error {
	configLoader = config.NewLoader()

	var err error
	if cfgFile != "" {
		globalConfig, err = configLoader.LoadWithFile(cfgFile)
	} else {
		globalConfig, err = configLoader.Load()
	}
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	return nil
}

// GetConfig returns the configuration including flags bound after the
// initial load.
func GetConfig() *config.Config {
	if globalConfig == nil {
		if err := initConfig(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	var cfg config.Config
	if err := GetConfigLoader().GetViper().Unmarshal(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error unmarshaling updated configuration: %v\n", err)
		return globalConfig
	}
	return &cfg
}

// GetConfigLoader returns the global configuration loader.
func GetConfigLoader() *config.Loader {
	if configLoader == nil {
		configLoader = config.NewLoader()
	}
	return configLoader
}

type flagBinding struct {
	key  string
	flag string
}

func bindFlags(fs *pflag.FlagSet, bindings []flagBinding) {
	for _, b := range bindings {
		if err := viper.BindPFlag(b.key, fs.Lookup(b.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", b.flag, err))
		}
	}
}

// buildPipeline validates cfg and loads the models. Modes in required must
// load; the others are skipped with a warning when their model is missing.
func buildPipeline(cfg *config.Config, required ...pipeline.Mode) (*pipeline.Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	p, err := pipeline.NewBuilderFromConfig(cfg.ToPipelineConfig()).Require(required...).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}
	return p, nil
}

// ocrBackend returns the OCR backend, or nil when OCR is disabled.
func ocrBackend(cfg *config.Config) ocr.Backend {
	if !cfg.Still.OCREnabled {
		return nil
	}
	b, err := ocr.NewBackend()
	if err != nil {
		slog.Warn("OCR backend unavailable", "error", err)
		return nil
	}
	return b
}

func printVersion(cmd *cobra.Command) {
	v, commit, date := version.Info()
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "meterread version %s\n", v)
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Commit: %s\n", commit)
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Built: %s\n", date)
}
