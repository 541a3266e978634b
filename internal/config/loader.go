package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "meterread"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "METERREAD"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader on the global viper instance so that flag
// bindings made by the CLI apply.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// NewLoaderWithViper creates a loader on an isolated viper instance.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	if v == nil {
		v = viper.New()
	}
	return &Loader{v: v}
}

// Load reads the first configuration file found on the search paths,
// environment variables and defaults, then validates the result.
func (l *Loader) Load() (*Config, error) {
	return l.load("", true)
}

// LoadWithoutValidation is Load without the validation step.
func (l *Loader) LoadWithoutValidation() (*Config, error) {
	return l.load("", false)
}

// LoadWithFile loads configuration from a specific file path.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	return l.load(configFile, true)
}

// LoadWithFileWithoutValidation is LoadWithFile without the validation step.
func (l *Loader) LoadWithFileWithoutValidation(configFile string) (*Config, error) {
	return l.load(configFile, false)
}

func (l *Loader) load(configFile string, validate bool) (*Config, error) {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", configFile)
		}
		l.v.SetConfigFile(configFile)
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml")
		l.addConfigPaths()
	}
	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if validate {
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}
	return &config, nil
}

// Get returns a value from the configuration.
func (l *Loader) Get(key string) interface{} {
	return l.v.Get(key)
}

// Set sets a value in the configuration.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults registers every default so that env overrides of nested keys
// are picked up by Unmarshal.
func (l *Loader) setDefaults() {
	d := DefaultConfig()

	l.v.SetDefault("models_dir", d.ModelsDir)
	l.v.SetDefault("log_level", d.LogLevel)
	l.v.SetDefault("verbose", d.Verbose)

	for name, m := range map[string]ModelConfig{
		"streaming": d.Models.Streaming,
		"digit":     d.Models.Digit,
		"indicator": d.Models.Indicator,
	} {
		prefix := "models." + name + "."
		l.v.SetDefault(prefix+"model_path", m.ModelPath)
		l.v.SetDefault(prefix+"input_size", m.InputSize)
		l.v.SetDefault(prefix+"layout", m.Layout)
		l.v.SetDefault(prefix+"center_crop", m.CenterCrop)
		l.v.SetDefault(prefix+"confidence_floor", m.ConfidenceFloor)
	}
	l.v.SetDefault("models.num_threads", d.Models.NumThreads)
	l.v.SetDefault("models.warmup_iterations", d.Models.WarmupIterations)
	l.v.SetDefault("models.serialize_inference", d.Models.SerializeInference)

	l.v.SetDefault("detection.nms_method", d.Detection.NMSMethod)
	l.v.SetDefault("detection.nms_threshold", d.Detection.NMSThreshold)
	l.v.SetDefault("detection.soft_nms_sigma", d.Detection.SoftNMSSigma)
	l.v.SetDefault("detection.soft_nms_score_thresh", d.Detection.SoftNMSScoreThresh)
	l.v.SetDefault("detection.line_fit_iterations", d.Detection.LineFitIterations)
	l.v.SetDefault("detection.line_fit_distance", d.Detection.LineFitDistance)
	l.v.SetDefault("detection.seed", d.Detection.Seed)

	l.v.SetDefault("stream.poll_interval_ms", d.Stream.PollIntervalMs)
	l.v.SetDefault("stream.history_size", d.Stream.HistorySize)
	l.v.SetDefault("stream.overlay_min_confidence", d.Stream.OverlayMinConfidence)
	l.v.SetDefault("stream.overlay_limit", d.Stream.OverlayLimit)

	l.v.SetDefault("still.output_dir", d.Still.OutputDir)
	l.v.SetDefault("still.mask_padding_x", d.Still.MaskPaddingX)
	l.v.SetDefault("still.mask_padding_y", d.Still.MaskPaddingY)
	l.v.SetDefault("still.ocr_enabled", d.Still.OCREnabled)
	l.v.SetDefault("still.ocr_languages", d.Still.OCRLanguages)
	l.v.SetDefault("still.ocr_whitelist", d.Still.OCRWhitelist)
	l.v.SetDefault("still.ocr_page_seg_mode", d.Still.OCRPageSeg)

	l.v.SetDefault("reading.type", d.Reading.Type)
	l.v.SetDefault("reading.unit", d.Reading.Unit)
	l.v.SetDefault("reading.decimals", d.Reading.Decimals)

	l.v.SetDefault("server.host", d.Server.Host)
	l.v.SetDefault("server.port", d.Server.Port)
	l.v.SetDefault("server.cors_origin", d.Server.CORSOrigin)
	l.v.SetDefault("server.max_upload_mb", d.Server.MaxUploadMB)
	l.v.SetDefault("server.timeout_sec", d.Server.TimeoutSec)
	l.v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	l.v.SetDefault("batch.workers", d.Batch.Workers)
	l.v.SetDefault("batch.continue_on_error", d.Batch.ContinueOnError)

	l.v.SetDefault("watch.dir", d.Watch.Dir)
	l.v.SetDefault("watch.debounce_ms", d.Watch.DebounceMs)

	l.v.SetDefault("gpu.enabled", d.GPU.Enabled)
	l.v.SetDefault("gpu.device", d.GPU.Device)
	l.v.SetDefault("gpu.memory_limit", d.GPU.MemoryLimit)
}

// GetResolvedConfig returns the current resolved settings for debugging.
func (l *Loader) GetResolvedConfig() map[string]interface{} {
	return l.v.AllSettings()
}

// WriteYAML encodes cfg as YAML.
func WriteYAML(w io.Writer, cfg Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

// GenerateDefaultConfigFile writes the default configuration to filename
// (meterread.yaml when empty). An existing file is only replaced with force.
func GenerateDefaultConfigFile(filename string, force bool) error {
	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(filename, flags, 0o644) //nolint:gosec // config files are meant to be readable
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", filename)
		}
		return err
	}
	if err := WriteYAML(f, DefaultConfig()); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// GetConfigSearchPaths returns the paths where configuration files are searched.
func GetConfigSearchPaths() []string {
	paths := []string{"."}

	if configDir, exists := os.LookupEnv("XDG_CONFIG_HOME"); exists {
		paths = append(paths, filepath.Join(configDir, "meterread"))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "meterread"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home)
	}

	return append(paths, "/etc/meterread")
}
