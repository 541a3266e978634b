//nolint:lll
package config

// Config represents the complete configuration of the meterread application.
// It covers every command (image, stream, watch, serve) and is loaded from
// configuration files, environment variables and command-line flags.
type Config struct {
	// Global settings
	ModelsDir string `mapstructure:"models_dir" yaml:"models_dir" json:"models_dir"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose   bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	Models    ModelsConfig    `mapstructure:"models" yaml:"models" json:"models"`
	Detection DetectionConfig `mapstructure:"detection" yaml:"detection" json:"detection"`
	Stream    StreamConfig    `mapstructure:"stream" yaml:"stream" json:"stream"`
	Still     StillConfig     `mapstructure:"still" yaml:"still" json:"still"`
	Reading   ReadingConfig   `mapstructure:"reading" yaml:"reading" json:"reading"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server" json:"server"`
	Batch     BatchConfig     `mapstructure:"batch" yaml:"batch" json:"batch"`
	Watch     WatchConfig     `mapstructure:"watch" yaml:"watch" json:"watch"`
	GPU       GPUConfig       `mapstructure:"gpu" yaml:"gpu" json:"gpu"`
}

// ModelsConfig selects the three detection models.
type ModelsConfig struct {
	Streaming          ModelConfig `mapstructure:"streaming" yaml:"streaming" json:"streaming"`
	Digit              ModelConfig `mapstructure:"digit" yaml:"digit" json:"digit"`
	Indicator          ModelConfig `mapstructure:"indicator" yaml:"indicator" json:"indicator"`
	NumThreads         int         `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
	WarmupIterations   int         `mapstructure:"warmup_iterations" yaml:"warmup_iterations" json:"warmup_iterations"`
	SerializeInference bool        `mapstructure:"serialize_inference" yaml:"serialize_inference" json:"serialize_inference"`
}

// ModelConfig describes one model and its decoder floor.
type ModelConfig struct {
	ModelPath       string  `mapstructure:"model_path" yaml:"model_path" json:"model_path"`
	InputSize       int     `mapstructure:"input_size" yaml:"input_size" json:"input_size"`
	Layout          string  `mapstructure:"layout" yaml:"layout" json:"layout"`
	CenterCrop      bool    `mapstructure:"center_crop" yaml:"center_crop" json:"center_crop"`
	ConfidenceFloor float64 `mapstructure:"confidence_floor" yaml:"confidence_floor" json:"confidence_floor"`
}

// DetectionConfig holds the post-processing chain settings.
type DetectionConfig struct {
	NMSMethod          string  `mapstructure:"nms_method" yaml:"nms_method" json:"nms_method"`
	NMSThreshold       float64 `mapstructure:"nms_threshold" yaml:"nms_threshold" json:"nms_threshold"`
	SoftNMSSigma       float64 `mapstructure:"soft_nms_sigma" yaml:"soft_nms_sigma" json:"soft_nms_sigma"`
	SoftNMSScoreThresh float64 `mapstructure:"soft_nms_score_thresh" yaml:"soft_nms_score_thresh" json:"soft_nms_score_thresh"`
	LineFitIterations  int     `mapstructure:"line_fit_iterations" yaml:"line_fit_iterations" json:"line_fit_iterations"`
	LineFitDistance    float64 `mapstructure:"line_fit_distance" yaml:"line_fit_distance" json:"line_fit_distance"`
	Seed               uint64  `mapstructure:"seed" yaml:"seed" json:"seed"`
}

// StreamConfig contains live reading settings.
type StreamConfig struct {
	PollIntervalMs       int     `mapstructure:"poll_interval_ms" yaml:"poll_interval_ms" json:"poll_interval_ms"`
	HistorySize          int     `mapstructure:"history_size" yaml:"history_size" json:"history_size"`
	OverlayMinConfidence float64 `mapstructure:"overlay_min_confidence" yaml:"overlay_min_confidence" json:"overlay_min_confidence"`
	OverlayLimit         int     `mapstructure:"overlay_limit" yaml:"overlay_limit" json:"overlay_limit"`
}

// StillConfig contains still-image settings.
type StillConfig struct {
	OutputDir    string   `mapstructure:"output_dir" yaml:"output_dir" json:"output_dir"`
	MaskPaddingX int      `mapstructure:"mask_padding_x" yaml:"mask_padding_x" json:"mask_padding_x"`
	MaskPaddingY int      `mapstructure:"mask_padding_y" yaml:"mask_padding_y" json:"mask_padding_y"`
	OCREnabled   bool     `mapstructure:"ocr_enabled" yaml:"ocr_enabled" json:"ocr_enabled"`
	OCRLanguages []string `mapstructure:"ocr_languages" yaml:"ocr_languages" json:"ocr_languages"`
	OCRWhitelist string   `mapstructure:"ocr_whitelist" yaml:"ocr_whitelist" json:"ocr_whitelist"`
	OCRPageSeg   int      `mapstructure:"ocr_page_seg_mode" yaml:"ocr_page_seg_mode" json:"ocr_page_seg_mode"`
}

// ReadingConfig describes the meter the readings belong to.
type ReadingConfig struct {
	Type     string `mapstructure:"type" yaml:"type" json:"type"`
	Unit     string `mapstructure:"unit" yaml:"unit" json:"unit"`
	Decimals int    `mapstructure:"decimals" yaml:"decimals" json:"decimals"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// BatchConfig contains directory processing settings.
type BatchConfig struct {
	Workers         int  `mapstructure:"workers" yaml:"workers" json:"workers"`
	ContinueOnError bool `mapstructure:"continue_on_error" yaml:"continue_on_error" json:"continue_on_error"`
}

// WatchConfig contains settings of the directory watcher.
type WatchConfig struct {
	Dir        string `mapstructure:"dir" yaml:"dir" json:"dir"`
	DebounceMs int    `mapstructure:"debounce_ms" yaml:"debounce_ms" json:"debounce_ms"`
}

// GPUConfig contains GPU acceleration settings.
type GPUConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Device      int    `mapstructure:"device" yaml:"device" json:"device"`
	MemoryLimit string `mapstructure:"memory_limit" yaml:"memory_limit" json:"memory_limit"`
}
