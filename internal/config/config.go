// Package config provides configuration management for the timelapse recorder.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is loaded once at start and never modified afterwards.
type Config struct {
	Log       LogConfig       `yaml:"log" json:"log"`
	Capture   CaptureConfig   `yaml:"capture" json:"capture"`
	Detection DetectionConfig `yaml:"detection" json:"detection"`
	Rate      RateConfig      `yaml:"rate" json:"rate"`
	Output    OutputConfig    `yaml:"output" json:"output"`
	Display   DisplayConfig   `yaml:"display" json:"display"`
	Journal   JournalConfig   `yaml:"journal" json:"journal"`
	Server    ServerConfig    `yaml:"server" json:"server"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// CaptureConfig contains camera settings.
type CaptureConfig struct {
	// Source is a device index ("0"), a file path or a stream URL.
	Source string `yaml:"source" json:"source"`
	// AutoExposure lets the camera pick exposure. Turn it off and lower
	// ExposureLock if motion triggers too easily.
	AutoExposure *bool    `yaml:"auto_exposure" json:"auto_exposure"`
	ExposureLock *float64 `yaml:"exposure_lock" json:"exposure_lock"`
	// WarmupSeconds is the countdown before the first frame is read.
	WarmupSeconds *int `yaml:"warmup_seconds" json:"warmup_seconds"`
	// FallbackFPS is used when the camera does not report a frame rate.
	FallbackFPS float64 `yaml:"fallback_fps" json:"fallback_fps"`
}

// DetectionConfig contains face and motion detection settings.
type DetectionConfig struct {
	// MinArea is the smallest face or contour area, in pixels, that counts.
	// Increase it if detection is too sensitive.
	MinArea float64 `yaml:"min_area" json:"min_area"`
	// ComparisonDistance is how many frames back the motion baseline is.
	ComparisonDistance int     `yaml:"comparison_distance" json:"comparison_distance"`
	CascadePath        string  `yaml:"cascade_path" json:"cascade_path"`
	BlurKernel         int     `yaml:"blur_kernel" json:"blur_kernel"`
	DiffThreshold      float64 `yaml:"diff_threshold" json:"diff_threshold"`
	DilateIterations   *int    `yaml:"dilate_iterations" json:"dilate_iterations"`
	DrawFaceBoxes      *bool   `yaml:"draw_face_boxes" json:"draw_face_boxes"`
	DrawMotionBoxes    *bool   `yaml:"draw_motion_boxes" json:"draw_motion_boxes"`
}

// RateConfig contains the event sampling periods.
type RateConfig struct {
	FaceEventPeriod   int `yaml:"face_event_period" json:"face_event_period"`
	MotionEventPeriod int `yaml:"motion_event_period" json:"motion_event_period"`
}

// OutputConfig describes the recording container. Its frame rate is nominal
// and does not reflect how sparsely frames were sampled.
type OutputConfig struct {
	Dir        string  `yaml:"dir" json:"dir"`
	Prefix     string  `yaml:"prefix" json:"prefix"`
	Codec      string  `yaml:"codec" json:"codec"`
	FPS        float64 `yaml:"fps" json:"fps"`
	Width      int     `yaml:"width" json:"width"`
	Height     int     `yaml:"height" json:"height"`
	ConvertMP4 bool    `yaml:"convert_mp4" json:"convert_mp4"`
}

// DisplayConfig controls the live preview window.
type DisplayConfig struct {
	Enabled *bool `yaml:"enabled" json:"enabled"`
	WaitMs  int   `yaml:"wait_ms" json:"wait_ms"`
}

// JournalConfig controls the SQLite event journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// ServerConfig contains the status API and profiling settings.
type ServerConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	Host          string `yaml:"host" json:"host"`
	Port          int    `yaml:"port" json:"port"`
	ProfilingAddr string `yaml:"profiling_addr" json:"profiling_addr"`
}

// Load reads configuration from a YAML file, applies env var overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse builds a Config from YAML bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.setDefaults()
	return &cfg
}

func (c *Config) applyEnvOverrides() {
	if level := os.Getenv("TIMELAPSE_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}

	if source := os.Getenv("TIMELAPSE_SOURCE"); source != "" {
		c.Capture.Source = source
	}

	if minArea := os.Getenv("TIMELAPSE_MIN_AREA"); minArea != "" {
		if a, err := strconv.ParseFloat(minArea, 64); err == nil {
			c.Detection.MinArea = a
		}
	}

	if distance := os.Getenv("TIMELAPSE_COMPARISON_DISTANCE"); distance != "" {
		if d, err := strconv.Atoi(distance); err == nil {
			c.Detection.ComparisonDistance = d
		}
	}

	if dir := os.Getenv("TIMELAPSE_OUTPUT_DIR"); dir != "" {
		c.Output.Dir = dir
	}

	if display := os.Getenv("TIMELAPSE_DISPLAY"); display != "" {
		if b, err := strconv.ParseBool(display); err == nil {
			c.Display.Enabled = &b
		}
	}

	if port := os.Getenv("TIMELAPSE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
}

func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}

	if c.Capture.Source == "" {
		c.Capture.Source = "0"
	}
	if c.Capture.AutoExposure == nil {
		c.Capture.AutoExposure = boolPtr(true)
	}
	if c.Capture.ExposureLock == nil {
		c.Capture.ExposureLock = float64Ptr(-7)
	}
	if c.Capture.WarmupSeconds == nil {
		c.Capture.WarmupSeconds = intPtr(3)
	}
	if c.Capture.FallbackFPS <= 0 {
		c.Capture.FallbackFPS = 30
	}

	if c.Detection.MinArea <= 0 {
		c.Detection.MinArea = 5000
	}
	if c.Detection.ComparisonDistance == 0 {
		c.Detection.ComparisonDistance = 15
	}
	if c.Detection.CascadePath == "" {
		c.Detection.CascadePath = "haarcascade_frontalface_default.xml"
	}
	if c.Detection.BlurKernel == 0 {
		c.Detection.BlurKernel = 41
	}
	if c.Detection.DiffThreshold <= 0 {
		c.Detection.DiffThreshold = 25
	}
	if c.Detection.DilateIterations == nil {
		c.Detection.DilateIterations = intPtr(2)
	}
	if c.Detection.DrawFaceBoxes == nil {
		c.Detection.DrawFaceBoxes = boolPtr(true)
	}
	if c.Detection.DrawMotionBoxes == nil {
		c.Detection.DrawMotionBoxes = boolPtr(false)
	}

	if c.Rate.FaceEventPeriod == 0 {
		c.Rate.FaceEventPeriod = 1
	}
	if c.Rate.MotionEventPeriod == 0 {
		c.Rate.MotionEventPeriod = 2
	}

	if c.Output.Dir == "" {
		c.Output.Dir = "recordings"
	}
	if c.Output.Prefix == "" {
		c.Output.Prefix = "timelapse"
	}
	if c.Output.Codec == "" {
		c.Output.Codec = "MJPG"
	}
	if c.Output.FPS == 0 {
		c.Output.FPS = 15
	}
	if c.Output.Width == 0 {
		c.Output.Width = 640
	}
	if c.Output.Height == 0 {
		c.Output.Height = 480
	}

	if c.Display.Enabled == nil {
		c.Display.Enabled = boolPtr(true)
	}
	if c.Display.WaitMs <= 0 {
		c.Display.WaitMs = 25
	}

	if c.Journal.Path == "" {
		c.Journal.Path = "timelapse.db"
	}

	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
}

// Validate rejects values the capture loop cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Detection.ComparisonDistance < 1 {
		errs = append(errs, fmt.Errorf("detection.comparison_distance must be positive, got %d", c.Detection.ComparisonDistance))
	}
	if c.Detection.BlurKernel < 1 || c.Detection.BlurKernel%2 == 0 {
		errs = append(errs, fmt.Errorf("detection.blur_kernel must be a positive odd number, got %d", c.Detection.BlurKernel))
	}
	if c.Detection.Dilations() < 0 {
		errs = append(errs, fmt.Errorf("detection.dilate_iterations must not be negative, got %d", c.Detection.Dilations()))
	}
	if c.Rate.FaceEventPeriod < 1 {
		errs = append(errs, fmt.Errorf("rate.face_event_period must be positive, got %d", c.Rate.FaceEventPeriod))
	}
	if c.Rate.MotionEventPeriod < 1 {
		errs = append(errs, fmt.Errorf("rate.motion_event_period must be positive, got %d", c.Rate.MotionEventPeriod))
	}
	if c.Output.FPS <= 0 {
		errs = append(errs, fmt.Errorf("output.fps must be positive, got %g", c.Output.FPS))
	}
	if c.Output.Width <= 0 || c.Output.Height <= 0 {
		errs = append(errs, fmt.Errorf("output size must be positive, got %dx%d", c.Output.Width, c.Output.Height))
	}
	if len(c.Output.Codec) != 4 {
		errs = append(errs, fmt.Errorf("output.codec must be a four character code, got %q", c.Output.Codec))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be console or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// AutoExposureEnabled reports whether the camera picks its own exposure.
func (c CaptureConfig) AutoExposureEnabled() bool {
	return c.AutoExposure == nil || *c.AutoExposure
}

// Warmup returns the countdown length in seconds.
func (c CaptureConfig) Warmup() int {
	if c.WarmupSeconds == nil {
		return 0
	}
	return *c.WarmupSeconds
}

// Exposure returns the manual exposure value used when auto exposure is off.
func (c CaptureConfig) Exposure() float64 {
	if c.ExposureLock == nil {
		return 0
	}
	return *c.ExposureLock
}

// Dilations returns how many times the motion mask is dilated.
func (d DetectionConfig) Dilations() int {
	if d.DilateIterations == nil {
		return 0
	}
	return *d.DilateIterations
}

// FaceBoxes reports whether face boxes are drawn.
func (d DetectionConfig) FaceBoxes() bool {
	return d.DrawFaceBoxes != nil && *d.DrawFaceBoxes
}

// MotionBoxes reports whether motion boxes are drawn.
func (d DetectionConfig) MotionBoxes() bool {
	return d.DrawMotionBoxes != nil && *d.DrawMotionBoxes
}

// ShowWindow reports whether the live preview is on.
func (d DisplayConfig) ShowWindow() bool {
	return d.Enabled == nil || *d.Enabled
}

// Addr returns the status API listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func boolPtr(b bool) *bool { return &b }

func intPtr(i int) *int { return &i }

func float64Ptr(f float64) *float64 { return &f }
