// Package config loads camerad's configuration from a YAML file layered
// under environment overrides, and maps it onto the plain structs the
// pipeline engine consumes. There is no global singleton: Load is called
// once by cmd/camerad and the result threaded down explicitly.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/nvrengine/camerad/internal/nvr"
)

// RTSPConfig holds source-level timeouts and retry knobs shared by all
// cameras; CameraConfig has no per-camera override for them.
type RTSPConfig struct {
	TCPTimeoutMs     int `koanf:"tcp_timeout_ms"`
	ConnectTimeoutS  int `koanf:"connect_timeout_s"`
	LatencyMs        int `koanf:"latency_ms"`
	SourceRetryCount int `koanf:"source_retry_count"`
}

// BackoffConfig holds the reconnect / recording-retry schedule.
type BackoffConfig struct {
	ReconnectCeilingS         int `koanf:"reconnect_ceiling_s"`
	MaxReconnectAttempts      int `koanf:"max_reconnect_attempts"`
	RecordingRetryIntervalS   int `koanf:"recording_retry_interval_s"`
	RecordingRetryMaxAttempts int `koanf:"recording_retry_max_attempts"`
}

// WatchdogConfig holds the frame-flow watchdog's tick/timeout.
type WatchdogConfig struct {
	CheckIntervalS int `koanf:"check_interval_s"`
	TimeoutS       int `koanf:"timeout_s"`
}

// StorageConfig holds the Storage Service's cleanup targets (§9 open question:
// these were hard-coded in the source and are promoted to configuration here).
type StorageConfig struct {
	RecordingRoot    string  `koanf:"recording_root"`
	MinFreeGB        float64 `koanf:"min_free_gb"`
	CleanupMaxAgeD   int     `koanf:"cleanup_max_age_days"`
	CleanupTargetGB  float64 `koanf:"cleanup_target_gb"`
}

// CameraConfig is the on-disk shape of a single camera entry.
type CameraConfig struct {
	ID                string   `koanf:"id"`
	DisplayName       string   `koanf:"display_name"`
	RTSPURL           string   `koanf:"rtsp_url"`
	Enabled           bool     `koanf:"enabled"`
	RecordOnStart     bool     `koanf:"record_on_start"`
	FlipHorizontal    bool     `koanf:"flip_horizontal"`
	FlipVertical      bool     `koanf:"flip_vertical"`
	RotationDeg       int      `koanf:"rotation_deg"`
	OSDEnabled        bool     `koanf:"osd_enabled"`
	OSDFormat         string   `koanf:"osd_format"`
	OSDPosition       string   `koanf:"osd_position"`
	OSDColorRGB       string   `koanf:"osd_color_rgb"` // "#RRGGBB"
	OSDFontSize       int      `koanf:"osd_font_size"`
	DecoderPreference []string `koanf:"decoder_preference"`
	RotationMinutes   int      `koanf:"rotation_minutes"`
	Container         string   `koanf:"container"`
}

// Config is the fully-resolved, process-wide configuration passed to each
// camera engine at construction.
type Config struct {
	Storage  StorageConfig  `koanf:"storage"`
	RTSP     RTSPConfig     `koanf:"rtsp"`
	Backoff  BackoffConfig  `koanf:"backoff"`
	Watchdog WatchdogConfig `koanf:"watchdog"`
	Cameras  []CameraConfig `koanf:"cameras"`
}

func defaults() Config {
	return Config{
		Storage: StorageConfig{
			RecordingRoot:   "/var/lib/camerad/recordings",
			MinFreeGB:       1.0,
			CleanupMaxAgeD:  7,
			CleanupTargetGB: 2.0,
		},
		RTSP: RTSPConfig{
			TCPTimeoutMs:     5000,
			ConnectTimeoutS:  10,
			LatencyMs:        200,
			SourceRetryCount: 5,
		},
		Backoff: BackoffConfig{
			ReconnectCeilingS:         60,
			MaxReconnectAttempts:      10,
			RecordingRetryIntervalS:   6,
			RecordingRetryMaxAttempts: 20,
		},
		Watchdog: WatchdogConfig{
			CheckIntervalS: 5,
			TimeoutS:       30,
		},
	}
}

// Load reads a YAML config file, layers `CAMERAD_`-prefixed environment
// variables over it (dotted via "__"), and returns the resolved Config.
// Unset file paths fall back to built-in defaults so the daemon can start
// with only environment overrides in a container.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("loading config file %q: %w", path, err)
		}
	}

	envProvider := env.Provider(".", env.Opt{
		Prefix: "CAMERAD_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, "CAMERAD_"))
			key = strings.ReplaceAll(key, "__", ".")
			return key, value
		},
	})
	if err := k.Load(envProvider, nil); err != nil {
		return Config{}, fmt.Errorf("loading environment overrides: %w", err)
	}

	// Start from built-in defaults; koanf/mapstructure only overwrites the
	// fields actually present in the loaded file/env keys, leaving the rest
	// of the struct at its default value.
	cfg := defaults()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	return cfg, nil
}

// ToCamera converts a CameraConfig into the immutable nvr.Camera the engine
// consumes, applying the OSD/container defaults §C of SPEC_FULL.md names.
func (c CameraConfig) ToCamera() (nvr.Camera, error) {
	container := nvr.ContainerFormat(c.Container)
	if container == "" {
		container = nvr.ContainerMP4
	}

	rotationMinutes := c.RotationMinutes
	if rotationMinutes <= 0 {
		rotationMinutes = 10
	}

	osd := nvr.OSDConfig{
		Enabled:  c.OSDEnabled,
		Format:   c.OSDFormat,
		Position: c.OSDPosition,
		ColorRGB: 0xFFFFFF,
		FontSize: c.OSDFontSize,
	}
	if osd.Format == "" {
		osd.Format = "%Y-%m-%d %H:%M:%S"
	}
	if osd.Position == "" {
		osd.Position = "bottom-right"
	}
	if osd.FontSize == 0 {
		osd.FontSize = 18
	}
	if c.OSDColorRGB != "" {
		rgb, err := parseHexColor(c.OSDColorRGB)
		if err != nil {
			return nvr.Camera{}, fmt.Errorf("camera %q: osd_color_rgb: %w", c.ID, err)
		}
		osd.ColorRGB = rgb
	}

	return nvr.Camera{
		ID:            c.ID,
		DisplayName:   c.DisplayName,
		RTSPURL:       c.RTSPURL,
		Enabled:       c.Enabled,
		RecordOnStart: c.RecordOnStart,
		Transform: nvr.VideoTransform{
			FlipHorizontal: c.FlipHorizontal,
			FlipVertical:   c.FlipVertical,
			RotationDeg:    c.RotationDeg,
		},
		OSD:               osd,
		DecoderPreference: c.DecoderPreference,
		RotationMinutes:   rotationMinutes,
		Container:         container,
	}, nil
}

func parseHexColor(s string) (uint32, error) {
	s = strings.TrimPrefix(s, "#")
	var v uint32
	if _, err := fmt.Sscanf(s, "%06X", &v); err != nil {
		return 0, fmt.Errorf("invalid hex color %q: %w", s, err)
	}
	return v, nil
}

// ToReconnectPolicy converts the on-disk backoff/watchdog knobs into the
// nvr.ReconnectPolicy the Connection State Machine consumes, so the backoff
// sequence itself is computed in exactly one place (nvr.ReconnectPolicy.delay).
func (b BackoffConfig) ToReconnectPolicy(w WatchdogConfig) nvr.ReconnectPolicy {
	return nvr.ReconnectPolicy{
		CeilingS:              b.ReconnectCeilingS,
		MaxAttempts:           b.MaxReconnectAttempts,
		WatchdogCheckInterval: time.Duration(w.CheckIntervalS) * time.Second,
		WatchdogTimeout:       time.Duration(w.TimeoutS) * time.Second,
	}
}

