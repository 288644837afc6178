package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/commons-data/shelter.report/internal/units"
)

// DefaultConfigPath is the path to the canonical pipeline defaults file.
// This is the single source of truth for all default pipeline values.
const DefaultConfigPath = "config/pipeline.defaults.json"

// PipelineConfig holds the tunable parameters of the observation pipeline.
// The schema matches the /api/config endpoint so the same JSON works for
// startup configuration and for inspecting the running values.
//
// All fields are pointers so a partial file only overrides what it names;
// the Get* accessors supply defaults for everything else.
type PipelineConfig struct {
	// Ingest params
	MinConfidence      *float64 `json:"min_confidence,omitempty"`
	RetryAttempts      *int     `json:"retry_attempts,omitempty"`
	RetryInitialBackoff *string `json:"retry_initial_backoff,omitempty"` // duration string like "100ms"
	RetryMaxBackoff    *string  `json:"retry_max_backoff,omitempty"`     // duration string like "2s"
	RateLimitPerMinute *int     `json:"rate_limit_per_minute,omitempty"`

	// Scanner params
	ScanInterval *string `json:"scan_interval,omitempty"` // duration string like "2000ms"
	DetectorURL  *string `json:"detector_url,omitempty"`

	// Location params
	FallbackLatitude  *float64 `json:"fallback_latitude,omitempty"`
	FallbackLongitude *float64 `json:"fallback_longitude,omitempty"`
	LocatorURL        *string  `json:"locator_url,omitempty"`
	LocatorTimeout    *string  `json:"locator_timeout,omitempty"` // duration string like "2s"

	// Feed / sync params
	SubscriberBuffer *int    `json:"subscriber_buffer,omitempty"`
	CatchUpLimit     *int    `json:"catch_up_limit,omitempty"`
	OverlayCapacity  *int    `json:"overlay_capacity,omitempty"`
	OverlayTTL       *string `json:"overlay_ttl,omitempty"` // duration string like "3000ms"
	SSEHeartbeat     *string `json:"sse_heartbeat,omitempty"`

	// Stats params
	TopK         *int `json:"top_k,omitempty"`
	RecentWindow *int `json:"recent_window,omitempty"`

	// Rollup params
	RollupInterval    *string `json:"rollup_interval,omitempty"` // duration string like "1h"
	RollupWindowHours *int    `json:"rollup_window_hours,omitempty"`
	RollupTimezone    *string `json:"rollup_timezone,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyPipelineConfig returns a PipelineConfig with all fields nil.
// Use LoadPipelineConfig to load actual values from the defaults file.
func EmptyPipelineConfig() *PipelineConfig {
	return &PipelineConfig{}
}

// LoadPipelineConfig loads a PipelineConfig from a JSON file. The path must
// end in .json and the file must be under 1MB. Fields omitted from the file
// keep their defaults, so partial configs are safe.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyPipelineConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath,
// searching upward from the current directory. Panics if the file cannot be
// found, intended for test setup.
func MustLoadDefaultConfig() *PipelineConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadPipelineConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configured values are usable.
func (c *PipelineConfig) Validate() error {
	if c.MinConfidence != nil {
		if *c.MinConfidence < 0 || *c.MinConfidence > 1 {
			return fmt.Errorf("min_confidence must be between 0 and 1, got %f", *c.MinConfidence)
		}
	}

	if c.RetryAttempts != nil && *c.RetryAttempts < 1 {
		return fmt.Errorf("retry_attempts must be at least 1, got %d", *c.RetryAttempts)
	}

	if c.RateLimitPerMinute != nil && *c.RateLimitPerMinute < 1 {
		return fmt.Errorf("rate_limit_per_minute must be at least 1, got %d", *c.RateLimitPerMinute)
	}

	for name, v := range map[string]*string{
		"retry_initial_backoff": c.RetryInitialBackoff,
		"retry_max_backoff":     c.RetryMaxBackoff,
		"scan_interval":         c.ScanInterval,
		"locator_timeout":       c.LocatorTimeout,
		"overlay_ttl":           c.OverlayTTL,
		"sse_heartbeat":         c.SSEHeartbeat,
		"rollup_interval":       c.RollupInterval,
	} {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
			}
		}
	}

	if c.FallbackLatitude != nil {
		if *c.FallbackLatitude < -90 || *c.FallbackLatitude > 90 {
			return fmt.Errorf("fallback_latitude must be between -90 and 90, got %f", *c.FallbackLatitude)
		}
	}
	if c.FallbackLongitude != nil {
		if *c.FallbackLongitude < -180 || *c.FallbackLongitude > 180 {
			return fmt.Errorf("fallback_longitude must be between -180 and 180, got %f", *c.FallbackLongitude)
		}
	}

	if c.SubscriberBuffer != nil && *c.SubscriberBuffer < 1 {
		return fmt.Errorf("subscriber_buffer must be at least 1, got %d", *c.SubscriberBuffer)
	}
	if c.CatchUpLimit != nil && *c.CatchUpLimit < 1 {
		return fmt.Errorf("catch_up_limit must be at least 1, got %d", *c.CatchUpLimit)
	}
	if c.OverlayCapacity != nil && *c.OverlayCapacity < 0 {
		return fmt.Errorf("overlay_capacity must be non-negative, got %d", *c.OverlayCapacity)
	}

	if c.TopK != nil && *c.TopK < 1 {
		return fmt.Errorf("top_k must be at least 1, got %d", *c.TopK)
	}
	if c.RecentWindow != nil && *c.RecentWindow < 1 {
		return fmt.Errorf("recent_window must be at least 1, got %d", *c.RecentWindow)
	}

	if c.RollupWindowHours != nil && *c.RollupWindowHours < 1 {
		return fmt.Errorf("rollup_window_hours must be at least 1, got %d", *c.RollupWindowHours)
	}
	if c.RollupTimezone != nil && *c.RollupTimezone != "" {
		if !units.IsTimezoneValid(*c.RollupTimezone) {
			return fmt.Errorf("invalid rollup_timezone %q", *c.RollupTimezone)
		}
	}

	return nil
}

func (c *PipelineConfig) duration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetMinConfidence returns the min_confidence value or the default.
func (c *PipelineConfig) GetMinConfidence() float64 {
	if c.MinConfidence == nil {
		return 0.25
	}
	return *c.MinConfidence
}

// GetRetryAttempts returns the retry_attempts value or the default.
func (c *PipelineConfig) GetRetryAttempts() int {
	if c.RetryAttempts == nil {
		return 3
	}
	return *c.RetryAttempts
}

// GetRetryInitialBackoff parses and returns retry_initial_backoff as a time.Duration.
func (c *PipelineConfig) GetRetryInitialBackoff() time.Duration {
	return c.duration(c.RetryInitialBackoff, 100*time.Millisecond)
}

// GetRetryMaxBackoff parses and returns retry_max_backoff as a time.Duration.
func (c *PipelineConfig) GetRetryMaxBackoff() time.Duration {
	return c.duration(c.RetryMaxBackoff, 2*time.Second)
}

// GetRateLimitPerMinute returns the rate_limit_per_minute value or the default.
func (c *PipelineConfig) GetRateLimitPerMinute() int {
	if c.RateLimitPerMinute == nil {
		return 30
	}
	return *c.RateLimitPerMinute
}

// GetScanInterval parses and returns scan_interval as a time.Duration.
func (c *PipelineConfig) GetScanInterval() time.Duration {
	return c.duration(c.ScanInterval, 2000*time.Millisecond)
}

// GetDetectorURL returns the detector_url value or empty for the built-in mock.
func (c *PipelineConfig) GetDetectorURL() string {
	if c.DetectorURL == nil {
		return ""
	}
	return *c.DetectorURL
}

// GetFallbackLatitude returns the fallback_latitude value or the default.
func (c *PipelineConfig) GetFallbackLatitude() float64 {
	if c.FallbackLatitude == nil {
		return 45.5152 // Portland, OR
	}
	return *c.FallbackLatitude
}

// GetFallbackLongitude returns the fallback_longitude value or the default.
func (c *PipelineConfig) GetFallbackLongitude() float64 {
	if c.FallbackLongitude == nil {
		return -122.6784
	}
	return *c.FallbackLongitude
}

// GetLocatorURL returns the locator_url value or empty for the fixed locator.
func (c *PipelineConfig) GetLocatorURL() string {
	if c.LocatorURL == nil {
		return ""
	}
	return *c.LocatorURL
}

// GetLocatorTimeout parses and returns locator_timeout as a time.Duration.
func (c *PipelineConfig) GetLocatorTimeout() time.Duration {
	return c.duration(c.LocatorTimeout, 2*time.Second)
}

// GetSubscriberBuffer returns the subscriber_buffer value or the default.
func (c *PipelineConfig) GetSubscriberBuffer() int {
	if c.SubscriberBuffer == nil {
		return 16
	}
	return *c.SubscriberBuffer
}

// GetCatchUpLimit returns the catch_up_limit value or the default.
func (c *PipelineConfig) GetCatchUpLimit() int {
	if c.CatchUpLimit == nil {
		return 50
	}
	return *c.CatchUpLimit
}

// GetOverlayCapacity returns the overlay_capacity value or the default.
func (c *PipelineConfig) GetOverlayCapacity() int {
	if c.OverlayCapacity == nil {
		return 5
	}
	return *c.OverlayCapacity
}

// GetOverlayTTL parses and returns overlay_ttl as a time.Duration.
func (c *PipelineConfig) GetOverlayTTL() time.Duration {
	return c.duration(c.OverlayTTL, 3000*time.Millisecond)
}

// GetSSEHeartbeat parses and returns sse_heartbeat as a time.Duration.
func (c *PipelineConfig) GetSSEHeartbeat() time.Duration {
	return c.duration(c.SSEHeartbeat, 30*time.Second)
}

// GetTopK returns the top_k value or the default.
func (c *PipelineConfig) GetTopK() int {
	if c.TopK == nil {
		return 3
	}
	return *c.TopK
}

// GetRecentWindow returns the recent_window value or the default.
func (c *PipelineConfig) GetRecentWindow() int {
	if c.RecentWindow == nil {
		return 5
	}
	return *c.RecentWindow
}

// GetRollupInterval parses and returns rollup_interval as a time.Duration.
func (c *PipelineConfig) GetRollupInterval() time.Duration {
	return c.duration(c.RollupInterval, time.Hour)
}

// GetRollupWindowHours returns the rollup_window_hours value or the default.
func (c *PipelineConfig) GetRollupWindowHours() int {
	if c.RollupWindowHours == nil {
		return 48
	}
	return *c.RollupWindowHours
}

// GetRollupTimezone returns the rollup_timezone value or the default.
func (c *PipelineConfig) GetRollupTimezone() string {
	if c.RollupTimezone == nil || *c.RollupTimezone == "" {
		return "UTC"
	}
	return *c.RollupTimezone
}

// Effective resolves every setting to the value the pipeline actually runs
// with, defaults included. The config endpoint serves this.
func (c *PipelineConfig) Effective() map[string]interface{} {
	return map[string]interface{}{
		"min_confidence":        c.GetMinConfidence(),
		"retry_attempts":        c.GetRetryAttempts(),
		"retry_initial_backoff": c.GetRetryInitialBackoff().String(),
		"retry_max_backoff":     c.GetRetryMaxBackoff().String(),
		"rate_limit_per_minute": c.GetRateLimitPerMinute(),
		"scan_interval":         c.GetScanInterval().String(),
		"detector_url":          c.GetDetectorURL(),
		"fallback_latitude":     c.GetFallbackLatitude(),
		"fallback_longitude":    c.GetFallbackLongitude(),
		"locator_url":           c.GetLocatorURL(),
		"locator_timeout":       c.GetLocatorTimeout().String(),
		"subscriber_buffer":     c.GetSubscriberBuffer(),
		"catch_up_limit":        c.GetCatchUpLimit(),
		"overlay_capacity":      c.GetOverlayCapacity(),
		"overlay_ttl":           c.GetOverlayTTL().String(),
		"sse_heartbeat":         c.GetSSEHeartbeat().String(),
		"top_k":                 c.GetTopK(),
		"recent_window":         c.GetRecentWindow(),
		"rollup_interval":       c.GetRollupInterval().String(),
		"rollup_window_hours":   c.GetRollupWindowHours(),
		"rollup_timezone":       c.GetRollupTimezone(),
	}
}
