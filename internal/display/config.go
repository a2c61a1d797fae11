package display

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// DisplayConfig holds configuration for visual display options
type DisplayConfig struct {
	ColorEnabled bool   `mapstructure:"color_enabled" yaml:"color_enabled"`
	Theme        string `mapstructure:"theme" yaml:"theme"`
	OutputFormat string `mapstructure:"output_format" yaml:"output_format"`
	ShowProgress bool   `mapstructure:"show_progress" yaml:"show_progress"`

	VerboseMode bool `mapstructure:"verbose" yaml:"verbose"`
	QuietMode   bool `mapstructure:"quiet" yaml:"quiet"`

	// Internal fields (not serialized)
	Writer io.Writer `mapstructure:"-" yaml:"-"`
}

// DefaultDisplayConfig returns a default display configuration
func DefaultDisplayConfig() *DisplayConfig {
	return &DisplayConfig{
		ColorEnabled: true,
		Theme:        "dark",
		OutputFormat: string(FormatText),
		ShowProgress: true,
		Writer:       os.Stdout,
	}
}

// Validate validates the display configuration
func (dc *DisplayConfig) Validate() error {
	var errs []string

	validThemes := []string{"dark", "light", "plain"}
	if !contains(validThemes, dc.Theme) {
		errs = append(errs, fmt.Sprintf("invalid theme '%s', must be one of: %s", dc.Theme, strings.Join(validThemes, ", ")))
	}

	validFormats := []string{string(FormatText), string(FormatJSON), string(FormatYAML)}
	if !contains(validFormats, dc.OutputFormat) {
		errs = append(errs, fmt.Sprintf("invalid output format '%s', must be one of: %s", dc.OutputFormat, strings.Join(validFormats, ", ")))
	}

	if dc.VerboseMode && dc.QuietMode {
		errs = append(errs, "verbose and quiet modes are mutually exclusive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("display configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// SetDefaults sets default values for unspecified configuration options
func (dc *DisplayConfig) SetDefaults() {
	if dc.Theme == "" {
		dc.Theme = "dark"
	}
	if dc.OutputFormat == "" {
		dc.OutputFormat = string(FormatText)
	}
	if dc.Writer == nil {
		dc.Writer = os.Stdout
	}
}

// Format returns the configured output format
func (dc *DisplayConfig) Format() OutputFormat {
	return OutputFormat(dc.OutputFormat)
}

// GetColorTheme returns the ColorTheme based on the theme name
func (dc *DisplayConfig) GetColorTheme() ColorTheme {
	return GetThemeByName(dc.Theme)
}

// IsColorEnabled returns true if colors should be used
func (dc *DisplayConfig) IsColorEnabled() bool {
	return dc.ColorEnabled && !dc.QuietMode && !dc.Format().IsStructured()
}

// IsProgressEnabled returns true if progress indicators should be shown
func (dc *DisplayConfig) IsProgressEnabled() bool {
	return dc.ShowProgress && !dc.QuietMode
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
