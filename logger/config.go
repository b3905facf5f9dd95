package logger

import (
	"fmt"
	"slices"
	"strings"
)

// Formats.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
	FormatPretty  = "pretty"
)

var levels = []string{"trace", "debug", "info", "warn", "error", "fatal", "disabled"}

// Config is the logging section of the service configuration.
type Config struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
	// Output is stderr or stdout.
	Output    string `yaml:"output" mapstructure:"output"`
	NoColor   bool   `yaml:"no_color" mapstructure:"no_color"`
	Timestamp bool   `yaml:"timestamp" mapstructure:"timestamp"`
	Caller    bool   `yaml:"caller" mapstructure:"caller"`
}

// ApplyDefaults fills unset fields. JSON entries are always timestamped.
func (c *Config) ApplyDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = FormatConsole
	}
	if c.Output == "" {
		c.Output = "stderr"
	}
	c.Timestamp = true
}

func (c *Config) Validate() error {
	if !slices.Contains(levels, strings.ToLower(c.Level)) {
		return fmt.Errorf("logging.level %q is not one of %s", c.Level, strings.Join(levels, ", "))
	}
	if f := strings.ToLower(c.Format); f != FormatJSON && !consoleFormats[f] {
		return fmt.Errorf("logging.format %q is not one of json, console, pretty", c.Format)
	}
	return nil
}
