// Package config loads the YAML configuration of the recorder.
//
// Load reads a file on top of Default and runs Validate, which fills zero
// values with defaults and rejects invalid settings. Validate is safe to
// call again after command-line overrides.
package config
