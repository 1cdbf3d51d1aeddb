// Package logging builds the process slog logger: a terse CLI handler or
// JSON on the console, optionally fanned out to a rotating JSON file.
package logging
