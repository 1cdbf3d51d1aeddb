// Package status reports capture runs to the outside: slog and MQTT
// observers, a control topic that can stop the run, and an HTTP health
// endpoint.
package status
