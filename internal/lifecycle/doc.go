// Package lifecycle hosts capture runs. A Controller initializes the
// engine, builds the frame pool and the machine, runs the status services
// next to it and, once the run is over, completes engine shutdown, writes
// the run ledger row and, for fatal runs, a crash report.
package lifecycle
