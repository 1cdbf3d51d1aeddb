// Package runlog keeps the history of capture runs in a sqlite ledger.
package runlog
