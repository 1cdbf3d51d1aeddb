// Package engine defines the contract of the external recording engine that
// consumes captured frames, plus Sequencer, a wrapper that enforces the
// engine call order.
//
// The recorder subpackage is the engine shipped with the binary: it writes
// frames into length-prefixed msgpack record files under the storage root.
package engine
