// Package simcam is a scriptable hal.Camera used by tests and by the
// --source sim mode of the CLI.
//
// Frames are produced on demand (Produce, ProduceBatch) or paced by a
// clock (Pace). Automatic requests report AWB searching until the
// scripted convergence frame; locked requests echo the color state they
// were submitted with. Every accepted request and produced frame is logged
// for inspection.
package simcam
