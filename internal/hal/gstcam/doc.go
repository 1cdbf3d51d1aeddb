// Package gstcam is a camera backend for V4L2 video nodes. Frames are
// captured by a GStreamer pipeline and converted to I420; device probing
// and the white balance control go through go4vl.
//
// V4L2 reports no white balance state, so a request running with auto
// white balance reports searching for the first Options.SettleFrames
// frames and converged afterwards. Locking turns the auto white balance
// control off; the result carries no color state.
package gstcam
