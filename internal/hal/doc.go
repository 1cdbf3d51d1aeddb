// Package hal defines the hardware capture source contract: device
// enumeration, asynchronous open and session configuration, repeating
// capture requests, and the metadata each completed capture reports.
//
// Implementations live in subpackages: simcam is a scriptable in-process
// camera, gstcam drives a V4L2 device through GStreamer.
package hal
