package hal

import "fmt"

// Facing is the direction a camera lens points.
type Facing int

const (
	FacingBack Facing = iota
	FacingFront
	FacingExternal
)

// String returns the facing name used in config and logs.
func (f Facing) String() string {
	switch f {
	case FacingBack:
		return "back"
	case FacingFront:
		return "front"
	case FacingExternal:
		return "external"
	default:
		return "unknown"
	}
}

// ParseFacing parses the names produced by Facing.String.
func ParseFacing(s string) (Facing, error) {
	switch s {
	case "back", "rear":
		return FacingBack, nil
	case "front":
		return FacingFront, nil
	case "external":
		return FacingExternal, nil
	}
	return 0, fmt.Errorf("hal: unknown facing %q", s)
}

// StreamConfig is one supported output format of a device.
type StreamConfig struct {
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	FPS    int    `json:"fps,omitempty"`
}

// DeviceInfo describes an enumerated device.
//
// StreamConfigs is nil when the device exposes no usable configuration
// map; such devices are never selected.
type DeviceInfo struct {
	ID            string         `json:"id"`
	Name          string         `json:"name,omitempty"`
	Facing        Facing         `json:"facing"`
	StreamConfigs []StreamConfig `json:"stream_configs"`
	AWBModes      []AWBMode      `json:"awb_modes,omitempty"`
}

// SupportsAWBMode reports whether m is in the device's AWB mode list.
func (d DeviceInfo) SupportsAWBMode(m AWBMode) bool {
	for _, have := range d.AWBModes {
		if have == m {
			return true
		}
	}
	return false
}

// ControlMode selects how much of the 3A pipeline the device runs.
type ControlMode int

const (
	ControlModeOff ControlMode = iota
	ControlModeAuto
)

// AEMode is the auto-exposure mode.
type AEMode int

const (
	AEModeOff AEMode = iota
	AEModeOn
)

// AFMode is the auto-focus mode.
type AFMode int

const (
	AFModeOff AFMode = iota
	AFModeAuto
	AFModeContinuousVideo
)

// AWBMode is the auto-white-balance mode. AWBModeOff means the color
// correction fields of the request are applied as given.
type AWBMode int

const (
	AWBModeOff AWBMode = iota
	AWBModeAuto
	AWBModeIncandescent
	AWBModeFluorescent
	AWBModeDaylight
	AWBModeCloudyDaylight
)

var awbModeNames = map[AWBMode]string{
	AWBModeOff:            "off",
	AWBModeAuto:           "auto",
	AWBModeIncandescent:   "incandescent",
	AWBModeFluorescent:    "fluorescent",
	AWBModeDaylight:       "daylight",
	AWBModeCloudyDaylight: "cloudy_daylight",
}

func (m AWBMode) String() string {
	if s, ok := awbModeNames[m]; ok {
		return s
	}
	return "unknown"
}

// ParseAWBMode parses the names produced by AWBMode.String.
func ParseAWBMode(s string) (AWBMode, error) {
	for m, name := range awbModeNames {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("hal: unknown awb mode %q", s)
}

// AWBState is the white-balance state reported in a capture result.
type AWBState int

const (
	AWBStateInactive AWBState = iota
	AWBStateSearching
	AWBStateConverged
	AWBStateLocked
)

func (s AWBState) String() string {
	switch s {
	case AWBStateInactive:
		return "inactive"
	case AWBStateSearching:
		return "searching"
	case AWBStateConverged:
		return "converged"
	case AWBStateLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// Rational is a signed fraction used by color transforms.
type Rational struct {
	Num, Den int32
}

// AberrationMode is the chromatic aberration correction mode.
type AberrationMode int

const (
	AberrationOff AberrationMode = iota
	AberrationFast
	AberrationHighQuality
)

// ColorCorrection is the color state reported by a result and applied by a
// locked request. All fields are arrays so copies never alias.
type ColorCorrection struct {
	// Gains are R, G-even, G-odd, B.
	Gains          [4]float32
	Transform      [9]Rational
	AberrationMode AberrationMode
}

// CaptureResult is the metadata delivered for one completed capture.
type CaptureResult struct {
	FrameNumber uint64
	Timestamp   int64 // hardware timestamp, nanoseconds
	Variant     Variant
	AWBMode     AWBMode
	AWBState    AWBState
	// Color is nil when the source does not report color state.
	Color *ColorCorrection
}

// CaptureFailure describes a failed capture.
type CaptureFailure struct {
	FrameNumber uint64
	Reason      string
}
