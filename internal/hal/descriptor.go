package hal

import (
	"errors"
	"fmt"
)

// Variant tags a descriptor as the initial automatic request or the
// request derived from a converged white-balance result.
type Variant int

const (
	VariantAuto Variant = iota
	VariantLocked
)

func (v Variant) String() string {
	switch v {
	case VariantAuto:
		return "auto"
	case VariantLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// Descriptor is an immutable capture request parameter set. Build one with
// AutoDescriptor or LockedDescriptor.
type Descriptor struct {
	variant     Variant
	controlMode ControlMode
	aeMode      AEMode
	afMode      AFMode
	awbMode     AWBMode
	color       ColorCorrection
	hasColor    bool
}

// ErrNoColorState is returned when a locked descriptor is requested from a
// result that carries no color correction state.
var ErrNoColorState = errors.New("hal: result carries no color correction state")

// AutoDescriptor returns the initial request: automatic control, exposure
// and focus, with the given white-balance mode.
func AutoDescriptor(awb AWBMode) Descriptor {
	return Descriptor{
		variant:     VariantAuto,
		controlMode: ControlModeAuto,
		aeMode:      AEModeOn,
		afMode:      AFModeAuto,
		awbMode:     awb,
	}
}

// LockedDescriptor derives the locked request from base and the result
// that converged. White balance is turned off and the result's gains,
// transform and aberration mode are copied as-is.
//
// A result without color state yields ErrNoColorState unless allowBare is
// set, in which case the descriptor only disables white balance and the
// device keeps the gains it settled on.
func LockedDescriptor(base Descriptor, res CaptureResult, allowBare bool) (Descriptor, error) {
	if base.variant != VariantAuto {
		return Descriptor{}, fmt.Errorf("hal: locked descriptor needs an auto base, got %s", base.variant)
	}

	d := base
	d.variant = VariantLocked
	d.awbMode = AWBModeOff

	if res.Color == nil {
		if !allowBare {
			return Descriptor{}, ErrNoColorState
		}
		return d, nil
	}

	d.color = *res.Color
	d.hasColor = true
	return d, nil
}

func (d Descriptor) Variant() Variant         { return d.variant }
func (d Descriptor) ControlMode() ControlMode { return d.controlMode }
func (d Descriptor) AEMode() AEMode           { return d.aeMode }
func (d Descriptor) AFMode() AFMode           { return d.afMode }
func (d Descriptor) AWBMode() AWBMode         { return d.awbMode }

// Color returns the explicit color correction and whether one is set.
func (d Descriptor) Color() (ColorCorrection, bool) { return d.color, d.hasColor }

// String renders the descriptor for logs.
func (d Descriptor) String() string {
	if d.hasColor {
		return fmt.Sprintf("%s{awb=%s gains=%v aberration=%d}", d.variant, d.awbMode, d.color.Gains, d.color.AberrationMode)
	}
	return fmt.Sprintf("%s{awb=%s}", d.variant, d.awbMode)
}
