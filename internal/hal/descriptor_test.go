package hal

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func convergedResult() CaptureResult {
	return CaptureResult{
		FrameNumber: 37,
		AWBMode:     AWBModeCloudyDaylight,
		AWBState:    AWBStateConverged,
		Color: &ColorCorrection{
			Gains: [4]float32{1.9, 1.0, 1.0, 1.6},
			Transform: [9]Rational{
				{128, 128}, {0, 128}, {0, 128},
				{0, 128}, {128, 128}, {0, 128},
				{0, 128}, {0, 128}, {128, 128},
			},
			AberrationMode: AberrationFast,
		},
	}
}

func TestAutoDescriptor(t *testing.T) {
	d := AutoDescriptor(AWBModeCloudyDaylight)

	if d.Variant() != VariantAuto {
		t.Errorf("Variant() = %s", d.Variant())
	}
	if d.ControlMode() != ControlModeAuto || d.AEMode() != AEModeOn || d.AFMode() != AFModeAuto {
		t.Errorf("unexpected 3A modes: %v", d)
	}
	if d.AWBMode() != AWBModeCloudyDaylight {
		t.Errorf("AWBMode() = %s", d.AWBMode())
	}
	if _, ok := d.Color(); ok {
		t.Error("auto descriptor must not carry color correction")
	}
}

func TestLockedDescriptor_CopiesColorVerbatim(t *testing.T) {
	base := AutoDescriptor(AWBModeCloudyDaylight)
	res := convergedResult()

	d, err := LockedDescriptor(base, res, false)
	if err != nil {
		t.Fatalf("LockedDescriptor() error = %v", err)
	}

	got, ok := d.Color()
	if !ok {
		t.Fatal("locked descriptor has no color")
	}
	if diff := cmp.Diff(*res.Color, got); diff != "" {
		t.Errorf("color mismatch (-result +descriptor):\n%s", diff)
	}
	if d.AWBMode() != AWBModeOff || d.Variant() != VariantLocked {
		t.Errorf("locked descriptor = %v", d)
	}
	if d.AEMode() != base.AEMode() || d.AFMode() != base.AFMode() {
		t.Error("locked descriptor must keep exposure and focus modes")
	}

	// Mutating the result afterwards must not leak into the descriptor.
	res.Color.Gains[0] = 9
	if again, _ := d.Color(); again.Gains[0] == 9 {
		t.Error("descriptor aliases result storage")
	}
}

func TestLockedDescriptor_Errors(t *testing.T) {
	base := AutoDescriptor(AWBModeAuto)
	bare := CaptureResult{AWBState: AWBStateConverged}

	if _, err := LockedDescriptor(base, bare, false); !errors.Is(err, ErrNoColorState) {
		t.Errorf("bare result error = %v, want ErrNoColorState", err)
	}

	d, err := LockedDescriptor(base, bare, true)
	if err != nil {
		t.Fatalf("allowBare error = %v", err)
	}
	if _, ok := d.Color(); ok || d.AWBMode() != AWBModeOff {
		t.Errorf("bare locked descriptor = %v", d)
	}

	locked, _ := LockedDescriptor(base, convergedResult(), false)
	if _, err := LockedDescriptor(locked, convergedResult(), false); err == nil {
		t.Error("deriving from a locked descriptor should fail")
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, f := range []Facing{FacingBack, FacingFront, FacingExternal} {
		got, err := ParseFacing(f.String())
		if err != nil || got != f {
			t.Errorf("ParseFacing(%q) = %v, %v", f.String(), got, err)
		}
	}
	for m := range awbModeNames {
		got, err := ParseAWBMode(m.String())
		if err != nil || got != m {
			t.Errorf("ParseAWBMode(%q) = %v, %v", m.String(), got, err)
		}
	}
	if _, err := ParseAWBMode("sepia"); err == nil {
		t.Error("ParseAWBMode accepted an unknown mode")
	}
}
