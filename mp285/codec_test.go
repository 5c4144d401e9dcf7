package mp285

import (
	"errors"
	"math"
	"testing"
)

func TestEncodeMoveLayout(t *testing.T) {
	frame := EncodeMove([3]int32{1, -1, 258})
	if len(frame) != 13 {
		t.Fatalf("expected 13 byte frame, got %d", len(frame))
	}
	if frame[0] != 'm' {
		t.Errorf("expected opcode m, got %q", frame[0])
	}
	expected := []byte{
		1, 0, 0, 0,
		255, 255, 255, 255,
		2, 1, 0, 0,
	}
	for i, b := range expected {
		if frame[1+i] != b {
			t.Errorf("payload byte %d: expected %d, got %d", i, b, frame[1+i])
		}
	}
}

func TestVelocityWordRoundTrip(t *testing.T) {
	velocities := []int{0, 1, 199, 200, 6000, 32767}
	resolutions := []int{ResolutionCoarse, ResolutionFine}
	for _, v := range velocities {
		for _, res := range resolutions {
			frame, err := EncodeVelocity(v, res)
			if err != nil {
				t.Fatalf("EncodeVelocity(%d, %d): %v", v, res, err)
			}
			if frame[0] != 'V' {
				t.Errorf("expected opcode V, got %q", frame[0])
			}
			word := dataOrder.Uint16(frame[1:])
			gotV, gotRes := splitVelocityWord(word)
			if gotV != v || gotRes != res {
				t.Errorf("round trip of (%d, %d) came back (%d, %d)", v, res, gotV, gotRes)
			}
		}
	}
}

func TestEncodeVelocityRejectsBadInputs(t *testing.T) {
	cases := []struct {
		velocity, resolution int
	}{
		{32768, ResolutionCoarse},
		{-1, ResolutionCoarse},
		{200, 25},
		{200, 0},
	}
	for _, tc := range cases {
		_, err := EncodeVelocity(tc.velocity, tc.resolution)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("EncodeVelocity(%d, %d): expected ValidationError, got %v", tc.velocity, tc.resolution, err)
		}
	}
}

func TestPositionRoundTrip(t *testing.T) {
	const mult = 25
	positions := []Position{
		{},
		{X: 100, Y: -50.5, Z: 0.04},
		{X: 12345.678, Y: 0.02, Z: -9999.99},
	}
	for _, p := range positions {
		steps := stepsFromMicrons(p, mult)
		raw := make([]byte, positionLen+1)
		for i, s := range steps {
			dataOrder.PutUint32(raw[4*i:], uint32(s))
		}
		raw[positionLen] = Terminator
		got, err := DecodePosition(raw, mult)
		if err != nil {
			t.Fatalf("DecodePosition: %v", err)
		}
		// rounding to whole steps bounds the error at one step per axis
		tol := 1.0 / mult
		if math.Abs(got.X-p.X) > tol || math.Abs(got.Y-p.Y) > tol || math.Abs(got.Z-p.Z) > tol {
			t.Errorf("round trip of %+v came back %+v", p, got)
		}
	}
}

func TestDecodePositionMalformed(t *testing.T) {
	_, err := DecodePosition(make([]byte, 10), 25)
	var mr *MalformedResponseError
	if !errors.As(err, &mr) {
		t.Fatalf("expected MalformedResponseError for short input, got %v", err)
	}
	if mr.BadTerminator {
		t.Error("short input should report a length problem, not a terminator problem")
	}

	raw := make([]byte, positionLen+1)
	raw[positionLen] = 'x'
	_, err = DecodePosition(raw, 25)
	if !errors.As(err, &mr) {
		t.Fatalf("expected MalformedResponseError for bad terminator, got %v", err)
	}
	if !mr.BadTerminator {
		t.Error("expected BadTerminator to be set")
	}
}

func TestDecodeStatus(t *testing.T) {
	raw := make([]byte, statusLen+1)
	dataOrder.PutUint16(raw[offStepMul:], 25)
	dataOrder.PutUint16(raw[offStepDiv:], 4)
	dataOrder.PutUint16(raw[offVelocity:], 200)
	dataOrder.PutUint16(raw[offFirmware:], 340)
	raw[statusLen] = Terminator

	s, err := DecodeStatus(raw)
	if err != nil {
		t.Fatalf("DecodeStatus: %v", err)
	}
	if s.StepMul != 25 {
		t.Errorf("expected step multiplier 25, got %d", s.StepMul)
	}
	if s.StepDiv != 4 {
		t.Errorf("expected step divisor 4, got %d", s.StepDiv)
	}
	if s.Velocity != 200 {
		t.Errorf("expected velocity 200, got %d", s.Velocity)
	}
	if s.Resolution != ResolutionCoarse {
		t.Errorf("expected coarse resolution, got %d", s.Resolution)
	}
	if s.Firmware != 340 {
		t.Errorf("expected firmware 340, got %d", s.Firmware)
	}
}

// TestDecodeStatusManualVector decodes a status block captured from a real
// controller (firmware 3.40); the values at the documented offsets must come
// out exactly
func TestDecodeStatusManualVector(t *testing.T) {
	raw := []byte{
		64, 0, 2, 4, 7, 0, 99, 0,
		136, 19, 1, 120, 112, 23, 16, 39,
		80, 0, 4, 0, 200, 0, 136, 19,
		25, 0, 4, 0, 200, 0, 84, 1,
		'\r',
	}
	s, err := DecodeStatus(raw)
	if err != nil {
		t.Fatalf("DecodeStatus: %v", err)
	}
	if s.StepMul != 25 {
		t.Errorf("expected step multiplier 25, got %d", s.StepMul)
	}
	if s.Velocity != 200 {
		t.Errorf("expected velocity 200, got %d", s.Velocity)
	}
	if s.Resolution != ResolutionCoarse {
		t.Errorf("expected coarse resolution, got %d", s.Resolution)
	}
	if s.Firmware != 340 {
		t.Errorf("expected firmware 340, got %d", s.Firmware)
	}
	if s.Raw[0] != 64 || s.Raw[31] != 1 {
		t.Errorf("raw block not preserved, got %v", s.Raw)
	}
}

func TestDecodeStatusFineResolution(t *testing.T) {
	raw := make([]byte, statusLen+1)
	dataOrder.PutUint16(raw[offVelocity:], 6000|resolutionFlag)
	raw[statusLen] = Terminator

	s, err := DecodeStatus(raw)
	if err != nil {
		t.Fatalf("DecodeStatus: %v", err)
	}
	if s.Velocity != 6000 {
		t.Errorf("expected velocity 6000, got %d", s.Velocity)
	}
	if s.Resolution != ResolutionFine {
		t.Errorf("expected fine resolution, got %d", s.Resolution)
	}
}

func TestDecodeStatusMalformed(t *testing.T) {
	var mr *MalformedResponseError
	_, err := DecodeStatus(make([]byte, statusLen))
	if !errors.As(err, &mr) {
		t.Errorf("expected MalformedResponseError for short input, got %v", err)
	}
	raw := make([]byte, statusLen+1)
	_, err = DecodeStatus(raw)
	if !errors.As(err, &mr) || !mr.BadTerminator {
		t.Errorf("expected terminator error, got %v", err)
	}
}

func TestDecodeAck(t *testing.T) {
	if err := decodeAck('o', []byte{Terminator}); err != nil {
		t.Errorf("expected clean ack, got %v", err)
	}
	var mr *MalformedResponseError
	if err := decodeAck('o', []byte{'x'}); !errors.As(err, &mr) {
		t.Errorf("expected MalformedResponseError, got %v", err)
	}
}
