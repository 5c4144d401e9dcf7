package mp285

import (
	"encoding/binary"
	"math"
)

// the MP-285 speaks a fixed binary command set over RS-232.  Each command is
// a single ASCII opcode, an optional little-endian payload, and a carriage
// return.  Responses are a fixed-length payload (possibly empty) followed by
// a carriage return; for motion commands the CR doubles as the completion
// signal, so its arrival time is meaningful.

const (
	// Terminator ends every request and response frame
	Terminator = byte('\r')

	opGetPosition = byte('c')
	opMove        = byte('m')
	opSetVelocity = byte('V')
	opSetOrigin   = byte('o')
	opReset       = byte('r')
	opGetStatus   = byte('s')
	opUpdatePanel = byte('n')

	// positionLen is the payload size of a position report, 3x int32
	positionLen = 12

	// statusLen is the payload size of a status report
	statusLen = 32

	// maxVelocity is the first invalid velocity; the velocity word only has
	// 15 bits, the top bit carries the microstep resolution flag
	maxVelocity = 1 << 15

	// resolutionFlag is the bit of the velocity word selecting fine stepping
	resolutionFlag = uint16(1) << 15

	// ResolutionCoarse and ResolutionFine are the two microstep
	// resolutions, in microsteps per step
	ResolutionCoarse = 10
	ResolutionFine   = 50
)

var dataOrder = binary.LittleEndian

// Position is an absolute stage position in micrometers
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// stepsFromMicrons converts a position to hardware microsteps using the
// controller's steps-per-micrometer multiplier.  Rounding bounds the
// round-trip error at one step per axis.
func stepsFromMicrons(p Position, mult uint16) [3]int32 {
	m := float64(mult)
	return [3]int32{
		int32(math.Round(p.X * m)),
		int32(math.Round(p.Y * m)),
		int32(math.Round(p.Z * m)),
	}
}

// micronsFromSteps converts hardware microsteps to micrometers
func micronsFromSteps(s [3]int32, mult uint16) Position {
	m := float64(mult)
	return Position{
		X: float64(s[0]) / m,
		Y: float64(s[1]) / m,
		Z: float64(s[2]) / m,
	}
}

// EncodeMove produces the wire bytes of an absolute move command, less the
// terminator
func EncodeMove(steps [3]int32) []byte {
	buf := make([]byte, 1+positionLen)
	buf[0] = opMove
	for i, v := range steps {
		dataOrder.PutUint32(buf[1+4*i:], uint32(v))
	}
	return buf
}

// EncodeVelocity produces the wire bytes of a set-velocity command, less the
// terminator.  velocity is in microsteps per second and must fit in 15
// bits; resolution selects 10 or 50 microsteps per step and rides in the
// top bit of the word.
func EncodeVelocity(velocity, resolution int) ([]byte, error) {
	if velocity < 0 || velocity >= maxVelocity {
		return nil, &ValidationError{Param: "velocity", Value: velocity, Constraint: "must be in [0, 32768)"}
	}
	word := uint16(velocity)
	switch resolution {
	case ResolutionCoarse:
	case ResolutionFine:
		word |= resolutionFlag
	default:
		return nil, &ValidationError{Param: "resolution", Value: resolution, Constraint: "must be 10 or 50"}
	}
	buf := make([]byte, 3)
	buf[0] = opSetVelocity
	dataOrder.PutUint16(buf[1:], word)
	return buf, nil
}

// splitVelocityWord splits a velocity word into the velocity and resolution
func splitVelocityWord(w uint16) (velocity, resolution int) {
	velocity = int(w &^ resolutionFlag)
	resolution = ResolutionCoarse
	if w&resolutionFlag != 0 {
		resolution = ResolutionFine
	}
	return velocity, resolution
}

// DecodePosition decodes a position report (12 payload bytes plus the
// terminator) into micrometers
func DecodePosition(raw []byte, mult uint16) (Position, error) {
	if len(raw) != positionLen+1 {
		return Position{}, &MalformedResponseError{Op: opGetPosition, Expected: positionLen + 1, Got: len(raw)}
	}
	if raw[positionLen] != Terminator {
		return Position{}, &MalformedResponseError{Op: opGetPosition, Expected: positionLen + 1, Got: len(raw), BadTerminator: true}
	}
	var steps [3]int32
	for i := range steps {
		steps[i] = int32(dataOrder.Uint32(raw[4*i:]))
	}
	return micronsFromSteps(steps, mult), nil
}

// decodeAck validates the response to a command which only echoes the
// terminator
func decodeAck(op byte, raw []byte) error {
	if len(raw) != 1 || raw[0] != Terminator {
		return &MalformedResponseError{Op: op, Expected: 1, Got: len(raw), BadTerminator: true}
	}
	return nil
}
