package mp285

// the status report is a flat 32-byte block of 16-bit little-endian words at
// fixed offsets, per the MP-285 reference manual.  Only the words this
// driver interprets are named here; the rest are controller configuration
// carried in Raw.
const (
	offStepMul  = 24 // microsteps per micrometer
	offStepDiv  = 26 // microstep divisor
	offVelocity = 28 // 15-bit velocity, top bit is the resolution flag
	offFirmware = 30 // firmware version x100
)

// Status is the decoded form of the controller's status report
type Status struct {
	// Raw is the undecoded 32-byte block as it came off the wire
	Raw [32]byte `json:"-"`

	// StepMul is the scale factor between microsteps and micrometers,
	// in microsteps per micrometer
	StepMul uint16 `json:"stepMul"`

	// StepDiv is the microstep divisor configured on the controller
	StepDiv uint16 `json:"stepDiv"`

	// Velocity is the configured move velocity in microsteps per second
	Velocity uint16 `json:"velocity"`

	// Resolution is the microstep resolution, 10 or 50 microsteps per step
	Resolution uint16 `json:"resolution"`

	// Firmware is the controller firmware version scaled by 100,
	// e.g. 340 is v3.40
	Firmware uint16 `json:"firmware"`
}

// DecodeStatus decodes a status report (32 payload bytes plus the
// terminator)
func DecodeStatus(raw []byte) (Status, error) {
	if len(raw) != statusLen+1 {
		return Status{}, &MalformedResponseError{Op: opGetStatus, Expected: statusLen + 1, Got: len(raw)}
	}
	if raw[statusLen] != Terminator {
		return Status{}, &MalformedResponseError{Op: opGetStatus, Expected: statusLen + 1, Got: len(raw), BadTerminator: true}
	}
	var s Status
	copy(s.Raw[:], raw[:statusLen])
	s.StepMul = dataOrder.Uint16(raw[offStepMul:])
	s.StepDiv = dataOrder.Uint16(raw[offStepDiv:])
	vel, res := splitVelocityWord(dataOrder.Uint16(raw[offVelocity:]))
	s.Velocity = uint16(vel)
	s.Resolution = uint16(res)
	s.Firmware = dataOrder.Uint16(raw[offFirmware:])
	return s, nil
}
