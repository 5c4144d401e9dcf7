package mp285

import "strings"

// Axes adapts the controller to the per-axis motion interfaces.  The
// MP-285 only moves all three axes with one command, so single-axis moves
// read the current position and rewrite one field of it.
type Axes struct {
	dev *MP285
}

// NewAxes returns an Axes wrapping the controller
func NewAxes(dev *MP285) Axes {
	return Axes{dev: dev}
}

func pick(p Position, axis string) (float64, error) {
	switch strings.ToLower(axis) {
	case "x":
		return p.X, nil
	case "y":
		return p.Y, nil
	case "z":
		return p.Z, nil
	}
	return 0, &UnknownAxisError{Axis: axis}
}

func assign(p *Position, axis string, v float64) error {
	switch strings.ToLower(axis) {
	case "x":
		p.X = v
	case "y":
		p.Y = v
	case "z":
		p.Z = v
	default:
		return &UnknownAxisError{Axis: axis}
	}
	return nil
}

// GetPos returns the position of one axis in micrometers
func (a Axes) GetPos(axis string) (float64, error) {
	pos, err := a.dev.GetPosition()
	if err != nil {
		return 0, err
	}
	return pick(pos, axis)
}

// MoveAbs moves one axis to an absolute position in micrometers, leaving
// the others where they are
func (a Axes) MoveAbs(axis string, pos float64) error {
	cur, err := a.dev.GetPosition()
	if err != nil {
		return err
	}
	if err := assign(&cur, axis, pos); err != nil {
		return err
	}
	_, err = a.dev.GotoPosition(cur)
	return err
}

// MoveRel moves one axis by a relative amount in micrometers
func (a Axes) MoveRel(axis string, delta float64) error {
	cur, err := a.dev.GetPosition()
	if err != nil {
		return err
	}
	v, err := pick(cur, axis)
	if err != nil {
		return err
	}
	if err := assign(&cur, axis, v+delta); err != nil {
		return err
	}
	_, err = a.dev.GotoPosition(cur)
	return err
}

// Home moves one axis to the origin
func (a Axes) Home(axis string) error {
	return a.MoveAbs(axis, 0)
}

// SetVelocity sets the move velocity in microsteps per second.  Velocity
// on the MP-285 is global; the axis argument only satisfies the interface.
// The current microstep resolution is preserved.
func (a Axes) SetVelocity(axis string, v float64) error {
	if _, err := pick(Position{}, axis); err != nil {
		return err
	}
	status, err := a.dev.GetStatus()
	if err != nil {
		return err
	}
	return a.dev.SetVelocity(int(v), int(status.Resolution))
}

// GetVelocity returns the move velocity in microsteps per second
func (a Axes) GetVelocity(axis string) (float64, error) {
	if _, err := pick(Position{}, axis); err != nil {
		return 0, err
	}
	status, err := a.dev.GetStatus()
	if err != nil {
		return 0, err
	}
	return float64(status.Velocity), nil
}
