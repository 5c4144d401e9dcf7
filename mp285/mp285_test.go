package mp285

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/photonbench/sutter/comm"
)

func newMockSession() (*MP285, *MockMP285) {
	mock := NewMockMP285()
	pool := comm.NewPool(1, time.Minute, func() (io.ReadWriteCloser, error) { return mock, nil })
	return &MP285{pool: pool, MoveTimeout: DefaultMoveTimeout}, mock
}

func TestConnectLearnsConfiguration(t *testing.T) {
	m, _ := newMockSession()
	defer m.Close()
	if err := m.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := m.StepMultiplier(); got != 25 {
		t.Errorf("expected step multiplier 25 after connect, got %d", got)
	}
	status, err := m.GetStatus()
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.Velocity != startupVelocity {
		t.Errorf("expected startup velocity %d, got %d", startupVelocity, status.Velocity)
	}
	if status.Resolution != ResolutionCoarse {
		t.Errorf("expected coarse resolution after connect, got %d", status.Resolution)
	}
}

func TestGotoPositionCompletes(t *testing.T) {
	m, mock := newMockSession()
	defer m.Close()
	mock.MoveDelay = 10 * time.Millisecond

	target := Position{X: 100, Y: -50, Z: 0.04}
	elapsed, err := m.GotoPosition(target)
	if err != nil {
		t.Fatalf("GotoPosition: %v", err)
	}
	if elapsed < 10*time.Millisecond || elapsed > time.Second {
		t.Errorf("elapsed %v outside the plausible window for a 10ms move", elapsed)
	}
	want := stepsFromMicrons(target, 25)
	if got := mock.Position(); got != want {
		t.Errorf("stage at %v, expected %v", got, want)
	}
	if m.LastMoveDuration() != elapsed {
		t.Errorf("LastMoveDuration %v does not match the returned elapsed %v", m.LastMoveDuration(), elapsed)
	}
	pos, err := m.GetPosition()
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	tol := 1.0 / 25
	if diff := pos.X - target.X; diff > tol || diff < -tol {
		t.Errorf("position readback X %v, expected %v", pos.X, target.X)
	}
}

func TestGotoPositionTimeout(t *testing.T) {
	m, mock := newMockSession()
	defer m.Close()
	m.MoveTimeout = 100 * time.Millisecond
	mock.DropMoveAck = true

	target := Position{X: 5}
	elapsed, err := m.GotoPosition(target)
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if te.Target == nil || te.Target.X != target.X {
		t.Errorf("expected the commanded position on the error, got %+v", te.Target)
	}
	if elapsed < 100*time.Millisecond || elapsed > time.Second {
		t.Errorf("elapsed %v should be close to the 100ms deadline", elapsed)
	}

	// the session must survive the timeout
	mock.DropMoveAck = false
	if _, err := m.GetPosition(); err != nil {
		t.Errorf("session unusable after a move timeout: %v", err)
	}
}

func TestSetVelocityReflectedInStatus(t *testing.T) {
	m, _ := newMockSession()
	defer m.Close()
	if err := m.SetVelocity(6000, ResolutionFine); err != nil {
		t.Fatalf("SetVelocity: %v", err)
	}
	status, err := m.GetStatus()
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.Velocity != 6000 {
		t.Errorf("expected velocity 6000, got %d", status.Velocity)
	}
	if status.Resolution != ResolutionFine {
		t.Errorf("expected fine resolution, got %d", status.Resolution)
	}
}

func TestSetVelocityValidatesBeforeIO(t *testing.T) {
	m, mock := newMockSession()
	defer m.Close()
	err := m.SetVelocity(40000, ResolutionCoarse)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if mock.Writes != 0 {
		t.Errorf("invalid velocity reached the wire, %d frames sent", mock.Writes)
	}
}

func TestTruncatedPositionIsMalformed(t *testing.T) {
	m, mock := newMockSession()
	defer m.Close()
	if _, err := m.GetStatus(); err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	mock.TruncatePosition = true
	_, err := m.GetPosition()
	var mr *MalformedResponseError
	if !errors.As(err, &mr) {
		t.Fatalf("expected MalformedResponseError, got %v", err)
	}
	if got := m.StepMultiplier(); got != 25 {
		t.Errorf("cached step multiplier disturbed by a bad read, got %d", got)
	}
	mock.TruncatePosition = false
	if _, err := m.GetPosition(); err != nil {
		t.Errorf("session unusable after a malformed response: %v", err)
	}
}

func TestSetOriginZeroesPosition(t *testing.T) {
	m, mock := newMockSession()
	defer m.Close()
	if _, err := m.GotoPosition(Position{X: 10, Y: 10, Z: 10}); err != nil {
		t.Fatalf("GotoPosition: %v", err)
	}
	if err := m.SetOrigin(); err != nil {
		t.Fatalf("SetOrigin: %v", err)
	}
	if got := mock.Position(); got != ([3]int32{}) {
		t.Errorf("expected origin at zero, stage at %v", got)
	}
	pos, err := m.GetPosition()
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if pos != (Position{}) {
		t.Errorf("expected zero position after origin, got %+v", pos)
	}
}

func TestResetIsWriteOnly(t *testing.T) {
	m, mock := newMockSession()
	defer m.Close()
	if err := m.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if mock.Writes != 1 {
		t.Errorf("expected one frame on the wire, got %d", mock.Writes)
	}
	// the link must be usable without waiting for a reply that never comes
	if _, err := m.GetStatus(); err != nil {
		t.Errorf("session unusable after reset: %v", err)
	}
}

func TestClosedSessionRefusesIO(t *testing.T) {
	m, mock := newMockSession()
	if _, err := m.GetStatus(); err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	writes := mock.Writes
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := m.GetPosition(); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from GetPosition, got %v", err)
	}
	if err := m.SetOrigin(); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from SetOrigin, got %v", err)
	}
	if mock.Writes != writes {
		t.Errorf("closed session still performed I/O, %d frames", mock.Writes-writes)
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
}

func TestAxesSingleAxisMoves(t *testing.T) {
	m, _ := newMockSession()
	defer m.Close()
	axes := NewAxes(m)
	if _, err := m.GotoPosition(Position{X: 10, Y: 20, Z: 30}); err != nil {
		t.Fatalf("GotoPosition: %v", err)
	}
	if err := axes.MoveAbs("y", 50); err != nil {
		t.Fatalf("MoveAbs: %v", err)
	}
	pos, err := m.GetPosition()
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if pos.Y != 50 || pos.X != 10 || pos.Z != 30 {
		t.Errorf("single axis move disturbed other axes: %+v", pos)
	}
	if err := axes.MoveRel("x", -4); err != nil {
		t.Fatalf("MoveRel: %v", err)
	}
	got, err := axes.GetPos("X")
	if err != nil {
		t.Fatalf("GetPos: %v", err)
	}
	if got != 6 {
		t.Errorf("expected x at 6 after relative move, got %v", got)
	}
	err = axes.Home("w")
	var ua *UnknownAxisError
	if !errors.As(err, &ua) {
		t.Errorf("expected UnknownAxisError for axis w, got %v", err)
	}
}

func TestAxesVelocityPreservesResolution(t *testing.T) {
	m, _ := newMockSession()
	defer m.Close()
	if err := m.SetVelocity(1000, ResolutionFine); err != nil {
		t.Fatalf("SetVelocity: %v", err)
	}
	axes := NewAxes(m)
	if err := axes.SetVelocity("x", 2000); err != nil {
		t.Fatalf("axes SetVelocity: %v", err)
	}
	status, err := m.GetStatus()
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.Velocity != 2000 {
		t.Errorf("expected velocity 2000, got %d", status.Velocity)
	}
	if status.Resolution != ResolutionFine {
		t.Errorf("resolution not preserved across velocity change, got %d", status.Resolution)
	}
}
