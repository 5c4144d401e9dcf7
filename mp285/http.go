package mp285

import (
	"encoding/json"
	"errors"
	"go/types"
	"net/http"

	"github.com/photonbench/sutter/generichttp"
	"github.com/photonbench/sutter/generichttp/motion"
)

// HTTPWrapper wraps an MP285 in an HTTP interface
type HTTPWrapper struct {
	// MP285 is the wrapped controller
	*MP285

	// RouteTable maps the endpoints to their handlers
	RouteTable generichttp.RouteTable
}

// NewHTTPWrapper returns a newly initialized HTTP wrapper around the
// controller, exposing both whole-stage and per-axis endpoints
func NewHTTPWrapper(m *MP285) HTTPWrapper {
	w := HTTPWrapper{MP285: m}
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/position"}:  w.GetPosition,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/position"}: w.SetPosition,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/status"}:    w.GetStatus,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/velocity"}:  w.GetVelocity,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/velocity"}: w.SetVelocity,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/move-elapsed"}: generichttp.GetFloat(func() (float64, error) {
			return m.LastMoveDuration().Seconds(), nil
		}),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/origin"}:   action(m.SetOrigin),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/panel"}:    action(m.UpdatePanel),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/reset"}:    action(m.Reset),
	}
	axes := NewAxes(m)
	motion.HTTPMove(axes, rt)
	motion.HTTPSpeed(axes, rt)
	w.RouteTable = rt
	return w
}

// RT satisfies generichttp.HTTPer
func (h HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}

// action wraps a nullary device command in an HTTP handler
func action(fcn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fcn(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetPosition responds with the stage position as JSON, {"x": ..., "y":
// ..., "z": ...} in micrometers
func (h HTTPWrapper) GetPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := h.MP285.GetPosition()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(pos); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// SetPosition parses a JSON position in micrometers, moves the stage
// there, and responds with the elapsed move time in seconds
func (h HTTPWrapper) SetPosition(w http.ResponseWriter, r *http.Request) {
	var pos Position
	err := json.NewDecoder(r.Body).Decode(&pos)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	elapsed, err := h.MP285.GotoPosition(pos)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	hp := generichttp.HumanPayload{T: types.Float64, Float: elapsed.Seconds()}
	hp.EncodeAndRespond(w, r)
}

// GetStatus responds with the decoded controller status as JSON
func (h HTTPWrapper) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.MP285.GetStatus()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// GetVelocity responds with the configured velocity in microsteps per
// second as JSON, {"int": value}
func (h HTTPWrapper) GetVelocity(w http.ResponseWriter, r *http.Request) {
	generichttp.GetInt(func() (int, error) {
		status, err := h.MP285.GetStatus()
		if err != nil {
			return 0, err
		}
		return int(status.Velocity), nil
	})(w, r)
}

// velocityT is the JSON shim for a velocity command
type velocityT struct {
	Velocity   int `json:"velocity"`
	Resolution int `json:"resolution"`
}

// SetVelocity parses a JSON body {"velocity": v, "resolution": r} and
// configures the controller with it.  Resolution may be omitted, in which
// case the current resolution is preserved.
func (h HTTPWrapper) SetVelocity(w http.ResponseWriter, r *http.Request) {
	v := velocityT{}
	err := json.NewDecoder(r.Body).Decode(&v)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if v.Resolution == 0 {
		status, err := h.MP285.GetStatus()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		v.Resolution = int(status.Resolution)
	}
	err = h.MP285.SetVelocity(v.Velocity, v.Resolution)
	if err != nil {
		var ve *ValidationError
		code := http.StatusInternalServerError
		if errors.As(err, &ve) {
			code = http.StatusBadRequest
		}
		http.Error(w, err.Error(), code)
		return
	}
	w.WriteHeader(http.StatusOK)
}
