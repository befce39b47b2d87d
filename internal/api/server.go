// Package api exposes the bridge over a JSON HTTP surface: vehicle
// discovery, state snapshots, transform parameter updates, command sends,
// simulator freeze control, and recorded telemetry.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/laminar-data/fgbridge/internal/bridge"
	"github.com/laminar-data/fgbridge/internal/db"
	"github.com/laminar-data/fgbridge/internal/httputil"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// SimControl is the slice of the telnet client the API needs for freeze
// control. Nil means the vehicle has no props connection.
type SimControl interface {
	Pause() error
	Resume() error
	Reset() error
}

// Server routes HTTP requests to the bridge endpoints.
type Server struct {
	endpoints map[string]*bridge.Endpoint
	sims      map[string]SimControl
	db        *db.DB
}

// NewServer builds a server over the given endpoints. db may be nil when
// telemetry recording is disabled; sims may be nil or sparse.
func NewServer(endpoints map[string]*bridge.Endpoint, sims map[string]SimControl, database *db.DB) *Server {
	if sims == nil {
		sims = map[string]SimControl{}
	}
	return &Server{endpoints: endpoints, sims: sims, db: database}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	default:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	}
}

// LoggingMiddleware logs method, path, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the API route table.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/vehicles", s.listVehicles)
	mux.HandleFunc("/api/state", s.showState)
	mux.HandleFunc("/api/parameters", s.showParameters)
	mux.HandleFunc("/api/setpoint", s.updateSetpoint)
	mux.HandleFunc("/api/scale", s.updateScale)
	mux.HandleFunc("/api/bias", s.updateBias)
	mux.HandleFunc("/api/send", s.sendCommand)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/sim", s.simControl)
	mux.HandleFunc("/api/recent_states", s.listRecentStates)
	mux.HandleFunc("/api/recent_commands", s.listRecentCommands)
	return mux
}

// lookup resolves the vehicle query parameter, or the only endpoint when the
// parameter is omitted and exactly one vehicle is configured.
func (s *Server) lookup(w http.ResponseWriter, name string) *bridge.Endpoint {
	if name == "" && len(s.endpoints) == 1 {
		for _, ep := range s.endpoints {
			return ep
		}
	}
	ep, ok := s.endpoints[name]
	if !ok {
		httputil.NotFound(w, fmt.Sprintf("unknown vehicle %q", name))
		return nil
	}
	return ep
}

type vehicleInfo struct {
	Name       string   `json:"name"`
	Fields     []string `json:"fields"`
	LocalAddr  string   `json:"local_addr"`
	RemoteAddr string   `json:"remote_addr"`
	Running    bool     `json:"running"`
	Connected  bool     `json:"connected"`
	SimControl bool     `json:"sim_control"`
}

func (s *Server) listVehicles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	vehicles := make([]vehicleInfo, 0, len(s.endpoints))
	for name, ep := range s.endpoints {
		vehicles = append(vehicles, vehicleInfo{
			Name:       name,
			Fields:     ep.Registry().Names(),
			LocalAddr:  ep.LocalAddr().String(),
			RemoteAddr: ep.RemoteAddr().String(),
			Running:    ep.Running(),
			Connected:  ep.Connected(),
			SimControl: s.sims[name] != nil,
		})
	}
	httputil.WriteJSONOK(w, vehicles)
}

func (s *Server) showState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	ep := s.lookup(w, r.URL.Query().Get("vehicle"))
	if ep == nil {
		return
	}

	values := ep.State()
	if raw := r.URL.Query().Get("indices"); raw != "" {
		indices := make([]int, 0, 4)
		for _, tok := range strings.Split(raw, ",") {
			i, err := strconv.Atoi(strings.TrimSpace(tok))
			if err != nil {
				httputil.BadRequest(w, fmt.Sprintf("invalid index %q", tok))
				return
			}
			indices = append(indices, i)
		}
		selected, err := ep.GetState(indices)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		values = selected
	}

	httputil.WriteJSONOK(w, map[string]interface{}{
		"vehicle":   ep.Name(),
		"connected": ep.Connected(),
		"values":    values,
	})
}

func (s *Server) showParameters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	ep := s.lookup(w, r.URL.Query().Get("vehicle"))
	if ep == nil {
		return
	}

	setpoint, scale, bias := ep.Parameters()
	httputil.WriteJSONOK(w, map[string]interface{}{
		"vehicle":  ep.Name(),
		"fields":   ep.Registry().Names(),
		"setpoint": setpoint,
		"scale":    scale,
		"bias":     bias,
	})
}

type fieldUpdate struct {
	Vehicle string  `json:"vehicle"`
	Field   string  `json:"field"`
	Value   float64 `json:"value"`

	// Send forwards the rebuilt command packet after the update.
	Send bool `json:"send,omitempty"`
}

func (s *Server) updateSetpoint(w http.ResponseWriter, r *http.Request) {
	s.applyUpdate(w, r, (*bridge.Endpoint).UpdateSetpoint)
}

func (s *Server) updateScale(w http.ResponseWriter, r *http.Request) {
	s.applyUpdate(w, r, (*bridge.Endpoint).UpdateScale)
}

func (s *Server) updateBias(w http.ResponseWriter, r *http.Request) {
	s.applyUpdate(w, r, (*bridge.Endpoint).UpdateBias)
}

func (s *Server) applyUpdate(w http.ResponseWriter, r *http.Request, apply func(*bridge.Endpoint, string, float64) error) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req fieldUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	ep := s.lookup(w, req.Vehicle)
	if ep == nil {
		return
	}

	if err := apply(ep, req.Field, req.Value); err != nil {
		if errors.Is(err, bridge.ErrUnknownField) {
			httputil.BadRequest(w, err.Error())
		} else {
			httputil.InternalServerError(w, err.Error())
		}
		return
	}

	if req.Send {
		if err := ep.SendCommand(); err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("update applied but send failed: %v", err))
			return
		}
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "ok"})
}

func (s *Server) sendCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	ep := s.lookup(w, r.FormValue("vehicle"))
	if ep == nil {
		return
	}

	if err := ep.SendCommand(); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to send command: %v", err))
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "sent"})
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	ep := s.lookup(w, r.URL.Query().Get("vehicle"))
	if ep == nil {
		return
	}
	httputil.WriteJSONOK(w, ep.Stats())
}

type simRequest struct {
	Vehicle string `json:"vehicle"`
	Action  string `json:"action"`
}

func (s *Server) simControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req simRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	ep := s.lookup(w, req.Vehicle)
	if ep == nil {
		return
	}

	sim := s.sims[ep.Name()]
	if sim == nil {
		httputil.BadRequest(w, fmt.Sprintf("vehicle %q has no simulator control connection", ep.Name()))
		return
	}

	var err error
	switch req.Action {
	case "pause":
		err = sim.Pause()
	case "resume":
		err = sim.Resume()
	case "reset":
		err = sim.Reset()
	default:
		httputil.BadRequest(w, fmt.Sprintf("unknown action %q: expected pause, resume, or reset", req.Action))
		return
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("simulator %s failed: %v", req.Action, err))
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": req.Action})
}

func (s *Server) listRecentStates(w http.ResponseWriter, r *http.Request) {
	s.listRecorded(w, r, func(vehicle string, limit int) (interface{}, error) {
		return s.db.RecentStates(vehicle, limit)
	})
}

func (s *Server) listRecentCommands(w http.ResponseWriter, r *http.Request) {
	s.listRecorded(w, r, func(vehicle string, limit int) (interface{}, error) {
		return s.db.RecentCommands(vehicle, limit)
	})
}

func (s *Server) listRecorded(w http.ResponseWriter, r *http.Request, query func(string, int) (interface{}, error)) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.db == nil {
		httputil.NotFound(w, "telemetry recording is disabled")
		return
	}
	ep := s.lookup(w, r.URL.Query().Get("vehicle"))
	if ep == nil {
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	rows, err := query(ep.Name(), limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to query telemetry: %v", err))
		return
	}
	httputil.WriteJSONOK(w, rows)
}
