package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/openvitals/vitalink/internal/bridge"
	"github.com/openvitals/vitalink/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, map[string]any{"status": "ok"})
}

// ----------------------------
// Device lifecycle routes
// ----------------------------

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, map[string]any{"state": s.manager.Snapshot()})
}

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	snap := s.manager.Snapshot()
	writeSuccess(w, map[string]any{"devices": snap.Devices})
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	dev, ok := s.manager.Device(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown device %q", id))
		return
	}
	writeSuccess(w, map[string]any{"device": dev})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.manager.Device(id); !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown device %q", id))
		return
	}
	if err := s.manager.Connect(id); err != nil {
		writeBridgeError(w, err)
		return
	}
	writeSuccess(w, map[string]any{"connecting": id})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, _ *http.Request) {
	if err := s.manager.Disconnect(); err != nil {
		writeBridgeError(w, err)
		return
	}
	writeSuccess(w, nil)
}

func (s *Server) handleScanStart(w http.ResponseWriter, _ *http.Request) {
	if err := s.manager.StartScan(); err != nil {
		writeBridgeError(w, err)
		return
	}
	writeSuccess(w, map[string]any{"scanning": true})
}

func (s *Server) handleScanStop(w http.ResponseWriter, _ *http.Request) {
	if err := s.manager.StopScan(); err != nil {
		writeBridgeError(w, err)
		return
	}
	writeSuccess(w, map[string]any{"scanning": false})
}

func (s *Server) handleMeasureStart(w http.ResponseWriter, r *http.Request) {
	var err error
	switch kind := r.PathValue("kind"); kind {
	case bridge.MeasureBP:
		err = s.manager.StartBPMeasurement()
	case bridge.MeasureECG:
		err = s.manager.StartECGMeasurement()
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unsupported measurement kind %q", kind))
		return
	}
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	writeSuccess(w, map[string]any{"measuring": true})
}

func (s *Server) handleMeasureStop(w http.ResponseWriter, _ *http.Request) {
	if err := s.manager.StopMeasurement(); err != nil {
		writeBridgeError(w, err)
		return
	}
	writeSuccess(w, map[string]any{"measuring": false})
}

// writeBridgeError maps manager/bridge failures onto the envelope: a
// missing session is a state conflict, everything else an internal error.
func writeBridgeError(w http.ResponseWriter, err error) {
	if errors.Is(err, bridge.ErrNoDeviceConnected) {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

// ----------------------------
// Reading routes
// ----------------------------

type createReadingRequest struct {
	DeviceID  string          `json:"device_id"`
	PatientID string          `json:"patient_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	TakenAt   time.Time       `json:"taken_at,omitempty"`
}

func (s *Server) handleCreateReading(w http.ResponseWriter, r *http.Request) {
	kind := r.PathValue("kind")
	if !store.IsValidKind(kind) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unsupported reading kind %q", kind))
		return
	}

	var req createReadingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("device_id is required"))
		return
	}
	if len(req.Payload) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("payload is required"))
		return
	}

	reading := &store.Reading{
		DeviceID:  req.DeviceID,
		PatientID: req.PatientID,
		Kind:      kind,
		Payload:   req.Payload,
		TakenAt:   req.TakenAt,
	}
	if err := s.store.SaveReading(r.Context(), reading); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, map[string]any{"reading": reading})
}

func (s *Server) handleListReadings(w http.ResponseWriter, r *http.Request) {
	kind := r.PathValue("kind")
	if !store.IsValidKind(kind) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unsupported reading kind %q", kind))
		return
	}

	filter := store.ListFilter{
		Kind:      kind,
		DeviceID:  r.URL.Query().Get("device_id"),
		PatientID: r.URL.Query().Get("patient_id"),
		Limit:     100,
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		filter.Limit = limit
	}

	readings, err := s.store.ListReadings(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if readings == nil {
		readings = []*store.Reading{}
	}
	writeSuccess(w, map[string]any{"readings": readings})
}

func (s *Server) handleGetReading(w http.ResponseWriter, r *http.Request) {
	kind := r.PathValue("kind")
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid reading id"))
		return
	}

	reading, err := s.store.GetReading(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && reading.Kind != kind) {
		writeError(w, http.StatusNotFound, fmt.Errorf("reading %d not found", id))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, map[string]any{"reading": reading})
}

func (s *Server) handleDeleteReading(w http.ResponseWriter, r *http.Request) {
	kind := r.PathValue("kind")
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid reading id"))
		return
	}

	reading, err := s.store.GetReading(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && reading.Kind != kind) {
		writeError(w, http.StatusNotFound, fmt.Errorf("reading %d not found", id))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.store.DeleteReading(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, nil)
}

// ----------------------------
// Patient routes
// ----------------------------

func (s *Server) handleCreatePatient(w http.ResponseWriter, r *http.Request) {
	var p store.Patient
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if p.ID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("id is required"))
		return
	}
	if err := s.store.CreatePatient(r.Context(), &p); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, map[string]any{"patient": p})
}

func (s *Server) handleListPatients(w http.ResponseWriter, r *http.Request) {
	patients, err := s.store.ListPatients(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if patients == nil {
		patients = []*store.Patient{}
	}
	writeSuccess(w, map[string]any{"patients": patients})
}

func (s *Server) handleGetPatient(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, err := s.store.GetPatient(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Errorf("patient %q not found", id))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, map[string]any{"patient": p})
}
