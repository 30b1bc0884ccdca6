package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/SaiMyBB/Matter-Gateway/internal/device"
)

// maxNameLen bounds device and attribute names taken from the URL.
const maxNameLen = 128

// deviceResponse is the REST view of one device.
type deviceResponse struct {
	Dev        string       `json:"dev"`
	Kind       device.Kind  `json:"kind"`
	UpstreamID string       `json:"upstream_id,omitempty"`
	State      device.State `json:"state"`
}

// setAttributeRequest is the body of PUT /devices/{name}/{attr}.
type setAttributeRequest struct {
	Value *json.RawMessage `json:"value"`
}

// handleListDevices returns the state of every device.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.registry.ListAll()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns one device or 404.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	d, err := s.registry.Get(name)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deviceResponse{
		Dev:        d.Name(),
		Kind:       d.Kind(),
		UpstreamID: d.UpstreamID(),
		State:      d.Read(),
	})
}

// handleSetAttribute applies {"value": v} to one attribute.
func (s *Server) handleSetAttribute(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	attr := chi.URLParam(r, "attr")
	if name == "" || attr == "" || len(name) > maxNameLen || len(attr) > maxNameLen {
		writeBadRequest(w, "invalid device or attribute name")
		return
	}

	var req setAttributeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Value == nil {
		writeBadRequest(w, "value is required")
		return
	}
	var val any
	if err := json.Unmarshal(*req.Value, &val); err != nil {
		writeBadRequest(w, "invalid value")
		return
	}

	if err := s.registry.SetAttribute(r.Context(), name, attr, val); err != nil {
		writeDeviceError(w, err)
		return
	}

	d, err := s.registry.Get(name)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deviceResponse{
		Dev:        d.Name(),
		Kind:       d.Kind(),
		UpstreamID: d.UpstreamID(),
		State:      d.Read(),
	})
}
