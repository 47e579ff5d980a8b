package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/camrig/camrig-server/internal/camera"
	"github.com/camrig/camrig-server/internal/models"
	"github.com/camrig/camrig-server/internal/validation"
)

// ========== Camera roster handlers ==========

// HandleListCameras lists the roster with live status
func (s *RESTServer) HandleListCameras(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"cameras": s.cameras.Statuses(),
	})
}

// HandleRegisterCamera adds a camera to the roster
func (s *RESTServer) HandleRegisterCamera(w http.ResponseWriter, r *http.Request) {
	var req models.CameraConfig
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Serial = validation.NormalizeSerial(req.Serial)
	if err := validation.ValidateSerial(req.Serial); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" {
		req.Name = "GoPro " + req.Serial
	}
	req.Enabled = true

	cam, err := s.cameras.Register(r.Context(), &req)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, cam.Config)
}

// HandleGetCamera returns a camera's status
func (s *RESTServer) HandleGetCamera(w http.ResponseWriter, r *http.Request) {
	cam, err := s.cameras.Get(chi.URLParam(r, "serial"))
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, cam.Status())
}

// HandleUpdateCamera updates roster fields
func (s *RESTServer) HandleUpdateCamera(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")
	var req models.CameraConfig
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Serial = serial
	if err := s.cameras.Update(r.Context(), &req); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, req)
}

// HandleRemoveCamera deletes a camera from the roster
func (s *RESTServer) HandleRemoveCamera(w http.ResponseWriter, r *http.Request) {
	if err := s.cameras.Remove(r.Context(), chi.URLParam(r, "serial")); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusNoContent, nil)
}

// HandleDiscover scans for advertising cameras and extracts serials
func (s *RESTServer) HandleDiscover(w http.ResponseWriter, r *http.Request) {
	advs, err := s.cameras.Discover(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"cameras": advs,
	})
}

// ========== Connection handlers ==========

// HandleConnectAll connects every enabled camera
func (s *RESTServer) HandleConnectAll(w http.ResponseWriter, r *http.Request) {
	results := s.cameras.ConnectAll(r.Context())
	if err, ok := results[""]; ok && errors.Is(err, camera.ErrBusy) {
		s.respondError(w, http.StatusConflict, err.Error())
		return
	}
	out := make(map[string]string, len(results))
	for serial, err := range results {
		if err != nil {
			out[serial] = err.Error()
		} else {
			out[serial] = "connected"
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"results": out})
}

// HandleDisconnectAll drops every camera link
func (s *RESTServer) HandleDisconnectAll(w http.ResponseWriter, r *http.Request) {
	s.cameras.DisconnectAll()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"cameras": s.cameras.Statuses(),
	})
}

// HandleConnectCamera connects one camera
func (s *RESTServer) HandleConnectCamera(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")
	err := s.cameras.ConnectOne(r.Context(), serial)
	if errors.Is(err, camera.ErrBusy) {
		s.respondError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	cam, _ := s.cameras.Get(serial)
	s.respondJSON(w, http.StatusOK, cam.Status())
}

// HandleDisconnectCamera drops one camera link
func (s *RESTServer) HandleDisconnectCamera(w http.ResponseWriter, r *http.Request) {
	cam, err := s.cameras.Get(chi.URLParam(r, "serial"))
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	_ = cam.Disconnect()
	s.respondJSON(w, http.StatusOK, cam.Status())
}

// ========== Recording handlers ==========

type recordingRequest struct {
	Mode string `json:"mode"`
}

// HandleStartRecording triggers the rig-wide shutter
func (s *RESTServer) HandleStartRecording(w http.ResponseWriter, r *http.Request) {
	var req recordingRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	batch := s.cameras.StartAll(r.Context(), req.Mode)
	s.finishBatch(w, batch)
}

// HandleStopRecording stops the rig-wide shutter
func (s *RESTServer) HandleStopRecording(w http.ResponseWriter, r *http.Request) {
	var req recordingRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	batch := s.cameras.StopAll(r.Context(), req.Mode)
	s.finishBatch(w, batch)
}

func (s *RESTServer) finishBatch(w http.ResponseWriter, batch models.ShutterBatch) {
	for _, res := range batch.Results {
		if res.Serial == "" && res.Error == camera.ErrBusy.Error() {
			s.respondError(w, http.StatusConflict, res.Error)
			return
		}
	}
	s.hub.Broadcast("shutter_batch", batch)
	status := http.StatusOK
	if !batch.AllOK() {
		status = http.StatusMultiStatus
	}
	s.respondJSON(w, status, batch)
}

// HandleCameraShutter toggles the shutter on one camera
func (s *RESTServer) HandleCameraShutter(w http.ResponseWriter, r *http.Request) {
	cam, err := s.cameras.Get(chi.URLParam(r, "serial"))
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	var req struct {
		On bool `json:"on"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.On {
		err = cam.StartRecording(r.Context())
	} else {
		err = cam.StopRecording(r.Context())
	}
	if errors.Is(err, camera.ErrNotConnected) {
		s.respondError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, cam.Status())
}
