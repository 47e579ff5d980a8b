package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/camrig/camrig-server/internal/camera"
	"github.com/camrig/camrig-server/internal/models"
	"github.com/camrig/camrig-server/internal/validation"
)

// ========== Shoot handlers ==========

// HandleListShoots lists all shoots, newest first
func (s *RESTServer) HandleListShoots(w http.ResponseWriter, r *http.Request) {
	shoots, err := s.store.ListShoots(r.Context())
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"shoots": shoots,
	})
}

// HandleCreateShoot creates a new shoot
func (s *RESTServer) HandleCreateShoot(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Notes string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validation.ValidateName(req.Name); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	shoot := &models.Shoot{
		ID:    uuid.New(),
		Name:  req.Name,
		Notes: req.Notes,
		Takes: []models.Take{},
	}
	if err := s.store.CreateShoot(r.Context(), shoot); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, shoot)
}

// HandleGetShoot returns a shoot with its takes
func (s *RESTServer) HandleGetShoot(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid shoot id")
		return
	}
	shoot, err := s.store.GetShoot(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, shoot)
}

// HandleDeleteShoot deletes a shoot and its take history
func (s *RESTServer) HandleDeleteShoot(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid shoot id")
		return
	}
	if err := s.store.DeleteShoot(r.Context(), id); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusNoContent, nil)
}

// HandleStartTake starts a new take: fires the rig shutter and records the
// participating cameras on the shoot.
func (s *RESTServer) HandleStartTake(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid shoot id")
		return
	}
	shoot, err := s.store.GetShoot(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	if n := len(shoot.Takes); n > 0 && shoot.Takes[n-1].StoppedAt.IsZero() {
		s.respondError(w, http.StatusConflict, "a take is already running")
		return
	}

	var req recordingRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	batch := s.cameras.StartAll(r.Context(), req.Mode)
	for _, res := range batch.Results {
		if res.Serial == "" && res.Error == camera.ErrBusy.Error() {
			s.respondError(w, http.StatusConflict, res.Error)
			return
		}
	}

	take := models.Take{
		ID:        uuid.New(),
		Number:    len(shoot.Takes) + 1,
		StartedAt: batch.StartedAt,
	}
	for _, res := range batch.Results {
		if res.OK {
			take.Cameras = append(take.Cameras, res.Serial)
		} else {
			take.Failed = append(take.Failed, res.Serial)
		}
	}
	shoot.Takes = append(shoot.Takes, take)
	if err := s.store.UpdateShoot(r.Context(), shoot); err != nil {
		s.respondStoreError(w, err)
		return
	}

	s.hub.Broadcast("shutter_batch", batch)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"take":  take,
		"batch": batch,
	})
}

// HandleStopTake stops the running take and closes it on the shoot
func (s *RESTServer) HandleStopTake(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid shoot id")
		return
	}
	shoot, err := s.store.GetShoot(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	n := len(shoot.Takes)
	if n == 0 || !shoot.Takes[n-1].StoppedAt.IsZero() {
		s.respondError(w, http.StatusConflict, "no take is running")
		return
	}

	var req recordingRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	batch := s.cameras.StopAll(r.Context(), req.Mode)
	for _, res := range batch.Results {
		if res.Serial == "" && res.Error == camera.ErrBusy.Error() {
			s.respondError(w, http.StatusConflict, res.Error)
			return
		}
	}

	take := &shoot.Takes[n-1]
	take.StoppedAt = time.Now()
	take.Duration = take.StoppedAt.Sub(take.StartedAt).Seconds()
	for _, res := range batch.Results {
		if !res.OK {
			take.Failed = appendUnique(take.Failed, res.Serial)
		}
	}
	if err := s.store.UpdateShoot(r.Context(), shoot); err != nil {
		s.respondStoreError(w, err)
		return
	}

	s.hub.Broadcast("shutter_batch", batch)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"take":  take,
		"batch": batch,
	})
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}

// ========== Preset handlers ==========

// HandleListPresets lists all presets
func (s *RESTServer) HandleListPresets(w http.ResponseWriter, r *http.Request) {
	presets, err := s.store.ListPresets(r.Context())
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"presets": presets,
	})
}

// HandleCreatePreset creates a new preset
func (s *RESTServer) HandleCreatePreset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string         `json:"name"`
		Settings  map[int]int    `json:"settings"`
		PerCamera map[string]int `json:"perCamera"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validation.ValidateName(req.Name); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	preset := &models.Preset{
		ID:        uuid.New(),
		Name:      req.Name,
		Settings:  req.Settings,
		PerCamera: req.PerCamera,
	}
	if preset.Settings == nil {
		preset.Settings = map[int]int{}
	}
	if err := s.store.CreatePreset(r.Context(), preset); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, preset)
}

// HandleGetPreset returns one preset
func (s *RESTServer) HandleGetPreset(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid preset id")
		return
	}
	preset, err := s.store.GetPreset(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, preset)
}

// HandleUpdatePreset updates a preset
func (s *RESTServer) HandleUpdatePreset(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid preset id")
		return
	}
	preset, err := s.store.GetPreset(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}

	var req struct {
		Name      *string        `json:"name"`
		Settings  map[int]int    `json:"settings"`
		PerCamera map[string]int `json:"perCamera"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name != nil {
		preset.Name = *req.Name
	}
	if req.Settings != nil {
		preset.Settings = req.Settings
	}
	if req.PerCamera != nil {
		preset.PerCamera = req.PerCamera
	}
	if err := s.store.UpdatePreset(r.Context(), preset); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, preset)
}

// HandleDeletePreset deletes a preset
func (s *RESTServer) HandleDeletePreset(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid preset id")
		return
	}
	if err := s.store.DeletePreset(r.Context(), id); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusNoContent, nil)
}
