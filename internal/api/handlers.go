package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/camrig/camrig-server/internal/models"
	"github.com/camrig/camrig-server/internal/storage"
	"github.com/camrig/camrig-server/internal/validation"
	"github.com/camrig/camrig-server/internal/wifi"
)

// ========== Response helpers ==========

func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// respondStoreError maps storage sentinels onto HTTP statuses.
func (s *RESTServer) respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrDuplicateKey):
		s.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, storage.ErrInvalidData):
		s.respondError(w, http.StatusBadRequest, err.Error())
	default:
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// ========== Auth handlers ==========

// HandleLogin handles operator login
func (s *RESTServer) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Operator string `json:"operator"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Operator == "" {
		req.Operator = "operator"
	}

	if !s.auth.VerifyPassword(req.Password) {
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	accessToken, refreshToken, err := s.auth.GenerateTokenPair(req.Operator)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to generate tokens")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_in":    int(s.config.JWT.AccessTokenTTL.Seconds()),
		"token_type":    "Bearer",
	})
}

// HandleRefresh handles token refresh
func (s *RESTServer) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	accessToken, refreshToken, err := s.auth.RefreshToken(req.RefreshToken)
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_in":    int(s.config.JWT.AccessTokenTTL.Seconds()),
		"token_type":    "Bearer",
	})
}

// ========== Health ==========

// HandleHealth reports server liveness and a rig summary
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	statuses := s.cameras.Statuses()
	connected := 0
	recording := 0
	for _, st := range statuses {
		if st.State == models.StateConnected {
			connected++
		}
		if st.Recording {
			recording++
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"version":    s.config.Server.Version,
		"time":       time.Now().UTC(),
		"cameras":    len(statuses),
		"connected":  connected,
		"recording":  recording,
		"busy":       s.cameras.Busy(),
		"ws_clients": s.hub.ClientCount(),
	})
}

// ========== Events ==========

// HandleListEvents lists recent events, optionally filtered by serial
func (s *RESTServer) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	serial := r.URL.Query().Get("serial")

	events, err := s.store.ListEvents(r.Context(), serial, limit)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  len(events),
	})
}

// ========== Host WiFi ==========

// HandleWiFiStatus reports the host's current SSID
func (s *RESTServer) HandleWiFiStatus(w http.ResponseWriter, r *http.Request) {
	ssid, err := wifi.CurrentSSID(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"ssid":      ssid,
		"connected": ssid != "",
	})
}

// HandleWiFiConnect joins the host to an access point
func (s *RESTServer) HandleWiFiConnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SSID     string `json:"ssid"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validation.ValidateSSID(req.SSID); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := wifi.Connect(r.Context(), req.SSID, req.Password); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"ssid": req.SSID})
}
