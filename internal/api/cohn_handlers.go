package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/camrig/camrig-server/internal/cohn"
)

// ========== Provisioning handlers ==========

// HandleProvision runs the full provisioning sequence for one camera.
// Progress streams over the hub while the request blocks until the outcome.
func (s *RESTServer) HandleProvision(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")

	// Provisioning owns the shared radio for its duration.
	release, ok := s.cameras.TryBusy()
	if !ok {
		s.respondError(w, http.StatusConflict, "another rig operation is in progress")
		return
	}
	defer release()

	cred, err := s.cohn.Provision(r.Context(), serial, s.hub.BroadcastProvision)
	if errors.Is(err, cohn.ErrAlreadyProvisioning) {
		s.respondError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, cred)
}

// HandleListCredentials lists stored credentials
func (s *RESTServer) HandleListCredentials(w http.ResponseWriter, r *http.Request) {
	creds, err := s.cohn.List(r.Context())
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"credentials": creds,
	})
}

// HandleGetCredential returns one stored credential
func (s *RESTServer) HandleGetCredential(w http.ResponseWriter, r *http.Request) {
	cred, err := s.cohn.Credential(r.Context(), chi.URLParam(r, "serial"))
	if errors.Is(err, cohn.ErrNoCredential) {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, cred)
}

// HandleRemoveCredential deletes a stored credential
func (s *RESTServer) HandleRemoveCredential(w http.ResponseWriter, r *http.Request) {
	if err := s.cohn.Remove(r.Context(), chi.URLParam(r, "serial")); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusNoContent, nil)
}

// HandleFleetStatus probes every provisioned camera
func (s *RESTServer) HandleFleetStatus(w http.ResponseWriter, r *http.Request) {
	online, err := s.cohn.CheckAllOnline(r.Context())
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"online": online,
	})
}

// HandleCredentialStatus checks whether a provisioned camera answers over
// HTTPS, recovering a stale IP from the ARP table when possible
func (s *RESTServer) HandleCredentialStatus(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")
	online, err := s.cohn.CheckOnline(r.Context(), serial)
	if errors.Is(err, cohn.ErrNoCredential) {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"serial": serial,
		"online": online,
	})
}
