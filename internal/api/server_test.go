package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/camrig/camrig-server/internal/ble"
	"github.com/camrig/camrig-server/internal/camera"
	"github.com/camrig/camrig-server/internal/cohn"
	"github.com/camrig/camrig-server/internal/config"
	"github.com/camrig/camrig-server/internal/storage"
	"github.com/camrig/camrig-server/pkg/crypto"
)

// idleAdapter serves a server test rig whose radio never finds anything.
type idleAdapter struct{}

func (idleAdapter) ScanByName(ctx context.Context, name string, window time.Duration) (*ble.Advertisement, error) {
	return nil, ble.ErrDeviceNotFound
}

func (idleAdapter) Scan(ctx context.Context, window time.Duration) ([]ble.Advertisement, error) {
	return nil, nil
}

func (idleAdapter) Connect(ctx context.Context, address string, timeout time.Duration) (ble.Peripheral, error) {
	return nil, ble.ErrConnectFailed
}

func newTestServer(t *testing.T) *RESTServer {
	t.Helper()

	hash, err := crypto.HashPassword("hunter2")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	cfg := &config.Config{}
	cfg.JWT.Secret = "test-secret"
	cfg.JWT.OperatorPasswordHash = hash
	cfg.JWT.AccessTokenTTL = time.Hour
	cfg.JWT.RefreshTokenTTL = 24 * time.Hour

	store, err := storage.NewJSONStore(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	mgr, err := camera.NewManager(context.Background(), idleAdapter{}, store, camera.Timing{
		ScanWindow:      time.Second,
		ConnectTimeout:  time.Second,
		ResponseTimeout: time.Second,
		ConnectAttempts: 1,
	}, false)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	cohnMgr := cohn.NewManager(idleAdapter{}, store, cohn.Config{}, camera.Timing{})
	hub := NewHub()
	mgr.SetBroadcaster(hub)

	return NewRESTServer(cfg, store, mgr, cohnMgr, hub)
}

func doJSON(t *testing.T, s *RESTServer, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, s *RESTServer) string {
	t.Helper()
	rec := doJSON(t, s, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"password": "hunter2",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func TestLoginRejectsBadPassword(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestProtectedRouteRequiresToken(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/cameras/", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/v1/cameras/", "not-a-jwt", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("garbage token: status = %d, want 401", rec.Code)
	}

	token := login(t, s)
	rec = doJSON(t, s, http.MethodGet, "/api/v1/cameras/", token, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200", rec.Code)
	}
}

func TestHealthIsPublic(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status field = %v, want ok", resp["status"])
	}
}

func TestRegisterCameraValidation(t *testing.T) {
	s := newTestServer(t)
	token := login(t, s)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/cameras/", token, map[string]string{
		"serial": "TOOLONG",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad serial: status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, s, http.MethodPost, "/api/v1/cameras/", token, map[string]string{
		"serial": "c353",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: status = %d, body %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Serial string `json:"serial"`
		Name   string `json:"name"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Serial != "C353" {
		t.Errorf("serial not normalized: %q", created.Serial)
	}
	if created.Name != "GoPro C353" {
		t.Errorf("default name = %q", created.Name)
	}

	// Same serial again conflicts.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/cameras/", token, map[string]string{
		"serial": "C353",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate: status = %d, want 409", rec.Code)
	}
}

func TestShootTakeLifecycle(t *testing.T) {
	s := newTestServer(t)
	token := login(t, s)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/shoots/", token, map[string]string{
		"name": "studio day 1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create shoot: status = %d, body %s", rec.Code, rec.Body.String())
	}
	var shoot struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &shoot); err != nil {
		t.Fatalf("decode: %v", err)
	}

	// Stop without a running take conflicts.
	rec = doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/v1/shoots/%s/takes/stop", shoot.ID), token, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("stop without take: status = %d, want 409", rec.Code)
	}

	// No cameras connected, so the take starts with an empty batch.
	rec = doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/v1/shoots/%s/takes/start", shoot.ID), token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("start take: status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/v1/shoots/%s/takes/stop", shoot.ID), token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop take: status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodGet, "/api/v1/shoots/"+shoot.ID+"/", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get shoot: status = %d", rec.Code)
	}
	var got struct {
		Takes []struct {
			Number    int     `json:"number"`
			Duration  float64 `json:"durationSeconds"`
			StoppedAt string  `json:"stoppedAt"`
		} `json:"takes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Takes) != 1 {
		t.Fatalf("takes = %d, want 1", len(got.Takes))
	}
	if got.Takes[0].Number != 1 {
		t.Errorf("take number = %d, want 1", got.Takes[0].Number)
	}
	if got.Takes[0].StoppedAt == "" {
		t.Error("take not closed")
	}
}

func TestPresetCRUD(t *testing.T) {
	s := newTestServer(t)
	token := login(t, s)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/presets/", token, map[string]interface{}{
		"name":     "4k60",
		"settings": map[string]int{"2": 1, "3": 5},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body %s", rec.Code, rec.Body.String())
	}
	var preset struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &preset); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doJSON(t, s, http.MethodPut, "/api/v1/presets/"+preset.ID+"/", token, map[string]interface{}{
		"name": "4k120",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status = %d, body %s", rec.Code, rec.Body.String())
	}
	var updated struct {
		Name     string         `json:"name"`
		Settings map[string]int `json:"settings"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if updated.Name != "4k120" {
		t.Errorf("name = %q, want 4k120", updated.Name)
	}
	if updated.Settings["2"] != 1 {
		t.Error("settings lost on rename")
	}

	rec = doJSON(t, s, http.MethodDelete, "/api/v1/presets/"+preset.ID+"/", token, nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete: status = %d, want 204", rec.Code)
	}
	rec = doJSON(t, s, http.MethodGet, "/api/v1/presets/"+preset.ID+"/", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: status = %d, want 404", rec.Code)
	}
}

func TestRefreshIssuesNewPair(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"password": "hunter2",
	})
	var pair struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &pair); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doJSON(t, s, http.MethodPost, "/api/v1/auth/refresh", "", map[string]string{
		"refresh_token": pair.RefreshToken,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: status = %d, body %s", rec.Code, rec.Body.String())
	}
	var refreshed struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &refreshed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, err := s.auth.ValidateToken(refreshed.AccessToken); err != nil {
		t.Errorf("refreshed access token invalid: %v", err)
	}

	rec = doJSON(t, s, http.MethodPost, "/api/v1/auth/refresh", "", map[string]string{
		"refresh_token": "bogus",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bogus refresh: status = %d, want 401", rec.Code)
	}
}
