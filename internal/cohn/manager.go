// Package cohn provisions cameras onto the local network (Camera On the
// Home Network) over BLE and verifies their HTTPS endpoints afterwards.
package cohn

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/camrig/camrig-server/internal/ble"
	"github.com/camrig/camrig-server/internal/camera"
	"github.com/camrig/camrig-server/internal/models"
	"github.com/camrig/camrig-server/internal/storage"
	"github.com/camrig/camrig-server/internal/wifi"
)

// Common errors
var (
	ErrAlreadyProvisioning = errors.New("provisioning already in progress for this camera")
	ErrProvisionFailed     = errors.New("provisioning failed")
	ErrNoCredential        = errors.New("no stored credential")
)

// ProgressFunc receives step-by-step provisioning progress.
type ProgressFunc func(models.ProvisionProgress)

// Config carries the provisioning parameters.
type Config struct {
	SSID             string
	Password         string
	ProvisionTimeout time.Duration
	CheckTimeout     time.Duration
}

// Manager runs provisioning sequences and credential checks. At most one
// sequence per camera serial runs at a time; a second request for the same
// serial fails fast instead of queueing behind a five-minute run.
type Manager struct {
	adapter ble.Adapter
	store   storage.Store
	cfg     Config
	timing  camera.Timing
	waits   stepBudgets
	client  *http.Client

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewManager creates the provisioning manager. The HTTP client skips TLS
// verification: cameras serve self-signed certificates that we fetch during
// provisioning, and reachability checks predate trust configuration.
func NewManager(adapter ble.Adapter, store storage.Store, cfg Config, timing camera.Timing) *Manager {
	if cfg.ProvisionTimeout == 0 {
		cfg.ProvisionTimeout = 300 * time.Second
	}
	if cfg.CheckTimeout == 0 {
		cfg.CheckTimeout = 5 * time.Second
	}
	return &Manager{
		adapter: adapter,
		store:   store,
		cfg:     cfg,
		timing:  timing,
		waits:   defaultBudgets(),
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
		inFlight: make(map[string]struct{}),
	}
}

// tryLock acquires the per-serial guard without blocking.
func (m *Manager) tryLock(serial string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inFlight[serial]; busy {
		return false
	}
	m.inFlight[serial] = struct{}{}
	return true
}

func (m *Manager) unlock(serial string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inFlight, serial)
}

// Provisioning reports whether a run is in flight for the serial.
func (m *Manager) Provisioning(serial string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, busy := m.inFlight[serial]
	return busy
}

// Provision runs the full sequence for one camera under the overall
// deadline. On any failure the credential store is left untouched.
func (m *Manager) Provision(ctx context.Context, serial string, progress ProgressFunc) (*models.COHNCredential, error) {
	if !m.tryLock(serial) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyProvisioning, serial)
	}
	defer m.unlock(serial)

	ctx, cancel := context.WithTimeout(ctx, m.cfg.ProvisionTimeout)
	defer cancel()

	if progress == nil {
		progress = func(models.ProvisionProgress) {}
	}

	started := time.Now()
	cred, err := m.runSequence(ctx, serial, progress)
	if err != nil {
		progress(models.ProvisionProgress{
			Serial: serial, Phase: models.PhaseFailed,
			Step: 0, Total: totalSteps, Error: err.Error(),
		})
		ev := models.NewEvent(models.EventTypeProvision, models.EventLevelError, serial, err.Error())
		_ = m.store.CreateEvent(ctx, ev)
		return nil, err
	}

	log.Info().
		Str("serial", serial).
		Str("ip", cred.IPAddress).
		Dur("took", time.Since(started)).
		Bool("degraded", cred.Degraded).
		Msg("provisioning complete")
	ev := models.NewEvent(models.EventTypeProvision, models.EventLevelInfo, serial, "provisioned "+cred.IPAddress)
	_ = m.store.CreateEvent(context.WithoutCancel(ctx), ev)
	return cred, nil
}

// Credential returns the stored credential for a serial.
func (m *Manager) Credential(ctx context.Context, serial string) (*models.COHNCredential, error) {
	cred, err := m.store.GetCOHNCredential(ctx, serial)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoCredential, serial)
	}
	return cred, err
}

// List returns every stored credential.
func (m *Manager) List(ctx context.Context) ([]*models.COHNCredential, error) {
	return m.store.ListCOHNCredentials(ctx)
}

// Remove deletes a stored credential.
func (m *Manager) Remove(ctx context.Context, serial string) error {
	return m.store.DeleteCOHNCredential(ctx, serial)
}

// CheckAllOnline probes every stored credential and reports reachability
// per serial. A probe error counts as offline rather than failing the sweep.
func (m *Manager) CheckAllOnline(ctx context.Context) (map[string]bool, error) {
	creds, err := m.store.ListCOHNCredentials(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(creds))
	for _, cred := range creds {
		online, err := m.CheckOnline(ctx, cred.Serial)
		out[cred.Serial] = err == nil && online
	}
	return out, nil
}

// CheckOnline verifies a provisioned camera answers on its HTTPS endpoint.
// When the stored IP has gone stale, the camera's MAC is looked up in the
// host ARP table and a recovered IP is persisted before the retry.
func (m *Manager) CheckOnline(ctx context.Context, serial string) (bool, error) {
	cred, err := m.Credential(ctx, serial)
	if err != nil {
		return false, err
	}

	if m.probe(ctx, cred) {
		return true, nil
	}

	if cred.MACAddress == "" {
		return false, nil
	}
	ip, err := wifi.LookupIPByMAC(ctx, cred.MACAddress)
	if err != nil || ip == cred.IPAddress {
		return false, nil
	}
	log.Info().Str("serial", serial).Str("old_ip", cred.IPAddress).Str("new_ip", ip).
		Msg("recovered camera ip from arp table")
	cred.IPAddress = ip
	if !m.probe(ctx, cred) {
		return false, nil
	}
	if err := m.store.SaveCOHNCredential(ctx, cred); err != nil {
		return true, err
	}
	return true, nil
}

// probe issues one basic-auth GET against the camera's state endpoint.
func (m *Manager) probe(ctx context.Context, cred *models.COHNCredential) bool {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.CheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cred.BaseURL()+"/gopro/camera/state", nil)
	if err != nil {
		return false
	}
	req.SetBasicAuth(cred.Username, cred.Password)
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
