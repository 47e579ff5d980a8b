package camera

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/camrig/camrig-server/internal/ble"
	"github.com/camrig/camrig-server/internal/models"
	"github.com/camrig/camrig-server/internal/storage"
)

// Broadcaster pushes status updates to connected clients. The api package
// provides the implementation.
type Broadcaster interface {
	BroadcastStatus(statuses []models.CameraStatus)
}

// MonitorIntervals configures the background loops.
type MonitorIntervals struct {
	Sweep     time.Duration
	Battery   time.Duration
	KeepAlive time.Duration
	Probe     time.Duration
}

// Manager is the camera registry and connection supervisor. Long-running
// operations (connect-all, batch shutter, provisioning) take the busy guard
// so they cannot interleave; the background sweep skips its work while the
// guard is held.
type Manager struct {
	adapter  ble.Adapter
	store    storage.Store
	timing   Timing
	debugHex bool

	mu      sync.RWMutex
	cameras map[string]*Camera

	busy atomic.Bool

	broadcaster Broadcaster
	lastStates  sync.Map // serial -> models.ConnectionState
}

// NewManager loads the persisted roster into camera handles.
func NewManager(ctx context.Context, adapter ble.Adapter, store storage.Store, timing Timing, debugHex bool) (*Manager, error) {
	m := &Manager{
		adapter:  adapter,
		store:    store,
		timing:   timing,
		debugHex: debugHex,
		cameras:  make(map[string]*Camera),
	}
	configs, err := store.ListCameras(ctx)
	if err != nil {
		return nil, fmt.Errorf("load camera roster: %w", err)
	}
	for _, cfg := range configs {
		m.cameras[cfg.Serial] = New(*cfg, adapter, timing)
	}
	log.Info().Int("cameras", len(m.cameras)).Msg("camera manager ready")
	return m, nil
}

// SetBroadcaster wires the status push target. Called once during startup.
func (m *Manager) SetBroadcaster(b Broadcaster) {
	m.broadcaster = b
}

// TryBusy acquires the exclusive operation guard. Callers must call the
// returned release exactly once.
func (m *Manager) TryBusy() (release func(), ok bool) {
	if !m.busy.CompareAndSwap(false, true) {
		return nil, false
	}
	var once sync.Once
	return func() {
		once.Do(func() { m.busy.Store(false) })
	}, true
}

// Busy reports whether an exclusive operation is in flight.
func (m *Manager) Busy() bool {
	return m.busy.Load()
}

// Get returns the handle for a registered camera.
func (m *Manager) Get(serial string) (*Camera, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cam, ok := m.cameras[serial]
	if !ok {
		return nil, fmt.Errorf("%w: camera %s", storage.ErrNotFound, serial)
	}
	return cam, nil
}

// All returns every registered camera ordered by rig position.
func (m *Manager) All() []*Camera {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Camera, 0, len(m.cameras))
	for _, cam := range m.cameras {
		out = append(out, cam)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Config.Position != out[j].Config.Position {
			return out[i].Config.Position < out[j].Config.Position
		}
		return out[i].Config.Serial < out[j].Config.Serial
	})
	return out
}

// Register adds a camera to the roster and persists it.
func (m *Manager) Register(ctx context.Context, cfg *models.CameraConfig) (*Camera, error) {
	if err := m.store.CreateCamera(ctx, cfg); err != nil {
		return nil, err
	}
	cam := New(*cfg, m.adapter, m.timing)
	m.mu.Lock()
	m.cameras[cfg.Serial] = cam
	m.mu.Unlock()
	return cam, nil
}

// Update persists changed roster fields for a camera.
func (m *Manager) Update(ctx context.Context, cfg *models.CameraConfig) error {
	if err := m.store.UpdateCamera(ctx, cfg); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cam, ok := m.cameras[cfg.Serial]; ok {
		cam.Config = *cfg
	}
	return nil
}

// Remove disconnects and deletes a camera from the roster.
func (m *Manager) Remove(ctx context.Context, serial string) error {
	m.mu.Lock()
	cam, ok := m.cameras[serial]
	delete(m.cameras, serial)
	m.mu.Unlock()
	if ok {
		_ = cam.Disconnect()
	}
	return m.store.DeleteCamera(ctx, serial)
}

// ConnectAll connects every enabled camera sequentially. The shared radio
// cannot open connections in parallel, so one camera at a time; a failure
// moves on to the next camera rather than aborting the pass.
func (m *Manager) ConnectAll(ctx context.Context) map[string]error {
	release, ok := m.TryBusy()
	if !ok {
		return map[string]error{"": ErrBusy}
	}
	defer release()

	results := make(map[string]error)
	for _, cam := range m.All() {
		if !cam.Config.Enabled {
			continue
		}
		if cam.IsConnected() {
			results[cam.Config.Serial] = nil
			continue
		}
		err := cam.Connect(ctx, m.debugHex)
		results[cam.Config.Serial] = err
		m.logEvent(ctx, cam.Config.Serial, err)
		if ctx.Err() != nil {
			break
		}
	}
	return results
}

// ConnectOne connects a single camera under the busy guard.
func (m *Manager) ConnectOne(ctx context.Context, serial string) error {
	cam, err := m.Get(serial)
	if err != nil {
		return err
	}
	release, ok := m.TryBusy()
	if !ok {
		return ErrBusy
	}
	defer release()

	err = cam.Connect(ctx, m.debugHex)
	m.logEvent(ctx, serial, err)
	return err
}

// Discovered is one advertising camera seen during a scan.
type Discovered struct {
	Serial     string `json:"serial"`
	Name       string `json:"name"`
	Address    string `json:"address"`
	RSSI       int16  `json:"rssi"`
	Registered bool   `json:"registered"`
}

// Discover scans for advertising cameras and extracts their serials from
// the "GoPro XXXX" local name.
func (m *Manager) Discover(ctx context.Context) ([]Discovered, error) {
	advs, err := m.adapter.Scan(ctx, m.timing.ScanWindow)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Discovered
	for _, adv := range advs {
		serial, ok := strings.CutPrefix(adv.Name, "GoPro ")
		if !ok || len(serial) != 4 {
			continue
		}
		_, registered := m.cameras[serial]
		out = append(out, Discovered{
			Serial:     serial,
			Name:       adv.Name,
			Address:    adv.Address,
			RSSI:       adv.RSSI,
			Registered: registered,
		})
	}
	return out, nil
}

// DisconnectAll drops every camera link.
func (m *Manager) DisconnectAll() {
	for _, cam := range m.All() {
		_ = cam.Disconnect()
	}
}

func (m *Manager) logEvent(ctx context.Context, serial string, err error) {
	if err != nil {
		ev := models.NewEvent(models.EventTypeError, models.EventLevelError, serial, err.Error())
		_ = m.store.CreateEvent(ctx, ev)
		return
	}
	ev := models.NewEvent(models.EventTypeConnect, models.EventLevelInfo, serial, "connected")
	_ = m.store.CreateEvent(ctx, ev)
}

// Statuses snapshots every camera ordered by rig position.
func (m *Manager) Statuses() []models.CameraStatus {
	cams := m.All()
	out := make([]models.CameraStatus, 0, len(cams))
	for _, cam := range cams {
		out = append(out, cam.Status())
	}
	return out
}

// RunMonitor drives the background loops until the context is canceled:
// a fast sweep that validates links and broadcasts state transitions, a
// battery poll, the keep-alive, and a slow round-trip probe that exercises
// the notification path end to end. All four skip their work while an
// exclusive operation holds the busy guard, so a provisioning run or batch
// shutter never competes for the BLE link.
func (m *Manager) RunMonitor(ctx context.Context, iv MonitorIntervals) {
	sweep := time.NewTicker(iv.Sweep)
	battery := time.NewTicker(iv.Battery)
	keepAlive := time.NewTicker(iv.KeepAlive)
	probe := time.NewTicker(iv.Probe)
	defer sweep.Stop()
	defer battery.Stop()
	defer keepAlive.Stop()
	defer probe.Stop()

	log.Info().
		Dur("sweep", iv.Sweep).
		Dur("battery", iv.Battery).
		Dur("keep_alive", iv.KeepAlive).
		Dur("probe", iv.Probe).
		Msg("monitor started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("monitor stopped")
			return
		case <-sweep.C:
			if m.Busy() {
				continue
			}
			m.sweepOnce(ctx)
		case <-battery.C:
			if m.Busy() {
				continue
			}
			for _, cam := range m.All() {
				if cam.State() == models.StateConnected {
					if err := cam.PollStatus(ctx); err != nil {
						log.Debug().Str("serial", cam.Config.Serial).Err(err).Msg("status poll failed")
					}
				}
			}
		case <-keepAlive.C:
			if m.Busy() {
				continue
			}
			for _, cam := range m.All() {
				if cam.State() == models.StateConnected {
					_ = cam.KeepAlive()
				}
			}
		case <-probe.C:
			if m.Busy() {
				continue
			}
			for _, cam := range m.All() {
				if cam.State() == models.StateConnected {
					cam.ProbeAlive(ctx)
				}
			}
		}
	}
}

// sweepOnce validates every link and broadcasts when any state changed.
func (m *Manager) sweepOnce(ctx context.Context) {
	changed := false
	for _, cam := range m.All() {
		serial := cam.Config.Serial
		if cam.State() == models.StateConnected {
			cam.IsConnected()
		}
		state := cam.State()
		prev, loaded := m.lastStates.Load(serial)
		if !loaded || prev.(models.ConnectionState) != state {
			m.lastStates.Store(serial, state)
			changed = true
			if loaded && state == models.StateDisconnected {
				ev := models.NewEvent(models.EventTypeDisconnect, models.EventLevelWarning, serial, "link lost")
				_ = m.store.CreateEvent(ctx, ev)
			}
		}
	}
	if changed && m.broadcaster != nil {
		m.broadcaster.BroadcastStatus(m.Statuses())
	}
}
