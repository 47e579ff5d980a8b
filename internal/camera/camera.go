package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/camrig/camrig-server/internal/ble"
	"github.com/camrig/camrig-server/internal/models"
	"github.com/camrig/camrig-server/pkg/gopro"
)

// Common errors
var (
	ErrNotConnected = errors.New("camera not connected")
	ErrBusy         = errors.New("operation already in progress")
)

// batterySamples bounds the drain-estimation ring.
const batterySamples = 60

type batterySample struct {
	at  time.Time
	pct int
}

// Timing holds the per-operation deadlines a Camera uses on its BLE link.
type Timing struct {
	ScanWindow      time.Duration
	ConnectTimeout  time.Duration
	ResponseTimeout time.Duration
	ConnectAttempts int
}

// Camera owns the BLE link to one physical camera and serializes command
// exchanges over it. Fire-and-forget shutter writes bypass the exchange
// path via WriteShutterRaw.
type Camera struct {
	Config  models.CameraConfig
	adapter ble.Adapter
	timing  Timing
	logger  zerolog.Logger

	mu        sync.Mutex
	session   *ble.Session
	state     models.ConnectionState
	recording bool
	rssi      int16
	lastSeen  time.Time
	lastError string
	battery   []batterySample
}

// New creates an unconnected camera handle.
func New(cfg models.CameraConfig, adapter ble.Adapter, timing Timing) *Camera {
	if timing.ConnectAttempts <= 0 {
		timing.ConnectAttempts = 2
	}
	return &Camera{
		Config:  cfg,
		adapter: adapter,
		timing:  timing,
		logger:  log.With().Str("component", "camera").Str("serial", cfg.Serial).Logger(),
		state:   models.StateDisconnected,
	}
}

// Connect scans for the camera's advertised name, connects, and subscribes
// all response characteristics. Failed attempts tear the partial link down
// completely before the retry.
func (c *Camera) Connect(ctx context.Context, debugHex bool) error {
	c.mu.Lock()
	if c.state == models.StateConnecting {
		c.mu.Unlock()
		return ErrBusy
	}
	c.state = models.StateConnecting
	c.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= c.timing.ConnectAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(2 * time.Second):
			case <-ctx.Done():
				c.setError(ctx.Err())
				return ctx.Err()
			}
		}
		if err := c.connectOnce(ctx, debugHex); err != nil {
			lastErr = err
			c.logger.Warn().Int("attempt", attempt).Err(err).Msg("connect attempt failed")
			continue
		}
		c.mu.Lock()
		c.state = models.StateConnected
		c.lastSeen = time.Now()
		c.lastError = ""
		c.mu.Unlock()
		c.logger.Info().Msg("camera connected")
		return nil
	}
	c.setError(lastErr)
	return lastErr
}

func (c *Camera) connectOnce(ctx context.Context, debugHex bool) error {
	adv, err := c.adapter.ScanByName(ctx, c.Config.BLEName(), c.timing.ScanWindow)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	dev, err := c.adapter.Connect(ctx, adv.Address, c.timing.ConnectTimeout)
	if err != nil {
		return err
	}

	session := ble.NewSession(dev, debugHex)
	if err := session.Subscribe(gopro.ResponseChars...); err != nil {
		_ = session.Close()
		return fmt.Errorf("subscribe: %w", err)
	}

	// Sync the camera clock so media timestamps line up across the rig.
	if _, err := session.WriteAndWait(ctx, gopro.CharCommand, gopro.CharCommandResp,
		gopro.SetDateTimeBody(time.Now()), c.timing.ResponseTimeout); err != nil {
		c.logger.Warn().Err(err).Msg("clock sync failed, continuing")
	}

	c.mu.Lock()
	c.session = session
	c.rssi = adv.RSSI
	c.mu.Unlock()
	return nil
}

func (c *Camera) setError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = models.StateError
	if err != nil {
		c.lastError = err.Error()
	}
	if c.session != nil {
		_ = c.session.Close()
		c.session = nil
	}
	c.recording = false
}

// Disconnect drops the BLE link.
func (c *Camera) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	if c.session != nil {
		err = c.session.Close()
		c.session = nil
	}
	c.state = models.StateDisconnected
	c.recording = false
	return err
}

// IsConnected checks the radio-level link. A silently dropped link moves
// the camera to DISCONNECTED and clears the recording flag: a camera that
// lost its link may or may not still be recording, and claiming it is
// would be a lie the operator acts on.
func (c *Camera) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return false
	}
	if !c.session.Connected() {
		c.logger.Warn().Msg("radio link lost")
		_ = c.session.Close()
		c.session = nil
		c.state = models.StateDisconnected
		c.recording = false
		return false
	}
	c.lastSeen = time.Now()
	return true
}

func (c *Camera) currentSession() (*ble.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || c.state != models.StateConnected {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, c.Config.Serial)
	}
	return c.session, nil
}

// StartRecording sends the shutter-on command and awaits the acknowledgment,
// retrying once on timeout.
func (c *Camera) StartRecording(ctx context.Context) error {
	if err := c.shutter(ctx, true); err != nil {
		return err
	}
	c.mu.Lock()
	c.recording = true
	c.mu.Unlock()
	return nil
}

// StopRecording sends the shutter-off command and awaits the acknowledgment,
// retrying once on timeout.
func (c *Camera) StopRecording(ctx context.Context) error {
	if err := c.shutter(ctx, false); err != nil {
		return err
	}
	c.mu.Lock()
	c.recording = false
	c.mu.Unlock()
	return nil
}

func (c *Camera) shutter(ctx context.Context, on bool) error {
	session, err := c.currentSession()
	if err != nil {
		return err
	}
	frame := gopro.ShutterFrame(on)
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		session.Drain(gopro.CharCommandResp)
		if err := session.WriteFrame(gopro.CharCommand, frame); err != nil {
			return err
		}
		if _, err := session.WaitForNotification(ctx, gopro.CharCommandResp, c.timing.ResponseTimeout); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return lastErr
}

// WriteShutterRaw fires a pre-built shutter frame without waiting for the
// acknowledgment. The synchronizer uses this to minimize inter-camera skew;
// the recording flag is set optimistically and corrected by the next sweep.
func (c *Camera) WriteShutterRaw(frame []byte, on bool) error {
	session, err := c.currentSession()
	if err != nil {
		return err
	}
	if err := session.WriteFrame(gopro.CharCommand, frame); err != nil {
		return err
	}
	c.mu.Lock()
	c.recording = on
	c.mu.Unlock()
	return nil
}

// KeepAlive writes the lightweight keep-alive to hold the BLE link open.
func (c *Camera) KeepAlive() error {
	session, err := c.currentSession()
	if err != nil {
		return err
	}
	return session.Write(gopro.CharSetting, gopro.KeepAliveBody())
}

// ProbeAlive round-trips the keep-alive as a health check. The result is
// advisory: a timeout marks nothing and tears nothing down, only the radio
// link state in IsConnected is authoritative.
func (c *Camera) ProbeAlive(ctx context.Context) bool {
	session, err := c.currentSession()
	if err != nil {
		return false
	}
	_, err = session.WriteAndWait(ctx, gopro.CharSetting, gopro.CharSettingResp,
		gopro.KeepAliveBody(), c.timing.ResponseTimeout)
	if err != nil {
		c.logger.Debug().Err(err).Msg("health probe missed")
		return false
	}
	return true
}

// PollStatus queries battery percentage and encoding state, updating the
// drain ring and the recording flag from the camera's own report.
func (c *Camera) PollStatus(ctx context.Context) error {
	session, err := c.currentSession()
	if err != nil {
		return err
	}
	resp, err := session.WriteAndWait(ctx, gopro.CharQuery, gopro.CharQueryResp,
		gopro.QueryStatusBody(gopro.StatusBatteryPct, gopro.StatusEncoding), c.timing.ResponseTimeout)
	if err != nil {
		return err
	}

	statuses := parseStatusTLV(resp)
	c.mu.Lock()
	defer c.mu.Unlock()
	if pct, ok := statuses[gopro.StatusBatteryPct]; ok {
		c.battery = append(c.battery, batterySample{at: time.Now(), pct: pct})
		if len(c.battery) > batterySamples {
			c.battery = c.battery[len(c.battery)-batterySamples:]
		}
	}
	if enc, ok := statuses[gopro.StatusEncoding]; ok {
		c.recording = enc != 0
	}
	return nil
}

// parseStatusTLV decodes a query response: [cmd, result, (id, len, value...)...].
// Values up to four bytes are read big-endian; longer values are skipped.
func parseStatusTLV(resp []byte) map[byte]int {
	out := make(map[byte]int)
	if len(resp) < 2 || resp[1] != 0 {
		return out
	}
	i := 2
	for i+2 <= len(resp) {
		id := resp[i]
		n := int(resp[i+1])
		i += 2
		if i+n > len(resp) {
			break
		}
		if n >= 1 && n <= 4 {
			v := 0
			for _, b := range resp[i : i+n] {
				v = v<<8 | int(b)
			}
			out[id] = v
		}
		i += n
	}
	return out
}

// BatteryDrainPerHour estimates discharge rate from the oldest and newest
// samples in the ring. Zero until at least two samples span real time.
func (c *Camera) BatteryDrainPerHour() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drainLocked()
}

func (c *Camera) drainLocked() float64 {
	if len(c.battery) < 2 {
		return 0
	}
	first, last := c.battery[0], c.battery[len(c.battery)-1]
	hours := last.at.Sub(first.at).Hours()
	if hours <= 0 {
		return 0
	}
	drop := float64(first.pct - last.pct)
	if drop < 0 {
		// Charged mid-session, the window restarts from here.
		return 0
	}
	return drop / hours
}

// Status snapshots the live view of this camera.
func (c *Camera) Status() models.CameraStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := models.CameraStatus{
		Serial:       c.Config.Serial,
		Name:         c.Config.Name,
		State:        c.state,
		Recording:    c.recording,
		BatteryDrain: c.drainLocked(),
		RSSI:         c.rssi,
		LastSeen:     c.lastSeen,
		LastError:    c.lastError,
	}
	if len(c.battery) > 0 {
		st.BatteryPercent = c.battery[len(c.battery)-1].pct
	}
	return st
}

// State returns the lifecycle state without touching the radio.
func (c *Camera) State() models.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
