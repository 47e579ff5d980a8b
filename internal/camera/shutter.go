package camera

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/camrig/camrig-server/internal/models"
	"github.com/camrig/camrig-server/pkg/gopro"
)

// Shutter strategies. Sync fires raw frames across the rig in one tight
// loop then confirms each camera's acknowledgment, retrying stragglers with
// an awaited exchange. Raw skips confirmation entirely.
const (
	ModeSync = "sync"
	ModeRaw  = "raw"
)

// StartAll triggers recording on every enabled, connected camera.
// The result always carries exactly one entry per such camera, whether the
// command succeeded or not.
func (m *Manager) StartAll(ctx context.Context, mode string) models.ShutterBatch {
	return m.shutterAll(ctx, mode, true)
}

// StopAll stops recording on every enabled, connected camera with the same
// result contract as StartAll.
func (m *Manager) StopAll(ctx context.Context, mode string) models.ShutterBatch {
	return m.shutterAll(ctx, mode, false)
}

func (m *Manager) shutterAll(ctx context.Context, mode string, on bool) models.ShutterBatch {
	if mode != ModeRaw {
		mode = ModeSync
	}
	batch := models.ShutterBatch{Mode: mode, StartedAt: time.Now().UTC()}

	release, ok := m.TryBusy()
	if !ok {
		batch.Results = append(batch.Results, models.ShutterResult{Error: ErrBusy.Error()})
		return batch
	}
	defer release()

	var targets []*Camera
	for _, cam := range m.All() {
		if cam.Config.Enabled && cam.IsConnected() {
			targets = append(targets, cam)
		}
	}

	frame := gopro.ShutterFrame(on)

	// Fire pass: one raw write per camera, nothing awaited in between, so
	// the skew between first and last camera is just the write latency.
	writeErrs := make(map[string]error, len(targets))
	for _, cam := range targets {
		if mode == ModeSync {
			cam.drainShutterAck()
		}
		writeErrs[cam.Config.Serial] = cam.WriteShutterRaw(frame, on)
	}

	if mode == ModeSync {
		for _, cam := range targets {
			serial := cam.Config.Serial
			result := models.ShutterResult{Serial: serial, OK: true}
			err := writeErrs[serial]
			if err == nil {
				err = cam.awaitShutterAck(ctx)
			}
			if err != nil {
				// Straggler: one awaited retry before giving up on it.
				log.Warn().Str("serial", serial).Err(err).Msg("shutter unconfirmed, retrying")
				result.Retried = true
				if on {
					err = cam.StartRecording(ctx)
				} else {
					err = cam.StopRecording(ctx)
				}
				if err != nil {
					result.OK = false
					result.Error = err.Error()
				}
			}
			batch.Results = append(batch.Results, result)
		}
	} else {
		for _, cam := range targets {
			serial := cam.Config.Serial
			result := models.ShutterResult{Serial: serial, OK: true}
			if err := writeErrs[serial]; err != nil {
				result.OK = false
				result.Error = err.Error()
			}
			batch.Results = append(batch.Results, result)
		}
	}

	batch.Elapsed = time.Since(batch.StartedAt).Seconds()
	m.recordShutterEvent(ctx, &batch, on)
	return batch
}

func (m *Manager) recordShutterEvent(ctx context.Context, batch *models.ShutterBatch, on bool) {
	verb := "stop"
	if on {
		verb = "start"
	}
	level := models.EventLevelInfo
	if !batch.AllOK() {
		level = models.EventLevelWarning
	}
	ev := models.NewEvent(models.EventTypeShutter, level, "", verb)
	ev.Details = map[string]interface{}{
		"mode":    batch.Mode,
		"cameras": len(batch.Results),
		"allOk":   batch.AllOK(),
	}
	_ = m.store.CreateEvent(ctx, ev)
}

// drainShutterAck clears stale command responses before a fire pass.
func (c *Camera) drainShutterAck() {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session != nil {
		session.Drain(gopro.CharCommandResp)
	}
}

// awaitShutterAck waits for the command acknowledgment after a raw write.
func (c *Camera) awaitShutterAck(ctx context.Context) error {
	session, err := c.currentSession()
	if err != nil {
		return err
	}
	_, err = session.WaitForNotification(ctx, gopro.CharCommandResp, c.timing.ResponseTimeout)
	return err
}
