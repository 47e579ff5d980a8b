package ble

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/camrig/camrig-server/pkg/gopro"
)

// queueSize bounds the per-characteristic delivery queue. Insertion never
// blocks the notification path: when full, the oldest payload is evicted.
const queueSize = 64

type charState struct {
	mu    sync.Mutex
	reasm gopro.Reassembler
	queue chan []byte
}

// Session wraps a single connected peripheral with request/response
// correlation. Each notify characteristic gets its own reassembly buffer and
// delivery queue: command, query and network-management responses arrive on
// independent channels and must not consume each other's messages.
type Session struct {
	dev      Peripheral
	debugHex bool
	logger   zerolog.Logger

	mu    sync.RWMutex
	chars map[string]*charState
}

// NewSession wraps a connected peripheral. Characteristics must be
// subscribed before any command is issued.
func NewSession(dev Peripheral, debugHex bool) *Session {
	return &Session{
		dev:      dev,
		debugHex: debugHex,
		logger:   log.With().Str("component", "ble-session").Str("addr", dev.Address()).Logger(),
		chars:    make(map[string]*charState),
	}
}

// Subscribe registers notification handling for the given characteristics.
// Queues and reassembly buffers are created before the transport subscription
// is made, so a response arriving immediately cannot race an absent queue.
func (s *Session) Subscribe(chars ...string) error {
	for _, char := range chars {
		s.mu.Lock()
		st := &charState{queue: make(chan []byte, queueSize)}
		s.chars[char] = st
		s.mu.Unlock()

		char := char
		if err := s.dev.EnableNotifications(char, func(data []byte) {
			s.onNotification(char, st, data)
		}); err != nil {
			return fmt.Errorf("enable notifications on %s: %w", char, err)
		}
	}
	return nil
}

// onNotification runs on the transport delivery path. Decode happens
// synchronously; queue insertion never blocks.
func (s *Session) onNotification(char string, st *charState, raw []byte) {
	s.hexDump("rx-frame", char, raw)

	st.mu.Lock()
	payload, done, err := st.reasm.Feed(raw)
	st.mu.Unlock()

	if err != nil {
		// Orphan continuations are an expected firmware quirk: drop the
		// frame, keep the session alive.
		s.logger.Warn().Str("char", shortChar(char)).Err(err).Msg("dropping notification frame")
		return
	}
	if !done {
		return
	}

	s.hexDump("rx", char, payload)
	buf := append([]byte(nil), payload...)
	select {
	case st.queue <- buf:
	default:
		select {
		case <-st.queue:
		default:
		}
		st.queue <- buf
		s.logger.Warn().Str("char", shortChar(char)).Msg("delivery queue full, evicted oldest payload")
	}
}

func (s *Session) state(char string) (*charState, error) {
	s.mu.RLock()
	st, ok := s.chars[char]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotSubscribed, char)
	}
	return st, nil
}

// Drain discards any queued payloads on a characteristic, so a stale
// response from a prior exchange cannot be mistaken for the next one.
func (s *Session) Drain(char string) {
	st, err := s.state(char)
	if err != nil {
		return
	}
	for {
		select {
		case <-st.queue:
		default:
			return
		}
	}
}

// Write fragments and writes a logical payload without awaiting a response.
func (s *Session) Write(char string, payload []byte) error {
	frames, err := gopro.Fragment(payload)
	if err != nil {
		return err
	}
	for _, frame := range frames {
		s.hexDump("tx", char, frame)
		if err := s.dev.WriteCharacteristic(char, frame); err != nil {
			return fmt.Errorf("write %s: %w", char, err)
		}
	}
	return nil
}

// WriteFrame writes one pre-framed packet as a single call, bypassing
// fragmentation. The shutter synchronizer uses this to keep the
// fire-and-forget path to exactly one blocking call per camera.
func (s *Session) WriteFrame(char string, frame []byte) error {
	s.hexDump("tx-raw", char, frame)
	if err := s.dev.WriteCharacteristic(char, frame); err != nil {
		return fmt.Errorf("write %s: %w", char, err)
	}
	return nil
}

// WriteAndWait drains stale notifications on the notify characteristic,
// writes the payload, and awaits the next complete reassembled response.
func (s *Session) WriteAndWait(ctx context.Context, writeChar, notifyChar string, payload []byte, timeout time.Duration) ([]byte, error) {
	st, err := s.state(notifyChar)
	if err != nil {
		return nil, err
	}
	s.Drain(notifyChar)

	if err := s.Write(writeChar, payload); err != nil {
		return nil, err
	}
	return s.await(ctx, notifyChar, st, timeout)
}

// WaitForNotification awaits the next payload on a characteristic without
// writing anything, for camera-initiated asynchronous pushes.
func (s *Session) WaitForNotification(ctx context.Context, char string, timeout time.Duration) ([]byte, error) {
	st, err := s.state(char)
	if err != nil {
		return nil, err
	}
	return s.await(ctx, char, st, timeout)
}

// TryPop returns a queued payload if one is already available.
func (s *Session) TryPop(char string) ([]byte, bool) {
	st, err := s.state(char)
	if err != nil {
		return nil, false
	}
	select {
	case payload := <-st.queue:
		return payload, true
	default:
		return nil, false
	}
}

func (s *Session) await(ctx context.Context, char string, st *charState, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case payload := <-st.queue:
		return payload, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w on %s after %s", ErrResponseTimeout, shortChar(char), timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Connected reports the radio-level link state of the underlying peripheral.
func (s *Session) Connected() bool {
	return s.dev.Connected()
}

// Close disconnects the underlying peripheral.
func (s *Session) Close() error {
	return s.dev.Disconnect()
}

func (s *Session) hexDump(dir, char string, data []byte) {
	if !s.debugHex {
		return
	}
	dump := "(empty)"
	if len(data) > 0 {
		dump = hex.EncodeToString(data)
	}
	s.logger.Debug().
		Str("dir", dir).
		Str("char", shortChar(char)).
		Int("len", len(data)).
		Str("data", dump).
		Msg("ble frame")
}

// shortChar trims a characteristic UUID to its distinguishing digits for logs.
func shortChar(char string) string {
	if len(char) >= 8 {
		return char[4:8]
	}
	return char
}
