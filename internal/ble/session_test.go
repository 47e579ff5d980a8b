package ble

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/camrig/camrig-server/pkg/gopro"
)

// fakePeripheral records writes and lets tests inject notifications.
type fakePeripheral struct {
	mu        sync.Mutex
	writes    map[string][][]byte
	handlers  map[string]func([]byte)
	connected bool
	writeErr  error
}

func newFakePeripheral() *fakePeripheral {
	return &fakePeripheral{
		writes:    make(map[string][][]byte),
		handlers:  make(map[string]func([]byte)),
		connected: true,
	}
}

func (f *fakePeripheral) WriteCharacteristic(char string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes[char] = append(f.writes[char], append([]byte(nil), data...))
	return nil
}

func (f *fakePeripheral) EnableNotifications(char string, fn func(data []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[char] = fn
	return nil
}

func (f *fakePeripheral) notify(char string, data []byte) {
	f.mu.Lock()
	fn := f.handlers[char]
	f.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

func (f *fakePeripheral) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakePeripheral) Address() string   { return "AA:BB:CC:DD:EE:FF" }
func (f *fakePeripheral) Disconnect() error { return nil }

func (f *fakePeripheral) writtenFrames(char string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes[char]
}

func TestWriteAndWait(t *testing.T) {
	dev := newFakePeripheral()
	s := NewSession(dev, false)
	if err := s.Subscribe(gopro.CharCommandResp); err != nil {
		t.Fatal(err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		dev.notify(gopro.CharCommandResp, []byte{0x03, 0x01, 0x00, 0x01})
	}()

	resp, err := s.WriteAndWait(context.Background(), gopro.CharCommand, gopro.CharCommandResp,
		[]byte{0x01, 0x01, 0x01}, time.Second)
	if err != nil {
		t.Fatalf("WriteAndWait: %v", err)
	}
	if !bytes.Equal(resp, []byte{0x01, 0x00, 0x01}) {
		t.Errorf("response = % x, want 01 00 01", resp)
	}

	frames := dev.writtenFrames(gopro.CharCommand)
	if len(frames) != 1 {
		t.Fatalf("got %d frames written, want 1", len(frames))
	}
	if !bytes.Equal(frames[0], []byte{0x03, 0x01, 0x01, 0x01}) {
		t.Errorf("frame = % x", frames[0])
	}
}

func TestWriteAndWaitTimeout(t *testing.T) {
	dev := newFakePeripheral()
	s := NewSession(dev, false)
	if err := s.Subscribe(gopro.CharQueryResp); err != nil {
		t.Fatal(err)
	}

	_, err := s.WriteAndWait(context.Background(), gopro.CharQuery, gopro.CharQueryResp,
		[]byte{0x13}, 20*time.Millisecond)
	if !errors.Is(err, ErrResponseTimeout) {
		t.Errorf("err = %v, want ErrResponseTimeout", err)
	}
}

func TestWriteAndWaitDrainsStale(t *testing.T) {
	dev := newFakePeripheral()
	s := NewSession(dev, false)
	if err := s.Subscribe(gopro.CharCommandResp); err != nil {
		t.Fatal(err)
	}

	// A leftover response from an earlier exchange must not satisfy a new
	// request.
	dev.notify(gopro.CharCommandResp, []byte{0x02, 0xDE, 0xAD})

	go func() {
		time.Sleep(10 * time.Millisecond)
		dev.notify(gopro.CharCommandResp, []byte{0x02, 0xBE, 0xEF})
	}()

	resp, err := s.WriteAndWait(context.Background(), gopro.CharCommand, gopro.CharCommandResp,
		[]byte{0x01}, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(resp, []byte{0xBE, 0xEF}) {
		t.Errorf("response = % x, want be ef (stale payload not drained)", resp)
	}
}

func TestMultiFrameReassembly(t *testing.T) {
	dev := newFakePeripheral()
	s := NewSession(dev, false)
	if err := s.Subscribe(gopro.CharNetMgmtResp); err != nil {
		t.Fatal(err)
	}

	payload := make([]byte, 50)
	for i := range payload {
		payload[i] = byte(i)
	}
	frames, err := gopro.Fragment(payload)
	if err != nil {
		t.Fatal(err)
	}
	for _, frame := range frames {
		dev.notify(gopro.CharNetMgmtResp, frame)
	}

	got, ok := s.TryPop(gopro.CharNetMgmtResp)
	if !ok {
		t.Fatal("no payload delivered")
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("reassembled payload mismatch")
	}
}

func TestOrphanContinuationDropped(t *testing.T) {
	dev := newFakePeripheral()
	s := NewSession(dev, false)
	if err := s.Subscribe(gopro.CharQueryResp); err != nil {
		t.Fatal(err)
	}

	// A continuation frame with no preceding first fragment is dropped
	// without tearing anything down.
	dev.notify(gopro.CharQueryResp, []byte{0x80, 0x01, 0x02})

	if _, ok := s.TryPop(gopro.CharQueryResp); ok {
		t.Fatal("orphan continuation produced a payload")
	}

	// The next well-formed exchange still works.
	dev.notify(gopro.CharQueryResp, []byte{0x02, 0x13, 0x00})
	got, ok := s.TryPop(gopro.CharQueryResp)
	if !ok {
		t.Fatal("session dead after orphan continuation")
	}
	if !bytes.Equal(got, []byte{0x13, 0x00}) {
		t.Errorf("payload = % x", got)
	}
}

func TestQueueEvictsOldestWhenFull(t *testing.T) {
	dev := newFakePeripheral()
	s := NewSession(dev, false)
	if err := s.Subscribe(gopro.CharCommandResp); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < queueSize+3; i++ {
		dev.notify(gopro.CharCommandResp, []byte{0x01, byte(i)})
	}

	// The first payload popped is the oldest survivor, index 3.
	got, ok := s.TryPop(gopro.CharCommandResp)
	if !ok {
		t.Fatal("queue empty")
	}
	if got[0] != 3 {
		t.Errorf("oldest survivor = %d, want 3", got[0])
	}

	count := 1
	for {
		if _, ok := s.TryPop(gopro.CharCommandResp); !ok {
			break
		}
		count++
	}
	if count != queueSize {
		t.Errorf("queue held %d payloads, want %d", count, queueSize)
	}
}

func TestIndependentCharacteristicQueues(t *testing.T) {
	dev := newFakePeripheral()
	s := NewSession(dev, false)
	if err := s.Subscribe(gopro.CharCommandResp, gopro.CharQueryResp); err != nil {
		t.Fatal(err)
	}

	dev.notify(gopro.CharQueryResp, []byte{0x01, 0xAA})

	// Awaiting on the command channel must not consume the query payload.
	_, err := s.WaitForNotification(context.Background(), gopro.CharCommandResp, 20*time.Millisecond)
	if !errors.Is(err, ErrResponseTimeout) {
		t.Fatalf("err = %v, want ErrResponseTimeout", err)
	}

	got, ok := s.TryPop(gopro.CharQueryResp)
	if !ok || !bytes.Equal(got, []byte{0xAA}) {
		t.Errorf("query payload = % x, ok=%v", got, ok)
	}
}

func TestWriteNotSubscribed(t *testing.T) {
	dev := newFakePeripheral()
	s := NewSession(dev, false)

	_, err := s.WriteAndWait(context.Background(), gopro.CharCommand, gopro.CharCommandResp,
		[]byte{0x01}, time.Second)
	if !errors.Is(err, ErrNotSubscribed) {
		t.Errorf("err = %v, want ErrNotSubscribed", err)
	}
}

func TestWriteFragmentsLargePayload(t *testing.T) {
	dev := newFakePeripheral()
	s := NewSession(dev, false)

	payload := make([]byte, 100)
	if err := s.Write(gopro.CharNetMgmt, payload); err != nil {
		t.Fatal(err)
	}
	frames := dev.writtenFrames(gopro.CharNetMgmt)
	if len(frames) < 2 {
		t.Fatalf("got %d frames, want multiple", len(frames))
	}
	for i, frame := range frames {
		if len(frame) > gopro.MaxPacketSize {
			t.Errorf("frame %d is %d bytes, exceeds %d", i, len(frame), gopro.MaxPacketSize)
		}
	}
}

func TestWriteErrorPropagates(t *testing.T) {
	dev := newFakePeripheral()
	dev.writeErr = fmt.Errorf("gatt failure")
	s := NewSession(dev, false)

	if err := s.Write(gopro.CharCommand, []byte{0x01}); err == nil {
		t.Fatal("expected write error")
	}
}
