package ble

import (
	"context"
	"errors"
	"time"
)

// Common errors
var (
	ErrDeviceNotFound  = errors.New("device not found")
	ErrConnectFailed   = errors.New("connect failed")
	ErrResponseTimeout = errors.New("response timeout")
	ErrNotConnected    = errors.New("not connected")
	ErrNotSubscribed   = errors.New("characteristic not subscribed")
)

// Advertisement is one discovered BLE device.
type Advertisement struct {
	Name    string
	Address string
	RSSI    int16
}

// Peripheral is a connected BLE device. The core owns its transport
// primitives directly: raw characteristic writes and notification
// subscriptions are all it asks of the OS BLE stack.
type Peripheral interface {
	// WriteCharacteristic writes one frame to a characteristic.
	WriteCharacteristic(char string, data []byte) error

	// EnableNotifications registers a callback for a notify characteristic.
	// The callback runs on the stack's delivery path and must not block.
	EnableNotifications(char string, fn func(data []byte)) error

	// Connected reports the radio-level link state, not merely whether the
	// handle object exists. The OS stack can drop a link without an
	// explicit disconnect event (sleep/wake, out of range).
	Connected() bool

	Address() string
	Disconnect() error
}

// Adapter abstracts the host BLE adapter: discovery by advertised name and
// connection establishment. Connect attempts against the single shared radio
// must be serialized by the caller; concurrent connects from one host adapter
// to multiple peripherals are unreliable.
type Adapter interface {
	// ScanByName scans until a device whose advertised name contains the
	// given fragment is seen, or the window elapses (ErrDeviceNotFound).
	ScanByName(ctx context.Context, nameContains string, window time.Duration) (*Advertisement, error)

	// Scan collects every advertisement seen within the window.
	Scan(ctx context.Context, window time.Duration) ([]Advertisement, error)

	// Connect establishes a connection to a previously scanned address.
	Connect(ctx context.Context, address string, timeout time.Duration) (Peripheral, error)
}
