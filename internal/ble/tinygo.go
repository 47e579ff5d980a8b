package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"tinygo.org/x/bluetooth"

	"github.com/camrig/camrig-server/pkg/gopro"
)

// BluetoothAdapter implements Adapter on tinygo.org/x/bluetooth, the host OS
// BLE stack. It tracks radio-level link state through the adapter's connect
// handler so Peripheral.Connected reflects silently dropped links, and it
// serializes connection establishment: one host radio cannot reliably open
// connections to multiple peripherals at once.
type BluetoothAdapter struct {
	adapter *bluetooth.Adapter

	scanMu    sync.Mutex // tinygo allows one scan at a time
	connectMu sync.Mutex // serialize connection establishment

	mu        sync.RWMutex
	addresses map[string]bluetooth.Address
	links     map[string]bool
}

// NewBluetoothAdapter enables the default host adapter once and registers the
// link-state handler. Adapter initialization is one-time; callers share the
// returned value across all camera sessions.
func NewBluetoothAdapter() (*BluetoothAdapter, error) {
	a := &BluetoothAdapter{
		adapter:   bluetooth.DefaultAdapter,
		addresses: make(map[string]bluetooth.Address),
		links:     make(map[string]bool),
	}
	if err := a.adapter.Enable(); err != nil {
		return nil, fmt.Errorf("enable bluetooth adapter: %w", err)
	}
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		addr := device.Address.String()
		a.mu.Lock()
		a.links[addr] = connected
		a.mu.Unlock()
		log.Debug().Str("addr", addr).Bool("connected", connected).Msg("radio link state changed")
	})
	return a, nil
}

// ScanByName scans until an advertisement whose local name contains the
// fragment is seen or the window elapses.
func (a *BluetoothAdapter) ScanByName(ctx context.Context, nameContains string, window time.Duration) (*Advertisement, error) {
	var found *Advertisement
	err := a.scan(ctx, window, func(result bluetooth.ScanResult) bool {
		name := result.LocalName()
		if name == "" || !strings.Contains(name, nameContains) {
			return false
		}
		found = &Advertisement{
			Name:    name,
			Address: result.Address.String(),
			RSSI:    result.RSSI,
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%w: no advertisement matching %q within %s", ErrDeviceNotFound, nameContains, window)
	}
	return found, nil
}

// Scan collects every named advertisement seen within the window.
func (a *BluetoothAdapter) Scan(ctx context.Context, window time.Duration) ([]Advertisement, error) {
	seen := make(map[string]Advertisement)
	err := a.scan(ctx, window, func(result bluetooth.ScanResult) bool {
		name := result.LocalName()
		if name == "" {
			return false
		}
		seen[result.Address.String()] = Advertisement{
			Name:    name,
			Address: result.Address.String(),
			RSSI:    result.RSSI,
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	out := make([]Advertisement, 0, len(seen))
	for _, adv := range seen {
		out = append(out, adv)
	}
	return out, nil
}

// scan runs one bounded scan. The stop callback returns true to end early.
func (a *BluetoothAdapter) scan(ctx context.Context, window time.Duration, visit func(bluetooth.ScanResult) bool) error {
	a.scanMu.Lock()
	defer a.scanMu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			a.adapter.StopScan()
			close(done)
		})
	}

	timer := time.AfterFunc(window, stop)
	defer timer.Stop()
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()

	err := a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		a.mu.Lock()
		a.addresses[result.Address.String()] = result.Address
		a.mu.Unlock()
		if visit(result) {
			stop()
		}
	})
	<-done
	if err != nil {
		return fmt.Errorf("ble scan: %w", err)
	}
	return ctx.Err()
}

// Connect opens a connection to a previously scanned address and discovers
// the GoPro control service characteristics.
func (a *BluetoothAdapter) Connect(ctx context.Context, address string, timeout time.Duration) (Peripheral, error) {
	a.connectMu.Lock()
	defer a.connectMu.Unlock()

	a.mu.RLock()
	addr, ok := a.addresses[address]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: address %s was never scanned", ErrDeviceNotFound, address)
	}

	device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{
		ConnectionTimeout: bluetooth.NewDuration(timeout),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnectFailed, address, err)
	}

	p := &bluetoothPeripheral{
		adapter: a,
		device:  device,
		address: address,
		chars:   make(map[string]bluetooth.DeviceCharacteristic),
	}
	if err := p.discover(); err != nil {
		// Never leave a half-open handle behind a failed setup.
		_ = device.Disconnect()
		return nil, err
	}

	a.mu.Lock()
	a.links[address] = true
	a.mu.Unlock()
	return p, nil
}

func (a *BluetoothAdapter) linkUp(address string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.links[address]
}

type bluetoothPeripheral struct {
	adapter *BluetoothAdapter
	device  bluetooth.Device
	address string

	mu    sync.RWMutex
	chars map[string]bluetooth.DeviceCharacteristic
}

// discover resolves the control-service characteristics once at connect time.
func (p *bluetoothPeripheral) discover() error {
	serviceUUID, err := bluetooth.ParseUUID(gopro.ServiceControl)
	if err != nil {
		return fmt.Errorf("parse service uuid: %w", err)
	}
	services, err := p.device.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil {
		return fmt.Errorf("discover control service: %w", err)
	}
	if len(services) == 0 {
		return fmt.Errorf("control service %s not present", gopro.ServiceControl)
	}

	chars, err := services[0].DiscoverCharacteristics(nil)
	if err != nil {
		return fmt.Errorf("discover characteristics: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range chars {
		p.chars[strings.ToLower(c.UUID().String())] = c
	}
	return nil
}

func (p *bluetoothPeripheral) char(uuid string) (bluetooth.DeviceCharacteristic, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.chars[strings.ToLower(uuid)]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("characteristic %s not discovered", uuid)
	}
	return c, nil
}

func (p *bluetoothPeripheral) WriteCharacteristic(char string, data []byte) error {
	c, err := p.char(char)
	if err != nil {
		return err
	}
	if _, err := c.WriteWithoutResponse(data); err != nil {
		return fmt.Errorf("write characteristic %s: %w", char, err)
	}
	return nil
}

func (p *bluetoothPeripheral) EnableNotifications(char string, fn func(data []byte)) error {
	c, err := p.char(char)
	if err != nil {
		return err
	}
	return c.EnableNotifications(fn)
}

// Connected consults the adapter's link-state map, fed by the connect
// handler, rather than the mere existence of this handle.
func (p *bluetoothPeripheral) Connected() bool {
	return p.adapter.linkUp(p.address)
}

func (p *bluetoothPeripheral) Address() string {
	return p.address
}

func (p *bluetoothPeripheral) Disconnect() error {
	err := p.device.Disconnect()
	p.adapter.mu.Lock()
	p.adapter.links[p.address] = false
	p.adapter.mu.Unlock()
	return err
}
