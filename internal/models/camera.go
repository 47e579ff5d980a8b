package models

import (
	"time"
)

// ConnectionState represents the lifecycle state of a camera's BLE link
type ConnectionState string

const (
	StateDisconnected ConnectionState = "DISCONNECTED"
	StateConnecting   ConnectionState = "CONNECTING"
	StateConnected    ConnectionState = "CONNECTED"
	StateError        ConnectionState = "ERROR"
)

// CameraConfig is the persisted registration of a camera in the rig roster.
// Serial is the four-digit suffix of the camera's advertised BLE name.
type CameraConfig struct {
	Serial   string `json:"serial"`
	Name     string `json:"name"`
	Model    string `json:"model,omitempty"`
	Position int    `json:"position"`
	Enabled  bool   `json:"enabled"`

	// Camera AP credentials, for the legacy WiFi-direct path.
	APSSID     string `json:"apSsid,omitempty"`
	APPassword string `json:"apPassword,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BLEName returns the advertised local name of the camera.
func (c *CameraConfig) BLEName() string {
	return "GoPro " + c.Serial
}

// CameraStatus is the live view of one camera, broadcast to clients on
// every state transition and status sweep.
type CameraStatus struct {
	Serial         string          `json:"serial"`
	Name           string          `json:"name"`
	State          ConnectionState `json:"state"`
	Recording      bool            `json:"recording"`
	BatteryPercent int             `json:"batteryPercent"`
	BatteryDrain   float64         `json:"batteryDrainPerHour"`
	RSSI           int16           `json:"rssi,omitempty"`
	LastSeen       time.Time       `json:"lastSeen,omitempty"`
	LastError      string          `json:"lastError,omitempty"`
}

// ShutterResult reports the outcome of one camera's shutter command within
// a batch operation. A batch result always contains one entry per enabled,
// connected camera, success or not.
type ShutterResult struct {
	Serial  string `json:"serial"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Retried bool   `json:"retried,omitempty"`
}

// ShutterBatch is the aggregate outcome of a start-all or stop-all.
type ShutterBatch struct {
	Mode      string          `json:"mode"`
	StartedAt time.Time       `json:"startedAt"`
	Elapsed   float64         `json:"elapsedSeconds"`
	Results   []ShutterResult `json:"results"`
}

// AllOK reports whether every camera in the batch accepted the command.
func (b *ShutterBatch) AllOK() bool {
	for _, r := range b.Results {
		if !r.OK {
			return false
		}
	}
	return true
}
