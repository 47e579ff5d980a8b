package models

import (
	"time"
)

// COHNCredential is the persisted outcome of provisioning a camera onto the
// local network (Camera On the Home Network). It holds everything needed to
// reach the camera's HTTPS endpoint without BLE.
type COHNCredential struct {
	Serial      string    `json:"serial"`
	Username    string    `json:"username"`
	Password    string    `json:"password"`
	IPAddress   string    `json:"ipAddress"`
	MACAddress  string    `json:"macAddress,omitempty"`
	SSID        string    `json:"ssid,omitempty"`
	Certificate string    `json:"certificate"`
	Degraded    bool      `json:"degraded,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// BaseURL returns the HTTPS base URL of the camera's web server.
func (c *COHNCredential) BaseURL() string {
	return "https://" + c.IPAddress
}

// ProvisionPhase identifies a step of the provisioning sequence for
// progress reporting.
type ProvisionPhase string

const (
	PhaseScanning      ProvisionPhase = "SCANNING"
	PhaseConnecting    ProvisionPhase = "CONNECTING"
	PhaseSubscribing   ProvisionPhase = "SUBSCRIBING"
	PhaseSettingClock  ProvisionPhase = "SETTING_CLOCK"
	PhaseWiFiScan      ProvisionPhase = "WIFI_SCAN"
	PhaseWiFiResults   ProvisionPhase = "WIFI_RESULTS"
	PhaseWiFiConnect   ProvisionPhase = "WIFI_CONNECT"
	PhaseAwaitNetwork  ProvisionPhase = "AWAIT_NETWORK"
	PhaseClearCert     ProvisionPhase = "CLEAR_CERT"
	PhaseCreateCert    ProvisionPhase = "CREATE_CERT"
	PhaseFetchCert     ProvisionPhase = "FETCH_CERT"
	PhaseFetchCreds    ProvisionPhase = "FETCH_CREDENTIALS"
	PhaseEnabling      ProvisionPhase = "ENABLING"
	PhasePersisting    ProvisionPhase = "PERSISTING"
	PhaseDisconnecting ProvisionPhase = "DISCONNECTING"
	PhaseDone          ProvisionPhase = "DONE"
	PhaseFailed        ProvisionPhase = "FAILED"
)

// ProvisionProgress is one progress event emitted during provisioning.
type ProvisionProgress struct {
	Serial  string         `json:"serial"`
	Phase   ProvisionPhase `json:"phase"`
	Step    int            `json:"step"`
	Total   int            `json:"total"`
	Message string         `json:"message,omitempty"`
	Error   string         `json:"error,omitempty"`
}
