package gopro

import (
	"bytes"
	"time"
)

// GoPro control service and the characteristics this system uses. Command,
// query and network-management exchanges each run on an independent
// write/notify characteristic pair.
const (
	ServiceControl = "0000fea6-0000-1000-8000-00805f9b34fb"

	CharCommand     = "b5f90072-aa8d-11e3-9046-0002a5d5c51b"
	CharCommandResp = "b5f90073-aa8d-11e3-9046-0002a5d5c51b"
	CharSetting     = "b5f90074-aa8d-11e3-9046-0002a5d5c51b"
	CharSettingResp = "b5f90075-aa8d-11e3-9046-0002a5d5c51b"
	CharQuery       = "b5f90076-aa8d-11e3-9046-0002a5d5c51b"
	CharQueryResp   = "b5f90077-aa8d-11e3-9046-0002a5d5c51b"
	CharNetMgmt     = "b5f90091-aa8d-11e3-9046-0002a5d5c51b"
	CharNetMgmtResp = "b5f90092-aa8d-11e3-9046-0002a5d5c51b"
)

// ResponseChars lists every notify characteristic a session subscribes to.
var ResponseChars = []string{CharCommandResp, CharSettingResp, CharQueryResp, CharNetMgmtResp}

// Protobuf feature/action identifiers.
const (
	FeatureNetwork = 0x02
	FeatureCommand = 0xF1
	FeatureQuery   = 0xF5

	ActionScanStart      = 0x02
	ActionGetAPEntries   = 0x03
	ActionConnectNew     = 0x05
	ActionNotifScanning  = 0x0B
	ActionNotifProvState = 0x0C

	ActionSetCOHNSetting = 0x65
	ActionClearCOHNCert  = 0x66
	ActionCreateCOHNCert = 0x67

	ActionGetCOHNCert   = 0x6E
	ActionGetCOHNStatus = 0x6F
)

// EnumScanning states carried by the scan notification (field 1).
const (
	ScanningNeverStarted = 1
	ScanningStarted      = 2
	ScanningAborted      = 3
	ScanningCancelled    = 4
	ScanningSuccess      = 5
)

// EnumProvisioning states carried by the provisioning notification (field 1).
const (
	ProvisioningStarted         = 0
	ProvisioningNotStarted      = 1
	ProvisioningAbortedRemainOn = 2
	ProvisioningAbortedRevert   = 3
	ProvisioningError           = 4
	ProvisioningSuccessNewAP    = 5
	ProvisioningSuccessOldAP    = 6
)

// EnumCOHNNetworkState values observed in COHN status (field 2).
const (
	COHNStateInit         = 0
	COHNStateError        = 1
	COHNStateExit         = 2
	COHNStateIdle         = 5
	COHNStateConnected    = 27
	COHNStateDisconnected = 28
	COHNStateConnecting   = 29
	COHNStateInvalid      = 30
)

// NotifyCOHNStatus field numbers.
const (
	COHNFieldStatus   = 1
	COHNFieldState    = 2
	COHNFieldUsername = 3
	COHNFieldPassword = 4
	COHNFieldIP       = 5
	COHNFieldEnabled  = 6
	COHNFieldSSID     = 7
	COHNFieldMAC      = 8
)

// Direct (non-protobuf) command and status identifiers.
const (
	CmdSetDateTime     = 0x0F
	CmdQueryStatus     = 0x13
	StatusBatteryPct   = 70
	StatusEncoding     = 10
	SettingKeepAliveID = 0x5B
)

// Command builds a protobuf command body: [feature, action, payload...].
// Framing is applied separately by Fragment.
func Command(feature, action byte, payload []byte) []byte {
	body := make([]byte, 0, 2+len(payload))
	body = append(body, feature, action)
	return append(body, payload...)
}

// ShutterFrame returns the complete single-packet shutter command frame,
// ready for a raw characteristic write. Building the frame directly keeps the
// fire-and-forget path to a single write call per camera.
func ShutterFrame(on bool) []byte {
	v := byte(0x00)
	if on {
		v = 0x01
	}
	return []byte{0x03, 0x01, 0x01, v}
}

// SetDateTimeBody builds the set-date/time command body for the command
// characteristic: command id followed by big-endian year and the remaining
// calendar bytes.
func SetDateTimeBody(t time.Time) []byte {
	year := t.Year()
	return []byte{
		CmdSetDateTime,
		byte(year >> 8), byte(year),
		byte(t.Month()), byte(t.Day()),
		byte(t.Hour()), byte(t.Minute()), byte(t.Second()),
	}
}

// QueryStatusBody builds a status query body for the query characteristic.
func QueryStatusBody(ids ...byte) []byte {
	return append([]byte{CmdQueryStatus}, ids...)
}

// KeepAliveBody is the lightweight keep-alive write for the setting
// characteristic, used as the health probe round-trip.
func KeepAliveBody() []byte {
	return []byte{SettingKeepAliveID, 0x01, 0x42}
}

// ScanStartBody builds the AP scan request.
func ScanStartBody() []byte {
	return Command(FeatureNetwork, ActionScanStart, nil)
}

// GetAPEntriesBody builds the scan-result request for a scan session.
func GetAPEntriesBody(scanID uint64) []byte {
	payload := append(EncodeIntField(1, 0), EncodeIntField(2, 100)...)
	payload = append(payload, EncodeIntField(3, scanID)...)
	return Command(FeatureNetwork, ActionGetAPEntries, payload)
}

// ConnectNewBody builds the request that joins the camera to an AP. This
// payload reliably exceeds single-packet size and must be fragmented.
func ConnectNewBody(ssid, password string) []byte {
	payload := append(EncodeStringField(1, ssid), EncodeStringField(2, password)...)
	return Command(FeatureNetwork, ActionConnectNew, payload)
}

// COHNStatusBody builds the COHN status query. register_cohn_status must be
// set or the camera returns an empty response.
func COHNStatusBody() []byte {
	return Command(FeatureQuery, ActionGetCOHNStatus, EncodeBoolField(1, true))
}

// COHNCertBody builds the certificate fetch query.
func COHNCertBody() []byte {
	return Command(FeatureQuery, ActionGetCOHNCert, nil)
}

// ClearCOHNCertBody builds the certificate clear command.
func ClearCOHNCertBody() []byte {
	return Command(FeatureCommand, ActionClearCOHNCert, nil)
}

// CreateCOHNCertBody builds the certificate creation command with override.
func CreateCOHNCertBody() []byte {
	return Command(FeatureCommand, ActionCreateCOHNCert, EncodeBoolField(1, true))
}

// SetCOHNEnabledBody builds the COHN enable/disable command.
func SetCOHNEnabledBody(enabled bool) []byte {
	return Command(FeatureCommand, ActionSetCOHNSetting, EncodeBoolField(1, enabled))
}

// IsNotification reports whether a reassembled payload is the given
// asynchronous feature/action notification.
func IsNotification(payload []byte, feature, action byte) bool {
	return len(payload) >= 2 && payload[0] == feature && payload[1] == action
}

// ParseStatusFields decodes the protobuf portion of a command/query response.
//
// Some firmware responses prefix the body with [feature, action] and others
// additionally prepend a result-code byte. The framing is inconsistently
// documented, so this tries offset 3 first and sanity-checks that at least
// one expected field number decoded, then falls back to offset 2. This is a
// best-effort disambiguation, not a fixed contract.
func ParseStatusFields(resp []byte, expect ...int) (Fields, bool) {
	if len(resp) <= 2 {
		return nil, false
	}
	if len(expect) == 0 {
		expect = []int{1, 2, 3, 4, 5, 6, 7, 8}
	}
	for _, offset := range []int{3, 2} {
		if len(resp) <= offset {
			continue
		}
		fields, err := DecodeFields(resp[offset:])
		if err != nil || len(fields) == 0 {
			continue
		}
		for _, num := range expect {
			if _, ok := fields[num]; ok {
				return fields, true
			}
		}
	}
	fields, err := DecodeFields(resp[2:])
	if err != nil || len(fields) == 0 {
		return nil, false
	}
	return fields, true
}

// ParseCertificate extracts the PEM certificate from a cert response, trying
// the same two candidate offsets and field 2 with field 1 as fallback.
func ParseCertificate(resp []byte) (string, bool) {
	for _, offset := range []int{3, 2} {
		if len(resp) <= offset {
			continue
		}
		fields, err := DecodeFields(resp[offset:])
		if err != nil {
			continue
		}
		for _, num := range []int{2, 1} {
			if raw, ok := fields.Bytes(num); ok && bytes.Contains(raw, []byte("BEGIN")) {
				return string(raw), true
			}
		}
	}
	return "", false
}
