package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// Camera serials are the last four characters of the GoPro serial number,
// alphanumeric uppercase. They double as the BLE advertising suffix.
var serialPattern = regexp.MustCompile(`^[A-Z0-9]{4}$`)

// ValidateSerial checks a camera serial identifier.
func ValidateSerial(serial string) error {
	if serial == "" {
		return fmt.Errorf("serial is required")
	}
	if !serialPattern.MatchString(serial) {
		return fmt.Errorf("serial must be 4 uppercase alphanumeric characters, got %q", serial)
	}
	return nil
}

// NormalizeSerial uppercases and trims a user-supplied serial.
func NormalizeSerial(serial string) string {
	return strings.ToUpper(strings.TrimSpace(serial))
}

// ValidateName checks a human-facing label (camera name, shoot name).
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if len(name) > 64 {
		return fmt.Errorf("name exceeds 64 characters")
	}
	return nil
}

// ValidateSSID checks a WiFi network name per 802.11 limits.
func ValidateSSID(ssid string) error {
	if ssid == "" {
		return fmt.Errorf("ssid is required")
	}
	if len(ssid) > 32 {
		return fmt.Errorf("ssid exceeds 32 bytes")
	}
	return nil
}
