// Package wifi shells out to the host platform's network tooling: connecting
// the host to an access point and resolving camera IPs from the ARP table.
package wifi

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/rs/zerolog/log"
)

var ErrUnsupportedPlatform = errors.New("unsupported platform")

// CurrentSSID reports the SSID the host is currently associated with, or
// empty when not associated.
func CurrentSSID(ctx context.Context) (string, error) {
	switch runtime.GOOS {
	case "darwin":
		out, err := run(ctx, "networksetup", "-getairportnetwork", "en0")
		if err != nil {
			return "", err
		}
		// "Current Wi-Fi Network: <ssid>"
		if idx := strings.Index(out, ": "); idx >= 0 {
			return strings.TrimSpace(out[idx+2:]), nil
		}
		return "", nil
	case "linux":
		out, err := run(ctx, "nmcli", "-t", "-f", "active,ssid", "dev", "wifi")
		if err != nil {
			return "", err
		}
		for _, line := range strings.Split(out, "\n") {
			if ssid, ok := strings.CutPrefix(line, "yes:"); ok {
				return ssid, nil
			}
		}
		return "", nil
	case "windows":
		out, err := run(ctx, "netsh", "wlan", "show", "interfaces")
		if err != nil {
			return "", err
		}
		for _, line := range strings.Split(out, "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "SSID") && !strings.HasPrefix(line, "SSID BSSID") {
				if idx := strings.Index(line, ": "); idx >= 0 {
					return strings.TrimSpace(line[idx+2:]), nil
				}
			}
		}
		return "", nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedPlatform, runtime.GOOS)
	}
}

// Connect associates the host with the given access point. On Windows a
// saved profile for the SSID must already exist.
func Connect(ctx context.Context, ssid, password string) error {
	log.Info().Str("ssid", ssid).Msg("connecting host wifi")
	switch runtime.GOOS {
	case "darwin":
		_, err := run(ctx, "networksetup", "-setairportnetwork", "en0", ssid, password)
		return err
	case "linux":
		_, err := run(ctx, "nmcli", "dev", "wifi", "connect", ssid, "password", password)
		return err
	case "windows":
		_, err := run(ctx, "netsh", "wlan", "connect", "name="+ssid)
		return err
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedPlatform, runtime.GOOS)
	}
}

func run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}
