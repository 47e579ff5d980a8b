package wifi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var ErrMACNotFound = errors.New("mac address not in arp table")

// LookupIPByMAC scans the host ARP table for an entry matching the given
// hardware address. Cameras DHCP a fresh IP on every network join, but keep
// their MAC, so this recovers a camera's current address after its stored
// one goes stale.
func LookupIPByMAC(ctx context.Context, mac string) (string, error) {
	want := normalizeMAC(mac)
	if want == "" {
		return "", fmt.Errorf("invalid mac %q", mac)
	}

	out, err := run(ctx, "arp", "-a")
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		var ip, hw string
		for _, f := range fields {
			f = strings.Trim(f, "()")
			if hw == "" && normalizeMAC(f) != "" && strings.ContainsAny(f, ":-") {
				hw = normalizeMAC(f)
				continue
			}
			if ip == "" && net.ParseIP(f) != nil {
				ip = f
			}
		}
		if hw == want && ip != "" {
			return ip, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrMACNotFound, mac)
}

// normalizeMAC returns the address as lowercase colon-separated hex, or
// empty if it does not parse. Windows arp prints dashes, BLE stacks print
// colons.
func normalizeMAC(s string) string {
	hw, err := net.ParseMAC(strings.ReplaceAll(s, "-", ":"))
	if err != nil {
		return ""
	}
	return strings.ToLower(hw.String())
}
