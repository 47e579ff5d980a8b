package cohn

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/camrig/camrig-server/internal/ble"
	"github.com/camrig/camrig-server/internal/models"
	"github.com/camrig/camrig-server/internal/wifi"
	"github.com/camrig/camrig-server/pkg/gopro"
)

const totalSteps = 15

// fallbackPassword stands in when firmware omits the basic-auth password
// from the COHN status. Current models all use this value; the credential
// is flagged degraded so the operator knows it was assumed, not reported.
const fallbackPassword = "gopro_cohn"

// stepBudgets are the wait windows of the individual provisioning steps.
// They live on the Manager so tests can shorten them; the overall run is
// additionally bounded by the provisioning deadline.
type stepBudgets struct {
	scanWindow     time.Duration // scan-complete notification
	assocWindow    time.Duration // provisioning-state notifications after join
	statusWindow   time.Duration // network-state polling
	statusInterval time.Duration
	gracePeriod    time.Duration // final wait when the network state stays unconfirmed
	certAttempts   int
	certGap        time.Duration
}

func defaultBudgets() stepBudgets {
	return stepBudgets{
		scanWindow:     30 * time.Second,
		assocWindow:    60 * time.Second,
		statusWindow:   90 * time.Second,
		statusInterval: 3 * time.Second,
		gracePeriod:    15 * time.Second,
		certAttempts:   5,
		certGap:        2 * time.Second,
	}
}

// sequence holds the state threaded through one provisioning run.
type sequence struct {
	m        *Manager
	serial   string
	progress ProgressFunc
	session  *ble.Session
	step     int
}

func (s *sequence) emit(phase models.ProvisionPhase, message string) {
	s.step++
	log.Info().Str("serial", s.serial).Int("step", s.step).Str("phase", string(phase)).Msg(message)
	s.progress(models.ProvisionProgress{
		Serial: s.serial, Phase: phase,
		Step: s.step, Total: totalSteps, Message: message,
	})
}

// runSequence executes the provisioning steps in order. The middle of the
// sequence degrades rather than aborts: scan confirmation, the association
// notification and the network-state poll are all unreliable on some
// firmware, so their failures carry forward and only "no valid IP after
// every recovery attempt" is fatal. Certificate creation and persistence
// stay fatal.
func (m *Manager) runSequence(ctx context.Context, serial string, progress ProgressFunc) (*models.COHNCredential, error) {
	s := &sequence{m: m, serial: serial, progress: progress}

	// 1. Scan
	s.emit(models.PhaseScanning, "scanning for camera")
	adv, err := m.adapter.ScanByName(ctx, "GoPro "+serial, m.timing.ScanWindow)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	// 2. Connect
	s.emit(models.PhaseConnecting, "connecting "+adv.Address)
	dev, err := m.adapter.Connect(ctx, adv.Address, m.timing.ConnectTimeout)
	if err != nil {
		return nil, err
	}
	s.session = ble.NewSession(dev, false)
	defer func() {
		if s.session != nil {
			_ = s.session.Close()
		}
	}()

	// 3. Subscribe
	s.emit(models.PhaseSubscribing, "subscribing response characteristics")
	if err := s.session.Subscribe(gopro.ResponseChars...); err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	// 4. Set clock. Certificate validity starts at the camera clock, so a
	// wildly wrong clock breaks TLS later; a failed set is still survivable.
	s.emit(models.PhaseSettingClock, "syncing camera clock")
	if _, err := s.exchange(ctx, gopro.CharCommand, gopro.CharCommandResp, gopro.SetDateTimeBody(time.Now())); err != nil {
		log.Warn().Str("serial", serial).Err(err).Msg("clock sync failed, continuing")
	}

	// 5. Start WiFi scan
	s.emit(models.PhaseWiFiScan, "starting access point scan")
	scanID := s.wifiScan(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 6. Fetch scan results. Presence of the target SSID is checked best
	// effort; the join attempt is authoritative.
	s.emit(models.PhaseWiFiResults, "fetching scan results")
	if found, err := s.ssidSeen(ctx, scanID); err != nil {
		log.Warn().Str("serial", serial).Err(err).Msg("scan results unavailable, continuing")
	} else if !found {
		log.Warn().Str("serial", serial).Str("ssid", m.cfg.SSID).Msg("target ssid not in scan results, attempting join anyway")
	}

	// 7. Join the network. An unconfirmed or failed join still falls
	// through to the network-state poll, which is authoritative.
	s.emit(models.PhaseWiFiConnect, "joining "+m.cfg.SSID)
	if _, err := s.exchange(ctx, gopro.CharNetMgmt, gopro.CharNetMgmtResp, gopro.ConnectNewBody(m.cfg.SSID, m.cfg.Password)); err != nil {
		log.Warn().Str("serial", serial).Err(err).Msg("join request unconfirmed, polling network state anyway")
	} else {
		s.awaitAssociation(ctx)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 8. Await network connected
	s.emit(models.PhaseAwaitNetwork, "waiting for network association")
	discoveredIP := s.awaitNetwork(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 9. Clear any stale certificate
	s.emit(models.PhaseClearCert, "clearing previous certificate")
	if _, err := s.exchange(ctx, gopro.CharCommand, gopro.CharCommandResp, gopro.ClearCOHNCertBody()); err != nil {
		log.Warn().Str("serial", serial).Err(err).Msg("cert clear failed, continuing")
	}

	// 10. Create certificate
	s.emit(models.PhaseCreateCert, "creating certificate")
	if _, err := s.exchange(ctx, gopro.CharCommand, gopro.CharCommandResp, gopro.CreateCOHNCertBody()); err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}

	// 11. Fetch certificate
	s.emit(models.PhaseFetchCert, "fetching certificate")
	cert := s.fetchCertificate(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 12. Fetch credentials from COHN status
	s.emit(models.PhaseFetchCreds, "fetching network credentials")
	cred, err := s.fetchCredential(ctx, discoveredIP)
	if err != nil {
		return nil, err
	}
	cred.Certificate = cert
	if cert == "" {
		cred.Degraded = true
	}

	// 13. Enable COHN
	s.emit(models.PhaseEnabling, "enabling camera network mode")
	if _, err := s.exchange(ctx, gopro.CharCommand, gopro.CharCommandResp, gopro.SetCOHNEnabledBody(true)); err != nil {
		log.Warn().Str("serial", serial).Err(err).Msg("enable command failed, continuing")
	}

	// 14. Persist
	s.emit(models.PhasePersisting, "saving credential")
	if err := m.store.SaveCOHNCredential(ctx, cred); err != nil {
		return nil, fmt.Errorf("persist credential: %w", err)
	}

	// 15. Disconnect
	s.emit(models.PhaseDisconnecting, "disconnecting")
	_ = s.session.Close()
	s.session = nil

	s.progress(models.ProvisionProgress{
		Serial: s.serial, Phase: models.PhaseDone,
		Step: totalSteps, Total: totalSteps, Message: "provisioned " + cred.IPAddress,
	})
	return cred, nil
}

func (s *sequence) exchange(ctx context.Context, writeChar, notifyChar string, payload []byte) ([]byte, error) {
	return s.session.WriteAndWait(ctx, writeChar, notifyChar, payload, s.m.timing.ResponseTimeout)
}

// wifiScan starts an AP scan and waits for the completion notification.
// Some firmware completes the scan without ever confirming it, so an
// unconfirmed or aborted scan degrades to whatever scan id was last seen
// (zero included) instead of failing the run.
func (s *sequence) wifiScan(ctx context.Context) uint64 {
	s.session.Drain(gopro.CharNetMgmtResp)
	if err := s.session.Write(gopro.CharNetMgmt, gopro.ScanStartBody()); err != nil {
		log.Warn().Str("serial", s.serial).Err(err).Msg("scan request failed, continuing")
		return 0
	}

	var scanID uint64
	deadline := time.Now().Add(s.m.waits.scanWindow)
	for time.Now().Before(deadline) && ctx.Err() == nil {
		payload, err := s.session.WaitForNotification(ctx, gopro.CharNetMgmtResp, time.Until(deadline))
		if err != nil {
			break
		}
		if !gopro.IsNotification(payload, gopro.FeatureNetwork, gopro.ActionNotifScanning) &&
			!gopro.IsNotification(payload, gopro.FeatureNetwork, gopro.ActionScanStart) {
			continue
		}
		fields, ok := gopro.ParseStatusFields(payload, 1, 2)
		if !ok {
			continue
		}
		if id, ok := fields.Uint(2); ok {
			scanID = id
		}
		switch state, _ := fields.Uint(1); state {
		case gopro.ScanningSuccess:
			return scanID
		case gopro.ScanningAborted, gopro.ScanningCancelled:
			log.Warn().Str("serial", s.serial).Uint64("state", state).Msg("scan ended early, continuing")
			return scanID
		}
	}
	log.Warn().Str("serial", s.serial).Uint64("scan_id", scanID).Msg("scan completion unconfirmed, continuing with last seen scan id")
	return scanID
}

// ssidSeen fetches AP entries for a scan and looks for the target SSID.
// Entries are nested messages; a raw byte search is enough for a presence
// check.
func (s *sequence) ssidSeen(ctx context.Context, scanID uint64) (bool, error) {
	resp, err := s.exchange(ctx, gopro.CharNetMgmt, gopro.CharNetMgmtResp, gopro.GetAPEntriesBody(scanID))
	if err != nil {
		return false, err
	}
	return bytes.Contains(resp, []byte(s.m.cfg.SSID)), nil
}

// awaitAssociation consumes provisioning-state notifications after a join
// request. Success and failure states both just stop the wait: the state
// notification is unreliable on some firmware, so even a reported failure
// falls through to the network-state poll instead of aborting the run.
func (s *sequence) awaitAssociation(ctx context.Context) {
	deadline := time.Now().Add(s.m.waits.assocWindow)
	for time.Now().Before(deadline) && ctx.Err() == nil {
		payload, err := s.session.WaitForNotification(ctx, gopro.CharNetMgmtResp, time.Until(deadline))
		if err != nil {
			break
		}
		if !gopro.IsNotification(payload, gopro.FeatureNetwork, gopro.ActionNotifProvState) &&
			!gopro.IsNotification(payload, gopro.FeatureNetwork, gopro.ActionConnectNew) {
			continue
		}
		fields, ok := gopro.ParseStatusFields(payload, 1)
		if !ok {
			continue
		}
		switch state, _ := fields.Uint(1); state {
		case gopro.ProvisioningSuccessNewAP, gopro.ProvisioningSuccessOldAP:
			log.Info().Str("serial", s.serial).Msg("association confirmed")
			return
		case gopro.ProvisioningAbortedRemainOn, gopro.ProvisioningAbortedRevert, gopro.ProvisioningError:
			log.Warn().Str("serial", s.serial).Uint64("state", state).Msg("association reported failure, polling network state anyway")
			return
		}
	}
	log.Warn().Str("serial", s.serial).Msg("association unconfirmed, polling network state anyway")
}

// awaitNetwork polls COHN status for a connected state or a populated IP
// and returns any IP it saw. When the window closes unconfirmed it drains
// out-of-band status pushes for a late IP, then sits out a grace period;
// the credential read in step 12 gets one more chance either way.
func (s *sequence) awaitNetwork(ctx context.Context) string {
	var discoveredIP string
	deadline := time.Now().Add(s.m.waits.statusWindow)
	for time.Now().Before(deadline) && ctx.Err() == nil {
		resp, err := s.exchange(ctx, gopro.CharQuery, gopro.CharQueryResp, gopro.COHNStatusBody())
		if err == nil {
			fields, ok := gopro.ParseStatusFields(resp,
				gopro.COHNFieldState, gopro.COHNFieldIP, gopro.COHNFieldUsername)
			if ok {
				if ip, _ := fields.String(gopro.COHNFieldIP); validIP(ip) {
					discoveredIP = ip
				}
				state, _ := fields.Uint(gopro.COHNFieldState)
				if state == gopro.COHNStateConnected || discoveredIP != "" {
					return discoveredIP
				}
			}
		}
		select {
		case <-time.After(s.m.waits.statusInterval):
		case <-ctx.Done():
			return discoveredIP
		}
	}

	// A status push may have arrived outside an exchange window.
	for {
		payload, ok := s.session.TryPop(gopro.CharQueryResp)
		if !ok {
			break
		}
		fields, ok := gopro.ParseStatusFields(payload, gopro.COHNFieldState, gopro.COHNFieldIP)
		if !ok {
			continue
		}
		if ip, _ := fields.String(gopro.COHNFieldIP); validIP(ip) {
			log.Info().Str("serial", s.serial).Str("ip", ip).Msg("ip arrived in out-of-band status push")
			return ip
		}
	}

	log.Info().Str("serial", s.serial).Msg("network state unconfirmed, waiting before credential read")
	select {
	case <-time.After(s.m.waits.gracePeriod):
	case <-ctx.Done():
	}
	return discoveredIP
}

// fetchCertificate retries the cert query briefly: the camera needs a
// moment after creation before the certificate is readable. A response
// that never carries a PEM block degrades to an empty certificate; the
// HTTPS client runs without verification, so reachability survives.
func (s *sequence) fetchCertificate(ctx context.Context) string {
	for attempt := 0; attempt < s.m.waits.certAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(s.m.waits.certGap):
			case <-ctx.Done():
				return ""
			}
		}
		resp, err := s.exchange(ctx, gopro.CharQuery, gopro.CharQueryResp, gopro.COHNCertBody())
		if err != nil {
			continue
		}
		if cert, ok := gopro.ParseCertificate(resp); ok {
			return cert
		}
	}
	log.Warn().Str("serial", s.serial).Msg("certificate unavailable, storing credential without it")
	return ""
}

// fetchCredential reads username/password/IP/MAC from COHN status. A
// missing IP falls back to the one seen while polling the network state,
// then to a host ARP table lookup keyed by the fetched MAC. Failing the
// minimal dotted-IP check after every fallback is what finally aborts.
func (s *sequence) fetchCredential(ctx context.Context, discoveredIP string) (*models.COHNCredential, error) {
	var fields gopro.Fields
	resp, err := s.exchange(ctx, gopro.CharQuery, gopro.CharQueryResp, gopro.COHNStatusBody())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.Warn().Str("serial", s.serial).Err(err).Msg("credential read failed, relying on recovery")
	} else {
		fields, _ = gopro.ParseStatusFields(resp,
			gopro.COHNFieldState, gopro.COHNFieldIP, gopro.COHNFieldUsername)
	}
	cred := s.credentialFromFields(fields)

	if !validIP(cred.IPAddress) && discoveredIP != "" {
		log.Info().Str("serial", s.serial).Str("ip", discoveredIP).Msg("using ip from network-state polling")
		cred.IPAddress = discoveredIP
	}
	if !validIP(cred.IPAddress) && cred.MACAddress != "" {
		if ip, err := wifi.LookupIPByMAC(ctx, cred.MACAddress); err == nil {
			log.Info().Str("serial", s.serial).Str("ip", ip).Msg("recovered camera ip from arp table")
			cred.IPAddress = ip
		}
	}
	if !validIP(cred.IPAddress) {
		return nil, fmt.Errorf("%w: no valid ip after all recovery attempts (got %q)", ErrProvisionFailed, cred.IPAddress)
	}
	return cred, nil
}

// validIP is the minimal dotted sanity check applied before persisting.
func validIP(ip string) bool {
	return strings.Contains(ip, ".")
}

func (s *sequence) credentialFromFields(fields gopro.Fields) *models.COHNCredential {
	cred := &models.COHNCredential{Serial: s.serial}
	cred.IPAddress, _ = fields.String(gopro.COHNFieldIP)
	cred.Username, _ = fields.String(gopro.COHNFieldUsername)
	cred.Password, _ = fields.String(gopro.COHNFieldPassword)
	cred.SSID, _ = fields.String(gopro.COHNFieldSSID)
	cred.MACAddress, _ = fields.String(gopro.COHNFieldMAC)
	if cred.Username == "" {
		cred.Username = "gopro"
		cred.Degraded = true
	}
	if cred.Password == "" {
		cred.Password = fallbackPassword
		cred.Degraded = true
	}
	return cred
}
