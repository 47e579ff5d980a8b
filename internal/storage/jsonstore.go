package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/camrig/camrig-server/internal/models"
)

const (
	camerasFile     = "cameras.json"
	credentialsFile = "cohn_credentials.json"
	shootsFile      = "shoots.json"
	presetsFile     = "camera_presets.json"
	eventsFile      = "events.json"

	// maxEvents bounds the persisted event log.
	maxEvents = 500
)

// JSONStore implements Store on flat JSON files in a data directory. All
// state fits comfortably in memory for a rig of a few dozen cameras;
// every mutation rewrites the affected file atomically via rename.
type JSONStore struct {
	mu  sync.RWMutex
	dir string

	cameras     map[string]*models.CameraConfig
	credentials map[string]*models.COHNCredential
	shoots      map[uuid.UUID]*models.Shoot
	presets     map[uuid.UUID]*models.Preset
	events      []*models.EventLog
}

// NewJSONStore opens (creating if needed) the data directory and loads all
// collections.
func NewJSONStore(dir string) (*JSONStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	s := &JSONStore{
		dir:         dir,
		cameras:     make(map[string]*models.CameraConfig),
		credentials: make(map[string]*models.COHNCredential),
		shoots:      make(map[uuid.UUID]*models.Shoot),
		presets:     make(map[uuid.UUID]*models.Preset),
	}

	var cameras []*models.CameraConfig
	if err := s.loadFile(camerasFile, &cameras); err != nil {
		return nil, err
	}
	for _, c := range cameras {
		s.cameras[c.Serial] = c
	}

	var creds []*models.COHNCredential
	if err := s.loadFile(credentialsFile, &creds); err != nil {
		return nil, err
	}
	for _, c := range creds {
		s.credentials[c.Serial] = c
	}

	var shoots []*models.Shoot
	if err := s.loadFile(shootsFile, &shoots); err != nil {
		return nil, err
	}
	for _, sh := range shoots {
		s.shoots[sh.ID] = sh
	}

	var presets []*models.Preset
	if err := s.loadFile(presetsFile, &presets); err != nil {
		return nil, err
	}
	for _, p := range presets {
		s.presets[p.ID] = p
	}

	if err := s.loadFile(eventsFile, &s.events); err != nil {
		return nil, err
	}

	log.Info().
		Str("dir", dir).
		Int("cameras", len(s.cameras)).
		Int("credentials", len(s.credentials)).
		Int("shoots", len(s.shoots)).
		Int("presets", len(s.presets)).
		Msg("storage loaded")
	return s, nil
}

func (s *JSONStore) loadFile(name string, v interface{}) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrInvalidData, name, err)
	}
	return nil
}

// saveFile writes a collection to its file atomically. Callers hold s.mu.
func (s *JSONStore) saveFile(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

// Camera roster methods

func (s *JSONStore) CreateCamera(ctx context.Context, camera *models.CameraConfig) error {
	if camera.Serial == "" {
		return fmt.Errorf("%w: empty serial", ErrInvalidData)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cameras[camera.Serial]; ok {
		return fmt.Errorf("%w: camera %s", ErrDuplicateKey, camera.Serial)
	}
	now := time.Now().UTC()
	camera.CreatedAt = now
	camera.UpdatedAt = now
	s.cameras[camera.Serial] = camera
	return s.saveCameras()
}

func (s *JSONStore) GetCamera(ctx context.Context, serial string) (*models.CameraConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cameras[serial]
	if !ok {
		return nil, fmt.Errorf("%w: camera %s", ErrNotFound, serial)
	}
	cp := *c
	return &cp, nil
}

func (s *JSONStore) UpdateCamera(ctx context.Context, camera *models.CameraConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.cameras[camera.Serial]
	if !ok {
		return fmt.Errorf("%w: camera %s", ErrNotFound, camera.Serial)
	}
	camera.CreatedAt = existing.CreatedAt
	camera.UpdatedAt = time.Now().UTC()
	s.cameras[camera.Serial] = camera
	return s.saveCameras()
}

func (s *JSONStore) DeleteCamera(ctx context.Context, serial string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cameras[serial]; !ok {
		return fmt.Errorf("%w: camera %s", ErrNotFound, serial)
	}
	delete(s.cameras, serial)
	return s.saveCameras()
}

func (s *JSONStore) ListCameras(ctx context.Context) ([]*models.CameraConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.CameraConfig, 0, len(s.cameras))
	for _, c := range s.cameras {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].Serial < out[j].Serial
	})
	return out, nil
}

func (s *JSONStore) saveCameras() error {
	list := make([]*models.CameraConfig, 0, len(s.cameras))
	for _, c := range s.cameras {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Serial < list[j].Serial })
	return s.saveFile(camerasFile, list)
}

// COHN credential methods

func (s *JSONStore) SaveCOHNCredential(ctx context.Context, cred *models.COHNCredential) error {
	if cred.Serial == "" {
		return fmt.Errorf("%w: empty serial", ErrInvalidData)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := s.credentials[cred.Serial]; ok {
		cred.CreatedAt = existing.CreatedAt
	} else {
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now
	s.credentials[cred.Serial] = cred
	return s.saveCredentials()
}

func (s *JSONStore) GetCOHNCredential(ctx context.Context, serial string) (*models.COHNCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.credentials[serial]
	if !ok {
		return nil, fmt.Errorf("%w: credential for %s", ErrNotFound, serial)
	}
	cp := *c
	return &cp, nil
}

func (s *JSONStore) DeleteCOHNCredential(ctx context.Context, serial string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.credentials[serial]; !ok {
		return fmt.Errorf("%w: credential for %s", ErrNotFound, serial)
	}
	delete(s.credentials, serial)
	return s.saveCredentials()
}

func (s *JSONStore) ListCOHNCredentials(ctx context.Context) ([]*models.COHNCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.COHNCredential, 0, len(s.credentials))
	for _, c := range s.credentials {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Serial < out[j].Serial })
	return out, nil
}

func (s *JSONStore) saveCredentials() error {
	list := make([]*models.COHNCredential, 0, len(s.credentials))
	for _, c := range s.credentials {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Serial < list[j].Serial })
	return s.saveFile(credentialsFile, list)
}

// Shoot methods

func (s *JSONStore) CreateShoot(ctx context.Context, shoot *models.Shoot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if shoot.ID == uuid.Nil {
		shoot.ID = uuid.New()
	}
	if _, ok := s.shoots[shoot.ID]; ok {
		return fmt.Errorf("%w: shoot %s", ErrDuplicateKey, shoot.ID)
	}
	now := time.Now().UTC()
	shoot.CreatedAt = now
	shoot.UpdatedAt = now
	if shoot.Takes == nil {
		shoot.Takes = []models.Take{}
	}
	s.shoots[shoot.ID] = shoot
	return s.saveShoots()
}

func (s *JSONStore) GetShoot(ctx context.Context, id uuid.UUID) (*models.Shoot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sh, ok := s.shoots[id]
	if !ok {
		return nil, fmt.Errorf("%w: shoot %s", ErrNotFound, id)
	}
	cp := *sh
	cp.Takes = append([]models.Take(nil), sh.Takes...)
	return &cp, nil
}

func (s *JSONStore) UpdateShoot(ctx context.Context, shoot *models.Shoot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.shoots[shoot.ID]
	if !ok {
		return fmt.Errorf("%w: shoot %s", ErrNotFound, shoot.ID)
	}
	shoot.CreatedAt = existing.CreatedAt
	shoot.UpdatedAt = time.Now().UTC()
	s.shoots[shoot.ID] = shoot
	return s.saveShoots()
}

func (s *JSONStore) DeleteShoot(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.shoots[id]; !ok {
		return fmt.Errorf("%w: shoot %s", ErrNotFound, id)
	}
	delete(s.shoots, id)
	return s.saveShoots()
}

func (s *JSONStore) ListShoots(ctx context.Context) ([]*models.Shoot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Shoot, 0, len(s.shoots))
	for _, sh := range s.shoots {
		cp := *sh
		cp.Takes = append([]models.Take(nil), sh.Takes...)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *JSONStore) saveShoots() error {
	list := make([]*models.Shoot, 0, len(s.shoots))
	for _, sh := range s.shoots {
		list = append(list, sh)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return s.saveFile(shootsFile, list)
}

// Preset methods

func (s *JSONStore) CreatePreset(ctx context.Context, preset *models.Preset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if preset.ID == uuid.Nil {
		preset.ID = uuid.New()
	}
	if _, ok := s.presets[preset.ID]; ok {
		return fmt.Errorf("%w: preset %s", ErrDuplicateKey, preset.ID)
	}
	now := time.Now().UTC()
	preset.CreatedAt = now
	preset.UpdatedAt = now
	s.presets[preset.ID] = preset
	return s.savePresets()
}

func (s *JSONStore) GetPreset(ctx context.Context, id uuid.UUID) (*models.Preset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.presets[id]
	if !ok {
		return nil, fmt.Errorf("%w: preset %s", ErrNotFound, id)
	}
	cp := *p
	return &cp, nil
}

func (s *JSONStore) UpdatePreset(ctx context.Context, preset *models.Preset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.presets[preset.ID]
	if !ok {
		return fmt.Errorf("%w: preset %s", ErrNotFound, preset.ID)
	}
	preset.CreatedAt = existing.CreatedAt
	preset.UpdatedAt = time.Now().UTC()
	s.presets[preset.ID] = preset
	return s.savePresets()
}

func (s *JSONStore) DeletePreset(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.presets[id]; !ok {
		return fmt.Errorf("%w: preset %s", ErrNotFound, id)
	}
	delete(s.presets, id)
	return s.savePresets()
}

func (s *JSONStore) ListPresets(ctx context.Context) ([]*models.Preset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Preset, 0, len(s.presets))
	for _, p := range s.presets {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *JSONStore) savePresets() error {
	list := make([]*models.Preset, 0, len(s.presets))
	for _, p := range s.presets {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return s.saveFile(presetsFile, list)
}

// Event log methods

func (s *JSONStore) CreateEvent(ctx context.Context, event *models.EventLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	s.events = append(s.events, event)
	if len(s.events) > maxEvents {
		s.events = s.events[len(s.events)-maxEvents:]
	}
	return s.saveFile(eventsFile, s.events)
}

func (s *JSONStore) ListEvents(ctx context.Context, serial string, limit int) ([]*models.EventLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > maxEvents {
		limit = maxEvents
	}
	out := make([]*models.EventLog, 0, limit)
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.events[i]
		if serial != "" && e.Serial != serial {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (s *JSONStore) Close() error {
	return nil
}
