package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/camrig/camrig-server/internal/models"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrInvalidData  = errors.New("invalid data")
)

// Store defines the storage interface
type Store interface {
	// Camera roster methods
	CreateCamera(ctx context.Context, camera *models.CameraConfig) error
	GetCamera(ctx context.Context, serial string) (*models.CameraConfig, error)
	UpdateCamera(ctx context.Context, camera *models.CameraConfig) error
	DeleteCamera(ctx context.Context, serial string) error
	ListCameras(ctx context.Context) ([]*models.CameraConfig, error)

	// COHN credential methods
	SaveCOHNCredential(ctx context.Context, cred *models.COHNCredential) error
	GetCOHNCredential(ctx context.Context, serial string) (*models.COHNCredential, error)
	DeleteCOHNCredential(ctx context.Context, serial string) error
	ListCOHNCredentials(ctx context.Context) ([]*models.COHNCredential, error)

	// Shoot methods
	CreateShoot(ctx context.Context, shoot *models.Shoot) error
	GetShoot(ctx context.Context, id uuid.UUID) (*models.Shoot, error)
	UpdateShoot(ctx context.Context, shoot *models.Shoot) error
	DeleteShoot(ctx context.Context, id uuid.UUID) error
	ListShoots(ctx context.Context) ([]*models.Shoot, error)

	// Preset methods
	CreatePreset(ctx context.Context, preset *models.Preset) error
	GetPreset(ctx context.Context, id uuid.UUID) (*models.Preset, error)
	UpdatePreset(ctx context.Context, preset *models.Preset) error
	DeletePreset(ctx context.Context, id uuid.UUID) error
	ListPresets(ctx context.Context) ([]*models.Preset, error)

	// Event log methods
	CreateEvent(ctx context.Context, event *models.EventLog) error
	ListEvents(ctx context.Context, serial string, limit int) ([]*models.EventLog, error)

	// Maintenance
	Close() error
}
