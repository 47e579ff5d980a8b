package models

import (
	"time"

	"github.com/google/uuid"
)

// Preset is a named bundle of camera settings applied to the whole rig or
// to individual cameras. Settings maps GoPro setting IDs to option values.
type Preset struct {
	ID        uuid.UUID      `json:"id"`
	Name      string         `json:"name"`
	Settings  map[int]int    `json:"settings"`
	PerCamera map[string]int `json:"perCamera,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}
