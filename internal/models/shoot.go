package models

import (
	"time"

	"github.com/google/uuid"
)

// Shoot groups recorded takes under one production session.
type Shoot struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Notes     string    `json:"notes,omitempty"`
	Takes     []Take    `json:"takes"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Take is one synchronized recording across the rig. Cameras lists the
// serials that participated; Failed lists serials whose shutter command
// did not succeed.
type Take struct {
	ID        uuid.UUID `json:"id"`
	Number    int       `json:"number"`
	StartedAt time.Time `json:"startedAt"`
	StoppedAt time.Time `json:"stoppedAt,omitempty"`
	Duration  float64   `json:"durationSeconds,omitempty"`
	Cameras   []string  `json:"cameras"`
	Failed    []string  `json:"failed,omitempty"`
	Notes     string    `json:"notes,omitempty"`
}
