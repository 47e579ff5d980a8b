package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/camrig/camrig-server/internal/models"
)

func newTestStore(t *testing.T) *JSONStore {
	t.Helper()
	s, err := NewJSONStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewJSONStore: %v", err)
	}
	return s
}

func TestCameraCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cam := &models.CameraConfig{Serial: "4844", Name: "Front Left", Position: 1, Enabled: true}
	if err := s.CreateCamera(ctx, cam); err != nil {
		t.Fatalf("CreateCamera: %v", err)
	}
	if err := s.CreateCamera(ctx, &models.CameraConfig{Serial: "4844"}); !errors.Is(err, ErrDuplicateKey) {
		t.Errorf("duplicate create err = %v, want ErrDuplicateKey", err)
	}

	got, err := s.GetCamera(ctx, "4844")
	if err != nil {
		t.Fatalf("GetCamera: %v", err)
	}
	if got.Name != "Front Left" || !got.Enabled {
		t.Errorf("got %+v", got)
	}

	got.Name = "Front Right"
	if err := s.UpdateCamera(ctx, got); err != nil {
		t.Fatalf("UpdateCamera: %v", err)
	}
	got2, _ := s.GetCamera(ctx, "4844")
	if got2.Name != "Front Right" {
		t.Errorf("name = %q after update", got2.Name)
	}
	if !got2.CreatedAt.Equal(got.CreatedAt) {
		t.Error("update must preserve CreatedAt")
	}

	if err := s.DeleteCamera(ctx, "4844"); err != nil {
		t.Fatalf("DeleteCamera: %v", err)
	}
	if _, err := s.GetCamera(ctx, "4844"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after delete err = %v, want ErrNotFound", err)
	}
}

func TestCameraListOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, c := range []models.CameraConfig{
		{Serial: "9911", Position: 3},
		{Serial: "1122", Position: 1},
		{Serial: "5566", Position: 2},
	} {
		c := c
		if err := s.CreateCamera(ctx, &c); err != nil {
			t.Fatal(err)
		}
	}
	list, err := s.ListCameras(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"1122", "5566", "9911"}
	for i, serial := range want {
		if list[i].Serial != serial {
			t.Errorf("list[%d] = %s, want %s", i, list[i].Serial, serial)
		}
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewJSONStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.CreateCamera(ctx, &models.CameraConfig{Serial: "7788", Name: "Top"}); err != nil {
		t.Fatal(err)
	}
	cred := &models.COHNCredential{
		Serial:      "7788",
		Username:    "gopro",
		Password:    "secret",
		IPAddress:   "192.168.1.42",
		Certificate: "-----BEGIN CERTIFICATE-----\nabc\n-----END CERTIFICATE-----",
	}
	if err := s.SaveCOHNCredential(ctx, cred); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewJSONStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	cam, err := reopened.GetCamera(ctx, "7788")
	if err != nil {
		t.Fatalf("camera lost across reopen: %v", err)
	}
	if cam.Name != "Top" {
		t.Errorf("name = %q", cam.Name)
	}
	got, err := reopened.GetCOHNCredential(ctx, "7788")
	if err != nil {
		t.Fatalf("credential lost across reopen: %v", err)
	}
	if got.IPAddress != "192.168.1.42" || got.Certificate != cred.Certificate {
		t.Errorf("credential mismatch: %+v", got)
	}
}

func TestSaveCOHNCredentialUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &models.COHNCredential{Serial: "4844", IPAddress: "10.0.0.1"}
	if err := s.SaveCOHNCredential(ctx, first); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)
	second := &models.COHNCredential{Serial: "4844", IPAddress: "10.0.0.2"}
	if err := s.SaveCOHNCredential(ctx, second); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetCOHNCredential(ctx, "4844")
	if err != nil {
		t.Fatal(err)
	}
	if got.IPAddress != "10.0.0.2" {
		t.Errorf("ip = %s, want 10.0.0.2", got.IPAddress)
	}
	if !got.CreatedAt.Equal(first.CreatedAt) {
		t.Error("upsert must preserve original CreatedAt")
	}
	if !got.UpdatedAt.After(got.CreatedAt) {
		t.Error("UpdatedAt not advanced on upsert")
	}
}

func TestShootTakes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	shoot := &models.Shoot{Name: "morning session"}
	if err := s.CreateShoot(ctx, shoot); err != nil {
		t.Fatal(err)
	}
	if shoot.ID == uuid.Nil {
		t.Fatal("CreateShoot must assign an ID")
	}

	shoot.Takes = append(shoot.Takes, models.Take{
		ID:        uuid.New(),
		Number:    1,
		StartedAt: time.Now().UTC(),
		Cameras:   []string{"4844", "7788"},
	})
	if err := s.UpdateShoot(ctx, shoot); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetShoot(ctx, shoot.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Takes) != 1 || got.Takes[0].Number != 1 {
		t.Errorf("takes = %+v", got.Takes)
	}

	// Mutating the returned copy must not leak into the store.
	got.Takes[0].Number = 99
	again, _ := s.GetShoot(ctx, shoot.ID)
	if again.Takes[0].Number != 1 {
		t.Error("GetShoot returned a shared slice")
	}
}

func TestEventLogBounded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < maxEvents+10; i++ {
		ev := models.NewEvent(models.EventTypeConnect, models.EventLevelInfo, "4844", "connected")
		if err := s.CreateEvent(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}
	events, err := s.ListEvents(ctx, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != maxEvents {
		t.Errorf("got %d events, want %d", len(events), maxEvents)
	}
}

func TestListEventsFilterAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = s.CreateEvent(ctx, models.NewEvent(models.EventTypeShutter, models.EventLevelInfo, "4844", "start"))
		_ = s.CreateEvent(ctx, models.NewEvent(models.EventTypeShutter, models.EventLevelInfo, "7788", "start"))
	}
	events, err := s.ListEvents(ctx, "7788", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	for _, e := range events {
		if e.Serial != "7788" {
			t.Errorf("serial = %s, want 7788", e.Serial)
		}
	}
}

func TestPresetCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &models.Preset{Name: "4k60", Settings: map[int]int{2: 1, 3: 5}}
	if err := s.CreatePreset(ctx, p); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetPreset(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Settings[2] != 1 {
		t.Errorf("settings = %v", got.Settings)
	}
	if err := s.DeletePreset(ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetPreset(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
