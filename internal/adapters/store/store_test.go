package store

import (
	"path/filepath"
	"testing"
	"time"

	"go.etcd.io/bbolt"

	"github.com/castpoint/castpoint/internal/controlpoint"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sub", "devices.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	s := openTestStore(t)

	dev := controlpoint.Device{
		ID:           "abc-123",
		Location:     "http://10.0.0.5:8080/desc.xml",
		FriendlyName: "Living Room Speaker",
		Services: map[string]string{
			"urn:schemas-upnp-org:service:AVTransport:1": "http://10.0.0.5:8080/control",
		},
		LastSeen: time.Now().Truncate(time.Second),
		MaxAge:   30 * time.Minute,
	}
	if err := s.Save(dev); err != nil {
		t.Fatal(err)
	}

	devices, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(devices) != 1 {
		t.Fatalf("Load returned %d devices, want 1", len(devices))
	}
	got := devices[0]
	if got.ID != dev.ID || got.FriendlyName != dev.FriendlyName || got.MaxAge != dev.MaxAge {
		t.Errorf("loaded device = %+v", got)
	}
	if got.Services["urn:schemas-upnp-org:service:AVTransport:1"] == "" {
		t.Error("services not persisted")
	}
}

func TestStoreSaveOverwrites(t *testing.T) {
	s := openTestStore(t)

	dev := controlpoint.Device{ID: "abc", FriendlyName: "Before"}
	if err := s.Save(dev); err != nil {
		t.Fatal(err)
	}
	dev.FriendlyName = "After"
	if err := s.Save(dev); err != nil {
		t.Fatal(err)
	}

	devices, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(devices) != 1 || devices[0].FriendlyName != "After" {
		t.Errorf("Load = %+v", devices)
	}
}

func TestStoreDelete(t *testing.T) {
	s := openTestStore(t)

	if err := s.Save(controlpoint.Device{ID: "abc"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("abc"); err != nil {
		t.Fatal(err)
	}
	// Deleting an absent key is a no-op.
	if err := s.Delete("abc"); err != nil {
		t.Fatal(err)
	}

	devices, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(devices) != 0 {
		t.Errorf("Load after delete = %+v", devices)
	}
}

func TestStoreLoadEmpty(t *testing.T) {
	s := openTestStore(t)
	devices, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(devices) != 0 {
		t.Errorf("Load on fresh store = %+v", devices)
	}
}

func TestStoreLoadSkipsBadRecords(t *testing.T) {
	s := openTestStore(t)
	if err := s.Save(controlpoint.Device{ID: "good"}); err != nil {
		t.Fatal(err)
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(deviceBucket)).Put([]byte("bad"), []byte("{not json"))
	})
	if err != nil {
		t.Fatal(err)
	}

	devices, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(devices) != 1 || devices[0].ID != "good" {
		t.Errorf("Load = %+v, want only the good record", devices)
	}
}
