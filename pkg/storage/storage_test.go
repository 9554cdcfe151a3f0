package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/door"
	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/recognition"
)

func createStore(t *testing.T, encrypted bool) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), encrypted)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return store
}

// createDescriptor fills a descriptor with a recognizable constant.
func createDescriptor(value float32) recognition.Descriptor {
	var d recognition.Descriptor
	for i := range d {
		d[i] = value
	}
	return d
}

func TestCreateAndLoadUser(t *testing.T) {
	store := createStore(t, false)
	desc := createDescriptor(0.5)

	if err := store.CreateUser("alice", "Alice", []recognition.Descriptor{desc}); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	user, err := store.LoadUser("alice")
	if err != nil {
		t.Fatalf("LoadUser() error = %v", err)
	}
	if user.UserID != "alice" || user.Name != "Alice" {
		t.Errorf("loaded user = %s/%s, want alice/Alice", user.UserID, user.Name)
	}
	if !user.Active {
		t.Error("new users should be active")
	}
	if len(user.Descriptors) != 1 || user.Descriptors[0] != desc {
		t.Error("descriptors did not survive the round trip")
	}
	if user.EnrolledAt.IsZero() {
		t.Error("EnrolledAt should be set on creation")
	}
}

func TestCreateUserDuplicate(t *testing.T) {
	store := createStore(t, false)

	if err := store.CreateUser("bob", "Bob", nil); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if err := store.CreateUser("bob", "Bob again", nil); !errors.Is(err, ErrUserExists) {
		t.Errorf("duplicate CreateUser() error = %v, want ErrUserExists", err)
	}
}

func TestLoadUserNotFound(t *testing.T) {
	store := createStore(t, false)
	if _, err := store.LoadUser("ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("LoadUser() error = %v, want ErrUserNotFound", err)
	}
}

func TestDeleteUser(t *testing.T) {
	store := createStore(t, false)

	if err := store.CreateUser("carol", "Carol", nil); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if err := store.DeleteUser("carol"); err != nil {
		t.Fatalf("DeleteUser() error = %v", err)
	}
	if store.UserExists("carol") {
		t.Error("user should be gone after delete")
	}
	if err := store.DeleteUser("carol"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("second DeleteUser() error = %v, want ErrUserNotFound", err)
	}
}

func TestListUsers(t *testing.T) {
	store := createStore(t, false)

	if users, err := store.ListUsers(); err != nil || len(users) != 0 {
		t.Fatalf("empty store ListUsers() = %v, %v", users, err)
	}

	for _, id := range []string{"alice", "bob", "carol"} {
		if err := store.CreateUser(id, id, nil); err != nil {
			t.Fatalf("CreateUser(%s) error = %v", id, err)
		}
	}

	users, err := store.ListUsers()
	if err != nil {
		t.Fatalf("ListUsers() error = %v", err)
	}
	sort.Strings(users)
	want := []string{"alice", "bob", "carol"}
	if len(users) != len(want) {
		t.Fatalf("ListUsers() = %v, want %v", users, want)
	}
	for i := range want {
		if users[i] != want[i] {
			t.Errorf("ListUsers()[%d] = %s, want %s", i, users[i], want[i])
		}
	}
}

func TestAddDescriptor(t *testing.T) {
	store := createStore(t, false)

	if err := store.CreateUser("dave", "Dave", []recognition.Descriptor{createDescriptor(0.1)}); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if err := store.AddDescriptor("dave", createDescriptor(0.3)); err != nil {
		t.Fatalf("AddDescriptor() error = %v", err)
	}

	user, err := store.LoadUser("dave")
	if err != nil {
		t.Fatalf("LoadUser() error = %v", err)
	}
	if len(user.Descriptors) != 2 {
		t.Errorf("descriptor count = %d, want 2", len(user.Descriptors))
	}

	if err := store.AddDescriptor("ghost", createDescriptor(0.2)); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("AddDescriptor() for missing user error = %v, want ErrUserNotFound", err)
	}
}

func TestTouchAccess(t *testing.T) {
	store := createStore(t, false)

	if err := store.CreateUser("erin", "Erin", nil); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	before, _ := store.LoadUser("erin")

	time.Sleep(5 * time.Millisecond)
	if err := store.TouchAccess("erin"); err != nil {
		t.Fatalf("TouchAccess() error = %v", err)
	}

	after, _ := store.LoadUser("erin")
	if !after.LastAccess.After(before.LastAccess) {
		t.Error("TouchAccess should advance LastAccess")
	}
}

func TestGallery(t *testing.T) {
	store := createStore(t, false)

	// Two samples averaging to 0.2.
	samples := []recognition.Descriptor{createDescriptor(0.1), createDescriptor(0.3)}
	if err := store.CreateUser("alice", "Alice", samples); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	// Inactive user must not appear.
	if err := store.CreateUser("bob", "Bob", []recognition.Descriptor{createDescriptor(0.9)}); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	bob, _ := store.LoadUser("bob")
	bob.Active = false
	if err := store.SaveUser(*bob); err != nil {
		t.Fatalf("SaveUser() error = %v", err)
	}

	// User without descriptors must not appear either.
	if err := store.CreateUser("carol", "Carol", nil); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	gallery, err := store.Gallery()
	if err != nil {
		t.Fatalf("Gallery() error = %v", err)
	}
	if len(gallery) != 1 {
		t.Fatalf("gallery size = %d, want 1", len(gallery))
	}
	if gallery[0].UserID != "alice" {
		t.Errorf("gallery user = %s, want alice", gallery[0].UserID)
	}
	if got := gallery[0].Descriptor[0]; got < 0.199 || got > 0.201 {
		t.Errorf("averaged descriptor value = %f, want 0.2", got)
	}
}

func TestEncryptedRoundTrip(t *testing.T) {
	store := createStore(t, true)
	desc := createDescriptor(0.7)

	if err := store.CreateUser("frank", "Frank", []recognition.Descriptor{desc}); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	user, err := store.LoadUser("frank")
	if err != nil {
		t.Fatalf("LoadUser() error = %v", err)
	}
	if user.Name != "Frank" || user.Descriptors[0] != desc {
		t.Error("encrypted record did not round-trip")
	}

	// The on-disk record must not contain the plaintext name.
	raw, err := os.ReadFile(filepath.Join(store.dataDir, "users", "frank.enc"))
	if err != nil {
		t.Fatalf("reading encrypted record: %v", err)
	}
	if bytes.Contains(raw, []byte("Frank")) {
		t.Error("encrypted record leaks plaintext")
	}
}

func TestDecryptRejectsTamperedRecord(t *testing.T) {
	store := createStore(t, true)

	if err := store.CreateUser("grace", "Grace", nil); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	path := filepath.Join(store.dataDir, "users", "grace.enc")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading record: %v", err)
	}
	raw[len(raw)-1] ^= 0xFF
	if err := os.WriteFile(path, raw, 0600); err != nil {
		t.Fatalf("writing tampered record: %v", err)
	}

	if _, err := store.LoadUser("grace"); err == nil {
		t.Error("tampered record should fail to load")
	}
}

func TestDecryptShortCiphertext(t *testing.T) {
	store := createStore(t, true)
	if _, err := store.decrypt([]byte("short")); !errors.Is(err, ErrEncryption) {
		t.Errorf("decrypt() error = %v, want ErrEncryption", err)
	}
}

func TestScheduleRoundTrip(t *testing.T) {
	store := createStore(t, false)

	schedule := door.WeekSchedule{
		"monday": {Day: "monday", Open: "09:00", Close: "17:00"},
		"sunday": {Day: "sunday", ForceUnlocked: true},
	}
	if err := store.SaveSchedule(schedule); err != nil {
		t.Fatalf("SaveSchedule() error = %v", err)
	}

	loaded, err := store.LoadSchedule()
	if err != nil {
		t.Fatalf("LoadSchedule() error = %v", err)
	}
	if loaded["monday"].Open != "09:00" || loaded["monday"].Close != "17:00" {
		t.Errorf("monday window = %s-%s, want 09:00-17:00", loaded["monday"].Open, loaded["monday"].Close)
	}
	if !loaded["sunday"].ForceUnlocked {
		t.Error("sunday force flag lost in round trip")
	}
}

func TestSaveScheduleRejectsInvalid(t *testing.T) {
	store := createStore(t, false)
	bad := door.WeekSchedule{"monday": {Day: "monday", Open: "9am", Close: "17:00"}}
	if err := store.SaveSchedule(bad); err == nil {
		t.Error("SaveSchedule should reject unparseable windows")
	}
}

func TestLoadScheduleDefaultsWhenMissing(t *testing.T) {
	store := createStore(t, false)

	schedule, err := store.LoadSchedule()
	if err != nil {
		t.Fatalf("LoadSchedule() error = %v", err)
	}
	if len(schedule) != 5 {
		t.Errorf("missing schedule should fall back to the 5-day default, got %d entries", len(schedule))
	}
}
