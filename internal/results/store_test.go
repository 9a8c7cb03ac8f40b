package results

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/saveenergy/netgauge/pkg/types"
)

func openTestStore(t *testing.T, maxResults int) *Store {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "netgauge.db"), maxResults, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func sampleRecord(id string) types.Record {
	return types.Record{
		ID:               id,
		ExternalIP:       "203.0.113.7",
		LatencyMs:        23,
		DownloadTime:     "2026-10-19 09:15:02",
		DownloadDuration: "10.42",
		DownloadMbps:     941,
		UploadTime:       "2026-10-19 09:15:13",
		UploadDuration:   "10.38",
		UploadMbps:       87,
		CreatedAt:        time.Date(2026, 10, 19, 9, 15, 24, 0, time.UTC),
	}
}

func TestSaveAndGet(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()

	id, err := s.Save(ctx, sampleRecord("7f9c1c1e-8d7a-4c55-9a37-3b2a4f0e9d11"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if id != "7f9c1c1e-8d7a-4c55-9a37-3b2a4f0e9d11" {
		t.Fatalf("id = %q, want record ID", id)
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil for stored record")
	}
	want := sampleRecord(id)
	if got.ExternalIP != want.ExternalIP || got.LatencyMs != want.LatencyMs ||
		got.DownloadMbps != want.DownloadMbps || got.UploadMbps != want.UploadMbps ||
		got.DownloadDuration != want.DownloadDuration || got.UploadTime != want.UploadTime {
		t.Fatalf("Get = %+v, want %+v", *got, want)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Fatalf("created_at = %v, want %v", got.CreatedAt, want.CreatedAt)
	}
}

func TestSaveGeneratesShortID(t *testing.T) {
	s := openTestStore(t, 0)
	id, err := s.Save(context.Background(), sampleRecord(""))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if len(id) != idLength {
		t.Fatalf("id = %q, want %d chars", id, idLength)
	}
}

func TestSaveRetriesOnIDCollision(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()
	if _, err := s.Save(ctx, sampleRecord("k7Qm2xPa")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	ids := []string{"k7Qm2xPa", "k7Qm2xPa", "Z3bc91Lq"}
	calls := 0
	s.newID = func() (string, error) {
		id := ids[calls]
		calls++
		return id, nil
	}
	id, err := s.Save(ctx, sampleRecord(""))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if id != "Z3bc91Lq" || calls != 3 {
		t.Fatalf("id = %q after %d generations, want Z3bc91Lq after 3", id, calls)
	}
}

func TestSaveGivesUpAfterRepeatedCollisions(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()
	if _, err := s.Save(ctx, sampleRecord("taken000")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	calls := 0
	s.newID = func() (string, error) {
		calls++
		return "taken000", nil
	}
	if _, err := s.Save(ctx, sampleRecord("")); err == nil {
		t.Fatal("expected error when every generated id collides")
	}
	if calls != maxIDRetries {
		t.Fatalf("generated %d ids, want %d", calls, maxIDRetries)
	}
}

func TestSaveDuplicateIDFails(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()
	if _, err := s.Save(ctx, sampleRecord("dup")); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	if _, err := s.Save(ctx, sampleRecord("dup")); err == nil {
		t.Fatal("expected error saving the same ID twice")
	}
}

func TestGetMissing(t *testing.T) {
	s := openTestStore(t, 0)
	got, err := s.Get(context.Background(), "absent")
	if err != nil || got != nil {
		t.Fatalf("Get = %v, %v; want nil, nil", got, err)
	}
}

func TestCleanupTrimsToMax(t *testing.T) {
	s := openTestStore(t, 2)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)
	for i, id := range []string{"oldest", "middle", "newest"} {
		r := sampleRecord(id)
		r.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if _, err := s.Save(ctx, r); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}
	s.cleanup(ctx)

	if got, _ := s.Get(ctx, "oldest"); got != nil {
		t.Fatal("oldest record survived trim")
	}
	if got, _ := s.Get(ctx, "newest"); got == nil {
		t.Fatal("newest record was trimmed")
	}
}

func TestCleanupRemovesExpired(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()
	r := sampleRecord("ancient")
	r.CreatedAt = time.Now().UTC().Add(-(retentionDays + 1) * 24 * time.Hour)
	if _, err := s.Save(ctx, r); err != nil {
		t.Fatalf("Save: %v", err)
	}
	s.cleanup(ctx)
	if got, _ := s.Get(ctx, "ancient"); got != nil {
		t.Fatal("expired record survived cleanup")
	}
}

func TestCleanupLoopRunsUntilClose(t *testing.T) {
	s, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "netgauge.db"), 0, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	r := sampleRecord("ancient")
	r.CreatedAt = time.Now().UTC().Add(-(retentionDays + 1) * 24 * time.Hour)
	if _, err := s.Save(ctx, r); err != nil {
		t.Fatalf("Save: %v", err)
	}

	s.every = 5 * time.Millisecond
	s.startCleanup()

	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := s.Get(ctx, "ancient")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("background cleanup never removed the expired record")
		}
		time.Sleep(5 * time.Millisecond)
	}

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not stop the cleanup loop")
	}
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: DriverPostgres}
	if got, want := pg.rebind("SELECT a FROM t WHERE b = ? AND c = ?"), "SELECT a FROM t WHERE b = $1 AND c = $2"; got != want {
		t.Fatalf("rebind = %q, want %q", got, want)
	}
	lite := &Store{driver: DriverSQLite}
	if got := lite.rebind("x = ?"); got != "x = ?" {
		t.Fatalf("sqlite rebind changed query: %q", got)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "mysql", "dsn", 0, false); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
