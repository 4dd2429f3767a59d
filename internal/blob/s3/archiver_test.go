package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/spotlight/internal/domain"
	"github.com/alanyoungcy/spotlight/internal/store/memory"
)

type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeBlobs() *fakeBlobs { return &fakeBlobs{objects: make(map[string][]byte)} }

func (f *fakeBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[path] = b
	return nil
}

func (f *fakeBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return f.Put(ctx, path, data, "")
}

func (f *fakeBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.BlobInfo
	for k, v := range f.objects {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, domain.BlobInfo{Path: k, Size: int64(len(v))})
		}
	}
	return out, nil
}

func (f *fakeBlobs) Exists(_ context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[path]
	return ok, nil
}

func countLines(t *testing.T, b []byte) int {
	t.Helper()
	n := 0
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		var v map[string]any
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			t.Fatalf("line %d is not json: %v", n, err)
		}
		n++
	}
	return n
}

func TestRoundArchiver_ArchiveRounds(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	cutoff := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)
	since := cutoff.Add(-24 * time.Hour)

	pools := []domain.Pool{
		{ID: "p1", TargetID: "a", Status: domain.PoolStatusCompleted, UpdatedAt: since.Add(time.Hour)},
		{ID: "p2", TargetID: "b", Status: domain.PoolStatusCompleted, UpdatedAt: cutoff},
		{ID: "p3", TargetID: "c", Status: domain.PoolStatusActive, UpdatedAt: since.Add(time.Hour)},
	}
	for _, p := range pools {
		if err := store.Pools().Create(ctx, p); err != nil {
			t.Fatalf("create pool: %v", err)
		}
	}
	for _, b := range []domain.Bid{
		{ID: "b1", PoolID: "p1", Contributor: "alice", Amount: 10, Status: domain.BidStatusWon},
		{ID: "b2", PoolID: "p1", Contributor: "bob", Amount: 5, Status: domain.BidStatusRefunded},
		{ID: "b3", PoolID: "p2", Contributor: "carol", Amount: 7, Status: domain.BidStatusWon},
	} {
		if err := store.Bids().Create(ctx, b); err != nil {
			t.Fatalf("create bid: %v", err)
		}
	}

	blobs := newFakeBlobs()
	a := NewRoundArchiver(blobs, blobs, store.Pools(), store.Bids(), store.Audit())

	res, err := a.ArchiveRounds(ctx, since, cutoff)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if res.Pools != 1 || res.Bids != 2 || res.Skipped {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Path != "archive/pools/2025-03/2025-03-02.jsonl" {
		t.Fatalf("unexpected path %s", res.Path)
	}
	if n := countLines(t, blobs.objects[res.Path]); n != 1 {
		t.Fatalf("expected 1 pool line, got %d", n)
	}
	if n := countLines(t, blobs.objects[ArchivePath("bids", cutoff)]); n != 2 {
		t.Fatalf("expected 2 bid lines, got %d", n)
	}

	entries, err := store.Audit().List(ctx, domain.AuditFilter{})
	if err != nil {
		t.Fatalf("audit list: %v", err)
	}
	if len(entries) != 1 || entries[0].Event != domain.AuditArchiveRounds {
		t.Fatalf("expected one archive.rounds audit entry, got %+v", entries)
	}

	t.Run("rerun is skipped", func(t *testing.T) {
		again, err := a.ArchiveRounds(ctx, since, cutoff)
		if err != nil {
			t.Fatalf("archive: %v", err)
		}
		if !again.Skipped || again.Pools != 0 {
			t.Fatalf("expected skipped run, got %+v", again)
		}
	})

	t.Run("empty window writes nothing", func(t *testing.T) {
		empty := cutoff.Add(-72 * time.Hour)
		res, err := a.ArchiveRounds(ctx, empty.Add(-24*time.Hour), empty)
		if err != nil {
			t.Fatalf("archive: %v", err)
		}
		if res.Pools != 0 {
			t.Fatalf("expected nothing archived, got %+v", res)
		}
		if ok, _ := blobs.Exists(ctx, ArchivePath("pools", empty)); ok {
			t.Fatalf("empty window should not create an object")
		}
	})
}
