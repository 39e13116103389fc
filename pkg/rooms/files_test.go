package rooms

import (
	"bytes"
	"errors"
	"testing"

	"agentbus/pkg/models"
)

// newFileRoom scales the production 100MB room / 10MB file bounds down
// to byte-sized numbers so the eviction math stays visible.
func newFileRoom(t *testing.T, capacity, maxFile int64) *Room {
	t.Helper()
	reg := NewRegistry(Limits{FileCapacity: capacity, MaxFileSize: maxFile}, nil)
	r := reg.CreateRoom("files")
	if _, err := r.Join("a", models.RoleContributor, 0); err != nil {
		t.Fatalf("join: %v", err)
	}
	return r
}

func TestUploadEvictsOldestFirst(t *testing.T) {
	r := newFileRoom(t, 100, 80)
	if _, err := r.Upload("a", "first.bin", bytes.Repeat([]byte{1}, 60), "application/octet-stream", ""); err != nil {
		t.Fatalf("upload first: %v", err)
	}
	if _, err := r.Upload("a", "second.bin", bytes.Repeat([]byte{2}, 50), "application/octet-stream", ""); err != nil {
		t.Fatalf("upload second: %v", err)
	}
	files := r.Files()
	if len(files) != 1 || files[0].Name != "second.bin" {
		t.Fatalf("oldest must be evicted, kept: %v", files)
	}
	if got := r.FileBytes(); got != 50 {
		t.Fatalf("total after eviction: got %d, want 50", got)
	}
}

func TestUploadOverPerFileLimit(t *testing.T) {
	r := newFileRoom(t, 100, 80)
	_, err := r.Upload("a", "huge.bin", bytes.Repeat([]byte{1}, 81), "", "")
	if !errors.Is(err, models.ErrCapacity) {
		t.Fatalf("want capacity error, got %v", err)
	}
	if got := r.FileBytes(); got != 0 {
		t.Fatalf("rejected upload changed total: %d", got)
	}
}

func TestUploadLargerThanRoomCapacityRejectedWithoutEvicting(t *testing.T) {
	// per-file limit above room capacity so the capacity pre-check is
	// what rejects
	r := newFileRoom(t, 100, 200)
	if _, err := r.Upload("a", "keep.bin", bytes.Repeat([]byte{1}, 60), "", ""); err != nil {
		t.Fatalf("upload: %v", err)
	}
	_, err := r.Upload("a", "toolarge.bin", bytes.Repeat([]byte{2}, 150), "", "")
	if !errors.Is(err, models.ErrCapacity) {
		t.Fatalf("want capacity error, got %v", err)
	}
	files := r.Files()
	if len(files) != 1 || files[0].Name != "keep.bin" || r.FileBytes() != 60 {
		t.Fatalf("failed upload must not evict: files=%v total=%d", files, r.FileBytes())
	}
}

func TestUploadEmptyFile(t *testing.T) {
	r := newFileRoom(t, 100, 80)
	if _, err := r.Upload("a", "empty.bin", nil, "", ""); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("want validation error, got %v", err)
	}
}

func TestUploadRequiresMembership(t *testing.T) {
	r := newFileRoom(t, 100, 80)
	if _, err := r.Upload("ghost", "x.bin", []byte{1}, "", ""); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("want not-found, got %v", err)
	}
}

func TestFileContentRetrievable(t *testing.T) {
	r := newFileRoom(t, 100, 80)
	payload := []byte("diagram bytes")
	f, err := r.Upload("a", "sketch.png", payload, "image/png", "")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	got, err := r.FileContent(f.ID)
	if err != nil {
		t.Fatalf("file content: %v", err)
	}
	if !bytes.Equal(got.Data, payload) || got.Name != "sketch.png" {
		t.Fatalf("content round trip: %+v", got)
	}

	// the stored copy is independent of the caller's buffer
	payload[0] = 'X'
	got, _ = r.FileContent(f.ID)
	if got.Data[0] != 'd' {
		t.Fatalf("stored content aliased the upload buffer")
	}

	if _, err := r.FileContent("no-such-file"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("unknown id: want not-found, got %v", err)
	}
}

func TestEvictionDropsFileContent(t *testing.T) {
	r := newFileRoom(t, 100, 80)
	first, err := r.Upload("a", "first.bin", bytes.Repeat([]byte{1}, 60), "", "")
	if err != nil {
		t.Fatalf("upload first: %v", err)
	}
	if _, err := r.Upload("a", "second.bin", bytes.Repeat([]byte{2}, 50), "", ""); err != nil {
		t.Fatalf("upload second: %v", err)
	}
	if _, err := r.FileContent(first.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("evicted content must be gone, got %v", err)
	}
}

func TestUploadIDIsContentHash(t *testing.T) {
	r := newFileRoom(t, 1000, 80)
	f1, err := r.Upload("a", "one.txt", []byte("same bytes"), "text/plain", "")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	f2, err := r.Upload("a", "two.txt", []byte("same bytes"), "text/plain", "")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if f1.ID != f2.ID {
		t.Fatalf("identical content must share an id: %s vs %s", f1.ID, f2.ID)
	}
	if r.FileBytes() != 20 {
		t.Fatalf("storage is charged per upload: got %d", r.FileBytes())
	}
}
