package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/XppaiCyberr/clash-verge-xpp/internal/storage"
	"github.com/XppaiCyberr/clash-verge-xpp/internal/storage/models"
	"github.com/XppaiCyberr/clash-verge-xpp/internal/storage/sqlite"
	pkgerrors "github.com/XppaiCyberr/clash-verge-xpp/pkg/errors"
)

// blobServer is an in-memory WebDAV-style remote with ETag preconditions.
type blobServer struct {
	mu    sync.Mutex
	blobs map[string][]byte
	revs  map[string]int
}

func newBlobServer() *blobServer {
	return &blobServer{blobs: make(map[string][]byte), revs: make(map[string]int)}
}

func (b *blobServer) rev(key string) string {
	return fmt.Sprintf(`"rev-%d"`, b.revs[key])
}

func (b *blobServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := r.URL.Path

	switch r.Method {
	case http.MethodGet:
		data, ok := b.blobs[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("ETag", b.rev(key))
		w.Write(data)
	case http.MethodPut:
		_, exists := b.blobs[key]
		if r.Header.Get("If-None-Match") == "*" && exists {
			w.Header().Set("ETag", b.rev(key))
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		if match := r.Header.Get("If-Match"); match != "" && (!exists || match != b.rev(key)) {
			w.Header().Set("ETag", b.rev(key))
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		data, _ := io.ReadAll(r.Body)
		b.blobs[key] = data
		b.revs[key]++
		w.Header().Set("ETag", b.rev(key))
		w.WriteHeader(http.StatusCreated)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestStorage(t *testing.T) storage.Storage {
	t.Helper()
	db, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("sqlite.New() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedProfile(t *testing.T, st storage.Storage, id, name string) {
	t.Helper()
	content := "proxies: []\nrules: []\n"
	err := st.CreateProfile(context.Background(), &models.Profile{
		ID: id, Name: name, Kind: models.KindLocal,
		Content: content, ContentHash: models.HashContent(content),
	})
	if err != nil {
		t.Fatalf("CreateProfile() error: %v", err)
	}
}

func newTestService(t *testing.T, remote *blobServer, st storage.Storage) *Service {
	t.Helper()
	server := httptest.NewServer(remote)
	t.Cleanup(server.Close)
	return NewService(NewHTTPStore(server.URL, "user", "pass"), st, "default", zap.NewNop())
}

func TestPushThenPullRoundTrip(t *testing.T) {
	remote := newBlobServer()
	ctx := context.Background()

	local := newTestStorage(t)
	seedProfile(t, local, "p1", "work")
	seedProfile(t, local, "p2", "home")
	if err := local.SetCurrentProfile(ctx, "p1"); err != nil {
		t.Fatalf("SetCurrentProfile() error: %v", err)
	}

	if err := newTestService(t, remote, local).Push(ctx); err != nil {
		t.Fatalf("Push() error: %v", err)
	}

	// A second machine pulls into an empty store.
	other := newTestStorage(t)
	result, err := newTestService(t, remote, other).Pull(ctx, true)
	if err != nil {
		t.Fatalf("Pull() error: %v", err)
	}
	if result.Profiles != 2 || !result.Applied {
		t.Errorf("unexpected pull result: %+v", result)
	}

	profiles, err := other.GetAllProfiles(ctx)
	if err != nil || len(profiles) != 2 {
		t.Fatalf("expected 2 pulled profiles, got %v, %v", profiles, err)
	}
	current, err := other.GetCurrentProfile(ctx)
	if err != nil || current.ID != "p1" {
		t.Errorf("expected current profile restored, got %v, %v", current, err)
	}
}

func TestPushConflict(t *testing.T) {
	remote := newBlobServer()
	ctx := context.Background()

	first := newTestStorage(t)
	seedProfile(t, first, "p1", "work")
	if err := newTestService(t, remote, first).Push(ctx); err != nil {
		t.Fatalf("Push() error: %v", err)
	}

	// A store that never pulled pushes blind and must hit the precondition.
	second := newTestStorage(t)
	seedProfile(t, second, "p2", "other")
	err := newTestService(t, remote, second).Push(ctx)

	var cerr *pkgerrors.ConflictError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if !errors.Is(err, pkgerrors.ErrConflict) {
		t.Error("ConflictError must unwrap to ErrConflict")
	}
}

func TestPushAfterRemoteAdvanced(t *testing.T) {
	remote := newBlobServer()
	ctx := context.Background()

	st := newTestStorage(t)
	seedProfile(t, st, "p1", "work")
	svc := newTestService(t, remote, st)
	if err := svc.Push(ctx); err != nil {
		t.Fatalf("Push() error: %v", err)
	}

	// The remote moves on behind our back.
	remote.mu.Lock()
	remote.revs["/default/profiles.yaml"]++
	remote.mu.Unlock()

	var cerr *pkgerrors.ConflictError
	if err := svc.Push(ctx); !errors.As(err, &cerr) {
		t.Fatalf("expected ConflictError after remote advanced, got %v", err)
	}
}

func TestPullWithoutApplyLeavesLocalUntouched(t *testing.T) {
	remote := newBlobServer()
	ctx := context.Background()

	first := newTestStorage(t)
	seedProfile(t, first, "p1", "work")
	if err := newTestService(t, remote, first).Push(ctx); err != nil {
		t.Fatalf("Push() error: %v", err)
	}

	local := newTestStorage(t)
	seedProfile(t, local, "keep", "keep")
	result, err := newTestService(t, remote, local).Pull(ctx, false)
	if err != nil {
		t.Fatalf("Pull() error: %v", err)
	}
	if result.Applied {
		t.Error("dry-run pull must not report applied")
	}

	profiles, err := local.GetAllProfiles(ctx)
	if err != nil || len(profiles) != 1 || profiles[0].ID != "keep" {
		t.Errorf("dry-run pull must not modify local profiles, got %v", profiles)
	}
}

func TestPullMissingRemote(t *testing.T) {
	remote := newBlobServer()
	st := newTestStorage(t)

	_, err := newTestService(t, remote, st).Pull(context.Background(), false)
	if !errors.Is(err, ErrBlobNotFound) {
		t.Fatalf("expected ErrBlobNotFound, got %v", err)
	}
}
