package scansession

import (
	"context"
	"errors"
	"net/url"
	"path/filepath"
	"sync"
	"testing"

	"github.com/nextlevelbuilder/goscan/internal/store/sqlite"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "goscan.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewService(st, "https://scan.example.com/")
}

func TestCreate_BootstrapURL(t *testing.T) {
	svc := newTestService(t)
	sess, err := svc.Create(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.ID == "" || len(sess.AuthToken) < 40 {
		t.Fatalf("unexpected session %+v", sess)
	}

	raw := svc.BootstrapURL(sess.ID, sess.AuthToken)
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	if u.Host != "scan.example.com" || u.Path != BootstrapPath {
		t.Errorf("bootstrap url = %s", raw)
	}
	if got := u.Query().Get("scanSessionId"); got != sess.ID {
		t.Errorf("scanSessionId = %q, want %q", got, sess.ID)
	}
	if got := u.Query().Get("auth_token"); got != sess.AuthToken {
		t.Errorf("auth_token = %q, want %q", got, sess.AuthToken)
	}
}

func TestCreate_RequiresOwner(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.Create(context.Background(), ""); err == nil {
		t.Error("expected error for empty owner")
	}
}

func TestExchange_AtMostOnce(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	sess, _ := svc.Create(ctx, "user-1")

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := svc.Exchange(ctx, sess.AuthToken)
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				if got.ID != sess.ID || got.OwnerUserID != "user-1" || got.AuthToken != "" {
					t.Errorf("exchanged session = %+v", got)
				}
				return
			}
			if !errors.Is(err, ErrTokenConsumed) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("successes = %d, want 1", successes)
	}
	if _, err := svc.Exchange(ctx, "bogus"); !errors.Is(err, ErrNotFound) {
		t.Errorf("bogus token err = %v", err)
	}
}

func TestAuthorizeAndDelete(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	sess, _ := svc.Create(ctx, "user-1")

	if _, err := svc.Authorize(ctx, sess.ID, "user-2"); !errors.Is(err, ErrNotOwner) {
		t.Errorf("Authorize other user err = %v", err)
	}
	if err := svc.Delete(ctx, sess.ID, "user-2"); !errors.Is(err, ErrNotOwner) {
		t.Errorf("Delete other user err = %v", err)
	}
	if err := svc.Delete(ctx, sess.ID, "user-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Get(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete err = %v", err)
	}
}

func TestBootstrapURLFor(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	sess, _ := svc.Create(ctx, "user-1")

	got, err := svc.BootstrapURLFor(ctx, sess.ID, "user-1", sess.AuthToken)
	if err != nil {
		t.Fatalf("BootstrapURLFor: %v", err)
	}
	if got != svc.BootstrapURL(sess.ID, sess.AuthToken) {
		t.Errorf("url = %s", got)
	}
	if _, err := svc.BootstrapURLFor(ctx, sess.ID, "user-1", "wrong"); !errors.Is(err, ErrNotFound) {
		t.Errorf("wrong token err = %v", err)
	}
	if _, err := svc.BootstrapURLFor(ctx, sess.ID, "user-2", sess.AuthToken); !errors.Is(err, ErrNotOwner) {
		t.Errorf("other user err = %v", err)
	}

	svc.Exchange(ctx, sess.AuthToken)
	if _, err := svc.BootstrapURLFor(ctx, sess.ID, "user-1", sess.AuthToken); !errors.Is(err, ErrTokenConsumed) {
		t.Errorf("after exchange err = %v", err)
	}
}
