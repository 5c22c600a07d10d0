package testsupport

import (
	"path/filepath"
	"testing"

	"scanstation/internal/config"
	"scanstation/internal/kvstore"
	"scanstation/internal/workflow"
)

// MustOpenKV opens a kvstore.Store for tests and registers cleanup.
func MustOpenKV(t testing.TB, cfg *config.Config) *kvstore.Store {
	t.Helper()

	store, err := kvstore.Open(cfg)
	if err != nil {
		t.Fatalf("kvstore.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewSession creates an empty capture session under the config's sessions directory.
func NewSession(t testing.TB, cfg *config.Config, name string) *workflow.Session {
	t.Helper()

	s, err := workflow.Create(filepath.Join(cfg.SessionsDir(), name), name)
	if err != nil {
		t.Fatalf("workflow.Create: %v", err)
	}
	return s
}
