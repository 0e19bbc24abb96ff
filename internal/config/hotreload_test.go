package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	if err := os.WriteFile(path, []byte(`{gateway: {rate_limit_rpm: 10}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	cur, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path, cur)
	if err != nil {
		t.Fatal(err)
	}
	w.debounce = 20 * time.Millisecond
	got := make(chan *Config, 4)
	w.OnChange(func(c *Config) { got <- c })
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	// Same content: no handler call.
	if err := os.WriteFile(path, []byte(`{gateway: {rate_limit_rpm: 10}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-got:
		t.Fatalf("unexpected reload: %+v", c.Gateway)
	case <-time.After(200 * time.Millisecond):
	}

	// Save by rename, the way most editors do.
	tmp := filepath.Join(dir, "config.json5.tmp")
	if err := os.WriteFile(tmp, []byte(`{gateway: {rate_limit_rpm: 99}, log: {level: "debug"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-got:
		if c.Gateway.RateLimitRPM != 99 || c.Log.Level != "debug" {
			t.Errorf("reloaded = %+v %+v", c.Gateway, c.Log)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after rename")
	}
}

func TestWatcher_InvalidFileKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	os.WriteFile(path, []byte(`{}`), 0o600)
	w, err := NewWatcher(path, Default())
	if err != nil {
		t.Fatal(err)
	}
	w.debounce = 10 * time.Millisecond
	called := make(chan struct{}, 1)
	w.OnChange(func(*Config) { called <- struct{}{} })
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	os.WriteFile(path, []byte(`{database: {mode: "bogus"}}`), 0o600)
	select {
	case <-called:
		t.Fatal("handler called for invalid config")
	case <-time.After(200 * time.Millisecond):
	}
	w.Stop()
	w.Stop()
}
