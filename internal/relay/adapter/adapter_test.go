package adapter

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

type fakeAdapter struct {
	id       string
	started  bool
	stopped  bool
	startErr error
}

func (f *fakeAdapter) ID() string                  { return f.id }
func (f *fakeAdapter) DisplayName() string         { return f.id }
func (f *fakeAdapter) SubjectPrefixes() []string   { return []string{"relay.adapter." + f.id} }
func (f *fakeAdapter) Configure(json.RawMessage) error { return nil }
func (f *fakeAdapter) Start(ctx context.Context) error {
	f.started = true
	return f.startErr
}
func (f *fakeAdapter) Stop(ctx context.Context) error {
	f.stopped = true
	return nil
}
func (f *fakeAdapter) HandleMessage(ctx context.Context, chatID, channelType, senderID, content string) error {
	return nil
}

func newTestRegistry(t *testing.T) (*Registry, *fakeAdapter) {
	t.Helper()
	fa := &fakeAdapter{id: "discord"}
	configPath := filepath.Join(t.TempDir(), "adapters.json")
	r := New(configPath, map[string]Factory{
		"discord": func(id string) (Adapter, error) { return fa, nil },
	}, nil)
	r.register("discord", fa, false, json.RawMessage(`{}`))
	return r, fa
}

func TestEnableTransitionsToConnected(t *testing.T) {
	r, fa := newTestRegistry(t)
	if err := r.Enable(context.Background(), "discord"); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if !fa.started {
		t.Fatal("expected adapter Start to be called")
	}
	infos := r.ListAdapters()
	if len(infos) != 1 || infos[0].Status != StatusConnected {
		t.Fatalf("expected status connected, got %+v", infos)
	}
}

func TestEnableMarksErrorOnStartFailure(t *testing.T) {
	r, fa := newTestRegistry(t)
	fa.startErr = errBoom

	if err := r.Enable(context.Background(), "discord"); err == nil {
		t.Fatal("expected error")
	}
	infos := r.ListAdapters()
	if infos[0].Status != StatusError {
		t.Fatalf("expected status error, got %s", infos[0].Status)
	}
}

func TestDisableIsSafeFromAnyState(t *testing.T) {
	r, fa := newTestRegistry(t)
	if err := r.Disable(context.Background(), "discord"); err != nil {
		t.Fatalf("Disable from disabled state: %v", err)
	}
	if !fa.stopped {
		t.Fatal("expected Stop to be called even when not started")
	}
}

func TestReloadStartsEnabledAdapters(t *testing.T) {
	fa := &fakeAdapter{id: "discord"}
	configPath := filepath.Join(t.TempDir(), "adapters.json")
	cfg := fileConfig{Adapters: map[string]struct {
		Enabled bool            `json:"enabled"`
		Config  json.RawMessage `json:"config"`
	}{
		"discord": {Enabled: true, Config: json.RawMessage(`{"token":"x"}`)},
	}}
	data, _ := json.Marshal(cfg)
	writeFile(t, configPath, data)

	r := New(configPath, map[string]Factory{
		"discord": func(id string) (Adapter, error) { return fa, nil },
	}, nil)

	if err := r.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if !fa.started {
		t.Fatal("expected Reload to start the enabled adapter")
	}
}

var errBoom = errBoomType{}

type errBoomType struct{}

func (errBoomType) Error() string { return "boom" }

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
