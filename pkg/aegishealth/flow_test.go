package aegishealth

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ghalamif/AegisHealth/internal/adapters/store"
)

func TestConfFromConfigAndStreamBuilder(t *testing.T) {
	cfg := testConfig(t)

	flow, err := ConfFromConfig(cfg, WithFlowOptions(WithLogger(quietLogger())))
	if err != nil {
		t.Fatalf("ConfFromConfig returned error: %v", err)
	}
	if flow.Config() != cfg {
		t.Fatalf("expected Config to be returned verbatim")
	}

	col := &stubCollector{}
	st := store.NewMemoryStore()
	var events []Event

	rt, err := flow.
		StreamIN(
			StreamInCollector(col),
			StreamInQueue(&stubQueue{}),
		).
		StreamOUT(
			StreamOutStore(st),
			StreamOutParams(staticResolver{}),
			StreamOutCallback(func(_ context.Context, ev Event) error {
				events = append(events, ev)
				return nil
			}),
		)
	if err != nil {
		t.Fatalf("StreamOUT returned error: %v", err)
	}
	t.Cleanup(func() { _ = rt.Shutdown(context.Background()) })

	if rt.collector != col {
		t.Fatalf("expected custom collector to be wired")
	}
	if rt.store != st {
		t.Fatalf("expected custom store to be wired")
	}
	if rt.params != nil {
		t.Fatalf("expected injected resolver to replace config params")
	}
}

func TestConfLoadsYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aegis.yaml")
	raw := "store:\n  driver: memory\nwal:\n  dir: " + filepath.Join(dir, "wal") + "\n"
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	flow, err := Conf(path)
	if err != nil {
		t.Fatalf("Conf returned error: %v", err)
	}
	if got := flow.Config().Store.Driver; got != DriverMemory {
		t.Fatalf("expected memory driver, got %q", got)
	}
	if flow.Config().Policy.MaxQueueLen == 0 {
		t.Fatalf("expected policy defaults to be applied")
	}
}

func TestNilFlow(t *testing.T) {
	var f *Flow
	if f.Config() != nil {
		t.Fatal("expected nil config from nil flow")
	}
	if _, err := f.StreamOUT(); err == nil {
		t.Fatal("expected error from nil flow")
	}
	if _, err := ConfFromConfig(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestFlowSkipsNilAdaptersAndLetsStreamsWin(t *testing.T) {
	cfg := testConfig(t)
	early := store.NewMemoryStore()
	late := store.NewMemoryStore()

	flow, err := ConfFromConfig(cfg, WithFlowOptions(WithLogger(quietLogger()), WithStateStore(early)))
	if err != nil {
		t.Fatalf("ConfFromConfig returned error: %v", err)
	}
	rt, err := flow.
		StreamIN(StreamInCollector(nil), StreamInWAL(nil)).
		StreamOUT(StreamOutStore(late), StreamOutCallback(nil), StreamOutParams(staticResolver{}))
	if err != nil {
		t.Fatalf("StreamOUT returned error: %v", err)
	}
	t.Cleanup(func() { _ = rt.Shutdown(context.Background()) })

	if rt.collector != nil {
		t.Fatalf("expected nil collector to be skipped")
	}
	if rt.wal == nil {
		t.Fatalf("expected default file WAL when none is injected")
	}
	if rt.store != late {
		t.Fatalf("expected StreamOUT store to override Options store")
	}
}
