package registry_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"stagehand/internal/config"
	"stagehand/internal/logging"
	"stagehand/internal/manifest"
	"stagehand/internal/registry"
	"stagehand/internal/services"
	"stagehand/internal/stagefs"
	"stagehand/internal/testsupport"
)

type fakeAnnouncer struct {
	mu   sync.Mutex
	err  error
	regs []registry.Registration
}

func (f *fakeAnnouncer) Announce(_ context.Context, reg registry.Registration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.regs = append(f.regs, reg)
	return nil
}

func (f *fakeAnnouncer) Close() error { return nil }

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func writeAggregate(t *testing.T, cfg *config.Config, name string) stagefs.Entry {
	t.Helper()
	doc := manifest.Document{
		ID:        "agg-1",
		Kind:      manifest.KindAggregate,
		CreatedAt: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		Manifests: []manifest.Ref{
			{Category: config.CategoryUploaded, Path: "uploaded/" + name},
			{Category: config.CategoryFailed, Path: "failed/" + name},
		},
	}
	path := filepath.Join(cfg.Stages.ManifestsUploaded, name)
	if err := manifest.Write(path, doc); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return stagefs.Entry{Name: name, Path: path}
}

func TestRegistrarAnnouncesThenMoves(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	entry := writeAggregate(t, cfg, "manifest_a.json")
	announcer := &fakeAnnouncer{}
	r := registry.New(cfg, announcer, logging.NewNop())
	fixed := time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)
	r.SetNow(func() time.Time { return fixed })

	decision, err := r.Classify(context.Background(), entry)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if decision.Dir != cfg.Stages.ManifestsRegistered || decision.Outcome != registry.OutcomeRegistered {
		t.Fatalf("unexpected decision %+v", decision)
	}
	if len(announcer.regs) != 1 {
		t.Fatalf("expected one announcement, got %d", len(announcer.regs))
	}
	reg := announcer.regs[0]
	if reg.ManifestID != "agg-1" || len(reg.Parts) != 2 || !reg.RegisteredAt.Equal(fixed) {
		t.Fatalf("unexpected registration %+v", reg)
	}
}

func TestRegistrarLeavesDocumentOnAnnounceFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	entry := writeAggregate(t, cfg, "manifest_b.json")
	r := registry.New(cfg, &fakeAnnouncer{err: errors.New("broker down")}, logging.NewNop())

	decision, err := r.Classify(context.Background(), entry)
	if err == nil {
		t.Fatal("expected announce error")
	}
	if !errors.Is(err, services.ErrExternal) {
		t.Fatalf("expected external error marker, got %v", err)
	}
	if !decision.Stays() {
		t.Fatalf("expected document to stay, got %+v", decision)
	}
}

func TestRegistrarSkipsUnreadableDocument(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := filepath.Join(cfg.Stages.ManifestsUploaded, "manifest_bad.json")
	testsupport.WriteContent(t, path, "[]")
	announcer := &fakeAnnouncer{}
	r := registry.New(cfg, announcer, logging.NewNop())

	decision, err := r.Classify(context.Background(), stagefs.Entry{Name: "manifest_bad.json", Path: path})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !decision.Stays() || len(announcer.regs) != 0 {
		t.Fatalf("expected stay without announcement, got %+v", decision)
	}
}

func TestKafkaAnnouncerPublishesKeyedJSON(t *testing.T) {
	w := &fakeWriter{}
	a := registry.NewKafkaAnnouncerWithWriter(w, time.Second, logging.NewNop())
	reg := registry.Registration{ManifestID: "m-1", Kind: manifest.KindBatch, Files: 3, Bytes: 12}

	if err := a.Announce(context.Background(), reg); err != nil {
		t.Fatalf("Announce: %v", err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "m-1" {
		t.Fatalf("unexpected messages %+v", w.msgs)
	}
	var decoded registry.Registration
	if err := json.Unmarshal(w.msgs[0].Value, &decoded); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if decoded.Files != 3 || decoded.Bytes != 12 {
		t.Fatalf("unexpected payload %+v", decoded)
	}
	if err := a.Close(); err != nil || !w.closed {
		t.Fatalf("Close: %v closed=%v", err, w.closed)
	}
}

func TestKafkaAnnouncerWrapsWriteErrors(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	a := registry.NewKafkaAnnouncerWithWriter(w, 0, nil)
	err := a.Announce(context.Background(), registry.Registration{ManifestID: "m-2"})
	if !errors.Is(err, services.ErrExternal) {
		t.Fatalf("expected external error, got %v", err)
	}
}

func TestNewAnnouncerSelectsByConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, ok := registry.NewAnnouncer(cfg, logging.NewNop()).(*registry.LogAnnouncer); !ok {
		t.Fatal("expected log announcer without brokers")
	}
	cfg.Registration.KafkaBrokers = []string{"127.0.0.1:9092"}
	a := registry.NewAnnouncer(cfg, logging.NewNop())
	if _, ok := a.(*registry.KafkaAnnouncer); !ok {
		t.Fatalf("expected kafka announcer, got %T", a)
	}
	_ = a.Close()
}
