package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tinytelemetry/logfeed/internal/deadletter"
	"github.com/tinytelemetry/logfeed/internal/loader"
	"github.com/tinytelemetry/logfeed/internal/model"
	"github.com/tinytelemetry/logfeed/internal/objectstore"
	"github.com/tinytelemetry/logfeed/internal/publisher"
)

type memStore struct {
	body string
	err  error
}

func (m memStore) Get(_ context.Context, _, _ string) (io.ReadCloser, error) {
	if m.err != nil {
		return nil, m.err
	}
	return io.NopCloser(strings.NewReader(m.body)), nil
}

type recordingProducer struct {
	mu     sync.Mutex
	keys   []string
	etats  []string
	events []string
	fail   map[string]bool
}

func (p *recordingProducer) Send(_ context.Context, msg model.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, "send")
	if p.fail[msg.Key] {
		return errors.New("broker unavailable")
	}
	p.keys = append(p.keys, msg.Key)
	var rec model.Record
	_ = json.Unmarshal(msg.Value, &rec)
	p.etats = append(p.etats, rec.Etat())
	return nil
}

func (p *recordingProducer) Flush(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, "flush")
	return nil
}

func (p *recordingProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, "close")
	return nil
}

func testConfig() appConfig {
	return appConfig{
		Bucket:         "my12data",
		ObjectKey:      "logs.json",
		Brokers:        []string{"localhost:9092"},
		Topic:          "ingestion-logs",
		PublishTimeout: time.Second,
		Concurrency:    1,
		MaxLineSize:    model.DefaultMaxLineSize,
		policy:         loader.PolicyAbort,
	}
}

func testDeps(store objectstore.Getter, prod *recordingProducer, invoked *bool) runDeps {
	return runDeps{
		store: store,
		newProducer: func() (publisher.Producer, error) {
			*invoked = true
			return prod, nil
		},
		runID: "test-run",
	}
}

func TestRunFeedPublishesInOrder(t *testing.T) {
	var out bytes.Buffer
	logger := log.New(&out, "", 0)

	prod := &recordingProducer{}
	var invoked bool
	store := memStore{body: "{\"Etat\":\"OK\",\"Source\":\"A\"}\n{\"Etat\":\"ERR\",\"Source\":\"B\"}\n"}

	report, err := runFeed(context.Background(), testConfig(), testDeps(store, prod, &invoked), logger)
	if err != nil {
		t.Fatalf("runFeed: %v", err)
	}
	if report == nil || report.Sent != 2 {
		t.Fatalf("report = %+v, want 2 sent", report)
	}
	if strings.Join(prod.keys, ",") != "log-0,log-1" {
		t.Fatalf("keys = %v, want [log-0 log-1]", prod.keys)
	}
	if strings.Join(prod.etats, ",") != "OK,ERR" {
		t.Fatalf("etats = %v, want [OK ERR]", prod.etats)
	}
	if strings.Join(prod.events, ",") != "send,send,flush,close" {
		t.Fatalf("events = %v, want send,send,flush,close", prod.events)
	}
}

func TestRunFeedEmptyBodySkipsPublisher(t *testing.T) {
	var out bytes.Buffer
	logger := log.New(&out, "", 0)

	prod := &recordingProducer{}
	var invoked bool

	report, err := runFeed(context.Background(), testConfig(), testDeps(memStore{body: ""}, prod, &invoked), logger)
	if err != nil {
		t.Fatalf("runFeed: %v", err)
	}
	if report != nil {
		t.Fatalf("report = %+v, want nil", report)
	}
	if invoked {
		t.Fatal("producer was created for an empty batch")
	}
	if !strings.Contains(out.String(), "No logs found") {
		t.Fatalf("missing nothing-to-do message:\n%s", out.String())
	}
}

func TestRunFeedStoreErrorSkipsPublisher(t *testing.T) {
	var out bytes.Buffer
	logger := log.New(&out, "", 0)

	prod := &recordingProducer{}
	var invoked bool
	store := memStore{err: &objectstore.Error{Code: objectstore.CodeObjectNotFound, Err: errors.New("NoSuchKey")}}

	for _, stream := range []bool{false, true} {
		cfg := testConfig()
		cfg.Stream = stream
		report, err := runFeed(context.Background(), cfg, testDeps(store, prod, &invoked), logger)
		if err != nil {
			t.Fatalf("stream=%v: runFeed: %v", stream, err)
		}
		if report != nil || invoked {
			t.Fatalf("stream=%v: publisher ran on store error", stream)
		}
	}
}

func TestRunFeedMalformedLineAbortsBatch(t *testing.T) {
	logger := log.New(io.Discard, "", 0)

	prod := &recordingProducer{}
	var invoked bool
	store := memStore{body: "{\"Etat\":\"OK\"}\n{oops\n{\"Etat\":\"OK\"}\n"}

	report, err := runFeed(context.Background(), testConfig(), testDeps(store, prod, &invoked), logger)
	if err != nil {
		t.Fatalf("runFeed: %v", err)
	}
	if report != nil || invoked {
		t.Fatal("publisher ran for a batch with a malformed line")
	}

	cfg := testConfig()
	cfg.policy = loader.PolicySkip
	report, err = runFeed(context.Background(), cfg, testDeps(store, prod, &invoked), logger)
	if err != nil {
		t.Fatalf("runFeed skip: %v", err)
	}
	if report == nil || report.Sent != 2 {
		t.Fatalf("skip report = %+v, want 2 sent", report)
	}
}

func TestRunFeedStream(t *testing.T) {
	logger := log.New(io.Discard, "", 0)

	prod := &recordingProducer{}
	var invoked bool
	store := memStore{body: "{\"Etat\":\"A\"}\n{\"Etat\":\"B\"}\n{\"Etat\":\"C\"}\n"}

	cfg := testConfig()
	cfg.Stream = true
	report, err := runFeed(context.Background(), cfg, testDeps(store, prod, &invoked), logger)
	if err != nil {
		t.Fatalf("runFeed: %v", err)
	}
	if report == nil || report.Sent != 3 || report.Total != 3 {
		t.Fatalf("report = %+v, want 3/3", report)
	}
	if strings.Join(prod.keys, ",") != "log-0,log-1,log-2" {
		t.Fatalf("keys = %v", prod.keys)
	}
}

func TestRunFeedStreamNothingToSendSkipsPublisher(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty body", "", "No logs found"},
		{"blank lines", "\n  \n", "No logs found"},
		{"malformed first line", "{bad\n{\"Etat\":\"A\"}\n", "Error downloading from S3: line 1"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var out bytes.Buffer
			logger := log.New(&out, "", 0)

			prod := &recordingProducer{}
			var invoked bool
			cfg := testConfig()
			cfg.Stream = true
			report, err := runFeed(context.Background(), cfg, testDeps(memStore{body: tt.body}, prod, &invoked), logger)
			if err != nil {
				t.Fatalf("runFeed: %v", err)
			}
			if report != nil {
				t.Fatalf("report = %+v, want nil", report)
			}
			if invoked {
				t.Fatal("producer was created with nothing to send")
			}
			if !strings.Contains(out.String(), tt.want) || !strings.Contains(out.String(), "No logs found") {
				t.Fatalf("output = %q, want %q", out.String(), tt.want)
			}
		})
	}
}

func TestRunFeedStreamMalformedLaterLineStops(t *testing.T) {
	t.Parallel()
	logger := log.New(io.Discard, "", 0)

	prod := &recordingProducer{}
	var invoked bool
	cfg := testConfig()
	cfg.Stream = true
	store := memStore{body: "{\"Etat\":\"A\"}\n{bad\n{\"Etat\":\"C\"}\n"}
	report, err := runFeed(context.Background(), cfg, testDeps(store, prod, &invoked), logger)
	if err != nil {
		t.Fatalf("runFeed: %v", err)
	}
	if report == nil || report.Sent != 1 || report.SourceErr == nil {
		t.Fatalf("report = %+v, want 1 sent and a source error", report)
	}
	if strings.Join(prod.keys, ",") != "log-0" {
		t.Fatalf("keys = %v, want [log-0]", prod.keys)
	}
}

func TestReplayDeadLetters(t *testing.T) {
	logger := log.New(io.Discard, "", 0)

	journal, err := deadletter.Open(filepath.Join(t.TempDir(), "dl.jsonl"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = journal.Close() })

	// first run: log-1 fails and lands in the journal
	prod := &recordingProducer{fail: map[string]bool{"log-1": true}}
	var invoked bool
	deps := testDeps(memStore{body: "{\"Etat\":\"A\"}\n{\"Etat\":\"B\"}\n{\"Etat\":\"C\"}\n"}, prod, &invoked)
	deps.deadLetters = journal

	cfg := testConfig()
	cfg.DeadLetterEnabled = true
	if _, err := runFeed(context.Background(), cfg, deps, logger); err != nil {
		t.Fatalf("runFeed: %v", err)
	}
	pending, err := journal.Pending()
	if err != nil || len(pending) != 1 || pending[0].Key != "log-1" {
		t.Fatalf("pending = %+v (err %v), want [log-1]", pending, err)
	}

	// replay: broker healthy, original key is kept
	replayProd := &recordingProducer{}
	deps.newProducer = func() (publisher.Producer, error) { return replayProd, nil }
	report, err := replayDeadLetters(context.Background(), cfg, deps, logger)
	if err != nil {
		t.Fatalf("replayDeadLetters: %v", err)
	}
	if report == nil || report.Sent != 1 {
		t.Fatalf("report = %+v, want 1 sent", report)
	}
	if strings.Join(replayProd.keys, ",") != "log-1" || replayProd.etats[0] != "B" {
		t.Fatalf("replayed keys = %v etats = %v", replayProd.keys, replayProd.etats)
	}
	pending, err = journal.Pending()
	if err != nil || len(pending) != 0 {
		t.Fatalf("pending after replay = %+v (err %v), want none", pending, err)
	}

	report, err = replayDeadLetters(context.Background(), cfg, deps, logger)
	if err != nil || report != nil {
		t.Fatalf("second replay = %+v, %v; want nothing to do", report, err)
	}
}

func TestRenderStartupBanner(t *testing.T) {
	cfg := testConfig()
	banner := renderStartupBanner(cfg, "run-42", false)
	for _, want := range []string{"s3://my12data/logs.json", "ingestion-logs", "run-42"} {
		if !strings.Contains(banner, want) {
			t.Errorf("banner missing %q", want)
		}
	}
}
