package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/alexey-kott/youdo-watcher/internal/catalog"
	"github.com/alexey-kott/youdo-watcher/internal/model"
	"github.com/alexey-kott/youdo-watcher/internal/pipeline"
)

const (
	channelChat  = int64(100)
	operatorChat = int64(200)
)

// ── Fakes ──────────────────────────────────────────────────────────────────

type fakeCatalog struct {
	searchResults map[string][]model.Task
	searchErr     map[string]error
	details       map[int64]string
	detailErr     map[int64]error
}

func (f *fakeCatalog) Search(_ context.Context, query string) ([]model.Task, error) {
	if err := f.searchErr[query]; err != nil {
		return nil, err
	}
	return f.searchResults[query], nil
}

func (f *fakeCatalog) FetchDetail(_ context.Context, id int64) (string, error) {
	if err := f.detailErr[id]; err != nil {
		return "", err
	}
	return f.details[id], nil
}

type fakeStore struct {
	records   map[int64][]byte
	attempts  map[int64]int64
	existsErr error
	putErr    error
	events    *[]string
}

func (f *fakeStore) Exists(_ context.Context, id int64) (bool, error) {
	if f.existsErr != nil {
		return false, f.existsErr
	}
	_, ok := f.records[id]
	return ok, nil
}

func (f *fakeStore) Put(_ context.Context, id int64, payload []byte) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.records[id] = payload
	*f.events = append(*f.events, fmt.Sprintf("put:%d", id))
	return nil
}

func (f *fakeStore) BumpAttempts(_ context.Context, id int64) (int64, error) {
	f.attempts[id]++
	return f.attempts[id], nil
}

type sentMessage struct {
	chat int64
	text string
}

type fakeSink struct {
	sent   []sentMessage
	err    error
	events *[]string
}

func (f *fakeSink) Send(_ context.Context, chatID int64, text string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{chat: chatID, text: text})
	*f.events = append(*f.events, fmt.Sprintf("send:%d", chatID))
	return nil
}

func (f *fakeSink) channelMessages() []sentMessage {
	var out []sentMessage
	for _, m := range f.sent {
		if m.chat == channelChat {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeSink) operatorMessages() []sentMessage {
	var out []sentMessage
	for _, m := range f.sent {
		if m.chat == operatorChat {
			out = append(out, m)
		}
	}
	return out
}

type harness struct {
	catalog *fakeCatalog
	store   *fakeStore
	sink    *fakeSink
	events  []string
	pipe    *pipeline.Pipeline
}

func newHarness(maxAttempts int) *harness {
	h := &harness{
		catalog: &fakeCatalog{
			searchResults: map[string][]model.Task{},
			searchErr:     map[string]error{},
			details:       map[int64]string{},
			detailErr:     map[int64]error{},
		},
		store: &fakeStore{
			records:  map[int64][]byte{},
			attempts: map[int64]int64{},
		},
		sink: &fakeSink{},
	}
	h.store.events = &h.events
	h.sink.events = &h.events

	h.pipe = pipeline.New(h.catalog, h.store, h.sink, nil, pipeline.Options{
		ChannelID:         channelChat,
		OperatorChatID:    operatorChat,
		ItemDelay:         0,
		EnrichMaxAttempts: maxAttempts,
	}, zap.NewNop().Sugar())

	return h
}

// ── Dedup idempotence across cycles ────────────────────────────────────────

func TestRunQuery_TwoCycleIdempotence(t *testing.T) {
	h := newHarness(5)
	h.catalog.searchResults["plumbing"] = []model.Task{{ID: 1, Name: "Fix the sink"}}
	h.catalog.searchResults["moving"] = []model.Task{{ID: 2, Name: "Move a couch"}}
	h.catalog.details[1] = "desc one"
	h.catalog.details[2] = "desc two"
	ctx := context.Background()

	// First cycle: both tasks are new.
	for _, q := range []string{"plumbing", "moving"} {
		if err := h.pipe.RunQuery(ctx, q); err != nil {
			t.Fatalf("RunQuery(%q) cycle 1: %v", q, err)
		}
	}

	got := h.sink.channelMessages()
	if len(got) != 2 {
		t.Fatalf("cycle 1: %d notifications, want 2", len(got))
	}
	if !strings.Contains(got[0].text, "Fix the sink") || !strings.Contains(got[1].text, "Move a couch") {
		t.Errorf("notifications out of order: %q then %q", got[0].text, got[1].text)
	}

	// Second cycle: identical search results, zero new notifications.
	for _, q := range []string{"plumbing", "moving"} {
		if err := h.pipe.RunQuery(ctx, q); err != nil {
			t.Fatalf("RunQuery(%q) cycle 2: %v", q, err)
		}
	}

	if n := len(h.sink.channelMessages()); n != 2 {
		t.Errorf("after cycle 2: %d total notifications, want still 2", n)
	}
}

// ── Persist-before-notify ordering ─────────────────────────────────────────

func TestRunQuery_PersistPrecedesNotify(t *testing.T) {
	h := newHarness(5)
	h.catalog.searchResults["plumbing"] = []model.Task{{ID: 1, Name: "A"}, {ID: 2, Name: "B"}}
	h.catalog.details[1] = "d1"
	h.catalog.details[2] = "d2"

	if err := h.pipe.RunQuery(context.Background(), "plumbing"); err != nil {
		t.Fatalf("RunQuery: %v", err)
	}

	want := []string{"put:1", "send:100", "put:2", "send:100"}
	if len(h.events) != len(want) {
		t.Fatalf("events = %v, want %v", h.events, want)
	}
	for i := range want {
		if h.events[i] != want[i] {
			t.Fatalf("events = %v, want %v", h.events, want)
		}
	}
}

// ── Search failure reporting ───────────────────────────────────────────────

func TestRunQuery_StatusErrorReachesOperators(t *testing.T) {
	h := newHarness(5)
	h.catalog.searchErr["plumbing"] = &catalog.StatusError{
		StatusCode: 429,
		Body:       `{"error":"rate limited"}`,
	}

	err := h.pipe.RunQuery(context.Background(), "plumbing")
	if err == nil {
		t.Fatal("RunQuery expected error, got nil")
	}

	diags := h.sink.operatorMessages()
	if len(diags) != 1 {
		t.Fatalf("%d operator diagnostics, want 1", len(diags))
	}
	if !strings.Contains(diags[0].text, "429") {
		t.Errorf("diagnostic missing status code: %q", diags[0].text)
	}
	if !strings.Contains(diags[0].text, "rate limited") {
		t.Errorf("diagnostic missing raw body: %q", diags[0].text)
	}
	if n := len(h.sink.channelMessages()); n != 0 {
		t.Errorf("%d channel messages after failed search, want 0", n)
	}
}

// ── Enrichment failures ────────────────────────────────────────────────────

func TestRunQuery_EnrichFailureSkipsThenRecovers(t *testing.T) {
	h := newHarness(5)
	h.catalog.searchResults["plumbing"] = []model.Task{{ID: 1, Name: "Flaky"}}
	h.catalog.detailErr[1] = catalog.ErrDetailNotFound
	ctx := context.Background()

	if err := h.pipe.RunQuery(ctx, "plumbing"); err != nil {
		t.Fatalf("RunQuery cycle 1: %v", err)
	}
	if len(h.store.records) != 0 {
		t.Error("failed enrichment must not persist")
	}
	if n := len(h.sink.channelMessages()); n != 0 {
		t.Errorf("failed enrichment must not notify, got %d messages", n)
	}

	// Next cycle the page is back; the task is rediscovered and delivered.
	delete(h.catalog.detailErr, 1)
	h.catalog.details[1] = "recovered description"

	if err := h.pipe.RunQuery(ctx, "plumbing"); err != nil {
		t.Fatalf("RunQuery cycle 2: %v", err)
	}
	got := h.sink.channelMessages()
	if len(got) != 1 {
		t.Fatalf("%d notifications after recovery, want 1", len(got))
	}
	if !strings.Contains(got[0].text, "recovered description") {
		t.Errorf("notification missing enriched description: %q", got[0].text)
	}
}

func TestRunQuery_GiveUpAtAttemptCap(t *testing.T) {
	h := newHarness(1) // give up after the first failed attempt
	h.catalog.searchResults["plumbing"] = []model.Task{{ID: 1, Name: "Broken page"}}
	h.catalog.detailErr[1] = catalog.ErrDetailNotFound
	ctx := context.Background()

	if err := h.pipe.RunQuery(ctx, "plumbing"); err != nil {
		t.Fatalf("RunQuery: %v", err)
	}

	if _, ok := h.store.records[1]; !ok {
		t.Fatal("given-up task must be recorded so it is never notified")
	}
	if !strings.Contains(string(h.store.records[1]), "GivenUp") {
		t.Errorf("record should be marked given up: %s", h.store.records[1])
	}
	if n := len(h.sink.channelMessages()); n != 0 {
		t.Errorf("given-up task must not reach the channel, got %d messages", n)
	}
	diags := h.sink.operatorMessages()
	if len(diags) != 1 || !strings.Contains(diags[0].text, "Giving up") {
		t.Fatalf("operator give-up diagnostic missing: %v", diags)
	}

	// Later cycles: the dedup gate holds, no further diagnostics.
	if err := h.pipe.RunQuery(ctx, "plumbing"); err != nil {
		t.Fatalf("RunQuery cycle 2: %v", err)
	}
	if n := len(h.sink.operatorMessages()); n != 1 {
		t.Errorf("%d operator diagnostics after cycle 2, want still 1", n)
	}
}

// ── Store and sink failures ────────────────────────────────────────────────

func TestRunQuery_StoreUnavailableSkipsItem(t *testing.T) {
	h := newHarness(5)
	h.catalog.searchResults["plumbing"] = []model.Task{{ID: 1, Name: "A"}}
	h.catalog.details[1] = "d"
	h.store.existsErr = errors.New("store: redis unavailable: connection refused")

	if err := h.pipe.RunQuery(context.Background(), "plumbing"); err != nil {
		t.Fatalf("RunQuery must not fail the query on a store outage: %v", err)
	}
	if n := len(h.sink.channelMessages()); n != 0 {
		t.Errorf("unknown dedup state must never notify, got %d messages", n)
	}
}

func TestRunQuery_SinkFailureIsNotRetried(t *testing.T) {
	h := newHarness(5)
	h.catalog.searchResults["plumbing"] = []model.Task{{ID: 1, Name: "A"}}
	h.catalog.details[1] = "d"
	ctx := context.Background()

	h.sink.err = errors.New("notify: telegram unavailable: 429")
	if err := h.pipe.RunQuery(ctx, "plumbing"); err != nil {
		t.Fatalf("RunQuery cycle 1: %v", err)
	}
	if _, ok := h.store.records[1]; !ok {
		t.Fatal("task must be persisted even when notify fails")
	}

	// Sink recovers; the task stays delivered-from-the-dedup-perspective.
	h.sink.err = nil
	if err := h.pipe.RunQuery(ctx, "plumbing"); err != nil {
		t.Fatalf("RunQuery cycle 2: %v", err)
	}
	if n := len(h.sink.channelMessages()); n != 0 {
		t.Errorf("persisted task was re-notified %d times, want 0", n)
	}
}

// ── SearchNow ──────────────────────────────────────────────────────────────

func TestSearchNow_FormatsWithoutTouchingDedup(t *testing.T) {
	h := newHarness(5)
	h.catalog.searchResults["moving"] = []model.Task{
		{ID: 1, Name: "Move a couch", PriceAmount: "500"},
		{ID: 2, Name: "Move a piano"},
	}

	messages, err := h.pipe.SearchNow(context.Background(), "moving")
	if err != nil {
		t.Fatalf("SearchNow: %v", err)
	}
	if len(messages) == 0 {
		t.Fatal("SearchNow returned no messages")
	}
	joined := strings.Join(messages, "\n\n")
	if !strings.Contains(joined, "Move a couch") || !strings.Contains(joined, "Move a piano") {
		t.Errorf("results missing tasks: %q", joined)
	}
	if len(h.events) != 0 {
		t.Errorf("SearchNow touched store or sink: %v", h.events)
	}
}

func TestSearchNow_EmptyResult(t *testing.T) {
	h := newHarness(5)

	messages, err := h.pipe.SearchNow(context.Background(), "nothing here")
	if err != nil {
		t.Fatalf("SearchNow: %v", err)
	}
	if len(messages) != 1 || !strings.Contains(messages[0], "No open tasks") {
		t.Errorf("messages = %v", messages)
	}
}

func TestSearchNow_PropagatesRemoteFailure(t *testing.T) {
	h := newHarness(5)
	h.catalog.searchErr["moving"] = &catalog.StatusError{StatusCode: 500, Body: "boom"}

	_, err := h.pipe.SearchNow(context.Background(), "moving")
	if err == nil {
		t.Fatal("SearchNow expected error, got nil")
	}
}
