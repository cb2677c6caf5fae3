package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/allprecisely/Ad-parser/internal/model"
	"github.com/allprecisely/Ad-parser/internal/report"
)

// sentPayload is a normalized record of one outgoing API call.
type sentPayload struct {
	ChatID int64
	Kind   string // "text", "photo", "media_group", "location"
	Images int
	Text   string
	Silent bool
}

type fakeAPI struct {
	mu   sync.Mutex
	sent []sentPayload

	// errs are consumed one per call; nil means success. After the slice is
	// exhausted every call succeeds.
	errs []error
}

func (f *fakeAPI) nextErr() error {
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var p sentPayload
	switch msg := c.(type) {
	case tgbotapi.MessageConfig:
		p = sentPayload{ChatID: msg.ChatID, Kind: "text", Text: msg.Text, Silent: msg.DisableNotification}
	case tgbotapi.PhotoConfig:
		p = sentPayload{ChatID: msg.ChatID, Kind: "photo", Images: 1, Text: msg.Caption, Silent: msg.DisableNotification}
	case tgbotapi.LocationConfig:
		p = sentPayload{ChatID: msg.ChatID, Kind: "location"}
	default:
		p = sentPayload{Kind: "unknown"}
	}
	f.sent = append(f.sent, p)
	return tgbotapi.Message{}, f.nextErr()
}

func (f *fakeAPI) SendMediaGroup(config tgbotapi.MediaGroupConfig) ([]tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentPayload{
		ChatID: config.ChatID,
		Kind:   "media_group",
		Images: len(config.Media),
		Silent: config.DisableNotification,
	})
	return nil, f.nextErr()
}

func (f *fakeAPI) payloads() []sentPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentPayload(nil), f.sent...)
}

func newTestDispatcher(api *fakeAPI, mistakes *report.Collector) (*Dispatcher, *[]time.Duration) {
	d := New(api, 999, mistakes, slog.New(slog.NewTextHandler(io.Discard, nil)))
	var slept []time.Duration
	d.sleep = func(_ context.Context, dur time.Duration) error {
		slept = append(slept, dur)
		return nil
	}
	return d, &slept
}

func testListing(id string, images ...string) *model.Listing {
	return &model.Listing{
		ID:       id,
		Category: model.CategoryRent,
		Price:    1000,
		Title:    "Flat " + id,
		Location: "Limassol district",
		PostedAt: time.Date(2024, 10, 20, 15, 11, 0, 0, time.UTC),
		URL:      "https://example.com/adv/" + id,
		Images:   images,
	}
}

func TestDeliverDegradesImages(t *testing.T) {
	boom := errors.New("bad request")
	api := &fakeAPI{errs: []error{boom, boom, boom, nil}}
	mistakes := report.NewCollector()
	d, _ := newTestDispatcher(api, mistakes)

	l := testListing("1", "a.jpg", "b.jpg", "c.jpg")
	d.deliver(context.Background(), 42, l, model.Preferences{})

	var got []sentPayload
	for _, p := range api.payloads() {
		got = append(got, sentPayload{Kind: p.Kind, Images: p.Images})
	}
	want := []sentPayload{
		{Kind: "media_group", Images: 3},
		{Kind: "media_group", Images: 2},
		{Kind: "photo", Images: 1},
		{Kind: "text"},
	}

	opt := cmp.Comparer(func(a, b sentPayload) bool { return a.Kind == b.Kind && a.Images == b.Images })
	if diff := cmp.Diff(want, got, opt); diff != "" {
		t.Errorf("payload sequence mismatch (-want +got):\n%s", diff)
	}
	if mistakes.Len() != 0 {
		t.Errorf("mistakes = %d, want 0", mistakes.Len())
	}
}

func TestDeliverTextOnlyFailureGivesUp(t *testing.T) {
	boom := errors.New("blocked by user")
	api := &fakeAPI{errs: []error{boom}}
	mistakes := report.NewCollector()
	d, _ := newTestDispatcher(api, mistakes)

	d.deliver(context.Background(), 42, testListing("1"), model.Preferences{})

	if got := len(api.payloads()); got != 1 {
		t.Fatalf("send attempts = %d, want 1", got)
	}
	if mistakes.Len() != 1 {
		t.Errorf("mistakes = %d, want 1", mistakes.Len())
	}
}

func TestDeliverRateLimitedResendsIdentical(t *testing.T) {
	limited := &tgbotapi.Error{
		Code:               429,
		Message:            "Too Many Requests",
		ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 7},
	}
	api := &fakeAPI{errs: []error{limited, nil}}
	mistakes := report.NewCollector()
	d, slept := newTestDispatcher(api, mistakes)

	l := testListing("1", "a.jpg", "b.jpg")
	d.deliver(context.Background(), 42, l, model.Preferences{})

	payloads := api.payloads()
	if len(payloads) != 2 {
		t.Fatalf("send attempts = %d, want 2", len(payloads))
	}
	// A throttled send is repeated as-is, without shedding photos.
	for i, p := range payloads {
		if p.Kind != "media_group" || p.Images != 2 {
			t.Errorf("attempt %d = %s with %d images, want media_group with 2", i, p.Kind, p.Images)
		}
	}
	if diff := cmp.Diff([]time.Duration{7 * time.Second}, *slept); diff != "" {
		t.Errorf("sleep intervals mismatch (-want +got):\n%s", diff)
	}
	if mistakes.Len() != 0 {
		t.Errorf("mistakes = %d, want 0", mistakes.Len())
	}
}

func TestDeliverPreferences(t *testing.T) {
	api := &fakeAPI{}
	d, _ := newTestDispatcher(api, report.NewCollector())

	l := testListing("1", "a.jpg")
	l.Coords = &model.Coords{Lat: 34.684, Lon: 33.046}
	d.deliver(context.Background(), 42, l, model.Preferences{
		Silent:       true,
		NoPhotos:     true,
		ShowLocation: true,
	})

	payloads := api.payloads()
	if len(payloads) != 2 {
		t.Fatalf("send attempts = %d, want 2", len(payloads))
	}
	if payloads[0].Kind != "text" || !payloads[0].Silent {
		t.Errorf("first payload = %+v, want silent text", payloads[0])
	}
	if payloads[1].Kind != "location" {
		t.Errorf("second payload = %+v, want location", payloads[1])
	}
}

func TestDispatchPerUserOrder(t *testing.T) {
	api := &fakeAPI{}
	d, _ := newTestDispatcher(api, report.NewCollector())

	listings := map[model.Category][]model.Listing{
		model.CategoryRent: {*testListing("200"), *testListing("100")},
	}
	matches := map[model.Category]map[string][]int64{
		model.CategoryRent: {
			"100": {42},
			"200": {42},
		},
	}

	d.Dispatch(context.Background(), matches, listings, nil)

	var texts []string
	for _, p := range api.payloads() {
		texts = append(texts, p.Text)
	}
	if len(texts) != 2 {
		t.Fatalf("sent %d messages, want 2", len(texts))
	}
	if !strings.Contains(texts[0], "Flat 100") || !strings.Contains(texts[1], "Flat 200") {
		t.Errorf("messages out of order: %q", texts)
	}
}

func TestFlush(t *testing.T) {
	api := &fakeAPI{}
	mistakes := report.NewCollector()
	d, _ := newTestDispatcher(api, mistakes)

	d.Flush(context.Background())
	if got := len(api.payloads()); got != 0 {
		t.Fatalf("empty collector sent %d messages, want 0", got)
	}

	mistakes.Add("parse announcement: missing data-id")
	mistakes.Add("deliver ad 7 to 42: blocked")
	d.Flush(context.Background())

	payloads := api.payloads()
	if len(payloads) != 1 {
		t.Fatalf("sent %d messages, want 1", len(payloads))
	}
	if payloads[0].ChatID != 999 {
		t.Errorf("chat = %d, want operator chat 999", payloads[0].ChatID)
	}
	if !strings.Contains(payloads[0].Text, "missing data-id") ||
		!strings.Contains(payloads[0].Text, "blocked") {
		t.Errorf("flush text missing mistakes: %q", payloads[0].Text)
	}
	if mistakes.Len() != 0 {
		t.Error("collector not cleared after flush")
	}
}
