package webhooks

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/workstreet/jobledger/internal/idgen"
	"github.com/workstreet/jobledger/internal/job"
	"github.com/workstreet/jobledger/internal/payout"
)

type capture struct {
	mu          sync.Mutex
	events      []Event
	signature   string
	platformSig string
	header      string
}

func (c *capture) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var ev Event
		json.Unmarshal(body, &ev)
		c.mu.Lock()
		c.events = append(c.events, ev)
		c.signature = r.Header.Get("X-Jobledger-Signature")
		c.platformSig = r.Header.Get("X-Jobledger-Platform-Signature")
		c.header = r.Header.Get("X-Jobledger-Event")
		c.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}
}

func (c *capture) wait(t *testing.T, n int) []Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		got := len(c.events)
		c.mu.Unlock()
		if got >= n {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) < n {
		t.Fatalf("received %d events, want %d", len(c.events), n)
	}
	return append([]Event(nil), c.events...)
}

func subscribe(t *testing.T, store Store, userID, url string, events ...EventType) *Subscription {
	t.Helper()
	sub := &Subscription{
		ID:        idgen.WithPrefix("wh_"),
		UserID:    userID,
		URL:       url,
		Secret:    "test-secret",
		Events:    events,
		Active:    true,
		CreatedAt: time.Now(),
	}
	if err := store.Create(context.Background(), sub); err != nil {
		t.Fatal(err)
	}
	return sub
}

func TestDispatchSignsPayload(t *testing.T) {
	cap := &capture{}
	srv := httptest.NewServer(cap.handler())
	defer srv.Close()

	store := NewMemoryStore()
	subscribe(t, store, "user_a", srv.URL, EventJobFundsReleased)
	d := NewDispatcher(store, "platform-secret")

	err := d.Dispatch(context.Background(), &Event{
		ID:        "evt_1",
		Type:      EventJobFundsReleased,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"jobId": "job_1"},
	})
	if err != nil {
		t.Fatal(err)
	}

	events := cap.wait(t, 1)
	if events[0].Type != EventJobFundsReleased {
		t.Errorf("event type = %s", events[0].Type)
	}
	if cap.header != string(EventJobFundsReleased) {
		t.Errorf("event header = %s", cap.header)
	}

	payload, _ := json.Marshal(events[0])
	want := Sign(payload, "test-secret")
	if !hmac.Equal([]byte(cap.signature), []byte(want)) {
		t.Errorf("signature mismatch: got %s want %s", cap.signature, want)
	}
	wantPlatform := Sign(payload, "platform-secret")
	if !hmac.Equal([]byte(cap.platformSig), []byte(wantPlatform)) {
		t.Errorf("platform signature mismatch: got %s want %s", cap.platformSig, wantPlatform)
	}
}

func TestDispatchSkipsInactiveAndUnsubscribed(t *testing.T) {
	cap := &capture{}
	srv := httptest.NewServer(cap.handler())
	defer srv.Close()

	store := NewMemoryStore()
	inactive := subscribe(t, store, "user_a", srv.URL, EventJobFundsReleased)
	inactive.Active = false
	store.Update(context.Background(), inactive)
	subscribe(t, store, "user_b", srv.URL, EventDisputeOpened)

	d := NewDispatcher(store, "")
	d.Dispatch(context.Background(), &Event{
		ID: "evt_2", Type: EventJobFundsReleased, Timestamp: time.Now(),
	})

	time.Sleep(150 * time.Millisecond)
	cap.mu.Lock()
	defer cap.mu.Unlock()
	if len(cap.events) != 0 {
		t.Errorf("received %d events, want 0", len(cap.events))
	}
}

func TestEmitterJobAccepted(t *testing.T) {
	cap := &capture{}
	srv := httptest.NewServer(cap.handler())
	defer srv.Close()

	store := NewMemoryStore()
	subscribe(t, store, "user_poster", srv.URL, EventJobAccepted)
	e := NewEmitter(NewDispatcher(store, ""), nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	e.JobAccepted(context.Background(), &job.Job{
		ID: "job_3", PosterID: "user_poster", ContractorID: "user_contractor",
		AmountMinor: 45000, Currency: "usd",
	})

	events := cap.wait(t, 1)
	if events[0].Type != EventJobAccepted {
		t.Errorf("event type = %s, want %s", events[0].Type, EventJobAccepted)
	}
	data := events[0].Data
	if data["contractorId"] != "user_contractor" {
		t.Errorf("contractorId = %v", data["contractorId"])
	}
	if data["jobPosterUserId"] != "user_poster" {
		t.Errorf("jobPosterUserId = %v", data["jobPosterUserId"])
	}
}

func TestDeliveryOutlivesCallerContext(t *testing.T) {
	cap := &capture{}
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		cap.handler()(w, r)
	}))
	defer slow.Close()

	store := NewMemoryStore()
	sub := subscribe(t, store, "user_a", slow.URL, EventJobFundsReleased)
	d := NewDispatcher(store, "")

	// The dispatching request finishes long before the endpoint
	// responds; in-flight deliveries must not be torn down with it.
	ctx, cancel := context.WithCancel(context.Background())
	err := d.Dispatch(ctx, &Event{
		ID: "evt_slow", Type: EventJobFundsReleased, Timestamp: time.Now(),
	})
	cancel()
	if err != nil {
		t.Fatal(err)
	}

	cap.wait(t, 1)

	got, err := store.Get(context.Background(), sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastSuccess == nil {
		t.Fatalf("LastSuccess not set, LastError = %q", got.LastError)
	}
	if got.LastError != "" {
		t.Errorf("LastError = %q, want empty", got.LastError)
	}
}

type stubJobs struct{ j *job.Job }

func (s *stubJobs) Get(ctx context.Context, id string) (*job.Job, error) { return s.j, nil }

func TestEmitterFundsReleasedCarriesLegacyPosterField(t *testing.T) {
	cap := &capture{}
	srv := httptest.NewServer(cap.handler())
	defer srv.Close()

	store := NewMemoryStore()
	subscribe(t, store, "user_poster", srv.URL, EventJobFundsReleased)

	jobs := &stubJobs{j: &job.Job{
		ID: "job_9", PosterID: "user_poster", ContractorID: "user_contractor",
	}}
	e := NewEmitter(NewDispatcher(store, ""), jobs, slog.New(slog.NewTextHandler(io.Discard, nil)))

	e.FundsReleased(context.Background(), &payout.Release{
		PayoutRequestID: "po_9",
		JobID:           "job_9",
		AmountMinor:     12000,
		Currency:        "usd",
		TriggeredBy:     "user_router",
	})

	events := cap.wait(t, 1)
	data := events[0].Data
	if data["posterId"] != "user_poster" {
		t.Errorf("posterId = %v", data["posterId"])
	}
	if data["jobPosterUserId"] != data["posterId"] {
		t.Errorf("jobPosterUserId = %v, must duplicate posterId", data["jobPosterUserId"])
	}
	if data["payoutRequestId"] != "po_9" {
		t.Errorf("payoutRequestId = %v", data["payoutRequestId"])
	}
}
