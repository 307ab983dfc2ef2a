// Package webhooks delivers signed event notifications to subscriber
// endpoints: job lifecycle progress, fund releases, and dispute
// activity. Payloads carry an HMAC-SHA256 signature consumers verify
// against the subscription secret.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/workstreet/jobledger/internal/circuitbreaker"
	"github.com/workstreet/jobledger/internal/metrics"
)

// EventType names a webhook event.
type EventType string

const (
	EventJobAccepted         EventType = "job.accepted"
	EventJobFundsReleased    EventType = "job.funds_released"
	EventPayoutPaid          EventType = "payout.paid"
	EventDisputeOpened       EventType = "dispute.opened"
	EventDisputeSLABreached  EventType = "dispute.sla_breached"
	EventEnforcementExecuted EventType = "dispute.enforcement_executed"
)

// Event is the delivery payload.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscription is one registered delivery endpoint.
type Subscription struct {
	ID          string      `json:"id"`
	UserID      string      `json:"userId"`
	URL         string      `json:"url"`
	Secret      string      `json:"-"` // HMAC signing key, shown once at creation
	Events      []EventType `json:"events"`
	Active      bool        `json:"active"`
	CreatedAt   time.Time   `json:"createdAt"`
	LastSuccess *time.Time  `json:"lastSuccess,omitempty"`
	LastError   string      `json:"lastError,omitempty"`
}

func (s *Subscription) wants(t EventType) bool {
	return slices.Contains(s.Events, t)
}

// ErrSubscriptionNotFound is returned for unknown subscription IDs.
var ErrSubscriptionNotFound = errors.New("webhooks: subscription not found")

// Store persists subscriptions.
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	GetByUser(ctx context.Context, userID string) ([]*Subscription, error)
	GetByEvent(ctx context.Context, eventType EventType) ([]*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, id string) error
}

// Sign computes the hex HMAC-SHA256 signature sent in
// X-Jobledger-Signature.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Dispatcher fans events out to subscriber endpoints. Deliveries are
// fire-and-forget; a per-endpoint circuit breaker stops hammering
// subscribers whose endpoints are down.
type Dispatcher struct {
	store          Store
	client         *http.Client
	breaker        *circuitbreaker.Breaker
	platformSecret string
}

// NewDispatcher creates a dispatcher with a 10s delivery timeout.
// platformSecret, when non-empty, adds a deployment-wide signature to
// every delivery alongside the per-subscription one; subscribers who
// share only the platform secret can still verify origin.
func NewDispatcher(store Store, platformSecret string) *Dispatcher {
	return &Dispatcher{
		store:          store,
		client:         &http.Client{Timeout: 10 * time.Second},
		breaker:        circuitbreaker.New(5, 60*time.Second),
		platformSecret: platformSecret,
	}
}

// Dispatch delivers an event to every active subscription for its type.
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) error {
	subs, err := d.store.GetByEvent(ctx, event.Type)
	if err != nil {
		return fmt.Errorf("failed to get subscribers: %w", err)
	}
	for _, sub := range subs {
		if sub.Active {
			go d.send(ctx, sub, event)
		}
	}
	return nil
}

// DispatchToUser delivers an event only to one user's subscriptions.
func (d *Dispatcher) DispatchToUser(ctx context.Context, userID string, event *Event) error {
	subs, err := d.store.GetByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get subscriptions: %w", err)
	}
	for _, sub := range subs {
		if sub.Active && sub.wants(event.Type) {
			go d.send(ctx, sub, event)
		}
	}
	return nil
}

func (d *Dispatcher) send(ctx context.Context, sub *Subscription, event *Event) {
	// The triggering request is often gone by the time this goroutine
	// runs. Deliveries keep the caller's values but get their own
	// deadline instead of inheriting its cancellation.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if !d.breaker.Allow(sub.ID) {
		metrics.WebhookDeliveriesTotal.WithLabelValues(string(event.Type), "circuit_open").Inc()
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		d.recordFailure(ctx, sub, event, "failed to marshal event", false)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		d.recordFailure(ctx, sub, event, "failed to create request", false)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Jobledger-Event", string(event.Type))
	req.Header.Set("X-Jobledger-Timestamp", strconv.FormatInt(event.Timestamp.Unix(), 10))
	if sub.Secret != "" {
		req.Header.Set("X-Jobledger-Signature", Sign(payload, sub.Secret))
	}
	if d.platformSecret != "" {
		req.Header.Set("X-Jobledger-Platform-Signature", Sign(payload, d.platformSecret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.recordFailure(ctx, sub, event, fmt.Sprintf("request failed: %v", err), true)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		d.recordFailure(ctx, sub, event, fmt.Sprintf("status %d", resp.StatusCode), true)
		return
	}

	metrics.WebhookDeliveriesTotal.WithLabelValues(string(event.Type), "ok").Inc()
	d.breaker.RecordSuccess(sub.ID)
	now := time.Now()
	sub.LastSuccess = &now
	sub.LastError = ""
	d.store.Update(ctx, sub)
}

// recordFailure notes a failed delivery. Only network-level failures
// count against the endpoint's circuit; local marshal errors do not.
func (d *Dispatcher) recordFailure(ctx context.Context, sub *Subscription, event *Event, msg string, endpointFault bool) {
	metrics.WebhookDeliveriesTotal.WithLabelValues(string(event.Type), "error").Inc()
	if endpointFault {
		d.breaker.RecordFailure(sub.ID)
	}
	sub.LastError = msg
	d.store.Update(ctx, sub)
}

// MemoryStore keeps subscriptions in a map, for dev mode and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[string]*Subscription)}
}

func (m *MemoryStore) Create(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = sub
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return sub, nil
}

func (m *MemoryStore) GetByUser(ctx context.Context, userID string) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Subscription
	for _, sub := range m.subs {
		if sub.UserID == userID {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetByEvent(ctx context.Context, eventType EventType) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Subscription
	for _, sub := range m.subs {
		if sub.wants(eventType) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (m *MemoryStore) Update(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = sub
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, id)
	return nil
}
