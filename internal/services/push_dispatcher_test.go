package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/google/uuid"
	"github.com/yodo-services/backend/internal/models"
	"go.uber.org/zap"
)

type fakeSubStore struct {
	mu   sync.Mutex
	subs map[uuid.UUID][]models.PushSubscription
}

func newFakeSubStore() *fakeSubStore {
	return &fakeSubStore{subs: make(map[uuid.UUID][]models.PushSubscription)}
}

func (f *fakeSubStore) add(s models.PushSubscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[s.UserID] = append(f.subs[s.UserID], s)
}

func (f *fakeSubStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.PushSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.PushSubscription(nil), f.subs[userID]...), nil
}

func (f *fakeSubStore) Delete(ctx context.Context, userID uuid.UUID, endpoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []models.PushSubscription
	for _, s := range f.subs[userID] {
		if s.Endpoint != endpoint {
			kept = append(kept, s)
		}
	}
	f.subs[userID] = kept
	return nil
}

func (f *fakeSubStore) countFor(userID uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[userID])
}

// fakeEndpointSub registers a subscription pointing at the test server with
// a throwaway browser keypair so the payload can actually be encrypted.
func fakeEndpointSub(t *testing.T, userID uuid.UUID, endpoint string) models.PushSubscription {
	t.Helper()
	// Reuse the VAPID generator for a valid P-256 pair; the auth secret is
	// 16 arbitrary bytes, base64url.
	_, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		t.Fatal(err)
	}
	return models.PushSubscription{
		ID:       uuid.New(),
		UserID:   userID,
		Endpoint: endpoint,
		P256DH:   pub,
		Auth:     "AAAAAAAAAAAAAAAAAAAAAA",
	}
}

func newTestDispatcher(t *testing.T, subs SubscriptionStore) *PushDispatcher {
	t.Helper()
	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		t.Fatal(err)
	}
	return NewPushDispatcher(subs, pub, priv, "mailto:admin@yodo.ru", zap.NewNop())
}

func TestSendToUserDelivers(t *testing.T) {
	var delivered atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			t.Error("expected VAPID Authorization header")
		}
		delivered.Add(1)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	store := newFakeSubStore()
	userID := uuid.New()
	store.add(fakeEndpointSub(t, userID, srv.URL+"/sub-1"))
	store.add(fakeEndpointSub(t, userID, srv.URL+"/sub-2"))

	d := newTestDispatcher(t, store)
	err := d.SendToUser(t.Context(), userID, models.PushMessage{
		Title: "Оплата получена",
		Body:  "Средства зарезервированы на счёте эскроу",
	})
	if err != nil {
		t.Fatalf("SendToUser: %v", err)
	}
	if got := delivered.Load(); got != 2 {
		t.Errorf("expected 2 deliveries, got %d", got)
	}
}

func TestSendToUserPrunesGoneEndpoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	store := newFakeSubStore()
	userID := uuid.New()
	store.add(fakeEndpointSub(t, userID, srv.URL+"/dead"))

	d := newTestDispatcher(t, store)
	if err := d.SendToUser(t.Context(), userID, models.PushMessage{Title: "x"}); err != nil {
		t.Fatalf("SendToUser: %v", err)
	}
	if got := store.countFor(userID); got != 0 {
		t.Errorf("expected dead subscription pruned, %d left", got)
	}
}

func TestSendToUserRetriesOn5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	store := newFakeSubStore()
	userID := uuid.New()
	store.add(fakeEndpointSub(t, userID, srv.URL+"/flaky"))

	d := newTestDispatcher(t, store)
	if err := d.SendToUser(t.Context(), userID, models.PushMessage{Title: "x"}); err != nil {
		t.Fatalf("SendToUser: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("expected retry then success, got %d calls", got)
	}
}

func TestSendToUserNoSubscriptions(t *testing.T) {
	d := newTestDispatcher(t, newFakeSubStore())
	if err := d.SendToUser(t.Context(), uuid.New(), models.PushMessage{Title: "x"}); err != nil {
		t.Fatalf("expected nil for user without subscriptions, got %v", err)
	}
}

func TestVAPIDPublicKeyExposed(t *testing.T) {
	d := newTestDispatcher(t, newFakeSubStore())
	if d.VAPIDPublicKey() == "" {
		t.Error("expected public key")
	}
}
