package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"paymentapi/internal/events"
	"paymentapi/internal/gateway"
	"paymentapi/internal/models"
	"paymentapi/internal/payment"
)

type fakeStore struct {
	mu       sync.Mutex
	payments map[string]*models.Payment
	outbox   []*models.OutboxEvent
	creates  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{payments: make(map[string]*models.Payment)}
}

func (s *fakeStore) Create(_ context.Context, p *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.payments {
		if existing.OrderID == p.OrderID {
			return payment.ErrDuplicateOrder
		}
	}
	clone := *p
	s.payments[p.ID] = &clone
	s.creates++
	return nil
}

func (s *fakeStore) FindByID(_ context.Context, id string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, payment.ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (s *fakeStore) FindByOrderID(_ context.Context, orderID string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.OrderID == orderID {
			clone := *p
			return &clone, nil
		}
	}
	return nil, payment.ErrNotFound
}

func (s *fakeStore) FindByExternalReference(_ context.Context, ref string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.ExternalReference != nil && *p.ExternalReference == ref {
			clone := *p
			return &clone, nil
		}
	}
	return nil, payment.ErrNotFound
}

func (s *fakeStore) ClaimOpen(_ context.Context, id string, now, until time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return false, payment.ErrNotFound
	}
	if p.ExternalReference != nil {
		return false, nil
	}
	if p.OpenLeaseUntil != nil && p.OpenLeaseUntil.After(now) {
		return false, nil
	}
	p.OpenLeaseUntil = &until
	return true, nil
}

func (s *fakeStore) ReleaseOpenClaim(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.payments[id]; ok && p.ExternalReference == nil {
		p.OpenLeaseUntil = nil
	}
	return nil
}

func (s *fakeStore) MarkOpened(_ context.Context, id, ref, qrCode string, expiration time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return false, payment.ErrNotFound
	}
	if p.ExternalReference != nil {
		return false, nil
	}
	p.ExternalReference = &ref
	p.QRCode = qrCode
	p.Expiration = &expiration
	p.OpenLeaseUntil = nil
	return true, nil
}

func (s *fakeStore) setReference(orderID, ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.OrderID == orderID {
			p.ExternalReference = &ref
		}
	}
}

func (s *fakeStore) CloseAndEnqueue(_ context.Context, id string, status payment.Status, closedAt time.Time, event *models.OutboxEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return false, payment.ErrNotFound
	}
	if p.Status != payment.StatusOpened {
		return false, nil
	}
	p.Status = status
	p.ClosedAt = &closedAt
	s.outbox = append(s.outbox, event)
	return true, nil
}

type fakeGateway struct {
	mu           sync.Mutex
	openCalls    int
	openErr      error
	status       string
	statusErr    error
	ref          string
	lastLifetime time.Duration

	// openStarted/openGate let a test hold a delivery inside the gateway
	// call; onOpen runs while the call is "in flight".
	openStarted chan struct{}
	openGate    chan struct{}
	onOpen      func()
}

func (g *fakeGateway) OpenOrder(_ context.Context, _ *models.Payment, qrLifetime time.Duration) (*gateway.OpenResult, error) {
	g.mu.Lock()
	g.openCalls++
	g.lastLifetime = qrLifetime
	openErr := g.openErr
	ref := g.ref
	started := g.openStarted
	gate := g.openGate
	onOpen := g.onOpen
	g.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if onOpen != nil {
		onOpen()
	}

	if openErr != nil {
		return nil, openErr
	}
	if qrLifetime <= 0 {
		qrLifetime = 30 * time.Minute
	}
	return &gateway.OpenResult{
		ExternalReference: ref,
		QRCode:            "qr-payload-" + ref,
		Expiration:        time.Now().Add(qrLifetime),
	}, nil
}

func (g *fakeGateway) openCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.openCalls
}

func (g *fakeGateway) FetchStatus(_ context.Context, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.statusErr != nil {
		return "", g.statusErr
	}
	return g.status, nil
}

func orderCreated(orderID string) events.OrderCreatedEvent {
	return events.OrderCreatedEvent{
		EventID:    "evt-1",
		OccurredAt: time.Now(),
		OrderID:    orderID,
		TotalValue: 50.0,
		Items: []models.PaymentItem{
			{Name: "burger", Quantity: 1, UnitPrice: 50.0},
		},
	}
}

func newEngine(store *fakeStore, gw *fakeGateway) *Lifecycle {
	return NewLifecycle(store, gw, zap.NewNop())
}

func TestHandleOrderCreatedOpensPayment(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{ref: "G1"}
	engine := newEngine(store, gw)

	err := engine.HandleOrderCreated(context.Background(), orderCreated("O1"))
	require.NoError(t, err)

	p, err := store.FindByOrderID(context.Background(), "O1")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusOpened, p.Status)
	require.NotNil(t, p.ExternalReference)
	assert.Equal(t, "G1", *p.ExternalReference)
	assert.NotEmpty(t, p.QRCode)
	assert.NotNil(t, p.Expiration)
	assert.Equal(t, 50.0, p.TotalValue)
	assert.Equal(t, 1, store.creates)
	assert.Equal(t, 1, gw.openCalls)
}

func TestHandleOrderCreatedIdempotent(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{ref: "G1"}
	engine := newEngine(store, gw)

	for i := 0; i < 3; i++ {
		err := engine.HandleOrderCreated(context.Background(), orderCreated("O1"))
		require.NoError(t, err)
	}

	assert.Equal(t, 1, store.creates, "duplicate deliveries must not create a second payment")
	assert.Equal(t, 1, gw.openCalls, "duplicate deliveries must not open a second gateway order")
}

func TestHandleOrderCreatedResumesOpenAfterGatewayFailure(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{ref: "G1", openErr: payment.ErrGatewayUnavailable}
	engine := newEngine(store, gw)

	err := engine.HandleOrderCreated(context.Background(), orderCreated("O1"))
	require.ErrorIs(t, err, payment.ErrGatewayUnavailable)

	p, err := store.FindByOrderID(context.Background(), "O1")
	require.NoError(t, err)
	assert.Nil(t, p.ExternalReference, "open failure must leave the payment without a reference")

	// Redelivery after the gateway recovers resumes from the open step.
	gw.openErr = nil
	err = engine.HandleOrderCreated(context.Background(), orderCreated("O1"))
	require.NoError(t, err)

	p, err = store.FindByOrderID(context.Background(), "O1")
	require.NoError(t, err)
	require.NotNil(t, p.ExternalReference)
	assert.Equal(t, "G1", *p.ExternalReference)
	assert.Equal(t, 1, store.creates)
	assert.Equal(t, 2, gw.openCalls)
}

func TestHandleOrderCreatedSingleOpenInFlight(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{
		ref:         "G1",
		openStarted: make(chan struct{}, 1),
		openGate:    make(chan struct{}),
	}
	engine := newEngine(store, gw)

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- engine.HandleOrderCreated(context.Background(), orderCreated("O1"))
	}()
	<-gw.openStarted // the first delivery is inside the gateway call

	// A concurrent duplicate delivery must not open a second gateway
	// order while the first open is in flight.
	err := engine.HandleOrderCreated(context.Background(), orderCreated("O1"))
	require.ErrorIs(t, err, payment.ErrOpenInFlight)
	assert.Equal(t, 1, gw.openCount(), "at most one open may be in flight per order")

	close(gw.openGate)
	require.NoError(t, <-firstDone)

	// Redelivery of the loser after the winner finished is a benign no-op.
	require.NoError(t, engine.HandleOrderCreated(context.Background(), orderCreated("O1")))
	assert.Equal(t, 1, store.creates)
	assert.Equal(t, 1, gw.openCount())

	p, err := store.FindByOrderID(context.Background(), "O1")
	require.NoError(t, err)
	require.NotNil(t, p.ExternalReference)
	assert.Equal(t, "G1", *p.ExternalReference)
}

func TestHandleOrderCreatedKeepsFirstReference(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{ref: "G-late"}
	engine := newEngine(store, gw)

	// Another open records a reference while this gateway call is in
	// flight. The late result must be discarded, never overwrite it.
	gw.onOpen = func() {
		store.setReference("O1", "G-first")
	}

	require.NoError(t, engine.HandleOrderCreated(context.Background(), orderCreated("O1")))

	p, err := store.FindByOrderID(context.Background(), "O1")
	require.NoError(t, err)
	require.NotNil(t, p.ExternalReference)
	assert.Equal(t, "G-first", *p.ExternalReference, "a reference is immutable once set")
}

func TestHandleOrderCreatedPassesExpiryHint(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{ref: "G1"}
	engine := newEngine(store, gw)

	evt := orderCreated("O1")
	evt.ExpiresInMinutes = 15
	require.NoError(t, engine.HandleOrderCreated(context.Background(), evt))
	assert.Equal(t, 15*time.Minute, gw.lastLifetime)

	// Without a hint the gateway falls back to its configured default.
	require.NoError(t, engine.HandleOrderCreated(context.Background(), orderCreated("O2")))
	assert.Equal(t, time.Duration(0), gw.lastLifetime)
}

func TestHandleOrderCreatedValidation(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{ref: "G1"}
	engine := newEngine(store, gw)

	tests := []struct {
		name   string
		mutate func(*events.OrderCreatedEvent)
	}{
		{"empty order id", func(e *events.OrderCreatedEvent) { e.OrderID = "" }},
		{"zero total", func(e *events.OrderCreatedEvent) { e.TotalValue = 0 }},
		{"negative total", func(e *events.OrderCreatedEvent) { e.TotalValue = -10 }},
		{"no items", func(e *events.OrderCreatedEvent) { e.Items = nil }},
		{"zero quantity", func(e *events.OrderCreatedEvent) { e.Items[0].Quantity = 0 }},
		{"negative unit price", func(e *events.OrderCreatedEvent) { e.Items[0].UnitPrice = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt := orderCreated("O-invalid")
			tt.mutate(&evt)
			err := engine.HandleOrderCreated(context.Background(), evt)
			require.Error(t, err)
			assert.True(t, payment.IsValidationError(err))
		})
	}

	assert.Equal(t, 0, store.creates)
	assert.Equal(t, 0, gw.openCalls)
}

func openedPayment(t *testing.T, store *fakeStore, gw *fakeGateway, engine *Lifecycle, orderID string) *models.Payment {
	t.Helper()
	require.NoError(t, engine.HandleOrderCreated(context.Background(), orderCreated(orderID)))
	p, err := store.FindByOrderID(context.Background(), orderID)
	require.NoError(t, err)
	return p
}

func TestReconcileClosesOnce(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{ref: "G1", status: "approved"}
	engine := newEngine(store, gw)
	p := openedPayment(t, store, gw, engine, "O1")

	require.NoError(t, engine.Reconcile(context.Background(), "G1"))

	closed, err := store.FindByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusApproved, closed.Status)
	assert.NotNil(t, closed.ClosedAt)
	require.Len(t, store.outbox, 1)

	var fact events.PaymentClosedEvent
	require.NoError(t, json.Unmarshal([]byte(store.outbox[0].Payload), &fact))
	assert.Equal(t, p.ID, fact.PaymentID)
	assert.Equal(t, "G1", fact.ExternalReference)
	assert.Equal(t, payment.StatusApproved, fact.FinalStatus)
	assert.Equal(t, 50.0, fact.TotalValue)

	// Redelivery after closure is a success no-op: no second fact.
	require.NoError(t, engine.Reconcile(context.Background(), "G1"))
	assert.Len(t, store.outbox, 1)
}

func TestReconcileNoResurrection(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{ref: "G1", status: "approved"}
	engine := newEngine(store, gw)
	p := openedPayment(t, store, gw, engine, "O1")

	require.NoError(t, engine.Reconcile(context.Background(), "G1"))

	// The gateway later claims rejected; the closed payment must not move.
	gw.status = "rejected"
	require.NoError(t, engine.Reconcile(context.Background(), "G1"))

	closed, err := store.FindByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusApproved, closed.Status)
	assert.Len(t, store.outbox, 1)
}

func TestReconcileLiveStatusWins(t *testing.T) {
	store := newFakeStore()
	// The notification may claim approved; only the live fetch counts.
	gw := &fakeGateway{ref: "G1", status: "rejected"}
	engine := newEngine(store, gw)
	p := openedPayment(t, store, gw, engine, "O1")

	require.NoError(t, engine.Reconcile(context.Background(), "G1"))

	closed, err := store.FindByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusRejected, closed.Status)
}

func TestReconcileUnknownReference(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{ref: "G1", status: "approved"}
	engine := newEngine(store, gw)
	openedPayment(t, store, gw, engine, "O1")

	err := engine.Reconcile(context.Background(), "G999")
	assert.ErrorIs(t, err, payment.ErrNotFound)
	assert.Empty(t, store.outbox)
}

func TestReconcileUnrecognizedStatus(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{ref: "G1", status: "pending"}
	engine := newEngine(store, gw)
	p := openedPayment(t, store, gw, engine, "O1")

	err := engine.Reconcile(context.Background(), "G1")
	require.ErrorIs(t, err, payment.ErrUnrecognizedStatus)

	still, err := store.FindByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusOpened, still.Status)
	assert.Empty(t, store.outbox)
}

func TestReconcileGatewayUnavailable(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{ref: "G1", statusErr: payment.ErrGatewayUnavailable}
	engine := newEngine(store, gw)
	p := openedPayment(t, store, gw, engine, "O1")

	err := engine.Reconcile(context.Background(), "G1")
	require.ErrorIs(t, err, payment.ErrGatewayUnavailable)

	still, err := store.FindByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusOpened, still.Status)
}
