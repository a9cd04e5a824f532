package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nifyacorp/notification-worker/pkg/broker"
	"github.com/nifyacorp/notification-worker/pkg/dedup"
	"github.com/nifyacorp/notification-worker/pkg/dispatch"
	"github.com/nifyacorp/notification-worker/pkg/envelope"
	"github.com/nifyacorp/notification-worker/pkg/events"
	"github.com/nifyacorp/notification-worker/pkg/log"
	"github.com/nifyacorp/notification-worker/pkg/processor"
	"github.com/nifyacorp/notification-worker/pkg/store"
	"github.com/nifyacorp/notification-worker/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

// --- fakes ---

type fakeStore struct {
	mu            sync.Mutex
	notifications []*types.Notification
	users         map[string]*types.User
	subscriptions map[string]*types.Subscription
	emailSent     []string

	createErr      error
	createErrTitle string // when set, only rows with this title fail
	countErr       error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:         make(map[string]*types.User),
		subscriptions: make(map[string]*types.Subscription),
	}
}

func (f *fakeStore) CreateNotification(_ context.Context, n *types.Notification) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil && (f.createErrTitle == "" || f.createErrTitle == n.Title) {
		return "", f.createErr
	}
	n.ID = fmt.Sprintf("n%d", len(f.notifications)+1)
	clone := *n
	f.notifications = append(f.notifications, &clone)
	return n.ID, nil
}

func (f *fakeStore) SetEmailSent(_ context.Context, _, notificationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emailSent = append(f.emailSent, notificationID)
	return nil
}

func (f *fakeStore) CountRecentNotifications(_ context.Context, key store.DuplicateKey, _ time.Duration) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, n := range f.notifications {
		if n.UserID != key.UserID || n.Title != key.Title ||
			n.SourceURL != key.SourceURL || n.EntityType != key.EntityType {
			continue
		}
		if key.DocumentID != "" && n.DocumentID() != key.DocumentID {
			continue
		}
		count++
	}
	return count, nil
}

func (f *fakeStore) GetUser(_ context.Context, id string) (*types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[id], nil
}

func (f *fakeStore) GetSubscription(_ context.Context, _, id string) (*types.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscriptions[id], nil
}

func (f *fakeStore) Ping(context.Context) error { return nil }
func (f *fakeStore) Stats() store.PoolStats     { return store.PoolStats{} }
func (f *fakeStore) Close()                     {}

type published struct {
	topic       string
	payload     interface{}
	orderingKey string
}

type fakeBroker struct {
	mu         sync.Mutex
	published  []published
	dlq        []error
	publishErr map[string]error
	dlqErr     error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{publishErr: make(map[string]error)}
}

func (f *fakeBroker) Subscribe(context.Context, string, string, broker.Handler, broker.ErrorHandler) error {
	return nil
}

func (f *fakeBroker) Publish(_ context.Context, topicID string, payload interface{}, orderingKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.publishErr[topicID]; err != nil {
		return err
	}
	f.published = append(f.published, published{topic: topicID, payload: payload, orderingKey: orderingKey})
	return nil
}

func (f *fakeBroker) PublishDLQ(_ context.Context, _ []byte, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dlqErr != nil {
		return f.dlqErr
	}
	f.dlq = append(f.dlq, cause)
	return nil
}

func (f *fakeBroker) Status(context.Context) error { return nil }
func (f *fakeBroker) Close() error                 { return nil }

func (f *fakeBroker) topicCount(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, p := range f.published {
		if p.topic == topic {
			count++
		}
	}
	return count
}

type delivery struct {
	msg   *broker.Message
	acks  int
	nacks int
}

func newDelivery(data []byte) *delivery {
	d := &delivery{}
	d.msg = &broker.Message{
		Data:        data,
		ID:          "m1",
		PublishTime: time.Now(),
		Ack:         func() { d.acks++ },
		Nack:        func() { d.nacks++ },
	}
	return d
}

func (d *delivery) assertAcked(t *testing.T) {
	t.Helper()
	assert.Equal(t, 1, d.acks, "expected exactly one ack")
	assert.Equal(t, 0, d.nacks, "expected no nack")
}

func (d *delivery) assertNacked(t *testing.T) {
	t.Helper()
	assert.Equal(t, 0, d.acks, "expected no ack")
	assert.Equal(t, 1, d.nacks, "expected exactly one nack")
}

const (
	topicImmediate = "email-notifications-immediate"
	topicDaily     = "email-notifications-daily"
	topicRealtime  = "realtime-notifications"
)

type harness struct {
	controller *Controller
	store      *fakeStore
	broker     *fakeBroker
	bus        *events.Broker
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	st := newFakeStore()
	st.users["u1"] = &types.User{
		ID:    "u1",
		Email: "u1@example.com",
		Prefs: types.UserPrefs{
			EmailNotifications:   true,
			InstantNotifications: true,
			DigestFrequency:      types.DigestDaily,
		},
	}
	st.subscriptions["s1"] = &types.Subscription{ID: "s1", UserID: "u1", Name: "Ayudas BOE"}

	bk := newFakeBroker()
	bus := events.NewBroker()
	bus.Start()
	t.Cleanup(bus.Stop)

	registry, err := processor.NewRegistry(processor.NewBOE(), processor.NewRealEstate())
	require.NoError(t, err)

	controller := NewController(Config{
		Broker:   bk,
		Registry: registry,
		Gate:     dedup.NewGate(st, 24*time.Hour),
		Store:    st,
		Dispatcher: dispatch.NewDispatcher(bk, st, dispatch.Topics{
			EmailImmediate: topicImmediate,
			EmailDaily:     topicDaily,
			Realtime:       topicRealtime,
		}),
		Bus:             bus,
		TopicID:         "notifications",
		SubscriptionID:  "notifications-sub",
		MessageDeadline: 5 * time.Second,
	})

	return &harness{controller: controller, store: st, broker: bk, bus: bus}
}

func boeEnvelopeJSON() []byte {
	return []byte(`{
		"processor_type": "boe",
		"trace_id": "t1",
		"request": {"user_id": "u1", "subscription_id": "s1", "prompts": ["p"]},
		"results": {"matches": [{"prompt": "p", "documents": [{
			"document_type": "boe_document",
			"title": "Resolución X",
			"summary": "S",
			"relevance_score": 0.9,
			"links": {"html": "https://boe.es/x"},
			"publication_date": "2024-01-02",
			"section": "I",
			"bulletin_type": "BOE"
		}]}]},
		"metadata": {"status": "success"}
	}`)
}

// --- tests ---

func TestHandleMessageHappyPath(t *testing.T) {
	h := newHarness(t)
	d := newDelivery(boeEnvelopeJSON())

	h.controller.handleMessage(context.Background(), d.msg)

	d.assertAcked(t)
	require.Len(t, h.store.notifications, 1)

	n := h.store.notifications[0]
	assert.Equal(t, "Resolución X", n.Title)
	assert.Equal(t, "boe:boe_document", n.EntityType)
	assert.Equal(t, "https://boe.es/x", n.SourceURL)

	// Opted-in user: one immediate email, the flag flipped, one realtime event.
	assert.Equal(t, 1, h.broker.topicCount(topicImmediate))
	assert.Equal(t, 0, h.broker.topicCount(topicDaily))
	assert.Equal(t, 1, h.broker.topicCount(topicRealtime))
	assert.Equal(t, []string{"n1"}, h.store.emailSent)

	counters := h.controller.Counters()
	assert.Equal(t, int64(1), counters.MessageCount)
	assert.Equal(t, int64(1), counters.SuccessfulMessages)
	assert.Equal(t, int64(0), counters.ProcessingErrors)
}

func TestHandleMessageDuplicateInsideWindow(t *testing.T) {
	h := newHarness(t)

	first := newDelivery(boeEnvelopeJSON())
	h.controller.handleMessage(context.Background(), first.msg)
	first.assertAcked(t)

	second := newDelivery(boeEnvelopeJSON())
	h.controller.handleMessage(context.Background(), second.msg)
	second.assertAcked(t)

	// Replaying the same envelope persists nothing new.
	assert.Len(t, h.store.notifications, 1)
	assert.Equal(t, 1, h.broker.topicCount(topicImmediate))
}

func TestHandleMessageLegacyMatchesLocation(t *testing.T) {
	h := newHarness(t)
	legacy := []byte(`{
		"processor_type": "boe",
		"trace_id": "t1",
		"request": {"user_id": "u1", "subscription_id": "s1", "prompts": ["p"]},
		"results": {"results": [{"prompt": "p", "matches": [{"prompt": "p", "documents": [{
			"document_type": "boe_document",
			"title": "Resolución X",
			"summary": "S",
			"links": {"html": "https://boe.es/x"}
		}]}]}]}
	}`)

	d := newDelivery(legacy)
	h.controller.handleMessage(context.Background(), d.msg)

	d.assertAcked(t)
	require.Len(t, h.store.notifications, 1)
	assert.Equal(t, "Resolución X", h.store.notifications[0].Title)
	assert.Equal(t, "boe:boe_document", h.store.notifications[0].EntityType)
}

func TestHandleMessageParseError(t *testing.T) {
	h := newHarness(t)
	d := newDelivery([]byte("{broken"))

	h.controller.handleMessage(context.Background(), d.msg)

	d.assertAcked(t)
	require.Len(t, h.broker.dlq, 1)
	assert.Equal(t, types.KindParse, types.KindOf(h.broker.dlq[0]))
	assert.Equal(t, int64(1), h.controller.Counters().ValidationErrors)
}

func TestHandleMessageUnknownProcessor(t *testing.T) {
	h := newHarness(t)
	d := newDelivery([]byte(`{
		"processor_type": "foo",
		"request": {"user_id": "u1", "subscription_id": "s1"}
	}`))

	h.controller.handleMessage(context.Background(), d.msg)

	d.assertAcked(t)
	require.Len(t, h.broker.dlq, 1)
	assert.Equal(t, types.KindUnknownProcessor, types.KindOf(h.broker.dlq[0]))
	assert.Empty(t, h.store.notifications)
}

func TestHandleMessageDLQFailureNacks(t *testing.T) {
	h := newHarness(t)
	h.broker.dlqErr = errors.New("dlq unavailable")
	d := newDelivery([]byte("{broken"))

	h.controller.handleMessage(context.Background(), d.msg)

	d.assertNacked(t)
}

func TestHandleMessageTransientStoreFailure(t *testing.T) {
	h := newHarness(t)
	h.store.createErr = types.NewError(types.KindDBConnection, "insert failed after retries",
		errors.New("connection refused"))

	d := newDelivery(boeEnvelopeJSON())
	h.controller.handleMessage(context.Background(), d.msg)

	d.assertNacked(t)
	assert.Empty(t, h.broker.dlq)
	assert.Equal(t, int64(1), h.controller.Counters().ProcessingErrors)
}

func TestHandleMessagePartialBatch(t *testing.T) {
	h := newHarness(t)
	h.store.createErr = types.NewError(types.KindDBQuery, "row rejected", errors.New("value too long"))
	h.store.createErrTitle = "Mala"

	payload := []byte(`{
		"processor_type": "boe",
		"trace_id": "t1",
		"request": {"user_id": "u1", "subscription_id": "s1", "prompts": ["p"]},
		"results": {"matches": [{"prompt": "p", "documents": [
			{"title": "Buena noticia", "links": {"html": "https://boe.es/a"}},
			{"title": "Mala", "links": {"html": "https://boe.es/b"}}
		]}]}
	}`)

	d := newDelivery(payload)
	h.controller.handleMessage(context.Background(), d.msg)

	// One row failed, the batch continued and the message still acks.
	d.assertAcked(t)
	require.Len(t, h.store.notifications, 1)
	assert.Equal(t, "Buena noticia", h.store.notifications[0].Title)
}

func TestHandleMessageEmptyMatches(t *testing.T) {
	h := newHarness(t)
	d := newDelivery([]byte(`{
		"processor_type": "boe",
		"trace_id": "t1",
		"request": {"user_id": "u1", "subscription_id": "s1", "prompts": ["p"]}
	}`))

	h.controller.handleMessage(context.Background(), d.msg)

	d.assertAcked(t)
	assert.Empty(t, h.store.notifications)
	assert.Empty(t, h.broker.dlq)
	assert.Equal(t, int64(1), h.controller.Counters().SuccessfulMessages)
}

func TestHandleMessageUnownedSubscription(t *testing.T) {
	h := newHarness(t)
	h.store.subscriptions["s1"].UserID = "someone-else"

	d := newDelivery(boeEnvelopeJSON())
	h.controller.handleMessage(context.Background(), d.msg)

	d.assertAcked(t)
	assert.Empty(t, h.store.notifications)
	assert.Empty(t, h.broker.dlq)
}

func TestHandleMessageEmailPublishFailureStillAcks(t *testing.T) {
	h := newHarness(t)
	h.broker.publishErr[topicImmediate] = types.NewError(types.KindBrokerPublish, "publish failed after retries", nil)

	d := newDelivery(boeEnvelopeJSON())
	h.controller.handleMessage(context.Background(), d.msg)

	d.assertAcked(t)
	require.Len(t, h.store.notifications, 1)
	// Email failed but the realtime event still went out.
	assert.Equal(t, 1, h.broker.topicCount(topicRealtime))
	assert.Empty(t, h.store.emailSent)
}

func TestProcessDocumentsEmailFailureCountedAsDelivery(t *testing.T) {
	h := newHarness(t)
	h.broker.publishErr[topicImmediate] = types.NewError(types.KindBrokerPublish, "publish failed after retries", nil)

	env, err := envelope.Normalize(boeEnvelopeJSON())
	require.NoError(t, err)

	proc := processor.NewBOE()
	result, err := proc.ValidateAndTransform(env)
	require.NoError(t, err)

	outcome, pr := h.controller.processDocuments(context.Background(), proc, result, log.WithComponent("test"))
	assert.Equal(t, outcomeOK, outcome)

	// The document persisted; the failed email publish counts on the
	// delivery axis, so created+errors+duplicates stays within the
	// document count.
	assert.Equal(t, 1, pr.Created)
	assert.Equal(t, 0, pr.Errors)
	assert.Equal(t, 0, pr.Duplicates)
	assert.Equal(t, 1, pr.DeliveryErrors)
	assert.Equal(t, 0, pr.EmailsSent)
}

func TestHandleMessageDedupUnavailableFailsOpen(t *testing.T) {
	h := newHarness(t)
	h.store.countErr = errors.New("database on fire")

	d := newDelivery(boeEnvelopeJSON())
	h.controller.handleMessage(context.Background(), d.msg)

	d.assertAcked(t)
	assert.Len(t, h.store.notifications, 1)
}

func TestDrainCompletesWhenIdle(t *testing.T) {
	h := newHarness(t)
	assert.True(t, h.controller.Drain(100*time.Millisecond))
	assert.Equal(t, int64(0), h.controller.InFlight())
}
