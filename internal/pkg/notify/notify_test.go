package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	name string
	err  error
	mu   sync.Mutex
	got  []Notification
}

func (r *recordingSink) Name() string { return r.name }

func (r *recordingSink) Send(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return r.err
}

func TestDispatcherContinuesAfterSinkFailure(t *testing.T) {
	failing := &recordingSink{name: "broken", err: errors.New("connection refused")}
	ok := &recordingSink{name: "ok"}

	results := map[string]error{}
	d := NewDispatcher(failing, nil, ok).OnResult(func(sink string, err error) { results[sink] = err })
	d.Notify(context.Background(), Notification{Kind: KindAlert, Title: "CPU high"})

	require.Len(t, failing.got, 1)
	require.Len(t, ok.got, 1)
	assert.NotEmpty(t, ok.got[0].ID)
	assert.False(t, ok.got[0].CreatedAt.IsZero())
	assert.Equal(t, failing.got[0].ID, ok.got[0].ID)
	assert.Error(t, results["broken"])
	assert.NoError(t, results["ok"])
	assert.Equal(t, []string{"broken", "ok"}, d.Sinks())
}

type slowSink struct {
	name  string
	delay time.Duration
}

func (s *slowSink) Name() string { return s.name }

func (s *slowSink) Send(ctx context.Context, _ Notification) error {
	select {
	case <-time.After(s.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestDispatcherSendsToSinksConcurrently(t *testing.T) {
	d := NewDispatcher(
		&slowSink{name: "mail", delay: 200 * time.Millisecond},
		&slowSink{name: "push", delay: 200 * time.Millisecond},
		&slowSink{name: "kafka", delay: 200 * time.Millisecond},
	)
	var mu sync.Mutex
	delivered := 0
	d.OnResult(func(_ string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err == nil {
			delivered++
		}
	})

	start := time.Now()
	d.Notify(context.Background(), Notification{Kind: KindOrderStatus, Title: "Payment received"})

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 3, delivered)
}

func TestDispatcherSinkTimeout(t *testing.T) {
	d := NewDispatcher(&slowSink{name: "stuck", delay: time.Minute})
	d.sinkTimeout = 50 * time.Millisecond
	var got error
	d.OnResult(func(_ string, err error) { got = err })

	d.Notify(context.Background(), Notification{Kind: KindAlert})
	assert.ErrorIs(t, got, context.DeadlineExceeded)
}

func TestPushSink(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer push-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := &PushSink{EndpointURL: srv.URL, Token: "push-token", HTTPClient: srv.Client()}
	err := sink.Send(context.Background(), Notification{
		ID: "n1", Kind: KindAlert, Title: "Container down", Severity: "critical",
		Recipient: "hidden@example.com", CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, "Container down", got["title"])
	assert.Equal(t, "critical", got["severity"])
	_, leaked := got["recipient"]
	assert.False(t, leaked)
}

func TestPushSinkErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("maintenance"))
	}))
	defer srv.Close()

	sink := &PushSink{EndpointURL: srv.URL, HTTPClient: srv.Client()}
	err := sink.Send(context.Background(), Notification{ID: "n1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=503")
}

type fakeMailer struct {
	to, subject, body string
	calls             int
}

func (f *fakeMailer) Send(_ context.Context, to, subject, body string) error {
	f.calls++
	f.to, f.subject, f.body = to, subject, body
	return nil
}

func TestMailSinkOnlyMailsCustomers(t *testing.T) {
	m := &fakeMailer{}
	sink := NewMailSink(m)

	require.NoError(t, sink.Send(context.Background(), Notification{Kind: KindAlert, Title: "CPU"}))
	assert.Zero(t, m.calls)

	require.NoError(t, sink.Send(context.Background(), Notification{Kind: KindOrderStatus, Recipient: "buyer@example.com", Body: "Delivered"}))
	assert.Equal(t, 1, m.calls)
	assert.Equal(t, "buyer@example.com", m.to)
	assert.Equal(t, "AGI Staffers: order.status", m.subject)
}

func TestKafkaSinkPublishesJSON(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var n Notification
		if err := json.Unmarshal(val, &n); err != nil {
			return err
		}
		if n.Kind != KindOrderStatus || n.Data["order_number"] != "AGI-1" {
			return errors.New("unexpected payload")
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(errors.New("broker unavailable"))

	sink := NewKafkaSink(producer, "backoffice.notifications")
	n := Notification{ID: "n1", Kind: KindOrderStatus, Data: map[string]interface{}{"order_number": "AGI-1"}}
	require.NoError(t, sink.Send(context.Background(), n))
	assert.Error(t, sink.Send(context.Background(), n))
	require.NoError(t, sink.Close())
}
