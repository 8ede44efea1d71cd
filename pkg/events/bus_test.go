package events

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recorder) Send(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Name
	}
	return out
}

func TestBus_ConnectPublishDisconnect(t *testing.T) {
	bus := NewBus(nil)
	o := &recorder{}

	bus.Connect("job-1", o)
	bus.Publish("job-1", Event{Name: AuditStart, Host: "h1"})
	assert.Equal(t, []string{AuditStart}, o.names())

	bus.Disconnect("job-1", o)
	assert.Equal(t, 0, bus.Jobs(), "job id is dropped with its last observer")

	bus.Publish("job-1", Event{Name: AuditComplete, Host: "h1"})
	assert.Len(t, o.names(), 1, "disconnected observer receives nothing")
}

func TestBus_PublishWithoutObservers(t *testing.T) {
	bus := NewBus(nil)
	assert.NotPanics(t, func() {
		bus.Publish("nobody", Event{Name: JobComplete})
	})
	assert.Equal(t, 0, bus.Jobs())
}

func TestBus_DisconnectUnknown(t *testing.T) {
	bus := NewBus(nil)
	a, b := &recorder{}, &recorder{}
	bus.Connect("job", a)

	bus.Disconnect("job", b)
	bus.Disconnect("other", a)
	assert.Equal(t, 1, bus.Observers("job"))
}

func TestBus_FailingObserverDoesNotStopOthers(t *testing.T) {
	bus := NewBus(nil)
	broken := &recorder{err: errors.New("broken pipe")}
	healthy := &recorder{}
	bus.Connect("job", broken)
	bus.Connect("job", healthy)

	bus.Publish("job", Event{Name: MitigateEvent, Data: map[string]any{"line": "ok"}})

	assert.Equal(t, []string{MitigateEvent}, healthy.names())
	assert.Equal(t, 2, bus.Observers("job"), "failed delivery does not remove the observer")
}

func TestBus_PanickingObserverIsContained(t *testing.T) {
	bus := NewBus(nil)
	panicky := NewFuncObserver(func(ev Event) error { panic("boom") })
	healthy := &recorder{}
	bus.Connect("job", panicky)
	bus.Connect("job", healthy)

	require.NotPanics(t, func() {
		bus.Publish("job", Event{Name: AuditComplete, Host: "web1"})
		bus.Publish("job", Event{Name: JobComplete})
	})
	assert.Equal(t, []string{AuditComplete, JobComplete}, healthy.names())
	assert.Equal(t, 2, bus.Observers("job"))
}

func TestBus_IsolatesJobs(t *testing.T) {
	bus := NewBus(nil)
	a, b := &recorder{}, &recorder{}
	bus.Connect("a", a)
	bus.Connect("b", b)

	bus.Publish("a", Event{Name: AuditStart})
	assert.Len(t, a.names(), 1)
	assert.Empty(t, b.names())
}

func TestBus_PublishOrderPerObserver(t *testing.T) {
	bus := NewBus(nil)
	o := &recorder{}
	bus.Connect("job", o)

	for i := 0; i < 100; i++ {
		bus.Publish("job", Event{Name: fmt.Sprintf("e%03d", i)})
	}
	names := o.names()
	require.Len(t, names, 100)
	for i, n := range names {
		assert.Equal(t, fmt.Sprintf("e%03d", i), n)
	}
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus(nil)
	o := &recorder{}
	bus.Connect("job", o)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bus.Publish("job", Event{Name: AuditComplete, Host: fmt.Sprintf("h%d", i)})
		}(i)
	}
	wg.Wait()
	assert.Len(t, o.names(), 20)
}

func TestFuncObserver(t *testing.T) {
	bus := NewBus(nil)
	var got []Event
	obs := NewFuncObserver(func(ev Event) error {
		got = append(got, ev)
		return nil
	})
	bus.Connect("job", obs)
	bus.Publish("job", Event{Name: JobComplete})
	bus.Disconnect("job", obs)

	require.Len(t, got, 1)
	assert.Equal(t, 0, bus.Jobs())
}

func TestWebSocketHandler(t *testing.T) {
	bus := NewBus(nil)
	h := NewWebSocketHandler(bus, nil, nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeJob(w, r, "job-ws")
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return bus.Observers("job-ws") == 1 }, 2*time.Second, 10*time.Millisecond)

	bus.Publish("job-ws", Event{Name: AuditComplete, Host: "10.0.0.5", Data: map[string]any{"score": 87.5}})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, AuditComplete, ev.Name)
	assert.Equal(t, "10.0.0.5", ev.Host)
	assert.Equal(t, 87.5, ev.Data["score"])

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return bus.Jobs() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketHandler_RejectsOrigin(t *testing.T) {
	bus := NewBus(nil)
	h := NewWebSocketHandler(bus, []string{"https://console.example"}, nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeJob(w, r, "job")
	}))
	defer srv.Close()

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, bus.Jobs())
}
