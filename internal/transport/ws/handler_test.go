package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/discovery/internal/domain"
	"github.com/MrSnakeDoc/discovery/internal/fanout"
	"github.com/MrSnakeDoc/discovery/internal/lifecycle"
	"github.com/MrSnakeDoc/discovery/internal/logger"
	"github.com/MrSnakeDoc/discovery/internal/registry/memory"
)

type acceptAll struct{}

func (acceptAll) Validate(context.Context, *domain.Descriptor) error { return nil }

type testServer struct {
	url     string
	handler *Handler
	reg     *memory.Registry
	engine  *fanout.Engine
}

func startServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	reg := memory.New()
	engine := fanout.NewEngine(reg, logger.Nop())
	lc := lifecycle.New(reg, engine, acceptAll{}, logger.Nop())

	h := NewHandler(lc, opts, logger.Nop())
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		srv.Close()
		engine.Close()
	})
	return &testServer{
		url:     "ws" + strings.TrimPrefix(srv.URL, "http"),
		handler: h,
		reg:     reg,
		engine:  engine,
	}
}

func dial(t *testing.T, s *testServer) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(s.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func send(t *testing.T, c *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, c.WriteJSON(Envelope{Event: event, Data: raw}))
}

// next reads frames until one named event arrives.
func next(t *testing.T, c *websocket.Conn, event string) Envelope {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var env Envelope
		require.NoError(t, c.ReadJSON(&env))
		if env.Event == event {
			return env
		}
	}
}

// collect reads frames until every named event arrived once, in any order.
func collect(t *testing.T, c *websocket.Conn, events ...string) map[string]Envelope {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	got := make(map[string]Envelope, len(events))
	for len(got) < len(events) {
		var env Envelope
		require.NoError(t, c.ReadJSON(&env))
		for _, e := range events {
			if env.Event == e {
				got[e] = env
			}
		}
	}
	return got
}

func rejection(t *testing.T, env Envelope) domain.Rejection {
	t.Helper()
	var r domain.Rejection
	require.NoError(t, json.Unmarshal(env.Data, &r))
	return r
}

func TestSubscribedClientReceivesRegistration(t *testing.T) {
	s := startServer(t, Options{})
	watcher := dial(t, s)
	service := dial(t, s)

	send(t, watcher, lifecycle.EventSubscribe, lifecycle.SubscribeRequest{Types: []string{"Foo"}})
	require.Eventually(t, func() bool { return s.engine.Stats().Feeds == 1 }, time.Second, 5*time.Millisecond)

	send(t, service, lifecycle.EventInit, lifecycle.InitRequest{Descriptor: &domain.Descriptor{
		Type: "Foo", Endpoint: "http://foo:1", HealthCheckRoute: "/health",
	}})

	got := collect(t, watcher, domain.EventServiceAdded, domain.EventRefresh)
	var d domain.Descriptor
	require.NoError(t, json.Unmarshal(got[domain.EventServiceAdded].Data, &d))
	require.Equal(t, "Foo", d.Type)
	require.NotEmpty(t, d.ID)

	var notice domain.RefreshNotice
	require.NoError(t, json.Unmarshal(got[domain.EventRefresh].Data, &notice))
	require.Equal(t, d.ID, notice.ServiceID)

	// the registering client leaves: its descriptor goes away
	require.NoError(t, service.Close())
	got = collect(t, watcher, domain.EventServiceRemoved, domain.EventRefresh)
	require.NoError(t, json.Unmarshal(got[domain.EventServiceRemoved].Data, &d))
	require.Equal(t, notice.ServiceID, d.ID)
	require.Eventually(t, func() bool { return s.reg.Count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestInitSnapshot(t *testing.T) {
	s := startServer(t, Options{})
	_, err := s.reg.Save(context.Background(), &domain.Descriptor{Type: "Foo", Endpoint: "http://foo"})
	require.NoError(t, err)

	c := dial(t, s)
	send(t, c, lifecycle.EventInit, lifecycle.InitRequest{Types: []string{"Foo"}})

	env := next(t, c, domain.EventServiceInit)
	var d domain.Descriptor
	require.NoError(t, json.Unmarshal(env.Data, &d))
	require.Equal(t, "http://foo", d.Endpoint)
}

func TestRejections(t *testing.T) {
	s := startServer(t, Options{})
	c := dial(t, s)

	tests := []struct {
		name  string
		write func()
		code  string
	}{
		{
			name:  "unknown event",
			write: func() { send(t, c, "teleport", map[string]string{}) },
			code:  domain.CodeUnknownEvent,
		},
		{
			name:  "malformed frame",
			write: func() { require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("{"))) },
			code:  domain.CodeInvalidQuery,
		},
		{
			name:  "missing data",
			write: func() { require.NoError(t, c.WriteJSON(Envelope{Event: lifecycle.EventSubscribe})) },
			code:  domain.CodeInvalidQuery,
		},
		{
			name:  "empty types",
			write: func() { send(t, c, lifecycle.EventSubscribe, lifecycle.SubscribeRequest{}) },
			code:  domain.CodeInvalidQuery,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.write()
			r := rejection(t, next(t, c, domain.EventRejected))
			require.Equal(t, tt.code, r.Code)
		})
	}
	require.Equal(t, 0, s.engine.Stats().Feeds)
}

func TestInboundRateLimit(t *testing.T) {
	s := startServer(t, Options{Rate: 0.001, Burst: 1})
	c := dial(t, s)

	send(t, c, lifecycle.EventSubscribe, lifecycle.SubscribeRequest{Types: []string{"Foo"}})
	send(t, c, lifecycle.EventSubscribe, lifecycle.SubscribeRequest{Types: []string{"Bar"}})

	r := rejection(t, next(t, c, domain.EventRejected))
	require.Equal(t, domain.CodeRateLimited, r.Code)
	require.Equal(t, lifecycle.EventSubscribe, r.Event)
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{PongWait: 10 * time.Second, PingPeriod: time.Minute}.withDefaults()
	require.Equal(t, 64, o.SendBuffer)
	require.Equal(t, 9*time.Second, o.PingPeriod)
	require.EqualValues(t, 64<<10, o.MaxMessageSize)
}

func TestCloseAllDeregisters(t *testing.T) {
	s := startServer(t, Options{})
	c := dial(t, s)

	send(t, c, lifecycle.EventInit, lifecycle.InitRequest{Descriptor: &domain.Descriptor{
		Type: "Foo", Endpoint: "http://foo:1", HealthCheckRoute: "/health",
	}})
	require.Eventually(t, func() bool { return s.reg.Count() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, s.handler.Len())

	s.handler.CloseAll()

	require.Equal(t, 0, s.handler.Len())
	require.Equal(t, 0, s.reg.Count())
	require.Equal(t, 0, s.engine.Stats().Connections)
}

func TestCloseAllSendsNormalClosure(t *testing.T) {
	s := startServer(t, Options{})
	c := dial(t, s)
	require.Eventually(t, func() bool { return s.handler.Len() == 1 }, time.Second, 5*time.Millisecond)

	s.handler.CloseAll()

	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := c.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}
