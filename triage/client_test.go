package triage

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/gorilla/websocket"
)

func init() {
	initGlog()
}

func initGlog() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", "0")
}

// in-process realtime backend: auth-first handshake, acks for the two
// interaction events, push to all authenticated connections
type testRealtimeServer struct {
	t *testing.T

	server   *httptest.Server
	upgrader websocket.Upgrader

	mutex       sync.Mutex
	tokens      []string
	conns       map[*websocket.Conn]*sync.Mutex
	states      []*PropertyState
	upserts     []*PropertyState
	failUpserts string
	rejectAuth  string
}

func newTestRealtimeServer(t *testing.T) *testRealtimeServer {
	self := &testRealtimeServer{
		t:     t,
		conns: map[*websocket.Conn]*sync.Mutex{},
	}
	self.server = httptest.NewServer(http.HandlerFunc(self.handle))
	return self
}

func (self *testRealtimeServer) Url() string {
	return "ws" + strings.TrimPrefix(self.server.URL, "http")
}

func (self *testRealtimeServer) Close() {
	self.server.Close()
}

func boolPtr(value bool) *bool {
	return &value
}

func (self *testRealtimeServer) handle(w http.ResponseWriter, r *http.Request) {
	ws, err := self.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	writeMutex := &sync.Mutex{}
	writeEnv := func(env *Envelope) {
		writeMutex.Lock()
		defer writeMutex.Unlock()
		ws.WriteJSON(env)
	}

	// auth handshake
	authEnv := &Envelope{}
	if err := ws.ReadJSON(authEnv); err != nil {
		return
	}
	auth := &authArgs{}
	if authEnv.Data != nil {
		json.Unmarshal(authEnv.Data, auth)
	}

	self.mutex.Lock()
	self.tokens = append(self.tokens, auth.Token)
	rejectAuth := self.rejectAuth
	self.mutex.Unlock()

	if rejectAuth != "" {
		writeEnv(&Envelope{
			RequestId: authEnv.RequestId,
			Success:   boolPtr(false),
			Message:   rejectAuth,
		})
		return
	}
	writeEnv(&Envelope{
		RequestId: authEnv.RequestId,
		Success:   boolPtr(true),
	})

	self.mutex.Lock()
	self.conns[ws] = writeMutex
	self.mutex.Unlock()
	defer func() {
		self.mutex.Lock()
		delete(self.conns, ws)
		self.mutex.Unlock()
	}()

	for {
		env := &Envelope{}
		if err := ws.ReadJSON(env); err != nil {
			return
		}

		switch env.Event {
		case eventGetInteractions:
			self.mutex.Lock()
			data, _ := json.Marshal(self.states)
			self.mutex.Unlock()
			writeEnv(&Envelope{
				RequestId: env.RequestId,
				Success:   boolPtr(true),
				Data:      data,
			})
		case eventUpdateInteraction:
			self.mutex.Lock()
			failUpserts := self.failUpserts
			self.mutex.Unlock()
			if failUpserts != "" {
				writeEnv(&Envelope{
					RequestId: env.RequestId,
					Success:   boolPtr(false),
					Message:   failUpserts,
				})
				continue
			}
			state := &PropertyState{}
			if env.Data != nil {
				json.Unmarshal(env.Data, state)
			}
			self.mutex.Lock()
			self.upserts = append(self.upserts, state)
			self.mutex.Unlock()
			writeEnv(&Envelope{
				RequestId: env.RequestId,
				Success:   boolPtr(true),
			})
		}
	}
}

func (self *testRealtimeServer) Push(state *PropertyState) {
	data, _ := json.Marshal(state)
	env := &Envelope{
		Event:   EventPropertyUpdated,
		Success: boolPtr(true),
		Data:    data,
	}
	self.mutex.Lock()
	conns := map[*websocket.Conn]*sync.Mutex{}
	for ws, writeMutex := range self.conns {
		conns[ws] = writeMutex
	}
	self.mutex.Unlock()
	for ws, writeMutex := range conns {
		writeMutex.Lock()
		ws.WriteJSON(env)
		writeMutex.Unlock()
	}
}

func (self *testRealtimeServer) Tokens() []string {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return append([]string{}, self.tokens...)
}

func testClientSettings() *ClientSettings {
	settings := DefaultClientSettings()
	settings.ReconnectTimeout = 100 * time.Millisecond
	return settings
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func TestClientConnectAndDisconnect(t *testing.T) {
	server := newTestRealtimeServer(t)
	defer server.Close()

	ctx := context.Background()
	client := NewClientWithDefaults(ctx, server.Url(), &ClientAuth{Token: "tok1"})
	defer client.Close()

	ok := client.WaitForConnection(ctx, 5*time.Second, 0)
	assert.Equal(t, ok, true)
	assert.Equal(t, client.IsConnected(), true)

	// idempotent
	client.Connect()
	assert.Equal(t, client.IsConnected(), true)

	client.Disconnect()
	waitFor(t, 5*time.Second, func() bool {
		return !client.IsConnected()
	})

	// reconnects after an explicit disconnect
	ok = client.WaitForConnection(ctx, 5*time.Second, 0)
	assert.Equal(t, ok, true)
}

func TestClientLifecycleEvents(t *testing.T) {
	server := newTestRealtimeServer(t)
	defer server.Close()

	ctx := context.Background()
	client := NewClientWithDefaults(ctx, server.Url(), &ClientAuth{Token: "tok1"})
	defer client.Close()

	var mutex sync.Mutex
	events := []string{}
	record := func(name string) EventFunction {
		return func(env *Envelope) {
			mutex.Lock()
			events = append(events, name)
			mutex.Unlock()
		}
	}
	client.On(EventConnected, record("connected"))
	client.On(EventDisconnected, record("disconnected"))

	ok := client.WaitForConnection(ctx, 5*time.Second, 0)
	assert.Equal(t, ok, true)
	client.Disconnect()

	waitFor(t, 5*time.Second, func() bool {
		mutex.Lock()
		defer mutex.Unlock()
		return len(events) == 2
	})
	mutex.Lock()
	assert.Equal(t, events, []string{"connected", "disconnected"})
	mutex.Unlock()
}

func TestClientRequestFailsFastWhenDisconnected(t *testing.T) {
	client := NewClientWithDefaults(context.Background(), "ws://127.0.0.1:1", nil)
	defer client.Close()

	_, err := client.Request(context.Background(), eventGetInteractions, nil)
	connectionErr, ok := err.(*ConnectionError)
	assert.Equal(t, ok, true)
	assert.NotEqual(t, connectionErr, nil)
}

func TestWaitForConnectionTimesOut(t *testing.T) {
	client := NewClientWithDefaults(context.Background(), "ws://127.0.0.1:1", nil)
	defer client.Close()

	start := time.Now()
	ok := client.WaitForConnection(context.Background(), 500*time.Millisecond, 50*time.Millisecond)
	assert.Equal(t, ok, false)
	if 5*time.Second < time.Since(start) {
		t.Fatal("wait did not respect the timeout")
	}
}

func TestSetAuthTokenRotatesHandshake(t *testing.T) {
	server := newTestRealtimeServer(t)
	defer server.Close()

	ctx := context.Background()
	client := NewClient(ctx, server.Url(), &ClientAuth{Token: "tok1"}, testClientSettings())
	defer client.Close()

	ok := client.WaitForConnection(ctx, 5*time.Second, 0)
	assert.Equal(t, ok, true)

	client.SetAuthToken("tok2")
	waitFor(t, 5*time.Second, func() bool {
		tokens := server.Tokens()
		return tokens[len(tokens)-1] == "tok2"
	})

	// empty token is logout: the client stays down
	client.SetAuthToken("")
	waitFor(t, 5*time.Second, func() bool {
		return !client.IsConnected()
	})
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, client.IsConnected(), false)
}

func TestAuthRejectionEmitsConnectionError(t *testing.T) {
	server := newTestRealtimeServer(t)
	defer server.Close()
	server.rejectAuth = "invalid token"

	ctx := context.Background()
	client := NewClientWithDefaults(ctx, server.Url(), &ClientAuth{Token: "bad"})
	defer client.Close()

	var mutex sync.Mutex
	errorMessages := []string{}
	client.On(EventConnectionError, func(env *Envelope) {
		mutex.Lock()
		errorMessages = append(errorMessages, env.Error)
		mutex.Unlock()
	})

	ok := client.WaitForConnection(ctx, 1*time.Second, 50*time.Millisecond)
	assert.Equal(t, ok, false)

	waitFor(t, 5*time.Second, func() bool {
		mutex.Lock()
		defer mutex.Unlock()
		return 0 < len(errorMessages)
	})
	mutex.Lock()
	assert.Equal(t, strings.Contains(errorMessages[0], "invalid token"), true)
	mutex.Unlock()
}

func TestGatewayFetchAndUpsert(t *testing.T) {
	server := newTestRealtimeServer(t)
	defer server.Close()
	server.states = []*PropertyState{
		{PropertyId: "a", Status: StatusLiked, Position: 1, ColumnIndex: 0},
	}

	ctx := context.Background()
	client := NewClientWithDefaults(ctx, server.Url(), &ClientAuth{Token: "tok1"})
	defer client.Close()
	gateway := NewRemoteGateway(client)

	ok := gateway.AwaitConnection(ctx, 5*time.Second)
	assert.Equal(t, ok, true)

	states, err := gateway.FetchAllStates(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(states), 1)
	assert.Equal(t, states[0].PropertyId, "a")
	assert.Equal(t, states[0].Status, StatusLiked)

	err = gateway.UpsertState(ctx, &PropertyState{
		PropertyId:  "b",
		Status:      StatusDisliked,
		Position:    0,
		ColumnIndex: 2,
		Comment:     "too dark",
	})
	assert.Equal(t, err, nil)

	server.mutex.Lock()
	assert.Equal(t, len(server.upserts), 1)
	assert.Equal(t, server.upserts[0].PropertyId, "b")
	assert.Equal(t, server.upserts[0].Comment, "too dark")
	server.mutex.Unlock()
}

func TestGatewayFailureEnvelopeBecomesRequestError(t *testing.T) {
	server := newTestRealtimeServer(t)
	defer server.Close()
	server.failUpserts = "over quota"

	ctx := context.Background()
	client := NewClientWithDefaults(ctx, server.Url(), &ClientAuth{Token: "tok1"})
	defer client.Close()
	gateway := NewRemoteGateway(client)

	ok := gateway.AwaitConnection(ctx, 5*time.Second)
	assert.Equal(t, ok, true)

	err := gateway.UpsertState(ctx, &PropertyState{PropertyId: "a", Status: StatusLiked})
	requestErr, isRequestErr := err.(*RequestError)
	assert.Equal(t, isRequestErr, true)
	assert.Equal(t, requestErr.Message, "over quota")
}

func TestGatewayDispatchesPushes(t *testing.T) {
	server := newTestRealtimeServer(t)
	defer server.Close()

	ctx := context.Background()
	client := NewClientWithDefaults(ctx, server.Url(), &ClientAuth{Token: "tok1"})
	defer client.Close()
	gateway := NewRemoteGateway(client)

	var mutex sync.Mutex
	received := []*PropertyState{}
	remove := gateway.OnPropertyUpdated(func(state *PropertyState) {
		mutex.Lock()
		received = append(received, state)
		mutex.Unlock()
	})

	ok := gateway.AwaitConnection(ctx, 5*time.Second)
	assert.Equal(t, ok, true)

	server.Push(&PropertyState{
		PropertyId:  "a",
		Status:      StatusLiked,
		ColumnIndex: 1,
	})
	waitFor(t, 5*time.Second, func() bool {
		mutex.Lock()
		defer mutex.Unlock()
		return len(received) == 1
	})
	mutex.Lock()
	assert.Equal(t, received[0].PropertyId, "a")
	assert.Equal(t, received[0].ColumnIndex, 1)
	mutex.Unlock()

	// unsubscribed handlers stop receiving
	remove()
	server.Push(&PropertyState{PropertyId: "b", Status: StatusLiked})
	time.Sleep(200 * time.Millisecond)
	mutex.Lock()
	assert.Equal(t, len(received), 1)
	mutex.Unlock()
}

func TestStoreAgainstLiveChannel(t *testing.T) {
	server := newTestRealtimeServer(t)
	defer server.Close()
	server.states = []*PropertyState{
		{PropertyId: "a", Status: StatusLiked, Position: 0, ColumnIndex: 0},
	}

	ctx := context.Background()
	client := NewClientWithDefaults(ctx, server.Url(), &ClientAuth{Token: "tok1"})
	defer client.Close()

	catalog := []*Property{testProperty("a"), testProperty("b")}
	store := NewStoreWithDefaults(ctx, catalog, NewRemoteGateway(client))
	defer store.Close()
	err := store.Init(ctx)
	assert.Equal(t, err, nil)

	_, state := store.PropertyWithState("a")
	assert.Equal(t, state.Status, StatusLiked)

	err = store.UpdateStatus(ctx, "b", StatusDisliked)
	assert.Equal(t, err, nil)
	server.mutex.Lock()
	assert.Equal(t, len(server.upserts), 1)
	server.mutex.Unlock()

	server.Push(&PropertyState{
		PropertyId: "a",
		Status:     StatusDisliked,
		Comment:    "sold",
	})
	waitFor(t, 5*time.Second, func() bool {
		_, state := store.PropertyWithState("a")
		return state.Status == StatusDisliked
	})
	property, _ := store.PropertyWithState("a")
	assert.Equal(t, property.Comment, "sold")
}
