package triage

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

const SendBufferSize = 32

type EventFunction func(env *Envelope)

type ClientAuth struct {
	Token      string
	InstanceId Id
	AppVersion string
}

type ClientSettings struct {
	WsHandshakeTimeout time.Duration
	AuthTimeout        time.Duration
	ReconnectTimeout   time.Duration
	PingTimeout        time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
	RequestTimeout     time.Duration
}

func DefaultClientSettings() *ClientSettings {
	return &ClientSettings{
		WsHandshakeTimeout: 2 * time.Second,
		AuthTimeout:        2 * time.Second,
		ReconnectTimeout:   5 * time.Second,
		PingTimeout:        1 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        15 * time.Second,
		RequestTimeout:     10 * time.Second,
	}
}

// Client owns the single duplex realtime connection to the backend. It is an
// explicitly constructed instance, not a process-wide singleton: the
// application root creates one, hands it down, and calls Close on dispose.
//
// The connection lifecycle is a reconnect-forever run loop: dial, handshake
// with the current auth token, pump messages, and on any error back off and
// redial until Disconnect or Close.
type Client struct {
	ctx    context.Context
	cancel context.CancelFunc

	url        string
	instanceId Id
	appVersion string

	settings *ClientSettings

	mutex      sync.Mutex
	authToken  string
	runCancel  context.CancelFunc
	connCancel context.CancelFunc
	send       chan *Envelope
	connected  bool

	eventCallbacks map[string]*CallbackList[EventFunction]

	pendingMutex sync.Mutex
	pending      map[Id]chan *Envelope
}

func NewClientWithDefaults(ctx context.Context, url string, auth *ClientAuth) *Client {
	return NewClient(ctx, url, auth, DefaultClientSettings())
}

func NewClient(ctx context.Context, url string, auth *ClientAuth, settings *ClientSettings) *Client {
	cancelCtx, cancel := context.WithCancel(ctx)
	if auth == nil {
		auth = &ClientAuth{}
	}
	instanceId := auth.InstanceId
	if (instanceId == Id{}) {
		instanceId = NewId()
	}
	return &Client{
		ctx:            cancelCtx,
		cancel:         cancel,
		url:            url,
		instanceId:     instanceId,
		appVersion:     auth.AppVersion,
		settings:       settings,
		authToken:      auth.Token,
		eventCallbacks: map[string]*CallbackList[EventFunction]{},
		pending:        map[Id]chan *Envelope{},
	}
}

// Connect starts the run loop. No-op if already running.
func (self *Client) Connect() {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	if self.runCancel != nil {
		return
	}
	runCtx, runCancel := context.WithCancel(self.ctx)
	self.runCancel = runCancel
	go self.run(runCtx)
}

// Disconnect stops the run loop and tears down the active connection.
// A later Connect starts a fresh loop.
func (self *Client) Disconnect() {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	if self.runCancel != nil {
		self.runCancel()
		self.runCancel = nil
	}
}

// Close permanently disposes the client.
func (self *Client) Close() {
	self.Disconnect()
	self.cancel()
}

func (self *Client) IsConnected() bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.connected
}

// SetAuthToken rotates the credential on the handshake. An active connection
// is torn down so the next dial authenticates with the new token. An empty
// token (logout) tears down and stays down until Connect.
func (self *Client) SetAuthToken(token string) {
	self.mutex.Lock()
	self.authToken = token
	connCancel := self.connCancel
	self.mutex.Unlock()

	if token == "" {
		self.Disconnect()
		return
	}
	if connCancel != nil {
		connCancel()
	}
}

// On registers a handler for a named event. Handlers for an event run in
// registration order. The returned id is the argument to Off.
func (self *Client) On(event string, callback EventFunction) int {
	self.mutex.Lock()
	callbacks, ok := self.eventCallbacks[event]
	if !ok {
		callbacks = NewCallbackList[EventFunction]()
		self.eventCallbacks[event] = callbacks
	}
	self.mutex.Unlock()
	return callbacks.Add(callback)
}

func (self *Client) Off(event string, callbackId int) {
	self.mutex.Lock()
	callbacks, ok := self.eventCallbacks[event]
	self.mutex.Unlock()
	if ok {
		callbacks.Remove(callbackId)
	}
}

// WaitForConnection triggers Connect and polls the connection status until
// true or timeout. Never errors; a false return means the caller should
// degrade to local state.
func (self *Client) WaitForConnection(ctx context.Context, timeout time.Duration, poll time.Duration) bool {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}

	self.Connect()
	if self.IsConnected() {
		return true
	}

	deadline := time.Now().Add(timeout)
	for {
		select {
		case <-ctx.Done():
			return false
		case <-self.ctx.Done():
			return false
		case <-time.After(poll):
		}
		if self.IsConnected() {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
	}
}

// Request sends an envelope and waits for the matching ack. Fails fast with
// a ConnectionError when not connected; callers that need connectivity must
// WaitForConnection first.
func (self *Client) Request(ctx context.Context, event string, data any) (*Envelope, error) {
	self.mutex.Lock()
	send := self.send
	connected := self.connected
	self.mutex.Unlock()
	if !connected || send == nil {
		return nil, &ConnectionError{Message: "not connected"}
	}

	var raw json.RawMessage
	if data != nil {
		var err error
		raw, err = json.Marshal(data)
		if err != nil {
			return nil, err
		}
	}

	requestId := NewId()
	env := &Envelope{
		Event:     event,
		RequestId: &requestId,
		Data:      raw,
	}

	c := make(chan *Envelope, 1)
	self.pendingMutex.Lock()
	self.pending[requestId] = c
	self.pendingMutex.Unlock()
	defer func() {
		self.pendingMutex.Lock()
		delete(self.pending, requestId)
		self.pendingMutex.Unlock()
	}()

	select {
	case send <- env:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-self.ctx.Done():
		return nil, &ConnectionError{Message: "client closed"}
	case <-time.After(self.settings.WriteTimeout):
		return nil, &ConnectionError{Message: "send buffer full"}
	}

	select {
	case reply, ok := <-c:
		if !ok {
			return nil, &ConnectionError{Message: "disconnected"}
		}
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-self.ctx.Done():
		return nil, &ConnectionError{Message: "client closed"}
	case <-time.After(self.settings.RequestTimeout):
		return nil, &ConnectionError{Message: "request timeout"}
	}
}

func (self *Client) run(runCtx context.Context) {
	for {
		reconnect := NewReconnect(self.settings.ReconnectTimeout)

		self.mutex.Lock()
		token := self.authToken
		self.mutex.Unlock()

		ws, err := self.dial(runCtx, token)
		if err != nil {
			glog.Infof("[c]connect error = %s\n", err)
			self.dispatch(EventConnectionError, &Envelope{
				Event: EventConnectionError,
				Error: err.Error(),
			})
			select {
			case <-runCtx.Done():
				return
			case <-reconnect.After():
				continue
			}
		}

		reconnect = NewReconnect(self.settings.ReconnectTimeout)
		self.handle(runCtx, ws)
		select {
		case <-runCtx.Done():
			return
		case <-reconnect.After():
		}
	}
}

// dial opens the websocket and performs the auth handshake: the first
// message on the wire is the auth envelope, and the connection is usable
// only after the server acks it.
func (self *Client) dial(ctx context.Context, token string) (*websocket.Conn, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: self.settings.WsHandshakeTimeout,
	}
	ws, _, err := dialer.DialContext(ctx, self.url, nil)
	if err != nil {
		return nil, &ConnectionError{Message: err.Error()}
	}

	success := false
	defer func() {
		if !success {
			ws.Close()
		}
	}()

	authData, err := json.Marshal(&authArgs{
		Token:      token,
		InstanceId: self.instanceId,
		AppVersion: self.appVersion,
	})
	if err != nil {
		return nil, err
	}
	requestId := NewId()
	authEnv := &Envelope{
		Event:     eventAuth,
		RequestId: &requestId,
		Data:      authData,
	}

	ws.SetWriteDeadline(time.Now().Add(self.settings.AuthTimeout))
	if err := ws.WriteJSON(authEnv); err != nil {
		return nil, &ConnectionError{Message: err.Error()}
	}
	ws.SetReadDeadline(time.Now().Add(self.settings.AuthTimeout))
	ack := &Envelope{}
	if err := ws.ReadJSON(ack); err != nil {
		return nil, &ConnectionError{Message: err.Error()}
	}
	if !ack.Ok() {
		return nil, &AuthError{Message: ack.FailureMessage()}
	}

	success = true
	return ws, nil
}

func (self *Client) handle(runCtx context.Context, ws *websocket.Conn) {
	handleCtx, handleCancel := context.WithCancel(runCtx)
	defer handleCancel()
	defer ws.Close()

	send := make(chan *Envelope, SendBufferSize)

	self.mutex.Lock()
	self.send = send
	self.connCancel = handleCancel
	self.connected = true
	self.mutex.Unlock()

	defer func() {
		self.mutex.Lock()
		self.connected = false
		self.send = nil
		self.connCancel = nil
		self.mutex.Unlock()

		self.failPending()
		self.dispatch(EventDisconnected, &Envelope{Event: EventDisconnected})
	}()

	self.dispatch(EventConnected, &Envelope{Event: EventConnected})

	// unblock the read loop as soon as the connection is torn down
	go func() {
		<-handleCtx.Done()
		ws.Close()
	}()

	go func() {
		defer handleCancel()

		for {
			select {
			case <-handleCtx.Done():
				return
			case env, ok := <-send:
				if !ok {
					return
				}
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteJSON(env); err != nil {
					// a websocket deadline timeout cannot be recovered
					glog.Infof("[cs]-> error = %s\n", err)
					return
				}
				glog.V(2).Infof("[cs]%s->\n", env.Event)
			case <-time.After(self.settings.PingTimeout):
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		return nil
	})

	for {
		select {
		case <-handleCtx.Done():
			return
		default:
		}

		ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		_, message, err := ws.ReadMessage()
		if err != nil {
			glog.Infof("[cr]<- error = %s\n", err)
			return
		}
		if len(message) == 0 {
			continue
		}

		env := &Envelope{}
		if err := json.Unmarshal(message, env); err != nil {
			glog.Infof("[cr]drop malformed message = %s\n", err)
			continue
		}
		glog.V(2).Infof("[cr]%s<-\n", env.Event)
		self.route(env)
	}
}

func (self *Client) route(env *Envelope) {
	if env.RequestId != nil {
		self.pendingMutex.Lock()
		c, ok := self.pending[*env.RequestId]
		if ok {
			delete(self.pending, *env.RequestId)
		}
		self.pendingMutex.Unlock()
		if ok {
			c <- env
			return
		}
	}
	if env.Event != "" {
		self.dispatch(env.Event, env)
	}
}

// fail all in-flight requests when the connection drops
func (self *Client) failPending() {
	self.pendingMutex.Lock()
	pending := self.pending
	self.pending = map[Id]chan *Envelope{}
	self.pendingMutex.Unlock()

	for _, c := range pending {
		close(c)
	}
}

func (self *Client) dispatch(event string, env *Envelope) {
	self.mutex.Lock()
	callbacks, ok := self.eventCallbacks[event]
	self.mutex.Unlock()
	if !ok {
		return
	}
	for _, callback := range callbacks.Get() {
		func() {
			defer func() {
				if r := recover(); r != nil {
					glog.Infof("[c]callback panic %s = %v\n", event, r)
				}
			}()
			callback(env)
		}()
	}
}
