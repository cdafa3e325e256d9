package triage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/golang/glog"
)

// Gateway is the request/response surface the store persists through.
// RemoteGateway is the production implementation; tests substitute their own.
type Gateway interface {
	// FetchAllStates returns every persisted state record for the user.
	// Fails fast with a ConnectionError when the channel is down.
	FetchAllStates(ctx context.Context) ([]*PropertyState, error)
	// UpsertState sends a full-record upsert. Fails fast when the channel
	// is down; an unsuccessful ack becomes a RequestError.
	UpsertState(ctx context.Context, state *PropertyState) error
	// OnPropertyUpdated subscribes to server pushes. The returned func
	// removes the subscription.
	OnPropertyUpdated(callback func(state *PropertyState)) func()
	// AwaitConnection triggers a connect and waits up to timeout.
	AwaitConnection(ctx context.Context, timeout time.Duration) bool
}

type RemoteGateway struct {
	client *Client
}

func NewRemoteGateway(client *Client) *RemoteGateway {
	return &RemoteGateway{
		client: client,
	}
}

func (self *RemoteGateway) FetchAllStates(ctx context.Context) ([]*PropertyState, error) {
	reply, err := self.client.Request(ctx, eventGetInteractions, nil)
	if err != nil {
		return nil, err
	}
	if !reply.Ok() {
		return nil, &RequestError{Message: reply.FailureMessage()}
	}

	states := []*PropertyState{}
	if reply.Data != nil {
		if err := json.Unmarshal(reply.Data, &states); err != nil {
			return nil, &RequestError{Message: err.Error()}
		}
	}
	return states, nil
}

func (self *RemoteGateway) UpsertState(ctx context.Context, state *PropertyState) error {
	reply, err := self.client.Request(ctx, eventUpdateInteraction, state)
	if err != nil {
		return err
	}
	if !reply.Ok() {
		return &RequestError{Message: reply.FailureMessage()}
	}
	return nil
}

func (self *RemoteGateway) OnPropertyUpdated(callback func(state *PropertyState)) func() {
	callbackId := self.client.On(EventPropertyUpdated, func(env *Envelope) {
		if !env.Ok() || env.Data == nil {
			glog.V(2).Infof("[g]drop push without data\n")
			return
		}
		state := &PropertyState{}
		if err := json.Unmarshal(env.Data, state); err != nil {
			glog.Infof("[g]drop malformed push = %s\n", err)
			return
		}
		if state.PropertyId == "" {
			return
		}
		callback(state)
	})
	return func() {
		self.client.Off(EventPropertyUpdated, callbackId)
	}
}

func (self *RemoteGateway) AwaitConnection(ctx context.Context, timeout time.Duration) bool {
	return self.client.WaitForConnection(ctx, timeout, 0)
}
