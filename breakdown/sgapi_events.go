package breakdown

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

// RecordEvent is one record change pushed by the repository's event stream.
type RecordEvent struct {
	EventType  string     `json:"event_type"`
	RecordType string     `json:"record_type"`
	RecordId   int64      `json:"record_id"`
	Project    *EntityRef `json:"project,omitempty"`
}

type RecordEventFunction = func(event *RecordEvent)

type RepositoryEventClientSettings struct {
	ReconnectTimeout time.Duration
	ReadTimeout      time.Duration
	PingTimeout      time.Duration
}

func DefaultRepositoryEventClientSettings() *RepositoryEventClientSettings {
	return &RepositoryEventClientSettings{
		ReconnectTimeout: 5 * time.Second,
		ReadTimeout:      120 * time.Second,
		PingTimeout:      30 * time.Second,
	}
}

// RepositoryEventClient subscribes to the repository's event stream so an
// embedder can trigger a latest check when a record changes instead of
// waiting for the poll interval. Typical wiring:
//
//	client.AddRecordEventCallback(func(event *RecordEvent) {
//	    model.CheckLatest()
//	})
//
// The client reconnects until its context is canceled.
type RepositoryEventClient struct {
	ctx    context.Context
	cancel context.CancelFunc

	streamUrl string
	authJwt   string

	settings *RepositoryEventClientSettings

	eventCallbacks *CallbackList[RecordEventFunction]
}

func NewRepositoryEventClientWithDefaults(ctx context.Context, streamUrl string, authJwt string) *RepositoryEventClient {
	return NewRepositoryEventClient(ctx, streamUrl, authJwt, DefaultRepositoryEventClientSettings())
}

func NewRepositoryEventClient(ctx context.Context, streamUrl string, authJwt string, settings *RepositoryEventClientSettings) *RepositoryEventClient {
	cancelCtx, cancel := context.WithCancel(ctx)

	eventClient := &RepositoryEventClient{
		ctx:            cancelCtx,
		cancel:         cancel,
		streamUrl:      streamUrl,
		authJwt:        authJwt,
		settings:       settings,
		eventCallbacks: NewCallbackList[RecordEventFunction](),
	}
	go eventClient.run()
	return eventClient
}

func (self *RepositoryEventClient) AddRecordEventCallback(callback RecordEventFunction) func() {
	callbackId := self.eventCallbacks.Add(callback)
	return func() {
		self.eventCallbacks.Remove(callbackId)
	}
}

func (self *RepositoryEventClient) run() {
	defer self.cancel()

	for {
		connect := func() (*websocket.Conn, error) {
			header := http.Header{}
			if self.authJwt != "" {
				header.Add("Authorization", fmt.Sprintf("Bearer %s", self.authJwt))
			}
			ws, _, err := websocket.DefaultDialer.DialContext(self.ctx, self.streamUrl, header)
			if err != nil {
				return nil, err
			}
			return ws, nil
		}

		ws, err := connect()
		if err != nil {
			glog.Infof("[event]connect error = %s\n", err)
			select {
			case <-self.ctx.Done():
				return
			case <-time.After(self.settings.ReconnectTimeout):
				continue
			}
		}

		glog.V(1).Infof("[event]connected %s\n", self.streamUrl)
		self.readLoop(ws)
		ws.Close()

		select {
		case <-self.ctx.Done():
			return
		case <-time.After(self.settings.ReconnectTimeout):
		}
	}
}

func (self *RepositoryEventClient) readLoop(ws *websocket.Conn) {
	pingDone := make(chan struct{})
	defer close(pingDone)

	go func() {
		for {
			select {
			case <-self.ctx.Done():
				return
			case <-pingDone:
				return
			case <-time.After(self.settings.PingTimeout):
				ws.SetWriteDeadline(time.Now().Add(self.settings.PingTimeout))
				if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
					ws.Close()
					return
				}
			}
		}
	}()

	for {
		select {
		case <-self.ctx.Done():
			return
		default:
		}

		ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		messageType, message, err := ws.ReadMessage()
		if err != nil {
			glog.V(1).Infof("[event]read error = %s\n", err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		event := &RecordEvent{}
		if err := json.Unmarshal(message, event); err != nil {
			glog.V(1).Infof("[event]decode error = %s\n", err)
			continue
		}
		glog.V(2).Infof("[event]%s %s %d\n", event.EventType, event.RecordType, event.RecordId)
		for _, callback := range self.eventCallbacks.Get() {
			callback(event)
		}
	}
}

func (self *RepositoryEventClient) Close() {
	self.cancel()
}
