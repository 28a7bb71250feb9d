package breakdown

import (
	"context"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"

	"golang.org/x/exp/maps"
)

// comparable 16-byte token used for async requests and callback registration
type Id [16]byte

func NewId() Id {
	return Id(ulid.Make())
}

func NewIdFromString(idStr string) (Id, error) {
	parsed, err := ulid.Parse(idStr)
	if err != nil {
		return Id{}, err
	}
	return Id(parsed), nil
}

func (self Id) String() string {
	return ulid.ULID(self).String()
}

func (self Id) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("\"%s\"", self.String())), nil
}

func (self *Id) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return fmt.Errorf("Id must be a quoted string.")
	}
	id, err := NewIdFromString(string(b[1 : len(b)-1]))
	if err != nil {
		return err
	}
	*self = id
	return nil
}

type callbackEntry[T any] struct {
	callbackId Id
	callback   T
}

// an ordered list of callbacks where each add is handed back a token
// that removes exactly that registration
type CallbackList[T any] struct {
	stateLock sync.Mutex

	entries []callbackEntry[T]
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{
		entries: []callbackEntry[T]{},
	}
}

func (self *CallbackList[T]) Add(callback T) Id {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	callbackId := NewId()
	self.entries = append(self.entries, callbackEntry[T]{
		callbackId: callbackId,
		callback:   callback,
	})
	return callbackId
}

func (self *CallbackList[T]) Remove(callbackId Id) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	for i := range self.entries {
		if self.entries[i].callbackId == callbackId {
			self.entries = append(self.entries[:i], self.entries[i+1:]...)
			return
		}
	}
}

// snapshot in add order. callers fire callbacks outside of their state locks.
func (self *CallbackList[T]) Get() []T {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	callbacks := make([]T, len(self.entries))
	for i := range self.entries {
		callbacks[i] = self.entries[i].callback
	}
	return callbacks
}

type ResultCallback[R any] interface {
	Result(result R, err error)
}

type simpleResultCallback[R any] struct {
	callback func(result R, err error)
}

func NewResultCallback[R any](callback func(result R, err error)) ResultCallback[R] {
	return &simpleResultCallback[R]{
		callback: callback,
	}
}

func NewNoopResultCallback[R any]() ResultCallback[R] {
	return &simpleResultCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleResultCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type CallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingResultCallback[R any]() (ResultCallback[R], chan CallbackResult[R]) {
	c := make(chan CallbackResult[R])
	callback := NewResultCallback[R](func(result R, err error) {
		c <- CallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return callback, c
}

// RequestRunner runs request functions on their own goroutines and tracks a
// cancel per request id so that a single request or the whole set can be
// canceled.
type RequestRunner struct {
	ctx context.Context

	stateLock sync.Mutex

	cancels map[Id]context.CancelFunc
}

func NewRequestRunner(ctx context.Context) *RequestRunner {
	return &RequestRunner{
		ctx:     ctx,
		cancels: map[Id]context.CancelFunc{},
	}
}

// starts `request` on a new goroutine and returns its request id. The id is
// registered before the goroutine starts, so a `Cancel` with the returned id
// always reaches the request.
func (self *RequestRunner) Run(request func(ctx context.Context, requestId Id)) Id {
	requestId := NewId()
	requestCtx, requestCancel := context.WithCancel(self.ctx)

	self.stateLock.Lock()
	self.cancels[requestId] = requestCancel
	self.stateLock.Unlock()

	go func() {
		defer func() {
			requestCancel()
			self.stateLock.Lock()
			delete(self.cancels, requestId)
			self.stateLock.Unlock()
		}()
		request(requestCtx, requestId)
	}()

	return requestId
}

func (self *RequestRunner) Cancel(requestId Id) {
	self.stateLock.Lock()
	requestCancel, ok := self.cancels[requestId]
	self.stateLock.Unlock()

	if ok {
		requestCancel()
	}
}

func (self *RequestRunner) CancelAll() {
	self.stateLock.Lock()
	requestCancels := maps.Values(self.cancels)
	self.stateLock.Unlock()

	for _, requestCancel := range requestCancels {
		requestCancel()
	}
}

func (self *RequestRunner) PendingCount() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return len(self.cancels)
}
