package breakdown

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestIdJson(t *testing.T) {
	id := NewId()

	idJson, err := json.Marshal(id)
	assert.Equal(t, err, nil)

	var idFromJson Id
	err = json.Unmarshal(idJson, &idFromJson)
	assert.Equal(t, err, nil)
	assert.Equal(t, id, idFromJson)
}

func TestCallbackList(t *testing.T) {
	callbackList := NewCallbackList[func(int)]()

	values := []int{}
	callbackIdA := callbackList.Add(func(value int) {
		values = append(values, value)
	})
	callbackList.Add(func(value int) {
		values = append(values, value*10)
	})

	for _, callback := range callbackList.Get() {
		callback(1)
	}
	assert.Equal(t, []int{1, 10}, values)

	callbackList.Remove(callbackIdA)
	for _, callback := range callbackList.Get() {
		callback(2)
	}
	assert.Equal(t, []int{1, 10, 20}, values)
}

func TestRequestRunnerCancel(t *testing.T) {
	runner := NewRequestRunner(context.Background())

	started := make(chan struct{})
	done := make(chan error, 1)
	requestId := runner.Run(func(ctx context.Context, requestId Id) {
		close(started)
		<-ctx.Done()
		done <- ctx.Err()
	})

	<-started
	runner.Cancel(requestId)

	select {
	case err := <-done:
		assert.Equal(t, context.Canceled, err)
	case <-time.After(5 * time.Second):
		t.Fatal("request was not canceled")
	}
}

func TestRequestRunnerCancelAll(t *testing.T) {
	runner := NewRequestRunner(context.Background())

	done := make(chan struct{}, 2)
	for i := 0; i < 2; i += 1 {
		runner.Run(func(ctx context.Context, requestId Id) {
			<-ctx.Done()
			done <- struct{}{}
		})
	}

	runner.CancelAll()
	for i := 0; i < 2; i += 1 {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("request was not canceled")
		}
	}
}

func TestBlockingResultCallback(t *testing.T) {
	callback, c := NewBlockingResultCallback[int]()
	go callback.Result(42, nil)

	result := <-c
	assert.Equal(t, 42, result.Result)
	assert.Equal(t, result.Error, nil)
}
