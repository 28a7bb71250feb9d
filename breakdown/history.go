package breakdown

import (
	"context"
	"sync"

	"github.com/golang/glog"

	"golang.org/x/exp/slices"
)

type HistoryLoadedFunction = func(records []Record, err error)

// FileHistory loads the full version history of one item in the background.
// A new Load cancels the previous one; only the newest request's result is
// kept.
type FileHistory struct {
	ctx    context.Context
	cancel context.CancelFunc

	manager *SyncManager

	runner *RequestRunner

	stateLock sync.Mutex

	item      *FileItem
	records   []Record
	loading   bool
	requestId *Id

	loadedCallbacks *CallbackList[HistoryLoadedFunction]
}

func NewFileHistory(ctx context.Context, manager *SyncManager) *FileHistory {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &FileHistory{
		ctx:             cancelCtx,
		cancel:          cancel,
		manager:         manager,
		runner:          NewRequestRunner(cancelCtx),
		records:         []Record{},
		loadedCallbacks: NewCallbackList[HistoryLoadedFunction](),
	}
}

func (self *FileHistory) AddLoadedCallback(callback HistoryLoadedFunction) func() {
	callbackId := self.loadedCallbacks.Add(callback)
	return func() {
		self.loadedCallbacks.Remove(callbackId)
	}
}

// Load fetches the history for `item`, newest first, canceling any load
// still in flight.
func (self *FileHistory) Load(item *FileItem) {
	self.stateLock.Lock()
	if self.requestId != nil {
		self.runner.Cancel(*self.requestId)
		self.requestId = nil
	}
	self.item = item
	self.records = []Record{}
	self.loading = true
	snapshot := item.Snapshot()
	path := snapshot.Path
	// the completion identifies this load by the pointer, not the id value,
	// so it never reads the id outside the state lock
	requestId := new(Id)
	callback := NewResultCallback[[]Record](func(records []Record, err error) {
		self.loadDone(requestId, path, records, err)
	})
	*requestId = self.manager.HistoryForAsync(self.runner, snapshot, nil, callback)
	self.requestId = requestId
	self.stateLock.Unlock()
}

func (self *FileHistory) loadDone(requestId *Id, path string, records []Record, err error) {
	self.stateLock.Lock()
	if self.requestId != requestId {
		// a newer load replaced this one
		self.stateLock.Unlock()
		return
	}
	self.requestId = nil
	self.loading = false
	if err == nil {
		self.records = records
	}
	self.stateLock.Unlock()

	if err != nil {
		glog.Infof("[model]history for %s error = %s\n", path, err)
	}
	for _, callback := range self.loadedCallbacks.Get() {
		callback(records, err)
	}
}

func (self *FileHistory) IsLoading() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.loading
}

func (self *FileHistory) Records() []Record {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return slices.Clone(self.records)
}

func (self *FileHistory) Item() *FileItem {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.item
}

func (self *FileHistory) Destroy() {
	self.stateLock.Lock()
	self.item = nil
	self.records = []Record{}
	self.loading = false
	self.requestId = nil
	self.stateLock.Unlock()

	self.cancel()
}
