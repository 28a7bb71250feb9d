package breakdown

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func waitFor(t *testing.T, message string, condition func() bool) {
	timeout := time.After(5 * time.Second)
	for {
		if condition() {
			return
		}
		select {
		case <-timeout:
			t.Fatal(message)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// in-memory scene channel
type testSceneChannel struct {
	stateLock sync.Mutex

	sceneObjects []*SceneObject
	scanErr      error

	updateResult *bool
	updateErr    error

	updatedDescriptors []*NodeDescriptor
}

func newTestSceneChannel(sceneObjects ...*SceneObject) *testSceneChannel {
	return &testSceneChannel{
		sceneObjects: sceneObjects,
	}
}

func (self *testSceneChannel) ScanScene() ([]*SceneObject, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.scanErr != nil {
		return nil, self.scanErr
	}
	return self.sceneObjects, nil
}

func (self *testSceneChannel) Update(descriptor *NodeDescriptor) (*bool, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.updateErr != nil {
		return nil, self.updateErr
	}
	self.updatedDescriptors = append(self.updatedDescriptors, descriptor)
	return self.updateResult, nil
}

func (self *testSceneChannel) UpdateCount() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return len(self.updatedDescriptors)
}

// scene channel with the batch capability
type testBatchSceneChannel struct {
	testSceneChannel

	batchCallCount int
	// nil confirms all descriptors
	confirm func(descriptors []*NodeDescriptor) []*NodeDescriptor
}

func (self *testBatchSceneChannel) UpdateBatch(descriptors []*NodeDescriptor) ([]*NodeDescriptor, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.batchCallCount += 1
	if self.confirm == nil {
		return nil, nil
	}
	return self.confirm(descriptors), nil
}

// in-memory repository channel. `block`, when set, holds every FindRecords
// until the channel is closed so tests can observe in-flight state.
type testRepositoryChannel struct {
	stateLock sync.Mutex

	recordsByPath map[string]Record
	records       []Record

	resolveErr error
	findErr    error

	resolveCallCount int
	findCallCount    int

	block        chan struct{}
	blockResolve chan struct{}
}

func newTestRepositoryChannel() *testRepositoryChannel {
	return &testRepositoryChannel{
		recordsByPath: map[string]Record{},
		records:       []Record{},
	}
}

func (self *testRepositoryChannel) FindRecords(ctx context.Context, query *RecordQuery) ([]Record, error) {
	self.stateLock.Lock()
	self.findCallCount += 1
	block := self.block
	findErr := self.findErr
	records := self.records
	self.stateLock.Unlock()

	if block != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-block:
		}
	}
	if findErr != nil {
		return nil, findErr
	}
	return records, nil
}

func (self *testRepositoryChannel) FindRecordsByPaths(ctx context.Context, paths []string, fields []string, extraFilters []*Condition) (map[string]Record, error) {
	self.stateLock.Lock()
	self.resolveCallCount += 1
	blockResolve := self.blockResolve
	resolveErr := self.resolveErr
	self.stateLock.Unlock()

	if blockResolve != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-blockResolve:
		}
	}
	if resolveErr != nil {
		return nil, resolveErr
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	recordsByPath := map[string]Record{}
	for _, path := range paths {
		if record, ok := self.recordsByPath[path]; ok {
			recordsByPath[path] = record
		}
	}
	return recordsByPath, nil
}

func (self *testRepositoryChannel) ResolveCallCount() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.resolveCallCount
}

func (self *testRepositoryChannel) FindCallCount() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.findCallCount
}

func testRecord(recordId int64, name string, version int64, projectId int64, entityId int64, localPath string) Record {
	record := Record{
		"id":             recordId,
		"name":           name,
		"version_number": version,
		"project": map[string]any{
			"type": "Project",
			"id":   projectId,
			"name": fmt.Sprintf("project%d", projectId),
		},
		"entity": map[string]any{
			"type": "Asset",
			"id":   entityId,
			"name": fmt.Sprintf("asset%d", entityId),
		},
		"published_file_type": map[string]any{
			"type": "PublishedFileType",
			"id":   int64(1),
			"name": "Alembic Cache",
		},
	}
	if localPath != "" {
		record["path"] = map[string]any{
			"local_path": localPath,
		}
	}
	return record
}

func testSceneObject(nodeName string, path string) *SceneObject {
	return &SceneObject{
		NodeName: nodeName,
		NodeType: "reference",
		Path:     path,
	}
}
