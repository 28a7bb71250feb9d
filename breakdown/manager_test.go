package breakdown

import (
	"context"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestScanSceneDropsUncorrelated(t *testing.T) {
	scene := newTestSceneChannel(
		testSceneObject("node1", "/a"),
		testSceneObject("node2", "/b"),
	)
	repo := newTestRepositoryChannel()
	repo.recordsByPath["/a"] = testRecord(1, "a", 1, 1, 1, "/a")

	manager := NewSyncManagerWithDefaults(scene, repo)

	items, err := manager.ScanScene(context.Background())
	assert.Equal(t, err, nil)
	assert.Equal(t, 1, len(items))
	assert.Equal(t, "/a", items[0].Path)
	assert.Equal(t, "node1", items[0].NodeName)
}

func TestLatestForItemsBucketsByIdentity(t *testing.T) {
	scene := newTestSceneChannel()
	repo := newTestRepositoryChannel()

	// same record name in two projects, different entities
	itemA := NewFileItem("node1", "reference", "/p1/a/v1")
	itemA.Record = testRecord(1, "a", 1, 1, 10, "/p1/a/v1")
	itemB := NewFileItem("node2", "reference", "/p2/a/v1")
	itemB.Record = testRecord(2, "a", 1, 2, 20, "/p2/a/v1")

	repo.records = []Record{
		testRecord(11, "a", 3, 1, 10, "/p1/a/v3"),
		testRecord(12, "a", 2, 1, 10, "/p1/a/v2"),
		testRecord(21, "a", 5, 2, 20, "/p2/a/v5"),
	}

	manager := NewSyncManagerWithDefaults(scene, repo)

	recordsByIdentity, err := manager.LatestForItems(context.Background(), []*FileItem{itemA, itemB}, nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, 2, len(recordsByIdentity))

	latestA := recordsByIdentity[itemA.IdentityKey()][0]
	assert.Equal(t, int64(11), latestA.RecordId())

	latestB := recordsByIdentity[itemB.IdentityKey()][0]
	assert.Equal(t, int64(21), latestB.RecordId())
}

func TestLatestForItemsSortsNewestFirst(t *testing.T) {
	scene := newTestSceneChannel()
	repo := newTestRepositoryChannel()

	item := NewFileItem("node1", "reference", "/a/v1")
	item.Record = testRecord(1, "a", 1, 1, 10, "/a/v1")

	// repository returns out of order
	repo.records = []Record{
		testRecord(12, "a", 2, 1, 10, "/a/v2"),
		testRecord(14, "a", 4, 1, 10, "/a/v4"),
		testRecord(13, "a", 3, 1, 10, "/a/v3"),
	}

	manager := NewSyncManagerWithDefaults(scene, repo)

	recordsByIdentity, err := manager.LatestForItems(context.Background(), []*FileItem{item}, nil)
	assert.Equal(t, err, nil)

	identityRecords := recordsByIdentity[item.IdentityKey()]
	assert.Equal(t, 3, len(identityRecords))
	version, _ := identityRecords[0].Version()
	assert.Equal(t, int64(4), version)
}

func TestLatestForUpdatesItem(t *testing.T) {
	scene := newTestSceneChannel()
	repo := newTestRepositoryChannel()

	item := NewFileItem("node1", "reference", "/a/v1")
	item.Record = testRecord(1, "a", 1, 1, 10, "/a/v1")
	repo.records = []Record{
		testRecord(13, "a", 3, 1, 10, "/a/v3"),
	}

	manager := NewSyncManagerWithDefaults(scene, repo)

	latest, err := manager.LatestFor(context.Background(), item)
	assert.Equal(t, err, nil)
	assert.Equal(t, int64(13), latest.RecordId())
	assert.Equal(t, int64(13), item.LatestRecord.RecordId())
}

func TestHistoryForUpdatesLatest(t *testing.T) {
	scene := newTestSceneChannel()
	repo := newTestRepositoryChannel()

	item := NewFileItem("node1", "reference", "/a/v2")
	item.Record = testRecord(2, "a", 2, 1, 10, "/a/v2")
	repo.records = []Record{
		testRecord(11, "a", 1, 1, 10, "/a/v1"),
		testRecord(13, "a", 3, 1, 10, "/a/v3"),
		testRecord(12, "a", 2, 1, 10, "/a/v2"),
	}

	manager := NewSyncManagerWithDefaults(scene, repo)

	records, err := manager.HistoryFor(context.Background(), item, nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, 3, len(records))
	version, _ := records[0].Version()
	assert.Equal(t, int64(3), version)
	assert.Equal(t, int64(13), item.LatestRecord.RecordId())
}

func TestHistoryForOrdersLargeVersionGap(t *testing.T) {
	scene := newTestSceneChannel()
	repo := newTestRepositoryChannel()

	item := NewFileItem("node1", "reference", "/a/v1")
	item.Record = testRecord(1, "a", 1, 1, 10, "/a/v1")
	// the gap does not fit in 32 bits
	repo.records = []Record{
		testRecord(11, "a", 1, 1, 10, "/a/v1"),
		testRecord(12, "a", int64(1)<<33, 1, 10, "/a/vbig"),
	}

	manager := NewSyncManagerWithDefaults(scene, repo)

	records, err := manager.HistoryFor(context.Background(), item, nil)
	assert.Equal(t, err, nil)
	version, _ := records[0].Version()
	assert.Equal(t, int64(1)<<33, version)
	assert.Equal(t, int64(12), item.LatestRecord.RecordId())
}

func TestUpdateItemNoLocalPath(t *testing.T) {
	scene := newTestSceneChannel()
	repo := newTestRepositoryChannel()
	manager := NewSyncManagerWithDefaults(scene, repo)

	item := NewFileItem("node1", "reference", "/a/v1")
	item.Record = testRecord(1, "a", 1, 1, 1, "/a/v1")

	target := Record{
		"version_number": int64(6),
	}
	updated := manager.UpdateItem(item, target)

	assert.Equal(t, false, updated)
	assert.Equal(t, "/a/v1", item.Path)
	assert.Equal(t, int64(1), item.Record.RecordId())
	assert.Equal(t, 0, scene.UpdateCount())
}

func TestUpdateItemAppliesTarget(t *testing.T) {
	scene := newTestSceneChannel()
	repo := newTestRepositoryChannel()
	manager := NewSyncManagerWithDefaults(scene, repo)

	item := NewFileItem("node1", "reference", "/a/v1")
	item.Record = testRecord(1, "a", 1, 1, 1, "/a/v1")

	target := testRecord(6, "a", 6, 1, 1, "/x")
	updated := manager.UpdateItem(item, target)

	assert.Equal(t, true, updated)
	assert.Equal(t, "/x", item.Path)
	assert.Equal(t, int64(6), item.Record.RecordId())
	// the pre-update path is recorded
	assert.Equal(t, "/a/v1", item.OldPath())
	assert.Equal(t, 1, scene.UpdateCount())
}

func TestUpdateItemChannelDeclines(t *testing.T) {
	scene := newTestSceneChannel()
	declined := false
	scene.updateResult = &declined
	repo := newTestRepositoryChannel()
	manager := NewSyncManagerWithDefaults(scene, repo)

	item := NewFileItem("node1", "reference", "/a/v1")
	item.Record = testRecord(1, "a", 1, 1, 1, "/a/v1")

	updated := manager.UpdateItem(item, testRecord(6, "a", 6, 1, 1, "/x"))
	assert.Equal(t, false, updated)
	assert.Equal(t, "/a/v1", item.Path)
}

func TestUpdateItemsFallsBackPerItem(t *testing.T) {
	// plain channel, no batch capability
	scene := newTestSceneChannel()
	repo := newTestRepositoryChannel()
	manager := NewSyncManagerWithDefaults(scene, repo)

	itemA := NewFileItem("node1", "reference", "/a/v1")
	itemA.Record = testRecord(1, "a", 1, 1, 1, "/a/v1")
	itemA.LatestRecord = testRecord(3, "a", 3, 1, 1, "/a/v3")

	itemB := NewFileItem("node2", "reference", "/b/v1")
	itemB.Record = testRecord(2, "b", 1, 1, 2, "/b/v1")
	itemB.LatestRecord = testRecord(4, "b", 4, 1, 2, "/b/v4")

	// no latest, skipped
	itemC := NewFileItem("node3", "reference", "/c/v1")
	itemC.Record = testRecord(5, "c", 1, 1, 3, "/c/v1")

	updated := manager.UpdateItems([]*FileItem{itemA, itemB, itemC})

	assert.Equal(t, 2, len(updated))
	assert.Equal(t, 2, scene.UpdateCount())
	assert.Equal(t, "/a/v3", itemA.Path)
	assert.Equal(t, "/b/v4", itemB.Path)
	assert.Equal(t, "/c/v1", itemC.Path)
}

func TestUpdateItemsBatch(t *testing.T) {
	scene := &testBatchSceneChannel{}
	repo := newTestRepositoryChannel()
	manager := NewSyncManagerWithDefaults(scene, repo)

	itemA := NewFileItem("node1", "reference", "/a/v1")
	itemA.Record = testRecord(1, "a", 1, 1, 1, "/a/v1")
	itemA.LatestRecord = testRecord(3, "a", 3, 1, 1, "/a/v3")

	itemB := NewFileItem("node2", "reference", "/b/v1")
	itemB.Record = testRecord(2, "b", 1, 1, 2, "/b/v1")
	itemB.LatestRecord = testRecord(4, "b", 4, 1, 2, "/b/v4")

	updated := manager.UpdateItems([]*FileItem{itemA, itemB})

	assert.Equal(t, 1, scene.batchCallCount)
	// no per item calls
	assert.Equal(t, 0, scene.UpdateCount())
	assert.Equal(t, 2, len(updated))
	assert.Equal(t, "/a/v3", itemA.Path)
	assert.Equal(t, "/b/v4", itemB.Path)
}

func TestUpdateItemsBatchPartialConfirmation(t *testing.T) {
	scene := &testBatchSceneChannel{}
	scene.confirm = func(descriptors []*NodeDescriptor) []*NodeDescriptor {
		confirmed := []*NodeDescriptor{}
		for _, descriptor := range descriptors {
			if descriptor.NodeName == "node1" {
				confirmed = append(confirmed, descriptor)
			}
		}
		return confirmed
	}
	repo := newTestRepositoryChannel()
	manager := NewSyncManagerWithDefaults(scene, repo)

	itemA := NewFileItem("node1", "reference", "/a/v1")
	itemA.Record = testRecord(1, "a", 1, 1, 1, "/a/v1")
	itemA.LatestRecord = testRecord(3, "a", 3, 1, 1, "/a/v3")

	itemB := NewFileItem("node2", "reference", "/b/v1")
	itemB.Record = testRecord(2, "b", 1, 1, 2, "/b/v1")
	itemB.LatestRecord = testRecord(4, "b", 4, 1, 2, "/b/v4")

	updated := manager.UpdateItems([]*FileItem{itemA, itemB})

	// only the confirmed item is mutated
	assert.Equal(t, 1, len(updated))
	assert.Equal(t, "/a/v3", itemA.Path)
	assert.Equal(t, "/b/v1", itemB.Path)
}

func TestUpdateItemsEmpty(t *testing.T) {
	scene := newTestSceneChannel()
	repo := newTestRepositoryChannel()
	manager := NewSyncManagerWithDefaults(scene, repo)

	updated := manager.UpdateItems([]*FileItem{})
	assert.Equal(t, 0, len(updated))
}

func TestLatestFiltersWidenAbsentTask(t *testing.T) {
	scene := newTestSceneChannel()
	repo := newTestRepositoryChannel()
	manager := NewSyncManagerWithDefaults(scene, repo)

	// one item with a task, one without
	itemA := NewFileItem("node1", "reference", "/a/v1")
	itemA.Record = testRecord(1, "a", 1, 1, 10, "/a/v1")
	itemA.Record["task"] = map[string]any{
		"type": "Task",
		"id":   int64(5),
		"name": "anim",
	}
	itemB := NewFileItem("node2", "reference", "/b/v1")
	itemB.Record = testRecord(2, "b", 1, 1, 20, "/b/v1")

	filters := manager.latestFilters([]*FileItem{itemA, itemB})
	assert.Equal(t, LogicOr, filters.Logic)
	// both items share a project, one bucket
	assert.Equal(t, 1, len(filters.Children))

	projectNode := filters.Children[0]
	// entity and task nodes
	assert.Equal(t, 2, len(projectNode.Children))
	taskNode := projectNode.Children[1]
	assert.Equal(t, LogicOr, taskNode.Logic)
	// membership widened with the is-null alternative
	assert.Equal(t, 2, len(taskNode.Conditions))
	assert.Equal(t, ConditionIn, taskNode.Conditions[0].Op)
	assert.Equal(t, ConditionIsNull, taskNode.Conditions[1].Op)
}
