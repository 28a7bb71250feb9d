package breakdown

import (
	"cmp"
	"context"

	"github.com/golang/glog"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// fields every correlated record must carry
var requiredRecordFields = []string{
	"id",
	"project",
	"entity",
	"name",
	"task",
	"published_file_type",
	"path",
	"version_number",
}

type SyncManagerSettings struct {
	// fields fetched in addition to the required correlation fields
	ExtraFields []string
	// extra leaf conditions merged into every correlation and latest query
	ExtraFilters []*Condition
	// extra leaf conditions applied to history queries only
	HistoryFilters []*Condition
	// record field the model groups by unless overridden per model
	GroupBy string
}

func DefaultSyncManagerSettings() *SyncManagerSettings {
	return &SyncManagerSettings{
		ExtraFields:    []string{},
		ExtraFilters:   []*Condition{},
		HistoryFilters: []*Condition{},
		GroupBy:        "project",
	}
}

// SyncManager composes the scene and repository channels into stateless
// synchronization operations. It holds no request state; async variants run
// on a caller-supplied RequestRunner so the caller owns cancellation.
type SyncManager struct {
	scene SceneChannel
	repo  RepositoryChannel

	settings *SyncManagerSettings
}

func NewSyncManagerWithDefaults(scene SceneChannel, repo RepositoryChannel) *SyncManager {
	return NewSyncManager(scene, repo, DefaultSyncManagerSettings())
}

func NewSyncManager(scene SceneChannel, repo RepositoryChannel, settings *SyncManagerSettings) *SyncManager {
	return &SyncManager{
		scene:    scene,
		repo:     repo,
		settings: settings,
	}
}

func (self *SyncManager) Settings() *SyncManagerSettings {
	return self.settings
}

func (self *SyncManager) RecordFields(extraFields []string) []string {
	fields := slices.Clone(requiredRecordFields)
	for _, field := range self.settings.ExtraFields {
		if !slices.Contains(fields, field) {
			fields = append(fields, field)
		}
	}
	for _, field := range extraFields {
		if !slices.Contains(fields, field) {
			fields = append(fields, field)
		}
	}
	return fields
}

// GetSceneObjects scans the live document. Synchronous, owner goroutine only.
func (self *SyncManager) GetSceneObjects() ([]*SceneObject, error) {
	return self.scene.ScanScene()
}

// CorrelatePaths resolves scene paths to their repository records in one
// batched query.
func (self *SyncManager) CorrelatePaths(ctx context.Context, paths []string, extraFields []string) (map[string]Record, error) {
	if len(paths) == 0 {
		return map[string]Record{}, nil
	}
	recordsByPath, err := self.repo.FindRecordsByPaths(ctx, paths, self.RecordFields(extraFields), self.settings.ExtraFilters)
	if err != nil {
		return nil, err
	}
	glog.V(1).Infof("[mgr]correlate %d paths -> %d records\n", len(paths), len(recordsByPath))
	return recordsByPath, nil
}

func (self *SyncManager) CorrelatePathsAsync(runner *RequestRunner, paths []string, extraFields []string, callback ResultCallback[map[string]Record]) Id {
	return runner.Run(func(ctx context.Context, requestId Id) {
		recordsByPath, err := self.CorrelatePaths(ctx, paths, extraFields)
		callback.Result(recordsByPath, err)
	})
}

// FileItems builds items from a scan result and its correlation result.
// Scene objects with no correlated record are dropped.
func (self *SyncManager) FileItems(sceneObjects []*SceneObject, recordsByPath map[string]Record) []*FileItem {
	items := []*FileItem{}
	for _, sceneObject := range sceneObjects {
		record, ok := recordsByPath[sceneObject.Path]
		if !ok {
			glog.V(2).Infof("[mgr]drop uncorrelated path %s\n", sceneObject.Path)
			continue
		}
		items = append(items, newFileItemFromSceneObject(sceneObject, record))
	}
	return items
}

// ScanScene is the synchronous composition: scan, correlate, build items.
func (self *SyncManager) ScanScene(ctx context.Context) ([]*FileItem, error) {
	sceneObjects, err := self.GetSceneObjects()
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(sceneObjects))
	for i, sceneObject := range sceneObjects {
		paths[i] = sceneObject.Path
	}
	recordsByPath, err := self.CorrelatePaths(ctx, paths, nil)
	if err != nil {
		return nil, err
	}
	return self.FileItems(sceneObjects, recordsByPath), nil
}

type latestProjectBucket struct {
	project EntityRef

	names       []string
	recordTypes []EntityRef
	entities    []EntityRef
	tasks       []EntityRef

	// some item in the bucket has no entity/task link, so records with a
	// null value for that field must also match
	nullEntity bool
	nullTask   bool
}

func identityKeyForRecord(record Record) IdentityKey {
	key := IdentityKey{
		Name: record.Name(),
	}
	if entity, ok := record.Entity(); ok {
		key.Entity = entity.Key()
	}
	if task, ok := record.Task(); ok {
		key.Task = task.Key()
	}
	if recordType, ok := record.RecordType(); ok {
		key.RecordType = recordType.Key()
	}
	return key
}

func appendRef(refs []EntityRef, ref EntityRef) []EntityRef {
	if !slices.Contains(refs, ref) {
		return append(refs, ref)
	}
	return refs
}

// one filter node per project so that identical names in different projects
// never cross-match
func (self *SyncManager) latestFilters(items []*FileItem) *FilterNode {
	bucketOrder := []string{}
	buckets := map[string]*latestProjectBucket{}

	for _, item := range items {
		if item.Record == nil {
			continue
		}
		project, _ := item.Record.Project()
		projectKey := project.Key()
		bucket, ok := buckets[projectKey]
		if !ok {
			bucket = &latestProjectBucket{
				project: project,
			}
			buckets[projectKey] = bucket
			bucketOrder = append(bucketOrder, projectKey)
		}

		if name := item.Record.Name(); name != "" && !slices.Contains(bucket.names, name) {
			bucket.names = append(bucket.names, name)
		}
		if recordType, ok := item.Record.RecordType(); ok {
			bucket.recordTypes = appendRef(bucket.recordTypes, recordType)
		}
		if entity, ok := item.Record.Entity(); ok {
			bucket.entities = appendRef(bucket.entities, entity)
		} else {
			bucket.nullEntity = true
		}
		if task, ok := item.Record.Task(); ok {
			bucket.tasks = appendRef(bucket.tasks, task)
		} else {
			bucket.nullTask = true
		}
	}

	filters := &FilterNode{
		Logic: LogicOr,
	}
	for _, projectKey := range bucketOrder {
		bucket := buckets[projectKey]
		node := And()
		if bucket.project.Key() != "" {
			node.AddCondition(Cond("project", ConditionIs, bucket.project))
		}
		node.AddCondition(Cond("name", ConditionIn, bucket.names))
		node.AddCondition(Cond("published_file_type", ConditionIn, bucket.recordTypes))
		node.AddChild(optionalRefFilter("entity", bucket.entities, bucket.nullEntity))
		node.AddChild(optionalRefFilter("task", bucket.tasks, bucket.nullTask))
		for _, condition := range self.settings.ExtraFilters {
			node.AddCondition(condition)
		}
		filters.AddChild(node)
	}
	return filters
}

// membership filter for an optional reference field, widened with an is-null
// alternative when some item carries no value
func optionalRefFilter(field string, refs []EntityRef, null bool) *FilterNode {
	node := &FilterNode{
		Logic: LogicOr,
	}
	if 0 < len(refs) {
		node.AddCondition(Cond(field, ConditionIn, refs))
	}
	if null || len(refs) == 0 {
		node.AddCondition(Cond(field, ConditionIsNull, nil))
	}
	return node
}

// LatestForItems runs the batched "latest for all" query: one query grouped
// internally by project, results bucketed by identity key, newest first.
func (self *SyncManager) LatestForItems(ctx context.Context, items []*FileItem, extraFields []string) (map[IdentityKey][]Record, error) {
	correlated := []*FileItem{}
	for _, item := range items {
		if item.Record != nil {
			correlated = append(correlated, item)
		}
	}
	if len(correlated) == 0 {
		return map[IdentityKey][]Record{}, nil
	}

	query := &RecordQuery{
		Filters:            self.latestFilters(correlated),
		Fields:             self.RecordFields(extraFields),
		OrderDescByVersion: true,
	}
	records, err := self.repo.FindRecords(ctx, query)
	if err != nil {
		return nil, err
	}

	recordsByIdentity := map[IdentityKey][]Record{}
	for _, record := range records {
		key := identityKeyForRecord(record)
		recordsByIdentity[key] = append(recordsByIdentity[key], record)
	}
	for _, identityRecords := range recordsByIdentity {
		slices.SortStableFunc(identityRecords, func(a Record, b Record) int {
			aVersion, _ := a.Version()
			bVersion, _ := b.Version()
			return cmp.Compare(bVersion, aVersion)
		})
	}
	glog.V(1).Infof("[mgr]latest for %d items -> %d identities\n", len(correlated), len(recordsByIdentity))
	return recordsByIdentity, nil
}

func (self *SyncManager) LatestForItemsAsync(runner *RequestRunner, items []*FileItem, extraFields []string, callback ResultCallback[map[IdentityKey][]Record]) Id {
	return runner.Run(func(ctx context.Context, requestId Id) {
		recordsByIdentity, err := self.LatestForItems(ctx, items, extraFields)
		callback.Result(recordsByIdentity, err)
	})
}

// LatestFor fetches the newest record for one item's identity and updates
// `item.LatestRecord` on success.
func (self *SyncManager) LatestFor(ctx context.Context, item *FileItem) (Record, error) {
	recordsByIdentity, err := self.LatestForItems(ctx, []*FileItem{item}, nil)
	if err != nil {
		return nil, err
	}
	identityRecords := recordsByIdentity[item.IdentityKey()]
	if len(identityRecords) == 0 {
		return nil, nil
	}
	item.LatestRecord = identityRecords[0]
	return identityRecords[0], nil
}

func (self *SyncManager) LatestForAsync(runner *RequestRunner, item *FileItem, callback ResultCallback[Record]) Id {
	return runner.Run(func(ctx context.Context, requestId Id) {
		record, err := self.LatestFor(ctx, item)
		callback.Result(record, err)
	})
}

// HistoryFor fetches every record for one item's identity, newest first, and
// updates `item.LatestRecord` to the head as a side effect.
func (self *SyncManager) HistoryFor(ctx context.Context, item *FileItem, extraFields []string) ([]Record, error) {
	if item.Record == nil {
		return []Record{}, nil
	}

	node := And()
	if project, ok := item.Record.Project(); ok {
		node.AddCondition(Cond("project", ConditionIs, project))
	}
	node.AddCondition(Cond("name", ConditionIn, []string{item.Record.Name()}))
	if recordType, ok := item.Record.RecordType(); ok {
		node.AddCondition(Cond("published_file_type", ConditionIn, []EntityRef{recordType}))
	}
	if entity, ok := item.Record.Entity(); ok {
		node.AddCondition(Cond("entity", ConditionIn, []EntityRef{entity}))
	} else {
		node.AddCondition(Cond("entity", ConditionIsNull, nil))
	}
	if task, ok := item.Record.Task(); ok {
		node.AddCondition(Cond("task", ConditionIn, []EntityRef{task}))
	} else {
		node.AddCondition(Cond("task", ConditionIsNull, nil))
	}
	for _, condition := range self.settings.HistoryFilters {
		node.AddCondition(condition)
	}

	query := &RecordQuery{
		Filters:            node,
		Fields:             self.RecordFields(extraFields),
		OrderDescByVersion: true,
	}
	records, err := self.repo.FindRecords(ctx, query)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(records, func(a Record, b Record) int {
		aVersion, _ := a.Version()
		bVersion, _ := b.Version()
		return cmp.Compare(bVersion, aVersion)
	})
	if 0 < len(records) {
		item.LatestRecord = records[0]
	}
	return records, nil
}

func (self *SyncManager) HistoryForAsync(runner *RequestRunner, item *FileItem, extraFields []string, callback ResultCallback[[]Record]) Id {
	return runner.Run(func(ctx context.Context, requestId Id) {
		records, err := self.HistoryFor(ctx, item, extraFields)
		callback.Result(records, err)
	})
}

func updateDescriptor(item *FileItem, newPath string) *NodeDescriptor {
	extraData := maps.Clone(item.ExtraData)
	if extraData == nil {
		extraData = map[string]any{}
	}
	extraData[extraDataOldPath] = item.Path
	return &NodeDescriptor{
		NodeName:  item.NodeName,
		NodeType:  item.NodeType,
		Path:      newPath,
		ExtraData: extraData,
	}
}

func applyUpdate(item *FileItem, target Record, descriptor *NodeDescriptor) {
	item.ExtraData = descriptor.ExtraData
	item.Path = descriptor.Path
	item.Record = target
}

// UpdateItem repoints one item to `target`. A target with no resolvable local
// path performs no mutation. Synchronous, owner goroutine only.
func (self *SyncManager) UpdateItem(item *FileItem, target Record) bool {
	newPath := target.LocalPath()
	if newPath == "" {
		glog.V(1).Infof("[mgr]update %s rejected, target has no local path\n", item.NodeName)
		return false
	}

	descriptor := updateDescriptor(item, newPath)
	updated, err := self.scene.Update(descriptor)
	if err != nil {
		glog.Infof("[mgr]update %s error = %s\n", item.NodeName, err)
		return false
	}
	// no explicit answer from the channel means applied
	if updated != nil && !*updated {
		return false
	}

	applyUpdate(item, target, descriptor)
	return true
}

// UpdateItems updates each item to its latest record, in one batched channel
// call when the channel supports it, otherwise per item. Returns the items
// that were mutated. Synchronous, owner goroutine only.
func (self *SyncManager) UpdateItems(items []*FileItem) []*FileItem {
	eligible := []*FileItem{}
	targets := map[*FileItem]Record{}
	for _, item := range items {
		if item.LatestRecord == nil {
			continue
		}
		if item.LatestRecord.LocalPath() == "" {
			glog.V(1).Infof("[mgr]update %s skipped, latest has no local path\n", item.NodeName)
			continue
		}
		eligible = append(eligible, item)
		targets[item] = item.LatestRecord
	}
	if len(eligible) == 0 {
		return []*FileItem{}
	}

	batchUpdater, ok := self.scene.(SceneBatchUpdater)
	if !ok {
		updated := []*FileItem{}
		for _, item := range eligible {
			if self.UpdateItem(item, targets[item]) {
				updated = append(updated, item)
			}
		}
		return updated
	}

	descriptors := make([]*NodeDescriptor, len(eligible))
	for i, item := range eligible {
		descriptors[i] = updateDescriptor(item, targets[item].LocalPath())
	}
	confirmed, err := batchUpdater.UpdateBatch(descriptors)
	if err != nil {
		glog.Infof("[mgr]batch update error = %s\n", err)
		return []*FileItem{}
	}
	// nil confirmation means the channel applied all of them
	if confirmed == nil {
		confirmed = descriptors
	}

	confirmedNodes := map[string]bool{}
	for _, descriptor := range confirmed {
		confirmedNodes[descriptor.NodeName+"\x00"+descriptor.NodeType] = true
	}

	updated := []*FileItem{}
	for i, item := range eligible {
		if !confirmedNodes[item.NodeName+"\x00"+item.NodeType] {
			continue
		}
		applyUpdate(item, targets[item], descriptors[i])
		updated = append(updated, item)
	}
	glog.V(1).Infof("[mgr]batch update %d/%d items\n", len(updated), len(eligible))
	return updated
}
