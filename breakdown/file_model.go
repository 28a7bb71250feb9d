package breakdown

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type FileModelState string

const (
	FileModelStateEmpty      FileModelState = "empty"
	FileModelStateReloading  FileModelState = "reloading"
	FileModelStatePopulated  FileModelState = "populated"
	FileModelStateRefreshing FileModelState = "refreshing"
)

type ReloadBeginFunction = func()

// itemCount is the number of items after the reload, 0 on abort
type ReloadEndFunction = func(itemCount int)

// oldItem is a pre-change snapshot, newItem the live item
type ItemChangeFunction = func(oldItem *FileItem, newItem *FileItem)

type GroupFunction = func(groupId string)

// ThumbnailFetcher resolves a record's thumbnail to a local file path.
type ThumbnailFetcher interface {
	Fetch(ctx context.Context, record Record) (string, error)
}

type FileModelSettings struct {
	// record field items are grouped by initially
	GroupBy string
	// poll interval for the periodic latest check. <= 0 disables the timer
	// entirely.
	PollInterval time.Duration
	// fields fetched in addition to the manager's fields
	ExtraFields []string
	// nil disables thumbnail fetching
	ThumbnailFetcher ThumbnailFetcher
}

func DefaultFileModelSettings() *FileModelSettings {
	return &FileModelSettings{
		GroupBy:      "project",
		PollInterval: 30 * time.Second,
		ExtraFields:  []string{},
	}
}

// FileGroup is one display group of items sharing a grouping key.
type FileGroup struct {
	GroupId string
	Display string

	items []*FileItem
}

func (self *FileGroup) Items() []*FileItem {
	return slices.Clone(self.items)
}

func (self *FileGroup) ItemCount() int {
	return len(self.items)
}

func (self *FileGroup) Status() Status {
	statuses := make([]Status, len(self.items))
	for i, item := range self.items {
		statuses[i] = ItemStatus(item)
	}
	return GroupStatus(statuses)
}

type itemChange struct {
	oldItem *FileItem
	newItem *FileItem
}

// FileModel is the grouped, asynchronously synchronized view of the scene's
// file references.
//
// The model owns its items exclusively. All structural mutation is serialized
// by `stateLock` and driven by the goroutine that owns the scene document;
// background requests never touch model state directly, their completions
// re-enter through the state lock and are dropped when the generation moved
// on. Callbacks always fire after the structural mutation completed, outside
// the lock.
type FileModel struct {
	ctx    context.Context
	cancel context.CancelFunc

	manager  *SyncManager
	settings *FileModelSettings

	runner *RequestRunner

	stateLock sync.Mutex

	state FileModelState
	// bumped on every clear. Completions carrying an older generation are
	// stale and dropped.
	generation uint64

	groupBy string

	sceneObjects []*SceneObject
	items        []*FileItem
	itemsByPath  map[string]*FileItem

	groupOrder []string
	groups     map[string]*FileGroup
	// path -> group id handle
	itemGroups map[string]string

	// pending request tables
	pendingCorrelate  *Id
	pendingLatestAll  *Id
	latestRequests    map[string]Id
	thumbnailRequests map[string]Id

	pollEnabled bool

	reloadBeginCallbacks *CallbackList[ReloadBeginFunction]
	reloadEndCallbacks   *CallbackList[ReloadEndFunction]
	itemChangeCallbacks  *CallbackList[ItemChangeFunction]
	groupAddCallbacks    *CallbackList[GroupFunction]
	groupRemoveCallbacks *CallbackList[GroupFunction]
}

func NewFileModelWithDefaults(ctx context.Context, manager *SyncManager) *FileModel {
	return NewFileModel(ctx, manager, DefaultFileModelSettings())
}

func NewFileModel(ctx context.Context, manager *SyncManager, settings *FileModelSettings) *FileModel {
	cancelCtx, cancel := context.WithCancel(ctx)

	fileModel := &FileModel{
		ctx:      cancelCtx,
		cancel:   cancel,
		manager:  manager,
		settings: settings,
		runner:   NewRequestRunner(cancelCtx),

		state:   FileModelStateEmpty,
		groupBy: settings.GroupBy,

		sceneObjects: []*SceneObject{},
		items:        []*FileItem{},
		itemsByPath:  map[string]*FileItem{},
		groupOrder:   []string{},
		groups:       map[string]*FileGroup{},
		itemGroups:   map[string]string{},

		latestRequests:    map[string]Id{},
		thumbnailRequests: map[string]Id{},

		reloadBeginCallbacks: NewCallbackList[ReloadBeginFunction](),
		reloadEndCallbacks:   NewCallbackList[ReloadEndFunction](),
		itemChangeCallbacks:  NewCallbackList[ItemChangeFunction](),
		groupAddCallbacks:    NewCallbackList[GroupFunction](),
		groupRemoveCallbacks: NewCallbackList[GroupFunction](),
	}

	if 0 < settings.PollInterval {
		go fileModel.poll()
	}

	return fileModel
}

// callback registration. Each add returns the unsubscribe function.

func (self *FileModel) AddReloadBeginCallback(callback ReloadBeginFunction) func() {
	callbackId := self.reloadBeginCallbacks.Add(callback)
	return func() {
		self.reloadBeginCallbacks.Remove(callbackId)
	}
}

func (self *FileModel) AddReloadEndCallback(callback ReloadEndFunction) func() {
	callbackId := self.reloadEndCallbacks.Add(callback)
	return func() {
		self.reloadEndCallbacks.Remove(callbackId)
	}
}

func (self *FileModel) AddItemChangeCallback(callback ItemChangeFunction) func() {
	callbackId := self.itemChangeCallbacks.Add(callback)
	return func() {
		self.itemChangeCallbacks.Remove(callbackId)
	}
}

func (self *FileModel) AddGroupAddCallback(callback GroupFunction) func() {
	callbackId := self.groupAddCallbacks.Add(callback)
	return func() {
		self.groupAddCallbacks.Remove(callbackId)
	}
}

func (self *FileModel) AddGroupRemoveCallback(callback GroupFunction) func() {
	callbackId := self.groupRemoveCallbacks.Add(callback)
	return func() {
		self.groupRemoveCallbacks.Remove(callbackId)
	}
}

// fire one observer, recovering a panic so a bad observer cannot wedge the
// model
func fireCallback(tag string, callback func()) {
	defer func() {
		if r := recover(); r != nil {
			glog.Infof("%scallback panic = %v\n", tag, r)
		}
	}()
	callback()
}

func (self *FileModel) fireReloadBegin() {
	for _, callback := range self.reloadBeginCallbacks.Get() {
		func(callback ReloadBeginFunction) {
			fireCallback("[model]", func() {
				callback()
			})
		}(callback)
	}
}

func (self *FileModel) fireReloadEnd(itemCount int) {
	for _, callback := range self.reloadEndCallbacks.Get() {
		func(callback ReloadEndFunction) {
			fireCallback("[model]", func() {
				callback(itemCount)
			})
		}(callback)
	}
}

func (self *FileModel) fireItemChanges(changes []itemChange) {
	if len(changes) == 0 {
		return
	}
	callbacks := self.itemChangeCallbacks.Get()
	for _, change := range changes {
		for _, callback := range callbacks {
			func(callback ItemChangeFunction, change itemChange) {
				fireCallback("[model]", func() {
					callback(change.oldItem, change.newItem)
				})
			}(callback, change)
		}
	}
}

func (self *FileModel) fireGroupEvents(removedGroupIds []string, addedGroupIds []string) {
	removeCallbacks := self.groupRemoveCallbacks.Get()
	for _, groupId := range removedGroupIds {
		for _, callback := range removeCallbacks {
			func(callback GroupFunction, groupId string) {
				fireCallback("[model]", func() {
					callback(groupId)
				})
			}(callback, groupId)
		}
	}
	addCallbacks := self.groupAddCallbacks.Get()
	for _, groupId := range addedGroupIds {
		for _, callback := range addCallbacks {
			func(callback GroupFunction, groupId string) {
				fireCallback("[model]", func() {
					callback(groupId)
				})
			}(callback, groupId)
		}
	}
}

// accessors

func (self *FileModel) State() FileModelState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.state
}

func (self *FileModel) IsLoading() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.state == FileModelStateReloading || self.pendingCorrelate != nil || self.pendingLatestAll != nil
}

func (self *FileModel) ItemCount() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return len(self.items)
}

func (self *FileModel) FileItems() []*FileItem {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return slices.Clone(self.items)
}

// ItemFromPath finds the item referencing `path`, falling back to the
// recorded pre-update path so callers racing an in-flight update still find
// their item.
func (self *FileModel) ItemFromPath(path string) *FileItem {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.itemFromPathLocked(path)
}

func (self *FileModel) itemFromPathLocked(path string) *FileItem {
	if item, ok := self.itemsByPath[path]; ok {
		return item
	}
	for _, item := range self.items {
		if item.OldPath() == path {
			return item
		}
	}
	return nil
}

func (self *FileModel) GroupIds() []string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return slices.Clone(self.groupOrder)
}

func (self *FileModel) Groups() []*FileGroup {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	groups := make([]*FileGroup, len(self.groupOrder))
	for i, groupId := range self.groupOrder {
		group := self.groups[groupId]
		groups[i] = &FileGroup{
			GroupId: group.GroupId,
			Display: group.Display,
			items:   slices.Clone(group.items),
		}
	}
	return groups
}

func (self *FileModel) GroupForItem(path string) (string, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	groupId, ok := self.itemGroups[path]
	return groupId, ok
}

func (self *FileModel) GroupBy() string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.groupBy
}

// GroupByFields lists the record fields present on the current items, the
// candidate grouping fields.
func (self *FileModel) GroupByFields() []string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	fieldSet := map[string]bool{}
	for _, item := range self.items {
		for field := range item.Record {
			fieldSet[field] = true
		}
	}
	fields := maps.Keys(fieldSet)
	slices.Sort(fields)
	return fields
}

// reload

// Reload rebuilds the model from a fresh scene scan. The scan runs
// synchronously on the calling goroutine; correlation, latest lookup and
// thumbnails complete in the background. Rejected while a reload is already
// in progress.
func (self *FileModel) Reload() {
	self.stateLock.Lock()
	if self.state == FileModelStateReloading {
		self.stateLock.Unlock()
		glog.V(1).Infof("[model]reload rejected, already reloading\n")
		return
	}
	self.clearLocked()
	self.state = FileModelStateReloading
	generation := self.generation
	self.stateLock.Unlock()

	glog.V(1).Infof("[model]reload begin\n")
	self.fireReloadBegin()

	sceneObjects, err := self.manager.GetSceneObjects()
	if err != nil {
		glog.Infof("[model]reload scan error = %s\n", err)
		self.abortReload(generation)
		return
	}
	if len(sceneObjects) == 0 {
		// nothing to correlate, complete synchronously
		self.stateLock.Lock()
		if generation == self.generation {
			self.state = FileModelStatePopulated
		}
		self.stateLock.Unlock()
		glog.V(1).Infof("[model]reload end, empty scene\n")
		self.fireReloadEnd(0)
		return
	}

	paths := make([]string, len(sceneObjects))
	for i, sceneObject := range sceneObjects {
		paths[i] = sceneObject.Path
	}

	self.stateLock.Lock()
	if generation != self.generation {
		self.stateLock.Unlock()
		return
	}
	self.sceneObjects = sceneObjects
	callback := NewResultCallback[map[string]Record](func(recordsByPath map[string]Record, err error) {
		self.correlateDone(generation, recordsByPath, err)
	})
	requestId := self.manager.CorrelatePathsAsync(self.runner, paths, self.settings.ExtraFields, callback)
	self.pendingCorrelate = &requestId
	self.stateLock.Unlock()
}

func (self *FileModel) abortReload(generation uint64) {
	self.stateLock.Lock()
	if generation != self.generation {
		self.stateLock.Unlock()
		return
	}
	self.resetDataLocked()
	self.pendingCorrelate = nil
	self.state = FileModelStateEmpty
	self.stateLock.Unlock()

	// observers must not be left waiting
	self.fireReloadEnd(0)
}

func (self *FileModel) correlateDone(generation uint64, recordsByPath map[string]Record, err error) {
	self.stateLock.Lock()
	if generation != self.generation {
		self.stateLock.Unlock()
		glog.V(2).Infof("[model]drop stale correlate completion\n")
		return
	}
	self.pendingCorrelate = nil
	if err != nil {
		self.stateLock.Unlock()
		glog.Infof("[model]reload correlate error = %s\n", err)
		self.abortReload(generation)
		return
	}

	items := self.manager.FileItems(self.sceneObjects, recordsByPath)
	self.items = items
	self.rebuildIndexLocked()
	self.rebuildGroupsLocked()

	self.issueLatestAllLocked(generation)
	for _, item := range items {
		self.requestThumbnailLocked(generation, item)
	}
	self.stateLock.Unlock()
}

func (self *FileModel) issueLatestAllLocked(generation uint64) {
	// snapshot so the background query never reads live item state
	snapshots := make([]*FileItem, len(self.items))
	for i, item := range self.items {
		snapshots[i] = item.Snapshot()
	}
	callback := NewResultCallback[map[IdentityKey][]Record](func(recordsByIdentity map[IdentityKey][]Record, err error) {
		self.latestAllDone(generation, recordsByIdentity, err)
	})
	requestId := self.manager.LatestForItemsAsync(self.runner, snapshots, self.settings.ExtraFields, callback)
	self.pendingLatestAll = &requestId
}

func (self *FileModel) latestAllDone(generation uint64, recordsByIdentity map[IdentityKey][]Record, err error) {
	changes := []itemChange{}
	reloadFinished := false
	itemCount := 0

	self.stateLock.Lock()
	if generation != self.generation {
		self.stateLock.Unlock()
		glog.V(2).Infof("[model]drop stale latest completion\n")
		return
	}
	self.pendingLatestAll = nil
	if err != nil {
		// items keep their previous latest records
		glog.Infof("[model]latest error = %s\n", err)
	} else {
		changes = self.applyLatestLocked(recordsByIdentity)
	}
	if self.state == FileModelStateReloading {
		self.state = FileModelStatePopulated
		reloadFinished = true
		itemCount = len(self.items)
	}
	self.stateLock.Unlock()

	if reloadFinished {
		glog.V(1).Infof("[model]reload end, %d items\n", itemCount)
		self.fireReloadEnd(itemCount)
	} else {
		self.fireItemChanges(changes)
	}
}

func (self *FileModel) applyLatestLocked(recordsByIdentity map[IdentityKey][]Record) []itemChange {
	changes := []itemChange{}
	for _, item := range self.items {
		identityRecords := recordsByIdentity[item.IdentityKey()]
		if len(identityRecords) == 0 {
			continue
		}
		latest := identityRecords[0]
		if item.LatestRecord != nil && item.LatestRecord.RecordId() == latest.RecordId() {
			continue
		}
		oldItem := item.Snapshot()
		item.LatestRecord = latest
		changes = append(changes, itemChange{
			oldItem: oldItem,
			newItem: item,
		})
	}
	return changes
}

// refresh / regroup

// Refresh rebuilds group membership from the current items without touching
// the scene or the repository. Rejected unless the model is populated.
func (self *FileModel) Refresh() {
	self.stateLock.Lock()
	if self.state != FileModelStatePopulated {
		self.stateLock.Unlock()
		glog.V(1).Infof("[model]refresh rejected in state %s\n", self.state)
		return
	}
	self.state = FileModelStateRefreshing
	addedGroupIds, removedGroupIds := self.rebuildGroupsLocked()
	self.state = FileModelStatePopulated
	self.stateLock.Unlock()

	self.fireGroupEvents(removedGroupIds, addedGroupIds)
}

func (self *FileModel) SetGroupBy(field string) {
	self.stateLock.Lock()
	if self.groupBy == field {
		self.stateLock.Unlock()
		return
	}
	self.groupBy = field
	self.stateLock.Unlock()

	self.Refresh()
}

func (self *FileModel) rebuildIndexLocked() {
	self.itemsByPath = map[string]*FileItem{}
	for _, item := range self.items {
		self.itemsByPath[item.Path] = item
	}
}

func (self *FileModel) rebuildGroupsLocked() (addedGroupIds []string, removedGroupIds []string) {
	previousGroups := self.groups

	self.groupOrder = []string{}
	self.groups = map[string]*FileGroup{}
	self.itemGroups = map[string]string{}

	for _, item := range self.items {
		groupId, display := item.Record.GroupValue(self.groupBy)
		group, ok := self.groups[groupId]
		if !ok {
			group = &FileGroup{
				GroupId: groupId,
				Display: display,
			}
			self.groups[groupId] = group
			self.groupOrder = append(self.groupOrder, groupId)
		}
		group.items = append(group.items, item)
		self.itemGroups[item.Path] = groupId
	}

	for groupId := range self.groups {
		if _, ok := previousGroups[groupId]; !ok {
			addedGroupIds = append(addedGroupIds, groupId)
		}
	}
	for groupId := range previousGroups {
		if _, ok := self.groups[groupId]; !ok {
			removedGroupIds = append(removedGroupIds, groupId)
		}
	}
	return addedGroupIds, removedGroupIds
}

// incremental item updates

// ItemUpdated relocates `item` after its record changed, moving it between
// groups when the grouping key changed and pruning an emptied group.
// `oldItem` is the pre-change snapshot. Calling this for an item the model
// does not own is a programming error.
func (self *FileModel) ItemUpdated(oldItem *FileItem, item *FileItem) {
	addedGroupIds := []string{}
	removedGroupIds := []string{}

	self.stateLock.Lock()
	if self.itemsByPath[oldItem.Path] != item && self.itemsByPath[item.Path] != item {
		self.stateLock.Unlock()
		panic(fmt.Sprintf("Item %s is not in the model.", item.NodeName))
	}

	if oldItem.Path != item.Path {
		delete(self.itemsByPath, oldItem.Path)
		self.itemsByPath[item.Path] = item

		for i, sceneObject := range self.sceneObjects {
			if sceneObject.Path == oldItem.Path {
				self.sceneObjects[i].Path = item.Path
				break
			}
		}
	}

	currentGroupId, ok := self.itemGroups[oldItem.Path]
	if !ok {
		currentGroupId = self.itemGroups[item.Path]
	}
	delete(self.itemGroups, oldItem.Path)

	newGroupId, display := item.Record.GroupValue(self.groupBy)
	if newGroupId != currentGroupId {
		if removed := self.removeFromGroupLocked(currentGroupId, item); removed {
			removedGroupIds = append(removedGroupIds, currentGroupId)
		}
		if added := self.addToGroupLocked(newGroupId, display, item); added {
			addedGroupIds = append(addedGroupIds, newGroupId)
		}
	}
	self.itemGroups[item.Path] = newGroupId
	self.stateLock.Unlock()

	self.fireGroupEvents(removedGroupIds, addedGroupIds)
	self.fireItemChanges([]itemChange{{
		oldItem: oldItem,
		newItem: item,
	}})
}

// returns true if the group was pruned
func (self *FileModel) removeFromGroupLocked(groupId string, item *FileItem) bool {
	group, ok := self.groups[groupId]
	if !ok {
		return false
	}
	for i := range group.items {
		if group.items[i] == item {
			group.items = append(group.items[:i], group.items[i+1:]...)
			break
		}
	}
	if len(group.items) == 0 {
		delete(self.groups, groupId)
		if i := slices.Index(self.groupOrder, groupId); 0 <= i {
			self.groupOrder = append(self.groupOrder[:i], self.groupOrder[i+1:]...)
		}
		return true
	}
	return false
}

// returns true if the group was created
func (self *FileModel) addToGroupLocked(groupId string, display string, item *FileItem) bool {
	group, ok := self.groups[groupId]
	if !ok {
		group = &FileGroup{
			GroupId: groupId,
			Display: display,
		}
		self.groups[groupId] = group
		self.groupOrder = append(self.groupOrder, groupId)
		group.items = append(group.items, item)
		return true
	}
	group.items = append(group.items, item)
	return false
}

// AddItem correlates exactly one new scene reference and inserts it. Returns
// nil when the path has no repository record. Rejected while reloading.
func (self *FileModel) AddItem(sceneObject *SceneObject) (*FileItem, error) {
	self.stateLock.Lock()
	if self.state == FileModelStateReloading {
		self.stateLock.Unlock()
		return nil, fmt.Errorf("Cannot add an item while reloading.")
	}
	generation := self.generation
	self.stateLock.Unlock()

	recordsByPath, err := self.manager.CorrelatePaths(self.ctx, []string{sceneObject.Path}, self.settings.ExtraFields)
	if err != nil {
		return nil, err
	}
	record, ok := recordsByPath[sceneObject.Path]
	if !ok {
		glog.V(1).Infof("[model]add item %s has no record\n", sceneObject.Path)
		return nil, nil
	}

	item := newFileItemFromSceneObject(sceneObject, record)

	addedGroupIds := []string{}

	self.stateLock.Lock()
	if generation != self.generation {
		self.stateLock.Unlock()
		return nil, fmt.Errorf("Model was cleared while adding.")
	}
	if existing, ok := self.itemsByPath[item.Path]; ok {
		self.stateLock.Unlock()
		return existing, nil
	}
	self.sceneObjects = append(self.sceneObjects, sceneObject)
	self.items = append(self.items, item)
	self.itemsByPath[item.Path] = item
	groupId, display := item.Record.GroupValue(self.groupBy)
	if added := self.addToGroupLocked(groupId, display, item); added {
		addedGroupIds = append(addedGroupIds, groupId)
	}
	self.itemGroups[item.Path] = groupId

	self.requestLatestLocked(generation, item)
	self.requestThumbnailLocked(generation, item)
	self.stateLock.Unlock()

	self.fireGroupEvents(nil, addedGroupIds)
	return item, nil
}

// RemoveItemByPath removes the item referencing `path`, matching the recorded
// pre-update path as a fallback, and prunes its group if emptied.
func (self *FileModel) RemoveItemByPath(path string) bool {
	removedGroupIds := []string{}

	self.stateLock.Lock()
	item := self.itemFromPathLocked(path)
	if item == nil {
		self.stateLock.Unlock()
		return false
	}

	if i := slices.Index(self.items, item); 0 <= i {
		self.items = append(self.items[:i], self.items[i+1:]...)
	}
	delete(self.itemsByPath, item.Path)
	for i, sceneObject := range self.sceneObjects {
		if sceneObject.Path == item.Path || sceneObject.Path == path {
			self.sceneObjects = append(self.sceneObjects[:i], self.sceneObjects[i+1:]...)
			break
		}
	}

	groupId := self.itemGroups[item.Path]
	delete(self.itemGroups, item.Path)
	if removed := self.removeFromGroupLocked(groupId, item); removed {
		removedGroupIds = append(removedGroupIds, groupId)
	}
	self.stateLock.Unlock()

	glog.V(1).Infof("[model]removed item %s\n", path)
	self.fireGroupEvents(removedGroupIds, nil)
	return true
}

// per item background requests

// RequestLatest issues a background latest lookup for one item, deduplicated
// by path. Returns false when one is already outstanding.
func (self *FileModel) RequestLatest(item *FileItem) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.requestLatestLocked(self.generation, item)
}

func (self *FileModel) requestLatestLocked(generation uint64, item *FileItem) bool {
	if _, ok := self.latestRequests[item.Path]; ok {
		return false
	}
	path := item.Path
	snapshot := item.Snapshot()
	callback := NewResultCallback[map[IdentityKey][]Record](func(recordsByIdentity map[IdentityKey][]Record, err error) {
		self.latestDone(generation, path, recordsByIdentity, err)
	})
	requestId := self.manager.LatestForItemsAsync(self.runner, []*FileItem{snapshot}, self.settings.ExtraFields, callback)
	self.latestRequests[path] = requestId
	return true
}

func (self *FileModel) latestDone(generation uint64, path string, recordsByIdentity map[IdentityKey][]Record, err error) {
	changes := []itemChange{}

	self.stateLock.Lock()
	if generation != self.generation {
		self.stateLock.Unlock()
		return
	}
	delete(self.latestRequests, path)
	if err != nil {
		self.stateLock.Unlock()
		// dropped, the item keeps its previous latest record
		glog.V(1).Infof("[model]latest for %s error = %s\n", path, err)
		return
	}
	item := self.itemsByPath[path]
	if item == nil {
		self.stateLock.Unlock()
		return
	}
	identityRecords := recordsByIdentity[item.IdentityKey()]
	if 0 < len(identityRecords) {
		latest := identityRecords[0]
		if item.LatestRecord == nil || item.LatestRecord.RecordId() != latest.RecordId() {
			oldItem := item.Snapshot()
			item.LatestRecord = latest
			changes = append(changes, itemChange{
				oldItem: oldItem,
				newItem: item,
			})
		}
	}
	fire := self.state != FileModelStateReloading
	self.stateLock.Unlock()

	if fire {
		self.fireItemChanges(changes)
	}
}

func (self *FileModel) requestThumbnailLocked(generation uint64, item *FileItem) bool {
	if self.settings.ThumbnailFetcher == nil {
		return false
	}
	if item.Record.ThumbnailUrl() == "" {
		return false
	}
	if _, ok := self.thumbnailRequests[item.Path]; ok {
		return false
	}
	path := item.Path
	record := item.Record.Clone()
	requestId := self.runner.Run(func(ctx context.Context, requestId Id) {
		thumbnailPath, err := self.settings.ThumbnailFetcher.Fetch(ctx, record)
		self.thumbnailDone(generation, path, thumbnailPath, err)
	})
	self.thumbnailRequests[path] = requestId
	return true
}

func (self *FileModel) thumbnailDone(generation uint64, path string, thumbnailPath string, err error) {
	changes := []itemChange{}

	self.stateLock.Lock()
	if generation != self.generation {
		self.stateLock.Unlock()
		return
	}
	delete(self.thumbnailRequests, path)
	if err != nil {
		self.stateLock.Unlock()
		// dropped
		glog.V(1).Infof("[thumb]fetch for %s error = %s\n", path, err)
		return
	}
	item := self.itemsByPath[path]
	if item == nil || item.ThumbnailPath == thumbnailPath {
		self.stateLock.Unlock()
		return
	}
	oldItem := item.Snapshot()
	item.ThumbnailPath = thumbnailPath
	changes = append(changes, itemChange{
		oldItem: oldItem,
		newItem: item,
	})
	fire := self.state != FileModelStateReloading
	self.stateLock.Unlock()

	if fire {
		self.fireItemChanges(changes)
	}
}

// polling

func (self *FileModel) SetPollingEnabled(pollEnabled bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.pollEnabled = pollEnabled
}

func (self *FileModel) PollingEnabled() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.pollEnabled
}

func (self *FileModel) poll() {
	ticker := time.NewTicker(self.settings.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-self.ctx.Done():
			return
		case <-ticker.C:
			if self.PollingEnabled() {
				self.CheckLatest()
			}
		}
	}
}

// CheckLatest re-issues the batched latest lookup for all items. At most one
// is in flight: the check is skipped while reloading or while one is already
// pending.
func (self *FileModel) CheckLatest() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.state != FileModelStatePopulated {
		return false
	}
	if self.pendingCorrelate != nil || self.pendingLatestAll != nil {
		glog.V(2).Infof("[model]latest check skipped, request pending\n")
		return false
	}
	if len(self.items) == 0 {
		return false
	}
	self.issueLatestAllLocked(self.generation)
	return true
}

// teardown

// cancels pending requests and invalidates their completions
func (self *FileModel) clearLocked() {
	self.generation += 1

	if self.pendingCorrelate != nil {
		self.runner.Cancel(*self.pendingCorrelate)
		self.pendingCorrelate = nil
	}
	if self.pendingLatestAll != nil {
		self.runner.Cancel(*self.pendingLatestAll)
		self.pendingLatestAll = nil
	}
	for _, requestId := range self.latestRequests {
		self.runner.Cancel(requestId)
	}
	for _, requestId := range self.thumbnailRequests {
		self.runner.Cancel(requestId)
	}
	self.latestRequests = map[string]Id{}
	self.thumbnailRequests = map[string]Id{}

	self.resetDataLocked()
}

func (self *FileModel) resetDataLocked() {
	self.sceneObjects = []*SceneObject{}
	self.items = []*FileItem{}
	self.itemsByPath = map[string]*FileItem{}
	self.groupOrder = []string{}
	self.groups = map[string]*FileGroup{}
	self.itemGroups = map[string]string{}
}

func (self *FileModel) Clear() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.clearLocked()
	self.state = FileModelStateEmpty
}

// Destroy clears the model and stops the poll goroutine and every background
// request.
func (self *FileModel) Destroy() {
	self.Clear()
	self.cancel()
}
