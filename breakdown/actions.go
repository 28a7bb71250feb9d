package breakdown

import (
	"github.com/golang/glog"
)

// ItemUpdate pairs a mutated item with its pre-update snapshot so index
// layers can relocate the item by its previous identity.
type ItemUpdate struct {
	OldItem *FileItem
	Item    *FileItem
}

// ActionExecutor runs the user facing update actions against the manager and
// pushes the resulting changes back into the model. Synchronous, owner
// goroutine only (updates go through the scene channel).
type ActionExecutor struct {
	manager *SyncManager
	model   *FileModel
}

func NewActionExecutor(manager *SyncManager, model *FileModel) *ActionExecutor {
	return &ActionExecutor{
		manager: manager,
		model:   model,
	}
}

// UpdateToLatest updates every item to its latest record, batched when the
// scene channel supports it. Returns the updates that were applied. Empty
// input returns empty.
func (self *ActionExecutor) UpdateToLatest(items []*FileItem) []*ItemUpdate {
	if len(items) == 0 {
		return []*ItemUpdate{}
	}

	snapshots := map[*FileItem]*FileItem{}
	for _, item := range items {
		snapshots[item] = item.Snapshot()
	}

	updatedItems := self.manager.UpdateItems(items)

	updates := make([]*ItemUpdate, 0, len(updatedItems))
	for _, item := range updatedItems {
		oldItem := snapshots[item]
		self.model.ItemUpdated(oldItem, item)
		updates = append(updates, &ItemUpdate{
			OldItem: oldItem,
			Item:    item,
		})
	}
	glog.V(1).Infof("[model]update to latest, %d/%d items\n", len(updates), len(items))
	return updates
}

// UpdateToVersion updates one item to an explicit target record. Returns nil
// when no update was performed.
func (self *ActionExecutor) UpdateToVersion(item *FileItem, target Record) *ItemUpdate {
	oldItem := item.Snapshot()
	if !self.manager.UpdateItem(item, target) {
		return nil
	}
	self.model.ItemUpdated(oldItem, item)
	return &ItemUpdate{
		OldItem: oldItem,
		Item:    item,
	}
}
