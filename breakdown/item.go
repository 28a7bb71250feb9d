package breakdown

import (
	"golang.org/x/exp/maps"
)

// extra data key recording the path an item had before its last update
const extraDataOldPath = "old_path"

// IdentityKey identifies the lineage a record version belongs to. Two records
// with the same identity key are versions of the same logical file.
type IdentityKey struct {
	Entity     string
	Task       string
	RecordType string
	Name       string
}

// FileItem is one file reference in the scene, correlated to a repository
// record. `Path` and `ExtraData` mutate when the reference is updated to
// another version. `LatestRecord` is the newest known record for the item's
// identity, nil until a latest query completes.
type FileItem struct {
	NodeName  string
	NodeType  string
	Path      string
	ExtraData map[string]any

	Record       Record
	LatestRecord Record

	Locked bool

	ThumbnailPath string
}

func NewFileItem(nodeName string, nodeType string, path string) *FileItem {
	return &FileItem{
		NodeName:  nodeName,
		NodeType:  nodeType,
		Path:      path,
		ExtraData: map[string]any{},
	}
}

func newFileItemFromSceneObject(sceneObject *SceneObject, record Record) *FileItem {
	item := NewFileItem(sceneObject.NodeName, sceneObject.NodeType, sceneObject.Path)
	if sceneObject.ExtraData != nil {
		item.ExtraData = maps.Clone(sceneObject.ExtraData)
	}
	item.Record = record
	return item
}

// highest version known for the item, preferring the latest record
func (self *FileItem) HighestVersion() (int64, bool) {
	if self.LatestRecord != nil {
		if version, ok := self.LatestRecord.Version(); ok {
			return version, ok
		}
	}
	if self.Record != nil {
		return self.Record.Version()
	}
	return 0, false
}

func (self *FileItem) IdentityKey() IdentityKey {
	key := IdentityKey{}
	if self.Record == nil {
		return key
	}
	if entity, ok := self.Record.Entity(); ok {
		key.Entity = entity.Key()
	}
	if task, ok := self.Record.Task(); ok {
		key.Task = task.Key()
	}
	if recordType, ok := self.Record.RecordType(); ok {
		key.RecordType = recordType.Key()
	}
	key.Name = self.Record.Name()
	return key
}

// the path the item had before its last update, "" if never updated
func (self *FileItem) OldPath() string {
	oldPath, _ := toString(self.ExtraData[extraDataOldPath])
	return oldPath
}

// snapshot for the scene mutation channel
func (self *FileItem) Descriptor() *NodeDescriptor {
	return &NodeDescriptor{
		NodeName:  self.NodeName,
		NodeType:  self.NodeType,
		Path:      self.Path,
		ExtraData: maps.Clone(self.ExtraData),
	}
}

// deep enough copy to serve as a pre-mutation snapshot
func (self *FileItem) Snapshot() *FileItem {
	snapshot := &FileItem{
		NodeName:      self.NodeName,
		NodeType:      self.NodeType,
		Path:          self.Path,
		ExtraData:     maps.Clone(self.ExtraData),
		Record:        self.Record.Clone(),
		LatestRecord:  self.LatestRecord.Clone(),
		Locked:        self.Locked,
		ThumbnailPath: self.ThumbnailPath,
	}
	return snapshot
}

// items are equal when they reference the same node, the same path and the
// same repository record
func (self *FileItem) EqualTo(item *FileItem) bool {
	if item == nil {
		return false
	}
	if self.NodeName != item.NodeName || self.NodeType != item.NodeType || self.Path != item.Path {
		return false
	}
	selfRecordId := int64(0)
	itemRecordId := int64(0)
	if self.Record != nil {
		selfRecordId = self.Record.RecordId()
	}
	if item.Record != nil {
		itemRecordId = item.Record.RecordId()
	}
	return selfRecordId == itemRecordId
}
