package breakdown

import (
	"sync"
)

// ProxyGroup is one visible group row with its accepted children.
type ProxyGroup struct {
	GroupId string
	Display string
	Items   []*FileItem
}

// group header status over the visible children only
func (self *ProxyGroup) Status() Status {
	statuses := make([]Status, len(self.Items))
	for i, item := range self.Items {
		statuses[i] = ItemStatus(item)
	}
	return GroupStatus(statuses)
}

// FileProxyModel filters the model's rows without duplicating its storage.
// A group header is visible only while at least one of its children is
// accepted. The search filter layers on top of the configured filters and is
// rebuilt on every SetSearchText.
type FileProxyModel struct {
	model *FileModel

	stateLock sync.Mutex

	filterItems  []*FilterItem
	searchFilter *FilterItem
}

func NewFileProxyModel(model *FileModel) *FileProxyModel {
	return &FileProxyModel{
		model:       model,
		filterItems: []*FilterItem{},
	}
}

func (self *FileProxyModel) SetFilterItems(filterItems []*FilterItem) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.filterItems = filterItems
}

func (self *FileProxyModel) FilterItems() []*FilterItem {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.filterItems
}

// SetSearchText rebuilds the free text search filter. The text matches the
// record name and the node name, case insensitive. Empty text removes the
// filter.
func (self *FileProxyModel) SetSearchText(searchText string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if searchText == "" {
		self.searchFilter = nil
		return
	}
	self.searchFilter = NewFilterGroup(
		FilterOpOr,
		NewFilterItem(FilterTypeStr, FilterOpIn, searchText, func(item *FileItem) any {
			if item.Record != nil {
				return item.Record.Name()
			}
			return ""
		}),
		NewFilterItem(FilterTypeStr, FilterOpIn, searchText, func(item *FileItem) any {
			return item.NodeName
		}),
	)
}

func (self *FileProxyModel) Accepts(item *FileItem) bool {
	self.stateLock.Lock()
	filterItems := self.filterItems
	searchFilter := self.searchFilter
	self.stateLock.Unlock()

	for _, filterItem := range filterItems {
		if !filterItem.Accepts(item) {
			return false
		}
	}
	if searchFilter != nil && !searchFilter.Accepts(item) {
		return false
	}
	return true
}

// VisibleGroups evaluates the filters against the model's current groups.
// Groups whose children are all rejected are dropped entirely.
func (self *FileProxyModel) VisibleGroups() []*ProxyGroup {
	visibleGroups := []*ProxyGroup{}
	for _, group := range self.model.Groups() {
		visibleItems := []*FileItem{}
		for _, item := range group.Items() {
			if self.Accepts(item) {
				visibleItems = append(visibleItems, item)
			}
		}
		if len(visibleItems) == 0 {
			continue
		}
		visibleGroups = append(visibleGroups, &ProxyGroup{
			GroupId: group.GroupId,
			Display: group.Display,
			Items:   visibleItems,
		})
	}
	return visibleGroups
}

// VisibleItems flattens the visible groups.
func (self *FileProxyModel) VisibleItems() []*FileItem {
	visibleItems := []*FileItem{}
	for _, group := range self.VisibleGroups() {
		visibleItems = append(visibleItems, group.Items...)
	}
	return visibleItems
}
