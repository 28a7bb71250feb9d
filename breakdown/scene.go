package breakdown

// SceneObject is one raw file reference as the scan channel reports it,
// before correlation.
type SceneObject struct {
	NodeName  string
	NodeType  string
	Path      string
	ExtraData map[string]any
}

// NodeDescriptor is the mutation payload handed to the scene channel.
type NodeDescriptor struct {
	NodeName  string
	NodeType  string
	Path      string
	ExtraData map[string]any
}

// SceneChannel enumerates and mutates file references in the live document.
// Both calls are synchronous and must run on the goroutine that owns the
// document. They are never called from a background request goroutine.
type SceneChannel interface {
	// all current file references in the document
	ScanScene() ([]*SceneObject, error)

	// repoints one reference to `descriptor.Path`. A nil result with nil
	// error means the channel gave no explicit answer and the update is
	// assumed applied.
	Update(descriptor *NodeDescriptor) (*bool, error)
}

// SceneBatchUpdater is an optional capability of a SceneChannel, detected by
// type assertion. `UpdateBatch` returns the descriptors that were actually
// applied, or nil to confirm all of them.
type SceneBatchUpdater interface {
	UpdateBatch(descriptors []*NodeDescriptor) ([]*NodeDescriptor, error)
}
