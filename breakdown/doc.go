// Package breakdown maintains an in-memory, grouped view of file references
// inside a working scene and keeps it synchronized with a versioned repository
// of published records.
//
// The package is transport and UI agnostic. A host embeds it by providing two
// channels: a `SceneChannel` that can enumerate and mutate the live document,
// and a `RepositoryChannel` that can answer record queries. `SyncManager`
// composes the two into stateless operations (correlate, latest, history,
// update), and `FileModel` layers the stateful grouped view with async
// request bookkeeping, change notifications and optional polling on top.
//
// Logging uses glog with short bracketed subsystem tags:
//
//	[model] file model lifecycle and request bookkeeping
//	[mgr]   manager operations
//	[repo]  repository api client
//	[event] repository event client
//	[thumb] thumbnail fetcher
//
// Infrequent lifecycle events and abnormal behavior log at Info. Per-request
// events log at glog.V(1), frequent per-item events at glog.V(2).
package breakdown
