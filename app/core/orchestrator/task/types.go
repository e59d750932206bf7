package task

import "dockit/app/pkg/types"

// UnifiedTask is the durable, deduplicated output of the pipeline. ExternalID
// is globally unique across the store; timestamps are unix seconds and a zero
// Deadline means none.
type UnifiedTask struct {
	ExternalID  string
	Title       string
	Summary     string
	ActionItem  string
	Source      types.TaskSource
	Priority    types.Priority
	DeepLink    string
	IsCompleted bool
	CreatedAt   int64
	Deadline    int64
	OriginTS    int64
}

// SyncState records the last sync outcome per source so a skipped or failed
// source is observable instead of silent.
type SyncState struct {
	Source        types.TaskSource
	LastSyncedAt  int64
	LastError     string
	DeferredUntil int64
	UpdatedAt     int64
}
