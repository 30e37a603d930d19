// Package resource implements the Resource Manager: named, typed pools of
// resources enforcing per-(plugin,type) quotas, factories that produce live
// instances, scheduled cleanup of expired allocations, and state-change
// event notifications.
//
// Grounded on plugins/unified_runtime.go's sync.Map-based resource registry,
// atomic counters, and graceful multi-interface cleanup cascade, composed
// with the typed-pool/quota/factory layer spec.md §4.4 requires that the
// teacher's flatter named-resource-registry model does not itself provide.
package resource

import "time"

// Type is the closed enumeration of resource kinds spec.md §3 names.
type Type string

const (
	TypeThread            Type = "thread"
	TypeTimer             Type = "timer"
	TypeNetworkConnection Type = "network_connection"
	TypeFileHandle        Type = "file_handle"
	TypeDatabaseConnection Type = "database_connection"
	TypeMemory            Type = "memory"
	TypeCustom            Type = "custom"
)

// Quota is the per-(plugin, type) limit triple of spec.md §3.
type Quota struct {
	MaxInstances   int
	MaxMemoryBytes int64
	MaxLifetime    time.Duration
}
