package common

import (
	"fmt"

	"github.com/google/uuid"
)

// PointID derives the deterministic vector-index point identifier for a
// normalized row: UUIDv5 over the DNS namespace of "<tenant>_<table>_<record>".
// Re-running a job therefore replaces points in place instead of growing the
// collection.
func PointID(tenantID int, tableName, recordID string) string {
	name := fmt.Sprintf("%d_%s_%s", tenantID, tableName, recordID)
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(name)).String()
}

// CollectionName returns the tenant-scoped vector collection for a table.
func CollectionName(tenantID int, tableName string) string {
	return fmt.Sprintf("tenant_%d_%s", tenantID, tableName)
}

// NewJobToken generates the per-job token threaded through every message.
func NewJobToken() string {
	return uuid.New().String()
}

// NewRawID generates an identifier for a raw extraction record.
func NewRawID() string {
	return fmt.Sprintf("raw_%s", uuid.New().String())
}
