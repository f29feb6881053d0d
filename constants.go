package adatrace

import "github.com/adatrace/tracer/internal/constants"

// Re-export constants for public API
const (
	DefaultRingCapacity     = constants.DefaultRingCapacity
	DefaultRingsPerLane     = constants.DefaultRingsPerLane
	DefaultRegistryCapacity = constants.DefaultRegistryCapacity
	DefaultMaxDetailPayload = constants.DefaultMaxDetailPayload
	AutoAssignSessionID     = constants.AutoAssignSessionID
	IndexRecordSize         = constants.IndexRecordSize
)
