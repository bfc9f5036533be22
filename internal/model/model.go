package model

import (
	"time"

	"gorm.io/datatypes"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&VehicleSnapshot{},
	&PerformanceSample{},
}

// VehicleSnapshot is the persisted form of one object's module snapshot.
// One row per object; saves upsert on ObjectID.
type VehicleSnapshot struct {
	ID           uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	ObjectID     string         `json:"objectId" gorm:"size:128;uniqueIndex:idx_vehiclesnapshot_object_id"`
	UpdatedAt    time.Time      `json:"updatedAt" gorm:"index:idx_vehiclesnapshot_updated_at"`
	Capabilities string         `json:"capabilities" gorm:"size:512"` // comma-separated capability keys present in Data
	Data         datatypes.JSON `json:"data"`
}

func (*VehicleSnapshot) TableName() string {
	return "vehicle_snapshots"
}

// PerformanceSample is one periodic status sample of a party.
type PerformanceSample struct {
	ID            uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time          time.Time `json:"time" gorm:"index:idx_performancesample_time"`
	Party         string    `json:"party" gorm:"size:64;index:idx_performancesample_party"`
	Tick          uint64    `json:"tick"`
	Objects       int       `json:"objects"`
	Authoritative int       `json:"authoritative"`
	InboxLength   int       `json:"inboxLength"`
	EntriesSent   uint64    `json:"entriesSent"`
	EntriesStale  uint64    `json:"entriesStale"`
	HeapAllocMB   float64   `json:"heapAllocMb"`
	Goroutines    int       `json:"goroutines"`
}

func (*PerformanceSample) TableName() string {
	return "performance_samples"
}
