// Package postgres implements the storage.Backend interface on PostgreSQL,
// reusing the GORM write-behind backend.
package postgres

import (
	"fmt"

	"github.com/modsync/vehicle/internal/database"
	gormstorage "github.com/modsync/vehicle/internal/storage/gorm"
)

// Backend wraps the GORM backend with its own connection handling.
type Backend struct {
	*gormstorage.Backend
}

// New creates a new Postgres storage backend. When deps.DB is nil, Init
// opens a connection from the db.* config keys.
func New(deps gormstorage.Dependencies) *Backend {
	return &Backend{Backend: gormstorage.New(deps)}
}

// Init connects when needed and initializes the embedded GORM backend.
func (b *Backend) Init() error {
	if b.DB() == nil {
		db, err := database.GetPostgresDBStandalone()
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("failed to access sql interface: %w", err)
		}
		if err = sqlDB.Ping(); err != nil {
			return fmt.Errorf("failed to validate connection: %w", err)
		}
		sqlDB.SetMaxOpenConns(10)
		b.SetDB(db)
	}

	return b.Backend.Init()
}
