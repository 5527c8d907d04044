package repository

import (
	"fmt"

	"sentinal-call/internal/domain/call"
	"sentinal-call/internal/domain/event"

	"gorm.io/gorm"
)

// InitSchema creates the call tables through gorm auto-migration. Production
// databases are migrated with cmd/migrate; this is for development mode and
// tests.
func InitSchema(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&call.Call{},
		&call.UserCallStatus{},
		&call.SignalRecord{},
		&event.OutboxEvent{},
		&event.OutboxEventDelivery{},
	); err != nil {
		return fmt.Errorf("auto-migration failed: %w", err)
	}
	return nil
}
