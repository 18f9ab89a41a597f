package models

import "gorm.io/gorm"

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&Prospect{},
		&Sequence{},
		&SequenceStep{},
		&SequenceAssignment{},
		&Task{},
		&Deal{},
		&Project{},
		&Invoice{},
		&InvoiceItem{},
		&Affiliate{},
		&ContentDraft{},
		&ChannelAccount{},
		&InboxMessage{},
	)
}
