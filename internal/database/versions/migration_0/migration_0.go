package migration_0

import (
	"database/sql"
	"time"

	"gorm.io/gorm"
)

// Schema structs are copied here so that later changes to the live schema do
// not silently change what this migration creates.

type PrintTask struct {
	Id uint `gorm:"primaryKey;autoIncrement"`

	OriginalFilename string `gorm:"index"`
	UploaderEmail    string `gorm:"not null"`

	StorageType    string `gorm:"size:10;not null"`
	FileIdentifier string `gorm:"not null"`

	GdriveDownloadPath sql.NullString

	TimeToPrint time.Time `gorm:"not null"`
	ColorMode   string    `gorm:"size:10;not null"`
	PageSize    string    `gorm:"size:20"`

	Status       string    `gorm:"size:20;not null;index"`
	CreatedAt    time.Time `gorm:"index"`
	ErrorMessage sql.NullString
}

type PrintTrigger struct {
	TaskId    uint      `gorm:"primaryKey"`
	DueAt     time.Time `gorm:"not null;index"`
	Fired     bool      `gorm:"not null;default:false;index"`
	FiredAt   sql.NullTime
	CreatedAt time.Time
}

func Migration(txn *gorm.DB) error {
	return txn.AutoMigrate(&PrintTask{}, &PrintTrigger{})
}
