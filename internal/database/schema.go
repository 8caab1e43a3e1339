package database

import (
	"database/sql"
	"time"
)

const (
	StorageLocal  string = "local"
	StorageRemote string = "remote"
)

const (
	StatusPending     string = "pending"
	StatusScheduled   string = "scheduled"
	StatusDownloading string = "downloading"
	StatusPrinting    string = "printing"
	StatusCompleted   string = "completed"
	StatusFailed      string = "failed"
)

// allowedSources maps a target status to the statuses a task may hold when
// entering it. Anything not listed is an illegal transition. The
// scheduled -> downloading edge additionally requires remote storage and
// scheduled -> printing requires local storage; those guards live in
// UpdateTaskStatus since they depend on the task row itself.
var allowedSources = map[string][]string{
	StatusScheduled:   {StatusPending},
	StatusDownloading: {StatusScheduled},
	StatusPrinting:    {StatusScheduled, StatusDownloading},
	StatusCompleted:   {StatusPrinting},
	StatusFailed:      {StatusScheduled, StatusDownloading, StatusPrinting},
}

func IsTerminalStatus(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

type PrintTask struct {
	Id uint `gorm:"primaryKey;autoIncrement"`

	OriginalFilename string `gorm:"index"`
	UploaderEmail    string `gorm:"not null"`

	StorageType    string `gorm:"size:10;not null"`
	FileIdentifier string `gorm:"not null"`

	// Path of the locally retrieved copy of a remote document. The column
	// name is kept from the first generation of this service, which offloaded
	// large files to Google Drive; clients still read it under this name.
	GdriveDownloadPath sql.NullString

	TimeToPrint time.Time `gorm:"not null"`
	ColorMode   string    `gorm:"size:10;not null"`
	PageSize    string    `gorm:"size:20"`

	Status       string    `gorm:"size:20;not null;index"`
	CreatedAt    time.Time `gorm:"index"`
	ErrorMessage sql.NullString
}

// PrintTrigger is the durable record behind the scheduler. A row with
// fired = false is re-registered by the recovery scan at startup, so a
// restart between scheduling and the due instant never loses a firing.
type PrintTrigger struct {
	TaskId    uint      `gorm:"primaryKey"`
	DueAt     time.Time `gorm:"not null;index"`
	Fired     bool      `gorm:"not null;default:false;index"`
	FiredAt   sql.NullTime
	CreatedAt time.Time
}
