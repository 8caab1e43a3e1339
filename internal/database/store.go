package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

var (
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidTransition indicates an attempt to move a task along an edge
	// the state machine does not allow, including a lost race between two
	// writers attempting the same edge. It signals a scheduling or
	// concurrency bug and is never surfaced to API clients.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// TaskStore owns every persisted mutation of print tasks and their triggers.
// Status changes go through UpdateTaskStatus exclusively, which is where the
// state machine is enforced.
type TaskStore struct {
	db *gorm.DB
}

func NewTaskStore(db *gorm.DB) *TaskStore {
	return &TaskStore{db: db}
}

// TaskDraft carries the fields fixed at submission time. Everything else is
// assigned by CreateTask.
type TaskDraft struct {
	OriginalFilename string
	UploaderEmail    string
	StorageType      string
	FileIdentifier   string
	TimeToPrint      time.Time
	ColorMode        string
	PageSize         string
}

func (s *TaskStore) CreateTask(ctx context.Context, draft TaskDraft) (uint, error) {
	task := PrintTask{
		OriginalFilename: draft.OriginalFilename,
		UploaderEmail:    draft.UploaderEmail,
		StorageType:      draft.StorageType,
		FileIdentifier:   draft.FileIdentifier,
		TimeToPrint:      draft.TimeToPrint.UTC(),
		ColorMode:        draft.ColorMode,
		PageSize:         draft.PageSize,
		Status:           StatusPending,
		CreatedAt:        time.Now().UTC(),
	}

	if err := s.db.WithContext(ctx).Create(&task).Error; err != nil {
		return 0, fmt.Errorf("error creating print task: %w", err)
	}
	return task.Id, nil
}

func (s *TaskStore) GetTask(ctx context.Context, taskId uint) (PrintTask, error) {
	var task PrintTask
	if err := s.db.WithContext(ctx).First(&task, "id = ?", taskId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return PrintTask{}, ErrTaskNotFound
		}
		return PrintTask{}, fmt.Errorf("error getting print task %d: %w", taskId, err)
	}
	return task, nil
}

// ListTasks returns tasks newest first. Ties on created_at break on id so
// that consecutive pages of a stable dataset never overlap or skip rows.
func (s *TaskStore) ListTasks(ctx context.Context, skip, limit int) ([]PrintTask, error) {
	var tasks []PrintTask
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Offset(skip).
		Limit(limit).
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("error listing print tasks: %w", err)
	}
	return tasks, nil
}

// UpdateTaskStatus advances a task along one state machine edge. The update
// is a single guarded statement, so concurrent writers racing for the same
// edge serialize at the database: exactly one wins, the rest get
// ErrInvalidTransition. errorMessage is persisted only with StatusFailed and
// is never cleared afterwards.
func (s *TaskStore) UpdateTaskStatus(ctx context.Context, taskId uint, status, errorMessage string) error {
	sources, ok := allowedSources[status]
	if !ok {
		return fmt.Errorf("%w: no edge into status %q", ErrInvalidTransition, status)
	}

	updates := map[string]any{"status": status}
	if status == StatusFailed {
		updates["error_message"] = sql.NullString{String: errorMessage, Valid: true}
	}

	query := s.db.WithContext(ctx).
		Model(&PrintTask{}).
		Where("id = ? AND status IN ?", taskId, sources)

	switch status {
	case StatusDownloading:
		query = query.Where("storage_type = ?", StorageRemote)
	case StatusPrinting:
		// Local tasks enter printing straight from scheduled; remote tasks
		// must pass through downloading first.
		query = query.Where("status = ? OR storage_type = ?", StatusDownloading, StorageLocal)
	}

	result := query.Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("error updating status of task %d: %w", taskId, result.Error)
	}

	if result.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&PrintTask{}).Where("id = ?", taskId).Count(&count).Error; err != nil {
			return fmt.Errorf("error checking task %d after rejected update: %w", taskId, err)
		}
		if count == 0 {
			return ErrTaskNotFound
		}
		return fmt.Errorf("%w: task %d cannot enter status %q", ErrInvalidTransition, taskId, status)
	}

	slog.Info("task status updated", "task_id", taskId, "status", status)
	return nil
}

// SetDownloadPath records where a remote document was retrieved to.
func (s *TaskStore) SetDownloadPath(ctx context.Context, taskId uint, path string) error {
	value := sql.NullString{String: path, Valid: path != ""}
	err := s.db.WithContext(ctx).
		Model(&PrintTask{Id: taskId}).
		Update("gdrive_download_path", value).Error
	if err != nil {
		return fmt.Errorf("error setting download path for task %d: %w", taskId, err)
	}
	return nil
}

// DeleteTask removes a task row that never made it through submission.
func (s *TaskStore) DeleteTask(ctx context.Context, taskId uint) error {
	if err := s.db.WithContext(ctx).Delete(&PrintTask{}, taskId).Error; err != nil {
		return fmt.Errorf("error deleting task %d: %w", taskId, err)
	}
	return nil
}

func (s *TaskStore) CreateTrigger(ctx context.Context, taskId uint, dueAt time.Time) error {
	trigger := PrintTrigger{
		TaskId:    taskId,
		DueAt:     dueAt.UTC(),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&trigger).Error; err != nil {
		return fmt.Errorf("error creating trigger for task %d: %w", taskId, err)
	}
	return nil
}

// PendingTriggers returns every trigger that has not fired yet, due-soonest
// first. This is the recovery scan the scheduler runs at startup.
func (s *TaskStore) PendingTriggers(ctx context.Context) ([]PrintTrigger, error) {
	var triggers []PrintTrigger
	err := s.db.WithContext(ctx).
		Where("fired = ?", false).
		Order("due_at ASC").
		Find(&triggers).Error
	if err != nil {
		return nil, fmt.Errorf("error loading pending triggers: %w", err)
	}
	return triggers, nil
}

// MarkTriggerFired flips the durable trigger exactly once; the boolean result
// reports whether this call won. A false result means the trigger was already
// consumed and the firing must be dropped.
func (s *TaskStore) MarkTriggerFired(ctx context.Context, taskId uint) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&PrintTrigger{}).
		Where("task_id = ? AND fired = ?", taskId, false).
		Updates(map[string]any{
			"fired":    true,
			"fired_at": sql.NullTime{Time: time.Now().UTC(), Valid: true},
		})
	if result.Error != nil {
		return false, fmt.Errorf("error marking trigger fired for task %d: %w", taskId, result.Error)
	}
	return result.RowsAffected > 0, nil
}
