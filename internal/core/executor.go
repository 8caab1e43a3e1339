package core

import (
	"context"
	"log/slog"
	"os"

	"print-backend/internal/database"
	"print-backend/internal/notify"
	"print-backend/internal/storage"
)

// Executor runs one print task end to end: retrieval of remote documents,
// dispatch to the printer, terminal state transition, and failure
// notification. Every failure is terminal for the task; nothing is retried
// and no error escapes Execute.
type Executor struct {
	store    *database.TaskStore
	router   *storage.Router
	printer  Printer
	notifier notify.Notifier
}

func NewExecutor(store *database.TaskStore, router *storage.Router, printer Printer, notifier notify.Notifier) *Executor {
	return &Executor{store: store, router: router, printer: printer, notifier: notifier}
}

func (e *Executor) Execute(ctx context.Context, taskId uint) {
	task, err := e.store.GetTask(ctx, taskId)
	if err != nil {
		slog.Error("execution skipped, task could not be loaded", "task_id", taskId, "error", err)
		return
	}

	if database.IsTerminalStatus(task.Status) {
		// Duplicate firing guard; nothing to do.
		slog.Warn("execution skipped, task already terminal", "task_id", taskId, "status", task.Status)
		return
	}

	localPath := task.FileIdentifier
	isDownloaded := false

	if task.StorageType == database.StorageRemote {
		if err := e.store.UpdateTaskStatus(ctx, taskId, database.StatusDownloading, ""); err != nil {
			slog.Error("could not enter downloading state", "task_id", taskId, "error", err)
			return
		}

		localPath, err = e.router.Retrieve(ctx, task.StorageType, task.FileIdentifier, taskId)
		if err != nil {
			slog.Error("remote retrieval failed", "task_id", taskId, "error", err)
			e.fail(ctx, task, err.Error())
			return
		}
		isDownloaded = true

		if err := e.store.SetDownloadPath(ctx, taskId, localPath); err != nil {
			slog.Error("could not record download path", "task_id", taskId, "error", err)
		}
	}

	if err := e.store.UpdateTaskStatus(ctx, taskId, database.StatusPrinting, ""); err != nil {
		slog.Error("could not enter printing state", "task_id", taskId, "error", err)
		return
	}

	err = e.printer.Print(ctx, localPath, task.ColorMode, task.PageSize)

	if isDownloaded {
		if removeErr := os.Remove(localPath); removeErr != nil {
			slog.Warn("could not clean up downloaded file", "task_id", taskId, "path", localPath, "error", removeErr)
		}
		// The snapshot must not reference a path that no longer exists.
		if clearErr := e.store.SetDownloadPath(ctx, taskId, ""); clearErr != nil {
			slog.Warn("could not clear download path", "task_id", taskId, "error", clearErr)
		}
	}

	if err != nil {
		slog.Error("printer dispatch failed", "task_id", taskId, "error", err)
		e.fail(ctx, task, err.Error())
		return
	}

	if err := e.store.UpdateTaskStatus(ctx, taskId, database.StatusCompleted, ""); err != nil {
		slog.Error("could not enter completed state", "task_id", taskId, "error", err)
		return
	}

	slog.Info("print task completed", "task_id", taskId, "file", task.OriginalFilename)
}

// fail records the terminal failure and sends a best-effort notification. A
// notification error is logged and never reverts or blocks the transition.
func (e *Executor) fail(ctx context.Context, task database.PrintTask, reason string) {
	if err := e.store.UpdateTaskStatus(ctx, task.Id, database.StatusFailed, reason); err != nil {
		slog.Error("could not enter failed state", "task_id", task.Id, "error", err)
		return
	}

	if err := e.notifier.NotifyFailure(ctx, notify.FailureEvent{
		UploaderEmail: task.UploaderEmail,
		TaskId:        task.Id,
		Filename:      task.OriginalFilename,
		Reason:        reason,
	}); err != nil {
		slog.Error("failure notification could not be sent", "task_id", task.Id, "email", task.UploaderEmail, "error", err)
	}
}
