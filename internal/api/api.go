package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"print-backend/internal/database"
	"print-backend/internal/storage"
	"print-backend/pkg/api"

	"github.com/go-chi/chi/v5"
)

// MinLeadTime is the minimum gap between submission and the requested print
// time. Enforced once at creation, never re-validated.
const MinLeadTime = time.Minute

const maxMultipartMemory = 32 << 20 // 32MB held in memory, rest spools to disk

var allowedPageSizes = map[string]bool{
	"A4":     true,
	"A3":     true,
	"Letter": true,
	"Legal":  true,
}

// TaskScheduler registers a durable trigger; implemented by
// scheduler.Scheduler.
type TaskScheduler interface {
	Schedule(ctx context.Context, taskId uint, dueAt time.Time) error
}

type BackendService struct {
	store     *database.TaskStore
	router    *storage.Router
	scheduler TaskScheduler
}

func NewBackendService(store *database.TaskStore, router *storage.Router, scheduler TaskScheduler) *BackendService {
	return &BackendService{store: store, router: router, scheduler: scheduler}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", RestHandler(s.SubmitTask))
		r.Get("/", RestHandler(s.ListTasks))
		r.Get("/{task_id}", RestHandler(s.GetTask))
	})
}

func (s *BackendService) SubmitTask(r *http.Request) (any, error) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		slog.Error("error parsing multipart form", "error", err)
		return nil, CodedErrorf(http.StatusBadRequest, "unable to parse multipart form")
	}

	colorMode := r.FormValue("color_mode")
	if colorMode != "color" && colorMode != "bw" {
		return nil, CodedErrorf(http.StatusBadRequest, "invalid color_mode, must be 'color' or 'bw'")
	}

	pageSize := r.FormValue("page_size")
	if !allowedPageSizes[pageSize] {
		return nil, CodedErrorf(http.StatusBadRequest, "invalid page_size '%s'", pageSize)
	}

	uploaderEmail := r.FormValue("uploader_email")
	if uploaderEmail == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "uploader_email is required")
	}

	timeToPrintTs, err := strconv.ParseInt(r.FormValue("time_to_print_ts"), 10, 64)
	if err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "invalid time_to_print_ts, must be a unix timestamp")
	}

	timeToPrint := time.Unix(timeToPrintTs, 0).UTC()
	if timeToPrint.Before(time.Now().UTC().Add(MinLeadTime)) {
		return nil, CodedErrorf(http.StatusBadRequest, "time_to_print must be at least 1 minute in the future")
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "file is required")
	}
	defer file.Close()

	ctx := r.Context()

	// Nothing is persisted until validation has passed; a storage failure
	// below leaves no task behind either.
	storageType, fileIdentifier, err := s.router.Store(ctx, file, header.Size, header.Filename)
	if err != nil {
		if errors.Is(err, storage.ErrRemoteUnavailable) {
			return nil, CodedErrorf(http.StatusInternalServerError, "file is large, but remote storage is not configured or available")
		}
		if errors.Is(err, storage.ErrUploadFailed) {
			slog.Error("remote upload failed", "file", header.Filename, "error", err)
			return nil, CodedErrorf(http.StatusInternalServerError, "remote upload failed")
		}
		slog.Error("error storing document", "file", header.Filename, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to store document")
	}

	taskId, err := s.store.CreateTask(ctx, database.TaskDraft{
		OriginalFilename: header.Filename,
		UploaderEmail:    uploaderEmail,
		StorageType:      storageType,
		FileIdentifier:   fileIdentifier,
		TimeToPrint:      timeToPrint,
		ColorMode:        colorMode,
		PageSize:         pageSize,
	})
	if err != nil {
		slog.Error("error creating task", "error", err)
		s.discardStoredDocument(storageType, fileIdentifier)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create task entry")
	}

	if err := s.scheduler.Schedule(ctx, taskId, timeToPrint); err != nil {
		slog.Error("error scheduling task", "task_id", taskId, "error", err)
		s.abandonTask(ctx, taskId, storageType, fileIdentifier)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to schedule task")
	}

	if err := s.store.UpdateTaskStatus(ctx, taskId, database.StatusScheduled, ""); err != nil {
		slog.Error("error advancing task to scheduled", "task_id", taskId, "error", err)
		s.abandonTask(ctx, taskId, storageType, fileIdentifier)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to schedule task")
	}

	slog.Info("print task submitted", "task_id", taskId, "file", header.Filename, "storage", storageType, "print_time", timeToPrint)

	return api.SubmitTaskResponse{
		Message:       "Task added successfully",
		TaskId:        taskId,
		Filename:      header.Filename,
		UploaderEmail: uploaderEmail,
		Storage:       storageType,
		PrintTime:     timeToPrint,
		Status:        database.StatusScheduled,
	}, nil
}

// discardStoredDocument removes the stored file after a submission that will
// never be scheduled. Remote objects are left in place; they are keyed by a
// fresh uuid and harmless to future submissions.
func (s *BackendService) discardStoredDocument(storageType, fileIdentifier string) {
	if storageType != database.StorageLocal {
		return
	}
	if err := os.Remove(fileIdentifier); err != nil {
		slog.Warn("could not remove stored document of failed submission", "path", fileIdentifier, "error", err)
	}
}

// abandonTask undoes a submission that persisted a task but failed before it
// was scheduled, so no permanently pending row survives the error response.
func (s *BackendService) abandonTask(ctx context.Context, taskId uint, storageType, fileIdentifier string) {
	if err := s.store.DeleteTask(ctx, taskId); err != nil {
		slog.Error("could not delete task of failed submission", "task_id", taskId, "error", err)
	}
	s.discardStoredDocument(storageType, fileIdentifier)
}

func (s *BackendService) GetTask(r *http.Request) (any, error) {
	taskId, err := URLParamUint(r, "task_id")
	if err != nil {
		return nil, err
	}

	task, err := s.store.GetTask(r.Context(), taskId)
	if err != nil {
		if errors.Is(err, database.ErrTaskNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "task not found")
		}
		slog.Error("error getting task", "task_id", taskId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving task record")
	}

	return convertTask(task), nil
}

func (s *BackendService) ListTasks(r *http.Request) (any, error) {
	query, err := ParseRequestQueryParams[api.ListTasksQuery](r)
	if err != nil {
		return nil, err
	}

	if query.Skip < 0 {
		query.Skip = 0
	}
	if query.Limit <= 0 {
		query.Limit = 10
	}
	if query.Limit > 100 {
		query.Limit = 100
	}

	tasks, err := s.store.ListTasks(r.Context(), query.Skip, query.Limit)
	if err != nil {
		slog.Error("error listing tasks", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error listing task records")
	}

	return convertTasks(tasks), nil
}
