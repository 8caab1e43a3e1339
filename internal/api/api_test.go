package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	backend "print-backend/internal/api"
	"print-backend/internal/database"
	"print-backend/internal/storage"
	"print-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeScheduler struct {
	scheduled []uint
	err       error
}

func (s *fakeScheduler) Schedule(ctx context.Context, taskId uint, dueAt time.Time) error {
	if s.err != nil {
		return s.err
	}
	s.scheduled = append(s.scheduled, taskId)
	return nil
}

type testService struct {
	store     *database.TaskStore
	scheduler *fakeScheduler
	router    chi.Router
	uploadDir string
}

func createService(t *testing.T, remote storage.ObjectStore) *testService {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.GetMigrator(db).Migrate())

	dir := t.TempDir()
	uploadDir := filepath.Join(dir, "uploads")
	docRouter, err := storage.NewRouter(uploadDir, filepath.Join(dir, "downloads"), remote, "documents")
	require.NoError(t, err)

	ts := &testService{
		store:     database.NewTaskStore(db),
		scheduler: &fakeScheduler{},
		uploadDir: uploadDir,
	}

	service := backend.NewBackendService(ts.store, docRouter, ts.scheduler)
	router := chi.NewRouter()
	service.AddRoutes(router)
	ts.router = router
	return ts
}

type submitForm struct {
	filename      string
	content       []byte
	timeToPrint   time.Time
	colorMode     string
	pageSize      string
	uploaderEmail string
}

func defaultForm() submitForm {
	return submitForm{
		filename:      "report.pdf",
		content:       []byte("print me"),
		timeToPrint:   time.Now().Add(time.Hour),
		colorMode:     "bw",
		pageSize:      "A4",
		uploaderEmail: "user@example.com",
	}
}

func submitRequest(t *testing.T, form submitForm) *http.Request {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", form.filename)
	require.NoError(t, err)
	_, err = part.Write(form.content)
	require.NoError(t, err)

	require.NoError(t, writer.WriteField("time_to_print_ts", strconv.FormatInt(form.timeToPrint.Unix(), 10)))
	require.NoError(t, writer.WriteField("color_mode", form.colorMode))
	require.NoError(t, writer.WriteField("page_size", form.pageSize))
	require.NoError(t, writer.WriteField("uploader_email", form.uploaderEmail))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/tasks", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestSubmitTask(t *testing.T) {
	service := createService(t, nil)

	rec := httptest.NewRecorder()
	service.router.ServeHTTP(rec, submitRequest(t, defaultForm()))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var response api.SubmitTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "report.pdf", response.Filename)
	assert.Equal(t, database.StorageLocal, response.Storage)
	assert.Equal(t, database.StatusScheduled, response.Status)
	assert.Equal(t, []uint{response.TaskId}, service.scheduler.scheduled)

	task, err := service.store.GetTask(context.Background(), response.TaskId)
	require.NoError(t, err)
	assert.Equal(t, database.StatusScheduled, task.Status)
	assert.Equal(t, "user@example.com", task.UploaderEmail)
}

func TestSubmitTaskValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*submitForm)
	}{
		{"bad color mode", func(f *submitForm) { f.colorMode = "sepia" }},
		{"bad page size", func(f *submitForm) { f.pageSize = "A7" }},
		{"missing email", func(f *submitForm) { f.uploaderEmail = "" }},
		{"print time in the past", func(f *submitForm) { f.timeToPrint = time.Now().Add(-time.Hour) }},
		{"print time too soon", func(f *submitForm) { f.timeToPrint = time.Now().Add(30 * time.Second) }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service := createService(t, nil)

			form := defaultForm()
			tc.mutate(&form)

			rec := httptest.NewRecorder()
			service.router.ServeHTTP(rec, submitRequest(t, form))

			assert.Equal(t, http.StatusBadRequest, rec.Code)

			tasks, err := service.store.ListTasks(context.Background(), 0, 10)
			require.NoError(t, err)
			assert.Empty(t, tasks, "a rejected submission must not create a task")
			assert.Empty(t, service.scheduler.scheduled)
		})
	}
}

func TestSubmitTaskSchedulingFailureLeavesNothingBehind(t *testing.T) {
	service := createService(t, nil)
	service.scheduler.err = errors.New("trigger table unavailable")

	rec := httptest.NewRecorder()
	service.router.ServeHTTP(rec, submitRequest(t, defaultForm()))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	tasks, err := service.store.ListTasks(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Empty(t, tasks, "no pending task row may survive a failed scheduling")

	entries, err := os.ReadDir(service.uploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "the stored document must be removed with its task")
}

func TestSubmitLargeTaskWithoutRemoteStorage(t *testing.T) {
	service := createService(t, nil)

	form := defaultForm()
	form.content = bytes.Repeat([]byte("x"), storage.RemoteThresholdBytes)

	rec := httptest.NewRecorder()
	service.router.ServeHTTP(rec, submitRequest(t, form))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	tasks, err := service.store.ListTasks(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestSubmitLargeTaskRoutesRemote(t *testing.T) {
	remote, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)
	service := createService(t, remote)

	form := defaultForm()
	form.content = bytes.Repeat([]byte("x"), storage.RemoteThresholdBytes)

	rec := httptest.NewRecorder()
	service.router.ServeHTTP(rec, submitRequest(t, form))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var response api.SubmitTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, database.StorageRemote, response.Storage)
}

func TestGetTask(t *testing.T) {
	service := createService(t, nil)

	id, err := service.store.CreateTask(context.Background(), database.TaskDraft{
		OriginalFilename: "doc.pdf",
		UploaderEmail:    "user@example.com",
		StorageType:      database.StorageLocal,
		FileIdentifier:   "uploads/doc.pdf",
		TimeToPrint:      time.Now().Add(time.Hour),
		ColorMode:        "color",
		PageSize:         "Letter",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/tasks/%d", id), nil)
	rec := httptest.NewRecorder()
	service.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var response api.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, id, response.Id)
	assert.Equal(t, "doc.pdf", response.OriginalFilename)
	assert.Equal(t, database.StatusPending, response.Status)
	assert.Nil(t, response.ErrorMessage)
	assert.Nil(t, response.GdriveDownloadPath)
}

func TestGetTaskNotFound(t *testing.T) {
	service := createService(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/tasks/999", nil)
	rec := httptest.NewRecorder()
	service.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListTasksPagination(t *testing.T) {
	service := createService(t, nil)

	for i := 0; i < 15; i++ {
		_, err := service.store.CreateTask(context.Background(), database.TaskDraft{
			OriginalFilename: fmt.Sprintf("doc_%d.pdf", i),
			UploaderEmail:    "user@example.com",
			StorageType:      database.StorageLocal,
			FileIdentifier:   "uploads/doc.pdf",
			TimeToPrint:      time.Now().Add(time.Hour),
			ColorMode:        "bw",
			PageSize:         "A4",
		})
		require.NoError(t, err)
	}

	fetch := func(query string) []api.Task {
		req := httptest.NewRequest(http.MethodGet, "/tasks"+query, nil)
		rec := httptest.NewRecorder()
		service.router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var tasks []api.Task
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tasks))
		return tasks
	}

	first := fetch("?skip=0&limit=10")
	require.Len(t, first, 10)
	second := fetch("?skip=10&limit=10")
	require.Len(t, second, 5)

	var all []uint
	for _, task := range append(first, second...) {
		all = append(all, task.Id)
	}
	for i := 1; i < len(all); i++ {
		assert.Greater(t, all[i-1], all[i], "tasks must be newest first with no overlap between pages")
	}

	defaulted := fetch("")
	assert.Len(t, defaulted, 10, "limit should default to 10")
}
