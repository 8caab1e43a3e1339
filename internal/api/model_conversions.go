package api

import (
	"print-backend/internal/database"
	"print-backend/pkg/api"
)

func convertTask(t database.PrintTask) api.Task {
	task := api.Task{
		Id:               t.Id,
		OriginalFilename: t.OriginalFilename,
		UploaderEmail:    t.UploaderEmail,
		StorageType:      t.StorageType,
		FileIdentifier:   t.FileIdentifier,
		TimeToPrint:      t.TimeToPrint,
		ColorMode:        t.ColorMode,
		PageSize:         t.PageSize,
		Status:           t.Status,
		CreatedAt:        t.CreatedAt,
	}

	if t.GdriveDownloadPath.Valid {
		task.GdriveDownloadPath = &t.GdriveDownloadPath.String
	}
	if t.ErrorMessage.Valid {
		task.ErrorMessage = &t.ErrorMessage.String
	}

	return task
}

func convertTasks(ts []database.PrintTask) []api.Task {
	tasks := make([]api.Task, 0, len(ts))
	for _, t := range ts {
		tasks = append(tasks, convertTask(t))
	}
	return tasks
}
