package api

import "time"

// Task is the wire representation of a print task. Field names are part of
// the public contract and mirror the persisted columns exactly.
type Task struct {
	Id                 uint      `json:"id"`
	OriginalFilename   string    `json:"original_filename"`
	UploaderEmail      string    `json:"uploader_email"`
	StorageType        string    `json:"storage_type"`
	FileIdentifier     string    `json:"file_identifier"`
	GdriveDownloadPath *string   `json:"gdrive_download_path"`
	TimeToPrint        time.Time `json:"time_to_print"`
	ColorMode          string    `json:"color_mode"`
	PageSize           string    `json:"page_size"`
	Status             string    `json:"status"`
	CreatedAt          time.Time `json:"created_at"`
	ErrorMessage       *string   `json:"error_message"`
}

type SubmitTaskResponse struct {
	Message       string    `json:"message"`
	TaskId        uint      `json:"task_id"`
	Filename      string    `json:"filename"`
	UploaderEmail string    `json:"uploader_email"`
	Storage       string    `json:"storage"`
	PrintTime     time.Time `json:"print_time"`
	Status        string    `json:"status"`
}

type ListTasksQuery struct {
	Skip  int `schema:"skip"`
	Limit int `schema:"limit"`
}
