package dto

import "mime/multipart"

// VideoUploadRequest is the multipart body of /upload and /analyze.
type VideoUploadRequest struct {
	Video *multipart.FileHeader `form:"video" validate:"required"`
}

type SessionStatusResponse struct {
	Status string  `json:"status"`
	Error  *string `json:"error"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Records  int    `json:"records"`
}
