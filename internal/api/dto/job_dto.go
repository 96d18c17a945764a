package dto

// TranscribeRequest is the body of POST /transcribe-audio
type TranscribeRequest struct {
	AudioURL string `json:"audioUrl"`
}

type TranscribeAcceptedResponse struct {
	Status  string `json:"status"`
	JobID   string `json:"jobId"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// JobStatusResponse is the owner's view of a transcription job
type JobStatusResponse struct {
	JobID     string  `json:"jobId"`
	Status    string  `json:"status"`
	Attempts  int     `json:"attempts"`
	Result    *string `json:"result,omitempty"`
	LastError *string `json:"lastError,omitempty"`
	CreatedAt string  `json:"createdAt"`
	UpdatedAt string  `json:"updatedAt"`
}

type UploadResponse struct {
	AudioURL string `json:"audioUrl"`
}
