package handlers

// ErrorResponse is the standard API error body (message only).
type ErrorResponse struct {
	Message string `json:"message"`
}

// DataResponse wraps successful payloads in a data envelope.
type DataResponse struct {
	Data any `json:"data"`
}
