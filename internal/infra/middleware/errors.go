package middleware

import (
	"encoding/json"
	"net/http"
)

type errorBody struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		Retryable bool   `json:"retryable"`
	} `json:"error"`
}

// writeError writes the API error envelope.
func writeError(w http.ResponseWriter, status int, code, msg string, retryable bool) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = msg
	body.Error.Retryable = retryable

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
