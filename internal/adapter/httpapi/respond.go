package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"remotedev/internal/domain"
)

type errorBody struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		Retryable bool   `json:"retryable"`
	} `json:"error"`
}

type messageBody struct {
	Message string `json:"message"`
}

// statusOf maps an error class to an HTTP status.
func statusOf(err error) int {
	switch domain.ClassOf(err) {
	case domain.ClassNotFound:
		return http.StatusNotFound
	case domain.ClassInput:
		return http.StatusBadRequest
	case domain.ClassPermission:
		return http.StatusForbidden
	case domain.ClassExecution:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		a.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}

	var body errorBody
	body.Error.Code = string(domain.ErrorCodeOf(err))
	body.Error.Message = clientMessage(err)
	body.Error.Retryable = domain.IsRetryable(err)
	writeJSON(w, status, body)
}

// clientMessage prefers a domain error's detail over its full chain.
func clientMessage(err error) string {
	var de *domain.DomainError
	if errors.As(err, &de) && de.Detail != "" {
		return de.Detail
	}
	return err.Error()
}

func invalid(detail string) error {
	return domain.NewSubSystemError("http", "Request", domain.ErrInvalidInput, detail)
}

func requireQuery(r *http.Request, name string) (string, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return "", invalid(name + " is required")
	}
	return v, nil
}

func intQuery(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, invalid(name + " must be a non-negative integer")
	}
	return n, nil
}

func readBody(r *http.Request, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, invalid("read body: " + err.Error())
	}
	if int64(len(data)) > limit {
		return nil, invalid("request body too large")
	}
	return data, nil
}
