package pkg

import (
	"encoding/json"
	"net/http"

	log "github.com/sirupsen/logrus"
)

var ContentType = struct {
	JSON string
	Text string
}{
	JSON: "application/json",
	Text: "text/plain; charset=utf-8",
}

type MessageResponse struct {
	Message string `json:"message"`
}

func WriteResponse(w http.ResponseWriter, contentType, message string, statusCode int) {
	WriteResponseBytes(w, contentType, []byte(message), statusCode)
}

func WriteResponseBytes(w http.ResponseWriter, contentType string, message []byte, statusCode int) {
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.WriteHeader(statusCode)

	if _, err := w.Write(message); err != nil {
		log.Errorf("failed to write response [%s]: %s", message, err)
	}
}

// WriteJSONResponse marshals v and writes it with the given status code.
func WriteJSONResponse(w http.ResponseWriter, statusCode int, v any) {
	respBytes, err := json.Marshal(v)
	if err != nil {
		log.Errorf("marshal response %T: %s", v, err)
		WriteJSONMessage(w, http.StatusInternalServerError, "Interner Serverfehler")
		return
	}
	WriteResponseBytes(w, ContentType.JSON, respBytes, statusCode)
}

// WriteJSONMessage writes {"message": msg}, the shape of every
// user facing status and error reply.
func WriteJSONMessage(w http.ResponseWriter, statusCode int, msg string) {
	respBytes, err := json.Marshal(MessageResponse{Message: msg})
	if err != nil {
		log.Errorf("marshal message response: %s", err)
		return
	}
	WriteResponseBytes(w, ContentType.JSON, respBytes, statusCode)
}
