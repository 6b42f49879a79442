package api

import (
	"encoding/json"
	"net/http"

	"github.com/gashie/fundswitch/log"
)

// envelope is the response shape for every endpoint: a response code, a
// human-readable message, and an optional data payload.
type envelope struct {
	ResponseCode    int    `json:"responseCode"`
	ResponseMessage string `json:"responseMessage"`
	Data            any    `json:"data,omitempty"`
}

// httpWriteJSON writes a 200 response wrapping data in the envelope.
func httpWriteJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	body, err := json.Marshal(envelope{ResponseCode: 0, ResponseMessage: "OK", Data: data})
	if err != nil {
		ErrMarshalingServerJSONFailed.WithErr(err).Write(w)
		return
	}
	if _, err := w.Write(body); err != nil {
		log.Warnw("failed to write http response", "error", err)
	}
}

// httpWriteOK writes a bare 200 response with no payload, for accepted
// async operations such as the inbound callback endpoint.
func httpWriteOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(`{"responseCode":0,"responseMessage":"OK"}` + "\n")); err != nil {
		log.Warnw("failed to write on response", "error", err)
	}
}
