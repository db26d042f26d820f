package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
)

func businessIDFromHeader(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Business-Id"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
