package handler

import (
	"encoding/json"
	"net/http"
)

type healthResponse struct {
	Status string `json:"status"`
	Rooms  int    `json:"rooms"`
}

// NewHealthHandler は稼働中のルーム数とともに 200 を返します。
func NewHealthHandler(rooms func() int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(healthResponse{Status: "ok", Rooms: rooms()})
	}
}
