package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"net/http"
)

// GenerateCode mints a short room code. The hub enforces single-room
// occupancy, so a collision check against live rooms isn't needed here.
func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := 0; i < 6; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

// CreateRoom hands out a fresh room code; the caller then claims it over
// its websocket with a create_room envelope.
func CreateRoom() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code, err := GenerateCode()
		if err != nil {
			http.Error(w, "failed to generate code", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(struct {
			Code string `json:"code"`
		}{Code: code})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
