package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"wealthbook/internal/core"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeDomainError maps a domain error to an HTTP status. Unknown
// accounts are a 404 on read endpoints and a 400 on mutations, per the
// usual REST reading of the two cases.
func writeDomainError(w http.ResponseWriter, err error, missingIsNotFound bool) {
	writeError(w, statusFor(err, missingIsNotFound), err.Error())
}

var businessErrors = []error{
	core.ErrInvalidAmount,
	core.ErrInvalidQuantity,
	core.ErrInvalidPrice,
	core.ErrInvalidSide,
	core.ErrInvalidInstrument,
	core.ErrSameAccount,
	core.ErrAccountInactive,
	core.ErrInsufficientBalance,
	core.ErrInsufficientHoldings,
	core.ErrEmptyUserID,
	core.ErrEmptyUsername,
	core.ErrNegativeBalance,
	core.ErrInvalidRole,
	core.ErrInvalidStatus,
	core.ErrInvalidDirection,
}

func statusFor(err error, missingIsNotFound bool) int {
	switch {
	case errors.Is(err, core.ErrAccountNotFound):
		if missingIsNotFound {
			return http.StatusNotFound
		}
		return http.StatusBadRequest
	case errors.Is(err, core.ErrConcurrentUpdateConflict):
		return http.StatusConflict
	case errors.Is(err, core.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrPartialFailureRolledBack):
		return http.StatusInternalServerError
	}
	for _, be := range businessErrors {
		if errors.Is(err, be) {
			return http.StatusBadRequest
		}
	}
	return http.StatusInternalServerError
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// generateRequestID creates a unique request ID for tracing.
func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}
