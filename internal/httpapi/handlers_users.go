package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"wealthbook/internal/core"
	"wealthbook/internal/store"
)

type createUserRequest struct {
	Username string `json:"username"`
	UserRole string `json:"userRole"`
}

type userResponse struct {
	UserID         string  `json:"userId"`
	Username       string  `json:"username"`
	CurrentBalance float64 `json:"currentBalance"`
	UserRole       string  `json:"userRole"`
}

func toUserResponse(a core.Account) userResponse {
	return userResponse{
		UserID:         a.UserID,
		Username:       a.Username,
		CurrentBalance: a.Balance.InexactFloat64(),
		UserRole:       string(a.Role),
	}
}

// handleCreateUser provisions an account: id U001, U002, ... and a
// username suffixed -1001, -1002, ... on the requested base name.
// Accounts start with a zero balance and ACTIVE status.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	base := sanitizeInput(req.Username)
	if base == "" {
		writeError(w, http.StatusBadRequest, core.ErrEmptyUsername.Error())
		return
	}

	ctx := r.Context()
	existing, err := s.accounts.List(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, core.ErrStorageUnavailable.Error())
		return
	}

	account := core.Account{
		UserID:   nextUserID(existing),
		Username: nextUsername(existing, base),
		Balance:  decimal.Zero,
		Role:     core.NormalizeRole(req.UserRole),
		Status:   core.StatusActive,
	}
	if err := account.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.accounts.Put(ctx, account); err != nil {
		writeError(w, http.StatusServiceUnavailable, core.ErrStorageUnavailable.Error())
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(account))
}

// handleListUsers returns every account that has not been soft-deleted.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.accounts.List(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, core.ErrStorageUnavailable.Error())
		return
	}

	users := make([]userResponse, 0, len(accounts))
	for _, a := range accounts {
		if !a.IsActive() {
			continue
		}
		users = append(users, toUserResponse(a))
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")

	account, err := s.accounts.Get(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, core.ErrAccountNotFound.Error())
			return
		}
		writeError(w, http.StatusServiceUnavailable, core.ErrStorageUnavailable.Error())
		return
	}
	// Soft-deleted accounts read as missing.
	if !account.IsActive() {
		writeError(w, http.StatusNotFound, core.ErrAccountNotFound.Error())
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(account))
}

// handleDeleteUser soft-deletes: the account flips to INACTIVE and its
// ledger history stays intact.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")

	if err := s.accounts.UpdateStatus(r.Context(), userID, core.StatusInactive); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, core.ErrAccountNotFound.Error())
			return
		}
		writeError(w, http.StatusServiceUnavailable, core.ErrStorageUnavailable.Error())
		return
	}
	s.portfolioCache.Invalidate(userID)

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "User deleted successfully",
		"userId":  userID,
	})
}

func nextUserID(existing []core.Account) string {
	max := 0
	for _, a := range existing {
		if !strings.HasPrefix(a.UserID, "U") {
			continue
		}
		if n, err := strconv.Atoi(a.UserID[1:]); err == nil && n > max {
			max = n
		}
	}
	return fmt.Sprintf("U%03d", max+1)
}

// nextUsername suffixes the base name with a counter starting at 1001.
func nextUsername(existing []core.Account, base string) string {
	maxSuffix := 1000
	for _, a := range existing {
		if !strings.HasPrefix(a.Username, base+"-") {
			continue
		}
		suffix := a.Username[strings.LastIndex(a.Username, "-")+1:]
		if n, err := strconv.Atoi(suffix); err == nil && n > maxSuffix {
			maxSuffix = n
		}
	}
	return fmt.Sprintf("%s-%d", base, maxSuffix+1)
}
