package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"wealthbook/internal/core"
	"wealthbook/internal/store"
)

type transferRequest struct {
	SourceUserID      string          `json:"sourceUserId"`
	DestinationUserID string          `json:"destinationUserId"`
	Amount            decimal.Decimal `json:"amount"`
}

type transferResponse struct {
	Message             string `json:"message"`
	SourceUserID        string `json:"sourceUserId"`
	SourceUsername      string `json:"sourceUsername"`
	DestinationUserID   string `json:"destinationUserId"`
	DestinationUsername string `json:"destinationUsername"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.SourceUserID = sanitizeInput(req.SourceUserID)
	req.DestinationUserID = sanitizeInput(req.DestinationUserID)
	if req.SourceUserID == "" || req.DestinationUserID == "" {
		writeError(w, http.StatusBadRequest, core.ErrEmptyUserID.Error())
		return
	}

	ctx := r.Context()
	result, err := s.engine.Transfer(ctx, req.SourceUserID, req.DestinationUserID, req.Amount)
	if err != nil {
		slog.ErrorContext(ctx, "Transfer failed",
			"source_id", req.SourceUserID,
			"destination_id", req.DestinationUserID,
			"state", result.State,
			"error", err)
		writeDomainError(w, err, false)
		return
	}

	s.portfolioCache.Invalidate(req.SourceUserID)
	s.portfolioCache.Invalidate(req.DestinationUserID)

	resp := transferResponse{
		Message:           "Transfer completed successfully",
		SourceUserID:      req.SourceUserID,
		DestinationUserID: req.DestinationUserID,
	}
	if src, err := s.accounts.Get(ctx, req.SourceUserID); err == nil {
		resp.SourceUsername = src.Username
	}
	if dst, err := s.accounts.Get(ctx, req.DestinationUserID); err == nil {
		resp.DestinationUsername = dst.Username
	}

	slog.InfoContext(ctx, "Transfer completed",
		"source_id", req.SourceUserID,
		"destination_id", req.DestinationUserID,
		"debit_transaction_id", result.DebitRecord.TransactionID,
		"credit_transaction_id", result.CreditRecord.TransactionID)
	writeJSON(w, http.StatusOK, resp)
}

type transactionDTO struct {
	TransactionID   string  `json:"transactionId"`
	UserID          string  `json:"userId"`
	CounterpartyID  string  `json:"counterpartyId"`
	TransactionType string  `json:"transactionType"`
	Amount          float64 `json:"amount"`
	Timestamp       string  `json:"timestamp"`
	StockName       string  `json:"stockName,omitempty"`
	Quantity        float64 `json:"quantity,omitempty"`
	PricePerUnit    float64 `json:"pricePerUnit,omitempty"`
}

func toTransactionDTO(rec core.TransactionRecord) transactionDTO {
	dto := transactionDTO{
		TransactionID:   rec.TransactionID,
		UserID:          rec.UserID,
		CounterpartyID:  rec.CounterpartyID,
		TransactionType: string(rec.Direction),
		Amount:          rec.Amount.InexactFloat64(),
		Timestamp:       rec.Timestamp,
	}
	if rec.IsInvestment() {
		dto.StockName = rec.Instrument
		dto.Quantity = rec.Quantity.InexactFloat64()
		dto.PricePerUnit = rec.PricePerUnit.InexactFloat64()
	}
	return dto
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))

	var (
		records []core.TransactionRecord
		err     error
	)
	if userID == "" {
		records, err = s.ledger.List(ctx)
	} else {
		records, err = s.ledger.ListByAccount(ctx, userID)
	}
	if err != nil {
		writeDomainError(w, err, true)
		return
	}

	dtos := make([]transactionDTO, 0, len(records))
	for _, rec := range records {
		dtos = append(dtos, toTransactionDTO(rec))
	}
	writeJSON(w, http.StatusOK, dtos)
}

type investRequest struct {
	UserID          string          `json:"userId"`
	SecuritySymbol  string          `json:"securitySymbol"`
	Quantity        decimal.Decimal `json:"quantity"`
	PricePerUnit    decimal.Decimal `json:"pricePerUnit"`
	TransactionType string          `json:"transactionType"`
}

type investResponse struct {
	UserID          string  `json:"userId"`
	TransactionID   string  `json:"transactionId"`
	StockName       string  `json:"stockName"`
	PricePerUnit    float64 `json:"pricePerUnit"`
	Quantity        float64 `json:"quantity"`
	Amount          float64 `json:"amount"`
	TransactionType string  `json:"transactionType"`
	TransactionDate string  `json:"transactionDate"`
	CurrentBalance  float64 `json:"currentBalance"`
}

func (s *Server) handleInvest(w http.ResponseWriter, r *http.Request) {
	var req investRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.UserID = sanitizeInput(req.UserID)
	req.SecuritySymbol = sanitizeInput(req.SecuritySymbol)
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, core.ErrEmptyUserID.Error())
		return
	}
	side, err := core.NormalizeSide(req.TransactionType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	result, err := s.engine.InvestInSecurity(ctx, req.UserID, req.SecuritySymbol, req.Quantity, req.PricePerUnit, side)
	if err != nil {
		slog.ErrorContext(ctx, "Investment failed",
			"user_id", req.UserID,
			"stock", req.SecuritySymbol,
			"side", side,
			"error", err)
		writeDomainError(w, err, false)
		return
	}

	s.portfolioCache.Invalidate(req.UserID)

	slog.InfoContext(ctx, "Investment completed",
		"user_id", req.UserID,
		"stock", req.SecuritySymbol,
		"side", side,
		"transaction_id", result.Record.TransactionID)
	writeJSON(w, http.StatusOK, investResponse{
		UserID:          req.UserID,
		TransactionID:   result.Record.TransactionID,
		StockName:       result.Record.Instrument,
		PricePerUnit:    result.Record.PricePerUnit.InexactFloat64(),
		Quantity:        result.Record.Quantity.InexactFloat64(),
		Amount:          result.Amount.InexactFloat64(),
		TransactionType: string(side),
		TransactionDate: result.Record.Timestamp,
		CurrentBalance:  result.NewBalance.InexactFloat64(),
	})
}

type portfolioStock struct {
	StockName       string  `json:"stockName"`
	PricePerUnit    float64 `json:"pricePerUnit"`
	Quantity        float64 `json:"quantity"`
	Amount          float64 `json:"amount"`
	TransactionType string  `json:"transactionType"`
	TransactionDate string  `json:"transactionDate"`
}

type portfolioResponse struct {
	UserID         string           `json:"userId"`
	Username       string           `json:"username"`
	UserRole       string           `json:"userRole"`
	CurrentBalance float64          `json:"currentBalance"`
	Stocks         []portfolioStock `json:"stocks"`
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.PathValue("userId")

	if resp, ok := s.portfolioCache.Get(userID); ok {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	account, err := s.accounts.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, core.ErrAccountNotFound.Error())
			return
		}
		writeError(w, http.StatusServiceUnavailable, core.ErrStorageUnavailable.Error())
		return
	}

	positions, err := s.positions.Reconstruct(ctx, userID)
	if err != nil {
		writeDomainError(w, err, true)
		return
	}

	stocks := make([]portfolioStock, 0, len(positions))
	for _, p := range positions {
		stocks = append(stocks, portfolioStock{
			StockName:       p.Instrument,
			PricePerUnit:    p.WeightedAveragePrice.InexactFloat64(),
			Quantity:        p.NetQuantity.InexactFloat64(),
			Amount:          p.NetQuantity.Mul(p.WeightedAveragePrice).InexactFloat64(),
			TransactionType: string(p.LastDirection),
			TransactionDate: p.LastActivity,
		})
	}

	resp := portfolioResponse{
		UserID:         account.UserID,
		Username:       account.Username,
		UserRole:       string(account.Role),
		CurrentBalance: account.Balance.InexactFloat64(),
		Stocks:         stocks,
	}
	s.portfolioCache.Set(userID, resp)
	writeJSON(w, http.StatusOK, resp)
}
