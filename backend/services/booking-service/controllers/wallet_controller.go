package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperrors "github.com/satheshM/sakkaram-mobile-app/backend/services/common/errors"

	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/services"
)

type WalletController struct {
	wallets services.WalletService
}

func NewWalletController(svc services.WalletService) *WalletController {
	return &WalletController{wallets: svc}
}

type topUpRequest struct {
	Amount           decimal.Decimal `json:"amount" binding:"required,money"`
	PaymentMethod    string          `json:"paymentMethod"`
	GatewayReference string          `json:"gatewayReference"`
}

type withdrawRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"required,money"`
}

type deductRequest struct {
	UserID      string          `json:"userId" binding:"required"`
	Amount      decimal.Decimal `json:"amount" binding:"required,money"`
	BookingID   string          `json:"bookingId"`
	Description string          `json:"description"`
}

// Get handles GET /api/wallet
func (wc *WalletController) Get(ctx *gin.Context) {
	actor, ok := currentActor(ctx)
	if !ok {
		return
	}
	wallet, err := wc.wallets.GetOrCreate(ctx.Request.Context(), actor.UserID)
	if err != nil {
		apperrors.Respond(ctx, err)
		return
	}
	respondSuccess(ctx, http.StatusOK, "", wallet)
}

// Transactions handles GET /api/wallet/transactions?page=&limit=
func (wc *WalletController) Transactions(ctx *gin.Context) {
	actor, ok := currentActor(ctx)
	if !ok {
		return
	}
	page, limit := parsePaginationParams(ctx)
	txns, total, err := wc.wallets.Transactions(ctx.Request.Context(), actor.UserID, page, limit)
	if err != nil {
		apperrors.Respond(ctx, err)
		return
	}
	respondPage(ctx, http.StatusOK, txns, page, limit, total)
}

// TopUp handles POST /api/wallet/topup
func (wc *WalletController) TopUp(ctx *gin.Context) {
	actor, ok := currentActor(ctx)
	if !ok {
		return
	}
	var req topUpRequest
	if !bindJSON(ctx, &req) {
		return
	}
	txn, err := wc.wallets.TopUp(ctx.Request.Context(), actor.UserID, req.Amount, req.PaymentMethod, req.GatewayReference)
	if err != nil {
		apperrors.Respond(ctx, err)
		return
	}
	respondSuccess(ctx, http.StatusOK, "Wallet topped up", txn)
}

// Withdraw handles POST /api/wallet/withdraw
func (wc *WalletController) Withdraw(ctx *gin.Context) {
	actor, ok := currentActor(ctx)
	if !ok {
		return
	}
	var req withdrawRequest
	if !bindJSON(ctx, &req) {
		return
	}
	txn, err := wc.wallets.Withdraw(ctx.Request.Context(), actor.UserID, req.Amount)
	if err != nil {
		apperrors.Respond(ctx, err)
		return
	}
	respondSuccess(ctx, http.StatusOK, "Withdrawal recorded", txn)
}

// Audit handles GET /api/wallet/audit
func (wc *WalletController) Audit(ctx *gin.Context) {
	actor, ok := currentActor(ctx)
	if !ok {
		return
	}
	audit, err := wc.wallets.Audit(ctx.Request.Context(), actor.UserID)
	if err != nil {
		apperrors.Respond(ctx, err)
		return
	}
	respondSuccess(ctx, http.StatusOK, "", audit)
}

// Deduct handles POST /internal/wallet/deduct. Only other services call it.
func (wc *WalletController) Deduct(ctx *gin.Context) {
	var req deductRequest
	if !bindJSON(ctx, &req) {
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		apperrors.Respond(ctx, apperrors.Validation("Invalid userId"))
		return
	}
	var bookingID *uuid.UUID
	if req.BookingID != "" {
		id, err := uuid.Parse(req.BookingID)
		if err != nil {
			apperrors.Respond(ctx, apperrors.Validation("Invalid bookingId"))
			return
		}
		bookingID = &id
	}
	txn, err := wc.wallets.Deduct(ctx.Request.Context(), userID, req.Amount, bookingID, req.Description)
	if err != nil {
		apperrors.Respond(ctx, err)
		return
	}
	respondSuccess(ctx, http.StatusOK, "Amount deducted", txn)
}
