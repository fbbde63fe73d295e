package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/satheshM/sakkaram-mobile-app/backend/services/common/errors"

	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/services"
)

// PaymentController exposes payment initiation, verification and refunds.
type PaymentController struct {
	payments services.PaymentService
}

func NewPaymentController(svc services.PaymentService) *PaymentController {
	return &PaymentController{payments: svc}
}

type initiatePaymentRequest struct {
	BookingID string `json:"bookingId" binding:"required"`
}

type callbackRequest struct {
	OrderID string `json:"orderId" binding:"required"`
}

// Initiate handles POST /api/payments/initiate
func (pc *PaymentController) Initiate(ctx *gin.Context) {
	actor, ok := currentActor(ctx)
	if !ok {
		return
	}
	var req initiatePaymentRequest
	if !bindJSON(ctx, &req) {
		return
	}
	bookingID, err := uuid.Parse(req.BookingID)
	if err != nil {
		apperrors.Respond(ctx, apperrors.Validation("Invalid bookingId"))
		return
	}
	res, err := pc.payments.Initiate(ctx.Request.Context(), bookingID, actor.UserID)
	if err != nil {
		apperrors.Respond(ctx, err)
		return
	}
	if res.Reused {
		respondSuccess(ctx, http.StatusOK, "Payment already in progress", res)
		return
	}
	respondSuccess(ctx, http.StatusCreated, "Payment initiated", res)
}

// Verify handles GET /api/payments/verify/:orderId
func (pc *PaymentController) Verify(ctx *gin.Context) {
	pc.verify(ctx, ctx.Param("orderId"))
}

// Callback handles POST /api/payments/callback, the browser return from the
// gateway checkout page.
func (pc *PaymentController) Callback(ctx *gin.Context) {
	var req callbackRequest
	if !bindJSON(ctx, &req) {
		return
	}
	pc.verify(ctx, req.OrderID)
}

func (pc *PaymentController) verify(ctx *gin.Context, orderID string) {
	actor, ok := currentActor(ctx)
	if !ok {
		return
	}
	if orderID == "" {
		apperrors.Respond(ctx, apperrors.Validation("orderId is required"))
		return
	}
	res, err := pc.payments.Verify(ctx.Request.Context(), orderID, actor)
	if err != nil {
		apperrors.Respond(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success": res.Status != services.SettlementFailed,
		"message": res.Message,
		"data":    res,
	})
}

// Refund handles POST /api/payments/refund/:bookingId
func (pc *PaymentController) Refund(ctx *gin.Context) {
	actor, ok := currentActor(ctx)
	if !ok {
		return
	}
	bookingID, ok := uuidParam(ctx, "bookingId", "booking id")
	if !ok {
		return
	}
	var req reasonRequest
	if !bindOptionalJSON(ctx, &req) {
		return
	}
	res, err := pc.payments.Refund(ctx.Request.Context(), bookingID, actor, req.Reason)
	if err != nil {
		apperrors.Respond(ctx, err)
		return
	}
	respondSuccess(ctx, http.StatusOK, "Refund initiated", res)
}

// ForBooking handles GET /api/payments/booking/:bookingId
func (pc *PaymentController) ForBooking(ctx *gin.Context) {
	actor, ok := currentActor(ctx)
	if !ok {
		return
	}
	bookingID, ok := uuidParam(ctx, "bookingId", "booking id")
	if !ok {
		return
	}
	payment, err := pc.payments.PaymentForBooking(ctx.Request.Context(), bookingID, actor)
	if err != nil {
		apperrors.Respond(ctx, err)
		return
	}
	respondSuccess(ctx, http.StatusOK, "", payment)
}
