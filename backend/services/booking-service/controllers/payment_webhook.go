package controllers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/satheshM/sakkaram-mobile-app/backend/services/common/errors"
)

const maxWebhookBody = 1 << 20

// Webhook handles POST /api/payments/webhook. The signature covers the raw
// body, so it is read unparsed. Once the signature checks out the gateway
// always gets a 200; failed settlements are retried from the queue.
func (pc *PaymentController) Webhook(ctx *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxWebhookBody))
	if err != nil {
		apperrors.Respond(ctx, apperrors.Validation("Unreadable webhook body"))
		return
	}

	res, err := pc.payments.HandleWebhook(ctx.Request.Context(), ctx.Request.Header, body)
	if err != nil {
		apperrors.Respond(ctx, err)
		return
	}

	if res.Err != nil {
		ctx.JSON(http.StatusOK, gin.H{
			"success": false,
			"message": "Webhook received",
			"error":   apperrors.KindOf(res.Err),
		})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Webhook processed",
		"data":    res,
	})
}
