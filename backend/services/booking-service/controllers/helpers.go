package controllers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/satheshM/sakkaram-mobile-app/backend/services/common/errors"

	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/middleware"
	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/services"
)

type paginationMeta struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

func respondSuccess(ctx *gin.Context, status int, message string, data interface{}) {
	body := gin.H{"success": true, "data": data}
	if message != "" {
		body["message"] = message
	}
	ctx.JSON(status, body)
}

func respondPage(ctx *gin.Context, status int, data interface{}, page, limit int, total int64) {
	pages := int((total + int64(limit) - 1) / int64(limit))
	ctx.JSON(status, gin.H{
		"success":    true,
		"data":       data,
		"pagination": paginationMeta{Page: page, Limit: limit, Total: total, TotalPages: pages},
	})
}

// currentActor returns the authenticated caller, writing a 401 when there is
// none.
func currentActor(ctx *gin.Context) (services.Actor, bool) {
	id, ok := middleware.CurrentUserID(ctx)
	if !ok {
		apperrors.Respond(ctx, apperrors.Unauthorized("Authentication required"))
		return services.Actor{}, false
	}
	return services.Actor{UserID: id, Role: middleware.CurrentRole(ctx)}, true
}

func uuidParam(ctx *gin.Context, name, label string) (uuid.UUID, bool) {
	id, err := uuid.Parse(ctx.Param(name))
	if err != nil {
		apperrors.Respond(ctx, apperrors.Validation("Invalid "+label))
		return uuid.Nil, false
	}
	return id, true
}

func bindJSON(ctx *gin.Context, v interface{}) bool {
	if err := ctx.ShouldBindJSON(v); err != nil {
		apperrors.Respond(ctx, apperrors.Validation("Invalid request").WithDetail("reason", err.Error()))
		return false
	}
	return true
}

// bindOptionalJSON is bindJSON for endpoints whose body may be omitted.
func bindOptionalJSON(ctx *gin.Context, v interface{}) bool {
	if ctx.Request.ContentLength == 0 {
		return true
	}
	return bindJSON(ctx, v)
}

// parsePaginationParams extracts and validates page/limit query params.
func parsePaginationParams(ctx *gin.Context) (int, int) {
	const maxLimit = 100
	pageInt, limitInt := 1, 10
	if p, err := strconv.Atoi(ctx.DefaultQuery("page", "1")); err == nil && p > 0 {
		pageInt = p
	}
	if l, err := strconv.Atoi(ctx.DefaultQuery("limit", "10")); err == nil && l > 0 {
		if l > maxLimit {
			l = maxLimit
		}
		limitInt = l
	}
	return pageInt, limitInt
}
