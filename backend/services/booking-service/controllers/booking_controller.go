package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperrors "github.com/satheshM/sakkaram-mobile-app/backend/services/common/errors"

	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/models"
	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/services"
)

// BookingController handles HTTP requests for the booking lifecycle.
type BookingController struct {
	bookings services.BookingService
}

func NewBookingController(svc services.BookingService) *BookingController {
	return &BookingController{bookings: svc}
}

type createBookingRequest struct {
	VehicleID       string           `json:"vehicleId" binding:"required"`
	ServiceType     string           `json:"serviceType" binding:"required"`
	ScheduledDate   string           `json:"scheduledDate" binding:"required"`
	ScheduledTime   string           `json:"scheduledTime"`
	LocationAddress string           `json:"locationAddress"`
	Latitude        *float64         `json:"latitude" binding:"required"`
	Longitude       *float64         `json:"longitude" binding:"required"`
	EstimatedHours  *decimal.Decimal `json:"estimatedHours" binding:"omitempty,positive"`
	LandSizeAcres   *decimal.Decimal `json:"landSizeAcres" binding:"omitempty,positive"`
	FarmerNotes     string           `json:"farmerNotes"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type completeBookingRequest struct {
	ActualHours *decimal.Decimal `json:"actualHours" binding:"omitempty,positive"`
	ActualArea  *decimal.Decimal `json:"actualArea" binding:"omitempty,positive"`
	Notes       string           `json:"notes"`
}

func parseDate(s string) (time.Time, error) {
	if d, err := time.Parse("2006-01-02", s); err == nil {
		return d, nil
	}
	return time.Parse(time.RFC3339, s)
}

// Create handles POST /api/bookings
func (bc *BookingController) Create(ctx *gin.Context) {
	actor, ok := currentActor(ctx)
	if !ok {
		return
	}
	var req createBookingRequest
	if !bindJSON(ctx, &req) {
		return
	}
	vehicleID, err := uuid.Parse(req.VehicleID)
	if err != nil {
		apperrors.Respond(ctx, apperrors.Validation("Invalid vehicleId"))
		return
	}
	date, err := parseDate(req.ScheduledDate)
	if err != nil {
		apperrors.Respond(ctx, apperrors.Validation("scheduledDate must be YYYY-MM-DD"))
		return
	}

	res, err := bc.bookings.Create(ctx.Request.Context(), services.CreateBookingInput{
		FarmerID:        actor.UserID,
		VehicleID:       vehicleID,
		ServiceType:     req.ServiceType,
		ScheduledDate:   date,
		ScheduledTime:   req.ScheduledTime,
		LocationAddress: req.LocationAddress,
		Latitude:        *req.Latitude,
		Longitude:       *req.Longitude,
		EstimatedHours:  req.EstimatedHours,
		LandSizeAcres:   req.LandSizeAcres,
		FarmerNotes:     req.FarmerNotes,
	})
	if err != nil {
		apperrors.Respond(ctx, err)
		return
	}
	respondSuccess(ctx, http.StatusCreated, "Booking created successfully", res)
}

// List handles GET /api/bookings?status=&page=&limit=
func (bc *BookingController) List(ctx *gin.Context) {
	actor, ok := currentActor(ctx)
	if !ok {
		return
	}
	page, limit := parsePaginationParams(ctx)
	bookings, total, err := bc.bookings.List(ctx.Request.Context(), actor, models.BookingStatus(ctx.Query("status")), page, limit)
	if err != nil {
		apperrors.Respond(ctx, err)
		return
	}
	respondPage(ctx, http.StatusOK, bookings, page, limit, total)
}

// Get handles GET /api/bookings/:id
func (bc *BookingController) Get(ctx *gin.Context) {
	actor, ok := currentActor(ctx)
	if !ok {
		return
	}
	id, ok := uuidParam(ctx, "id", "booking id")
	if !ok {
		return
	}
	booking, err := bc.bookings.Get(ctx.Request.Context(), id, actor)
	if err != nil {
		apperrors.Respond(ctx, err)
		return
	}
	respondSuccess(ctx, http.StatusOK, "", booking)
}

// Accept handles PUT /api/bookings/:id/accept
func (bc *BookingController) Accept(ctx *gin.Context) {
	bc.simpleTransition(ctx, "Booking accepted", bc.bookings.Accept)
}

// Start handles PUT /api/bookings/:id/start
func (bc *BookingController) Start(ctx *gin.Context) {
	bc.simpleTransition(ctx, "Work started", bc.bookings.Start)
}

// Reject handles PUT /api/bookings/:id/reject
func (bc *BookingController) Reject(ctx *gin.Context) {
	bc.reasonTransition(ctx, "Booking rejected", bc.bookings.Reject)
}

// Cancel handles PUT /api/bookings/:id/cancel
func (bc *BookingController) Cancel(ctx *gin.Context) {
	bc.reasonTransition(ctx, "Booking cancelled", bc.bookings.Cancel)
}

// Complete handles PUT /api/bookings/:id/complete
func (bc *BookingController) Complete(ctx *gin.Context) {
	actor, ok := currentActor(ctx)
	if !ok {
		return
	}
	id, ok := uuidParam(ctx, "id", "booking id")
	if !ok {
		return
	}
	var req completeBookingRequest
	if !bindOptionalJSON(ctx, &req) {
		return
	}
	res, err := bc.bookings.Complete(ctx.Request.Context(), id, actor, services.CompleteBookingInput{
		ActualHours: req.ActualHours,
		ActualArea:  req.ActualArea,
		Notes:       req.Notes,
	})
	if err != nil {
		apperrors.Respond(ctx, err)
		return
	}
	respondSuccess(ctx, http.StatusOK, "Booking completed", res)
}

type transitionFunc func(ctx context.Context, id uuid.UUID, actor services.Actor) (*models.Booking, error)

type reasonTransitionFunc func(ctx context.Context, id uuid.UUID, actor services.Actor, reason string) (*models.Booking, error)

func (bc *BookingController) simpleTransition(ctx *gin.Context, message string, fn transitionFunc) {
	bc.reasonTransition(ctx, message, func(c context.Context, id uuid.UUID, actor services.Actor, _ string) (*models.Booking, error) {
		return fn(c, id, actor)
	})
}

func (bc *BookingController) reasonTransition(ctx *gin.Context, message string, fn reasonTransitionFunc) {
	actor, ok := currentActor(ctx)
	if !ok {
		return
	}
	id, ok := uuidParam(ctx, "id", "booking id")
	if !ok {
		return
	}
	var req reasonRequest
	if !bindOptionalJSON(ctx, &req) {
		return
	}
	booking, err := fn(ctx.Request.Context(), id, actor, req.Reason)
	if err != nil {
		apperrors.Respond(ctx, err)
		return
	}
	respondSuccess(ctx, http.StatusOK, message, gin.H{"booking": booking})
}
