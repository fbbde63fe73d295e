package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/satheshM/sakkaram-mobile-app/backend/services/common/auth"

	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/controllers"
	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/middleware"
	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/models"
)

// Controllers groups the handlers mounted by Register.
type Controllers struct {
	Bookings *controllers.BookingController
	Payments *controllers.PaymentController
	Wallets  *controllers.WalletController
}

// Register mounts every route of the service on r.
func Register(r *gin.Engine, c Controllers, validator *auth.TokenValidator, internalToken string) {
	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok", "service": "booking-service"})
	})

	authed := middleware.AuthMiddleware(validator)

	bookings := r.Group("/api/bookings", authed)
	bookings.POST("", middleware.RequireRole(models.RoleFarmer), c.Bookings.Create)
	bookings.GET("", c.Bookings.List)
	bookings.GET("/:id", c.Bookings.Get)
	bookings.PUT("/:id/accept", c.Bookings.Accept)
	bookings.PUT("/:id/reject", c.Bookings.Reject)
	bookings.PUT("/:id/start", c.Bookings.Start)
	bookings.PUT("/:id/complete", c.Bookings.Complete)
	bookings.PUT("/:id/cancel", c.Bookings.Cancel)

	// Gateway webhook (no auth, signature checked by the handler)
	r.POST("/api/payments/webhook", c.Payments.Webhook)

	payments := r.Group("/api/payments", authed)
	payments.POST("/initiate", middleware.RequireRole(models.RoleFarmer), c.Payments.Initiate)
	payments.GET("/verify/:orderId", c.Payments.Verify)
	payments.POST("/callback", c.Payments.Callback)
	payments.POST("/refund/:bookingId", c.Payments.Refund)
	payments.GET("/booking/:bookingId", c.Payments.ForBooking)

	wallet := r.Group("/api/wallet", authed)
	wallet.GET("", c.Wallets.Get)
	wallet.GET("/transactions", c.Wallets.Transactions)
	wallet.POST("/topup", c.Wallets.TopUp)
	wallet.POST("/withdraw", c.Wallets.Withdraw)
	wallet.GET("/audit", c.Wallets.Audit)

	internal := r.Group("/internal", middleware.InternalOnly(internalToken))
	internal.POST("/wallet/deduct", c.Wallets.Deduct)
}
