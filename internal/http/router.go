// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"zemi/internal/http/handlers"
	"zemi/internal/http/middleware"
	"zemi/internal/infra"
	"zemi/internal/modules/credit"
	"zemi/internal/modules/driver"
	"zemi/internal/modules/ledger"
	"zemi/internal/modules/payment"
	"zemi/internal/modules/rating"
	"zemi/internal/modules/settlement"
	"zemi/internal/modules/trip"
)

type RouterDeps struct {
	Allocator  *credit.Allocator
	Trips      *trip.Service
	Drivers    *driver.Service
	Settlement *settlement.Engine
	Ledger     *ledger.Service
	Ratings    *rating.Service
	Payments   *payment.Service
	Verifier   infra.TokenVerifier
	Logger     logrus.FieldLogger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Logging(deps.Logger), middleware.Recovery(deps.Logger), middleware.Metrics())

	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "OK") })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api", middleware.Auth(deps.Verifier))

	tripHandler := handlers.NewTripHandler(deps.Allocator, deps.Trips, deps.Ratings)
	api.POST("/trips", tripHandler.Request)
	api.GET("/trips/requested", tripHandler.ListRequested)
	api.GET("/trips/:id", tripHandler.Get)
	api.GET("/trips/:id/events", tripHandler.Events)
	api.POST("/trips/:id/accept", tripHandler.Accept)
	api.POST("/trips/:id/start", tripHandler.Start)
	api.POST("/trips/:id/complete", tripHandler.Complete)
	api.POST("/trips/:id/cancel", tripHandler.Cancel)
	api.POST("/trips/:id/ratings", tripHandler.Rate)
	api.GET("/trips/:id/ratings", tripHandler.Ratings)
	api.GET("/users/:id/ratings", tripHandler.UserRatings)

	creditHandler := handlers.NewCreditHandler(deps.Ledger, deps.Payments)
	api.GET("/plans", creditHandler.Plans)
	api.GET("/credits", creditHandler.List)
	api.POST("/credits/purchase", creditHandler.Purchase)

	driverHandler := handlers.NewDriverHandler(deps.Drivers, deps.Settlement, deps.Ledger, deps.Payments)
	api.GET("/drivers/me", driverHandler.Me)
	api.GET("/drivers/me/eligibility", driverHandler.Eligibility)
	api.PUT("/drivers/me/activation", driverHandler.SetActivation)
	api.POST("/drivers/me/subscription/purchase", driverHandler.PurchaseSubscription)
	api.POST("/drivers/me/withdrawals", driverHandler.Withdraw)
	api.GET("/drivers/me/transactions", driverHandler.Transactions)

	adminHandler := handlers.NewAdminHandler(deps.Drivers, deps.Ledger)
	api.PUT("/admin/drivers/:id/approval", adminHandler.SetApproval)
	api.POST("/admin/credits", adminHandler.GrantCredit)

	return r
}
