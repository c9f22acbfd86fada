// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ecoshare/internal/clock"
	"ecoshare/internal/http/handlers"
	"ecoshare/internal/http/middleware"
	"ecoshare/internal/infra"
	"ecoshare/internal/modules/earnings"
	"ecoshare/internal/modules/events"
	"ecoshare/internal/modules/location"
	"ecoshare/internal/modules/offer"
)

type RouterDeps struct {
	Sessions *offer.Registry
	Presence handlers.Presence
	Vehicles handlers.VehicleStore
	Nearby   location.Finder
	Earnings earnings.DailyReader
	History  events.History
	Clock    clock.Clock
	Verifier infra.TokenVerifier
	Log      *zap.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	r := gin.New()
	r.Use(middleware.Recovery(log), middleware.RequestID(), middleware.Logging(log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api", middleware.Auth(deps.Verifier))

	driverHandler := handlers.NewDriverHandler(deps.Sessions, deps.Presence, deps.Vehicles, log)
	drv := api.Group("/driver")
	drv.PUT("/online", driverHandler.SetOnline)
	drv.PUT("/location", driverHandler.UpdateLocation)
	drv.PUT("/vehicle", driverHandler.SetVehicleType)
	drv.GET("/offer", driverHandler.GetOffer)
	drv.POST("/offer/accept", driverHandler.Accept)
	drv.POST("/offer/decline", driverHandler.Decline)
	drv.GET("/offer/stream", driverHandler.Stream)
	drv.POST("/ride/finished", driverHandler.RideFinished)
	drv.DELETE("/session", driverHandler.SignOut)

	ledgerHandler := handlers.NewLedgerHandler(deps.Earnings, deps.History, deps.Clock)
	drv.GET("/earnings", ledgerHandler.Earnings)

	dispatchHandler := handlers.NewDispatchHandler(deps.Nearby)
	api.GET("/dispatch/nearby", dispatchHandler.Nearby)
	api.GET("/dispatch/rides/:id/events", ledgerHandler.RideEvents)

	return r
}
