// README: Driver gateway handlers: presence, vehicle type and the offer flow.
package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ecoshare/internal/http/middleware"
	"ecoshare/internal/modules/offer"
	"ecoshare/internal/types"
)

// Presence is satisfied by location.Reporter.
type Presence interface {
	ReportPosition(ctx context.Context, id types.ID, p types.Point) error
	ReportOnline(ctx context.Context, id types.ID, online bool) error
}

type VehicleStore interface {
	SetVehicleType(ctx context.Context, id types.ID, vehicleType string) error
}

type DriverHandler struct {
	sessions *offer.Registry
	presence Presence
	vehicles VehicleStore
	log      *zap.Logger
}

func NewDriverHandler(sessions *offer.Registry, presence Presence, vehicles VehicleStore, log *zap.Logger) *DriverHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &DriverHandler{sessions: sessions, presence: presence, vehicles: vehicles, log: log}
}

type onlineRequest struct {
	Online *bool `json:"online"`
}

type positionRequest struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

type vehicleRequest struct {
	VehicleType string `json:"vehicle_type"`
}

// session resolves the caller's session; the uid is the driver id.
func (h *DriverHandler) session(c *gin.Context) (*offer.Session, bool) {
	uid := middleware.CallerUID(c)
	if uid == "" {
		writeError(c, http.StatusUnauthorized, "unauthenticated")
		return nil, false
	}
	s, err := h.sessions.Get(types.ID(uid))
	if err != nil {
		writeDispatchError(c, err)
		return nil, false
	}
	return s, true
}

func (h *DriverHandler) SetOnline(c *gin.Context) {
	var req onlineRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Online == nil {
		writeError(c, http.StatusBadRequest, "online is required")
		return
	}
	s, ok := h.session(c)
	if !ok {
		return
	}
	// The record write is best-effort; the session follows the toggle regardless.
	if err := h.presence.ReportOnline(c.Request.Context(), s.DriverID(), *req.Online); err != nil {
		h.log.Warn("online report failed", zap.String("driver_id", string(s.DriverID())), zap.Error(err))
	}
	if err := s.SetOnline(*req.Online); err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toSnapshotView(s.Snapshot()))
}

func (h *DriverHandler) UpdateLocation(c *gin.Context) {
	var req positionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Lat == nil || req.Lng == nil {
		writeError(c, http.StatusBadRequest, "lat and lng are required")
		return
	}
	uid := middleware.CallerUID(c)
	err := h.presence.ReportPosition(c.Request.Context(), types.ID(uid), types.Point{Lat: *req.Lat, Lng: *req.Lng})
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *DriverHandler) SetVehicleType(c *gin.Context) {
	var req vehicleRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.VehicleType) == "" {
		writeError(c, http.StatusBadRequest, "vehicle_type is required")
		return
	}
	vehicleType := strings.TrimSpace(req.VehicleType)
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := h.vehicles.SetVehicleType(c.Request.Context(), s.DriverID(), vehicleType); err != nil {
		writeDispatchError(c, err)
		return
	}
	if err := s.SetVehicleType(vehicleType); err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toSnapshotView(s.Snapshot()))
}

func (h *DriverHandler) GetOffer(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, toSnapshotView(s.Snapshot()))
}

func (h *DriverHandler) Accept(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	accepted, err := s.Accept(c.Request.Context())
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"ride": toRideView(*accepted)})
}

func (h *DriverHandler) Decline(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.Decline(c.Request.Context()); err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toSnapshotView(s.Snapshot()))
}

func (h *DriverHandler) RideFinished(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if s.Snapshot().State != offer.StateRideAccepted {
		writeDispatchError(c, offer.ErrNoRide)
		return
	}
	// The record goes back online before the session re-subscribes, so its
	// first selection already counts this driver. Staleness may have demoted
	// it during a long ride.
	if err := h.presence.ReportOnline(c.Request.Context(), s.DriverID(), true); err != nil {
		h.log.Warn("online report after ride failed", zap.String("driver_id", string(s.DriverID())), zap.Error(err))
	}
	if err := s.RideFinished(); err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toSnapshotView(s.Snapshot()))
}

// SignOut drops the session with its live query and timers.
func (h *DriverHandler) SignOut(c *gin.Context) {
	uid := types.ID(middleware.CallerUID(c))
	h.sessions.Remove(uid)
	if err := h.presence.ReportOnline(c.Request.Context(), uid, false); err != nil {
		h.log.Warn("offline report on sign-out failed", zap.String("driver_id", string(uid)), zap.Error(err))
	}
	c.Status(http.StatusNoContent)
}
