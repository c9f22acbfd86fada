// README: Read-only dispatch queries.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ecoshare/internal/modules/location"
	"ecoshare/internal/types"
)

const (
	defaultRadiusKm = 5.0
	maxRadiusKm     = 50.0
)

type DispatchHandler struct {
	finder location.Finder
}

func NewDispatchHandler(finder location.Finder) *DispatchHandler {
	return &DispatchHandler{finder: finder}
}

// Nearby lists online drivers around lat,lng within radius_km, closest first.
func (h *DispatchHandler) Nearby(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		writeError(c, http.StatusBadRequest, "valid lat and lng are required")
		return
	}
	radius := defaultRadiusKm
	if v := c.Query("radius_km"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil || r <= 0 || r > maxRadiusKm {
			writeError(c, http.StatusBadRequest, "radius_km must be in (0, 50]")
			return
		}
		radius = r
	}
	drivers, err := h.finder.Nearby(c.Request.Context(), types.Point{Lat: lat, Lng: lng}, radius)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	if drivers == nil {
		drivers = []location.Nearby{}
	}
	writeJSON(c, http.StatusOK, map[string]any{"drivers": drivers})
}
