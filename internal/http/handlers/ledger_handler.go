// README: Read-back views over what dispatch recorded: driver day totals and ride history.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ecoshare/internal/clock"
	"ecoshare/internal/http/middleware"
	"ecoshare/internal/modules/earnings"
	"ecoshare/internal/modules/events"
	"ecoshare/internal/types"
)

const roleAdmin = "admin"

type LedgerHandler struct {
	earnings earnings.DailyReader
	history  events.History
	clock    clock.Clock
}

// NewLedgerHandler accepts nil readers; their routes then answer 503.
func NewLedgerHandler(daily earnings.DailyReader, history events.History, clk clock.Clock) *LedgerHandler {
	if clk == nil {
		clk = clock.Real()
	}
	return &LedgerHandler{earnings: daily, history: history, clock: clk}
}

type earningsView struct {
	Date  string  `json:"date"`
	Total float64 `json:"total"`
	Rides int64   `json:"rides"`
}

// Earnings returns the caller's totals for the current day.
func (h *LedgerHandler) Earnings(c *gin.Context) {
	uid := middleware.CallerUID(c)
	if uid == "" {
		writeError(c, http.StatusUnauthorized, "unauthenticated")
		return
	}
	if h.earnings == nil {
		writeError(c, http.StatusServiceUnavailable, "earnings not available")
		return
	}
	now := h.clock.Now()
	day, err := h.earnings.Today(c.Request.Context(), types.ID(uid), now)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, earningsView{Date: now.Format("2006-01-02"), Total: day.Total, Rides: day.Rides})
}

// RideEvents lists the dispatch events of one ride, oldest first.
func (h *LedgerHandler) RideEvents(c *gin.Context) {
	if middleware.CallerRole(c) != roleAdmin {
		writeError(c, http.StatusForbidden, "admin only")
		return
	}
	if h.history == nil {
		writeError(c, http.StatusServiceUnavailable, "event history not configured")
		return
	}
	list, err := h.history.ListByRide(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	if list == nil {
		list = []events.Event{}
	}
	writeJSON(c, http.StatusOK, map[string]any{"events": list})
}
