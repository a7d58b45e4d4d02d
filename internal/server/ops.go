package server

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/orderdesk/internal/queue/streams"
)

// BacklogReporter reports the depth of the human-agent queue.
type BacklogReporter interface {
	Backlog(ctx context.Context) (streams.LagMetrics, error)
}

// OpsHandler exposes operational endpoints.
type OpsHandler struct {
	Handoffs BacklogReporter
}

// Register mounts ops endpoints under the provided group. It expects authentication to be applied by caller.
func (h *OpsHandler) Register(g *echo.Group) {
	g.GET("/handoffs", h.handoffs)
}

// handoffs returns the handoff queue backlog.
//
//	@Summary	Handoff queue backlog
//	@Tags		ops
//	@Security	BearerAuth
//	@Produce	json
//	@Success	200	{object}	HandoffBacklogResponse
//	@Failure	503	{object}	HTTPError
//	@Router		/v1/ops/handoffs [get]
func (h *OpsHandler) handoffs(c echo.Context) error {
	if h.Handoffs == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "handoff queue not configured")
	}
	m, err := h.Handoffs.Backlog(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, HandoffBacklogResponse{
		Pending:    m.Pending,
		Lag:        m.Lag,
		Consumers:  m.Consumers,
		OldestIdle: m.OldestIdle,
	})
}
