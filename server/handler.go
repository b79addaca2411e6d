package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/gridpath/gridpath"
	"github.com/gridpath/gridpath/internal/metrics"
)

// shortestRequest is the POST /shortest body. Cells are row-major,
// non-negative; values at or above the wall threshold are impassable.
type shortestRequest struct {
	Data   []uint32 `json:"data"`
	Width  int      `json:"width"`
	Height int      `json:"height"`
}

// shortestResponse carries the outcome. Path elements are [x, y]
// coordinate pairs from start to goal; empty when no path exists.
// Message is only set on errors.
type shortestResponse struct {
	Status  string   `json:"status"`
	Path    [][2]int `json:"path"`
	Message string   `json:"message,omitempty"`
}

func (s *Server) handleShortest(c fiber.Ctx) error {
	started := time.Now()
	requestID := uuid.NewString()

	var req shortestRequest
	if err := c.Bind().JSON(&req); err != nil {
		return s.reject(c, requestID, started, "request body is not valid JSON")
	}
	if req.Width < 1 || req.Height < 1 || req.Width > math.MaxInt32 || req.Height > math.MaxInt32 {
		return s.reject(c, requestID, started,
			fmt.Sprintf("width and height must be between 1 and %d, got %dx%d",
				math.MaxInt32, req.Width, req.Height))
	}
	// The product is taken in int64 so oversized dimensions cannot wrap
	// past the checks below.
	cells := int64(req.Width) * int64(req.Height)
	if int64(len(req.Data)) != cells {
		return s.reject(c, requestID, started,
			fmt.Sprintf("data holds %d cells, want width*height = %d",
				len(req.Data), cells))
	}
	if s.cfg.MaxCells > 0 && cells > int64(s.cfg.MaxCells) {
		return s.reject(c, requestID, started,
			fmt.Sprintf("grid of %d cells exceeds limit of %d",
				cells, s.cfg.MaxCells))
	}

	grid, err := gridpath.NewGrid(req.Width, req.Height, req.Data)
	if err != nil {
		return s.reject(c, requestID, started, err.Error())
	}
	metrics.GridCells.Observe(float64(grid.Len()))

	ctx, cancel := context.WithTimeout(c.Context(), s.cfg.Timeout)
	defer cancel()

	res, err := s.finder.FindPath(ctx, grid)
	s.observeBuffers()
	if err != nil {
		// Sentinel overflow is still the client's input.
		if errors.Is(err, gridpath.ErrInvalidGrid) {
			return s.reject(c, requestID, started, err.Error())
		}
		s.log.Error("compute failed",
			"request_id", requestID,
			"width", req.Width,
			"height", req.Height,
			"elapsed", time.Since(started),
			"err", err)
		s.observe("error", started)
		return c.Status(fiber.StatusBadGateway).JSON(shortestResponse{
			Status:  "error",
			Path:    [][2]int{},
			Message: err.Error(),
		})
	}

	path := make([][2]int, len(res.Path))
	for i, n := range res.Path {
		path[i] = [2]int{n.X, n.Y}
	}

	s.log.Info("shortest path served",
		"request_id", requestID,
		"width", req.Width,
		"height", req.Height,
		"status", res.Status,
		"cost", res.TotalCost,
		"iterations", res.Iterations,
		"elapsed", time.Since(started))
	metrics.Iterations.Observe(float64(res.Iterations))
	s.observe(res.Status, started)

	return c.JSON(shortestResponse{Status: res.Status, Path: path})
}

// reject answers a client-side input error. These are never retried by
// switching devices; the request itself is wrong.
func (s *Server) reject(c fiber.Ctx, requestID string, started time.Time, msg string) error {
	s.log.Warn("request rejected", "request_id", requestID, "reason", msg)
	s.observe("error", started)
	return c.Status(fiber.StatusBadRequest).JSON(shortestResponse{
		Status:  "error",
		Path:    [][2]int{},
		Message: msg,
	})
}

func (s *Server) observe(status string, started time.Time) {
	metrics.Requests.WithLabelValues(status).Inc()
	metrics.RequestDuration.WithLabelValues(status).Observe(time.Since(started).Seconds())
}

func (s *Server) observeBuffers() {
	if st, ok := s.backend.(statser); ok {
		snap := st.Stats()
		metrics.ObserveBuffers(snap.LiveBuffers, snap.LiveBytes)
	}
}
