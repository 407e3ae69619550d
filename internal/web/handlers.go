// internal/web/handlers.go
package web

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/John-MustangGT/ntripwatch/internal/database"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
	defaultCasterPort   = 2101
)

// CasterRequest is the body of caster create and update calls. An empty
// password on update keeps the stored one.
type CasterRequest struct {
	Name     string `json:"name" form:"name" binding:"required"`
	Host     string `json:"host" form:"host" binding:"required"`
	Port     int    `json:"port" form:"port"`
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

func (r *CasterRequest) toCaster() (*database.Caster, error) {
	if r.Port == 0 {
		r.Port = defaultCasterPort
	}
	if r.Port < 1 || r.Port > 65535 {
		return nil, fmt.Errorf("port %d out of range", r.Port)
	}
	return &database.Caster{
		Name:     r.Name,
		Host:     r.Host,
		Port:     r.Port,
		Username: r.Username,
		Password: r.Password,
	}, nil
}

// CasterResponse never carries the stored password.
type CasterResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Host        string    `json:"host"`
	Port        int       `json:"port"`
	Username    string    `json:"username"`
	HasPassword bool      `json:"has_password"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func newCasterResponse(c *database.Caster) CasterResponse {
	return CasterResponse{
		ID:          c.ID,
		Name:        c.Name,
		Host:        c.Host,
		Port:        c.Port,
		Username:    c.Username,
		HasPassword: c.Password != "",
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

// storeError maps store errors onto HTTP status codes.
func storeError(c *gin.Context, err error, action string) {
	switch {
	case errors.Is(err, database.ErrCasterNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Caster not found"})
	case errors.Is(err, database.ErrCasterExists):
		c.JSON(http.StatusConflict, gin.H{"error": "Caster already exists"})
	default:
		logrus.WithError(err).Error("Failed to " + action)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to " + action})
	}
}

// GET /api/casters
func (s *Server) getCasters(c *gin.Context) {
	casters, err := s.store.ListCasters(c.Request.Context())
	if err != nil {
		storeError(c, err, "list casters")
		return
	}

	response := make([]CasterResponse, 0, len(casters))
	for i := range casters {
		response = append(response, newCasterResponse(&casters[i]))
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  response,
		"count": len(response),
	})
}

// GET /api/casters/:name
func (s *Server) getCaster(c *gin.Context) {
	caster, err := s.store.GetCaster(c.Request.Context(), c.Param("name"))
	if err != nil {
		storeError(c, err, "get caster")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": newCasterResponse(caster)})
}

// POST /api/casters
func (s *Server) createCaster(c *gin.Context) {
	var req CasterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	caster, err := req.toCaster()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.store.CreateCaster(c.Request.Context(), caster); err != nil {
		storeError(c, err, "create caster")
		return
	}

	logrus.WithField("caster", caster.Name).Info("Caster created via API")
	s.refreshMetrics(c)
	c.JSON(http.StatusCreated, gin.H{"data": newCasterResponse(caster)})
}

// PUT /api/casters/:name
func (s *Server) updateCaster(c *gin.Context) {
	name := c.Param("name")

	var req CasterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	caster, err := req.toCaster()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.store.UpdateCaster(c.Request.Context(), name, caster); err != nil {
		storeError(c, err, "update caster")
		return
	}

	logrus.WithFields(logrus.Fields{
		"caster":   caster.Name,
		"previous": name,
	}).Info("Caster updated via API")
	s.refreshMetrics(c)
	c.JSON(http.StatusOK, gin.H{"data": newCasterResponse(caster)})
}

// DELETE /api/casters/:name
func (s *Server) deleteCaster(c *gin.Context) {
	name := c.Param("name")
	if err := s.engine.DeleteCaster(c.Request.Context(), name); err != nil {
		storeError(c, err, "delete caster")
		return
	}

	logrus.WithField("caster", name).Info("Caster deleted via API")
	c.JSON(http.StatusOK, gin.H{"message": "Caster deleted successfully"})
}

// POST /api/casters/:name/probe - run one cycle now
func (s *Server) probeCaster(c *gin.Context) {
	result, err := s.engine.ProbeNow(c.Request.Context(), c.Param("name"))
	if err != nil {
		storeError(c, err, "probe caster")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

// GET /api/status
func (s *Server) getStatus(c *gin.Context) {
	ctx := c.Request.Context()

	casters, err := s.store.ListCasters(ctx)
	if err != nil {
		storeError(c, err, "list casters")
		return
	}
	rows, err := s.engine.Deriver().ReportAll(ctx, casters)
	if err != nil {
		storeError(c, err, "get status")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      rows,
		"count":     len(rows),
		"timestamp": s.now(),
	})
}

// GET /api/status/:name
func (s *Server) getCasterStatus(c *gin.Context) {
	ctx := c.Request.Context()

	caster, err := s.store.GetCaster(ctx, c.Param("name"))
	if err != nil {
		storeError(c, err, "get caster")
		return
	}
	row, err := s.engine.Deriver().Report(ctx, *caster)
	if err != nil {
		storeError(c, err, "get status")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": row})
}

// GET /api/status/:name/history?since=RFC3339&limit=n, newest first
func (s *Server) getStatusHistory(c *gin.Context) {
	ctx := c.Request.Context()
	name := c.Param("name")

	filters := database.ProbeFilters{
		Since: s.now().Add(-24 * time.Hour),
		Limit: defaultHistoryLimit,
	}
	if sinceStr := c.Query("since"); sinceStr != "" {
		since, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be an RFC3339 timestamp"})
			return
		}
		filters.Since = since
	}
	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		if limit > maxHistoryLimit {
			limit = maxHistoryLimit
		}
		filters.Limit = limit
	}

	if _, err := s.store.GetCaster(ctx, name); err != nil {
		storeError(c, err, "get caster")
		return
	}

	probes, err := s.store.GetProbes(ctx, name, filters)
	if err != nil {
		storeError(c, err, "get status history")
		return
	}
	if probes == nil {
		probes = []database.Probe{}
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  probes,
		"count": len(probes),
	})
}

func (s *Server) refreshMetrics(c *gin.Context) {
	if err := s.metrics.UpdateSystemMetrics(c.Request.Context()); err != nil {
		logrus.WithError(err).Warn("Failed to update system metrics")
	}
}
