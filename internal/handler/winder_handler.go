// internal/handler/winder_handler.go
package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"winder-service/internal/model"
	"winder-service/internal/protocol"
	"winder-service/internal/repository"
	"winder-service/internal/service"
	"winder-service/internal/utils"
)

// Winder is the operator surface of the winding service
type Winder interface {
	Connect(ctx context.Context, port string) (model.LinkStatus, error)
	Disconnect(ctx context.Context) (model.LinkStatus, error)
	LinkStatus() model.LinkStatus
	LinkStats() protocol.ProtocolStats
	SendRaw(ctx context.Context, line string) error
	Snapshot() model.Snapshot
	StartWinding(ctx context.Context) (model.Snapshot, error)
	StopWinding(ctx context.Context) (model.Snapshot, error)
	ConfigureWinding(ctx context.Context, cfg model.WindingConfig) (model.Snapshot, error)
	ListSessions(ctx context.Context, filter *repository.SessionFilter) ([]*model.SessionRecord, int, error)
	GetSession(ctx context.Context, id uuid.UUID) (*model.SessionRecord, error)
	SessionStats(ctx context.Context) (*repository.SessionStats, error)
}

// WinderHandler handles link and winding requests
type WinderHandler struct {
	winder Winder
	logger *utils.ServiceLogger
}

// NewWinderHandler creates a new winder handler
func NewWinderHandler(winder Winder, logger *zap.Logger) *WinderHandler {
	return &WinderHandler{
		winder: winder,
		logger: utils.NewServiceLogger(logger, "winder-handler"),
	}
}

// RegisterRoutes registers link and winding routes
func (h *WinderHandler) RegisterRoutes(router *gin.RouterGroup) {
	link := router.Group("/link")
	{
		link.GET("", h.GetLink)
		link.POST("/connect", h.Connect)
		link.POST("/disconnect", h.Disconnect)
		link.POST("/commands", h.SendCommand)
	}

	winding := router.Group("/winding")
	{
		winding.GET("", h.GetWinding)
		winding.PUT("/config", h.Configure)
		winding.POST("/start", h.Start)
		winding.POST("/stop", h.Stop)
		winding.GET("/sessions", h.ListSessions)
		winding.GET("/sessions/stats", h.GetSessionStats)
		winding.GET("/sessions/:id", h.GetSession)
	}
}

// ConnectRequest selects the port to open
type ConnectRequest struct {
	Port string `json:"port" example:"/dev/ttyUSB0"`
}

// CommandRequest is a raw diagnostic command line
type CommandRequest struct {
	Command string `json:"command" binding:"required" example:"CMD:STOP"`
}

// ConfigureRequest sets the turn target, speed and wire diameter
type ConfigureRequest struct {
	Turns          uint32          `json:"turns" binding:"required,gt=0" example:"100"`
	RPM            uint32          `json:"rpm" binding:"required,gt=0" example:"800"`
	WireDiameterMm decimal.Decimal `json:"wire_diameter_mm" swaggertype:"number" example:"0.5"`
}

// LinkResponse combines link status and counters
type LinkResponse struct {
	Status model.LinkStatus       `json:"status"`
	Stats  protocol.ProtocolStats `json:"stats"`
}

// SessionPage is one page of session history
type SessionPage struct {
	Sessions []*model.SessionRecord `json:"sessions"`
	Total    int                    `json:"total"`
	Page     int                    `json:"page"`
	PerPage  int                    `json:"per_page"`
}

func requestContext(c *gin.Context) context.Context {
	return service.WithClientIP(c.Request.Context(), c.ClientIP())
}

// GetLink returns the serial link status
// @Summary Get link status
// @Description Get serial link state, readiness and counters
// @Tags Link
// @Produce json
// @Success 200 {object} utils.APIResponse{data=LinkResponse} "Link status retrieved"
// @Router /link [get]
func (h *WinderHandler) GetLink(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Link status retrieved", LinkResponse{
		Status: h.winder.LinkStatus(),
		Stats:  h.winder.LinkStats(),
	})
}

// Connect opens the serial link
// @Summary Connect to the winding machine
// @Description Open a serial port. The configured default port is used when none is given.
// @Description Commands are accepted once the controller has settled after its reset.
// @Tags Link
// @Accept json
// @Produce json
// @Param request body ConnectRequest false "Port to open"
// @Success 200 {object} utils.APIResponse{data=model.LinkStatus} "Connected"
// @Failure 400 {object} utils.APIResponse "No port given"
// @Failure 403 {object} utils.APIResponse "Permission denied"
// @Failure 404 {object} utils.APIResponse "Port not found"
// @Failure 409 {object} utils.APIResponse "Port busy"
// @Failure 502 {object} utils.APIResponse "Port could not be opened"
// @Router /link/connect [post]
func (h *WinderHandler) Connect(c *gin.Context) {
	var req ConnectRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}
	}

	status, err := h.winder.Connect(requestContext(c), req.Port)
	if err != nil {
		h.logger.Warn("Failed to connect", zap.String("port", req.Port), zap.Error(err))
		respondError(c, "Failed to connect", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Connected", status)
}

// Disconnect closes the serial link
// @Summary Disconnect from the winding machine
// @Description Close the serial port. An unfinished session is recorded as disconnected.
// @Tags Link
// @Produce json
// @Success 200 {object} utils.APIResponse{data=model.LinkStatus} "Disconnected"
// @Failure 502 {object} utils.APIResponse "Port close failed"
// @Router /link/disconnect [post]
func (h *WinderHandler) Disconnect(c *gin.Context) {
	status, err := h.winder.Disconnect(requestContext(c))
	if err != nil {
		h.logger.Warn("Port close reported an error", zap.Error(err))
		respondError(c, "Failed to disconnect cleanly", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Disconnected", status)
}

// SendCommand sends a raw command line
// @Summary Send a raw command
// @Description Send one diagnostic command line to the controller
// @Tags Link
// @Accept json
// @Produce json
// @Param request body CommandRequest true "Command line"
// @Success 200 {object} utils.APIResponse "Command sent"
// @Failure 400 {object} utils.APIResponse "Invalid command"
// @Failure 409 {object} utils.APIResponse "Link not ready"
// @Failure 502 {object} utils.APIResponse "Write failed"
// @Failure 504 {object} utils.APIResponse "Write timed out"
// @Router /link/commands [post]
func (h *WinderHandler) SendCommand(c *gin.Context) {
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	if err := h.winder.SendRaw(requestContext(c), req.Command); err != nil {
		respondError(c, "Failed to send command", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Command sent", gin.H{"command": strings.TrimSpace(req.Command)})
}

// GetWinding returns the current winding snapshot
// @Summary Get winding state
// @Description Get run state, turn count, progress and alarm of the current session
// @Tags Winding
// @Produce json
// @Success 200 {object} utils.APIResponse{data=model.Snapshot} "Winding state retrieved"
// @Router /winding [get]
func (h *WinderHandler) GetWinding(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Winding state retrieved", h.winder.Snapshot())
}

// Configure sends a winding configuration
// @Summary Configure winding
// @Description Send the turn target, spindle speed and wire diameter to the controller
// @Tags Winding
// @Accept json
// @Produce json
// @Param request body ConfigureRequest true "Winding configuration"
// @Success 200 {object} utils.APIResponse{data=model.Snapshot} "Configuration sent"
// @Failure 400 {object} utils.APIResponse "Invalid configuration"
// @Failure 409 {object} utils.APIResponse "Link not ready"
// @Failure 502 {object} utils.APIResponse "Write failed"
// @Router /winding/config [put]
func (h *WinderHandler) Configure(c *gin.Context) {
	var req ConfigureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	snapshot, err := h.winder.ConfigureWinding(requestContext(c), model.WindingConfig{
		Turns:          req.Turns,
		RPM:            req.RPM,
		WireDiameterMm: req.WireDiameterMm,
	})
	if err != nil {
		respondError(c, "Failed to configure winding", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Configuration sent", snapshot)
}

// Start starts winding
// @Summary Start winding
// @Description Reset the controller counter and start a new session
// @Tags Winding
// @Produce json
// @Success 200 {object} utils.APIResponse{data=model.Snapshot} "Winding started"
// @Failure 409 {object} utils.APIResponse "Already running or link not ready"
// @Failure 502 {object} utils.APIResponse "Write failed"
// @Router /winding/start [post]
func (h *WinderHandler) Start(c *gin.Context) {
	snapshot, err := h.winder.StartWinding(requestContext(c))
	if err != nil {
		respondError(c, "Failed to start winding", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Winding started", snapshot)
}

// Stop stops winding, or resets the counter when already stopped
// @Summary Stop or reset winding
// @Description The first press stops the machine. The next press resets the counter.
// @Tags Winding
// @Produce json
// @Success 200 {object} utils.APIResponse{data=model.Snapshot} "Winding stopped"
// @Failure 409 {object} utils.APIResponse "Link not ready"
// @Failure 502 {object} utils.APIResponse "Write failed"
// @Router /winding/stop [post]
func (h *WinderHandler) Stop(c *gin.Context) {
	snapshot, err := h.winder.StopWinding(requestContext(c))
	if err != nil {
		respondError(c, "Failed to stop winding", err)
		return
	}

	message := "Winding stopped"
	if snapshot.RunState == model.RunStateIdle {
		message = "Counter reset"
	}
	utils.SuccessResponse(c, http.StatusOK, message, snapshot)
}

// ListSessions lists finished sessions
// @Summary List winding sessions
// @Description Get finished sessions, newest first
// @Tags History
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param per_page query int false "Items per page" default(20)
// @Param outcome query string false "Filter by outcome" Enums(COMPLETED, STOPPED, DISCONNECTED)
// @Param port query string false "Filter by port"
// @Param since query string false "Only sessions started at or after this RFC3339 time"
// @Success 200 {object} utils.APIResponse{data=SessionPage} "Sessions retrieved"
// @Failure 503 {object} utils.APIResponse "History disabled"
// @Router /winding/sessions [get]
func (h *WinderHandler) ListSessions(c *gin.Context) {
	filter := &repository.SessionFilter{
		Page:    1,
		PerPage: 20,
	}

	if page := c.Query("page"); page != "" {
		if p, err := strconv.Atoi(page); err == nil && p > 0 {
			filter.Page = p
		}
	}
	if perPage := c.Query("per_page"); perPage != "" {
		if pp, err := strconv.Atoi(perPage); err == nil && pp > 0 && pp <= 100 {
			filter.PerPage = pp
		}
	}
	if outcome := c.Query("outcome"); outcome != "" {
		o := model.SessionOutcome(strings.ToUpper(outcome))
		filter.Outcome = &o
	}
	if port := c.Query("port"); port != "" {
		filter.Port = &port
	}
	if since := c.Query("since"); since != "" {
		start, err := time.Parse(time.RFC3339, since)
		if err != nil {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid since parameter", err)
			return
		}
		filter.StartDate = &start
	}

	sessions, total, err := h.winder.ListSessions(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list sessions", zap.Error(err))
		respondError(c, "Failed to list sessions", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Sessions retrieved", SessionPage{
		Sessions: sessions,
		Total:    total,
		Page:     filter.Page,
		PerPage:  filter.PerPage,
	})
}

// GetSession returns one finished session
// @Summary Get winding session
// @Tags History
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} utils.APIResponse{data=model.SessionRecord} "Session retrieved"
// @Failure 400 {object} utils.APIResponse "Invalid session ID"
// @Failure 404 {object} utils.APIResponse "Session not found"
// @Router /winding/sessions/{id} [get]
func (h *WinderHandler) GetSession(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid session ID", err)
		return
	}

	session, err := h.winder.GetSession(c.Request.Context(), id)
	if err != nil {
		respondError(c, "Failed to get session", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Session retrieved", session)
}

// GetSessionStats aggregates session history
// @Summary Session statistics
// @Tags History
// @Produce json
// @Success 200 {object} utils.APIResponse{data=repository.SessionStats} "Statistics retrieved"
// @Failure 503 {object} utils.APIResponse "History disabled"
// @Router /winding/sessions/stats [get]
func (h *WinderHandler) GetSessionStats(c *gin.Context) {
	stats, err := h.winder.SessionStats(c.Request.Context())
	if err != nil {
		respondError(c, "Failed to get session statistics", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Statistics retrieved", stats)
}
