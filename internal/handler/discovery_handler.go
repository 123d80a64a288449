// internal/handler/discovery_handler.go
package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"winder-service/internal/model"
	"winder-service/internal/utils"
)

// PortDiscovery enumerates serial ports on the host
type PortDiscovery interface {
	ScanAll(ctx context.Context) ([]model.PortInfo, error)
	ScanByType(ctx context.Context, scannerType string) ([]model.PortInfo, error)
	GetAvailableScanners() []string
}

// DiscoveryHandler handles port discovery requests
type DiscoveryHandler struct {
	discovery PortDiscovery
	logger    *utils.ServiceLogger
}

// NewDiscoveryHandler creates a new discovery handler
func NewDiscoveryHandler(discovery PortDiscovery, logger *zap.Logger) *DiscoveryHandler {
	return &DiscoveryHandler{
		discovery: discovery,
		logger:    utils.NewServiceLogger(logger, "discovery-handler"),
	}
}

// RegisterRoutes registers discovery routes
func (h *DiscoveryHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/ports", h.ListPorts)
	router.GET("/ports/scanners", h.GetScanners)
}

// ListPorts enumerates serial ports
// @Summary List serial ports
// @Description List serial ports on the host with USB bridge details. Ports behind bridges
// @Description commonly used by winding controllers are flagged.
// @Tags Discovery
// @Produce json
// @Param type query string false "Scanner type" default(all)
// @Param controllers query bool false "Only ports that look like winding controllers"
// @Success 200 {object} utils.APIResponse{data=object{ports_found=int,ports=[]model.PortInfo}} "Ports listed"
// @Failure 500 {object} utils.APIResponse "Scan failed"
// @Router /ports [get]
func (h *DiscoveryHandler) ListPorts(c *gin.Context) {
	scanType := c.DefaultQuery("type", "all")

	var (
		ports []model.PortInfo
		err   error
	)
	if scanType == "all" {
		ports, err = h.discovery.ScanAll(c.Request.Context())
	} else {
		ports, err = h.discovery.ScanByType(c.Request.Context(), scanType)
	}
	if err != nil {
		h.logger.Error("Failed to list ports", zap.String("type", scanType), zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list ports", err)
		return
	}

	if c.Query("controllers") == "true" {
		filtered := ports[:0]
		for _, port := range ports {
			if port.Controller {
				filtered = append(filtered, port)
			}
		}
		ports = filtered
	}

	utils.SuccessResponse(c, http.StatusOK, "Ports listed", gin.H{
		"ports_found": len(ports),
		"ports":       ports,
	})
}

// GetScanners lists the available port scanners
// @Summary List port scanners
// @Tags Discovery
// @Produce json
// @Success 200 {object} utils.APIResponse{data=object{scanners=[]string}} "Scanners listed"
// @Router /ports/scanners [get]
func (h *DiscoveryHandler) GetScanners(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Scanners listed", gin.H{
		"scanners": h.discovery.GetAvailableScanners(),
	})
}
