// internal/discovery/serial/scanner.go
package serial

import (
	"context"
	"fmt"
	"strings"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"winder-service/internal/discovery/usb"
	"winder-service/internal/model"
)

var (
	detailedPortsList = enumerator.GetDetailedPortsList
	portsList         = serial.GetPortsList
)

// Scanner lists host serial ports with their USB metadata
type Scanner struct {
	logger  *zap.Logger
	bridges *usb.BridgeDatabase
}

// NewScanner creates a new serial port scanner
func NewScanner(logger *zap.Logger) *Scanner {
	return &Scanner{
		logger:  logger.With(zap.String("scanner", "serial")),
		bridges: usb.NewBridgeDatabase(),
	}
}

// GetScannerType returns scanner type
func (s *Scanner) GetScannerType() string {
	return "serial"
}

// IsAvailable checks if serial scanning is available
func (s *Scanner) IsAvailable() bool {
	return true
}

// Scan enumerates ports. When detailed enumeration is unsupported the plain
// port list is returned without USB metadata.
func (s *Scanner) Scan(ctx context.Context) ([]model.PortInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	details, err := detailedPortsList()
	if err != nil {
		s.logger.Warn("Detailed port enumeration failed, falling back to port names", zap.Error(err))
		return s.scanNames()
	}

	ports := make([]model.PortInfo, 0, len(details))
	for _, detail := range details {
		ports = append(ports, s.describe(detail))
	}

	s.logger.Debug("Serial ports enumerated", zap.Int("count", len(ports)))
	return ports, nil
}

func (s *Scanner) scanNames() ([]model.PortInfo, error) {
	names, err := portsList()
	if err != nil {
		return nil, fmt.Errorf("failed to get serial ports: %w", err)
	}

	ports := make([]model.PortInfo, 0, len(names))
	for _, name := range names {
		ports = append(ports, model.PortInfo{Name: name})
	}
	return ports, nil
}

func (s *Scanner) describe(detail *enumerator.PortDetails) model.PortInfo {
	info := model.PortInfo{
		Name:         detail.Name,
		IsUSB:        detail.IsUSB,
		VID:          strings.ToLower(detail.VID),
		PID:          strings.ToLower(detail.PID),
		SerialNumber: detail.SerialNumber,
		Product:      detail.Product,
	}

	if !detail.IsUSB {
		return info
	}

	vendor, product := s.bridges.Lookup(detail.VID, detail.PID)
	if vendor != nil {
		info.Vendor = vendor.Name
	}
	if product != nil {
		info.Chip = product.Chip
		info.Controller = product.Controller
	}

	return info
}
