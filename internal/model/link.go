// internal/model/link.go
package model

import "time"

// ConnectionState represents the lifecycle state of the serial link
type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "DISCONNECTED"
	ConnectionStateConnecting   ConnectionState = "CONNECTING"
	ConnectionStateConnected    ConnectionState = "CONNECTED"
)

// LinkStatus is a point-in-time view of the serial link
type LinkStatus struct {
	Port        string          `json:"port,omitempty"`
	State       ConnectionState `json:"state"`
	Connected   bool            `json:"connected"`
	Ready       bool            `json:"ready"`
	ConnectedAt *time.Time      `json:"connected_at,omitempty"`
	ReadyAt     *time.Time      `json:"ready_at,omitempty"`
}

// PortInfo describes a serial port available on the host
type PortInfo struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
	Vendor       string `json:"vendor,omitempty"`
	Chip         string `json:"chip,omitempty"`

	// Controller marks bridges commonly found on winding machine controllers
	Controller bool `json:"controller"`
}
