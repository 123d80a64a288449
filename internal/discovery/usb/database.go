// internal/discovery/usb/database.go
package usb

import (
	"strconv"
	"strings"
)

// ID is a USB vendor or product id
type ID uint16

// ParseID parses the hex form reported by the port enumerator ("1a86", "0x1A86")
func ParseID(s string) (ID, bool) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	if s == "" {
		return 0, false
	}
	value, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, false
	}
	return ID(value), true
}

// BridgeDatabase knows the USB-serial bridges used by winding machine controllers
type BridgeDatabase struct {
	vendors map[ID]*VendorInfo
}

// VendorInfo contains vendor-specific information
type VendorInfo struct {
	Name     string
	products map[ID]*ProductInfo
}

// ProductInfo describes a bridge chip or board
type ProductInfo struct {
	Chip       string
	Controller bool
}

// NewBridgeDatabase creates and initializes the bridge database
func NewBridgeDatabase() *BridgeDatabase {
	db := &BridgeDatabase{
		vendors: make(map[ID]*VendorInfo),
	}
	db.initializeDatabase()
	return db
}

func (db *BridgeDatabase) initializeDatabase() {
	// WCH (0x1A86), the CH340 on most clone boards
	db.AddVendor(0x1A86, &VendorInfo{Name: "QinHeng Electronics"})
	db.AddProduct(0x1A86, 0x7523, &ProductInfo{Chip: "CH340", Controller: true})
	db.AddProduct(0x1A86, 0x5523, &ProductInfo{Chip: "CH341", Controller: true})
	db.AddProduct(0x1A86, 0x55D4, &ProductInfo{Chip: "CH9102", Controller: true})

	// FTDI (0x0403)
	db.AddVendor(0x0403, &VendorInfo{Name: "Future Technology Devices International"})
	db.AddProduct(0x0403, 0x6001, &ProductInfo{Chip: "FT232R", Controller: true})
	db.AddProduct(0x0403, 0x6015, &ProductInfo{Chip: "FT231X", Controller: true})

	// Silicon Labs (0x10C4)
	db.AddVendor(0x10C4, &VendorInfo{Name: "Silicon Labs"})
	db.AddProduct(0x10C4, 0xEA60, &ProductInfo{Chip: "CP210x", Controller: true})

	// Arduino (0x2341)
	db.AddVendor(0x2341, &VendorInfo{Name: "Arduino"})
	db.AddProduct(0x2341, 0x0043, &ProductInfo{Chip: "Uno R3 (ATmega16U2)", Controller: true})
	db.AddProduct(0x2341, 0x0042, &ProductInfo{Chip: "Mega 2560 R3", Controller: true})
	db.AddProduct(0x2341, 0x8036, &ProductInfo{Chip: "Leonardo", Controller: true})

	// Espressif (0x303A) native USB CDC
	db.AddVendor(0x303A, &VendorInfo{Name: "Espressif"})
	db.AddProduct(0x303A, 0x1001, &ProductInfo{Chip: "ESP32-S3 USB JTAG/serial", Controller: true})
}

// IsKnownVendor checks if the vendor is known
func (db *BridgeDatabase) IsKnownVendor(vendorID ID) bool {
	_, exists := db.vendors[vendorID]
	return exists
}

// GetVendorInfo returns vendor information
func (db *BridgeDatabase) GetVendorInfo(vendorID ID) *VendorInfo {
	return db.vendors[vendorID]
}

// GetProductInfo returns product information
func (vi *VendorInfo) GetProductInfo(productID ID) *ProductInfo {
	return vi.products[productID]
}

// Lookup resolves enumerator hex ids to a product description
func (db *BridgeDatabase) Lookup(vid, pid string) (*VendorInfo, *ProductInfo) {
	vendorID, ok := ParseID(vid)
	if !ok {
		return nil, nil
	}
	vendor := db.GetVendorInfo(vendorID)
	if vendor == nil {
		return nil, nil
	}

	productID, ok := ParseID(pid)
	if !ok {
		return vendor, nil
	}
	return vendor, vendor.GetProductInfo(productID)
}

// AddVendor adds or replaces a vendor
func (db *BridgeDatabase) AddVendor(vendorID ID, info *VendorInfo) {
	if info.products == nil {
		info.products = make(map[ID]*ProductInfo)
	}
	db.vendors[vendorID] = info
}

// AddProduct adds a product to a known vendor
func (db *BridgeDatabase) AddProduct(vendorID, productID ID, info *ProductInfo) {
	if vendor, exists := db.vendors[vendorID]; exists {
		vendor.products[productID] = info
	}
}
