// internal/discovery/serial/adapters.go
package serial

import "strings"

// AdapterDatabase identifies common USB-to-serial bridge chips by their
// USB vendor and product ids
type AdapterDatabase struct {
	vendors map[string]*VendorInfo
}

// VendorInfo describes a bridge chip vendor
type VendorInfo struct {
	Name     string
	products map[string]string
}

// NewAdapterDatabase creates and populates the adapter database
func NewAdapterDatabase() *AdapterDatabase {
	db := &AdapterDatabase{vendors: make(map[string]*VendorInfo)}
	db.initializeDatabase()
	return db
}

func (db *AdapterDatabase) initializeDatabase() {
	db.AddVendor("0403", "FTDI")
	db.AddProduct("0403", "6001", "FT232R")
	db.AddProduct("0403", "6010", "FT2232")
	db.AddProduct("0403", "6011", "FT4232")
	db.AddProduct("0403", "6014", "FT232H")
	db.AddProduct("0403", "6015", "FT230X")

	db.AddVendor("10C4", "Silicon Labs")
	db.AddProduct("10C4", "EA60", "CP210x")
	db.AddProduct("10C4", "EA70", "CP2105")
	db.AddProduct("10C4", "EA71", "CP2108")

	db.AddVendor("1A86", "WCH")
	db.AddProduct("1A86", "7523", "CH340")
	db.AddProduct("1A86", "5523", "CH341")
	db.AddProduct("1A86", "55D4", "CH9102")

	db.AddVendor("067B", "Prolific")
	db.AddProduct("067B", "2303", "PL2303")
	db.AddProduct("067B", "23A3", "PL2303GC")

	db.AddVendor("2341", "Arduino")
	db.AddProduct("2341", "0043", "Uno R3")
	db.AddProduct("2341", "0042", "Mega 2560 R3")

	db.AddVendor("0483", "STMicroelectronics")
	db.AddProduct("0483", "5740", "Virtual COM Port")
	db.AddProduct("0483", "374B", "ST-LINK/V2-1")

	db.AddVendor("303A", "Espressif")
	db.AddProduct("303A", "1001", "USB JTAG/serial")
}

// AddVendor adds or replaces a vendor
func (db *AdapterDatabase) AddVendor(vendorID, name string) {
	db.vendors[normalizeID(vendorID)] = &VendorInfo{Name: name, products: make(map[string]string)}
}

// AddProduct adds a product to an existing vendor
func (db *AdapterDatabase) AddProduct(vendorID, productID, chip string) {
	if vendor, exists := db.vendors[normalizeID(vendorID)]; exists {
		vendor.products[normalizeID(productID)] = chip
	}
}

// Lookup returns the vendor name and chip for the ids. Unknown products of
// a known vendor return the vendor with an empty chip.
func (db *AdapterDatabase) Lookup(vendorID, productID string) (vendor, chip string, ok bool) {
	v, exists := db.vendors[normalizeID(vendorID)]
	if !exists {
		return "", "", false
	}
	return v.Name, v.products[normalizeID(productID)], true
}

// GetTotalProductCount returns total number of known products
func (db *AdapterDatabase) GetTotalProductCount() int {
	total := 0
	for _, vendor := range db.vendors {
		total += len(vendor.products)
	}
	return total
}

func normalizeID(id string) string {
	id = strings.TrimPrefix(strings.TrimPrefix(id, "0x"), "0X")
	return strings.ToUpper(id)
}
