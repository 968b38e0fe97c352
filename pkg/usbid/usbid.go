// Package usbid resolves vendor and product IDs to names using the usb.ids
// database shipped with most Linux distributions.
//
// A missing database is not an error: lookups return empty strings and
// [Database.Name] falls back to the hexadecimal IDs.
package usbid

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

// DefaultPaths lists the usual locations of usb.ids.
var DefaultPaths = []string{
	"/usr/share/hwdata/usb.ids",
	"/var/lib/usbutils/usb.ids",
	"/usr/share/misc/usb.ids",
}

// Database holds vendor and product names keyed by ID.
type Database struct {
	mu       sync.RWMutex
	vendors  map[uint16]string
	products map[uint32]string
	source   string
}

// New returns an empty database.
func New() *Database {
	return &Database{
		vendors:  make(map[uint16]string),
		products: make(map[uint32]string),
	}
}

// Open loads the first readable file of paths, or of DefaultPaths when
// none are given. The returned database is usable even when no file was
// found; Source then returns "".
func Open(paths ...string) *Database {
	if len(paths) == 0 {
		paths = DefaultPaths
	}
	db := New()
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		err = db.Parse(f)
		f.Close()
		if err == nil {
			db.mu.Lock()
			db.source = path
			db.mu.Unlock()
			break
		}
	}
	return db
}

// Parse reads entries in usb.ids format from r. Vendor lines start in
// column 0 ("046d  Logitech, Inc."), product lines with one tab. Class,
// language and other sections end the current vendor.
func (db *Database) Parse(r io.Reader) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	sc := bufio.NewScanner(r)
	vendor, ok := uint16(0), false
	for sc.Scan() {
		line := sc.Text()
		if line == "" || line[0] == '#' {
			continue
		}
		if line[0] == '\t' {
			if !ok || strings.HasPrefix(line, "\t\t") {
				continue
			}
			if id, name, valid := entry(line[1:]); valid {
				db.products[key(vendor, id)] = name
			}
			continue
		}
		vendor, ok = 0, false
		if id, name, valid := entry(line); valid {
			vendor, ok = id, true
			db.vendors[id] = name
		}
	}
	return sc.Err()
}

// entry splits "xxxx  Name".
func entry(s string) (uint16, string, bool) {
	if len(s) < 6 || s[4] != ' ' {
		return 0, "", false
	}
	id, err := strconv.ParseUint(s[:4], 16, 16)
	if err != nil {
		return 0, "", false
	}
	name := strings.TrimSpace(s[5:])
	return uint16(id), name, name != ""
}

func key(vid, pid uint16) uint32 {
	return uint32(vid)<<16 | uint32(pid)
}

// Source returns the path the database was loaded from.
func (db *Database) Source() string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.source
}

// Vendor returns the vendor name, or "".
func (db *Database) Vendor(vid uint16) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.vendors[vid]
}

// Product returns the product name, or "".
func (db *Database) Product(vid, pid uint16) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.products[key(vid, pid)]
}

// Name describes a device as "Vendor Product", substituting hexadecimal
// IDs for unknown names.
func (db *Database) Name(vid, pid uint16) string {
	vendor := db.Vendor(vid)
	if vendor == "" {
		vendor = fmt.Sprintf("%04x", vid)
	}
	product := db.Product(vid, pid)
	if product == "" {
		product = fmt.Sprintf("%04x", pid)
	}
	return vendor + " " + product
}

// Len returns the number of vendors and products known.
func (db *Database) Len() (vendors, products int) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.vendors), len(db.products)
}
