package usbid

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `#
# List of USB ID's
#
046d  Logitech, Inc.
	c077  M105 Optical Mouse
	c52b  Unifying Receiver
		046d c52b  interface line, ignored
0499  Yamaha Corp.
	1000  USB-MIDI Keyboard
zzzz  not a vendor
	0001  orphan product

# Classes
C 01  Audio
	01  Control Device
`

func TestParse(t *testing.T) {
	db := New()
	require.NoError(t, db.Parse(strings.NewReader(sample)))

	vendors, products := db.Len()
	assert.Equal(t, 2, vendors)
	assert.Equal(t, 3, products)

	assert.Equal(t, "Logitech, Inc.", db.Vendor(0x046D))
	assert.Equal(t, "M105 Optical Mouse", db.Product(0x046D, 0xC077))
	assert.Equal(t, "USB-MIDI Keyboard", db.Product(0x0499, 0x1000))
	assert.Empty(t, db.Product(0x046D, 0x0001))
	assert.Empty(t, db.Vendor(0x0001), "class section is not a vendor")
}

func TestName(t *testing.T) {
	db := New()
	require.NoError(t, db.Parse(strings.NewReader(sample)))

	assert.Equal(t, "Yamaha Corp. USB-MIDI Keyboard", db.Name(0x0499, 0x1000))
	assert.Equal(t, "Yamaha Corp. 2000", db.Name(0x0499, 0x2000))
	assert.Equal(t, "1209 0001", db.Name(0x1209, 0x0001))
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "usb.ids")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	db := Open(filepath.Join(dir, "missing.ids"), path)
	assert.Equal(t, path, db.Source())
	assert.Equal(t, "Logitech, Inc.", db.Vendor(0x046D))
}

func TestOpen_Missing(t *testing.T) {
	db := Open(filepath.Join(t.TempDir(), "missing.ids"))
	assert.Empty(t, db.Source())
	vendors, products := db.Len()
	assert.Zero(t, vendors)
	assert.Zero(t, products)
	assert.Equal(t, "046d c077", db.Name(0x046D, 0xC077))
}
