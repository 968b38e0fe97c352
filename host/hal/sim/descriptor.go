package sim

import (
	"unicode/utf16"

	"github.com/ardnew/softhcd/host/hal"
)

// Descriptor type codes.
const (
	descDevice        = 0x01
	descConfiguration = 0x02
	descString        = 0x03
	descInterface     = 0x04
	descEndpoint      = 0x05
	descHub           = 0x29
)

// Standard request codes.
const (
	reqGetStatus        = 0x00
	reqClearFeature     = 0x01
	reqSetFeature       = 0x03
	reqSetAddress       = 0x05
	reqGetDescriptor    = 0x06
	reqGetConfiguration = 0x08
	reqSetConfiguration = 0x09
	reqGetInterface     = 0x0A
	reqSetInterface     = 0x0B
)

// String descriptor indices assigned by DeviceSpec.
const (
	stringManufacturer = 1
	stringProduct      = 2
	stringSerial       = 3
)

// EndpointSpec describes one endpoint of a simulated interface.
type EndpointSpec struct {
	Address       uint8 // Including direction bit
	Type          hal.TransferType
	MaxPacketSize uint16
	Interval      uint8
	Extra         []byte // Class-specific descriptors following the endpoint
}

// InterfaceSpec describes one interface of a simulated configuration.
type InterfaceSpec struct {
	Number     uint8
	AltSetting uint8
	Class      uint8
	SubClass   uint8
	Protocol   uint8
	Extra      []byte // Class-specific descriptors following the interface
	Endpoints  []EndpointSpec
}

// DeviceSpec describes a simulated device and its single configuration.
type DeviceSpec struct {
	Speed          hal.Speed
	USBVersion     uint16
	Class          uint8
	SubClass       uint8
	Protocol       uint8
	MaxPacketSize0 uint8
	VendorID       uint16
	ProductID      uint16
	DeviceVersion  uint16
	Manufacturer   string
	Product        string
	SerialNumber   string
	Configuration  uint8 // bConfigurationValue, default 1
	MaxPower       uint8
	Interfaces     []InterfaceSpec
}

func (s *DeviceSpec) normalize() {
	if s.Speed == hal.SpeedUnknown {
		s.Speed = hal.SpeedFull
	}
	if s.USBVersion == 0 {
		s.USBVersion = 0x0200
	}
	if s.MaxPacketSize0 == 0 {
		s.MaxPacketSize0 = uint8(s.Speed.MaxPacketSize0())
	}
	if s.Configuration == 0 {
		s.Configuration = 1
	}
	if s.MaxPower == 0 {
		s.MaxPower = 50
	}
}

func stringIndex(s string, index uint8) uint8 {
	if s == "" {
		return 0
	}
	return index
}

// DeviceDescriptor returns the 18-byte device descriptor.
func (s *DeviceSpec) DeviceDescriptor() []byte {
	return []byte{
		18, descDevice,
		byte(s.USBVersion), byte(s.USBVersion >> 8),
		s.Class, s.SubClass, s.Protocol,
		s.MaxPacketSize0,
		byte(s.VendorID), byte(s.VendorID >> 8),
		byte(s.ProductID), byte(s.ProductID >> 8),
		byte(s.DeviceVersion), byte(s.DeviceVersion >> 8),
		stringIndex(s.Manufacturer, stringManufacturer),
		stringIndex(s.Product, stringProduct),
		stringIndex(s.SerialNumber, stringSerial),
		1,
	}
}

// ConfigurationDescriptor returns the full configuration descriptor tree.
func (s *DeviceSpec) ConfigurationDescriptor() []byte {
	b := []byte{9, descConfiguration, 0, 0, byte(len(s.Interfaces)), s.Configuration, 0, 0x80, s.MaxPower}
	for _, iface := range s.Interfaces {
		b = append(b, 9, descInterface, iface.Number, iface.AltSetting,
			byte(len(iface.Endpoints)), iface.Class, iface.SubClass, iface.Protocol, 0)
		b = append(b, iface.Extra...)
		for _, ep := range iface.Endpoints {
			b = append(b, 7, descEndpoint, ep.Address, byte(ep.Type),
				byte(ep.MaxPacketSize), byte(ep.MaxPacketSize>>8), ep.Interval)
			b = append(b, ep.Extra...)
		}
	}
	b[2] = byte(len(b))
	b[3] = byte(len(b) >> 8)
	return b
}

// stringDescriptor encodes s as a UTF-16LE string descriptor.
func stringDescriptor(s string) []byte {
	units := utf16.Encode([]rune(s))
	b := make([]byte, 2, 2+2*len(units))
	b[0] = byte(2 + 2*len(units))
	b[1] = descString
	for _, u := range units {
		b = append(b, byte(u), byte(u>>8))
	}
	return b
}

// languageDescriptor is string descriptor zero listing US English.
func languageDescriptor() []byte {
	return []byte{4, descString, 0x09, 0x04}
}
