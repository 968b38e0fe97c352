package host

import (
	"unicode/utf16"

	"go.uber.org/atomic"

	"github.com/ardnew/softhcd/host/hal"
)

// Device represents a connected USB device from the host's perspective.
//
// Descriptor fields are written while the device enumerates and are
// read-only once it reaches DeviceStateConfigured.
type Device struct {
	host    *Host
	address hal.DeviceAddress
	port    int
	speed   hal.Speed

	// Upstream hub, zero for devices on a root port
	hubAddr hal.DeviceAddress
	hubPort int

	// Device descriptor
	descriptor DeviceDescriptor

	// Configuration descriptor (current)
	config ConfigurationDescriptor

	// Interface descriptors (current configuration)
	interfaces []InterfaceDescriptor

	// Endpoint descriptors (current configuration) and the index into
	// interfaces of the interface each belongs to
	endpoints []EndpointDescriptor
	epIface   []int

	state atomic.Uint32

	// String descriptors cache (indexed by string index)
	strings [MaxStringsPerDevice]string

	// Class-specific descriptors per interface
	classDescriptors [MaxInterfacesPerConfiguration][][]byte

	// Registration slots bound to this device
	drivers []int
	isHub   bool
}

// newDevice creates a new device instance.
func newDevice(host *Host, port int, address hal.DeviceAddress, speed hal.Speed) *Device {
	d := &Device{
		host:    host,
		address: address,
		port:    port,
		speed:   speed,
	}
	d.setState(DeviceStateDefault)
	return d
}

// Address returns the device address.
func (d *Device) Address() hal.DeviceAddress {
	return d.address
}

// Port returns the root port the device is connected through.
func (d *Device) Port() int {
	return d.port
}

// HubAddress returns the address of the upstream hub, or 0 on a root port.
func (d *Device) HubAddress() hal.DeviceAddress {
	return d.hubAddr
}

// HubPort returns the upstream hub port number, or 0 on a root port.
func (d *Device) HubPort() int {
	return d.hubPort
}

// Speed returns the device speed.
func (d *Device) Speed() hal.Speed {
	return d.speed
}

// IsHub reports whether a hub driver owns the device.
func (d *Device) IsHub() bool {
	return d.isHub
}

// VendorID returns the device vendor ID.
func (d *Device) VendorID() uint16 {
	return d.descriptor.VendorID
}

// ProductID returns the device product ID.
func (d *Device) ProductID() uint16 {
	return d.descriptor.ProductID
}

// DeviceClass returns the device class.
func (d *Device) DeviceClass() uint8 {
	return d.descriptor.DeviceClass
}

// Descriptor returns the device descriptor.
func (d *Device) Descriptor() DeviceDescriptor {
	return d.descriptor
}

// Configuration returns the current configuration descriptor.
func (d *Device) Configuration() ConfigurationDescriptor {
	return d.config
}

// Interfaces returns the interface descriptors for the current configuration.
// The returned slice references internal storage; do not modify.
func (d *Device) Interfaces() []InterfaceDescriptor {
	return d.interfaces
}

// Endpoints returns the endpoint descriptors for the current configuration.
// The returned slice references internal storage; do not modify.
func (d *Device) Endpoints() []EndpointDescriptor {
	return d.endpoints
}

// GetInterface returns the interface descriptor for the given interface number.
func (d *Device) GetInterface(num uint8) *InterfaceDescriptor {
	for i := range d.interfaces {
		if d.interfaces[i].InterfaceNumber == num {
			return &d.interfaces[i]
		}
	}
	return nil
}

// GetEndpoint returns the endpoint descriptor for the given address.
func (d *Device) GetEndpoint(address uint8) *EndpointDescriptor {
	for i := range d.endpoints {
		if d.endpoints[i].EndpointAddress == address {
			return &d.endpoints[i]
		}
	}
	return nil
}

func (d *Device) interfaceIndex(iface *InterfaceDescriptor) int {
	if iface == nil {
		return -1
	}
	for i := range d.interfaces {
		if d.interfaces[i].InterfaceNumber == iface.InterfaceNumber &&
			d.interfaces[i].AlternateSetting == iface.AlternateSetting {
			return i
		}
	}
	return -1
}

// InterfaceEndpoints returns the endpoints declared by iface.
func (d *Device) InterfaceEndpoints(iface *InterfaceDescriptor) []EndpointDescriptor {
	idx := d.interfaceIndex(iface)
	if idx < 0 {
		return nil
	}
	var out []EndpointDescriptor
	for i := range d.endpoints {
		if d.epIface[i] == idx {
			out = append(out, d.endpoints[i])
		}
	}
	return out
}

// ClassDescriptors returns the class-specific descriptors that follow
// iface in the configuration, including those after its endpoints.
func (d *Device) ClassDescriptors(iface *InterfaceDescriptor) [][]byte {
	idx := d.interfaceIndex(iface)
	if idx < 0 || idx >= MaxInterfacesPerConfiguration {
		return nil
	}
	return d.classDescriptors[idx]
}

// GetString returns a cached string descriptor.
func (d *Device) GetString(index uint8) string {
	if index == 0 || int(index) >= len(d.strings) {
		return ""
	}
	return d.strings[index]
}

// Product returns the product string, if it could be read.
func (d *Device) Product() string {
	return d.GetString(d.descriptor.ProductIndex)
}

// State returns the current device state.
func (d *Device) State() DeviceState {
	return DeviceState(d.state.Load())
}

func (d *Device) setState(s DeviceState) {
	d.state.Store(uint32(s))
}

// ControlTransfer submits a control transfer to the device. cb receives
// the completed transfer.
func (d *Device) ControlTransfer(setup *hal.SetupPacket, buf []byte, cb func(*Transfer)) error {
	return d.host.ControlTransfer(d.address, setup, buf, cb)
}

// GetDescriptor submits a GET_DESCRIPTOR request reading into buf.
func (d *Device) GetDescriptor(descType, descIndex uint8, langID uint16, buf []byte, cb func(*Transfer)) error {
	setup := getDescriptorSetup(descType, descIndex, langID, len(buf))
	return d.ControlTransfer(&setup, buf, cb)
}

// GetStatus submits a device GET_STATUS request.
func (d *Device) GetStatus(cb func(status uint16, err error)) error {
	buf := make([]byte, 2)
	setup := getStatusSetup(RequestTypeStandard|RequestTypeDevice, 0, 2)
	return d.ControlTransfer(&setup, buf, func(t *Transfer) {
		if err := t.Err(); err != nil {
			cb(0, err)
			return
		}
		cb(uint16(buf[0])|uint16(buf[1])<<8, nil)
	})
}

// SetFeature submits a device SET_FEATURE request.
func (d *Device) SetFeature(feature uint16, cb func(*Transfer)) error {
	setup := setFeatureSetup(RequestTypeStandard|RequestTypeDevice, feature, 0)
	return d.ControlTransfer(&setup, nil, cb)
}

// ClearFeature submits a device CLEAR_FEATURE request.
func (d *Device) ClearFeature(feature uint16, cb func(*Transfer)) error {
	setup := clearFeatureSetup(RequestTypeStandard|RequestTypeDevice, feature, 0)
	return d.ControlTransfer(&setup, nil, cb)
}

// parseConfigurationTree parses the full configuration descriptor tree.
func (d *Device) parseConfigurationTree(data []byte) {
	if len(data) < ConfigurationDescriptorSize {
		return
	}

	// Parse configuration descriptor header
	if !ParseConfigurationDescriptor(data, &d.config) {
		return
	}

	d.interfaces = make([]InterfaceDescriptor, 0, d.config.NumInterfaces)
	d.endpoints = make([]EndpointDescriptor, 0, MaxEndpointsPerInterface)
	d.epIface = make([]int, 0, MaxEndpointsPerInterface)
	for i := range d.classDescriptors {
		d.classDescriptors[i] = nil
	}

	offset := ConfigurationDescriptorSize
	current := -1

	for offset < len(data) && offset < int(d.config.TotalLength) {
		if offset+2 > len(data) {
			break
		}

		length := int(data[offset])
		descType := data[offset+1]

		if length < 2 || offset+length > len(data) {
			break
		}

		switch descType {
		case DescriptorTypeInterface:
			var iface InterfaceDescriptor
			if ParseInterfaceDescriptor(data[offset:], &iface) &&
				len(d.interfaces) < MaxInterfacesPerConfiguration {
				d.interfaces = append(d.interfaces, iface)
				current = len(d.interfaces) - 1
			}

		case DescriptorTypeEndpoint:
			var ep EndpointDescriptor
			if current >= 0 && ParseEndpointDescriptor(data[offset:], &ep) {
				d.endpoints = append(d.endpoints, ep)
				d.epIface = append(d.epIface, current)
			}

		default:
			// Class-specific or other descriptor
			if current >= 0 {
				desc := make([]byte, length)
				copy(desc, data[offset:offset+length])
				d.classDescriptors[current] = append(d.classDescriptors[current], desc)
			}
		}

		offset += length
	}
}

// setString decodes a UTF-16LE string descriptor into the cache.
func (d *Device) setString(index uint8, data []byte) bool {
	if index == 0 || int(index) >= len(d.strings) || len(data) < 2 {
		return false
	}
	n := min(int(data[0]), len(data))
	if n < 2 || data[1] != DescriptorTypeString {
		return false
	}
	units := make([]uint16, 0, (n-2)/2)
	for i := 2; i+1 < n; i += 2 {
		units = append(units, uint16(data[i])|uint16(data[i+1])<<8)
	}
	d.strings[index] = string(utf16.Decode(units))
	return true
}

// Standard and class request builders.

func getDescriptorSetup(descType, descIndex uint8, langID uint16, n int) hal.SetupPacket {
	return hal.SetupPacket{
		RequestType: RequestTypeIn | RequestTypeStandard | RequestTypeDevice,
		Request:     RequestGetDescriptor,
		Value:       uint16(descType)<<8 | uint16(descIndex),
		Index:       langID,
		Length:      uint16(n),
	}
}

func setAddressSetup(addr hal.DeviceAddress) hal.SetupPacket {
	return hal.SetupPacket{
		RequestType: RequestTypeOut | RequestTypeStandard | RequestTypeDevice,
		Request:     RequestSetAddress,
		Value:       uint16(addr),
	}
}

func setConfigurationSetup(value uint8) hal.SetupPacket {
	return hal.SetupPacket{
		RequestType: RequestTypeOut | RequestTypeStandard | RequestTypeDevice,
		Request:     RequestSetConfiguration,
		Value:       uint16(value),
	}
}

func getStatusSetup(recipient uint8, index uint16, n int) hal.SetupPacket {
	return hal.SetupPacket{
		RequestType: RequestTypeIn | recipient,
		Request:     RequestGetStatus,
		Index:       index,
		Length:      uint16(n),
	}
}

func setFeatureSetup(recipient uint8, feature, index uint16) hal.SetupPacket {
	return hal.SetupPacket{
		RequestType: RequestTypeOut | recipient,
		Request:     RequestSetFeature,
		Value:       feature,
		Index:       index,
	}
}

func clearFeatureSetup(recipient uint8, feature, index uint16) hal.SetupPacket {
	return hal.SetupPacket{
		RequestType: RequestTypeOut | recipient,
		Request:     RequestClearFeature,
		Value:       feature,
		Index:       index,
	}
}
