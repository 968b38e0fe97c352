package sim

import (
	"sync"

	"github.com/ardnew/softhcd/host/hal"
)

// Handshake is a device's response to a data token.
type Handshake uint8

// Handshakes.
const (
	ACK Handshake = iota
	NAK
	STALL
)

// String returns the handshake name.
func (h Handshake) String() string {
	switch h {
	case ACK:
		return "ACK"
	case NAK:
		return "NAK"
	case STALL:
		return "STALL"
	default:
		return "?"
	}
}

// Device is a simulated USB device attachable to a root port or hub port.
// Function and Hub are the only implementations.
type Device interface {
	Speed() hal.Speed
	Address() hal.DeviceAddress
	Configuration() uint8

	busReset()
	acceptSetup() bool
	nakControl() bool
	control(setup hal.SetupPacket, data []byte) ([]byte, bool)
	in(ep uint8, max int) ([]byte, Handshake)
	out(ep uint8, data []byte) Handshake
	downstream() []Device
	setSuspended(on bool)
}

// ControlHandler serves class and vendor requests. Returning stall=true
// answers the request with STALL.
type ControlHandler func(setup hal.SetupPacket, data []byte) (reply []byte, stall bool)

// Function is a simulated non-hub device built from a DeviceSpec.
type Function struct {
	mu sync.Mutex

	spec   DeviceSpec
	device []byte
	config []byte

	address       hal.DeviceAddress
	configuration uint8
	suspended     bool

	ignoreSetups   int
	nakStages      bool
	stallStrings   bool
	controlHandler ControlHandler

	halted   map[uint8]bool
	queued   map[uint8][][]byte
	received map[uint8][][]byte
	requests []hal.SetupPacket
}

// NewFunction returns a device answering standard requests from spec.
func NewFunction(spec DeviceSpec) *Function {
	spec.normalize()
	return &Function{
		spec:     spec,
		device:   spec.DeviceDescriptor(),
		config:   spec.ConfigurationDescriptor(),
		halted:   make(map[uint8]bool),
		queued:   make(map[uint8][][]byte),
		received: make(map[uint8][][]byte),
	}
}

// Speed returns the device's bus speed.
func (f *Function) Speed() hal.Speed {
	return f.spec.Speed
}

// Address returns the address assigned by SET_ADDRESS, or 0.
func (f *Function) Address() hal.DeviceAddress {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.address
}

// Configuration returns the value set by SET_CONFIGURATION, or 0.
func (f *Function) Configuration() uint8 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.configuration
}

// Suspended reports whether the device sees a suspended bus.
func (f *Function) Suspended() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.suspended
}

// IgnoreSetups makes the device drop the next n SETUP packets without a
// handshake.
func (f *Function) IgnoreSetups(n int) {
	f.mu.Lock()
	f.ignoreSetups = n
	f.mu.Unlock()
}

// NAKControl makes the device answer every data and status stage token
// with NAK while on is set. SETUP packets are still acknowledged.
func (f *Function) NAKControl(on bool) {
	f.mu.Lock()
	f.nakStages = on
	f.mu.Unlock()
}

// StallStrings makes every string descriptor request stall.
func (f *Function) StallStrings(on bool) {
	f.mu.Lock()
	f.stallStrings = on
	f.mu.Unlock()
}

// HandleControl installs a handler for class and vendor requests.
func (f *Function) HandleControl(h ControlHandler) {
	f.mu.Lock()
	f.controlHandler = h
	f.mu.Unlock()
}

// Halt sets or clears the halt feature of an endpoint.
func (f *Function) Halt(ep uint8, on bool) {
	f.mu.Lock()
	f.halted[ep] = on
	f.mu.Unlock()
}

// Halted reports the halt feature of an endpoint.
func (f *Function) Halted(ep uint8) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.halted[ep]
}

// QueuePacket queues one packet for an IN endpoint. An empty packet is
// delivered as a zero-length packet.
func (f *Function) QueuePacket(ep uint8, pkt []byte) {
	f.mu.Lock()
	f.queued[ep] = append(f.queued[ep], append([]byte{}, pkt...))
	f.mu.Unlock()
}

// Queue splits data into packets of at most max bytes and queues them for
// an IN endpoint.
func (f *Function) Queue(ep uint8, data []byte, max int) {
	for len(data) > 0 {
		n := min(len(data), max)
		f.QueuePacket(ep, data[:n])
		data = data[n:]
	}
}

// Pending returns the number of packets still queued on an IN endpoint.
func (f *Function) Pending(ep uint8) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queued[ep])
}

// Received returns the packets accepted on an OUT endpoint, in order.
func (f *Function) Received(ep uint8) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.received[ep]))
	copy(out, f.received[ep])
	return out
}

// Requests returns every control request the device completed.
func (f *Function) Requests() []hal.SetupPacket {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]hal.SetupPacket, len(f.requests))
	copy(out, f.requests)
	return out
}

func (f *Function) busReset() {
	f.mu.Lock()
	f.address = 0
	f.configuration = 0
	f.suspended = false
	f.mu.Unlock()
}

func (f *Function) acceptSetup() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ignoreSetups > 0 {
		f.ignoreSetups--
		return false
	}
	return true
}

func (f *Function) nakControl() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nakStages
}

func (f *Function) setSuspended(on bool) {
	f.mu.Lock()
	f.suspended = on
	f.mu.Unlock()
}

func (f *Function) downstream() []Device {
	return nil
}

func (f *Function) control(setup hal.SetupPacket, data []byte) ([]byte, bool) {
	f.mu.Lock()
	f.requests = append(f.requests, setup)
	handler := f.controlHandler
	f.mu.Unlock()

	if setup.RequestType&0x60 != 0 {
		if handler == nil {
			return nil, true
		}
		reply, stall := handler(setup, data)
		return truncate(reply, setup.Length), stall
	}
	return f.standard(setup)
}

func (f *Function) standard(setup hal.SetupPacket) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch setup.Request {
	case reqGetDescriptor:
		var d []byte
		switch setup.Value >> 8 {
		case descDevice:
			d = f.device
		case descConfiguration:
			d = f.config
		case descString:
			if f.stallStrings {
				return nil, true
			}
			d = f.stringDescriptor(uint8(setup.Value))
		}
		if d == nil {
			return nil, true
		}
		return truncate(d, setup.Length), false

	case reqSetAddress:
		f.address = hal.DeviceAddress(setup.Value & 0x7F)
		return nil, false

	case reqSetConfiguration:
		v := uint8(setup.Value)
		if v != 0 && v != f.spec.Configuration {
			return nil, true
		}
		f.configuration = v
		return nil, false

	case reqGetConfiguration:
		return []byte{f.configuration}, false

	case reqGetStatus:
		st := []byte{0, 0}
		if setup.RequestType&0x1F == 0x02 && f.halted[uint8(setup.Index)] {
			st[0] = 1
		}
		return truncate(st, setup.Length), false

	case reqClearFeature, reqSetFeature:
		if setup.RequestType&0x1F == 0x02 && setup.Value == 0 {
			f.halted[uint8(setup.Index)] = setup.Request == reqSetFeature
		}
		return nil, false

	case reqSetInterface:
		return nil, false

	case reqGetInterface:
		return []byte{0}, false
	}
	return nil, true
}

func (f *Function) stringDescriptor(index uint8) []byte {
	switch index {
	case 0:
		return languageDescriptor()
	case stringManufacturer:
		if f.spec.Manufacturer != "" {
			return stringDescriptor(f.spec.Manufacturer)
		}
	case stringProduct:
		if f.spec.Product != "" {
			return stringDescriptor(f.spec.Product)
		}
	case stringSerial:
		if f.spec.SerialNumber != "" {
			return stringDescriptor(f.spec.SerialNumber)
		}
	}
	return nil
}

func (f *Function) in(ep uint8, max int) ([]byte, Handshake) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.halted[ep] {
		return nil, STALL
	}
	q := f.queued[ep]
	if len(q) == 0 {
		return nil, NAK
	}
	pkt := q[0]
	f.queued[ep] = q[1:]
	return truncate(pkt, uint16(max)), ACK
}

func (f *Function) out(ep uint8, data []byte) Handshake {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.halted[ep] {
		return STALL
	}
	f.received[ep] = append(f.received[ep], append([]byte{}, data...))
	return ACK
}

func truncate(b []byte, n uint16) []byte {
	if len(b) > int(n) {
		return b[:n]
	}
	return b
}
