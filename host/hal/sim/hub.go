package sim

import (
	"sync"

	"github.com/ardnew/softhcd/host/hal"
)

// Hub class requests and features.
const (
	classHub = 0x09

	featPortConnection     = 0
	featPortEnable         = 1
	featPortSuspend        = 2
	featPortOverCurrent    = 3
	featPortReset          = 4
	featPortPower          = 8
	featCPortConnection    = 16
	featCPortEnable        = 17
	featCPortSuspend       = 18
	featCPortOverCurrent   = 19
	featCPortReset         = 20
	featCHubLocalPower     = 0
	featCHubOverCurrent    = 1
	hubStatusEndpoint      = 0x81
	hubRequestTypeClass    = 0x20
	hubRecipientOther      = 0x03
	hubDefaultPowerOnDelay = 50 // 100 ms in 2 ms units
)

// Port status bits (wPortStatus).
const (
	PortConnection  uint16 = 0x0001
	PortEnable      uint16 = 0x0002
	PortSuspend     uint16 = 0x0004
	PortOverCurrent uint16 = 0x0008
	PortReset       uint16 = 0x0010
	PortPower       uint16 = 0x0100
	PortLowSpeed    uint16 = 0x0200
	PortHighSpeed   uint16 = 0x0400
)

type hubPort struct {
	dev    Device
	status uint16
	change uint16
}

// Hub is a simulated external hub. Ports are numbered from 1.
type Hub struct {
	*Function

	hmu             sync.Mutex
	ports           []hubPort
	hubChange       uint16
	stallDescriptor bool
	statusRequests  int
}

// NewHub returns a full-speed hub with n downstream ports.
func NewHub(n int) *Hub {
	mps := uint16(1)
	if n >= 8 {
		mps = 2
	}
	spec := DeviceSpec{
		Speed:     hal.SpeedFull,
		Class:     classHub,
		VendorID:  0x0424,
		ProductID: 0x2514,
		Product:   "Simulated Hub",
		Interfaces: []InterfaceSpec{{
			Class: classHub,
			Endpoints: []EndpointSpec{{
				Address:       hubStatusEndpoint,
				Type:          hal.TransferInterrupt,
				MaxPacketSize: mps,
				Interval:      12,
			}},
		}},
	}
	return &Hub{
		Function: NewFunction(spec),
		ports:    make([]hubPort, n),
	}
}

// NumPorts returns the number of downstream ports.
func (h *Hub) NumPorts() int {
	return len(h.ports)
}

// StallDescriptor makes the hub class descriptor request stall.
func (h *Hub) StallDescriptor(on bool) {
	h.hmu.Lock()
	h.stallDescriptor = on
	h.hmu.Unlock()
}

// AttachPort connects dev to downstream port n.
func (h *Hub) AttachPort(n int, dev Device) {
	h.hmu.Lock()
	defer h.hmu.Unlock()
	p := h.port(n)
	if p == nil {
		return
	}
	p.dev = dev
	if p.status&PortPower != 0 {
		p.status |= PortConnection
		p.change |= PortConnection
	}
}

// DetachPort disconnects whatever is attached to downstream port n.
func (h *Hub) DetachPort(n int) {
	h.hmu.Lock()
	defer h.hmu.Unlock()
	p := h.port(n)
	if p == nil || p.dev == nil {
		return
	}
	p.dev = nil
	if p.status&PortConnection != 0 {
		p.change |= PortConnection
	}
	if p.status&PortEnable != 0 {
		p.change |= PortEnable
	}
	p.status &^= PortConnection | PortEnable | PortSuspend | PortLowSpeed | PortHighSpeed
}

// OverCurrent latches an over-current condition on downstream port n.
func (h *Hub) OverCurrent(n int) {
	h.hmu.Lock()
	defer h.hmu.Unlock()
	p := h.port(n)
	if p == nil {
		return
	}
	p.status |= PortOverCurrent
	p.status &^= PortPower | PortEnable
	p.change |= PortOverCurrent
}

// PortStatus returns wPortStatus and wPortChange of downstream port n.
func (h *Hub) PortStatus(n int) (status, change uint16) {
	h.hmu.Lock()
	defer h.hmu.Unlock()
	p := h.port(n)
	if p == nil {
		return 0, 0
	}
	return p.status, p.change
}

// StatusRequests returns the number of GetStatus(port) requests served.
func (h *Hub) StatusRequests() int {
	h.hmu.Lock()
	defer h.hmu.Unlock()
	return h.statusRequests
}

func (h *Hub) port(n int) *hubPort {
	if n < 1 || n > len(h.ports) {
		return nil
	}
	return &h.ports[n-1]
}

func (h *Hub) busReset() {
	h.Function.busReset()
	h.hmu.Lock()
	for i := range h.ports {
		h.ports[i].status &^= PortPower | PortEnable | PortSuspend | PortConnection
		h.ports[i].change = 0
	}
	h.hmu.Unlock()
}

func (h *Hub) downstream() []Device {
	h.hmu.Lock()
	defer h.hmu.Unlock()
	var out []Device
	for _, p := range h.ports {
		if p.dev != nil && p.status&PortEnable != 0 && p.status&PortSuspend == 0 {
			out = append(out, p.dev)
		}
	}
	return out
}

func (h *Hub) descriptor() []byte {
	n := len(h.ports)
	bitmap := (n + 1 + 7) / 8
	d := []byte{byte(7 + 2*bitmap), descHub, byte(n), 0x09, 0x00, hubDefaultPowerOnDelay, 100}
	d = append(d, make([]byte, bitmap)...)
	for i := 0; i < bitmap; i++ {
		d = append(d, 0xFF)
	}
	return d
}

func (h *Hub) control(setup hal.SetupPacket, data []byte) ([]byte, bool) {
	if setup.RequestType&0x60 != hubRequestTypeClass {
		return h.Function.control(setup, data)
	}

	h.Function.mu.Lock()
	h.Function.requests = append(h.Function.requests, setup)
	h.Function.mu.Unlock()

	h.hmu.Lock()
	defer h.hmu.Unlock()

	other := setup.RequestType&0x1F == hubRecipientOther
	switch setup.Request {
	case reqGetDescriptor:
		if setup.Value>>8 != descHub || h.stallDescriptor {
			return nil, true
		}
		return truncate(h.descriptor(), setup.Length), false

	case reqGetStatus:
		if !other {
			return truncate([]byte{0, 0, byte(h.hubChange), byte(h.hubChange >> 8)}, setup.Length), false
		}
		p := h.port(int(setup.Index))
		if p == nil {
			return nil, true
		}
		h.statusRequests++
		return truncate([]byte{
			byte(p.status), byte(p.status >> 8),
			byte(p.change), byte(p.change >> 8),
		}, setup.Length), false

	case reqSetFeature:
		if !other {
			return nil, true
		}
		p := h.port(int(setup.Index))
		if p == nil {
			return nil, true
		}
		return nil, !h.setPortFeature(p, setup.Value)

	case reqClearFeature:
		if !other {
			switch setup.Value {
			case featCHubLocalPower, featCHubOverCurrent:
				h.hubChange = 0
				return nil, false
			}
			return nil, true
		}
		p := h.port(int(setup.Index))
		if p == nil {
			return nil, true
		}
		return nil, !h.clearPortFeature(p, setup.Value)
	}
	return nil, true
}

func (h *Hub) setPortFeature(p *hubPort, feature uint16) bool {
	switch feature {
	case featPortPower:
		p.status |= PortPower
		p.status &^= PortOverCurrent
		if p.dev != nil && p.status&PortConnection == 0 {
			p.status |= PortConnection
			p.change |= PortConnection
		}
	case featPortReset:
		if p.dev == nil {
			return true
		}
		// Reset completes immediately.
		p.dev.busReset()
		p.status |= PortEnable
		p.status &^= PortSuspend | PortLowSpeed | PortHighSpeed
		switch p.dev.Speed() {
		case hal.SpeedLow:
			p.status |= PortLowSpeed
		case hal.SpeedHigh:
			p.status |= PortHighSpeed
		}
		p.change |= PortReset
	case featPortSuspend:
		p.status |= PortSuspend
		if p.dev != nil {
			p.dev.setSuspended(true)
		}
	default:
		return false
	}
	return true
}

func (h *Hub) clearPortFeature(p *hubPort, feature uint16) bool {
	switch feature {
	case featPortEnable:
		p.status &^= PortEnable
	case featPortSuspend:
		if p.status&PortSuspend != 0 {
			p.status &^= PortSuspend
			p.change |= PortSuspend
			if p.dev != nil {
				p.dev.setSuspended(false)
			}
		}
	case featPortPower:
		p.status &^= PortPower | PortEnable | PortConnection
	case featCPortConnection:
		p.change &^= PortConnection
	case featCPortEnable:
		p.change &^= PortEnable
	case featCPortSuspend:
		p.change &^= PortSuspend
	case featCPortOverCurrent:
		p.change &^= PortOverCurrent
	case featCPortReset:
		p.change &^= PortReset
	case featPortConnection, featPortOverCurrent:
		// Not clearable, acknowledged without effect.
	default:
		return false
	}
	return true
}

func (h *Hub) in(ep uint8, max int) ([]byte, Handshake) {
	if ep != hubStatusEndpoint {
		return h.Function.in(ep, max)
	}
	if h.Function.Halted(ep) {
		return nil, STALL
	}

	h.hmu.Lock()
	defer h.hmu.Unlock()

	bitmap := make([]byte, (len(h.ports)+1+7)/8)
	changed := false
	if h.hubChange != 0 {
		bitmap[0] |= 1
		changed = true
	}
	for i, p := range h.ports {
		if p.change != 0 {
			bitmap[(i+1)/8] |= 1 << ((i + 1) % 8)
			changed = true
		}
	}
	if !changed {
		return nil, NAK
	}
	return truncate(bitmap, uint16(max)), ACK
}
