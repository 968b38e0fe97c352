package host

import (
	"fmt"

	"github.com/ardnew/softhcd/host/hal"
	"github.com/ardnew/softhcd/pkg"
)

// PortState is the lifecycle state of a root port.
type PortState uint8

// Root port states.
const (
	PortDetached PortState = iota
	PortDebounce
	PortReset
	PortSpeedDetected
	PortEnumerating
	PortConfigured
	PortSuspended
	PortError
)

// String returns the state name.
func (s PortState) String() string {
	switch s {
	case PortDetached:
		return "detached"
	case PortDebounce:
		return "debounce"
	case PortReset:
		return "reset"
	case PortSpeedDetected:
		return "speed-detected"
	case PortEnumerating:
		return "enumerating"
	case PortConfigured:
		return "configured"
	case PortSuspended:
		return "suspended"
	case PortError:
		return "error"
	default:
		return "unknown"
	}
}

type rootPort struct {
	state PortState
	speed hal.Speed
}

// DeviceRequest is an administrative state change applied with
// ChangeDeviceState.
type DeviceRequest uint8

// Device requests.
const (
	RequestSuspend DeviceRequest = iota
	RequestResume
	RequestDetach
	// RequestReset resets the port and enumerates the device again.
	RequestReset
)

// String returns the request name.
func (r DeviceRequest) String() string {
	switch r {
	case RequestSuspend:
		return "suspend"
	case RequestResume:
		return "resume"
	case RequestDetach:
		return "detach"
	case RequestReset:
		return "reset"
	default:
		return "unknown"
	}
}

// rootAddress is the address reserved for the device on a root port.
func rootAddress(port int) hal.DeviceAddress {
	return hal.DeviceAddress(port + 1)
}

func (h *Host) setPortState(port int, s PortState) {
	if port < 0 || port >= len(h.ports) || h.ports[port].state == s {
		return
	}
	pkg.LogDebug(pkg.ComponentMGR, "port state",
		"port", port,
		"from", h.ports[port].state,
		"to", s)
	h.ports[port].state = s
}

// mgrTask processes one MGR message.
func (h *Host) mgrTask(m *message) {
	switch m.kind {
	case MsgPortAttach:
		h.mgrAttach(m)

	case MsgPortDetach:
		if m.port >= 0 && m.port < len(h.ports) && h.ports[m.port].state != PortError {
			h.setPortState(m.port, PortDetached)
			h.ports[m.port].speed = hal.SpeedUnknown
		}
		h.release(m)

	case MsgPortError:
		h.setPortState(m.port, PortError)
		h.release(m)

	case MsgEnumStep:
		h.enumStep(m)

	case MsgDeviceRequest:
		h.mgrDeviceRequest(m)
		h.release(m)

	default:
		pkg.LogError(pkg.ComponentMGR, "unexpected message", "kind", m.kind)
		h.release(m)
	}
}

// mgrAttach debounces a root port connection, then claims the enumeration
// slot and asks the HCD to reset the port.
func (h *Host) mgrAttach(m *message) {
	port := m.port
	if port < 0 || port >= len(h.ports) {
		h.release(m)
		return
	}

	if m.phase == 0 {
		h.setPortState(port, PortDebounce)
		m.phase = 1
		h.postDelayed(mbxMGR, m, h.cfg.Debounce)
		return
	}

	if !h.hal.PortConnected(port) {
		h.setPortState(port, PortDetached)
		h.release(m)
		return
	}
	if h.enum.active {
		h.stats.mailboxRetry.Inc(1)
		h.postDelayed(mbxMGR, m, h.cfg.EnumRetryDelay)
		return
	}

	if h.devices[rootAddress(port)] != nil {
		h.detachDevice(rootAddress(port), pkg.TransferStatusStop)
	}
	h.claimEnum(port, nil, 0)
	h.setPortState(port, PortReset)

	m.kind = MsgAttachNotify
	m.phase = 0
	m.seq = h.enum.seq
	if err := h.post(mbxHCD, m); err != nil {
		h.enumFail(err)
	}
}

func (h *Host) mgrDeviceRequest(m *message) {
	done := m.done
	m.done = nil
	dev := h.devices[m.addr]
	if dev == nil {
		h.notify(done, pkg.ErrNoDevice)
		return
	}
	req := DeviceRequest(m.phase)

	pkg.LogDebug(pkg.ComponentMGR, "device request",
		"address", m.addr,
		"request", req)

	// forward hands done to the HCD message carrying out the request.
	forward := func(kind MsgKind) error {
		return h.send(mbxHCD, kind, func(r *message) {
			r.port = dev.port
			r.done = done
		})
	}

	var err error
	switch req {
	case RequestSuspend:
		if err = forward(MsgSuspend); err == nil {
			h.setPortState(dev.port, PortSuspended)
			return
		}
	case RequestResume:
		if err = forward(MsgResume); err == nil {
			return
		}
	case RequestDetach:
		if dev.hubAddr == 0 {
			if err = forward(MsgDetachNotify); err == nil {
				return
			}
		} else {
			h.detachDevice(m.addr, pkg.TransferStatusStop)
		}
	case RequestReset:
		h.detachPort(dev.port)
		h.setPortState(dev.port, PortDetached)
		err = h.send(mbxMGR, MsgPortAttach, func(r *message) {
			r.port = dev.port
			r.phase = 1
		})
	}
	h.notify(done, err)
}

// ChangeDeviceState applies req to the device at addr. Suspend, resume and
// reset act on root port devices only. done, if not nil, receives the
// result.
func (h *Host) ChangeDeviceState(addr hal.DeviceAddress, req DeviceRequest, done func(error)) error {
	h.lock()
	defer h.unlock()
	if !h.running.Load() {
		return pkg.ErrNotRunning
	}
	if int(addr) >= len(h.devices) || h.devices[addr] == nil {
		return pkg.ErrNoDevice
	}
	if req > RequestReset {
		return fmt.Errorf("%w: request %d", pkg.ErrInvalidParameter, req)
	}
	if h.devices[addr].hubAddr != 0 && req != RequestDetach {
		return fmt.Errorf("%w: %s of a hub downstream device", pkg.ErrNotSupported, req)
	}
	return h.send(mbxMGR, MsgDeviceRequest, func(m *message) {
		m.addr = addr
		m.phase = int(req)
		m.done = done
	})
}

// detachPort removes the root port device and every device behind it.
func (h *Host) detachPort(port int) {
	if port < 0 || port >= len(h.ports) {
		return
	}
	h.detachDevice(rootAddress(port), pkg.TransferStatusStop)
	if h.enum.active && h.enum.root && h.enum.port == port {
		h.abortEnum()
	}
}

// detachDevice terminates every transfer addressed to addr, unbinds its
// class drivers and frees the address. Hubs close their downstream
// devices first. Detaching an unknown address is a no-op.
func (h *Host) detachDevice(addr hal.DeviceAddress, status pkg.TransferStatus) {
	if addr == 0 || int(addr) >= len(h.devices) {
		return
	}
	dev := h.devices[addr]
	if dev == nil {
		return
	}

	if dev.isHub {
		h.closeHub(addr)
	}

	for pipe := PipeControl + 1; pipe < MaxPipes; pipe++ {
		p := &h.pipes[pipe]
		if !p.configured || p.cfg.Address != addr {
			continue
		}
		if p.owner != nil {
			h.forceTerminate(pipe, status)
		}
		h.releasePipe(pipe)
	}
	if t := h.pipes[PipeControl].owner; t != nil && t.Address == addr {
		h.forceTerminate(PipeControl, status)
	}

	for _, slot := range dev.drivers {
		ds := &h.drivers[slot]
		if ds.bind.Address != addr {
			continue
		}
		if ds.bind.State == DriverConfigured {
			drv := ds.reg.Driver
			h.later(func() { drv.Detach(dev) })
		}
		ds.unbind()
	}
	dev.drivers = nil

	dev.setState(DeviceStateDetached)
	h.devices[addr] = nil
	h.hubPorts[addr] = HubPortInfo{}
	if dev.hubAddr != 0 {
		if hs := h.hubByAddr(dev.hubAddr); hs != nil &&
			dev.hubPort > 0 && dev.hubPort <= MaxHubPorts && hs.attached[dev.hubPort] == addr {
			hs.attached[dev.hubPort] = 0
		}
	}
	if h.enum.active && h.enum.addr == addr {
		h.abortEnum()
	}

	pkg.LogInfo(pkg.ComponentMGR, "device detached",
		"address", addr,
		"hub", dev.hubAddr,
		"hub_port", dev.hubPort)

	if fn := h.onDeviceDisconnect; fn != nil {
		h.later(func() { fn(dev) })
	}
}

// PortState returns the state of a root port.
func (h *Host) PortState(port int) PortState {
	h.lock()
	defer h.unlock()
	if port < 0 || port >= len(h.ports) {
		return PortDetached
	}
	return h.ports[port].state
}

// PortSpeed returns the speed negotiated on a root port.
func (h *Host) PortSpeed(port int) hal.Speed {
	h.lock()
	defer h.unlock()
	if port < 0 || port >= len(h.ports) {
		return hal.SpeedUnknown
	}
	return h.ports[port].speed
}

// Device returns the device at addr, or nil.
func (h *Host) Device(addr hal.DeviceAddress) *Device {
	h.lock()
	defer h.unlock()
	if int(addr) >= len(h.devices) {
		return nil
	}
	return h.devices[addr]
}

// DeviceState returns the state of the device at addr.
func (h *Host) DeviceState(addr hal.DeviceAddress) DeviceState {
	if dev := h.Device(addr); dev != nil {
		return dev.State()
	}
	return DeviceStateDetached
}

// Devices returns the attached devices in address order.
func (h *Host) Devices() []*Device {
	h.lock()
	defer h.unlock()
	var out []*Device
	for _, dev := range h.devices {
		if dev != nil {
			out = append(out, dev)
		}
	}
	return out
}

// SetOnDeviceConnect sets the callback invoked when a device is configured.
func (h *Host) SetOnDeviceConnect(fn func(*Device)) {
	h.lock()
	h.onDeviceConnect = fn
	h.unlock()
}

// SetOnDeviceDisconnect sets the callback invoked when a device is removed.
func (h *Host) SetOnDeviceDisconnect(fn func(*Device)) {
	h.lock()
	h.onDeviceDisconnect = fn
	h.unlock()
}
