package host

import (
	"errors"
	"fmt"

	"github.com/ardnew/softhcd/host/hal"
	"github.com/ardnew/softhcd/pkg"
)

// Enumeration errors.
var (
	ErrEnumerationFailed = errors.New("enumeration failed")
	ErrNoAddress         = errors.New("no address available")
)

// enumStage is the request an enumeration is waiting on.
type enumStage uint8

const (
	enumGetDevice8 enumStage = iota
	enumSetAddress
	enumRecovery
	enumGetDevice
	enumGetConfigHeader
	enumGetConfig
	enumGetProduct
	enumSetConfig
)

func (s enumStage) String() string {
	switch s {
	case enumGetDevice8:
		return "get-device-8"
	case enumSetAddress:
		return "set-address"
	case enumRecovery:
		return "recovery"
	case enumGetDevice:
		return "get-device"
	case enumGetConfigHeader:
		return "get-config-header"
	case enumGetConfig:
		return "get-config"
	case enumGetProduct:
		return "get-product"
	case enumSetConfig:
		return "set-configuration"
	default:
		return "?"
	}
}

// MsgEnumStep events, carried in message.phase.
const (
	enumEvStart = iota
	enumEvDone
	enumEvRetry
	enumEvTimer
)

// enumState is the single enumeration in progress. Only one device may
// answer at address 0, so root ports and hubs take turns.
type enumState struct {
	active bool
	seq    uint32

	root    bool
	port    int       // Root port the device is reached through
	hub     *hubState // Hub owning the enumeration, nil on a root port
	hubPort int

	route     hal.Route
	speed     hal.Speed
	mps0      uint8
	addr      hal.DeviceAddress
	addressed bool
	stage     enumStage
	dev       *Device
	claimed   []int

	xfer  Transfer
	setup hal.SetupPacket
	buf   [MaxDescriptorSize]byte
}

// defaultPhase reports whether a device is being addressed at address 0.
func (e *enumState) defaultPhase() bool {
	return e.active && !e.addressed
}

// claimEnum starts a new enumeration owned by a root port or hub port.
func (h *Host) claimEnum(port int, hub *hubState, hubPort int) {
	e := &h.enum
	e.seq++
	e.active = true
	e.root = hub == nil
	e.port = port
	e.hub = hub
	e.hubPort = hubPort
	e.route = hal.Route{}
	e.speed = hal.SpeedUnknown
	e.mps0 = 0
	e.addr = 0
	e.addressed = false
	e.stage = enumGetDevice8
	e.dev = nil
	e.claimed = nil
	e.xfer = Transfer{}
}

// enumStep processes one MsgEnumStep. Stale events of an earlier
// enumeration are dropped.
func (h *Host) enumStep(m *message) {
	defer h.release(m)

	e := &h.enum
	if !e.active || m.seq != e.seq {
		pkg.LogDebug(pkg.ComponentMGR, "stale enumeration event", "seq", m.seq)
		return
	}

	switch m.phase {
	case enumEvStart:
		h.enumStart(m.speed, m.status)
	case enumEvDone:
		h.enumNext(m.status)
	case enumEvRetry:
		h.enumSubmit()
	case enumEvTimer:
		h.enumRequest(enumGetDevice, e.addr,
			getDescriptorSetup(DescriptorTypeDevice, 0, 0, DeviceDescriptorSize))
	}
}

func (h *Host) enumStart(speed hal.Speed, status pkg.TransferStatus) {
	e := &h.enum
	if status != pkg.TransferStatusSuccess || speed == hal.SpeedUnknown {
		h.enumFail(fmt.Errorf("%w: no device after reset", pkg.ErrNoDevice))
		return
	}

	e.speed = speed
	e.mps0 = uint8(speed.MaxPacketSize0())
	if e.root {
		e.route = hal.Route{Speed: speed}
		h.setPortState(e.port, PortSpeedDetected)
		h.setPortState(e.port, PortEnumerating)
	} else {
		e.route = hal.Route{Speed: speed, HubAddr: e.hub.addr, HubPort: uint8(e.hubPort)}
	}

	pkg.LogDebug(pkg.ComponentMGR, "starting enumeration",
		"port", e.port,
		"hub", e.route.HubAddr,
		"hub_port", e.hubPort,
		"speed", speed)

	if err := h.hal.ConfigureDevice(0, e.route); err != nil {
		h.enumFail(err)
		return
	}
	h.enumRequest(enumGetDevice8, 0, getDescriptorSetup(DescriptorTypeDevice, 0, 0, 8))
}

func (h *Host) enumRequest(stage enumStage, addr hal.DeviceAddress, setup hal.SetupPacket) {
	e := &h.enum
	e.stage = stage
	e.setup = setup
	e.xfer = Transfer{
		Pipe:     PipeControl,
		Address:  addr,
		Setup:    &e.setup,
		Buffer:   e.buf[:setup.Length],
		Timeout:  h.cfg.EnumRequestTimeout,
		Callback: h.enumDone,
		Context:  e.seq,
	}
	h.enumSubmit()
}

// enumSubmit hands the pending request to the transfer engine, deferring
// it while another transfer owns the control pipe.
func (h *Host) enumSubmit() {
	e := &h.enum
	err := h.submit(&e.xfer)
	if err == nil {
		return
	}
	if !errors.Is(err, pkg.ErrQueueOverflow) {
		h.enumFail(err)
		return
	}

	m := h.alloc(MsgEnumStep)
	if m == nil {
		h.enumFail(pkg.ErrNoResources)
		return
	}
	m.phase = enumEvRetry
	m.seq = e.seq
	h.stats.mailboxRetry.Inc(1)
	h.postDelayed(mbxMGR, m, h.cfg.EnumRetryDelay)
}

// enumDone is the completion callback of every enumeration request.
func (h *Host) enumDone(t *Transfer) {
	h.lock()
	defer h.unlock()

	seq, _ := t.Context.(uint32)
	if !h.enum.active || h.enum.seq != seq {
		return
	}
	err := h.send(mbxMGR, MsgEnumStep, func(m *message) {
		m.phase = enumEvDone
		m.seq = seq
		m.status = t.Status
	})
	if err != nil {
		h.enumFail(err)
	}
}

// enumNext consumes the result of the current request and issues the next.
func (h *Host) enumNext(status pkg.TransferStatus) {
	e := &h.enum
	t := &e.xfer
	data := e.buf[:t.Actual]

	if !status.OK() && e.stage != enumGetProduct {
		h.enumFail(fmt.Errorf("%w: %s: %w", ErrEnumerationFailed, e.stage, status.Error()))
		return
	}

	switch e.stage {
	case enumGetDevice8:
		if len(data) < 8 {
			h.enumFail(fmt.Errorf("%w: device descriptor header %d bytes", ErrEnumerationFailed, len(data)))
			return
		}
		if e.mps0 = data[7]; e.mps0 == 0 {
			e.mps0 = 8
		}
		addr, err := h.allocAddress()
		if err != nil {
			h.enumFail(err)
			return
		}
		dev := newDevice(h, e.port, addr, e.speed)
		dev.descriptor.MaxPacketSize0 = e.mps0
		if !e.root {
			dev.hubAddr = e.hub.addr
			dev.hubPort = e.hubPort
		}
		h.devices[addr] = dev
		e.addr = addr
		e.dev = dev
		pkg.LogDebug(pkg.ComponentMGR, "got max packet size", "size", e.mps0)
		h.enumRequest(enumSetAddress, 0, setAddressSetup(addr))

	case enumSetAddress:
		e.addressed = true
		if err := h.hal.ConfigureDevice(e.addr, e.route); err != nil {
			h.enumFail(err)
			return
		}
		e.dev.setState(DeviceStateAddress)
		pkg.LogDebug(pkg.ComponentMGR, "assigned address", "address", e.addr)

		m := h.alloc(MsgEnumStep)
		if m == nil {
			h.enumFail(pkg.ErrNoResources)
			return
		}
		m.phase = enumEvTimer
		m.seq = e.seq
		e.stage = enumRecovery
		h.postDelayed(mbxMGR, m, h.cfg.ResetRecovery)

	case enumGetDevice:
		dev := e.dev
		if !ParseDeviceDescriptor(data, &dev.descriptor) || dev.descriptor.DescriptorType != DescriptorTypeDevice {
			h.enumFail(fmt.Errorf("%w: %w", ErrEnumerationFailed, pkg.ErrDescriptorTooShort))
			return
		}
		pkg.LogDebug(pkg.ComponentMGR, "device descriptor",
			"vendorID", dev.descriptor.VendorID,
			"productID", dev.descriptor.ProductID,
			"class", dev.descriptor.DeviceClass)
		h.enumRequest(enumGetConfigHeader, e.addr,
			getDescriptorSetup(DescriptorTypeConfiguration, 0, 0, ConfigurationDescriptorSize))

	case enumGetConfigHeader:
		var cfg ConfigurationDescriptor
		if !ParseConfigurationDescriptor(data, &cfg) || cfg.DescriptorType != DescriptorTypeConfiguration {
			h.enumFail(fmt.Errorf("%w: %w", ErrEnumerationFailed, pkg.ErrDescriptorTypeMismatch))
			return
		}
		total := min(int(cfg.TotalLength), MaxDescriptorSize)
		if total < ConfigurationDescriptorSize {
			h.enumFail(fmt.Errorf("%w: configuration total length %d", ErrEnumerationFailed, total))
			return
		}
		h.enumRequest(enumGetConfig, e.addr,
			getDescriptorSetup(DescriptorTypeConfiguration, 0, 0, total))

	case enumGetConfig:
		dev := e.dev
		dev.parseConfigurationTree(data)
		pkg.LogDebug(pkg.ComponentMGR, "configuration descriptor",
			"numInterfaces", dev.config.NumInterfaces,
			"configValue", dev.config.ConfigurationValue)

		if idx := dev.descriptor.ProductIndex; idx != 0 {
			h.enumRequest(enumGetProduct, e.addr,
				getDescriptorSetup(DescriptorTypeString, idx, LangIDUSEnglish, 255))
			return
		}
		h.enumClassCheck()

	case enumGetProduct:
		dev := e.dev
		if !status.OK() || !dev.setString(dev.descriptor.ProductIndex, data) {
			// Best effort; the device enumerates without its name.
			h.stats.stringSkipped.Inc(1)
			pkg.LogWarn(pkg.ComponentMGR, "product string unavailable",
				"address", e.addr,
				"status", status)
		} else {
			pkg.LogDebug(pkg.ComponentMGR, "product", "value", dev.Product())
		}
		h.enumClassCheck()

	case enumSetConfig:
		h.finishEnum()
	}
}

// enumClassCheck offers the device to the registration table, then selects
// its configuration.
func (h *Host) enumClassCheck() {
	e := &h.enum
	dev := e.dev

	e.claimed = h.classCheck(dev)
	dev.drivers = e.claimed
	for _, slot := range e.claimed {
		if h.hubSlot(slot) >= 0 {
			dev.isHub = true
		}
	}
	if len(e.claimed) == 0 {
		h.stats.unclaimed.Inc(1)
		pkg.LogInfo(pkg.ComponentMGR, "no class driver claimed device",
			"address", e.addr,
			"vendorID", dev.descriptor.VendorID,
			"productID", dev.descriptor.ProductID)
	}

	h.enumRequest(enumSetConfig, e.addr, setConfigurationSetup(dev.config.ConfigurationValue))
}

// finishEnum configures the claimed pipes and publishes the device.
func (h *Host) finishEnum() {
	e := &h.enum
	dev := e.dev

	bound := dev.drivers[:0]
	for _, slot := range dev.drivers {
		if err := h.configureSlot(slot, dev); err != nil {
			pkg.LogWarn(pkg.ComponentMGR, "class driver pipes not configured",
				"address", e.addr,
				"slot", slot,
				"error", err)
			h.drivers[slot].unbind()
			continue
		}
		bound = append(bound, slot)
	}
	dev.drivers = bound
	if len(bound) == 0 {
		dev.isHub = false
	}

	dev.setState(DeviceStateConfigured)
	h.hubPorts[e.addr] = HubPortInfo{HubAddr: dev.hubAddr, HubPort: dev.hubPort}
	h.stats.enumComplete.Inc(1)

	pkg.LogInfo(pkg.ComponentMGR, "device configured",
		"address", e.addr,
		"port", e.port,
		"hub", dev.hubAddr,
		"hub_port", dev.hubPort,
		"vendorID", dev.descriptor.VendorID,
		"productID", dev.descriptor.ProductID,
		"drivers", len(bound))

	if e.root {
		h.setPortState(e.port, PortConfigured)
	} else {
		h.hubEnumResult(e.hub, e.hubPort, e.addr, nil)
	}
	if fn := h.onDeviceConnect; fn != nil {
		h.later(func() { fn(dev) })
	}
	e.active = false
	e.dev = nil
}

// enumFail abandons the enumeration, frees its address and marks the root
// port failed or reports the failure to the owning hub.
func (h *Host) enumFail(err error) {
	e := &h.enum
	if !e.active {
		return
	}
	h.stats.enumFailed.Inc(1)
	pkg.LogWarn(pkg.ComponentMGR, "enumeration failed",
		"port", e.port,
		"hub_port", e.hubPort,
		"address", e.addr,
		"stage", e.stage,
		"error", err)

	if h.pipes[PipeControl].owner == &e.xfer {
		h.forceTerminate(PipeControl, pkg.TransferStatusDataError)
	}
	h.dropEnumDevice(DeviceStateError)

	if e.root {
		h.setPortState(e.port, PortError)
	} else {
		h.hubEnumResult(e.hub, e.hubPort, 0, err)
	}
	e.active = false
}

// abortEnum cancels the enumeration because its device or hub went away.
func (h *Host) abortEnum() {
	e := &h.enum
	if !e.active {
		return
	}
	pkg.LogDebug(pkg.ComponentMGR, "enumeration aborted",
		"port", e.port,
		"address", e.addr,
		"stage", e.stage)

	e.active = false
	if h.pipes[PipeControl].owner == &e.xfer {
		h.forceTerminate(PipeControl, pkg.TransferStatusNoConnection)
	}
	h.dropEnumDevice(DeviceStateDetached)
	if !e.root {
		h.hubEnumResult(e.hub, e.hubPort, 0, pkg.ErrNoDevice)
	}
}

func (h *Host) dropEnumDevice(state DeviceState) {
	e := &h.enum
	dev := e.dev
	if dev == nil {
		return
	}
	for _, slot := range e.claimed {
		if h.drivers[slot].bind.Address == e.addr {
			h.drivers[slot].unbind()
		}
	}
	dev.drivers = nil
	dev.setState(state)
	if h.devices[e.addr] == dev {
		h.devices[e.addr] = nil
		h.hubPorts[e.addr] = HubPortInfo{}
	}
	e.dev = nil
}

// allocAddress returns the root port's reserved address, or the lowest free
// address above the root port range for a hub downstream device.
func (h *Host) allocAddress() (hal.DeviceAddress, error) {
	e := &h.enum
	if e.root {
		addr := rootAddress(e.port)
		if int(addr) > MaxDevices || h.devices[addr] != nil {
			return 0, fmt.Errorf("%w: root port %d", ErrNoAddress, e.port)
		}
		return addr, nil
	}
	for a := len(h.ports) + 1; a <= MaxDevices; a++ {
		if h.devices[a] == nil {
			return hal.DeviceAddress(a), nil
		}
	}
	return 0, ErrNoAddress
}
