package host

import (
	"errors"
	"fmt"
	"time"

	"github.com/ardnew/softhcd/host/hal"
	"github.com/ardnew/softhcd/pkg"
)

// HubPortInfo describes where a device sits in the hub tree and, for a hub,
// its own downstream geometry.
type HubPortInfo struct {
	HubAddr  hal.DeviceAddress // Upstream hub, 0 on a root port
	HubPort  int               // Upstream hub port, 0 on a root port
	NumPorts int               // Downstream ports, hubs only
	Pipe     int               // Status change pipe, hubs only
}

// hubPipes are the interrupt IN pipes serving hub status change
// notification, one per hub slot, counted down from the last pipe.
var hubPipes = [MaxHubs]int{PipeInterruptLast, PipeInterruptLast - 1}

// hubStage is the request or wait a hub is blocked on.
type hubStage uint8

const (
	hubIdle hubStage = iota
	hubGetDescriptor
	hubPowerPort
	hubClearConnection
	hubPowerWait
	hubPolling
	hubPollWait
	hubGetHubStatus
	hubClearHubChange
	hubGetPortStatus
	hubClearPortChange
	hubClearOverCurrent
	hubRepower
	hubEnumWait
	hubPortReset
	hubResetWait
	hubResetStatus
	hubClearReset
	hubEnumerating
)

func (s hubStage) String() string {
	names := [...]string{
		"idle", "get-descriptor", "power-port", "clear-connection",
		"power-wait", "polling", "poll-wait", "get-hub-status",
		"clear-hub-change", "get-port-status", "clear-port-change",
		"clear-over-current", "repower", "enum-wait", "port-reset",
		"reset-wait", "reset-status", "clear-reset", "enumerating",
	}
	if int(s) < len(names) {
		return names[s]
	}
	return "?"
}

// MsgHubStep events, carried in message.phase.
const (
	hubEvOpen = iota
	hubEvDone
	hubEvPoll
	hubEvTimer
	hubEvRetry
)

// hubState is one open hub.
type hubState struct {
	index  int
	slot   int
	active bool
	seq    uint32

	addr  hal.DeviceAddress
	dev   *Device
	pipe  int
	ports int
	stage hubStage

	port     int    // Port being serviced
	pending  uint32 // Ports with an unserviced change, bit n for port n
	failed   uint32 // Ports whose device failed to enumerate
	status   uint16 // wPortStatus of port
	change   uint16 // wPortChange of port
	polls    int
	attached [MaxHubPorts + 1]hal.DeviceAddress

	suspended bool

	// An event the pool had no room for, posted by wakeHubs.
	wake wakeEvent

	xfer    Transfer
	setup   hal.SetupPacket
	buf     [32]byte
	intr    Transfer
	intrBuf [4]byte
}

// wakeEvent is a HUB message waiting for a free pool block.
type wakeEvent struct {
	set    bool
	kind   MsgKind
	phase  int
	addr   hal.DeviceAddress
	status pkg.TransferStatus
	delay  time.Duration
}

// hubDriver is the class driver binding hub interfaces to a hub slot.
type hubDriver struct {
	h     *Host
	index int
}

func (d *hubDriver) Init(h *Host, slot int) error {
	h.lock()
	h.hubs[d.index].slot = slot
	h.unlock()
	return nil
}

func (d *hubDriver) Check(dev *Device, iface *InterfaceDescriptor) bool {
	return iface.InterfaceClass == ClassHub
}

func (d *hubDriver) Configure(dev *Device) {
	h := d.h
	h.lock()
	defer h.unlock()
	err := h.send(mbxHUB, MsgHubStep, func(m *message) {
		m.port = d.index
		m.phase = hubEvOpen
		m.addr = dev.address
	})
	if err != nil {
		h.hubDefer(&h.hubs[d.index], wakeEvent{kind: MsgHubStep, phase: hubEvOpen, addr: dev.address}, err)
	}
}

func (d *hubDriver) Detach(dev *Device) {}

// Suspend stops status change polling.
func (d *hubDriver) Suspend(dev *Device) {
	h := d.h
	h.lock()
	defer h.unlock()
	hs := &h.hubs[d.index]
	if !hs.active || hs.addr != dev.address {
		return
	}
	hs.suspended = true
	if h.pipes[hs.pipe].owner == &hs.intr {
		h.forceTerminate(hs.pipe, pkg.TransferStatusStop)
	}
}

// Resume restarts status change polling.
func (d *hubDriver) Resume(dev *Device) {
	h := d.h
	h.lock()
	defer h.unlock()
	hs := &h.hubs[d.index]
	if !hs.active || hs.addr != dev.address || !hs.suspended {
		return
	}
	hs.suspended = false
	if hs.stage == hubPolling && h.pipes[hs.pipe].owner == nil {
		h.hubArmPoll(hs)
	}
}

// registerHubDrivers reserves the hub slots of the registration table.
func (h *Host) registerHubDrivers() {
	for i := range h.hubs {
		h.hubs[i] = hubState{index: i, slot: -1}
		_, err := h.RegisterClassDriver(Registration{
			InterfaceClass: ClassHub,
			Pipes:          []PipeDef{{Pipe: hubPipes[i], Type: hal.TransferInterrupt, In: true}},
			Driver:         &hubDriver{h: h, index: i},
		})
		if err != nil {
			pkg.LogError(pkg.ComponentHub, "hub driver registration failed", "index", i, "error", err)
		}
	}
}

// hubSlot returns the hub index bound to a registration slot, or -1.
func (h *Host) hubSlot(slot int) int {
	for i := range h.hubs {
		if h.hubs[i].slot == slot {
			return i
		}
	}
	return -1
}

func (h *Host) hubByAddr(addr hal.DeviceAddress) *hubState {
	for i := range h.hubs {
		if h.hubs[i].active && h.hubs[i].addr == addr {
			return &h.hubs[i]
		}
	}
	return nil
}

// hubTask processes one HUB message.
func (h *Host) hubTask(m *message) {
	defer h.release(m)

	if m.port < 0 || m.port >= len(h.hubs) {
		return
	}
	hs := &h.hubs[m.port]

	if m.kind == MsgHubStep && m.phase == hubEvOpen {
		h.hubOpen(hs, m.addr)
		return
	}
	if !hs.active || m.seq != hs.seq {
		pkg.LogDebug(pkg.ComponentHub, "stale hub event", "hub", hs.addr, "kind", m.kind)
		return
	}

	switch m.kind {
	case MsgHubStep:
		switch m.phase {
		case hubEvDone:
			h.hubNext(hs, m.status)
		case hubEvPoll:
			h.hubPoll(hs, m.status)
		case hubEvTimer:
			h.hubTimer(hs)
		case hubEvRetry:
			h.hubSubmit(hs)
		}
	case MsgHubEvent:
		h.hubEnumDone(hs, m.phase, m.addr, m.status)
	default:
		pkg.LogError(pkg.ComponentHub, "unexpected message", "kind", m.kind)
	}
}

func (h *Host) hubOpen(hs *hubState, addr hal.DeviceAddress) {
	dev := h.devices[addr]
	if dev == nil || !dev.isHub || hs.active {
		return
	}
	seq := hs.seq + 1
	*hs = hubState{index: hs.index, slot: hs.slot, seq: seq}
	hs.active = true
	hs.addr = addr
	hs.dev = dev
	hs.pipe = hubPipes[hs.index]
	h.hubPorts[addr].Pipe = hs.pipe

	pkg.LogDebug(pkg.ComponentHub, "hub open", "address", addr, "pipe", hs.pipe)

	n := HubDescriptorMinSize + 2*((MaxHubPorts+1+7)/8)
	h.hubControl(hs, hubGetDescriptor, hal.SetupPacket{
		RequestType: RequestTypeIn | RequestTypeClass | RequestTypeDevice,
		Request:     RequestGetDescriptor,
		Value:       uint16(DescriptorTypeHub) << 8,
		Length:      uint16(n),
	})
}

// closeHub detaches every downstream device and stops the hub. The hub
// device itself stays attached.
func (h *Host) closeHub(addr hal.DeviceAddress) {
	hs := h.hubByAddr(addr)
	if hs == nil {
		return
	}
	pkg.LogDebug(pkg.ComponentHub, "hub close", "address", addr)

	hs.active = false
	hs.seq++
	hs.wake = wakeEvent{}
	for p := 1; p <= MaxHubPorts; p++ {
		if a := hs.attached[p]; a != 0 {
			hs.attached[p] = 0
			h.detachDevice(a, pkg.TransferStatusStop)
		}
	}
	if h.enum.active && h.enum.hub == hs {
		h.abortEnum()
	}
	if h.pipes[PipeControl].owner == &hs.xfer {
		h.forceTerminate(PipeControl, pkg.TransferStatusStop)
	}
	if h.pipes[hs.pipe].owner == &hs.intr {
		h.forceTerminate(hs.pipe, pkg.TransferStatusStop)
	}
	h.hubPorts[addr].NumPorts = 0
	h.hubPorts[addr].Pipe = 0
	hs.ports = 0
	hs.stage = hubIdle
}

// hubFail gives up on a hub that cannot be operated.
func (h *Host) hubFail(hs *hubState, err error) {
	h.stats.enumFailed.Inc(1)
	pkg.LogWarn(pkg.ComponentHub, "hub failed", "address", hs.addr, "stage", hs.stage, "error", err)
	dev := hs.dev
	h.closeHub(hs.addr)
	if dev != nil {
		dev.setState(DeviceStateError)
		if dev.hubAddr == 0 {
			h.setPortState(dev.port, PortError)
		}
	}
}

// Control requests

func (h *Host) hubControl(hs *hubState, stage hubStage, setup hal.SetupPacket) {
	hs.stage = stage
	hs.setup = setup
	hs.xfer = Transfer{
		Pipe:     PipeControl,
		Address:  hs.addr,
		Setup:    &hs.setup,
		Buffer:   hs.buf[:setup.Length],
		Timeout:  h.cfg.EnumRequestTimeout,
		Callback: h.hubDone,
		Context:  hs.seq,
	}
	h.hubSubmit(hs)
}

func (h *Host) hubSubmit(hs *hubState) {
	err := h.submit(&hs.xfer)
	switch {
	case err == nil:
	case errors.Is(err, pkg.ErrQueueOverflow):
		h.stats.mailboxRetry.Inc(1)
		h.hubAfter(hs, hubEvRetry, h.cfg.EnumRetryDelay)
	case errors.Is(err, pkg.ErrNoResources):
		h.hubDefer(hs, wakeEvent{kind: MsgHubStep, phase: hubEvRetry}, err)
	default:
		pkg.LogWarn(pkg.ComponentHub, "hub request not submitted",
			"address", hs.addr,
			"stage", hs.stage,
			"error", err)
		switch hs.stage {
		case hubPortReset, hubResetStatus, hubClearReset:
			h.enumFail(fmt.Errorf("hub port reset: %w", err))
		default:
			h.hubFail(hs, err)
		}
	}
}

func (h *Host) portRequest(hs *hubState, stage hubStage, feature uint16, set bool) {
	recipient := uint8(RequestTypeClass | RequestTypeOther)
	setup := clearFeatureSetup(recipient, feature, uint16(hs.port))
	if set {
		setup = setFeatureSetup(recipient, feature, uint16(hs.port))
	}
	h.hubControl(hs, stage, setup)
}

func (h *Host) portStatus(hs *hubState, stage hubStage) {
	h.hubControl(hs, stage, getStatusSetup(RequestTypeClass|RequestTypeOther, uint16(hs.port), 4))
}

// hubAfter schedules a hub event after d.
func (h *Host) hubAfter(hs *hubState, phase int, d time.Duration) {
	m := h.alloc(MsgHubStep)
	if m == nil {
		h.hubDefer(hs, wakeEvent{kind: MsgHubStep, phase: phase, delay: d}, pkg.ErrNoResources)
		return
	}
	m.port = hs.index
	m.seq = hs.seq
	m.phase = phase
	h.postDelayed(mbxHUB, m, d)
}

// hubDefer parks ev until the pool has room again. A hub waits on exactly
// one request or timer at a time, so one parked event per hub suffices.
func (h *Host) hubDefer(hs *hubState, ev wakeEvent, err error) {
	pkg.LogWarn(pkg.ComponentHub, "hub event deferred",
		"address", hs.addr,
		"stage", hs.stage,
		"kind", ev.kind,
		"error", err)
	ev.set = true
	hs.wake = ev
}

// wakeHubs posts the parked hub events the pool now has room for and
// reports whether any was posted.
func (h *Host) wakeHubs() bool {
	woke := false
	for i := range h.hubs {
		hs := &h.hubs[i]
		if !hs.wake.set || !h.pool.available() {
			continue
		}
		ev := hs.wake
		hs.wake = wakeEvent{}
		m := h.alloc(ev.kind)
		m.port = i
		m.seq = hs.seq
		m.phase = ev.phase
		m.addr = ev.addr
		m.status = ev.status
		if ev.delay > 0 {
			h.postDelayed(mbxHUB, m, ev.delay)
		} else if err := h.post(mbxHUB, m); err != nil {
			hs.wake = ev
			continue
		}
		pkg.LogDebug(pkg.ComponentHub, "hub event resumed", "address", hs.addr, "kind", ev.kind)
		woke = true
	}
	return woke
}

// hubDone is the completion callback of hub control requests.
func (h *Host) hubDone(t *Transfer) {
	h.hubComplete(t, hubEvDone)
}

// hubPollDone is the completion callback of the status change pipe.
func (h *Host) hubPollDone(t *Transfer) {
	h.hubComplete(t, hubEvPoll)
}

func (h *Host) hubComplete(t *Transfer, phase int) {
	h.lock()
	defer h.unlock()

	seq, _ := t.Context.(uint32)
	for i := range h.hubs {
		i := i
		hs := &h.hubs[i]
		if &hs.xfer != t && &hs.intr != t {
			continue
		}
		if !hs.active || hs.seq != seq {
			return
		}
		err := h.send(mbxHUB, MsgHubStep, func(m *message) {
			m.port = i
			m.seq = seq
			m.phase = phase
			m.status = t.Status
		})
		if err != nil {
			h.hubDefer(hs, wakeEvent{kind: MsgHubStep, phase: phase, status: t.Status}, err)
		}
		return
	}
}

// hubEnumResult reports the outcome of a downstream enumeration to its hub.
func (h *Host) hubEnumResult(hs *hubState, port int, addr hal.DeviceAddress, err error) {
	if hs == nil {
		return
	}
	status := pkg.TransferStatusSuccess
	if err != nil {
		status = pkg.TransferStatusDataError
	}
	e := h.send(mbxHUB, MsgHubEvent, func(m *message) {
		m.port = hs.index
		m.seq = hs.seq
		m.phase = port
		m.addr = addr
		m.status = status
	})
	if e != nil {
		h.hubDefer(hs, wakeEvent{kind: MsgHubEvent, phase: port, addr: addr, status: status}, e)
	}
}

// State machine

// hubNext consumes the result of the hub's control request.
func (h *Host) hubNext(hs *hubState, status pkg.TransferStatus) {
	data := hs.buf[:hs.xfer.Actual]

	if !status.OK() && hs.stage != hubGetDescriptor {
		pkg.LogWarn(pkg.ComponentHub, "hub request failed",
			"address", hs.addr,
			"port", hs.port,
			"stage", hs.stage,
			"status", status)
		switch hs.stage {
		case hubPowerPort, hubClearConnection:
			// Continue powering the remaining ports.
		case hubPortReset, hubResetStatus, hubClearReset:
			h.enumFail(fmt.Errorf("hub port reset: %w", status.Error()))
			return
		default:
			h.hubNextPort(hs)
			return
		}
	}

	switch hs.stage {
	case hubGetDescriptor:
		var d HubDescriptor
		if status.OK() && ParseHubDescriptor(data, &d) && d.NumPorts > 0 {
			hs.ports = min(int(d.NumPorts), MaxHubPorts)
		} else {
			if !h.cfg.Hub.AssumePortsOnStall {
				h.hubFail(hs, fmt.Errorf("%w: hub descriptor: %s", ErrEnumerationFailed, status))
				return
			}
			hs.ports = h.cfg.Hub.MaxPorts
			h.stats.hubAssumed.Inc(1)
			pkg.LogWarn(pkg.ComponentHub, "hub descriptor unavailable, assuming port count",
				"address", hs.addr,
				"status", status,
				"ports", hs.ports)
		}
		h.hubPorts[hs.addr].NumPorts = hs.ports
		pkg.LogInfo(pkg.ComponentHub, "hub ports", "address", hs.addr, "ports", hs.ports)
		hs.port = 1
		h.portRequest(hs, hubPowerPort, PortFeaturePower, true)

	case hubPowerPort:
		h.portRequest(hs, hubClearConnection, PortFeatureCConnection, false)

	case hubClearConnection:
		if hs.port++; hs.port <= hs.ports {
			h.portRequest(hs, hubPowerPort, PortFeaturePower, true)
			return
		}
		hs.stage = hubPowerWait
		h.hubAfter(hs, hubEvTimer, h.cfg.Hub.PowerOnDelay)

	case hubGetHubStatus:
		var change uint16
		if len(data) >= 4 {
			change = uint16(data[2]) | uint16(data[3])<<8
		}
		switch {
		case change&0x0002 != 0:
			h.stats.hubOverCur.Inc(1)
			pkg.LogWarn(pkg.ComponentHub, "hub over-current", "address", hs.addr)
			h.hubFeature(hs, HubFeatureCHubOverCurrent)
		case change&0x0001 != 0:
			h.hubFeature(hs, HubFeatureCHubLocalPower)
		default:
			h.hubNextPort(hs)
		}

	case hubClearHubChange:
		h.hubNextPort(hs)

	case hubGetPortStatus:
		if len(data) < 4 {
			h.hubNextPort(hs)
			return
		}
		hs.status = uint16(data[0]) | uint16(data[1])<<8
		hs.change = uint16(data[2]) | uint16(data[3])<<8
		h.hubPortChange(hs)

	case hubClearPortChange, hubRepower:
		h.portStatus(hs, hubGetPortStatus)

	case hubClearOverCurrent:
		h.portRequest(hs, hubRepower, PortFeaturePower, true)

	case hubPortReset:
		hs.polls = 0
		hs.stage = hubResetWait
		h.hubAfter(hs, hubEvTimer, h.cfg.Hub.PortResetDelay)

	case hubResetStatus:
		if len(data) >= 4 {
			hs.status = uint16(data[0]) | uint16(data[1])<<8
			hs.change = uint16(data[2]) | uint16(data[3])<<8
		}
		if hs.change&PortChangeReset != 0 {
			h.portRequest(hs, hubClearReset, PortFeatureCReset, false)
			return
		}
		if hs.polls++; hs.polls >= h.cfg.Hub.PortResetPolls {
			h.enumFail(fmt.Errorf("%w: hub port %d reset did not complete", ErrEnumerationFailed, hs.port))
			return
		}
		hs.stage = hubResetWait
		h.hubAfter(hs, hubEvTimer, h.cfg.Hub.PortResetDelay)

	case hubClearReset:
		speed := hal.SpeedFull
		switch {
		case hs.status&PortStatusLowSpeed != 0:
			speed = hal.SpeedLow
		case hs.status&PortStatusHighSpeed != 0:
			speed = hal.SpeedHigh
		}
		if hs.status&PortStatusConnection == 0 {
			speed = hal.SpeedUnknown
		}
		hs.stage = hubEnumerating
		seq := h.enum.seq
		err := h.send(mbxMGR, MsgEnumStep, func(m *message) {
			m.phase = enumEvStart
			m.seq = seq
			m.speed = speed
			m.status = pkg.TransferStatusSuccess
			m.port = hs.dev.port
		})
		if err != nil {
			h.enumFail(err)
		}
	}
}

func (h *Host) hubFeature(hs *hubState, feature uint16) {
	h.hubControl(hs, hubClearHubChange,
		clearFeatureSetup(RequestTypeClass|RequestTypeDevice, feature, 0))
}

// hubPortChange handles one change bit of the current port per round and
// re-reads the port status afterwards. A port without changes is brought in
// line with its connection state.
func (h *Host) hubPortChange(hs *hubState) {
	port := hs.port
	connected := hs.status&PortStatusConnection != 0
	attached := hs.attached[port]
	bit := uint32(1) << port

	switch {
	case hs.change&PortChangeConnection != 0:
		hs.failed &^= bit
		if attached != 0 {
			h.detachDevice(attached, pkg.TransferStatusStop)
		}
		h.portRequest(hs, hubClearPortChange, PortFeatureCConnection, false)

	case hs.change&PortChangeEnable != 0:
		h.portRequest(hs, hubClearPortChange, PortFeatureCEnable, false)

	case hs.change&PortChangeSuspend != 0:
		if dev := h.devices[attached]; attached != 0 && dev != nil {
			dev.setState(DeviceStateConfigured)
			h.notifyDrivers(dev, ClassDriver.Resume)
		}
		h.portRequest(hs, hubClearPortChange, PortFeatureCSuspend, false)

	case hs.change&PortChangeOverCurrent != 0:
		h.stats.hubOverCur.Inc(1)
		pkg.LogWarn(pkg.ComponentHub, "hub port over-current", "address", hs.addr, "port", port)
		if attached != 0 {
			h.detachDevice(attached, pkg.TransferStatusStop)
		}
		h.portRequest(hs, hubClearOverCurrent, PortFeatureCOverCurrent, false)

	case hs.change&PortChangeReset != 0:
		h.portRequest(hs, hubClearPortChange, PortFeatureCReset, false)

	case connected && attached == 0 && hs.failed&bit == 0:
		h.hubAttach(hs)

	case !connected && attached != 0:
		h.detachDevice(attached, pkg.TransferStatusStop)
		h.hubNextPort(hs)

	default:
		h.hubNextPort(hs)
	}
}

// hubNextPort services the lowest pending port, or re-arms polling once
// none is left.
func (h *Host) hubNextPort(hs *hubState) {
	for p := 1; p <= hs.ports; p++ {
		bit := uint32(1) << p
		if hs.pending&bit == 0 {
			continue
		}
		hs.pending &^= bit
		hs.port = p
		h.portStatus(hs, hubGetPortStatus)
		return
	}
	h.hubArmPoll(hs)
}

// hubAttach claims the enumeration slot and resets the current port.
func (h *Host) hubAttach(hs *hubState) {
	if h.enum.active {
		hs.stage = hubEnumWait
		h.stats.mailboxRetry.Inc(1)
		h.hubAfter(hs, hubEvTimer, h.cfg.EnumRetryDelay)
		return
	}
	pkg.LogDebug(pkg.ComponentHub, "hub port attach", "address", hs.addr, "port", hs.port)
	h.claimEnum(hs.dev.port, hs, hs.port)
	h.portRequest(hs, hubPortReset, PortFeatureReset, true)
}

func (h *Host) hubEnumDone(hs *hubState, port int, addr hal.DeviceAddress, status pkg.TransferStatus) {
	if port != hs.port || port < 1 || port > hs.ports {
		return
	}
	if status.OK() && addr != 0 {
		hs.attached[port] = addr
		hs.failed &^= uint32(1) << port
	} else {
		hs.failed |= uint32(1) << port
	}
	h.portStatus(hs, hubGetPortStatus)
}

func (h *Host) hubTimer(hs *hubState) {
	switch hs.stage {
	case hubPowerWait:
		for p := 1; p <= hs.ports; p++ {
			hs.pending |= uint32(1) << p
		}
		h.hubNextPort(hs)
	case hubPollWait:
		h.hubArmPoll(hs)
	case hubEnumWait:
		h.hubAttach(hs)
	case hubResetWait:
		h.portStatus(hs, hubResetStatus)
	}
}

// Status change polling

func (h *Host) hubArmPoll(hs *hubState) {
	hs.stage = hubPolling
	if hs.suspended {
		return
	}
	n := (hs.ports + 1 + 7) / 8
	hs.intr = Transfer{
		Pipe:     hs.pipe,
		Buffer:   hs.intrBuf[:n],
		Callback: h.hubPollDone,
		Context:  hs.seq,
	}
	if err := h.submit(&hs.intr); err != nil {
		pkg.LogWarn(pkg.ComponentHub, "status change poll not armed", "address", hs.addr, "error", err)
		hs.stage = hubPollWait
		h.hubAfter(hs, hubEvTimer, h.cfg.EnumRetryDelay)
	}
}

func (h *Host) hubPoll(hs *hubState, status pkg.TransferStatus) {
	switch {
	case status == pkg.TransferStatusStop || status == pkg.TransferStatusNoConnection:
		return
	case !status.OK():
		pkg.LogWarn(pkg.ComponentHub, "status change poll failed", "address", hs.addr, "status", status)
		hs.stage = hubPollWait
		h.hubAfter(hs, hubEvTimer, h.cfg.EnumRetryDelay)
		return
	}

	bitmap := hs.intrBuf[:hs.intr.Actual]
	for p := 1; p <= hs.ports; p++ {
		if p/8 < len(bitmap) && bitmap[p/8]&(1<<(p%8)) != 0 {
			hs.pending |= uint32(1) << p
		}
	}
	pkg.LogDebug(pkg.ComponentHub, "status change", "address", hs.addr, "bitmap", bitmap)

	if len(bitmap) > 0 && bitmap[0]&1 != 0 {
		h.hubControl(hs, hubGetHubStatus, getStatusSetup(RequestTypeClass|RequestTypeDevice, 0, 4))
		return
	}
	h.hubNextPort(hs)
}

// Accessors

// HubPortInfo returns the hub port info entry of addr.
func (h *Host) HubPortInfo(addr hal.DeviceAddress) (HubPortInfo, bool) {
	h.lock()
	defer h.unlock()
	if int(addr) >= len(h.devices) || h.devices[addr] == nil {
		return HubPortInfo{}, false
	}
	return h.hubPorts[addr], true
}

// HubPorts returns the device address attached to each downstream port of
// the hub at hubAddr, indexed from port 1, 0 for an empty port.
func (h *Host) HubPorts(hubAddr hal.DeviceAddress) []hal.DeviceAddress {
	h.lock()
	defer h.unlock()
	hs := h.hubByAddr(hubAddr)
	if hs == nil {
		return nil
	}
	out := make([]hal.DeviceAddress, hs.ports)
	copy(out, hs.attached[1:hs.ports+1])
	return out
}
