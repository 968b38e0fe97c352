package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/atomic"

	"github.com/ardnew/softhcd/host/hal"
)

// Controller geometry.
const (
	NumPipes      = 10
	DefaultPorts  = 1
	maxBufferSize = 64
)

// Errors returned by the simulated controller.
var (
	ErrNotInitialized = errors.New("sim: controller not initialized")
	ErrInvalidPort    = errors.New("sim: invalid root port")
	ErrInvalidPipe    = errors.New("sim: invalid pipe")
	ErrFIFONotReady   = errors.New("sim: FIFO not ready")
)

type rootPort struct {
	dev       Device
	vbus      bool
	reset     bool
	enabled   bool
	suspended bool
	wakeup    bool
	speed     hal.Speed
	reported  bool // Connection state last reported via ATTCH/DTCH
}

type pipe struct {
	cfg        hal.PipeConfig
	configured bool
	pid        hal.PID
	toggle     bool

	tre     bool
	trn     uint16
	trCount uint16

	buf     []byte
	full    bool // IN: packet received, OUT: packet committed
	readPos int
}

type fifo struct {
	pipe  int
	bound bool
	write bool
}

type portEvent struct {
	cause hal.Cause
	port  int
}

// control tracks the control transfer in progress on pipe 0.
type control struct {
	active   bool
	addr     hal.DeviceAddress
	dev      Device
	setup    hal.SetupPacket
	reply    []byte
	stall    bool
	sent     int
	zlpSent  bool
	outData  []byte
	finished bool
}

// Controller is an in-memory USB host IP core implementing hal.HostHAL.
//
// Bus activity happens when the host reads interrupt state: each call to
// InterruptPending or ReadInterrupts runs one service pass that moves at
// most one packet per pipe and latches the resulting interrupts.
type Controller struct {
	mu sync.Mutex

	initialized bool
	running     bool

	ports []rootPort
	pipes [NumPipes]pipe
	fifos [3]fifo
	dcpIn bool

	pendingSetup *control
	ctrl         control

	causeEnable hal.Cause
	pipeEnable  [3]uint16
	latched     hal.Status
	events      []portEvent

	routes   map[hal.DeviceAddress]hal.Route
	fifoFail map[int]bool

	notify chan struct{}

	setups    atomic.Int64
	packets   atomic.Int64
	services  atomic.Int64
	nrdyCount atomic.Int64
}

// New returns a controller with n root ports.
func New(n int) *Controller {
	if n < 1 {
		n = DefaultPorts
	}
	return &Controller{
		ports:    make([]rootPort, n),
		routes:   make(map[hal.DeviceAddress]hal.Route),
		fifoFail: make(map[int]bool),
		notify:   make(chan struct{}, 1),
	}
}

var _ hal.HostHAL = (*Controller)(nil)

// Init prepares the controller.
func (c *Controller) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initialized = true
	for i := range c.pipes {
		c.pipes[i] = pipe{}
	}
	c.pipes[0].configured = true
	c.pipes[0].cfg = hal.PipeConfig{Type: hal.TransferControl, MaxPacketSize: maxBufferSize}
	return nil
}

// Start enables the controller.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return ErrNotInitialized
	}
	c.running = true
	return nil
}

// Stop disables the controller and removes port power.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	for i := range c.ports {
		c.ports[i].vbus = false
		c.ports[i].enabled = false
	}
	return nil
}

// Close releases the controller.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initialized = false
	c.running = false
	return nil
}

// Attach connects dev to root port n.
func (c *Controller) Attach(n int, dev Device) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 0 || n >= len(c.ports) {
		return ErrInvalidPort
	}
	c.ports[n].dev = dev
	c.ports[n].enabled = false
	c.signal()
	return nil
}

// Detach disconnects root port n.
func (c *Controller) Detach(n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 0 || n >= len(c.ports) {
		return ErrInvalidPort
	}
	c.ports[n].dev = nil
	c.ports[n].enabled = false
	c.ports[n].suspended = false
	c.signal()
	return nil
}

// OverCurrent latches an over-current condition on root port n.
func (c *Controller) OverCurrent(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 0 || n >= len(c.ports) {
		return
	}
	c.ports[n].vbus = false
	c.queueEvent(hal.CauseOVRCR, n)
}

// RemoteWakeup signals resume from the device on root port n. The event is
// latched only while the port is suspended with wakeup armed.
func (c *Controller) RemoteWakeup(n int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 0 || n >= len(c.ports) {
		return false
	}
	p := &c.ports[n]
	if !p.suspended || !p.wakeup {
		return false
	}
	c.queueEvent(hal.CauseBCHG, n)
	return true
}

// FailFIFO makes SelectFIFO fail for pipe while on is set.
func (c *Controller) FailFIFO(pipe int, on bool) {
	c.mu.Lock()
	c.fifoFail[pipe] = on
	c.mu.Unlock()
}

// Route returns the routing table entry programmed for addr.
func (c *Controller) Route(addr hal.DeviceAddress) (hal.Route, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.routes[addr]
	return r, ok
}

// PortEnabled reports whether root port n completed reset.
func (c *Controller) PortEnabled(n int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return n >= 0 && n < len(c.ports) && c.ports[n].enabled
}

// PortSuspended reports whether root port n is suspended.
func (c *Controller) PortSuspended(n int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return n >= 0 && n < len(c.ports) && c.ports[n].suspended
}

// VBUS reports whether root port n is powered.
func (c *Controller) VBUS(n int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return n >= 0 && n < len(c.ports) && c.ports[n].vbus
}

// PipeConfigured returns the configuration of pipe p, if any.
func (c *Controller) PipeConfigured(p int) (hal.PipeConfig, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p < 0 || p >= NumPipes {
		return hal.PipeConfig{}, false
	}
	return c.pipes[p].cfg, c.pipes[p].configured
}

// Stats returns SETUP, data packet, service pass and NRDY counts.
func (c *Controller) Stats() (setups, packets, services, nrdy int64) {
	return c.setups.Load(), c.packets.Load(), c.services.Load(), c.nrdyCount.Load()
}

// Root port operations

// NumPorts returns the number of root ports.
func (c *Controller) NumPorts() int {
	return len(c.ports)
}

// PortConnected reports whether a device is attached and powered.
func (c *Controller) PortConnected(n int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 0 || n >= len(c.ports) {
		return false
	}
	return c.ports[n].dev != nil && c.ports[n].vbus
}

// PortSpeed returns the speed negotiated by the last reset.
func (c *Controller) PortSpeed(n int) hal.Speed {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 0 || n >= len(c.ports) {
		return hal.SpeedUnknown
	}
	return c.ports[n].speed
}

// SetVBUS switches port power.
func (c *Controller) SetVBUS(n int, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 0 || n >= len(c.ports) {
		return ErrInvalidPort
	}
	c.ports[n].vbus = on
	if !on {
		c.ports[n].enabled = false
	}
	c.signal()
	return nil
}

// StartPortReset drives bus reset.
func (c *Controller) StartPortReset(n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 0 || n >= len(c.ports) {
		return ErrInvalidPort
	}
	c.ports[n].reset = true
	c.ports[n].enabled = false
	return nil
}

// EndPortReset releases bus reset and returns the device speed.
func (c *Controller) EndPortReset(n int) (hal.Speed, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 0 || n >= len(c.ports) {
		return hal.SpeedUnknown, ErrInvalidPort
	}
	p := &c.ports[n]
	p.reset = false
	p.suspended = false
	if p.dev == nil || !p.vbus {
		p.speed = hal.SpeedUnknown
		return hal.SpeedUnknown, nil
	}
	p.dev.busReset()
	p.enabled = true
	p.speed = p.dev.Speed()
	return p.speed, nil
}

// SuspendPort stops SOF output.
func (c *Controller) SuspendPort(n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 0 || n >= len(c.ports) {
		return ErrInvalidPort
	}
	c.ports[n].suspended = true
	if c.ports[n].dev != nil {
		c.ports[n].dev.setSuspended(true)
	}
	return nil
}

// StartResume drives resume signalling.
func (c *Controller) StartResume(n int) error {
	if n < 0 || n >= len(c.ports) {
		return ErrInvalidPort
	}
	return nil
}

// EndResume restarts SOF output.
func (c *Controller) EndResume(n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 0 || n >= len(c.ports) {
		return ErrInvalidPort
	}
	c.ports[n].suspended = false
	if c.ports[n].dev != nil {
		c.ports[n].dev.setSuspended(false)
	}
	return nil
}

// EnableRemoteWakeup arms wakeup detection.
func (c *Controller) EnableRemoteWakeup(n int, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 0 || n >= len(c.ports) {
		return ErrInvalidPort
	}
	c.ports[n].wakeup = on
	return nil
}

// ConfigureDevice records the route of addr.
func (c *Controller) ConfigureDevice(addr hal.DeviceAddress, route hal.Route) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes[addr] = route
	return nil
}

// Pipe configuration

// NumPipes returns the number of pipes.
func (c *Controller) NumPipes() int {
	return NumPipes
}

// ConfigurePipe writes the pipe configuration registers.
func (c *Controller) ConfigurePipe(p int, cfg hal.PipeConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p < 0 || p >= NumPipes {
		return fmt.Errorf("%w: %d", ErrInvalidPipe, p)
	}
	if cfg.MaxPacketSize == 0 || cfg.MaxPacketSize > maxBufferSize {
		return fmt.Errorf("%w: max packet size %d on pipe %d", ErrInvalidPipe, cfg.MaxPacketSize, p)
	}
	c.pipes[p] = pipe{cfg: cfg, configured: true}
	return nil
}

// ResetPipe clears a pipe.
func (c *Controller) ResetPipe(p int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p <= 0 || p >= NumPipes {
		return
	}
	c.pipes[p] = pipe{}
}

// SetPID sets the response PID.
func (c *Controller) SetPID(p int, pid hal.PID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p < 0 || p >= NumPipes {
		return
	}
	c.pipes[p].pid = pid
	if pid == hal.PIDBuf {
		c.signal()
	}
}

// PID returns the response PID.
func (c *Controller) PID(p int) hal.PID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p < 0 || p >= NumPipes {
		return hal.PIDNAK
	}
	return c.pipes[p].pid
}

// SequenceToggle returns the data toggle.
func (c *Controller) SequenceToggle(p int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p < 0 || p >= NumPipes {
		return false
	}
	return c.pipes[p].toggle
}

// SetSequenceToggle forces DATA1.
func (c *Controller) SetSequenceToggle(p int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p >= 0 && p < NumPipes {
		c.pipes[p].toggle = true
	}
}

// ClearSequenceToggle forces DATA0.
func (c *Controller) ClearSequenceToggle(p int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p >= 0 && p < NumPipes {
		c.pipes[p].toggle = false
	}
}

// SetTransactionCounter arms the transaction counter.
func (c *Controller) SetTransactionCounter(p int, n uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p > 0 && p < NumPipes {
		c.pipes[p].tre = true
		c.pipes[p].trn = n
		c.pipes[p].trCount = 0
	}
}

// ClearTransactionCounter disables the transaction counter.
func (c *Controller) ClearTransactionCounter(p int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p > 0 && p < NumPipes {
		c.pipes[p].tre = false
		c.pipes[p].trn = 0
		c.pipes[p].trCount = 0
	}
}

// ClearPipeBuffer discards buffered data.
func (c *Controller) ClearPipeBuffer(p int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p >= 0 && p < NumPipes {
		c.clearBuffer(p)
	}
}

// SetControlDirection selects the pipe 0 data direction.
func (c *Controller) SetControlDirection(in bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dcpIn = in
	c.clearBuffer(0)
}

// BufferSize returns the pipe's buffer size.
func (c *Controller) BufferSize(p int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p < 0 || p >= NumPipes || !c.pipes[p].configured {
		return 0
	}
	return int(c.pipes[p].cfg.MaxPacketSize)
}

// FIFO access

// SelectFIFO binds a FIFO port to a pipe.
func (c *Controller) SelectFIFO(port hal.FIFOPort, p int, write bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if int(port) >= len(c.fifos) || p < 0 || p >= NumPipes || !c.pipes[p].configured {
		return fmt.Errorf("%w: %d on %s", ErrInvalidPipe, p, port)
	}
	if c.fifoFail[p] {
		return fmt.Errorf("%w: pipe %d", ErrFIFONotReady, p)
	}
	pp := &c.pipes[p]
	if write && pp.full {
		return fmt.Errorf("%w: pipe %d buffer busy", ErrFIFONotReady, p)
	}
	if !write && !pp.full {
		return fmt.Errorf("%w: pipe %d buffer empty", ErrFIFONotReady, p)
	}
	c.fifos[port] = fifo{pipe: p, bound: true, write: write}
	return nil
}

func (c *Controller) bound(port hal.FIFOPort) *pipe {
	if int(port) >= len(c.fifos) || !c.fifos[port].bound {
		return nil
	}
	return &c.pipes[c.fifos[port].pipe]
}

// FIFOLength returns the unread length of the received packet.
func (c *Controller) FIFOLength(port hal.FIFOPort) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.bound(port)
	if p == nil || !p.full {
		return 0
	}
	return len(p.buf) - p.readPos
}

// ReadFIFO reads received bytes. The buffer is released once drained.
func (c *Controller) ReadFIFO(port hal.FIFOPort, buf []byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.bound(port)
	if p == nil || !p.full {
		return 0
	}
	n := copy(buf, p.buf[p.readPos:])
	p.readPos += n
	if p.readPos >= len(p.buf) {
		p.buf = nil
		p.full = false
		p.readPos = 0
	}
	return n
}

// WriteFIFO writes into the bound buffer, committing it when full.
func (c *Controller) WriteFIFO(port hal.FIFOPort, buf []byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.bound(port)
	if p == nil || p.full {
		return 0
	}
	size := int(p.cfg.MaxPacketSize)
	n := min(len(buf), size-len(p.buf))
	p.buf = append(p.buf, buf[:n]...)
	if len(p.buf) == size {
		p.full = true
		c.signal()
	}
	return n
}

// SetBufferValid commits a short or zero-length packet.
func (c *Controller) SetBufferValid(port hal.FIFOPort) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p := c.bound(port); p != nil {
		p.full = true
		c.signal()
	}
}

// BufferValid reports whether the bound buffer awaits transmission.
func (c *Controller) BufferValid(port hal.FIFOPort) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.bound(port)
	return p != nil && p.full
}

// ClearFIFO discards the bound buffer.
func (c *Controller) ClearFIFO(port hal.FIFOPort) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if int(port) < len(c.fifos) && c.fifos[port].bound {
		c.clearBuffer(c.fifos[port].pipe)
	}
}

func (c *Controller) clearBuffer(p int) {
	c.pipes[p].buf = nil
	c.pipes[p].full = false
	c.pipes[p].readPos = 0
}

// SendSetup queues a SETUP transaction on pipe 0.
func (c *Controller) SendSetup(addr hal.DeviceAddress, setup *hal.SetupPacket) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return ErrNotInitialized
	}
	c.pendingSetup = &control{addr: addr, setup: *setup}
	c.signal()
	return nil
}

// Interrupts

// InterruptPending runs a service pass and reports latched interrupts.
func (c *Controller) InterruptPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.service()
	return !c.latched.Empty() || len(c.events) > 0
}

// ReadInterrupts runs a service pass and returns the latched status. At
// most one root port event is reported per call.
func (c *Controller) ReadInterrupts() hal.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.service()
	st := c.latched
	c.latched = hal.Status{}
	if len(c.events) > 0 {
		ev := c.events[0]
		c.events = c.events[1:]
		st.Causes |= ev.cause
		st.Port = ev.port
	}
	return st
}

// EnableInterrupts enables or disables non-pipe causes.
func (c *Controller) EnableInterrupts(cause hal.Cause, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.causeEnable |= cause
	} else {
		c.causeEnable &^= cause
	}
}

// EnablePipeInterrupt enables or disables one per-pipe interrupt.
func (c *Controller) EnablePipeInterrupt(kind hal.PipeIntr, p int, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if int(kind) >= len(c.pipeEnable) || p < 0 || p >= NumPipes {
		return
	}
	if on {
		c.pipeEnable[kind] |= 1 << p
	} else {
		c.pipeEnable[kind] &^= 1 << p
	}
}

// Notify returns the activity channel.
func (c *Controller) Notify() <-chan struct{} {
	return c.notify
}

func (c *Controller) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *Controller) queueEvent(cause hal.Cause, port int) {
	if c.causeEnable&cause == 0 {
		return
	}
	c.events = append(c.events, portEvent{cause: cause, port: port})
	c.signal()
}

func (c *Controller) latchCause(cause hal.Cause) {
	if c.causeEnable&cause != 0 {
		c.latched.Causes |= cause
	}
}

func (c *Controller) latchPipe(kind hal.PipeIntr, p int) {
	if c.pipeEnable[kind]&(1<<p) == 0 {
		return
	}
	bit := uint16(1) << p
	switch kind {
	case hal.IntrBRDY:
		c.latched.BRDY |= bit
	case hal.IntrBEMP:
		c.latched.BEMP |= bit
	case hal.IntrNRDY:
		c.latched.NRDY |= bit
		c.nrdyCount.Inc()
	}
}

// find locates the reachable device holding addr.
func (c *Controller) find(addr hal.DeviceAddress) Device {
	for i := range c.ports {
		p := &c.ports[i]
		if p.dev == nil || !p.enabled || p.suspended || !p.vbus {
			continue
		}
		if d := findIn(p.dev, addr); d != nil {
			return d
		}
	}
	return nil
}

func findIn(d Device, addr hal.DeviceAddress) Device {
	if d.Address() == addr {
		return d
	}
	for _, child := range d.downstream() {
		if found := findIn(child, addr); found != nil {
			return found
		}
	}
	return nil
}

func (c *Controller) service() {
	if !c.running {
		return
	}
	c.services.Inc()
	c.servicePorts()
	c.serviceSetup()
	c.serviceControl()
	for p := 1; p < NumPipes; p++ {
		c.servicePipe(p)
	}
}

func (c *Controller) servicePorts() {
	for i := range c.ports {
		p := &c.ports[i]
		connected := p.dev != nil && p.vbus
		if connected == p.reported {
			continue
		}
		if connected && c.causeEnable&hal.CauseATTCH != 0 {
			p.reported = true
			c.queueEvent(hal.CauseATTCH, i)
		} else if !connected && c.causeEnable&hal.CauseDTCH != 0 {
			p.reported = false
			c.queueEvent(hal.CauseDTCH, i)
		}
	}
}

func (c *Controller) serviceSetup() {
	s := c.pendingSetup
	if s == nil {
		return
	}
	c.pendingSetup = nil
	c.setups.Inc()

	dev := c.find(s.addr)
	if dev == nil || !dev.acceptSetup() {
		c.ctrl = control{}
		c.latchCause(hal.CauseSIGN)
		return
	}

	c.ctrl = control{active: true, addr: s.addr, dev: dev, setup: s.setup}
	if s.setup.IsIn() && s.setup.Length > 0 {
		c.ctrl.reply, c.ctrl.stall = dev.control(s.setup, nil)
		c.ctrl.reply = truncate(c.ctrl.reply, s.setup.Length)
	}
	c.pipes[0].toggle = true
	c.clearBuffer(0)
	c.latchCause(hal.CauseSACK)
}

func (c *Controller) serviceControl() {
	p := &c.pipes[0]
	ctl := &c.ctrl
	if !ctl.active || p.pid != hal.PIDBuf {
		return
	}
	if c.find(ctl.addr) != ctl.dev && !ctl.finished {
		c.latchPipe(hal.IntrNRDY, 0)
		return
	}
	if ctl.dev.nakControl() {
		return
	}
	mps := int(p.cfg.MaxPacketSize)
	dataIn := ctl.setup.IsIn() && ctl.setup.Length > 0

	if c.dcpIn {
		if p.full {
			return
		}
		if dataIn {
			if ctl.stall {
				p.pid = hal.PIDStall
				c.latchPipe(hal.IntrNRDY, 0)
				return
			}
			remaining := len(ctl.reply) - ctl.sent
			switch {
			case remaining > 0:
				n := min(remaining, mps)
				c.deliver(0, ctl.reply[ctl.sent:ctl.sent+n])
				ctl.sent += n
			case !ctl.zlpSent && len(ctl.reply)%mps == 0 && len(ctl.reply) < int(ctl.setup.Length):
				ctl.zlpSent = true
				c.deliver(0, nil)
			}
			return
		}
		// Status stage of a no-data or OUT request.
		if ctl.finished {
			return
		}
		ctl.finished = true
		if _, stall := ctl.dev.control(ctl.setup, ctl.outData); stall {
			p.pid = hal.PIDStall
			c.latchPipe(hal.IntrNRDY, 0)
			return
		}
		c.deliver(0, nil)
		return
	}

	if !p.full {
		return
	}
	if !dataIn {
		ctl.outData = append(ctl.outData, p.buf...)
	} else {
		ctl.finished = true
	}
	c.consume(0)
}

// deliver places an IN packet in pipe p's buffer.
func (c *Controller) deliver(p int, pkt []byte) {
	pp := &c.pipes[p]
	pp.buf = append([]byte{}, pkt...)
	pp.full = true
	pp.readPos = 0
	pp.toggle = !pp.toggle
	c.packets.Inc()
	c.latchPipe(hal.IntrBRDY, p)
}

// consume acknowledges the OUT packet in pipe p's buffer.
func (c *Controller) consume(p int) {
	pp := &c.pipes[p]
	pp.buf = nil
	pp.full = false
	pp.toggle = !pp.toggle
	c.packets.Inc()
	c.latchPipe(hal.IntrBEMP, p)
	c.latchPipe(hal.IntrBRDY, p)
}

func (c *Controller) servicePipe(n int) {
	p := &c.pipes[n]
	if !p.configured || p.pid != hal.PIDBuf {
		return
	}
	ep := p.cfg.Endpoint
	if p.cfg.In {
		ep |= 0x80
	}
	dev := c.find(p.cfg.Address)

	if p.cfg.In {
		if p.full {
			return
		}
		if dev == nil {
			c.latchPipe(hal.IntrNRDY, n)
			return
		}
		pkt, hs := dev.in(ep, int(p.cfg.MaxPacketSize))
		switch hs {
		case ACK:
			c.deliver(n, pkt)
			if p.tre {
				p.trCount++
				if p.trCount >= p.trn {
					p.pid = hal.PIDNAK
				}
			}
			if len(pkt) < int(p.cfg.MaxPacketSize) && p.cfg.Type == hal.TransferBulk {
				p.pid = hal.PIDNAK
			}
		case STALL:
			p.pid = hal.PIDStall
			c.latchPipe(hal.IntrNRDY, n)
		}
		return
	}

	if !p.full {
		return
	}
	if dev == nil {
		c.latchPipe(hal.IntrNRDY, n)
		return
	}
	switch dev.out(ep, p.buf) {
	case ACK:
		c.consume(n)
	case STALL:
		p.pid = hal.PIDStall
		c.latchPipe(hal.IntrNRDY, n)
	}
}
