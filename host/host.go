package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/ardnew/softhcd/host/hal"
	"github.com/ardnew/softhcd/pkg"
)

// Host is the host controller driver core: the pipe table, the HCD, MGR and
// HUB tasks and the class driver registry. Every state change happens under
// a single dispatcher lock. Completion callbacks run after it is released,
// in the order they were queued.
type Host struct {
	hal   hal.HostHAL
	cfg   Config
	clock Clock

	mu       sync.Mutex
	pending  []func()
	draining bool
	running  atomic.Bool
	gen      uint32

	pool   *pool
	boxes  [numMailboxes]*mailbox
	wheel  *timerWheel[*message]
	stats  *stats
	events []Event

	pipes [MaxPipes]pipeState
	ctrl  controlState

	devices  [MaxDevices + 1]*Device
	hubPorts [MaxDevices + 1]HubPortInfo
	drivers  [MaxDrivers]driverSlot
	hubs     [MaxHubs]hubState
	ports    []rootPort
	enum     enumState

	onDeviceConnect    func(*Device)
	onDeviceDisconnect func(*Device)
	ctrlObserver       func(CtrlState)
}

// Option configures a Host.
type Option func(*Host)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(h *Host) { h.cfg = cfg }
}

// WithClock sets the clock driving deferred messages.
func WithClock(c Clock) Option {
	return func(h *Host) {
		if c != nil {
			h.clock = c
		}
	}
}

// WithLogger routes the package log output through l.
func WithLogger(l *logrus.Logger) Option {
	return func(h *Host) { pkg.SetLogger(l) }
}

// WithControlObserver registers fn to receive every control stage change.
func WithControlObserver(fn func(CtrlState)) Option {
	return func(h *Host) { h.ctrlObserver = fn }
}

// New creates a host bound to the controller hal. The hub class driver
// occupies the first registration slots.
func New(hw hal.HostHAL, opts ...Option) *Host {
	h := &Host{
		hal:   hw,
		cfg:   DefaultConfig(),
		clock: systemClock{},
		stats: newStats(),
		ports: make([]rootPort, hw.NumPorts()),
	}
	for _, opt := range opts {
		opt(h)
	}
	for i := range h.pipes {
		h.pipes[i].slot = -1
	}
	h.registerHubDrivers()
	return h
}

// Start initializes the controller, powers every root port and enables the
// root port interrupts. Nothing happens until Poll or Run services them.
func (h *Host) Start(ctx context.Context) error {
	h.lock()
	defer h.unlock()

	if h.running.Load() {
		return pkg.ErrAlreadyRunning
	}
	if err := h.cfg.Validate(); err != nil {
		return err
	}
	if h.hal.NumPipes() < MaxPipes {
		return fmt.Errorf("%w: controller has %d pipes, need %d",
			pkg.ErrNotSupported, h.hal.NumPipes(), MaxPipes)
	}

	h.pool = newPool(h.cfg.PoolSize)
	for id := range h.boxes {
		h.boxes[id] = newMailbox(mailboxID(id), h.cfg.PoolSize)
	}
	h.wheel = newTimerWheel[*message](h.cfg.Timer.Tick, h.cfg.Timer.Max)
	h.wheel.advance(h.clock.Now())
	h.enum = enumState{seq: h.enum.seq}
	for i := range h.ports {
		h.ports[i] = rootPort{}
	}

	if err := h.hal.Init(ctx); err != nil {
		return err
	}
	if err := h.hal.Start(); err != nil {
		return err
	}
	h.hal.EnableInterrupts(hal.CauseATTCH|hal.CauseDTCH|hal.CauseBCHG|
		hal.CauseOVRCR|hal.CauseSACK|hal.CauseSIGN, true)

	if err := h.hal.ConfigurePipe(PipeControl, hal.PipeConfig{
		Type:          hal.TransferControl,
		MaxPacketSize: 64,
	}); err != nil {
		return err
	}
	h.pipes[PipeControl] = pipeState{
		cfg:        hal.PipeConfig{Type: hal.TransferControl, MaxPacketSize: 64},
		configured: true,
		slot:       -1,
	}

	for port := range h.ports {
		if err := h.hal.SetVBUS(port, true); err != nil {
			pkg.LogWarn(pkg.ComponentHost, "port power failed", "port", port, "error", err)
		}
	}

	h.running.Store(true)
	pkg.LogInfo(pkg.ComponentHost, "host started",
		"ports", len(h.ports),
		"pool", h.cfg.PoolSize)
	return nil
}

// Stop terminates every transfer, detaches every device and stops the
// controller. Queued requests complete with ErrNotRunning.
func (h *Host) Stop() error {
	h.lock()
	if !h.running.Load() {
		h.unlock()
		return nil
	}

	for pipe := range h.pipes {
		if h.pipes[pipe].owner != nil {
			h.forceTerminate(pipe, pkg.TransferStatusStop)
		}
	}
	for addr := range h.devices {
		h.detachDevice(hal.DeviceAddress(addr), pkg.TransferStatusStop)
	}
	if h.enum.active {
		h.abortEnum()
	}

	h.running.Store(false)

	drop := func(m *message) {
		h.complete(m, pkg.ErrNotRunning)
		h.release(m)
	}
	for _, b := range h.boxes {
		for b.len() > 0 {
			drop(<-b.ch)
		}
	}
	h.wheel.drain(drop)

	for port := range h.ports {
		h.ports[port] = rootPort{}
	}
	err := h.hal.Stop()
	h.unlock()

	pkg.LogInfo(pkg.ComponentHost, "host stopped")
	return err
}

// Close stops the host and releases the controller.
func (h *Host) Close() error {
	return errors.Join(h.Stop(), h.hal.Close())
}

func (h *Host) lock() {
	h.mu.Lock()
}

// later queues fn to run once the lock is released.
func (h *Host) later(fn func()) {
	h.pending = append(h.pending, fn)
}

// unlock releases the lock and runs queued callbacks in order. Callbacks
// queued while draining are picked up by the goroutine already draining.
func (h *Host) unlock() {
	if h.draining || len(h.pending) == 0 {
		h.mu.Unlock()
		return
	}
	h.draining = true
	for len(h.pending) > 0 {
		fn := h.pending[0]
		h.pending[0] = nil
		h.pending = h.pending[1:]
		h.mu.Unlock()
		fn()
		h.mu.Lock()
	}
	h.pending = nil
	h.draining = false
	h.mu.Unlock()
}

// Poll services latched interrupts, expires due timers and gives each task
// one message. It reports whether any work was done.
func (h *Host) Poll() bool {
	h.lock()
	defer h.unlock()
	if !h.running.Load() {
		return false
	}

	busy := h.serviceInterrupts()
	if h.expireTimers() {
		busy = true
	}
	if h.wakeHubs() {
		busy = true
	}
	tasks := [numMailboxes]func(*message){
		mbxHCD: h.hcdTask,
		mbxMGR: h.mgrTask,
		mbxHUB: h.hubTask,
	}
	for id, task := range tasks {
		select {
		case m := <-h.boxes[id].ch:
			task(m)
			busy = true
		default:
		}
	}
	return busy
}

// PollUntilIdle calls Poll until it reports no work, at most max times, and
// returns the number of busy rounds. Deferred messages that are not yet due
// do not count as work.
func (h *Host) PollUntilIdle(max int) int {
	n := 0
	for n < max && h.Poll() {
		n++
	}
	return n
}

// PendingTimers returns the number of deferred messages waiting to expire.
func (h *Host) PendingTimers() int {
	h.lock()
	defer h.unlock()
	if h.wheel == nil {
		return 0
	}
	return h.wheel.len()
}

// Run polls until ctx is done, waking on controller interrupts and on every
// timer tick.
func (h *Host) Run(ctx context.Context) error {
	if !h.running.Load() {
		return pkg.ErrNotRunning
	}
	wake := make(chan struct{}, 1)
	signal := func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		notify := h.hal.Notify()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-notify:
				signal()
			}
		}
	})
	g.Go(func() error {
		tick := time.NewTicker(h.cfg.Timer.Tick)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-tick.C:
				signal()
			}
		}
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-wake:
				h.PollUntilIdle(4 * h.cfg.PoolSize)
			}
		}
	})
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// IsRunning reports whether the host has been started.
func (h *Host) IsRunning() bool {
	return h.running.Load()
}

// NumPorts returns the number of root ports.
func (h *Host) NumPorts() int {
	return len(h.ports)
}

// Config returns the active configuration.
func (h *Host) Config() Config {
	return h.cfg
}
