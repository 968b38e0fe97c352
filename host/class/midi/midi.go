package midi

import (
	"fmt"
	"sync"

	"github.com/ardnew/softhcd/host"
	"github.com/ardnew/softhcd/host/hal"
	"github.com/ardnew/softhcd/pkg"
)

// Option configures the instances created by Register.
type Option func(*Driver)

// WithTargets restricts the instances to the listed devices.
func WithTargets(ids ...host.DeviceID) Option {
	return func(d *Driver) { d.targets = append(d.targets, ids...) }
}

// Driver is one USB-MIDI class driver instance.
type Driver struct {
	host    *host.Host
	index   int
	slot    int
	inPipe  int
	outPipe int
	targets []host.DeviceID

	mu        sync.Mutex
	dev       *host.Device
	streaming Streaming
	attached  bool
	suspended bool

	reading bool
	rx      host.Transfer
	rxBuf   [bufferSize]byte
	rxLen   int

	txBusy  bool
	tx      host.Transfer
	txBuf   [bufferSize]byte
	txQueue []Event

	received uint64
	sent     uint64
	dropped  uint64

	onEvent  func(Event)
	onAttach func(*host.Device)
	onDetach func(*host.Device)
}

// Register adds n MIDI driver instances to h. Instance i uses bulk pipes
// 1+2i (IN) and 2+2i (OUT).
func Register(h *host.Host, n int, opts ...Option) ([]*Driver, error) {
	if n < 1 || n > MaxInstances {
		return nil, fmt.Errorf("%w: %d MIDI instances, at most %d",
			pkg.ErrInvalidParameter, n, MaxInstances)
	}

	drivers := make([]*Driver, 0, n)
	for i := 0; i < n; i++ {
		d := &Driver{
			host:    h,
			index:   i,
			slot:    -1,
			inPipe:  inPipe(i),
			outPipe: outPipe(i),
		}
		for _, opt := range opts {
			opt(d)
		}
		_, err := h.RegisterClassDriver(host.Registration{
			InterfaceClass: ClassAudio,
			Targets:        d.targets,
			Pipes: []host.PipeDef{
				{Pipe: d.inPipe, Type: hal.TransferBulk, In: true},
				{Pipe: d.outPipe, Type: hal.TransferBulk},
			},
			Driver: d,
		})
		if err != nil {
			return drivers, fmt.Errorf("midi instance %d: %w", i, err)
		}
		drivers = append(drivers, d)
	}
	return drivers, nil
}

// SetOnEvent sets the handler receiving every decoded event. It runs on
// the goroutine polling the host.
func (d *Driver) SetOnEvent(fn func(Event)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onEvent = fn
}

// SetOnAttach sets the callback run once a device is configured.
func (d *Driver) SetOnAttach(fn func(*host.Device)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onAttach = fn
}

// SetOnDetach sets the callback run after the device went away.
func (d *Driver) SetOnDetach(fn func(*host.Device)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onDetach = fn
}

// Slot returns the registration slot of the instance.
func (d *Driver) Slot() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.slot
}

// Pipes returns the bulk IN and OUT pipe numbers of the instance.
func (d *Driver) Pipes() (in, out int) {
	return d.inPipe, d.outPipe
}

// Device returns the bound device, or nil.
func (d *Driver) Device() *host.Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dev
}

// Attached reports whether a device is bound and configured.
func (d *Driver) Attached() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attached
}

// Streaming returns the class-specific layout of the bound interface.
func (d *Driver) Streaming() Streaming {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streaming
}

// Stats returns the number of events received, sent and dropped.
func (d *Driver) Stats() (received, sent, dropped uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.received, d.sent, d.dropped
}

// ClassDriver callbacks

func (d *Driver) Init(h *host.Host, slot int) error {
	d.mu.Lock()
	d.slot = slot
	d.mu.Unlock()
	pkg.LogDebug(pkg.ComponentClass, "midi driver registered",
		"instance", d.index,
		"slot", slot,
		"in", d.inPipe,
		"out", d.outPipe)
	return nil
}

// Check claims MIDIStreaming interfaces carrying an MS header. It runs
// under the host lock and touches no driver state.
func (d *Driver) Check(dev *host.Device, iface *host.InterfaceDescriptor) bool {
	if iface.InterfaceSubClass != SubclassMIDIStreaming {
		return false
	}
	_, ok := ParseStreaming(dev.ClassDescriptors(iface))
	return ok
}

func (d *Driver) Configure(dev *host.Device) {
	var ms Streaming
	if b, ok := d.host.Binding(d.slot); ok {
		ms, _ = ParseStreaming(dev.ClassDescriptors(dev.GetInterface(b.Interface)))
	}
	mps := int(d.host.PipeMaxPacket(d.inPipe))
	n := bufferSize
	if mps >= PacketSize && mps < n {
		n = mps - mps%PacketSize
	}

	d.mu.Lock()
	d.dev = dev
	d.streaming = ms
	d.attached = true
	d.suspended = false
	d.reading = false
	d.txBusy = false
	d.txQueue = d.txQueue[:0]
	d.rxLen = n
	onAttach := d.onAttach
	d.mu.Unlock()

	in, out := ms.EmbeddedJacks()
	pkg.LogInfo(pkg.ComponentClass, "midi device configured",
		"instance", d.index,
		"address", dev.Address(),
		"product", dev.Product(),
		"embedded_in", in,
		"embedded_out", out)

	if onAttach != nil {
		onAttach(dev)
	}
	d.read()
}

func (d *Driver) Detach(dev *host.Device) {
	d.mu.Lock()
	if d.dev != dev {
		d.mu.Unlock()
		return
	}
	d.dropped += uint64(len(d.txQueue))
	d.txQueue = d.txQueue[:0]
	d.dev = nil
	d.attached = false
	d.reading = false
	d.txBusy = false
	onDetach := d.onDetach
	d.mu.Unlock()

	pkg.LogInfo(pkg.ComponentClass, "midi device detached", "instance", d.index, "address", dev.Address())
	if onDetach != nil {
		onDetach(dev)
	}
}

func (d *Driver) Suspend(dev *host.Device) {
	d.mu.Lock()
	if d.dev == dev {
		d.suspended = true
	}
	d.mu.Unlock()
}

func (d *Driver) Resume(dev *host.Device) {
	d.mu.Lock()
	if d.dev != dev {
		d.mu.Unlock()
		return
	}
	d.suspended = false
	d.mu.Unlock()
	d.read()
	d.flush()
}

// IN pipe

// read keeps one transfer pending on the IN pipe.
func (d *Driver) read() {
	d.mu.Lock()
	if !d.attached || d.suspended || d.reading {
		d.mu.Unlock()
		return
	}
	d.reading = true
	d.rx = host.Transfer{
		Pipe:     d.inPipe,
		Buffer:   d.rxBuf[:d.rxLen],
		Callback: d.readDone,
	}
	d.mu.Unlock()

	if err := d.host.SubmitTransfer(&d.rx); err != nil {
		d.mu.Lock()
		d.reading = false
		d.mu.Unlock()
		pkg.LogWarn(pkg.ComponentClass, "midi read not submitted", "instance", d.index, "error", err)
	}
}

func (d *Driver) readDone(t *host.Transfer) {
	var buf [bufferSize]byte

	d.mu.Lock()
	d.reading = false
	status := t.Status
	n := copy(buf[:], t.Buffer[:t.Actual])
	attached, suspended := d.attached, d.suspended
	onEvent := d.onEvent
	d.mu.Unlock()

	switch {
	case status.OK():
		events := Decode(buf[:n], func(ev Event) {
			if onEvent != nil {
				onEvent(ev)
			}
		})
		d.mu.Lock()
		d.received += uint64(events)
		d.mu.Unlock()
		d.read()

	case status == pkg.TransferStatusStop || !attached:
		// Aborted or detached.

	case status == pkg.TransferStatusStall:
		pkg.LogWarn(pkg.ComponentClass, "midi IN stalled", "instance", d.index)
		err := d.host.ClearStall(d.inPipe, func(err error) {
			if err == nil {
				d.read()
			}
		})
		if err != nil {
			pkg.LogWarn(pkg.ComponentClass, "midi clear stall failed", "instance", d.index, "error", err)
		}

	case suspended:
		// Resume restarts reading.

	default:
		pkg.LogWarn(pkg.ComponentClass, "midi read failed", "instance", d.index, "status", status)
	}
}

// OUT pipe

// Send queues events for the device. They are written in order, as many
// per transfer as fit.
func (d *Driver) Send(events ...Event) error {
	d.mu.Lock()
	switch {
	case !d.attached:
		d.mu.Unlock()
		return pkg.ErrNoDevice
	case len(d.txQueue)+len(events) > MaxQueuedEvents:
		d.mu.Unlock()
		return fmt.Errorf("%w: %d events pending", pkg.ErrQueueOverflow, len(d.txQueue))
	}
	d.txQueue = append(d.txQueue, events...)
	d.mu.Unlock()

	d.flush()
	return nil
}

// SendMessage encodes a complete MIDI message for cable and queues it.
func (d *Driver) SendMessage(cable uint8, msg []byte) error {
	events, err := Encode(cable, msg)
	if err != nil {
		return err
	}
	d.mu.Lock()
	cables := d.streaming.TxCables()
	d.mu.Unlock()
	if int(cable) >= cables {
		return fmt.Errorf("%w: cable %d, device has %d", pkg.ErrInvalidParameter, cable, cables)
	}
	return d.Send(events...)
}

func (d *Driver) flush() {
	d.mu.Lock()
	if d.txBusy || len(d.txQueue) == 0 || !d.attached || d.suspended {
		d.mu.Unlock()
		return
	}
	n := min(len(d.txQueue), bufferSize/PacketSize)
	for i, ev := range d.txQueue[:n] {
		p := ev.Packet()
		copy(d.txBuf[i*PacketSize:], p[:])
	}
	d.txQueue = append(d.txQueue[:0], d.txQueue[n:]...)
	d.txBusy = true
	d.tx = host.Transfer{
		Pipe:     d.outPipe,
		Buffer:   d.txBuf[:n*PacketSize],
		Callback: d.writeDone,
	}
	d.mu.Unlock()

	if err := d.host.SubmitTransfer(&d.tx); err != nil {
		d.mu.Lock()
		d.txBusy = false
		d.dropped += uint64(n)
		d.mu.Unlock()
		pkg.LogWarn(pkg.ComponentClass, "midi write not submitted", "instance", d.index, "error", err)
	}
}

func (d *Driver) writeDone(t *host.Transfer) {
	status := t.Status
	d.mu.Lock()
	d.txBusy = false
	switch {
	case status.OK():
		d.sent += uint64(t.Actual / PacketSize)
	case status == pkg.TransferStatusStall:
		// The stalled batch is lost; the rest of the queue waits behind
		// txBusy until the halt is cleared.
		d.dropped += uint64(len(t.Buffer) / PacketSize)
		d.txBusy = true
	default:
		d.dropped += uint64(len(t.Buffer)/PacketSize + len(d.txQueue))
		d.txQueue = d.txQueue[:0]
	}
	d.mu.Unlock()

	switch {
	case status.OK():
		d.flush()
	case status == pkg.TransferStatusStall:
		pkg.LogWarn(pkg.ComponentClass, "midi write stalled", "instance", d.index)
		if err := d.host.ClearStall(d.outPipe, d.stallCleared); err != nil {
			d.stallCleared(err)
		}
	default:
		pkg.LogWarn(pkg.ComponentClass, "midi write failed", "instance", d.index, "status", status)
	}
}

// stallCleared resumes the OUT queue once the endpoint halt is cleared. The
// queue is dropped if the halt could not be cleared.
func (d *Driver) stallCleared(err error) {
	d.mu.Lock()
	d.txBusy = false
	if err != nil {
		d.dropped += uint64(len(d.txQueue))
		d.txQueue = d.txQueue[:0]
	}
	d.mu.Unlock()
	if err != nil {
		pkg.LogWarn(pkg.ComponentClass, "midi clear stall failed", "instance", d.index, "error", err)
		return
	}
	d.flush()
}
