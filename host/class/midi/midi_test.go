package midi

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/softhcd/host"
	"github.com/ardnew/softhcd/host/hal"
	"github.com/ardnew/softhcd/host/hal/sim"
	"github.com/ardnew/softhcd/pkg"
)

// =============================================================================
// Test bench
// =============================================================================

type bench struct {
	t     *testing.T
	ctl   *sim.Controller
	clock *host.ManualClock
	host  *host.Host
}

func newBench(t *testing.T, ports int) *bench {
	t.Helper()
	b := &bench{
		t:     t,
		ctl:   sim.New(ports),
		clock: host.NewManualClock(time.Unix(0, 0)),
	}
	b.host = host.New(b.ctl, host.WithClock(b.clock))
	require.NoError(t, b.host.Start(context.Background()))
	t.Cleanup(func() { _ = b.host.Close() })
	return b
}

func (b *bench) settle() {
	b.t.Helper()
	for i := 0; i < 20000; i++ {
		if b.host.PollUntilIdle(1000) > 0 {
			continue
		}
		if b.host.PendingTimers() == 0 {
			return
		}
		b.clock.Advance(b.host.Config().Timer.Tick)
	}
	b.t.Fatal("host did not settle")
}

func (b *bench) attach(port int, dev sim.Device) {
	b.t.Helper()
	require.NoError(b.t, b.ctl.Attach(port, dev))
	b.settle()
}

// keyboardSpec describes a MIDI keyboard with one embedded jack per
// direction, the way most single-port devices report themselves.
func keyboardSpec(product uint16) sim.DeviceSpec {
	var ms []byte
	ms = append(ms, 7, DescriptorTypeCSInterface, SubtypeMSHeader, 0x00, 0x01, 0x3D, 0x00)
	ms = append(ms, 6, DescriptorTypeCSInterface, SubtypeMIDIIn, JackEmbedded, 1, 0)
	ms = append(ms, 6, DescriptorTypeCSInterface, SubtypeMIDIIn, JackExternal, 2, 0)
	ms = append(ms, 9, DescriptorTypeCSInterface, SubtypeMIDIOut, JackEmbedded, 3, 1, 2, 1, 0)
	ms = append(ms, 9, DescriptorTypeCSInterface, SubtypeMIDIOut, JackExternal, 4, 1, 1, 1, 0)

	return sim.DeviceSpec{
		Speed:     hal.SpeedFull,
		VendorID:  0x0499,
		ProductID: product,
		Product:   "Keyboard",
		Interfaces: []sim.InterfaceSpec{
			{
				Number:   0,
				Class:    ClassAudio,
				SubClass: SubclassAudioControl,
				Extra:    []byte{9, DescriptorTypeCSInterface, 0x01, 0x00, 0x01, 0x09, 0x00, 0x01, 0x01},
			},
			{
				Number:   1,
				Class:    ClassAudio,
				SubClass: SubclassMIDIStreaming,
				Extra:    ms,
				Endpoints: []sim.EndpointSpec{
					{
						Address: 0x01, Type: hal.TransferBulk, MaxPacketSize: 64,
						Extra: []byte{5, DescriptorTypeCSEndpoint, SubtypeMSGeneral, 1, 1},
					},
					{
						Address: 0x81, Type: hal.TransferBulk, MaxPacketSize: 64,
						Extra: []byte{5, DescriptorTypeCSEndpoint, SubtypeMSGeneral, 1, 3},
					},
				},
			},
		},
	}
}

// events collects what a driver delivers.
type events struct {
	got []Event
}

func (e *events) add(ev Event) { e.got = append(e.got, ev) }

func joined(pkts [][]byte) []byte {
	return bytes.Join(pkts, nil)
}

// keyboard registers one instance and attaches a keyboard to root port 0.
func keyboard(t *testing.T) (*bench, *Driver, *sim.Function, *events) {
	t.Helper()
	b := newBench(t, 1)
	drivers, err := Register(b.host, 1)
	require.NoError(t, err)
	require.Len(t, drivers, 1)

	var ev events
	drivers[0].SetOnEvent(ev.add)

	fn := sim.NewFunction(keyboardSpec(0x1000))
	b.attach(0, fn)
	require.True(t, drivers[0].Attached())
	return b, drivers[0], fn, &ev
}

// =============================================================================
// Registration Tests
// =============================================================================

func TestRegister_InstanceCount(t *testing.T) {
	h := host.New(sim.New(1))

	_, err := Register(h, 0)
	assert.ErrorIs(t, err, pkg.ErrInvalidParameter)
	_, err = Register(h, MaxInstances+1)
	assert.ErrorIs(t, err, pkg.ErrInvalidParameter)
}

func TestRegister_Pipes(t *testing.T) {
	h := host.New(sim.New(1))

	drivers, err := Register(h, 2)
	require.NoError(t, err)
	require.Len(t, drivers, 2)

	in, out := drivers[0].Pipes()
	assert.Equal(t, 1, in)
	assert.Equal(t, 2, out)
	in, out = drivers[1].Pipes()
	assert.Equal(t, 3, in)
	assert.Equal(t, 4, out)

	assert.Equal(t, host.MaxHubs, drivers[0].Slot())
	assert.Equal(t, host.MaxHubs+1, drivers[1].Slot())
}

func TestRegister_PipeConflict(t *testing.T) {
	h := host.New(sim.New(1))

	_, err := Register(h, 1)
	require.NoError(t, err)

	drivers, err := Register(h, 1)
	assert.ErrorIs(t, err, pkg.ErrInvalidParameter)
	assert.Empty(t, drivers)
}

// =============================================================================
// Binding Tests
// =============================================================================

func TestDriver_Attach(t *testing.T) {
	b := newBench(t, 1)
	drivers, err := Register(b.host, 1)
	require.NoError(t, err)
	d := drivers[0]

	var attached []*host.Device
	d.SetOnAttach(func(dev *host.Device) { attached = append(attached, dev) })
	assert.Nil(t, d.Device())

	b.attach(0, sim.NewFunction(keyboardSpec(0x1000)))

	require.Len(t, attached, 1)
	assert.Same(t, attached[0], d.Device())
	assert.Equal(t, hal.DeviceAddress(1), d.Device().Address())
	assert.Equal(t, "Keyboard", d.Device().Product())

	bind, ok := b.host.Binding(d.Slot())
	require.True(t, ok)
	assert.Equal(t, host.DriverConfigured, bind.State)
	assert.Equal(t, uint8(1), bind.Interface, "audio control interface declined")

	ms := d.Streaming()
	assert.Equal(t, uint16(0x0100), ms.Version)
	assert.Len(t, ms.Jacks, 4)
	assert.Equal(t, []uint8{1}, ms.EndpointOut)
	assert.Equal(t, []uint8{3}, ms.EndpointIn)
	in, out := ms.EmbeddedJacks()
	assert.Equal(t, 1, in)
	assert.Equal(t, 1, out)

	assert.True(t, b.host.PipeBusy(1), "IN pipe armed")
}

func TestDriver_NoStreamingHeader(t *testing.T) {
	b := newBench(t, 1)
	drivers, err := Register(b.host, 1)
	require.NoError(t, err)

	spec := keyboardSpec(0x1000)
	spec.Interfaces[1].Extra = nil
	b.attach(0, sim.NewFunction(spec))

	assert.False(t, drivers[0].Attached())
	assert.Equal(t, host.DeviceStateConfigured, b.host.DeviceState(1))
}

func TestDriver_Targets(t *testing.T) {
	b := newBench(t, 2)
	drivers, err := Register(b.host, 1, WithTargets(host.DeviceID{VendorID: 0x0499, ProductID: 0x2000}))
	require.NoError(t, err)
	d := drivers[0]

	b.attach(0, sim.NewFunction(keyboardSpec(0x1000)))
	assert.False(t, d.Attached())

	b.attach(1, sim.NewFunction(keyboardSpec(0x2000)))
	require.True(t, d.Attached())
	assert.Equal(t, uint16(0x2000), d.Device().ProductID())
}

func TestDriver_Detach(t *testing.T) {
	b, d, _, _ := keyboard(t)

	var detached []hal.DeviceAddress
	d.SetOnDetach(func(dev *host.Device) { detached = append(detached, dev.Address()) })

	batch := make([]Event, 20)
	for i := range batch {
		batch[i] = Event{CIN: CINNoteOn, Data: [3]byte{0x90, uint8(i), 100}}
	}
	require.NoError(t, d.Send(batch...))

	require.NoError(t, b.ctl.Detach(0))
	b.settle()

	assert.Equal(t, []hal.DeviceAddress{1}, detached)
	assert.False(t, d.Attached())
	assert.Nil(t, d.Device())
	assert.ErrorIs(t, d.Send(batch[0]), pkg.ErrNoDevice)

	_, sent, dropped := d.Stats()
	assert.EqualValues(t, len(batch), sent+dropped)
}

func TestDriver_Reattach(t *testing.T) {
	b, d, fn, ev := keyboard(t)

	require.NoError(t, b.ctl.Detach(0))
	b.settle()
	require.False(t, d.Attached())

	b.attach(0, fn)
	require.True(t, d.Attached())

	fn.QueuePacket(0x81, []byte{0x09, 0x90, 60, 100})
	b.settle()
	assert.Len(t, ev.got, 1)
}

// =============================================================================
// Transfer Tests
// =============================================================================

func TestDriver_Receive(t *testing.T) {
	b, d, fn, ev := keyboard(t)

	fn.QueuePacket(0x81, []byte{
		0x09, 0x90, 60, 100,
		0x00, 0x00, 0x00, 0x00,
		0x08, 0x80, 60, 0,
	})
	b.settle()

	require.Len(t, ev.got, 2)
	assert.Equal(t, Event{CIN: CINNoteOn, Data: [3]byte{0x90, 60, 100}}, ev.got[0])
	assert.Equal(t, Event{CIN: CINNoteOff, Data: [3]byte{0x80, 60, 0}}, ev.got[1])
	assert.True(t, b.host.PipeBusy(1), "IN pipe re-armed")

	fn.QueuePacket(0x81, []byte{0x0B, 0xB0, 64, 127})
	b.settle()

	require.Len(t, ev.got, 3)
	assert.Equal(t, CINControlChange, ev.got[2].CIN)
	received, _, _ := d.Stats()
	assert.EqualValues(t, 3, received)
}

func TestDriver_SendMessage(t *testing.T) {
	b, d, fn, _ := keyboard(t)

	require.NoError(t, d.SendMessage(0, []byte{0x90, 60, 100}))
	require.NoError(t, d.SendMessage(0, []byte{0xF0, 0x7E, 0x01, 0xF7}))
	b.settle()

	want := []byte{
		0x09, 0x90, 60, 100,
		0x04, 0xF0, 0x7E, 0x01,
		0x05, 0xF7, 0x00, 0x00,
	}
	assert.Equal(t, want, joined(fn.Received(0x01)))
	_, sent, dropped := d.Stats()
	assert.EqualValues(t, 3, sent)
	assert.Zero(t, dropped)
	assert.False(t, b.host.PipeBusy(2))
}

func TestDriver_SendMessageErrors(t *testing.T) {
	_, d, _, _ := keyboard(t)

	err := d.SendMessage(1, []byte{0x90, 60, 100})
	assert.ErrorIs(t, err, pkg.ErrInvalidParameter, "device has one cable")

	err = d.SendMessage(0, []byte{0x90, 60})
	assert.ErrorIs(t, err, pkg.ErrInvalidParameter)
}

func TestDriver_SendBeforeAttach(t *testing.T) {
	h := host.New(sim.New(1))
	drivers, err := Register(h, 1)
	require.NoError(t, err)

	err = drivers[0].Send(Event{CIN: CINSingleByte, Data: [3]byte{0xF8}})
	assert.ErrorIs(t, err, pkg.ErrNoDevice)
}

func TestDriver_QueueOverflow(t *testing.T) {
	b, d, fn, _ := keyboard(t)

	batch := make([]Event, MaxQueuedEvents)
	for i := range batch {
		batch[i] = Event{CIN: CINSingleByte, Data: [3]byte{0xF8}}
	}
	require.NoError(t, d.Send(batch...))

	err := d.Send(batch[:bufferSize/PacketSize+1]...)
	assert.ErrorIs(t, err, pkg.ErrQueueOverflow)

	b.settle()

	assert.Len(t, joined(fn.Received(0x01)), MaxQueuedEvents*PacketSize)
	_, sent, _ := d.Stats()
	assert.EqualValues(t, MaxQueuedEvents, sent)
}

func TestDriver_StallRecovery(t *testing.T) {
	b, d, fn, ev := keyboard(t)

	fn.Halt(0x81, true)
	b.settle()

	assert.False(t, fn.Halted(0x81))
	reqs := fn.Requests()
	last := reqs[len(reqs)-1]
	assert.Equal(t, uint8(host.RequestClearFeature), last.Request)
	assert.Equal(t, uint16(0x81), last.Index)
	assert.True(t, b.host.PipeBusy(1), "IN pipe re-armed")

	fn.QueuePacket(0x81, []byte{0x09, 0x90, 62, 90})
	b.settle()
	require.Len(t, ev.got, 1)
	assert.Equal(t, uint8(62), ev.got[0].Data[1])
	assert.True(t, d.Attached())
}

func TestDriver_OutStallRecovery(t *testing.T) {
	b, d, fn, _ := keyboard(t)

	fn.Halt(0x01, true)
	require.NoError(t, d.SendMessage(0, []byte{0x90, 60, 100}))
	b.settle()

	assert.False(t, fn.Halted(0x01))
	reqs := fn.Requests()
	last := reqs[len(reqs)-1]
	assert.Equal(t, uint8(host.RequestClearFeature), last.Request)
	assert.Equal(t, uint16(0x01), last.Index)
	assert.Empty(t, fn.Received(0x01))
	_, sent, dropped := d.Stats()
	assert.Zero(t, sent)
	assert.EqualValues(t, 1, dropped)
	assert.False(t, b.host.PipeBusy(2))

	require.NoError(t, d.SendMessage(0, []byte{0x80, 60, 0}))
	b.settle()
	assert.Equal(t, []byte{0x08, 0x80, 60, 0}, joined(fn.Received(0x01)))
	_, sent, _ = d.Stats()
	assert.EqualValues(t, 1, sent)
	assert.True(t, d.Attached())
}

func TestDriver_SuspendResume(t *testing.T) {
	b, _, fn, ev := keyboard(t)

	require.NoError(t, b.host.ChangeDeviceState(1, host.RequestSuspend, nil))
	b.settle()
	require.Equal(t, host.DeviceStateSuspended, b.host.DeviceState(1))

	fn.QueuePacket(0x81, []byte{0x09, 0x90, 64, 80})
	b.settle()
	assert.Empty(t, ev.got)

	require.NoError(t, b.host.ChangeDeviceState(1, host.RequestResume, nil))
	b.settle()
	require.Equal(t, host.DeviceStateConfigured, b.host.DeviceState(1))

	require.Len(t, ev.got, 1)
	assert.Equal(t, uint8(64), ev.got[0].Data[1])
}

func TestDriver_KeyboardsOnHub(t *testing.T) {
	b := newBench(t, 1)
	drivers, err := Register(b.host, 2)
	require.NoError(t, err)

	received := map[uint16][]uint8{}
	for _, d := range drivers {
		d := d
		d.SetOnEvent(func(ev Event) {
			pid := d.Device().ProductID()
			received[pid] = append(received[pid], ev.Data[1])
		})
	}

	hub := sim.NewHub(4)
	a := sim.NewFunction(keyboardSpec(0x1000))
	c := sim.NewFunction(keyboardSpec(0x2000))
	hub.AttachPort(1, a)
	hub.AttachPort(3, c)
	b.attach(0, hub)

	var products []uint16
	for _, d := range drivers {
		require.True(t, d.Attached())
		products = append(products, d.Device().ProductID())
		assert.Equal(t, hal.DeviceAddress(1), d.Device().HubAddress())
	}
	assert.ElementsMatch(t, []uint16{0x1000, 0x2000}, products)

	a.QueuePacket(0x81, []byte{0x09, 0x90, 60, 100})
	c.QueuePacket(0x81, []byte{0x09, 0x90, 72, 100})
	b.settle()

	assert.Equal(t, []uint8{60}, received[0x1000])
	assert.Equal(t, []uint8{72}, received[0x2000])

	for _, d := range drivers {
		require.NoError(t, d.SendMessage(0, []byte{0xB0, 123, 0}))
	}
	b.settle()
	assert.Equal(t, []byte{0x0B, 0xB0, 123, 0}, joined(a.Received(0x01)))
	assert.Equal(t, []byte{0x0B, 0xB0, 123, 0}, joined(c.Received(0x01)))
}
