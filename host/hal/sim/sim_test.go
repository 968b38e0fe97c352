package sim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/softhcd/host/hal"
)

func testSpec() DeviceSpec {
	return DeviceSpec{
		VendorID:     0x1234,
		ProductID:    0x5678,
		Manufacturer: "Acme",
		Product:      "Widget",
		Interfaces: []InterfaceSpec{{
			Class: 0xFF,
			Endpoints: []EndpointSpec{
				{Address: 0x81, Type: hal.TransferBulk, MaxPacketSize: 64},
				{Address: 0x02, Type: hal.TransferBulk, MaxPacketSize: 64},
			},
		}},
	}
}

func started(t *testing.T, ports int) *Controller {
	t.Helper()
	c := New(ports)
	require.NoError(t, c.Init(context.Background()))
	require.NoError(t, c.Start())
	c.EnableInterrupts(hal.CauseATTCH|hal.CauseDTCH|hal.CauseSACK|hal.CauseSIGN|hal.CauseBCHG|hal.CauseOVRCR, true)
	for p := 0; p < NumPipes; p++ {
		c.EnablePipeInterrupt(hal.IntrBRDY, p, true)
		c.EnablePipeInterrupt(hal.IntrBEMP, p, true)
		c.EnablePipeInterrupt(hal.IntrNRDY, p, true)
	}
	return c
}

func attachReset(t *testing.T, c *Controller, port int, dev Device) {
	t.Helper()
	require.NoError(t, c.SetVBUS(port, true))
	require.NoError(t, c.Attach(port, dev))
	st := c.ReadInterrupts()
	require.Equal(t, hal.CauseATTCH, st.Causes&hal.CauseATTCH)
	require.NoError(t, c.StartPortReset(port))
	_, err := c.EndPortReset(port)
	require.NoError(t, err)
}

// controlIn runs an IN control transfer by hand, returning the data stage.
func controlIn(t *testing.T, c *Controller, addr hal.DeviceAddress, setup hal.SetupPacket) []byte {
	t.Helper()
	require.NoError(t, c.SendSetup(addr, &setup))
	st := c.ReadInterrupts()
	require.NotZero(t, st.Causes&hal.CauseSACK, "setup not acknowledged: %s", st.Causes)

	c.SetControlDirection(true)
	c.SetPID(0, hal.PIDBuf)
	var data []byte
	for i := 0; i < 16; i++ {
		st = c.ReadInterrupts()
		require.Zero(t, st.NRDY&1)
		if st.BRDY&1 == 0 {
			break
		}
		require.NoError(t, c.SelectFIFO(hal.CFIFO, 0, false))
		n := c.FIFOLength(hal.CFIFO)
		buf := make([]byte, n)
		c.ReadFIFO(hal.CFIFO, buf)
		if n == 0 {
			c.ClearFIFO(hal.CFIFO)
		}
		data = append(data, buf...)
		if n < 64 || len(data) >= int(setup.Length) {
			break
		}
	}

	c.SetPID(0, hal.PIDNAK)
	c.SetControlDirection(false)
	c.SetPID(0, hal.PIDBuf)
	require.NoError(t, c.SelectFIFO(hal.CFIFO, 0, true))
	c.SetBufferValid(hal.CFIFO)
	st = c.ReadInterrupts()
	require.NotZero(t, st.BEMP&1)
	c.SetPID(0, hal.PIDNAK)
	return data
}

// controlNoData runs a no-data control transfer and reports whether the
// status stage was acknowledged.
func controlNoData(t *testing.T, c *Controller, addr hal.DeviceAddress, setup hal.SetupPacket) bool {
	t.Helper()
	require.NoError(t, c.SendSetup(addr, &setup))
	st := c.ReadInterrupts()
	require.NotZero(t, st.Causes&hal.CauseSACK)
	c.SetControlDirection(true)
	c.SetPID(0, hal.PIDBuf)
	st = c.ReadInterrupts()
	c.SetPID(0, hal.PIDNAK)
	if st.BRDY&1 == 0 {
		return false
	}
	require.NoError(t, c.SelectFIFO(hal.CFIFO, 0, false))
	assert.Zero(t, c.FIFOLength(hal.CFIFO))
	c.ClearFIFO(hal.CFIFO)
	return true
}

// ============================================================================
// Descriptor Tests
// ============================================================================

func TestDeviceSpec_Descriptors(t *testing.T) {
	spec := testSpec()
	spec.normalize()

	dev := spec.DeviceDescriptor()
	require.Len(t, dev, 18)
	assert.Equal(t, byte(64), dev[7])
	assert.Equal(t, []byte{0x34, 0x12, 0x78, 0x56}, dev[8:12])
	assert.Equal(t, byte(stringManufacturer), dev[14])
	assert.Equal(t, byte(stringProduct), dev[15])
	assert.Zero(t, dev[16])

	cfg := spec.ConfigurationDescriptor()
	require.Len(t, cfg, 9+9+7+7)
	assert.Equal(t, byte(len(cfg)), cfg[2])
	assert.Equal(t, byte(1), cfg[4])
	assert.Equal(t, byte(descEndpoint), cfg[19])
	assert.Equal(t, byte(0x81), cfg[20])
}

func TestStringDescriptor(t *testing.T) {
	d := stringDescriptor("Hi")
	assert.Equal(t, []byte{6, descString, 'H', 0, 'i', 0}, d)
	assert.Equal(t, []byte{4, descString, 0x09, 0x04}, languageDescriptor())
}

func TestDeviceSpec_LowSpeedDefaults(t *testing.T) {
	spec := DeviceSpec{Speed: hal.SpeedLow}
	spec.normalize()
	assert.Equal(t, uint8(8), spec.MaxPacketSize0)
	assert.Equal(t, uint16(0x0200), spec.USBVersion)
}

// ============================================================================
// Function Tests
// ============================================================================

func TestFunction_StandardRequests(t *testing.T) {
	f := NewFunction(testSpec())

	d, stall := f.control(hal.SetupPacket{RequestType: 0x80, Request: reqGetDescriptor, Value: 0x0100, Length: 8}, nil)
	assert.False(t, stall)
	assert.Len(t, d, 8)

	_, stall = f.control(hal.SetupPacket{Request: reqSetAddress, Value: 5}, nil)
	assert.False(t, stall)
	assert.Equal(t, hal.DeviceAddress(5), f.Address())

	_, stall = f.control(hal.SetupPacket{Request: reqSetConfiguration, Value: 2}, nil)
	assert.True(t, stall)
	_, stall = f.control(hal.SetupPacket{Request: reqSetConfiguration, Value: 1}, nil)
	assert.False(t, stall)
	assert.Equal(t, uint8(1), f.Configuration())

	_, stall = f.control(hal.SetupPacket{RequestType: 0x80, Request: reqGetDescriptor, Value: 0x0303, Length: 255}, nil)
	assert.True(t, stall, "serial number absent")

	f.StallStrings(true)
	_, stall = f.control(hal.SetupPacket{RequestType: 0x80, Request: reqGetDescriptor, Value: 0x0302, Length: 255}, nil)
	assert.True(t, stall)

	_, stall = f.control(hal.SetupPacket{RequestType: 0x21, Request: 0x0A}, nil)
	assert.True(t, stall, "class request without handler")

	f.busReset()
	assert.Zero(t, f.Address())
	assert.Zero(t, f.Configuration())
	assert.Len(t, f.Requests(), 7)
}

func TestFunction_EndpointHalt(t *testing.T) {
	f := NewFunction(testSpec())
	f.QueuePacket(0x81, []byte{1, 2, 3})

	f.Halt(0x81, true)
	_, hs := f.in(0x81, 64)
	assert.Equal(t, STALL, hs)

	_, stall := f.control(hal.SetupPacket{RequestType: 0x02, Request: reqClearFeature, Index: 0x81}, nil)
	assert.False(t, stall)
	assert.False(t, f.Halted(0x81))

	pkt, hs := f.in(0x81, 64)
	assert.Equal(t, ACK, hs)
	assert.Equal(t, []byte{1, 2, 3}, pkt)

	_, hs = f.in(0x81, 64)
	assert.Equal(t, NAK, hs)
}

func TestFunction_Queue(t *testing.T) {
	f := NewFunction(testSpec())
	f.Queue(0x81, make([]byte, 150), 64)
	assert.Equal(t, 3, f.Pending(0x81))
	f.QueuePacket(0x81, nil)
	assert.Equal(t, 4, f.Pending(0x81))
}

func TestHandshake_String(t *testing.T) {
	assert.Equal(t, "ACK", ACK.String())
	assert.Equal(t, "NAK", NAK.String())
	assert.Equal(t, "STALL", STALL.String())
	assert.Equal(t, "?", Handshake(9).String())
}

// ============================================================================
// Controller Tests
// ============================================================================

func TestController_AttachDetachEvents(t *testing.T) {
	c := started(t, 2)

	require.NoError(t, c.Attach(1, NewFunction(testSpec())))
	assert.False(t, c.InterruptPending(), "no event without VBUS")

	require.NoError(t, c.SetVBUS(1, true))
	st := c.ReadInterrupts()
	assert.Equal(t, hal.CauseATTCH, st.Causes)
	assert.Equal(t, 1, st.Port)
	assert.True(t, c.PortConnected(1))
	assert.False(t, c.PortConnected(0))

	require.NoError(t, c.Detach(1))
	st = c.ReadInterrupts()
	assert.Equal(t, hal.CauseDTCH, st.Causes)
	assert.Equal(t, 1, st.Port)
	assert.False(t, c.InterruptPending())

	assert.ErrorIs(t, c.Attach(5, nil), ErrInvalidPort)
}

func TestController_PortEventsReadSeparately(t *testing.T) {
	c := started(t, 2)
	require.NoError(t, c.SetVBUS(0, true))
	require.NoError(t, c.SetVBUS(1, true))
	require.NoError(t, c.Attach(0, NewFunction(testSpec())))
	require.NoError(t, c.Attach(1, NewFunction(testSpec())))

	for port := 0; port < 2; port++ {
		st := c.ReadInterrupts()
		assert.Equal(t, hal.CauseATTCH, st.Causes)
		assert.Equal(t, port, st.Port)
	}
	assert.False(t, c.InterruptPending())
}

func TestController_ResetReportsSpeed(t *testing.T) {
	c := started(t, 1)
	f := NewFunction(DeviceSpec{Speed: hal.SpeedLow})
	require.NoError(t, c.SetVBUS(0, true))
	require.NoError(t, c.Attach(0, f))

	require.NoError(t, c.StartPortReset(0))
	assert.False(t, c.PortEnabled(0))
	sp, err := c.EndPortReset(0)
	require.NoError(t, err)
	assert.Equal(t, hal.SpeedLow, sp)
	assert.Equal(t, hal.SpeedLow, c.PortSpeed(0))
	assert.True(t, c.PortEnabled(0))

	require.NoError(t, c.Detach(0))
	sp, err = c.EndPortReset(0)
	require.NoError(t, err)
	assert.Equal(t, hal.SpeedUnknown, sp)
}

func TestController_ControlRead(t *testing.T) {
	c := started(t, 1)
	f := NewFunction(testSpec())
	attachReset(t, c, 0, f)

	data := controlIn(t, c, 0, hal.SetupPacket{RequestType: 0x80, Request: reqGetDescriptor, Value: 0x0100, Length: 18})
	require.Len(t, data, 18)
	assert.Equal(t, byte(descDevice), data[1])

	// A long configuration read crosses the 64 byte packet boundary.
	data = controlIn(t, c, 0, hal.SetupPacket{RequestType: 0x80, Request: reqGetDescriptor, Value: 0x0200, Length: 255})
	assert.Len(t, data, 32)
}

func TestController_SetAddressMovesDevice(t *testing.T) {
	c := started(t, 1)
	f := NewFunction(testSpec())
	attachReset(t, c, 0, f)

	assert.True(t, controlNoData(t, c, 0, hal.SetupPacket{Request: reqSetAddress, Value: 3}))
	assert.Equal(t, hal.DeviceAddress(3), f.Address())

	// Address 0 no longer answers.
	setup := hal.SetupPacket{RequestType: 0x80, Request: reqGetDescriptor, Value: 0x0100, Length: 8}
	require.NoError(t, c.SendSetup(0, &setup))
	st := c.ReadInterrupts()
	assert.Equal(t, hal.CauseSIGN, st.Causes)

	data := controlIn(t, c, 3, setup)
	assert.Len(t, data, 8)
}

func TestController_IgnoredSetup(t *testing.T) {
	c := started(t, 1)
	f := NewFunction(testSpec())
	attachReset(t, c, 0, f)
	f.IgnoreSetups(2)

	setup := hal.SetupPacket{RequestType: 0x80, Request: reqGetDescriptor, Value: 0x0100, Length: 8}
	for i := 0; i < 2; i++ {
		require.NoError(t, c.SendSetup(0, &setup))
		assert.Equal(t, hal.CauseSIGN, c.ReadInterrupts().Causes)
	}
	require.NoError(t, c.SendSetup(0, &setup))
	assert.Equal(t, hal.CauseSACK, c.ReadInterrupts().Causes)

	setups, _, _, _ := c.Stats()
	assert.Equal(t, int64(3), setups)
}

func TestController_NAKControl(t *testing.T) {
	c := started(t, 1)
	f := NewFunction(testSpec())
	attachReset(t, c, 0, f)
	f.NAKControl(true)

	setup := hal.SetupPacket{RequestType: 0x80, Request: reqGetDescriptor, Value: 0x0100, Length: 8}
	require.NoError(t, c.SendSetup(0, &setup))
	require.Equal(t, hal.CauseSACK, c.ReadInterrupts().Causes, "setup still acknowledged")
	c.SetControlDirection(true)
	c.SetPID(0, hal.PIDBuf)
	for i := 0; i < 4; i++ {
		assert.False(t, c.InterruptPending())
	}

	f.NAKControl(false)
	st := c.ReadInterrupts()
	assert.NotZero(t, st.BRDY&1)
}

func TestController_ControlStall(t *testing.T) {
	c := started(t, 1)
	f := NewFunction(testSpec())
	attachReset(t, c, 0, f)

	setup := hal.SetupPacket{RequestType: 0x80, Request: reqGetDescriptor, Value: 0x0700, Length: 8}
	require.NoError(t, c.SendSetup(0, &setup))
	require.Equal(t, hal.CauseSACK, c.ReadInterrupts().Causes)
	c.SetControlDirection(true)
	c.SetPID(0, hal.PIDBuf)
	st := c.ReadInterrupts()
	assert.NotZero(t, st.NRDY&1)
	assert.Equal(t, hal.PIDStall, c.PID(0))
}

func TestController_BulkIn(t *testing.T) {
	c := started(t, 1)
	f := NewFunction(testSpec())
	attachReset(t, c, 0, f)

	require.NoError(t, c.ConfigurePipe(3, hal.PipeConfig{Type: hal.TransferBulk, In: true, Endpoint: 1, MaxPacketSize: 64}))
	f.Queue(0x81, make([]byte, 100), 64)
	c.SetTransactionCounter(3, 2)
	c.SetPID(3, hal.PIDBuf)

	st := c.ReadInterrupts()
	require.NotZero(t, st.BRDY&(1<<3))
	assert.Error(t, c.SelectFIFO(hal.D0FIFO, 3, true), "full buffer is not writable")
	require.NoError(t, c.SelectFIFO(hal.D0FIFO, 3, false))
	assert.Equal(t, 64, c.FIFOLength(hal.D0FIFO))
	buf := make([]byte, 64)
	assert.Equal(t, 64, c.ReadFIFO(hal.D0FIFO, buf))
	assert.True(t, c.SequenceToggle(3))

	st = c.ReadInterrupts()
	require.NotZero(t, st.BRDY&(1<<3))
	require.NoError(t, c.SelectFIFO(hal.D0FIFO, 3, false))
	assert.Equal(t, 36, c.FIFOLength(hal.D0FIFO))
	assert.Equal(t, hal.PIDNAK, c.PID(3), "counter exhausted")
	c.ReadFIFO(hal.D0FIFO, buf)

	assert.False(t, c.InterruptPending())
}

func TestController_BulkOutZeroLengthPacket(t *testing.T) {
	c := started(t, 1)
	f := NewFunction(testSpec())
	attachReset(t, c, 0, f)

	require.NoError(t, c.ConfigurePipe(4, hal.PipeConfig{Type: hal.TransferBulk, Endpoint: 2, MaxPacketSize: 64}))
	require.NoError(t, c.SelectFIFO(hal.D1FIFO, 4, true))
	assert.Equal(t, 64, c.WriteFIFO(hal.D1FIFO, make([]byte, 80)))
	assert.True(t, c.BufferValid(hal.D1FIFO))
	c.SetPID(4, hal.PIDBuf)

	st := c.ReadInterrupts()
	require.NotZero(t, st.BRDY&(1<<4))
	require.NotZero(t, st.BEMP&(1<<4))

	require.NoError(t, c.SelectFIFO(hal.D1FIFO, 4, true))
	assert.False(t, c.BufferValid(hal.D1FIFO))
	c.SetBufferValid(hal.D1FIFO)
	st = c.ReadInterrupts()
	require.NotZero(t, st.BEMP&(1<<4))

	got := f.Received(0x02)
	require.Len(t, got, 2)
	assert.Len(t, got[0], 64)
	assert.Empty(t, got[1])
}

func TestController_StallAndMissingDevice(t *testing.T) {
	c := started(t, 1)
	f := NewFunction(testSpec())
	attachReset(t, c, 0, f)

	require.NoError(t, c.ConfigurePipe(3, hal.PipeConfig{Type: hal.TransferBulk, In: true, Endpoint: 1, MaxPacketSize: 64}))
	f.Halt(0x81, true)
	c.SetPID(3, hal.PIDBuf)
	st := c.ReadInterrupts()
	assert.NotZero(t, st.NRDY&(1<<3))
	assert.Equal(t, hal.PIDStall, c.PID(3))

	require.NoError(t, c.ConfigurePipe(5, hal.PipeConfig{Type: hal.TransferBulk, In: true, Endpoint: 1, MaxPacketSize: 64, Address: 9}))
	c.SetPID(5, hal.PIDBuf)
	st = c.ReadInterrupts()
	assert.NotZero(t, st.NRDY&(1<<5))
	assert.Equal(t, hal.PIDBuf, c.PID(5))
}

func TestController_FIFOFailure(t *testing.T) {
	c := started(t, 1)
	require.NoError(t, c.ConfigurePipe(6, hal.PipeConfig{Type: hal.TransferInterrupt, In: true, Endpoint: 1, MaxPacketSize: 8}))
	c.FailFIFO(6, true)
	assert.ErrorIs(t, c.SelectFIFO(hal.D0FIFO, 6, false), ErrFIFONotReady)
	assert.ErrorIs(t, c.SelectFIFO(hal.D0FIFO, 7, false), ErrInvalidPipe)
	assert.Error(t, c.ConfigurePipe(7, hal.PipeConfig{MaxPacketSize: 512}))
}

func TestController_SuspendWakeup(t *testing.T) {
	c := started(t, 1)
	f := NewFunction(testSpec())
	attachReset(t, c, 0, f)

	assert.False(t, c.RemoteWakeup(0), "not suspended")
	require.NoError(t, c.SuspendPort(0))
	assert.True(t, f.Suspended())
	assert.False(t, c.RemoteWakeup(0), "wakeup not armed")
	require.NoError(t, c.EnableRemoteWakeup(0, true))
	assert.True(t, c.RemoteWakeup(0))

	st := c.ReadInterrupts()
	assert.Equal(t, hal.CauseBCHG, st.Causes)

	require.NoError(t, c.StartResume(0))
	require.NoError(t, c.EndResume(0))
	assert.False(t, f.Suspended())
	assert.False(t, c.PortSuspended(0))
}

func TestController_OverCurrent(t *testing.T) {
	c := started(t, 1)
	require.NoError(t, c.SetVBUS(0, true))
	c.OverCurrent(0)
	st := c.ReadInterrupts()
	assert.Equal(t, hal.CauseOVRCR, st.Causes)
	assert.False(t, c.VBUS(0))
}

// ============================================================================
// Hub Tests
// ============================================================================

func TestHub_PortLifecycle(t *testing.T) {
	h := NewHub(4)
	f := NewFunction(DeviceSpec{Speed: hal.SpeedLow})

	h.AttachPort(2, f)
	st, ch := h.PortStatus(2)
	assert.Zero(t, st&PortConnection, "unpowered port does not see the device")
	assert.Zero(t, ch)

	_, stall := h.control(hal.SetupPacket{RequestType: 0x23, Request: reqSetFeature, Value: featPortPower, Index: 2}, nil)
	require.False(t, stall)
	st, ch = h.PortStatus(2)
	assert.NotZero(t, st&PortConnection)
	assert.Equal(t, PortConnection, ch)

	bitmap, hs := h.in(hubStatusEndpoint, 1)
	require.Equal(t, ACK, hs)
	assert.Equal(t, []byte{1 << 2}, bitmap)

	_, stall = h.control(hal.SetupPacket{RequestType: 0x23, Request: reqClearFeature, Value: featCPortConnection, Index: 2}, nil)
	require.False(t, stall)
	_, hs = h.in(hubStatusEndpoint, 1)
	assert.Equal(t, NAK, hs)

	_, stall = h.control(hal.SetupPacket{RequestType: 0x23, Request: reqSetFeature, Value: featPortReset, Index: 2}, nil)
	require.False(t, stall)
	st, ch = h.PortStatus(2)
	assert.NotZero(t, st&PortEnable)
	assert.NotZero(t, st&PortLowSpeed)
	assert.Equal(t, PortReset, ch)
	assert.Len(t, h.downstream(), 1)

	reply, stall := h.control(hal.SetupPacket{RequestType: 0xA3, Request: reqGetStatus, Index: 2, Length: 4}, nil)
	require.False(t, stall)
	assert.Equal(t, []byte{byte(st), byte(st >> 8), byte(PortReset), 0}, reply)
	assert.Equal(t, 1, h.StatusRequests())

	h.DetachPort(2)
	st, ch = h.PortStatus(2)
	assert.Zero(t, st&(PortConnection|PortEnable))
	assert.Equal(t, PortConnection|PortEnable|PortReset, ch)
	assert.Empty(t, h.downstream())
}

func TestHub_Descriptor(t *testing.T) {
	h := NewHub(4)
	d, stall := h.control(hal.SetupPacket{RequestType: 0xA0, Request: reqGetDescriptor, Value: 0x2900, Length: 71}, nil)
	require.False(t, stall)
	assert.Equal(t, byte(descHub), d[1])
	assert.Equal(t, byte(4), d[2])

	h.StallDescriptor(true)
	_, stall = h.control(hal.SetupPacket{RequestType: 0xA0, Request: reqGetDescriptor, Value: 0x2900, Length: 71}, nil)
	assert.True(t, stall)

	_, stall = h.control(hal.SetupPacket{RequestType: 0x23, Request: reqSetFeature, Value: featPortPower, Index: 9}, nil)
	assert.True(t, stall, "port out of range")
}

func TestHub_OverCurrent(t *testing.T) {
	h := NewHub(2)
	h.OverCurrent(1)
	st, ch := h.PortStatus(1)
	assert.NotZero(t, st&PortOverCurrent)
	assert.Equal(t, PortOverCurrent, ch)
	bitmap, hs := h.in(hubStatusEndpoint, 1)
	require.Equal(t, ACK, hs)
	assert.Equal(t, []byte{1 << 1}, bitmap)
}

func TestController_RoutesThroughHub(t *testing.T) {
	c := started(t, 1)
	h := NewHub(4)
	attachReset(t, c, 0, h)
	assert.True(t, controlNoData(t, c, 0, hal.SetupPacket{Request: reqSetAddress, Value: 1}))

	f := NewFunction(testSpec())
	h.AttachPort(3, f)
	power := hal.SetupPacket{RequestType: 0x23, Request: reqSetFeature, Value: featPortPower, Index: 3}
	assert.True(t, controlNoData(t, c, 1, power))
	reset := hal.SetupPacket{RequestType: 0x23, Request: reqSetFeature, Value: featPortReset, Index: 3}
	assert.True(t, controlNoData(t, c, 1, reset))

	assert.True(t, controlNoData(t, c, 0, hal.SetupPacket{Request: reqSetAddress, Value: 5}))
	assert.Equal(t, hal.DeviceAddress(5), f.Address())

	require.NoError(t, c.ConfigureDevice(5, hal.Route{Speed: hal.SpeedFull, HubAddr: 1, HubPort: 3}))
	r, ok := c.Route(5)
	require.True(t, ok)
	assert.Equal(t, uint8(3), r.HubPort)

	data := controlIn(t, c, 5, hal.SetupPacket{RequestType: 0x80, Request: reqGetDescriptor, Value: 0x0100, Length: 18})
	assert.Len(t, data, 18)
}

// ============================================================================
// Benchmarks
// ============================================================================

func BenchmarkController_Service(b *testing.B) {
	c := New(1)
	_ = c.Init(context.Background())
	_ = c.Start()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.InterruptPending()
	}
}
