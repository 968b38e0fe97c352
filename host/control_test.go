package host

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/softhcd/host/hal"
	"github.com/ardnew/softhcd/host/hal/sim"
	"github.com/ardnew/softhcd/pkg"
)

// observe records every control stage change from now on.
func (r *rig) observe() *[]CtrlState {
	var seen []CtrlState
	r.host.lock()
	r.host.ctrlObserver = func(s CtrlState) { seen = append(seen, s) }
	r.host.unlock()
	return &seen
}

func TestCtrlState_String(t *testing.T) {
	assert.Equal(t, "idle", CtrlIdle.String())
	assert.Equal(t, "data-read", CtrlDataRead.String())
	assert.Equal(t, "status", CtrlStatus.String())
	assert.Equal(t, "unknown", CtrlState(99).String())
}

func TestControl_GetDescriptor(t *testing.T) {
	r := newRig(t, 1)
	r.attach(0, sim.NewFunction(loopbackSpec()))
	dev := r.host.Device(1)
	require.NotNil(t, dev)
	seen := r.observe()

	var c capture
	buf := make([]byte, DeviceDescriptorSize)
	require.NoError(t, dev.GetDescriptor(DescriptorTypeDevice, 0, 0, buf, c.done))
	r.settle()

	require.Equal(t, 1, c.calls)
	assert.Equal(t, pkg.TransferStatusSuccess, c.status)
	assert.Equal(t, DeviceDescriptorSize, c.actual)

	var desc DeviceDescriptor
	require.True(t, ParseDeviceDescriptor(buf, &desc))
	assert.Equal(t, uint16(0x1209), desc.VendorID)

	assert.Equal(t, []CtrlState{CtrlSetup, CtrlDataRead, CtrlStatus, CtrlIdle}, *seen)
}

func TestControl_ShortRead(t *testing.T) {
	r := newRig(t, 1)
	r.attach(0, sim.NewFunction(loopbackSpec()))
	dev := r.host.Device(1)
	require.NotNil(t, dev)

	var c capture
	buf := make([]byte, 255)
	require.NoError(t, dev.GetDescriptor(DescriptorTypeConfiguration, 0, 0, buf, c.done))
	r.settle()

	assert.Equal(t, pkg.TransferStatusShort, c.status)
	assert.Equal(t, int(buf[2])|int(buf[3])<<8, c.actual)
}

func TestControl_NoDataStage(t *testing.T) {
	r := newRig(t, 1)
	fn := sim.NewFunction(loopbackSpec())
	r.attach(0, fn)
	dev := r.host.Device(1)
	require.NotNil(t, dev)
	seen := r.observe()

	var c capture
	require.NoError(t, dev.SetFeature(FeatureDeviceRemoteWakeup, c.done))
	r.settle()

	require.Equal(t, 1, c.calls)
	assert.Equal(t, pkg.TransferStatusSuccess, c.status)
	assert.Equal(t, []CtrlState{CtrlSetup, CtrlNoData, CtrlStatus, CtrlIdle}, *seen)

	reqs := fn.Requests()
	last := reqs[len(reqs)-1]
	assert.Equal(t, uint8(RequestSetFeature), last.Request)
	assert.Equal(t, uint16(FeatureDeviceRemoteWakeup), last.Value)
}

func TestControl_DataWrite(t *testing.T) {
	r := newRig(t, 1)
	fn := sim.NewFunction(loopbackSpec())
	var got []byte
	fn.HandleControl(func(setup hal.SetupPacket, data []byte) ([]byte, bool) {
		got = append([]byte{}, data...)
		return nil, false
	})
	r.attach(0, fn)
	seen := r.observe()

	setup := hal.SetupPacket{
		RequestType: RequestTypeVendor | RequestTypeDevice,
		Request:     0x42,
		Length:      4,
	}
	var c capture
	require.NoError(t, r.host.ControlTransfer(1, &setup, []byte{1, 2, 3, 4}, c.done))
	r.settle()

	require.Equal(t, 1, c.calls)
	assert.Equal(t, pkg.TransferStatusSuccess, c.status)
	assert.Equal(t, 4, c.actual)
	assert.Equal(t, []byte{1, 2, 3, 4}, got)
	assert.Equal(t, []CtrlState{CtrlSetup, CtrlDataWrite, CtrlStatus, CtrlIdle}, *seen)
}

func TestControl_MultiPacketWrite(t *testing.T) {
	r := newRig(t, 1)
	fn := sim.NewFunction(loopbackSpec())
	var got []byte
	fn.HandleControl(func(setup hal.SetupPacket, data []byte) ([]byte, bool) {
		got = append([]byte{}, data...)
		return nil, false
	})
	r.attach(0, fn)

	payload := pattern(150)
	setup := hal.SetupPacket{
		RequestType: RequestTypeVendor | RequestTypeDevice,
		Request:     0x43,
		Length:      uint16(len(payload)),
	}
	var c capture
	require.NoError(t, r.host.ControlTransfer(1, &setup, payload, c.done))
	r.settle()

	assert.Equal(t, pkg.TransferStatusSuccess, c.status)
	assert.Equal(t, payload, got)
}

func TestControl_ClassRequestStall(t *testing.T) {
	r := newRig(t, 1)
	r.attach(0, sim.NewFunction(loopbackSpec()))
	seen := r.observe()

	setup := hal.SetupPacket{
		RequestType: RequestTypeIn | RequestTypeClass | RequestTypeInterface,
		Request:     0x01,
		Length:      8,
	}
	var c capture
	require.NoError(t, r.host.ControlTransfer(1, &setup, make([]byte, 8), c.done))
	r.settle()

	require.Equal(t, 1, c.calls)
	assert.Equal(t, pkg.TransferStatusStall, c.status)
	assert.Equal(t, CtrlIdle, r.host.ControlState())
	assert.Equal(t, CtrlIdle, (*seen)[len(*seen)-1])
	assert.EqualValues(t, 1, r.host.Counter(MetricTransferStall))
}

func TestControl_ParameterErrors(t *testing.T) {
	r := newRig(t, 1)
	r.attach(0, sim.NewFunction(loopbackSpec()))

	assert.ErrorIs(t, r.host.ControlTransfer(1, nil, nil, nil), pkg.ErrInvalidParameter)

	setup := getDescriptorSetup(DescriptorTypeDevice, 0, 0, 8)
	assert.ErrorIs(t, r.host.ControlTransfer(1, &setup, make([]byte, 4), nil), pkg.ErrInvalidParameter)
	assert.ErrorIs(t, r.host.ControlTransfer(0, &setup, make([]byte, 8), nil), pkg.ErrNotConfigured)
	assert.ErrorIs(t, r.host.ControlTransfer(9, &setup, make([]byte, 8), nil), pkg.ErrNoDevice)
	assert.ErrorIs(t, r.host.SubmitTransfer(&Transfer{Pipe: PipeControl, Address: 1}), pkg.ErrInvalidParameter)
}

func TestControl_PipeBusy(t *testing.T) {
	r := newRig(t, 1)
	r.attach(0, sim.NewFunction(loopbackSpec()))

	setup := getDescriptorSetup(DescriptorTypeDevice, 0, 0, 18)
	var first, second capture
	require.NoError(t, r.host.ControlTransfer(1, &setup, make([]byte, 18), first.done))
	assert.ErrorIs(t, r.host.ControlTransfer(1, &setup, make([]byte, 18), second.done), pkg.ErrQueueOverflow)
	r.settle()

	assert.Equal(t, 1, first.calls)
	assert.Zero(t, second.calls)
	require.NoError(t, r.host.ControlTransfer(1, &setup, make([]byte, 18), second.done))
	r.settle()
	assert.Equal(t, pkg.TransferStatusSuccess, second.status)
}

func TestControl_DetachDuringRequest(t *testing.T) {
	r := newRig(t, 1)
	fn := sim.NewFunction(loopbackSpec())
	r.attach(0, fn)

	setup := getDescriptorSetup(DescriptorTypeDevice, 0, 0, 18)
	var c capture
	fn.IgnoreSetups(1)
	require.NoError(t, r.host.ControlTransfer(1, &setup, make([]byte, 18), c.done))
	r.host.PollUntilIdle(100)
	require.Zero(t, c.calls, "SETUP retry pending")

	r.detach(0)

	require.Equal(t, 1, c.calls)
	assert.Equal(t, pkg.TransferStatusStop, c.status)
	assert.Equal(t, CtrlIdle, r.host.ControlState())
}
