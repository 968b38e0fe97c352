package host

import (
	"github.com/ardnew/softhcd/host/hal"
	"github.com/ardnew/softhcd/pkg"
)

// CtrlState is the stage of the control transfer on pipe 0.
type CtrlState uint8

// Control transfer stages.
const (
	CtrlIdle CtrlState = iota
	CtrlSetup
	CtrlDataRead
	CtrlDataWrite
	CtrlNoData
	CtrlStatus
)

// String returns the stage name.
func (s CtrlState) String() string {
	switch s {
	case CtrlIdle:
		return "idle"
	case CtrlSetup:
		return "setup"
	case CtrlDataRead:
		return "data-read"
	case CtrlDataWrite:
		return "data-write"
	case CtrlNoData:
		return "no-data"
	case CtrlStatus:
		return "status"
	default:
		return "unknown"
	}
}

type controlState struct {
	state    CtrlState
	ignore   int  // SIGN count of the current SETUP
	statusIn bool // Direction of the status stage
}

func (h *Host) setCtrlState(s CtrlState) {
	if h.ctrl.state == s {
		return
	}
	h.ctrl.state = s
	if obs := h.ctrlObserver; obs != nil {
		h.later(func() { obs(s) })
	}
}

// ControlState returns the current stage of pipe 0.
func (h *Host) ControlState() CtrlState {
	h.lock()
	defer h.unlock()
	return h.ctrl.state
}

// mps0 returns the control packet size of addr.
func (h *Host) mps0(addr hal.DeviceAddress) uint16 {
	if addr == 0 {
		return uint16(h.enum.mps0)
	}
	if dev := h.devices[addr]; dev != nil {
		if n := dev.descriptor.MaxPacketSize0; n != 0 {
			return uint16(n)
		}
		return dev.speed.MaxPacketSize0()
	}
	return hal.SpeedFull.MaxPacketSize0()
}

// ctrlStart binds pipe 0 to the owner's device and sends its SETUP packet.
func (h *Host) ctrlStart(t *Transfer) {
	cfg := hal.PipeConfig{
		Type:          hal.TransferControl,
		MaxPacketSize: h.mps0(t.Address),
		Address:       t.Address,
	}
	h.hal.SetPID(PipeControl, hal.PIDNAK)
	if err := h.hal.ConfigurePipe(PipeControl, cfg); err != nil {
		pkg.LogError(pkg.ComponentControl, "control pipe configuration failed",
			"address", t.Address,
			"error", err)
		h.forceTerminate(PipeControl, pkg.TransferStatusDataError)
		return
	}
	h.pipes[PipeControl].cfg = cfg
	h.ctrl.ignore = 0
	t.remaining = int(t.Setup.Length)
	h.setCtrlState(CtrlSetup)
	h.sendSetup(t)
}

func (h *Host) sendSetup(t *Transfer) {
	pkg.LogDebug(pkg.ComponentControl, "SETUP",
		"address", t.Address,
		"request_type", t.Setup.RequestType,
		"request", t.Setup.Request,
		"value", t.Setup.Value,
		"index", t.Setup.Index,
		"length", t.Setup.Length)

	if err := h.hal.SendSetup(t.Address, t.Setup); err != nil {
		pkg.LogWarn(pkg.ComponentControl, "SETUP not sent",
			"address", t.Address,
			"error", err)
		h.forceTerminate(PipeControl, pkg.TransferStatusDataError)
	}
}

// onSACK branches on the expected data stage once the SETUP is acknowledged.
func (h *Host) onSACK() {
	t := h.pipes[PipeControl].owner
	if t == nil || h.ctrl.state != CtrlSetup {
		pkg.LogDebug(pkg.ComponentControl, "SACK outside setup stage", "state", h.ctrl.state)
		return
	}
	h.ctrl.ignore = 0

	switch {
	case t.Setup.Length == 0:
		h.setCtrlState(CtrlNoData)
		h.startStatus(true)
	case t.Setup.IsIn():
		h.setCtrlState(CtrlDataRead)
		h.hal.SetControlDirection(true)
		h.hal.SetSequenceToggle(PipeControl)
		h.startReceive(PipeControl)
	default:
		h.setCtrlState(CtrlDataWrite)
		h.hal.SetControlDirection(false)
		h.hal.SetSequenceToggle(PipeControl)
		h.startSend(PipeControl)
	}
}

// onSIGN retries an unacknowledged SETUP after a delay until the retry
// limit is reached.
func (h *Host) onSIGN() {
	t := h.pipes[PipeControl].owner
	if t == nil || h.ctrl.state != CtrlSetup {
		pkg.LogDebug(pkg.ComponentControl, "SIGN outside setup stage", "state", h.ctrl.state)
		return
	}

	h.ctrl.ignore++
	h.stats.setupRetry.Inc(1)
	if h.ctrl.ignore >= h.cfg.SetupRetryLimit {
		pkg.LogWarn(pkg.ComponentControl, "SETUP ignored, giving up",
			"address", t.Address,
			"attempts", h.ctrl.ignore)
		h.forceTerminate(PipeControl, pkg.TransferStatusDataError)
		return
	}

	m := h.alloc(MsgResendSetup)
	if m == nil {
		h.forceTerminate(PipeControl, pkg.TransferStatusDataError)
		return
	}
	m.pipe = PipeControl
	m.transfer = t
	m.seq = t.gen
	h.postDelayed(mbxHCD, m, h.cfg.SetupRetryDelay)
}

// resendSetup runs from the HCD task once the retry delay has elapsed.
func (h *Host) resendSetup(m *message) {
	t := h.pipes[PipeControl].owner
	if t == nil || t != m.transfer || t.gen != m.seq || h.ctrl.state != CtrlSetup {
		return
	}
	h.sendSetup(t)
}

// startStatus runs the status stage: IN after a write or no-data request,
// OUT after a read.
func (h *Host) startStatus(in bool) {
	h.setCtrlState(CtrlStatus)
	h.ctrl.statusIn = in

	h.disablePipeInterrupts(PipeControl)
	h.hal.SetPID(PipeControl, hal.PIDNAK)
	h.hal.SetControlDirection(in)
	h.hal.SetSequenceToggle(PipeControl)
	h.hal.EnablePipeInterrupt(hal.IntrNRDY, PipeControl, true)

	if in {
		h.hal.EnablePipeInterrupt(hal.IntrBRDY, PipeControl, true)
		h.hal.SetPID(PipeControl, hal.PIDBuf)
		return
	}

	if err := h.hal.SelectFIFO(hal.CFIFO, PipeControl, true); err != nil {
		pkg.LogWarn(pkg.ComponentControl, "FIFO access error in status stage", "error", err)
		h.forceTerminate(PipeControl, pkg.TransferStatusDataError)
		return
	}
	h.hal.SetBufferValid(hal.CFIFO)
	h.hal.EnablePipeInterrupt(hal.IntrBEMP, PipeControl, true)
	h.hal.SetPID(PipeControl, hal.PIDBuf)
}

func (h *Host) ctrlBRDY() {
	switch h.ctrl.state {
	case CtrlDataRead:
		h.fifoToBuf(PipeControl)
	case CtrlDataWrite:
		h.bufToFIFO(PipeControl)
	case CtrlStatus:
		if !h.ctrl.statusIn {
			return
		}
		if err := h.hal.SelectFIFO(hal.CFIFO, PipeControl, false); err != nil {
			h.forceTerminate(PipeControl, pkg.TransferStatusDataError)
			return
		}
		h.hal.ClearFIFO(hal.CFIFO)
		h.ctrlEnd()
	}
}

func (h *Host) ctrlBEMP() {
	switch h.ctrl.state {
	case CtrlDataWrite:
		h.dataEnd(PipeControl, pkg.TransferStatusSuccess)
	case CtrlStatus:
		if !h.ctrl.statusIn {
			h.ctrlEnd()
		}
	}
}

// ctrlEnd completes the control transfer after its status stage.
func (h *Host) ctrlEnd() {
	t := h.pipes[PipeControl].owner
	status := pkg.TransferStatusSuccess
	if t != nil && t.Setup.IsIn() && t.Actual < int(t.Setup.Length) {
		status = pkg.TransferStatusShort
	}
	h.finish(PipeControl, status, false)
}
