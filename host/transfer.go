package host

import (
	"fmt"
	"time"

	"github.com/ardnew/softhcd/host/hal"
	"github.com/ardnew/softhcd/pkg"
)

// Transfer is one asynchronous request on a pipe. The caller owns it until
// SubmitTransfer succeeds and again once Callback runs; the engine owns it
// in between.
type Transfer struct {
	// Pipe is the hardware pipe carrying the transfer.
	Pipe int

	// Address and Setup are used by control transfers on pipe 0 only.
	Address hal.DeviceAddress
	Setup   *hal.SetupPacket

	// Buffer holds the data to send, or receives data. Control transfers
	// move Setup.Length bytes.
	Buffer []byte

	// Continue marks a segment that more data follows: an OUT segment
	// ending on a packet boundary is not closed by a zero-length packet.
	Continue bool

	// Timeout terminates the transfer with TransferStatusTimeout when it
	// has not completed in time. Zero waits forever.
	Timeout time.Duration

	// Callback receives the transfer exactly once with its final status.
	Callback func(*Transfer)
	Context  any

	// Results
	Status pkg.TransferStatus
	Actual int

	remaining int
	gen       uint32
	timer     *message // Pending MsgTransferEnd of Timeout
}

// Err returns the error corresponding to the transfer status.
func (t *Transfer) Err() error {
	return t.Status.Error()
}

// SubmitTransfer hands t to the transfer engine. It returns immediately;
// the result arrives through t.Callback.
//
// ErrQueueOverflow means the pipe already owns a transfer and the caller
// should retry after it completes.
func (h *Host) SubmitTransfer(t *Transfer) error {
	h.lock()
	defer h.unlock()
	return h.submit(t)
}

// ControlTransfer submits a control transfer to addr on pipe 0.
func (h *Host) ControlTransfer(addr hal.DeviceAddress, setup *hal.SetupPacket, buf []byte, cb func(*Transfer)) error {
	if setup == nil {
		return fmt.Errorf("%w: nil setup", pkg.ErrInvalidParameter)
	}
	s := *setup
	return h.SubmitTransfer(&Transfer{
		Pipe:     PipeControl,
		Address:  addr,
		Setup:    &s,
		Buffer:   buf,
		Callback: cb,
	})
}

func (h *Host) submit(t *Transfer) error {
	if !h.running.Load() {
		return pkg.ErrNotRunning
	}
	if t == nil {
		return fmt.Errorf("%w: nil transfer", pkg.ErrInvalidParameter)
	}
	if !h.validPipe(t.Pipe) {
		return fmt.Errorf("%w: %d", pkg.ErrInvalidPipe, t.Pipe)
	}

	p := &h.pipes[t.Pipe]
	if t.Pipe == PipeControl {
		if t.Setup == nil {
			return fmt.Errorf("%w: control transfer without setup", pkg.ErrInvalidParameter)
		}
		if int(t.Setup.Length) > len(t.Buffer) {
			return fmt.Errorf("%w: buffer shorter than wLength", pkg.ErrInvalidParameter)
		}
		if t.Address == 0 {
			if !h.enum.defaultPhase() {
				return fmt.Errorf("%w: address 0 outside enumeration", pkg.ErrNotConfigured)
			}
		} else if h.devices[t.Address] == nil {
			return pkg.ErrNoDevice
		}
	} else {
		if !p.configured || p.cfg.Address == 0 {
			return fmt.Errorf("%w: pipe %d", pkg.ErrNotConfigured, t.Pipe)
		}
		if h.devices[p.cfg.Address] == nil {
			return pkg.ErrNoDevice
		}
	}

	if p.owner != nil {
		if p.cfg.Type == hal.TransferIsochronous && p.next == nil && p.owner != t {
			h.arm(t)
			p.next = t
			return nil
		}
		return pkg.ErrQueueOverflow
	}

	m := h.alloc(MsgSubmit)
	if m == nil {
		return pkg.ErrNoResources
	}
	h.arm(t)
	p.owner = t
	m.pipe = t.Pipe
	m.transfer = t
	m.seq = t.gen
	if err := h.post(mbxHCD, m); err != nil {
		p.owner = nil
		return err
	}

	if t.Timeout > 0 {
		if tm := h.alloc(MsgTransferEnd); tm != nil {
			tm.pipe = t.Pipe
			tm.transfer = t
			tm.seq = t.gen
			tm.status = pkg.TransferStatusTimeout
			h.postDelayed(mbxHCD, tm, t.Timeout)
			t.timer = tm
		}
	}
	return nil
}

// stopTimeout withdraws the pending timeout of t so its message returns to
// the pool now rather than when it would have expired.
func (h *Host) stopTimeout(t *Transfer) {
	tm := t.timer
	t.timer = nil
	if tm != nil && tm.kind == MsgTransferEnd && tm.transfer == t && tm.seq == t.gen {
		h.cancelDelayed(tm)
	}
}

// arm resets the transfer's results and assigns a new generation.
func (h *Host) arm(t *Transfer) {
	h.gen++
	t.gen = h.gen
	t.Status = pkg.TransferStatusSuccess
	t.Actual = 0
	t.remaining = len(t.Buffer)
}

// startTransfer begins the data phase of the owner of t.Pipe.
func (h *Host) startTransfer(t *Transfer) {
	p := &h.pipes[t.Pipe]
	p.ignore = 0

	pkg.LogDebug(pkg.ComponentTransfer, "transfer start",
		"pipe", t.Pipe,
		"length", len(t.Buffer))

	switch {
	case t.Pipe == PipeControl:
		h.ctrlStart(t)
	case p.cfg.In:
		h.startReceive(t.Pipe)
	default:
		h.startSend(t.Pipe)
	}
}

// IN engine

func (h *Host) startReceive(pipe int) {
	p := &h.pipes[pipe]
	t := p.owner
	if pipe != PipeControl && p.cfg.Type == hal.TransferBulk {
		mps := int(p.cfg.MaxPacketSize)
		n := max((t.remaining+mps-1)/mps, 1)
		h.hal.SetTransactionCounter(pipe, uint16(n))
	}
	h.hal.EnablePipeInterrupt(hal.IntrBRDY, pipe, true)
	h.hal.EnablePipeInterrupt(hal.IntrNRDY, pipe, true)
	h.hal.SetPID(pipe, hal.PIDBuf)
}

type readResult uint8

const (
	readContinue readResult = iota
	readEnd
	readShort
	readOverrun
)

// fifoToBuf drains one received packet of pipe into its owner's buffer.
func (h *Host) fifoToBuf(pipe int) {
	p := &h.pipes[pipe]
	t := p.owner
	port := p.fifoPort(pipe)

	if err := h.hal.SelectFIFO(port, pipe, false); err != nil {
		pkg.LogWarn(pkg.ComponentTransfer, "FIFO access error",
			"pipe", pipe,
			"error", err)
		h.forceTerminate(pipe, pkg.TransferStatusDataError)
		return
	}

	dtln := h.hal.FIFOLength(port)
	mps := int(p.cfg.MaxPacketSize)

	var res readResult
	switch {
	case dtln > t.remaining:
		res = readOverrun
	case dtln == t.remaining:
		res = readEnd
	case dtln == 0 || dtln%mps != 0:
		res = readShort
	default:
		res = readContinue
	}

	if n := min(dtln, t.remaining); n > 0 {
		got := h.hal.ReadFIFO(port, t.Buffer[t.Actual:t.Actual+n])
		t.Actual += got
		t.remaining -= got
	}
	if dtln == 0 || res == readOverrun {
		h.hal.ClearFIFO(port)
	}

	switch res {
	case readOverrun:
		pkg.LogWarn(pkg.ComponentTransfer, "receive overrun",
			"pipe", pipe,
			"received", dtln,
			"space", t.remaining)
		h.forceTerminate(pipe, pkg.TransferStatusOverrun)
	case readEnd:
		h.dataEnd(pipe, pkg.TransferStatusSuccess)
	case readShort:
		h.dataEnd(pipe, pkg.TransferStatusShort)
	}
}

// OUT engine

func (h *Host) startSend(pipe int) {
	t := h.pipes[pipe].owner
	h.hal.EnablePipeInterrupt(hal.IntrNRDY, pipe, true)
	h.bufToFIFO(pipe)
	if h.pipes[pipe].owner == t {
		h.hal.SetPID(pipe, hal.PIDBuf)
	}
}

type writeResult uint8

const (
	writeContinue writeResult = iota
	writeEnd
	writeShort
)

// bufToFIFO writes the next packet of pipe's owner. A transfer ending on a
// packet boundary is closed by a zero-length packet on the following
// buffer-ready, except on the control pipe and for Continue segments.
func (h *Host) bufToFIFO(pipe int) {
	p := &h.pipes[pipe]
	t := p.owner
	port := p.fifoPort(pipe)

	if err := h.hal.SelectFIFO(port, pipe, true); err != nil {
		pkg.LogWarn(pkg.ComponentTransfer, "FIFO access error",
			"pipe", pipe,
			"error", err)
		h.forceTerminate(pipe, pkg.TransferStatusDataError)
		return
	}

	size := h.hal.BufferSize(pipe)
	mps := int(p.cfg.MaxPacketSize)
	count := min(t.remaining, size)

	var res writeResult
	switch {
	case t.remaining > size:
		res = writeContinue
	case count == 0:
		res = writeShort
	case count%mps != 0:
		res = writeShort
	case t.Continue || pipe == PipeControl:
		res = writeEnd
	default:
		res = writeContinue
	}

	if count > 0 {
		n := h.hal.WriteFIFO(port, t.Buffer[t.Actual:t.Actual+count])
		t.Actual += n
		t.remaining -= n
	}
	if count < size && !h.hal.BufferValid(port) {
		h.hal.SetBufferValid(port)
	}

	switch res {
	case writeContinue:
		h.hal.EnablePipeInterrupt(hal.IntrBRDY, pipe, true)
	default:
		h.hal.EnablePipeInterrupt(hal.IntrBRDY, pipe, false)
		h.hal.EnablePipeInterrupt(hal.IntrBEMP, pipe, true)
	}
}

// Completion

// dataEnd completes the owner of pipe. On the control pipe a finished data
// stage moves to the status stage instead.
func (h *Host) dataEnd(pipe int, status pkg.TransferStatus) {
	if pipe == PipeControl && (h.ctrl.state == CtrlDataRead || h.ctrl.state == CtrlDataWrite) {
		h.startStatus(h.ctrl.state == CtrlDataWrite)
		return
	}
	h.finish(pipe, status, false)
}

// forceTerminate ends the owner of pipe from any stage.
func (h *Host) forceTerminate(pipe int, status pkg.TransferStatus) {
	h.finish(pipe, status, true)
}

func (h *Host) finish(pipe int, status pkg.TransferStatus, forced bool) {
	p := &h.pipes[pipe]
	t := p.owner

	h.disablePipeInterrupts(pipe)
	h.hal.SetPID(pipe, hal.PIDNAK)
	if pipe != PipeControl {
		h.hal.ClearTransactionCounter(pipe)
	}
	if forced {
		h.hal.ClearPipeBuffer(pipe)
	}
	if pipe == PipeControl {
		h.setCtrlState(CtrlIdle)
	}

	p.owner = nil
	p.ignore = 0
	h.retire(t, status)

	next := p.next
	if next == nil {
		return
	}
	p.next = nil
	if forced {
		h.retire(next, status)
		return
	}
	p.owner = next
	h.startTransfer(next)
}

// retire records the final status of t and queues its callback.
func (h *Host) retire(t *Transfer, status pkg.TransferStatus) {
	if t == nil {
		return
	}
	t.Status = status
	t.remaining = 0
	h.stopTimeout(t)
	h.stats.transfer(status)

	pkg.LogDebug(pkg.ComponentTransfer, "transfer end",
		"pipe", t.Pipe,
		"status", status,
		"actual", t.Actual)

	if cb := t.Callback; cb != nil {
		h.later(func() { cb(t) })
	}
}

// Interrupt handlers

func (h *Host) brdyPipe(pipe int) {
	p := &h.pipes[pipe]
	if p.owner == nil {
		pkg.LogDebug(pkg.ComponentInterrupt, "BRDY without owner", "pipe", pipe)
		return
	}
	switch {
	case pipe == PipeControl:
		h.ctrlBRDY()
	case p.cfg.In:
		h.fifoToBuf(pipe)
	default:
		h.bufToFIFO(pipe)
	}
}

func (h *Host) bempPipe(pipe int) {
	p := &h.pipes[pipe]
	if p.owner == nil {
		pkg.LogDebug(pkg.ComponentInterrupt, "BEMP without owner", "pipe", pipe)
		return
	}
	if h.hal.PID(pipe) == hal.PIDStall {
		h.forceTerminate(pipe, pkg.TransferStatusStall)
		return
	}
	if pipe == PipeControl {
		h.ctrlBEMP()
		return
	}
	if !p.cfg.In {
		h.dataEnd(pipe, pkg.TransferStatusSuccess)
	}
}

func (h *Host) nrdyPipe(pipe int) {
	p := &h.pipes[pipe]
	if p.owner == nil {
		return
	}
	if h.hal.PID(pipe) == hal.PIDStall {
		pkg.LogDebug(pkg.ComponentInterrupt, "pipe stalled", "pipe", pipe)
		h.forceTerminate(pipe, pkg.TransferStatusStall)
		return
	}
	if p.cfg.Type == hal.TransferIsochronous {
		h.stats.isoNRDY.Inc(1)
		return
	}

	p.ignore++
	h.stats.nrdyRetry.Inc(1)
	if p.ignore >= h.cfg.NRDYRetryLimit {
		pkg.LogWarn(pkg.ComponentTransfer, "pipe not ready, giving up",
			"pipe", pipe,
			"retries", p.ignore)
		h.forceTerminate(pipe, pkg.TransferStatusDataError)
		return
	}
	h.hal.SetPID(pipe, hal.PIDBuf)
}
