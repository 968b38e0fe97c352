package host

import (
	"errors"
	"fmt"

	"github.com/ardnew/softhcd/host/hal"
	"github.com/ardnew/softhcd/pkg"
)

// hcdTask processes one HCD message. Each branch releases the message
// unless it re-posted it.
func (h *Host) hcdTask(m *message) {
	switch m.kind {
	case MsgInterrupt:
		h.hcdInterrupt(m)
		h.release(m)

	case MsgSubmit:
		t := m.transfer
		if t != nil && h.pipes[m.pipe].owner == t && t.gen == m.seq {
			h.startTransfer(t)
		}
		h.release(m)

	case MsgAttach, MsgUSBReset, MsgAttachNotify:
		h.hcdReset(m)

	case MsgDetach, MsgDetachNotify:
		h.detachPort(m.port)
		if m.kind == MsgDetachNotify {
			h.sendMGR(MsgPortDetach, m.port)
		}
		h.complete(m, nil)
		h.release(m)

	case MsgSuspend:
		h.hcdSuspend(m)
		h.release(m)

	case MsgResume, MsgRemoteWakeup:
		h.hcdResume(m)

	case MsgVBUSOn, MsgVBUSOff:
		err := h.hal.SetVBUS(m.port, m.kind == MsgVBUSOn)
		h.complete(m, err)
		h.release(m)

	case MsgClearStall:
		h.hcdClearStall(m)

	case MsgSetToggle, MsgClearToggle:
		var err error
		if !h.validPipe(m.pipe) || !h.pipes[m.pipe].configured {
			err = fmt.Errorf("%w: pipe %d", pkg.ErrNotConfigured, m.pipe)
		} else if m.kind == MsgSetToggle {
			h.hal.SetSequenceToggle(m.pipe)
		} else {
			h.hal.ClearSequenceToggle(m.pipe)
		}
		h.complete(m, err)
		h.release(m)

	case MsgTransferEnd:
		p := &h.pipes[m.pipe]
		if t := p.owner; t != nil && t == m.transfer && t.gen == m.seq {
			pkg.LogDebug(pkg.ComponentHCD, "transfer end requested",
				"pipe", m.pipe,
				"status", m.status)
			h.forceTerminate(m.pipe, m.status)
		}
		h.complete(m, nil)
		h.release(m)

	case MsgResendSetup:
		h.resendSetup(m)
		h.release(m)

	case MsgPowerCut:
		// No interrupt path posts this message.
		h.stats.powerCut.Inc(1)
		pkg.LogWarn(pkg.ComponentHCD, "unreachable power-cut message received", "port", m.port)
		h.release(m)

	default:
		pkg.LogError(pkg.ComponentHCD, "unexpected message", "kind", m.kind)
		h.release(m)
	}
}

func (h *Host) hcdInterrupt(m *message) {
	pkg.LogDebug(pkg.ComponentHCD, "port interrupt",
		"cause", m.cause,
		"port", m.port)

	switch m.cause {
	case hal.CauseATTCH:
		h.sendMGR(MsgPortAttach, m.port)

	case hal.CauseDTCH:
		h.detachPort(m.port)
		h.sendMGR(MsgPortDetach, m.port)

	case hal.CauseBCHG:
		err := h.send(mbxHCD, MsgRemoteWakeup, func(r *message) {
			r.port = m.port
		})
		if err != nil {
			pkg.LogError(pkg.ComponentHCD, "remote wakeup dropped", "port", m.port, "error", err)
		}

	case hal.CauseOVRCR:
		h.stats.portOverCur.Inc(1)
		pkg.LogWarn(pkg.ComponentHCD, "root port over-current", "port", m.port)
		if err := h.hal.SetVBUS(m.port, false); err != nil {
			pkg.LogError(pkg.ComponentHCD, "VBUS off failed", "port", m.port, "error", err)
		}
		h.detachPort(m.port)
		h.sendMGR(MsgPortError, m.port)
	}
}

func (h *Host) sendMGR(kind MsgKind, port int) {
	err := h.send(mbxMGR, kind, func(m *message) {
		m.port = port
	})
	if err != nil {
		pkg.LogError(pkg.ComponentHCD, "manager message dropped",
			"kind", kind,
			"port", port,
			"error", err)
	}
}

// hcdReset drives bus reset in two phases separated by ResetTime. An
// ATTACH_NOTIFY reset hands the detected speed to the manager; the others
// complete the message.
func (h *Host) hcdReset(m *message) {
	if m.phase == 0 {
		if err := h.hal.StartPortReset(m.port); err != nil {
			h.resetDone(m, hal.SpeedUnknown, err)
			return
		}
		m.phase = 1
		h.postDelayed(mbxHCD, m, h.cfg.ResetTime)
		return
	}

	speed, err := h.hal.EndPortReset(m.port)
	if err == nil && speed == hal.SpeedUnknown {
		err = fmt.Errorf("%w: port %d", pkg.ErrNoDevice, m.port)
	}
	h.resetDone(m, speed, err)
}

func (h *Host) resetDone(m *message, speed hal.Speed, err error) {
	if m.port >= 0 && m.port < len(h.ports) {
		h.ports[m.port].speed = speed
	}
	pkg.LogDebug(pkg.ComponentHCD, "port reset complete",
		"port", m.port,
		"speed", speed,
		"error", err)

	if m.kind != MsgAttachNotify {
		h.complete(m, err)
		h.release(m)
		return
	}

	m.kind = MsgEnumStep
	m.phase = enumEvStart
	m.speed = speed
	if err != nil {
		m.status = pkg.TransferStatusNoConnection
	}
	if e := h.post(mbxMGR, m); e != nil {
		pkg.LogError(pkg.ComponentHCD, "enumeration start dropped", "port", m.port, "error", e)
		h.enumFail(e)
	}
}

func (h *Host) hcdSuspend(m *message) {
	err := h.hal.SuspendPort(m.port)
	if err == nil {
		err = h.hal.EnableRemoteWakeup(m.port, true)
	}
	if err == nil {
		for _, dev := range h.devices {
			if dev == nil || dev.port != m.port {
				continue
			}
			dev.setState(DeviceStateSuspended)
			h.notifyDrivers(dev, ClassDriver.Suspend)
		}
	}
	h.complete(m, err)
}

// hcdResume drives resume signalling for ResumeTime, then restores the
// devices behind the port.
func (h *Host) hcdResume(m *message) {
	if m.phase == 0 {
		if err := h.hal.StartResume(m.port); err != nil {
			h.complete(m, err)
			h.release(m)
			return
		}
		m.phase = 1
		h.postDelayed(mbxHCD, m, h.cfg.ResumeTime)
		return
	}

	err := h.hal.EndResume(m.port)
	if err == nil {
		err = h.hal.EnableRemoteWakeup(m.port, false)
	}
	if err == nil {
		if m.port >= 0 && m.port < len(h.ports) && h.ports[m.port].state == PortSuspended {
			h.ports[m.port].state = PortConfigured
		}
		for _, dev := range h.devices {
			if dev == nil || dev.port != m.port || dev.State() != DeviceStateSuspended {
				continue
			}
			dev.setState(DeviceStateConfigured)
			h.notifyDrivers(dev, ClassDriver.Resume)
		}
	}
	pkg.LogDebug(pkg.ComponentHCD, "port resumed",
		"port", m.port,
		"remote", m.kind == MsgRemoteWakeup,
		"error", err)
	h.complete(m, err)
	h.release(m)
}

// hcdClearStall issues CLEAR_FEATURE(ENDPOINT_HALT) for the pipe's
// endpoint, then resets the pipe's PID and toggle once the request
// completes. A busy control pipe defers the request.
func (h *Host) hcdClearStall(m *message) {
	if !h.validPipe(m.pipe) || m.pipe == PipeControl || !h.pipes[m.pipe].configured {
		h.complete(m, fmt.Errorf("%w: pipe %d", pkg.ErrNotConfigured, m.pipe))
		h.release(m)
		return
	}
	p := &h.pipes[m.pipe]

	if m.phase == 1 {
		h.hal.SetPID(m.pipe, hal.PIDNAK)
		h.hal.ClearSequenceToggle(m.pipe)
		p.ignore = 0
		pkg.LogDebug(pkg.ComponentHCD, "stall cleared", "pipe", m.pipe)
		h.complete(m, nil)
		h.release(m)
		return
	}

	ep := uint16(p.cfg.Endpoint)
	if p.cfg.In {
		ep |= EndpointDirectionIn
	}
	m.setup = clearFeatureSetup(RequestTypeStandard|RequestTypeEndpoint, FeatureEndpointHalt, ep)
	m.xfer = Transfer{
		Pipe:     PipeControl,
		Address:  p.cfg.Address,
		Setup:    &m.setup,
		Callback: h.clearStallDone,
		Context:  m,
	}

	err := h.submit(&m.xfer)
	switch {
	case err == nil:
	case errors.Is(err, pkg.ErrQueueOverflow):
		m.retries++
		if m.retries > h.cfg.ClearStallRetries {
			pkg.LogWarn(pkg.ComponentHCD, "control pipe busy, clear-stall abandoned",
				"pipe", m.pipe,
				"retries", m.retries)
			h.complete(m, err)
			h.release(m)
			return
		}
		h.stats.mailboxRetry.Inc(1)
		h.postDelayed(mbxHCD, m, h.cfg.ClearStallDelay)
	default:
		h.complete(m, err)
		h.release(m)
	}
}

func (h *Host) clearStallDone(t *Transfer) {
	h.lock()
	defer h.unlock()

	m, ok := t.Context.(*message)
	if !ok || !m.inUse {
		return
	}
	if err := t.Err(); err != nil {
		h.complete(m, err)
		h.release(m)
		return
	}
	m.phase = 1
	if err := h.post(mbxHCD, m); err != nil {
		pkg.LogError(pkg.ComponentHCD, "clear-stall completion dropped", "pipe", m.pipe, "error", err)
	}
}

// hcdRequest posts an HCD message carrying a completion callback.
func (h *Host) hcdRequest(kind MsgKind, fill func(m *message), done func(error)) error {
	h.lock()
	defer h.unlock()
	if !h.running.Load() {
		return pkg.ErrNotRunning
	}
	return h.send(mbxHCD, kind, func(m *message) {
		if fill != nil {
			fill(m)
		}
		m.done = done
	})
}

// ClearStall clears a halted endpoint behind a data pipe: it sends
// CLEAR_FEATURE(ENDPOINT_HALT) and resets the pipe's PID and data toggle.
// done, if not nil, receives the result.
func (h *Host) ClearStall(pipe int, done func(error)) error {
	if !h.validPipe(pipe) || pipe == PipeControl {
		return fmt.Errorf("%w: %d", pkg.ErrInvalidPipe, pipe)
	}
	return h.hcdRequest(MsgClearStall, func(m *message) { m.pipe = pipe }, done)
}

// AbortTransfer terminates the transfer owning pipe with status, which is
// normally TransferStatusStop or TransferStatusTimeout.
func (h *Host) AbortTransfer(pipe int, status pkg.TransferStatus) error {
	if !h.validPipe(pipe) {
		return fmt.Errorf("%w: %d", pkg.ErrInvalidPipe, pipe)
	}
	h.lock()
	defer h.unlock()
	if !h.running.Load() {
		return pkg.ErrNotRunning
	}
	t := h.pipes[pipe].owner
	if t == nil {
		return nil
	}
	return h.send(mbxHCD, MsgTransferEnd, func(m *message) {
		m.pipe = pipe
		m.transfer = t
		m.seq = t.gen
		m.status = status
	})
}

// SetSequenceToggle forces the next data PID of pipe to DATA1.
func (h *Host) SetSequenceToggle(pipe int, done func(error)) error {
	return h.hcdRequest(MsgSetToggle, func(m *message) { m.pipe = pipe }, done)
}

// ClearSequenceToggle forces the next data PID of pipe to DATA0.
func (h *Host) ClearSequenceToggle(pipe int, done func(error)) error {
	return h.hcdRequest(MsgClearToggle, func(m *message) { m.pipe = pipe }, done)
}

// SetVBUS switches power on a root port.
func (h *Host) SetVBUS(port int, on bool, done func(error)) error {
	if port < 0 || port >= len(h.ports) {
		return fmt.Errorf("%w: port %d", pkg.ErrInvalidParameter, port)
	}
	kind := MsgVBUSOff
	if on {
		kind = MsgVBUSOn
	}
	return h.hcdRequest(kind, func(m *message) { m.port = port }, done)
}

// ResetPort drives bus reset on a root port without re-enumerating.
func (h *Host) ResetPort(port int, done func(error)) error {
	if port < 0 || port >= len(h.ports) {
		return fmt.Errorf("%w: port %d", pkg.ErrInvalidParameter, port)
	}
	return h.hcdRequest(MsgUSBReset, func(m *message) { m.port = port }, done)
}
