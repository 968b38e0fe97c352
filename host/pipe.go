package host

import (
	"github.com/ardnew/softhcd/host/hal"
	"github.com/ardnew/softhcd/pkg"
)

// pipeState is the bookkeeping of one hardware pipe.
type pipeState struct {
	cfg        hal.PipeConfig
	configured bool
	slot       int // Owning registration, -1 for none

	// owner is the transfer in flight. It is cleared before the
	// transfer's callback is queued.
	owner *Transfer
	// next is the single follow-up transfer an isochronous pipe accepts
	// while owned.
	next *Transfer

	ignore int // NRDY retries of the current transfer
}

// fifoPort returns the FIFO port serving pipe: CFIFO for the control
// pipe, D0FIFO for IN pipes and D1FIFO for OUT pipes.
func (p *pipeState) fifoPort(pipe int) hal.FIFOPort {
	switch {
	case pipe == PipeControl:
		return hal.CFIFO
	case p.cfg.In:
		return hal.D0FIFO
	default:
		return hal.D1FIFO
	}
}

func (h *Host) validPipe(pipe int) bool {
	return pipe >= 0 && pipe < MaxPipes
}

// configurePipe programs a data pipe and resets its toggle.
func (h *Host) configurePipe(pipe int, cfg hal.PipeConfig, slot int) error {
	if err := h.hal.ConfigurePipe(pipe, cfg); err != nil {
		pkg.LogError(pkg.ComponentPipe, "pipe configuration failed",
			"pipe", pipe,
			"error", err)
		return err
	}
	h.hal.SetPID(pipe, hal.PIDNAK)
	h.hal.ClearSequenceToggle(pipe)
	h.pipes[pipe] = pipeState{cfg: cfg, configured: true, slot: slot}

	pkg.LogDebug(pkg.ComponentPipe, "pipe configured",
		"pipe", pipe,
		"type", cfg.Type,
		"in", cfg.In,
		"endpoint", cfg.Endpoint,
		"mps", cfg.MaxPacketSize,
		"address", cfg.Address)
	return nil
}

// releasePipe clears a data pipe's configuration. Any owner must have been
// terminated first.
func (h *Host) releasePipe(pipe int) {
	if pipe == PipeControl || !h.validPipe(pipe) {
		return
	}
	h.disablePipeInterrupts(pipe)
	h.hal.ResetPipe(pipe)
	h.pipes[pipe] = pipeState{slot: -1}
}

func (h *Host) disablePipeInterrupts(pipe int) {
	h.hal.EnablePipeInterrupt(hal.IntrBRDY, pipe, false)
	h.hal.EnablePipeInterrupt(hal.IntrBEMP, pipe, false)
	h.hal.EnablePipeInterrupt(hal.IntrNRDY, pipe, false)
}

// Pipe State Table accessors

func (h *Host) pipeConfig(pipe int) (hal.PipeConfig, bool) {
	h.lock()
	defer h.unlock()
	if !h.validPipe(pipe) || !h.pipes[pipe].configured {
		return hal.PipeConfig{}, false
	}
	return h.pipes[pipe].cfg, true
}

// PipeDirection returns EndpointDirectionIn or EndpointDirectionOut for a
// configured pipe.
func (h *Host) PipeDirection(pipe int) uint8 {
	if cfg, _ := h.pipeConfig(pipe); cfg.In {
		return EndpointDirectionIn
	}
	return EndpointDirectionOut
}

// PipeType returns the transfer type of a pipe.
func (h *Host) PipeType(pipe int) hal.TransferType {
	cfg, _ := h.pipeConfig(pipe)
	return cfg.Type
}

// PipeAddress returns the device address bound to a pipe, or 0.
func (h *Host) PipeAddress(pipe int) hal.DeviceAddress {
	cfg, _ := h.pipeConfig(pipe)
	return cfg.Address
}

// PipeMaxPacket returns the max packet size of a pipe.
func (h *Host) PipeMaxPacket(pipe int) uint16 {
	cfg, _ := h.pipeConfig(pipe)
	return cfg.MaxPacketSize
}

// PipeBusy reports whether a transfer owns the pipe.
func (h *Host) PipeBusy(pipe int) bool {
	h.lock()
	defer h.unlock()
	return h.validPipe(pipe) && h.pipes[pipe].owner != nil
}

// SequenceToggle returns the pipe's data toggle as mirrored by the
// controller (true = DATA1).
func (h *Host) SequenceToggle(pipe int) bool {
	h.lock()
	defer h.unlock()
	return h.validPipe(pipe) && h.hal.SequenceToggle(pipe)
}
