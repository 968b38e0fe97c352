// Package host implements the core of a USB 2.0 host controller driver for
// a pipe-based controller.
//
// The core talks to hardware only through [hal.HostHAL]. A simulated
// controller for tests and examples lives in
// [github.com/ardnew/softhcd/host/hal/sim].
//
// # Architecture
//
// Work is split between three cooperative tasks, each fed by a bounded
// mailbox of messages drawn from a fixed pool:
//
//   - HCD owns the controller: port reset, suspend and resume, VBUS,
//     clear-stall and transfer start.
//   - MGR owns root port state and device enumeration.
//   - HUB runs the hub class state machine of every open hub.
//
// Interrupts are decoded into events and dispatched in a fixed order. Pipe
// events drive the transfer engine directly; root port events become HCD
// messages. Delays are deferred messages on a timer wheel, never sleeps.
//
// # Driving the core
//
// Nothing runs on its own. Call [Host.Poll] from a loop, or [Host.Run] to
// poll on interrupts and timer ticks:
//
//	h := host.New(hw)
//	if err := h.Start(ctx); err != nil {
//		return err
//	}
//	defer h.Close()
//	return h.Run(ctx)
//
// # Transfers
//
// A pipe owns at most one transfer. Submitting to a busy pipe returns
// [pkg.ErrQueueOverflow]; isochronous pipes accept one follow-up. Callbacks
// run after the dispatcher lock is released and may submit again.
//
// # Class drivers
//
// Class drivers register with [Host.RegisterClassDriver] and claim
// interfaces of configured devices. Each registration names the pipes its
// endpoints bind to.
package host
