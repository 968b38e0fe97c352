// Package hal defines the register/bitfield access layer of a fixed-function
// USB host IP core.
//
// The host core in github.com/ardnew/softhcd/host implements every USB
// protocol state machine itself: pipe bookkeeping, FIFO staging, control
// transfer stages, enumeration and the hub class. The HAL only exposes what
// the controller's registers do:
//
//   - Root port line state, reset, suspend/resume and VBUS
//   - Device address table entries (speed and upstream hub routing)
//   - Pipe configuration, response PID, data toggle and transaction counter
//   - FIFO port selection, read/write, buffer-valid and clear
//   - SETUP transmission on the control pipe
//   - Interrupt enable and latched status (BRDY, BEMP, NRDY, SACK, SIGN,
//     ATTCH, DTCH, BCHG, OVRCR, SOF)
//
// # Implementing a HAL
//
// Register access must be atomic with respect to the host core's dispatcher.
// The core calls [HostHAL.ReadInterrupts] from its interrupt service path
// and never calls the HAL from two goroutines at once. An implementation
// backed by a real interrupt line signals [HostHAL.Notify] from its ISR and
// latches the status until it is read.
//
// A deterministic simulated controller with attachable functions and hubs is
// available in [github.com/ardnew/softhcd/host/hal/sim].
package hal
