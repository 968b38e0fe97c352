package hal

import (
	"context"
)

// Speed represents the USB connection speed.
type Speed uint8

// USB speed constants (USB 2.0 Specification).
const (
	SpeedUnknown Speed = iota // Not connected or unknown
	SpeedLow                  // Low Speed (1.5 Mbit/s)
	SpeedFull                 // Full Speed (12 Mbit/s)
	SpeedHigh                 // High Speed (480 Mbit/s)
)

// String returns a human-readable speed name.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "Low Speed"
	case SpeedFull:
		return "Full Speed"
	case SpeedHigh:
		return "High Speed"
	default:
		return "Unknown"
	}
}

// MaxPacketSize0 returns the default control pipe packet size at this speed.
func (s Speed) MaxPacketSize0() uint16 {
	switch s {
	case SpeedFull, SpeedHigh:
		return 64
	default:
		return 8
	}
}

// SetupPacket represents a USB SETUP packet in the HAL layer.
type SetupPacket struct {
	RequestType uint8  // Request characteristics
	Request     uint8  // Specific request
	Value       uint16 // Request-specific value
	Index       uint16 // Request-specific index
	Length      uint16 // Number of bytes to transfer
}

// SetupPacketSize is the size of a USB SETUP packet in bytes.
const SetupPacketSize = 8

// ParseSetupPacket parses raw bytes into a SetupPacket.
// Returns false if data is too short.
func ParseSetupPacket(data []byte, out *SetupPacket) bool {
	if len(data) < SetupPacketSize {
		return false
	}
	out.RequestType = data[0]
	out.Request = data[1]
	out.Value = uint16(data[2]) | uint16(data[3])<<8
	out.Index = uint16(data[4]) | uint16(data[5])<<8
	out.Length = uint16(data[6]) | uint16(data[7])<<8
	return true
}

// MarshalTo writes the setup packet to buf.
// Returns the number of bytes written (8), or 0 if buf is too small.
func (s *SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	buf[0] = s.RequestType
	buf[1] = s.Request
	buf[2] = byte(s.Value)
	buf[3] = byte(s.Value >> 8)
	buf[4] = byte(s.Index)
	buf[5] = byte(s.Index >> 8)
	buf[6] = byte(s.Length)
	buf[7] = byte(s.Length >> 8)
	return SetupPacketSize
}

// IsIn reports whether the data stage (if any) is device-to-host.
func (s *SetupPacket) IsIn() bool {
	return s.RequestType&0x80 != 0
}

// TransferType indicates the type of USB transfer.
type TransferType uint8

// Transfer type constants.
const (
	TransferControl     TransferType = 0 // Control transfer
	TransferIsochronous TransferType = 1 // Isochronous transfer
	TransferBulk        TransferType = 2 // Bulk transfer
	TransferInterrupt   TransferType = 3 // Interrupt transfer
)

// String returns the transfer type name.
func (t TransferType) String() string {
	switch t {
	case TransferControl:
		return "control"
	case TransferIsochronous:
		return "isochronous"
	case TransferBulk:
		return "bulk"
	case TransferInterrupt:
		return "interrupt"
	default:
		return "unknown"
	}
}

// DeviceAddress represents a USB device address (1-127, 0 while unaddressed).
type DeviceAddress uint8

// Route describes how the controller reaches a device address: the device's
// speed and, for devices behind a hub, the upstream hub address and port.
type Route struct {
	Speed   Speed
	HubAddr DeviceAddress
	HubPort uint8
}

// PipeConfig is the content of the pipe configuration registers.
type PipeConfig struct {
	Type          TransferType
	In            bool          // Direction: true for IN (device to host)
	Endpoint      uint8         // Endpoint number (0-15)
	MaxPacketSize uint16        // Maximum packet size
	Interval      uint8         // Interval counter for interrupt/isochronous
	DoubleBuffer  bool          // Double buffer mode
	Address       DeviceAddress // Device select
}

// PID is the response PID programmed into a pipe control register.
type PID uint8

// Pipe response PIDs.
const (
	PIDNAK   PID = iota // Pipe halted, NAK all tokens
	PIDBuf              // Pipe enabled, transactions proceed
	PIDStall            // Pipe stalled
)

// String returns the PID name.
func (p PID) String() string {
	switch p {
	case PIDNAK:
		return "NAK"
	case PIDBuf:
		return "BUF"
	case PIDStall:
		return "STALL"
	default:
		return "?"
	}
}

// FIFOPort selects one of the controller's FIFO access ports.
type FIFOPort uint8

// FIFO ports.
const (
	CFIFO  FIFOPort = iota // Shared port, used for the control pipe
	D0FIFO                 // Data port 0
	D1FIFO                 // Data port 1
)

// String returns the FIFO port name.
func (f FIFOPort) String() string {
	switch f {
	case CFIFO:
		return "CFIFO"
	case D0FIFO:
		return "D0FIFO"
	case D1FIFO:
		return "D1FIFO"
	default:
		return "?"
	}
}

// Cause is a bitmask of non-pipe interrupt causes.
type Cause uint16

// Interrupt causes.
const (
	CauseSACK  Cause = 1 << iota // Setup transaction acknowledged
	CauseSIGN                    // Setup transaction ignored (no ACK)
	CauseATTCH                   // Device attached on a root port
	CauseDTCH                    // Device detached from a root port
	CauseBCHG                    // Bus state change (resume/remote wakeup)
	CauseOVRCR                   // Over-current on a root port
	CauseSOF                     // Start of frame
)

// String returns a compact list of cause names.
func (c Cause) String() string {
	names := [...]string{"SACK", "SIGN", "ATTCH", "DTCH", "BCHG", "OVRCR", "SOF"}
	s := ""
	for i, n := range names {
		if c&(1<<i) != 0 {
			if s != "" {
				s += "|"
			}
			s += n
		}
	}
	if s == "" {
		return "none"
	}
	return s
}

// PipeIntr selects one of the per-pipe interrupt enable registers.
type PipeIntr uint8

// Per-pipe interrupt kinds.
const (
	IntrBRDY PipeIntr = iota // Buffer ready
	IntrBEMP                 // Buffer empty
	IntrNRDY                 // Buffer not ready
)

// Status is the latched interrupt status word. Pipe bitmaps have bit n set
// for pipe n.
//
// Port names one root port, so the port causes in a single Status all belong
// to that port. A controller with port causes latched on more than one port
// reports one port per ReadInterrupts call and keeps the rest latched, so
// InterruptPending stays true until every port has been read.
type Status struct {
	Causes Cause
	Port   int // Root port for ATTCH/DTCH/BCHG/OVRCR
	BRDY   uint16
	BEMP   uint16
	NRDY   uint16
}

// Empty reports whether no interrupt is pending in the word.
func (s Status) Empty() bool {
	return s.Causes == 0 && s.BRDY == 0 && s.BEMP == 0 && s.NRDY == 0
}

// HostHAL is the register/bitfield access layer of a fixed-function USB host
// IP core.
//
// The host core drives every transfer through these operations. Each call is
// assumed atomic with respect to the core's single dispatcher context; the
// core never calls the HAL concurrently with itself.
type HostHAL interface {
	// Initialization and Lifecycle

	// Init initializes the USB host controller hardware.
	Init(ctx context.Context) error

	// Start enables the host controller and its interrupts.
	Start() error

	// Stop disables the host controller and removes power from ports.
	Stop() error

	// Close releases all resources associated with the HAL.
	Close() error

	// Root Port Operations

	// NumPorts returns the number of root ports (0-indexed).
	NumPorts() int

	// PortConnected reports the line state of a root port.
	PortConnected(port int) bool

	// PortSpeed returns the reset handshake result of a root port.
	PortSpeed(port int) Speed

	// SetVBUS switches port power.
	SetVBUS(port int, on bool) error

	// StartPortReset drives bus reset on a root port.
	StartPortReset(port int) error

	// EndPortReset releases bus reset, enables SOF output and returns the
	// negotiated speed.
	EndPortReset(port int) (Speed, error)

	// SuspendPort stops SOF output on a root port.
	SuspendPort(port int) error

	// StartResume drives resume signalling on a root port.
	StartResume(port int) error

	// EndResume ends resume signalling and restarts SOF output.
	EndResume(port int) error

	// EnableRemoteWakeup arms or disarms wakeup detection while suspended.
	EnableRemoteWakeup(port int, on bool) error

	// Device Routing

	// ConfigureDevice programs the device address table entry for addr.
	ConfigureDevice(addr DeviceAddress, route Route) error

	// Pipe Configuration

	// NumPipes returns the number of hardware pipes including pipe 0.
	NumPipes() int

	// ConfigurePipe writes the pipe configuration registers.
	ConfigurePipe(pipe int, cfg PipeConfig) error

	// ResetPipe clears a pipe's configuration and buffer.
	ResetPipe(pipe int)

	// SetPID sets the response PID of a pipe.
	SetPID(pipe int, pid PID)

	// PID returns the current response PID of a pipe.
	PID(pipe int) PID

	// SequenceToggle returns the current data toggle of a pipe (true = DATA1).
	SequenceToggle(pipe int) bool

	// SetSequenceToggle forces the next data PID to DATA1.
	SetSequenceToggle(pipe int)

	// ClearSequenceToggle forces the next data PID to DATA0.
	ClearSequenceToggle(pipe int)

	// SetTransactionCounter arms an IN pipe to NAK after n transactions.
	SetTransactionCounter(pipe int, n uint16)

	// ClearTransactionCounter disables the transaction counter.
	ClearTransactionCounter(pipe int)

	// ClearPipeBuffer discards any data held in a pipe's buffer.
	ClearPipeBuffer(pipe int)

	// SetControlDirection selects the data direction of pipe 0.
	SetControlDirection(in bool)

	// BufferSize returns the FIFO buffer size of a pipe in bytes.
	BufferSize(pipe int) int

	// FIFO Access

	// SelectFIFO binds a FIFO port to a pipe and waits for it to become
	// ready. A non-nil error is a FIFO access error.
	SelectFIFO(port FIFOPort, pipe int, write bool) error

	// FIFOLength returns the number of received bytes in the bound buffer.
	FIFOLength(port FIFOPort) int

	// ReadFIFO reads received bytes into buf and returns the count read.
	ReadFIFO(port FIFOPort, buf []byte) int

	// WriteFIFO writes buf into the bound buffer and returns the count
	// written. A buffer that becomes full is sent automatically.
	WriteFIFO(port FIFOPort, buf []byte) int

	// SetBufferValid commits a short (or zero-length) packet.
	SetBufferValid(port FIFOPort)

	// BufferValid reports whether the bound buffer awaits transmission.
	BufferValid(port FIFOPort) bool

	// ClearFIFO discards the bound buffer.
	ClearFIFO(port FIFOPort)

	// Control Setup

	// SendSetup writes the request registers and starts a SETUP transaction
	// on pipe 0 to addr.
	SendSetup(addr DeviceAddress, setup *SetupPacket) error

	// Interrupts

	// InterruptPending reports whether an enabled interrupt is latched.
	InterruptPending() bool

	// ReadInterrupts returns and clears the latched interrupt status. Port
	// causes of at most one root port are returned per call; see Status.
	ReadInterrupts() Status

	// EnableInterrupts enables or disables non-pipe interrupt causes.
	EnableInterrupts(c Cause, on bool)

	// EnablePipeInterrupt enables or disables one per-pipe interrupt.
	EnablePipeInterrupt(kind PipeIntr, pipe int, on bool)

	// Notify returns a channel signalled when an interrupt is latched.
	Notify() <-chan struct{}
}
