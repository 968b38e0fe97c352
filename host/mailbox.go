package host

import (
	"fmt"
	"time"

	"github.com/ardnew/softhcd/host/hal"
	"github.com/ardnew/softhcd/pkg"
)

// MsgKind identifies a mailbox message.
type MsgKind uint8

// Message kinds. The HCD task handles MsgInterrupt through MsgPowerCut; the
// MGR and HUB tasks handle the remainder.
const (
	MsgInterrupt MsgKind = iota
	MsgSubmit
	MsgAttach
	MsgAttachNotify
	MsgDetach
	MsgDetachNotify
	MsgUSBReset
	MsgRemoteWakeup
	MsgSuspend
	MsgResume
	MsgVBUSOn
	MsgVBUSOff
	MsgClearStall
	MsgSetToggle
	MsgClearToggle
	MsgTransferEnd
	MsgResendSetup
	MsgPowerCut

	MsgPortAttach
	MsgPortDetach
	MsgPortError
	MsgEnumStep
	MsgDeviceRequest

	MsgHubStep
	MsgHubEvent
)

var msgKindNames = [...]string{
	MsgInterrupt:     "INTERRUPT",
	MsgSubmit:        "SUBMIT",
	MsgAttach:        "ATTACH",
	MsgAttachNotify:  "ATTACH_NOTIFY",
	MsgDetach:        "DETACH",
	MsgDetachNotify:  "DETACH_NOTIFY",
	MsgUSBReset:      "USB_RESET",
	MsgRemoteWakeup:  "REMOTE_WAKEUP",
	MsgSuspend:       "SUSPEND",
	MsgResume:        "RESUME",
	MsgVBUSOn:        "VBUS_ON",
	MsgVBUSOff:       "VBUS_OFF",
	MsgClearStall:    "CLEAR_STALL",
	MsgSetToggle:     "SET_TOGGLE",
	MsgClearToggle:   "CLEAR_TOGGLE",
	MsgTransferEnd:   "TRANSFER_END",
	MsgResendSetup:   "RESEND_SETUP",
	MsgPowerCut:      "POWER_CUT",
	MsgPortAttach:    "PORT_ATTACH",
	MsgPortDetach:    "PORT_DETACH",
	MsgPortError:     "PORT_ERROR",
	MsgEnumStep:      "ENUM_STEP",
	MsgDeviceRequest: "DEVICE_REQUEST",
	MsgHubStep:       "HUB_STEP",
	MsgHubEvent:      "HUB_EVENT",
}

// String returns the message kind name.
func (k MsgKind) String() string {
	if int(k) < len(msgKindNames) && msgKindNames[k] != "" {
		return msgKindNames[k]
	}
	return fmt.Sprintf("MSG(%d)", k)
}

// mailboxID names one of the three task mailboxes.
type mailboxID uint8

const (
	mbxHCD mailboxID = iota
	mbxMGR
	mbxHUB
	numMailboxes
)

func (id mailboxID) String() string {
	switch id {
	case mbxHCD:
		return "hcd"
	case mbxMGR:
		return "mgr"
	case mbxHUB:
		return "hub"
	default:
		return "?"
	}
}

// message is a fixed-size block drawn from the pool. Fields beyond Kind are
// interpreted per kind.
type message struct {
	kind     MsgKind
	port     int
	pipe     int
	addr     hal.DeviceAddress
	status   pkg.TransferStatus
	cause    hal.Cause
	speed    hal.Speed
	phase    int
	seq      uint32
	retries  int
	transfer *Transfer
	done     func(error)

	// Storage for control requests issued on behalf of the message.
	xfer  Transfer
	setup hal.SetupPacket

	box    mailboxID
	inUse  bool
	timed  bool // Waiting in the timer wheel
	bucket int
	next   *message
}

// pool is the fixed message pool. Exhaustion is reported, never waited on.
type pool struct {
	msgs []message
	free *message
	used int
}

func newPool(n int) *pool {
	p := &pool{msgs: make([]message, n)}
	for i := n - 1; i >= 0; i-- {
		p.msgs[i].next = p.free
		p.free = &p.msgs[i]
	}
	return p
}

func (p *pool) get() *message {
	m := p.free
	if m == nil {
		return nil
	}
	p.free = m.next
	*m = message{inUse: true}
	p.used++
	return m
}

// available reports whether get would succeed.
func (p *pool) available() bool {
	return p.free != nil
}

func (p *pool) put(m *message) {
	if m == nil || !m.inUse {
		return
	}
	*m = message{next: p.free}
	p.free = m
	p.used--
}

// mailbox is a bounded FIFO of messages for one task.
type mailbox struct {
	id mailboxID
	ch chan *message
}

func newMailbox(id mailboxID, capacity int) *mailbox {
	return &mailbox{id: id, ch: make(chan *message, capacity)}
}

func (b *mailbox) len() int {
	return len(b.ch)
}

// alloc draws a message from the pool. It returns nil after counting and
// logging the exhaustion.
func (h *Host) alloc(kind MsgKind) *message {
	m := h.pool.get()
	if m == nil {
		h.stats.poolExhausted.Inc(1)
		pkg.LogWarn(pkg.ComponentHost, "message pool exhausted",
			"kind", kind,
			"size", len(h.pool.msgs))
		return nil
	}
	m.kind = kind
	return m
}

// release returns a message to the pool.
func (h *Host) release(m *message) {
	h.pool.put(m)
}

// post queues m on mailbox id.
func (h *Host) post(id mailboxID, m *message) error {
	m.box = id
	select {
	case h.boxes[id].ch <- m:
		return nil
	default:
		h.release(m)
		return fmt.Errorf("%w: %s mailbox full", pkg.ErrQueueOverflow, id)
	}
}

// send allocates and posts a message in one step.
func (h *Host) send(id mailboxID, kind MsgKind, fill func(m *message)) error {
	m := h.alloc(kind)
	if m == nil {
		return pkg.ErrNoResources
	}
	if fill != nil {
		fill(m)
	}
	return h.post(id, m)
}

// postDelayed re-posts m to mailbox id after d. The message stays
// allocated while it waits.
func (h *Host) postDelayed(id mailboxID, m *message, d time.Duration) {
	m.box = id
	m.timed = true
	h.wheel.advance(h.clock.Now())
	m.bucket = h.wheel.add(m, d)
}

// cancelDelayed takes m back out of the timer wheel and releases it. It
// reports false when m has already been posted.
func (h *Host) cancelDelayed(m *message) bool {
	if m == nil || !m.timed {
		return false
	}
	if !h.wheel.remove(m.bucket, func(x *message) bool { return x == m }) {
		return false
	}
	h.release(m)
	return true
}

// expireTimers moves every due deferred message into its mailbox and
// reports whether any moved.
func (h *Host) expireTimers() bool {
	h.wheel.advance(h.clock.Now())
	moved := false
	for {
		m, ok := h.wheel.purge()
		if !ok {
			return moved
		}
		moved = true
		m.timed = false
		if err := h.post(m.box, m); err != nil {
			pkg.LogError(pkg.ComponentHost, "deferred message dropped",
				"kind", m.kind,
				"error", err)
		}
	}
}

// complete invokes the message's completion callback, if any, once the
// dispatcher lock is released.
func (h *Host) complete(m *message, err error) {
	h.notify(m.done, err)
}

func (h *Host) notify(done func(error), err error) {
	if done != nil {
		h.later(func() { done(err) })
	}
}
