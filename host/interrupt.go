package host

import (
	"github.com/ardnew/softhcd/host/hal"
	"github.com/ardnew/softhcd/pkg"
)

// EventKind is one decoded interrupt source.
type EventKind uint8

// Interrupt sources in dispatch order.
const (
	EventATTCH EventKind = iota
	EventDTCH
	EventBCHG
	EventOVRCR
	EventSACK
	EventSIGN
	EventBRDY
	EventBEMP
	EventNRDY
	EventSOF
)

var eventKindNames = [...]string{
	EventATTCH: "ATTCH",
	EventDTCH:  "DTCH",
	EventBCHG:  "BCHG",
	EventOVRCR: "OVRCR",
	EventSACK:  "SACK",
	EventSIGN:  "SIGN",
	EventBRDY:  "BRDY",
	EventBEMP:  "BEMP",
	EventNRDY:  "NRDY",
	EventSOF:   "SOF",
}

// String returns the event name.
func (k EventKind) String() string {
	if int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return "?"
}

// Event is a single decoded interrupt. Pipe is set for BRDY, BEMP and NRDY;
// Port for the root port causes.
type Event struct {
	Kind EventKind
	Pipe int
	Port int
}

// Classify decodes a latched status word into events: port causes first,
// then SETUP results, then per-pipe events in ascending pipe order.
func Classify(st hal.Status) []Event {
	return appendEvents(nil, st)
}

func appendEvents(out []Event, st hal.Status) []Event {
	ports := [...]struct {
		c hal.Cause
		k EventKind
	}{
		{hal.CauseATTCH, EventATTCH},
		{hal.CauseDTCH, EventDTCH},
		{hal.CauseBCHG, EventBCHG},
		{hal.CauseOVRCR, EventOVRCR},
		{hal.CauseSACK, EventSACK},
		{hal.CauseSIGN, EventSIGN},
	}
	for _, p := range ports {
		if st.Causes&p.c != 0 {
			out = append(out, Event{Kind: p.k, Port: st.Port})
		}
	}

	pipes := [...]struct {
		bits uint16
		k    EventKind
	}{
		{st.BRDY, EventBRDY},
		{st.BEMP, EventBEMP},
		{st.NRDY, EventNRDY},
	}
	for _, p := range pipes {
		for pipe := 0; pipe < MaxPipes; pipe++ {
			if p.bits&(1<<pipe) != 0 {
				out = append(out, Event{Kind: p.k, Pipe: pipe})
			}
		}
	}

	if st.Causes&hal.CauseSOF != 0 {
		out = append(out, Event{Kind: EventSOF})
	}
	return out
}

// HandleInterrupt services every latched interrupt. It is the body of the
// interrupt entry point and reports whether anything was pending.
func (h *Host) HandleInterrupt() bool {
	h.lock()
	defer h.unlock()
	return h.serviceInterrupts()
}

func (h *Host) serviceInterrupts() bool {
	if !h.running.Load() || !h.hal.InterruptPending() {
		return false
	}
	serviced := false
	for h.hal.InterruptPending() {
		st := h.hal.ReadInterrupts()
		if st.Empty() {
			break
		}
		serviced = true
		h.events = appendEvents(h.events[:0], st)
		for _, ev := range h.events {
			h.dispatchEvent(ev)
		}
	}
	return serviced
}

func (h *Host) dispatchEvent(ev Event) {
	switch ev.Kind {
	case EventATTCH, EventDTCH, EventBCHG, EventOVRCR:
		cause := hal.CauseATTCH << (ev.Kind - EventATTCH)
		err := h.send(mbxHCD, MsgInterrupt, func(m *message) {
			m.cause = cause
			m.port = ev.Port
		})
		if err != nil {
			pkg.LogError(pkg.ComponentInterrupt, "port event dropped",
				"event", ev.Kind,
				"port", ev.Port,
				"error", err)
		}
	case EventSACK:
		h.onSACK()
	case EventSIGN:
		h.onSIGN()
	case EventBRDY:
		h.brdyPipe(ev.Pipe)
	case EventBEMP:
		h.bempPipe(ev.Pipe)
	case EventNRDY:
		h.nrdyPipe(ev.Pipe)
	case EventSOF:
		h.stats.sof.Inc(1)
	}
}
