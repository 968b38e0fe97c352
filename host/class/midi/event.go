package midi

import (
	"fmt"

	"github.com/ardnew/softhcd/pkg"
)

// CodeIndex is the Code Index Number classifying an event packet.
type CodeIndex uint8

// Code Index Numbers.
const (
	CINMisc            CodeIndex = 0x0 // Reserved
	CINCableEvent      CodeIndex = 0x1 // Reserved
	CINSystemCommon2   CodeIndex = 0x2 // Two-byte system common message
	CINSystemCommon3   CodeIndex = 0x3 // Three-byte system common message
	CINSysExStart      CodeIndex = 0x4 // SysEx starts or continues
	CINSysExEnd1       CodeIndex = 0x5 // SysEx ends with one byte, or single-byte system common
	CINSysExEnd2       CodeIndex = 0x6
	CINSysExEnd3       CodeIndex = 0x7
	CINNoteOff         CodeIndex = 0x8
	CINNoteOn          CodeIndex = 0x9
	CINPolyPressure    CodeIndex = 0xA
	CINControlChange   CodeIndex = 0xB
	CINProgramChange   CodeIndex = 0xC
	CINChannelPressure CodeIndex = 0xD
	CINPitchBend       CodeIndex = 0xE
	CINSingleByte      CodeIndex = 0xF
)

// cinLength is the number of MIDI bytes carried per Code Index Number.
var cinLength = [16]int{0, 0, 2, 3, 3, 1, 2, 3, 3, 3, 3, 3, 2, 2, 3, 1}

var cinNames = [16]string{
	"misc", "cable", "common2", "common3",
	"sysex", "sysex-end1", "sysex-end2", "sysex-end3",
	"note-off", "note-on", "poly-pressure", "control-change",
	"program-change", "channel-pressure", "pitch-bend", "byte",
}

// String returns the name of the code index.
func (c CodeIndex) String() string {
	return cinNames[c&0x0F]
}

// Len returns the number of MIDI bytes an event of this kind carries.
func (c CodeIndex) Len() int {
	return cinLength[c&0x0F]
}

// Event is one decoded USB-MIDI event packet.
type Event struct {
	Cable uint8
	CIN   CodeIndex
	Data  [3]byte
}

// ParsePacket decodes one 4-byte event packet. Padding packets and packets
// with a reserved code index report false.
func ParsePacket(p []byte) (Event, bool) {
	if len(p) < PacketSize {
		return Event{}, false
	}
	ev := Event{
		Cable: p[0] >> 4,
		CIN:   CodeIndex(p[0] & 0x0F),
		Data:  [3]byte{p[1], p[2], p[3]},
	}
	if ev.CIN.Len() == 0 {
		return Event{}, false
	}
	return ev, true
}

// Decode calls fn for every event packet in buf and returns the number of
// events delivered. A trailing partial packet is ignored.
func Decode(buf []byte, fn func(Event)) int {
	n := 0
	for len(buf) >= PacketSize {
		if ev, ok := ParsePacket(buf[:PacketSize]); ok {
			fn(ev)
			n++
		}
		buf = buf[PacketSize:]
	}
	return n
}

// Packet encodes the event as a 4-byte packet.
func (e Event) Packet() [PacketSize]byte {
	var p [PacketSize]byte
	p[0] = e.Cable<<4 | byte(e.CIN&0x0F)
	copy(p[1:], e.Data[:e.CIN.Len()])
	return p
}

// Message returns the MIDI bytes carried by the event.
func (e Event) Message() []byte {
	return e.Data[:e.CIN.Len()]
}

// Channel returns the MIDI channel (0-15) of a channel voice event.
func (e Event) Channel() (uint8, bool) {
	if e.CIN < CINNoteOff || e.CIN > CINPitchBend {
		return 0, false
	}
	return e.Data[0] & 0x0F, true
}

func (e Event) String() string {
	s := fmt.Sprintf("cable %d %s % x", e.Cable, e.CIN, e.Message())
	switch e.CIN {
	case CINNoteOn, CINNoteOff:
		s += " " + NoteName(e.Data[1])
	}
	return s
}

// Encode splits a complete MIDI message into event packets for cable.
// Running status is not supported: msg must start with a status byte. A
// System Exclusive message must be terminated by 0xF7.
func Encode(cable uint8, msg []byte) ([]Event, error) {
	if cable >= MaxCables {
		return nil, fmt.Errorf("%w: cable %d", pkg.ErrInvalidParameter, cable)
	}
	if len(msg) == 0 || msg[0] < 0x80 {
		return nil, fmt.Errorf("%w: message does not start with a status byte", pkg.ErrInvalidParameter)
	}

	status := msg[0]
	var cin CodeIndex
	switch {
	case status < 0xF0:
		cin = CodeIndex(status >> 4)
	case status == 0xF0:
		return encodeSysEx(cable, msg)
	case status == 0xF1, status == 0xF3:
		cin = CINSystemCommon2
	case status == 0xF2:
		cin = CINSystemCommon3
	case status == 0xF6:
		cin = CINSysExEnd1
	case status >= 0xF8:
		cin = CINSingleByte
	default:
		return nil, fmt.Errorf("%w: status 0x%02x", pkg.ErrInvalidParameter, status)
	}

	n := cin.Len()
	if len(msg) != n {
		return nil, fmt.Errorf("%w: status 0x%02x takes %d bytes, got %d",
			pkg.ErrInvalidParameter, status, n, len(msg))
	}
	for _, b := range msg[1:] {
		if b >= 0x80 {
			return nil, fmt.Errorf("%w: data byte 0x%02x", pkg.ErrInvalidParameter, b)
		}
	}
	ev := Event{Cable: cable, CIN: cin}
	copy(ev.Data[:], msg)
	return []Event{ev}, nil
}

func encodeSysEx(cable uint8, msg []byte) ([]Event, error) {
	if len(msg) < 2 || msg[len(msg)-1] != 0xF7 {
		return nil, fmt.Errorf("%w: unterminated system exclusive", pkg.ErrInvalidParameter)
	}
	out := make([]Event, 0, (len(msg)+2)/3)
	for len(msg) > 3 {
		ev := Event{Cable: cable, CIN: CINSysExStart}
		copy(ev.Data[:], msg[:3])
		out = append(out, ev)
		msg = msg[3:]
	}
	ev := Event{Cable: cable, CIN: CINSysExEnd1 + CodeIndex(len(msg)-1)}
	copy(ev.Data[:], msg)
	return append(out, ev), nil
}

const notesPerOctave = 12

var (
	sharps = [notesPerOctave]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}
	flats  = [notesPerOctave]string{"C", "Db", "D", "Eb", "E", "F", "Gb", "G", "Ab", "A", "Bb", "B"}
)

// NoteName returns the name of a MIDI note number with its octave, giving
// both the sharp and the flat spelling of accidentals ("C#/Db4"). Note 60
// is C4.
func NoteName(note uint8) string {
	i := note % notesPerOctave
	octave := int(note)/notesPerOctave - 1
	if sharps[i] != flats[i] {
		return fmt.Sprintf("%s/%s%d", sharps[i], flats[i], octave)
	}
	return fmt.Sprintf("%s%d", sharps[i], octave)
}
