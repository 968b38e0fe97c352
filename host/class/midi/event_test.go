package midi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/softhcd/pkg"
)

func TestCodeIndex(t *testing.T) {
	tests := []struct {
		cin  CodeIndex
		name string
		n    int
	}{
		{CINMisc, "misc", 0},
		{CINCableEvent, "cable", 0},
		{CINSystemCommon2, "common2", 2},
		{CINSystemCommon3, "common3", 3},
		{CINSysExStart, "sysex", 3},
		{CINSysExEnd1, "sysex-end1", 1},
		{CINSysExEnd2, "sysex-end2", 2},
		{CINSysExEnd3, "sysex-end3", 3},
		{CINNoteOff, "note-off", 3},
		{CINNoteOn, "note-on", 3},
		{CINPolyPressure, "poly-pressure", 3},
		{CINControlChange, "control-change", 3},
		{CINProgramChange, "program-change", 2},
		{CINChannelPressure, "channel-pressure", 2},
		{CINPitchBend, "pitch-bend", 3},
		{CINSingleByte, "byte", 1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.cin.String())
			assert.Equal(t, tt.n, tt.cin.Len())
		})
	}
}

func TestParsePacket(t *testing.T) {
	ev, ok := ParsePacket([]byte{0x29, 0x91, 60, 100})
	require.True(t, ok)
	assert.Equal(t, Event{Cable: 2, CIN: CINNoteOn, Data: [3]byte{0x91, 60, 100}}, ev)
	ch, ok := ev.Channel()
	assert.True(t, ok)
	assert.Equal(t, uint8(1), ch)

	_, ok = ParsePacket([]byte{0, 0, 0, 0})
	assert.False(t, ok, "padding")
	_, ok = ParsePacket([]byte{0x01, 1, 2, 3})
	assert.False(t, ok, "reserved code index")
	_, ok = ParsePacket([]byte{0x09, 0x90, 60})
	assert.False(t, ok, "short")
}

func TestDecode(t *testing.T) {
	buf := []byte{
		0x09, 0x90, 60, 100,
		0x00, 0x00, 0x00, 0x00,
		0x18, 0x80, 60, 0,
		0x0F, 0xF8, 0x00, 0x00,
		0x0B, 0xB0, // trailing partial packet
	}
	var got []Event
	n := Decode(buf, func(ev Event) { got = append(got, ev) })
	assert.Equal(t, 3, n)
	require.Len(t, got, 3)
	assert.Equal(t, CINNoteOn, got[0].CIN)
	assert.Equal(t, uint8(1), got[1].Cable)
	assert.Equal(t, []byte{0x80, 60, 0}, got[1].Message())
	assert.Equal(t, []byte{0xF8}, got[2].Message())
	_, ok := got[2].Channel()
	assert.False(t, ok)
}

func TestEncode_ChannelMessages(t *testing.T) {
	tests := []struct {
		name   string
		msg    []byte
		packet [PacketSize]byte
	}{
		{"NoteOn", []byte{0x90, 60, 100}, [4]byte{0x09, 0x90, 60, 100}},
		{"NoteOff", []byte{0x83, 61, 0}, [4]byte{0x08, 0x83, 61, 0}},
		{"ControlChange", []byte{0xB0, 7, 127}, [4]byte{0x0B, 0xB0, 7, 127}},
		{"ProgramChange", []byte{0xC5, 12}, [4]byte{0x0C, 0xC5, 12, 0}},
		{"ChannelPressure", []byte{0xD0, 64}, [4]byte{0x0D, 0xD0, 64, 0}},
		{"PitchBend", []byte{0xE0, 0, 64}, [4]byte{0x0E, 0xE0, 0, 64}},
		{"SongPosition", []byte{0xF2, 1, 2}, [4]byte{0x03, 0xF2, 1, 2}},
		{"SongSelect", []byte{0xF3, 5}, [4]byte{0x02, 0xF3, 5, 0}},
		{"TuneRequest", []byte{0xF6}, [4]byte{0x05, 0xF6, 0, 0}},
		{"Clock", []byte{0xF8}, [4]byte{0x0F, 0xF8, 0, 0}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			events, err := Encode(0, tt.msg)
			require.NoError(t, err)
			require.Len(t, events, 1)
			assert.Equal(t, tt.packet, events[0].Packet())
			assert.Equal(t, tt.msg, events[0].Message())
		})
	}
}

func TestEncode_Cable(t *testing.T) {
	events, err := Encode(15, []byte{0x90, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, byte(0xF9), events[0].Packet()[0])
}

func TestEncode_SysEx(t *testing.T) {
	tests := []struct {
		name string
		msg  []byte
		cins []CodeIndex
	}{
		{"Empty", []byte{0xF0, 0xF7}, []CodeIndex{CINSysExEnd2}},
		{"Three", []byte{0xF0, 1, 0xF7}, []CodeIndex{CINSysExEnd3}},
		{"Four", []byte{0xF0, 1, 2, 0xF7}, []CodeIndex{CINSysExStart, CINSysExEnd1}},
		{"Six", []byte{0xF0, 1, 2, 3, 4, 0xF7}, []CodeIndex{CINSysExStart, CINSysExEnd3}},
		{"Eight", []byte{0xF0, 1, 2, 3, 4, 5, 6, 0xF7}, []CodeIndex{CINSysExStart, CINSysExStart, CINSysExEnd2}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			events, err := Encode(3, tt.msg)
			require.NoError(t, err)

			var cins []CodeIndex
			var joined []byte
			for _, ev := range events {
				cins = append(cins, ev.CIN)
				joined = append(joined, ev.Message()...)
				assert.Equal(t, uint8(3), ev.Cable)
			}
			assert.Equal(t, tt.cins, cins)
			assert.Equal(t, tt.msg, joined)
		})
	}
}

func TestEncode_Errors(t *testing.T) {
	tests := []struct {
		name  string
		cable uint8
		msg   []byte
	}{
		{"Empty", 0, nil},
		{"RunningStatus", 0, []byte{60, 100}},
		{"BadCable", 16, []byte{0x90, 60, 100}},
		{"Truncated", 0, []byte{0x90, 60}},
		{"TooLong", 0, []byte{0xC0, 1, 2}},
		{"DataStatusByte", 0, []byte{0x90, 0x80, 1}},
		{"Undefined", 0, []byte{0xF4}},
		{"EndOfExclusive", 0, []byte{0xF7}},
		{"UnterminatedSysEx", 0, []byte{0xF0, 1, 2}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.cable, tt.msg)
			assert.ErrorIs(t, err, pkg.ErrInvalidParameter)
		})
	}
}

func TestNoteName(t *testing.T) {
	assert.Equal(t, "C4", NoteName(60))
	assert.Equal(t, "C#/Db4", NoteName(61))
	assert.Equal(t, "A4", NoteName(69))
	assert.Equal(t, "C-1", NoteName(0))
	assert.Equal(t, "G9", NoteName(127))
}

func TestEvent_String(t *testing.T) {
	ev := Event{Cable: 1, CIN: CINNoteOn, Data: [3]byte{0x90, 61, 100}}
	assert.Equal(t, "cable 1 note-on 90 3d 64 C#/Db4", ev.String())

	ev = Event{CIN: CINSingleByte, Data: [3]byte{0xFE}}
	assert.Equal(t, "cable 0 byte fe", ev.String())
}

func BenchmarkDecode(b *testing.B) {
	buf := make([]byte, bufferSize)
	for i := 0; i < len(buf); i += PacketSize {
		copy(buf[i:], []byte{0x09, 0x90, 60, 100})
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Decode(buf, func(Event) {})
	}
}
