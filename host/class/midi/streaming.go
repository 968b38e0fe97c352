package midi

// Jack is one MIDI IN or OUT jack of a MIDIStreaming interface.
type Jack struct {
	ID   uint8
	Type uint8 // JackEmbedded or JackExternal
	In   bool
}

// Streaming summarizes the class-specific descriptors of a MIDIStreaming
// interface.
type Streaming struct {
	Version uint16 // bcdMSC of the MS header
	Jacks   []Jack

	// Embedded jacks associated with the data endpoints.
	EndpointIn  []uint8
	EndpointOut []uint8
}

// ParseStreaming walks the class-specific descriptors following a
// MIDIStreaming interface. It reports false when no MS header is present.
func ParseStreaming(descs [][]byte) (Streaming, bool) {
	var ms Streaming
	header := false
	// Jack associations per class-specific endpoint descriptor. Endpoint
	// direction is inferred from the jacks once all of them are known.
	var assoc [][]uint8

	for _, d := range descs {
		if len(d) < 3 || int(d[0]) > len(d) {
			continue
		}
		switch d[1] {
		case DescriptorTypeCSInterface:
			switch d[2] {
			case SubtypeMSHeader:
				if len(d) >= 5 {
					ms.Version = uint16(d[3]) | uint16(d[4])<<8
					header = true
				}
			case SubtypeMIDIIn, SubtypeMIDIOut:
				if len(d) >= 5 {
					ms.Jacks = append(ms.Jacks, Jack{ID: d[4], Type: d[3], In: d[2] == SubtypeMIDIIn})
				}
			}
		case DescriptorTypeCSEndpoint:
			if d[2] != SubtypeMSGeneral || len(d) < 4 {
				continue
			}
			n := int(d[3])
			if 4+n > len(d) {
				n = len(d) - 4
			}
			assoc = append(assoc, append([]uint8{}, d[4:4+n]...))
		}
	}

	for _, ids := range assoc {
		if len(ids) == 0 {
			continue
		}
		// An OUT endpoint feeds embedded IN jacks; an IN endpoint is fed
		// by embedded OUT jacks.
		if j, ok := ms.jack(ids[0]); ok && j.In {
			ms.EndpointOut = append(ms.EndpointOut, ids...)
		} else {
			ms.EndpointIn = append(ms.EndpointIn, ids...)
		}
	}
	return ms, header
}

func (ms *Streaming) jack(id uint8) (Jack, bool) {
	for _, j := range ms.Jacks {
		if j.ID == id {
			return j, true
		}
	}
	return Jack{}, false
}

// EmbeddedJacks counts the embedded IN and OUT jacks.
func (ms *Streaming) EmbeddedJacks() (in, out int) {
	for _, j := range ms.Jacks {
		if j.Type != JackEmbedded {
			continue
		}
		if j.In {
			in++
		} else {
			out++
		}
	}
	return in, out
}

// TxCables returns the number of cables the host may address on the OUT
// endpoint, at least one.
func (ms *Streaming) TxCables() int {
	if n := len(ms.EndpointOut); n > 0 {
		return n
	}
	if in, _ := ms.EmbeddedJacks(); in > 0 {
		return in
	}
	return 1
}

// RxCables returns the number of cables the device sends on the IN
// endpoint, at least one.
func (ms *Streaming) RxCables() int {
	if n := len(ms.EndpointIn); n > 0 {
		return n
	}
	if _, out := ms.EmbeddedJacks(); out > 0 {
		return out
	}
	return 1
}
