// Package midi implements a USB-MIDI 1.0 streaming class driver for the
// softhcd host.
//
// A driver instance claims one MIDIStreaming interface (Audio class,
// subclass 3) and binds its first bulk IN and bulk OUT endpoints to a pair
// of hardware pipes. While the device is configured the driver keeps a read
// pending on the IN pipe, decodes every 4-byte event packet and hands the
// events to the handler set with SetOnEvent.
//
// # Event Packets
//
// USB-MIDI carries MIDI messages in 4-byte packets. The first byte holds
// the virtual cable number in its high nibble and the Code Index Number
// (CIN) in its low nibble; the CIN determines how many of the three
// following bytes are significant:
//
//	byte 0: cable<<4 | CIN
//	byte 1..3: MIDI message, zero padded
//
// Encode splits a complete MIDI message, including System Exclusive, into
// events; Event.Message returns the MIDI bytes of a decoded event.
//
// # Usage
//
//	drivers, err := midi.Register(h, 2)
//	if err != nil {
//	    return err
//	}
//	drivers[0].SetOnEvent(func(ev midi.Event) {
//	    fmt.Println(ev)
//	})
//	...
//	drivers[0].SendMessage(0, []byte{0x90, 60, 100}) // note on, middle C
//
// Each instance uses its own pair of bulk pipes, so at most MaxInstances
// MIDI devices can be served at once.
package midi
