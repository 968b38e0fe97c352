package midi

// Audio class codes.
const (
	ClassAudio = 0x01

	SubclassAudioControl  = 0x01
	SubclassMIDIStreaming = 0x03
)

// Class-specific descriptor types and subtypes.
const (
	DescriptorTypeCSInterface = 0x24
	DescriptorTypeCSEndpoint  = 0x25

	SubtypeMSHeader  = 0x01
	SubtypeMIDIIn    = 0x02
	SubtypeMIDIOut   = 0x03
	SubtypeMSGeneral = 0x01 // Class-specific endpoint descriptor
)

// Jack types.
const (
	JackEmbedded = 0x01
	JackExternal = 0x02
)

// PacketSize is the size of one USB-MIDI event packet.
const PacketSize = 4

// MaxCables is the number of virtual cables addressable in a packet.
const MaxCables = 16

// MaxInstances is the number of driver instances Register can create. Each
// instance owns a bulk IN and a bulk OUT pipe.
const MaxInstances = 2

// MaxQueuedEvents bounds the events waiting for the OUT pipe.
const MaxQueuedEvents = 256

// bufferSize is the transfer buffer of either direction, a whole number of
// packets.
const bufferSize = 64

// Pipe numbers of instance i.
func inPipe(i int) int  { return 1 + 2*i }
func outPipe(i int) int { return 2 + 2*i }
