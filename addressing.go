package docan

import "unsafe"

// AddressConverter maps between transport addresses and data-link
// addresses, and selects the frame codec for a logical link (§4.1). It has
// no transport-layer state of its own; implementations are typically a
// static routing table built from vehicle/network configuration.
type AddressConverter interface {
	// TransmissionParameters resolves the codec and data-link address pair
	// to use when sending a message with the given transport addressing.
	// The second return value is false if no routing entry exists.
	TransmissionParameters(pair TransportAddressPair) (FrameCodec, DataLinkAddressPair, bool)

	// ReceptionParameters resolves who a first frame arriving on the given
	// reception address is from and for, and which codec decodes it. The
	// second return value is false if no routing entry exists.
	ReceptionParameters(reception DataLinkAddress) (FrameCodec, TransportAddressPair, DataLinkAddress, bool)

	// FormatDataLinkAddress renders addr into scratch for logging, returning
	// a zero-terminated-equivalent string slice of scratch. Must not
	// allocate — it is called from hot logging paths.
	FormatDataLinkAddress(addr DataLinkAddress, scratch []byte) string
}

// routingEntry is one row of a [StaticAddressConverter]'s table.
type routingEntry struct {
	codec     FrameCodec
	dataLink  DataLinkAddressPair
	transport TransportAddressPair
}

// StaticAddressConverter is a routing table built once at startup, the
// shape every deployment of this module is expected to use: a fixed set of
// diagnostic addressing entries known at build or configuration time, with
// no dynamic allocation after initialization (spec.md §1 Non-goals).
type StaticAddressConverter struct {
	byTransport map[TransportAddressPair]routingEntry
	byReception map[DataLinkAddress]routingEntry
}

// NewStaticAddressConverter builds a converter from a fixed list of entries.
func NewStaticAddressConverter(entries []RoutingEntry) *StaticAddressConverter {
	c := &StaticAddressConverter{
		byTransport: make(map[TransportAddressPair]routingEntry, len(entries)),
		byReception: make(map[DataLinkAddress]routingEntry, len(entries)),
	}
	for _, e := range entries {
		entry := routingEntry{codec: e.Codec, dataLink: e.DataLink, transport: e.Transport}
		c.byTransport[e.Transport] = entry
		// A response is sent with the inverted transport pair over the same
		// physical link (reception/transmission addresses unchanged) — register
		// it so Send() on the reply direction resolves without a second entry.
		c.byTransport[e.Transport.Invert()] = entry
		c.byReception[e.DataLink.ReceptionAddress()] = entry
	}
	return c
}

// RoutingEntry is the configuration-time representation of one routing row.
type RoutingEntry struct {
	Codec     FrameCodec
	DataLink  DataLinkAddressPair
	Transport TransportAddressPair
}

func (c *StaticAddressConverter) TransmissionParameters(pair TransportAddressPair) (FrameCodec, DataLinkAddressPair, bool) {
	entry, ok := c.byTransport[pair]
	if !ok {
		return nil, DataLinkAddressPair{}, false
	}
	return entry.codec, entry.dataLink, true
}

func (c *StaticAddressConverter) ReceptionParameters(reception DataLinkAddress) (FrameCodec, TransportAddressPair, DataLinkAddress, bool) {
	entry, ok := c.byReception[reception]
	if !ok {
		return nil, TransportAddressPair{}, 0, false
	}
	return entry.codec, entry.transport, entry.dataLink.TransmissionAddress(), true
}

func (c *StaticAddressConverter) FormatDataLinkAddress(addr DataLinkAddress, scratch []byte) string {
	const hexDigits = "0123456789ABCDEF"
	var formatted [10]byte // "0x" plus up to eight hex digits
	n := len(formatted)
	for v := uint32(addr); v != 0 || len(formatted)-n < 3; v >>= 4 {
		n--
		formatted[n] = hexDigits[v&0xF]
	}
	n -= 2
	formatted[n], formatted[n+1] = '0', 'x'
	length := copy(scratch, formatted[n:])
	if length == 0 {
		return ""
	}
	return unsafe.String(&scratch[0], length)
}
