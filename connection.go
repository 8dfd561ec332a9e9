package docan

// TransportAddressPair is a pair of 16-bit transport addresses identifying
// who a reassembled message is from and who it is for. Valid iff
// source != target. Immutable after construction (§3.1).
type TransportAddressPair struct {
	source uint16
	target uint16
}

// NewTransportAddressPair constructs a pair, panicking if source == target —
// mirroring the teacher's constructor-time invariant checks (e.g.
// TransportAddressPair in the original source asserts this at construction,
// not on every access).
func NewTransportAddressPair(source, target uint16) TransportAddressPair {
	if source == target {
		panic("docan: transport address pair requires source != target")
	}
	return TransportAddressPair{source: source, target: target}
}

func (p TransportAddressPair) Source() uint16 { return p.source }
func (p TransportAddressPair) Target() uint16 { return p.target }

// Invert returns the pair with source and target swapped — used to turn an
// inbound request's addressing into the addressing of its response.
func (p TransportAddressPair) Invert() TransportAddressPair {
	return TransportAddressPair{source: p.target, target: p.source}
}

// DataLinkAddressPair holds the CAN identifiers used to receive and send
// frames for one logical link. TransmissionAddress may be [InvalidAddress]
// to mark a functional-broadcast routing entry, for which only
// single-frame transfers are legal (§3.2).
type DataLinkAddressPair struct {
	reception    DataLinkAddress
	transmission DataLinkAddress
}

func NewDataLinkAddressPair(reception, transmission DataLinkAddress) DataLinkAddressPair {
	return DataLinkAddressPair{reception: reception, transmission: transmission}
}

func (p DataLinkAddressPair) ReceptionAddress() DataLinkAddress    { return p.reception }
func (p DataLinkAddressPair) TransmissionAddress() DataLinkAddress { return p.transmission }

// IsFunctional reports whether this pair only supports single-frame
// (functional/broadcast) transfers.
func (p DataLinkAddressPair) IsFunctional() bool {
	return p.transmission == InvalidAddress
}

// Connection identifies how to encode/decode frames on a logical link and
// what transport addresses to attach to reassembled messages (§3.3). It is
// copied by value into each per-message state machine. Equality is
// structural (comparable fields only).
type Connection struct {
	Codec     FrameCodec
	DataLink  DataLinkAddressPair
	Transport TransportAddressPair
}

// Equal reports structural equality, matching on the data-link and
// transport address pairs and codec identity (not deep codec equality —
// codecs are shared, stateless singletons).
func (c Connection) Equal(other Connection) bool {
	return c.DataLink == other.DataLink &&
		c.Transport == other.Transport &&
		c.Codec == other.Codec
}
