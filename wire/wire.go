// Package wire implements the B.A.T.M.A.N. IV OGM/HNA wire format: a
// bit-exact binary codec, independent of any process-wide packet-type
// registry (spec.md §9 "Global state" design note).
package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
)

// BatmanVersion is the only protocol version this codec accepts.
const BatmanVersion = 4

// Flag bits carried in an OGM header.
const (
	FlagUnidirectional = 0x20
	FlagDirectLink      = 0x40
)

const (
	// OgmSize is the exact wire length of an OGM header.
	OgmSize = 12
	// HnaSize is the exact wire length of an HNA record.
	HnaSize = 5
)

// Address is a 32-bit network address. The zero value means "no address";
// AddressBroadcast is the all-ones sentinel.
type Address uint32

const (
	AddressNone      Address = 0
	AddressBroadcast Address = 0xFFFFFFFF
)

// Addr returns the IPv4 netip.Addr representation of a.
func (a Address) Addr() netip.Addr {
	return netip.AddrFrom4([4]byte{byte(a >> 24), byte(a >> 16), byte(a >> 8), byte(a)})
}

// String renders a in dotted-quad form.
func (a Address) String() string {
	return a.Addr().String()
}

// MarshalJSON renders a as its dotted-quad string, for diagnostics output.
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON parses a dotted-quad string back into a.
func (a *Address) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return fmt.Errorf("wire: %w", err)
	}
	parsed, err := AddressFromAddr(addr)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// AddressFromAddr converts an IPv4 netip.Addr into an Address. It returns
// an error if addr is not a valid 4-byte address.
func AddressFromAddr(addr netip.Addr) (Address, error) {
	if !addr.Is4() {
		return 0, fmt.Errorf("wire: %s is not an IPv4 address", addr)
	}
	b := addr.As4()
	return Address(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])), nil
}

// PrefixMask builds the netip.Prefix for (network, netmaskBits) per
// spec.md §9's mandate to convert mask bits into a real prefix rather than
// doing raw bitwise-AND arithmetic against an 8-bit count.
func PrefixMask(network Address, netmaskBits uint8) (netip.Prefix, error) {
	if netmaskBits > 32 {
		return netip.Prefix{}, fmt.Errorf("wire: netmask bits %d out of range", netmaskBits)
	}
	return network.Addr().Prefix(int(netmaskBits))
}

// ErrInvalidHeader is returned when a buffer is too short to hold an OGM
// header, or carries an unsupported protocol version.
var ErrInvalidHeader = errors.New("wire: invalid ogm header")

// ErrTruncated is returned by the streaming datagram parser when a buffer
// ends in the middle of a record it has committed to reading.
var ErrTruncated = errors.New("wire: truncated datagram")

// OGM is an Originator Message, the only routing control packet.
type OGM struct {
	Version    uint8
	Flags      uint8
	Ttl        uint8
	GwFlags    uint8
	Seqno      uint16
	GwPort     uint16
	Originator Address
}

func (o *OGM) DirectLink() bool      { return o.Flags&FlagDirectLink != 0 }
func (o *OGM) Unidirectional() bool  { return o.Flags&FlagUnidirectional != 0 }
func (o *OGM) SetDirectLink(v bool)  { o.setFlag(FlagDirectLink, v) }
func (o *OGM) SetUnidirectional(v bool) { o.setFlag(FlagUnidirectional, v) }

func (o *OGM) setFlag(bit uint8, v bool) {
	if v {
		o.Flags |= bit
	} else {
		o.Flags &^= bit
	}
}

// HNA is a Host Network Announcement.
type HNA struct {
	Network     Address
	NetmaskBits uint8
}

// EncodeOGM serializes o into a freshly-allocated 12-byte buffer.
func EncodeOGM(o OGM) []byte {
	buf := make([]byte, OgmSize)
	PutOGM(buf, o)
	return buf
}

// PutOGM writes o into buf, which must be at least OgmSize bytes.
func PutOGM(buf []byte, o OGM) {
	_ = buf[OgmSize-1]
	buf[0] = o.Version
	buf[1] = o.Flags
	buf[2] = o.Ttl
	buf[3] = o.GwFlags
	binary.BigEndian.PutUint16(buf[4:6], o.Seqno)
	binary.BigEndian.PutUint16(buf[6:8], o.GwPort)
	binary.BigEndian.PutUint32(buf[8:12], uint32(o.Originator))
}

// DecodeOGM parses a 12-byte OGM header from the front of buf.
func DecodeOGM(buf []byte) (OGM, error) {
	if len(buf) < OgmSize {
		return OGM{}, ErrInvalidHeader
	}
	o := OGM{
		Version:    buf[0],
		Flags:      buf[1],
		Ttl:        buf[2],
		GwFlags:    buf[3],
		Seqno:      binary.BigEndian.Uint16(buf[4:6]),
		GwPort:     binary.BigEndian.Uint16(buf[6:8]),
		Originator: Address(binary.BigEndian.Uint32(buf[8:12])),
	}
	if o.Version != BatmanVersion {
		return OGM{}, ErrInvalidHeader
	}
	return o, nil
}

// EncodeHNA serializes h into a freshly-allocated 5-byte buffer.
func EncodeHNA(h HNA) []byte {
	buf := make([]byte, HnaSize)
	PutHNA(buf, h)
	return buf
}

// PutHNA writes h into buf, which must be at least HnaSize bytes.
func PutHNA(buf []byte, h HNA) {
	_ = buf[HnaSize-1]
	binary.BigEndian.PutUint32(buf[0:4], uint32(h.Network))
	buf[4] = h.NetmaskBits
}

// DecodeHNA parses a 5-byte HNA record from the front of buf.
func DecodeHNA(buf []byte) (HNA, error) {
	if len(buf) < HnaSize {
		return HNA{}, ErrTruncated
	}
	return HNA{
		Network:     Address(binary.BigEndian.Uint32(buf[0:4])),
		NetmaskBits: buf[4],
	}, nil
}

// ParseDatagram parses one OGM followed by zero or more HNA records from a
// single UDP payload, per spec.md §4.2's streaming-parser requirement.
func ParseDatagram(buf []byte) (OGM, []HNA, error) {
	ogm, err := DecodeOGM(buf)
	if err != nil {
		return OGM{}, nil, err
	}
	rest := buf[OgmSize:]
	if len(rest)%HnaSize != 0 {
		return OGM{}, nil, ErrTruncated
	}
	var hnas []HNA
	for len(rest) > 0 {
		h, err := DecodeHNA(rest)
		if err != nil {
			return OGM{}, nil, err
		}
		hnas = append(hnas, h)
		rest = rest[HnaSize:]
	}
	return ogm, hnas, nil
}

// MarshalDatagram is the inverse of ParseDatagram: it serializes an OGM
// followed by zero or more HNA records into one payload.
func MarshalDatagram(o OGM, hnas []HNA) []byte {
	buf := make([]byte, OgmSize+len(hnas)*HnaSize)
	PutOGM(buf, o)
	off := OgmSize
	for _, h := range hnas {
		PutHNA(buf[off:off+HnaSize], h)
		off += HnaSize
	}
	return buf
}
