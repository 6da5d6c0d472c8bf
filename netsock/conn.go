// Package netsock is the concrete UDP broadcast substrate (spec.md §6.1):
// a UDP socket opened through net.ListenConfig on port 4305, with
// SO_BROADCAST set and
// configured through golang.org/x/net/ipv4, the way
// povsister-dns-circuit/ospf/conn.go configures its raw OSPF socket and the
// teacher's sys_linux.go/sys_darwin.go/sys_windows.go split configures
// per-OS link state. It builds the agent.Capability a production binary
// hands to agent.NewEngine.
package netsock

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"net/netip"
	"syscall"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/batmaniv/batmand/agent"
)

// Port is the fixed BATMAN IV OGM/HNA port (spec.md §6).
const Port = 4305

// maxDatagram is large enough for an OGM header plus a generous run of HNA
// records; spec.md never bounds HNA count explicitly.
const maxDatagram = 2048

// Conn is a bound, broadcast-enabled UDP socket on one interface.
type Conn struct {
	udp   *net.UDPConn
	pc    *ipv4.PacketConn
	bcast *net.UDPAddr
	iface *net.Interface
}

// NewBroadcastSubstrate binds a broadcast-enabled UDP socket on Port on all
// local IPv4 addresses (the socket is not bound to ifaceName itself) and
// sends to ifaceName's directed-broadcast address. It returns both the raw
// Conn (for ReadLoop/Close) and the agent.Capability built over it.
func NewBroadcastSubstrate(ifaceName string) (*Conn, agent.Capability, error) {
	ifi, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, agent.Capability{}, fmt.Errorf("netsock: interface %q: %w", ifaceName, err)
	}

	bcastAddr, err := broadcastAddress(ifi)
	if err != nil {
		return nil, agent.Capability{}, err
	}

	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			ctlErr := c.Control(func(fd uintptr) {
				sockErr = setBroadcastOption(fd)
			})
			if ctlErr != nil {
				return ctlErr
			}
			return sockErr
		},
	}

	pconn, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", Port))
	if err != nil {
		return nil, agent.Capability{}, fmt.Errorf("netsock: listen udp4 :%d: %w", Port, err)
	}
	udp, ok := pconn.(*net.UDPConn)
	if !ok {
		pconn.Close()
		return nil, agent.Capability{}, fmt.Errorf("netsock: unexpected packet conn type %T", pconn)
	}

	pc := ipv4.NewPacketConn(udp)
	if err := pc.SetTTL(1); err != nil {
		udp.Close()
		return nil, agent.Capability{}, fmt.Errorf("netsock: set ttl: %w", err)
	}
	if err := pc.SetMulticastLoopback(false); err != nil {
		udp.Close()
		return nil, agent.Capability{}, fmt.Errorf("netsock: disable loopback: %w", err)
	}

	conn := &Conn{
		udp:   udp,
		pc:    pc,
		bcast: &net.UDPAddr{IP: bcastAddr.AsSlice(), Port: Port},
		iface: ifi,
	}

	cap := agent.Capability{
		Broadcast:     conn.broadcast,
		ScheduleAfter: func(d time.Duration, cb func()) { time.AfterFunc(d, cb) },
		Now:           time.Now,
		RandomUniform: func(a, b float64) float64 {
			if a == b {
				return a
			}
			return a + rand.Float64()*(b-a)
		},
	}
	return conn, cap, nil
}

func (c *Conn) broadcast(payload []byte) error {
	_, err := c.udp.WriteToUDP(payload, c.bcast)
	return err
}

// ReadLoop blocks reading datagrams and invoking onDatagram for each, until
// Close is called (which unblocks the pending read with a closed-conn
// error). The payload passed to onDatagram is a private copy; the read
// buffer is reused across iterations.
func (c *Conn) ReadLoop(onDatagram func(src netip.Addr, payload []byte)) error {
	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := c.udp.ReadFromUDP(buf)
		if err != nil {
			return err
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		onDatagram(addr.AddrPort().Addr(), payload)
	}
}

// Close releases the underlying socket.
func (c *Conn) Close() error {
	return c.udp.Close()
}

// broadcastAddress computes ifi's IPv4 directed-broadcast address from its
// first configured IPv4 address and netmask.
func broadcastAddress(ifi *net.Interface) (netip.Addr, error) {
	addrs, err := ifi.Addrs()
	if err != nil {
		return netip.Addr{}, fmt.Errorf("netsock: interface addrs: %w", err)
	}
	addr, ok := computeBroadcast(addrs)
	if !ok {
		return netip.Addr{}, fmt.Errorf("netsock: interface %s has no IPv4 address", ifi.Name)
	}
	return addr, nil
}

// computeBroadcast is the pure directed-broadcast-address computation:
// first IPv4 (address, netmask) pair found wins, OR'd against the inverted
// mask. Split out from broadcastAddress so it can be exercised without a
// real network interface.
func computeBroadcast(addrs []net.Addr) (netip.Addr, bool) {
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipnet.IP.To4()
		if ip4 == nil {
			continue
		}
		mask := ipnet.Mask
		if len(mask) == 16 {
			mask = mask[12:]
		}
		bcast := make(net.IP, len(ip4))
		for i := range ip4 {
			bcast[i] = ip4[i] | ^mask[i]
		}
		addr, ok := netip.AddrFromSlice(bcast)
		if !ok {
			continue
		}
		return addr.Unmap(), true
	}
	return netip.Addr{}, false
}
