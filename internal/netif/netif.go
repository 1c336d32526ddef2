// Package netif is the default internal/collab.NetworkInterfaces: it
// asks the OS routing table which local interface and address would be
// used to reach a destination, by opening a throwaway UDP "connection"
// (no packets are sent) and reading back the assigned local address.
package netif

import (
	"net"

	"github.com/coachpo/genacp/internal/collab"
)

// Resolver is the default collab.NetworkInterfaces.
type Resolver struct{}

// New constructs a Resolver.
func New() *Resolver { return &Resolver{} }

// InterfaceForDestination dials a UDP socket toward addr to learn which
// local address the kernel would route through, then maps that address
// back to its owning interface.
func (Resolver) InterfaceForDestination(addr net.Addr) (net.Interface, net.IP, bool) {
	conn, err := net.Dial("udp", addr.String())
	if err != nil {
		return net.Interface{}, nil, false
	}
	defer conn.Close()

	local, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return net.Interface{}, nil, false
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return net.Interface{}, local.IP, false
	}
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if ok && ipNet.IP.Equal(local.IP) {
				return iface, local.IP, true
			}
		}
	}
	return net.Interface{}, local.IP, true
}
