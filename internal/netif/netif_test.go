package netif

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInterfaceForDestinationLoopback(t *testing.T) {
	r := New()
	iface, local, ok := r.InterfaceForDestination(&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 80})
	require.True(t, ok)
	require.NotNil(t, local)
	require.True(t, local.IsLoopback())
	_ = iface
}

func TestInterfaceForDestinationReturnsOwningInterface(t *testing.T) {
	r := New()
	iface, local, ok := r.InterfaceForDestination(&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 53})
	require.True(t, ok)
	addrs, err := iface.Addrs()
	require.NoError(t, err)

	var found bool
	for _, a := range addrs {
		if ipNet, ok := a.(*net.IPNet); ok && ipNet.IP.Equal(local) {
			found = true
			break
		}
	}
	require.True(t, found, "resolved interface must own the resolved local address")
}
