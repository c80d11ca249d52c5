package udpsession

import (
	"errors"
	"fmt"
	"net"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ErrSocket is returned for datagram socket setup failures.
var ErrSocket = errors.New("udpsession: socket error")

// newAcceleratedSocket binds an IPv4 UDP socket to 0.0.0.0:0 and
// discovers the local address the kernel would use to reach the TCP
// peer: it transiently connects the socket to the peer, reads the
// socket name, then disconnects (AF_UNSPEC) so the socket can keep
// receiving from any source.
func newAcceleratedSocket(tcpPeer *net.TCPAddr) (*net.UDPConn, *net.UDPAddr, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrSocket, err)
	}

	local, err := discoverLocalAddr(conn, tcpPeer)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, local, nil
}

// discoverLocalAddr performs the connect/getsockname/disconnect dance.
func discoverLocalAddr(conn *net.UDPConn, tcpPeer *net.TCPAddr) (*net.UDPAddr, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSocket, err)
	}

	peer4 := tcpPeer.IP.To4()
	if peer4 == nil {
		return nil, fmt.Errorf("%w: peer is not IPv4", ErrSocket)
	}
	sa := &unix.SockaddrInet4{Port: tcpPeer.Port}
	copy(sa.Addr[:], peer4)

	var local *net.UDPAddr
	var opErr error
	err = raw.Control(func(fd uintptr) {
		if opErr = unix.Connect(int(fd), sa); opErr != nil {
			return
		}
		name, err := unix.Getsockname(int(fd))
		if err != nil {
			opErr = err
			return
		}
		inet4, ok := name.(*unix.SockaddrInet4)
		if !ok {
			opErr = fmt.Errorf("unexpected sockaddr family")
			return
		}
		local = &net.UDPAddr{
			IP:   net.IPv4(inet4.Addr[0], inet4.Addr[1], inet4.Addr[2], inet4.Addr[3]),
			Port: inet4.Port,
		}
		opErr = disconnectFD(int(fd))
	})
	if err == nil {
		err = opErr
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSocket, err)
	}
	return local, nil
}

// disconnectFD dissolves the socket's peer association by connecting
// to an AF_UNSPEC address, which the x/sys Sockaddr API cannot
// express, so we issue the raw syscall.
func disconnectFD(fd int) error {
	var rsa unix.RawSockaddrAny
	rsa.Addr.Family = unix.AF_UNSPEC
	_, _, errno := unix.Syscall(
		unix.SYS_CONNECT,
		uintptr(fd),
		uintptr(unsafe.Pointer(&rsa)),
		uintptr(unix.SizeofSockaddrAny),
	)
	if errno != 0 {
		return errno
	}
	return nil
}
