// Package socket opens UDP sockets for the media relays.
package socket

import (
	"errors"
	"net"
	"os"
	"runtime"
	"strconv"
	"syscall"

	"github.com/giongto35/cloud-classroom/pkg/network"
)

const listenAttempts = 42
const udpBufferSize = 4 * 1024 * 1024

var ErrNoPorts = errors.New("no available ports")

// ListenUDP binds the host:port address with big socket buffers.
// With roll set, a busy port is swapped for the next free one.
func ListenUDP(address string, roll bool) (*net.UDPConn, error) {
	host, port := network.Address(address).SplitHostPort()
	conn, err := listen(host, port)
	if err == nil || !roll || !IsPortBusyError(err) || port == 0 {
		return conn, err
	}
	for i := port + 1; i < port+listenAttempts; i++ {
		if conn, err = listen(host, i); err == nil {
			return conn, nil
		}
	}
	return nil, ErrNoPorts
}

func listen(host string, port int) (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	l, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, err
	}
	_ = l.SetReadBuffer(udpBufferSize)
	_ = l.SetWriteBuffer(udpBufferSize)
	return l, nil
}

// IsPortBusyError tests if the given error is one of
// the port busy errors.
func IsPortBusyError(err error) bool {
	if err == nil {
		return false
	}
	var eOsSyscall *os.SyscallError
	if !errors.As(err, &eOsSyscall) {
		return false
	}
	var errErrno syscall.Errno
	if !errors.As(eOsSyscall, &errErrno) {
		return false
	}
	if errErrno == syscall.EADDRINUSE {
		return true
	}
	const WSAEADDRINUSE = 10048
	if runtime.GOOS == "windows" && errErrno == WSAEADDRINUSE {
		return true
	}
	return false
}
