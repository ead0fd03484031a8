//go:build linux

// Package poller wraps a Linux epoll instance as a cooperative, zero-
// timeout readiness source: Wait never blocks, returning whatever fds are
// currently ready (possibly none). This is the redesigned counterpart of
// the teacher's EpollServer, which blocks forever (timeout -1) inside
// Wait; a single-threaded endpoint that also owns timers, housekeeping and
// an ECS frame loop cannot afford a blocking poll, so every accept/read/
// write poller here is driven by the endpoint's own tick instead.
package poller

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// Events requests readiness for.
const (
	In  = unix.EPOLLIN
	Out = unix.EPOLLOUT
)

// SetTCPOptions tunes a connection socket for many concurrent low-latency
// connections, mirroring the teacher's netpoll socket tuning.
func SetTCPOptions(conn *net.TCPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var setErr error
	err = raw.Control(func(fd uintptr) {
		f := int(fd)
		unix.SetsockoptInt(f, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		unix.SetsockoptInt(f, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
		unix.SetsockoptInt(f, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, 30)
		unix.SetsockoptInt(f, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, 10)
		unix.SetsockoptInt(f, unix.IPPROTO_TCP, unix.TCP_KEEPCNT, 3)
		unix.SetsockoptInt(f, unix.SOL_SOCKET, unix.SO_RCVBUF, 262144)
		unix.SetsockoptInt(f, unix.SOL_SOCKET, unix.SO_SNDBUF, 262144)
	})
	if err != nil {
		return err
	}
	return setErr
}

// CreateOptimizedListener binds a TCP listener with SO_REUSEADDR and
// SO_REUSEPORT set before bind, so multiple endpoint processes can share a
// port.
func CreateOptimizedListener(addr string) (net.Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, err
	}

	unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)

	sa := &unix.SockaddrInet4{Port: tcpAddr.Port}
	if ip := tcpAddr.IP.To4(); ip != nil {
		copy(sa.Addr[:], ip)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Listen(fd, 32768); err != nil {
		unix.Close(fd)
		return nil, err
	}

	file := os.NewFile(uintptr(fd), "neutronium-listener")
	defer file.Close()
	l, err := net.FileListener(file)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Poller is a single-threaded, level-triggered epoll readiness source.
type Poller struct {
	epfd   int
	events []unix.EpollEvent
}

// New creates an epoll instance sized to hold up to maxEvents ready fds per
// Wait call.
func New(maxEvents int) (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	return &Poller{epfd: epfd, events: make([]unix.EpollEvent, maxEvents)}, nil
}

// Close releases the epoll instance.
func (p *Poller) Close() error { return unix.Close(p.epfd) }

// Add registers fd for the given event mask, level-triggered.
func (p *Poller) Add(fd int, mask uint32) error {
	ev := unix.EpollEvent{Events: mask, Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// Modify updates the event mask registered for fd.
func (p *Poller) Modify(fd int, mask uint32) error {
	ev := unix.EpollEvent{Events: mask, Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// Remove deregisters fd.
func (p *Poller) Remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait returns the fds ready for their registered events, polling with a
// zero timeout: it never blocks, returning an empty (non-nil) slice when
// nothing is ready. The caller's main loop supplies the only blocking or
// sleeping behavior it wants.
func (p *Poller) Wait() ([]int, error) {
	n, err := unix.EpollWait(p.epfd, p.events, 0)
	if err != nil {
		if err == unix.EINTR {
			return []int{}, nil
		}
		return nil, fmt.Errorf("epoll_wait: %w", err)
	}
	ready := make([]int, 0, n)
	for i := 0; i < n; i++ {
		ready = append(ready, int(p.events[i].Fd))
	}
	return ready, nil
}
