//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package netsync

import (
	"net"
	"syscall"
)

// recvNonblock 运行时已把套接字设为非阻塞，回调返回 true 表示不等待可读；
// 没有数据时 recvfrom 返回 EAGAIN
func (t *UDPTransport) recvNonblock(buf []byte) (int, *net.UDPAddr, error) {
	var (
		n    int
		from syscall.Sockaddr
		rerr error
	)
	err := t.raw.Read(func(fd uintptr) bool {
		n, from, rerr = syscall.Recvfrom(int(fd), buf, 0)
		return true
	})
	if err != nil {
		return 0, nil, err
	}
	if rerr != nil {
		return 0, nil, rerr
	}
	return n, udpAddrOf(from), nil
}

func udpAddrOf(sa syscall.Sockaddr) *net.UDPAddr {
	switch a := sa.(type) {
	case *syscall.SockaddrInet4:
		return &net.UDPAddr{IP: net.IPv4(a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3]), Port: a.Port}
	case *syscall.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, a.Addr[:])
		return &net.UDPAddr{IP: ip, Port: a.Port}
	}
	return nil
}
