//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package netsync

import (
	"net"
	"time"
)

// pollWait 没有原始 recvfrom 的平台上，以极短的读超时近似非阻塞读取。
// 已过期的超时会在读取前直接失败，所以不能用 time.Now()。
const pollWait = time.Millisecond

func (t *UDPTransport) recvNonblock(buf []byte) (int, *net.UDPAddr, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(pollWait)); err != nil {
		return 0, nil, err
	}
	return t.conn.ReadFromUDP(buf)
}
