package netsync

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
)

// Transport 尽力而为、无序、不可靠的数据报通道，连接到唯一固定的对端
type Transport interface {
	// Send 发送一条数据报到对端
	Send(b []byte) error
	// TryReceive 非阻塞地取出一条数据报；没有时立即返回 ok=false
	TryReceive(buf []byte) (n int, from net.Addr, ok bool)
	// Peer 固定对端地址
	Peer() net.Addr
	Close() error
}

type datagram struct {
	data []byte
	from net.Addr
}

// UDPTransport 基于 UDP 的传输。没有后台协程：TryReceive 直接对套接字做一次非阻塞读取，
// 没有数据时立即返回，内核接收缓冲就是唯一的排队点。
type UDPTransport struct {
	conn *net.UDPConn
	raw  syscall.RawConn
	peer *net.UDPAddr
}

// ListenUDP 在 local 上绑定并以 peer 作为唯一对端
func ListenUDP(local, peer string) (*UDPTransport, error) {
	laddr, err := net.ResolveUDPAddr("udp", local)
	if err != nil {
		return nil, fmt.Errorf("resolve local %q: %w", local, err)
	}
	paddr, err := net.ResolveUDPAddr("udp", peer)
	if err != nil {
		return nil, fmt.Errorf("resolve peer %q: %w", peer, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", local, err)
	}
	raw, err := conn.SyscallConn()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("raw conn %s: %w", local, err)
	}
	return &UDPTransport{conn: conn, raw: raw, peer: paddr}, nil
}

// LocalAddr 实际绑定的地址（local 端口为 0 时有用）
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

func (t *UDPTransport) Send(b []byte) error {
	_, err := t.conn.WriteToUDP(b, t.peer)
	return err
}

// TryReceive 读取失败（包括套接字已关闭）一律视为没有数据
func (t *UDPTransport) TryReceive(buf []byte) (int, net.Addr, bool) {
	n, from, err := t.recvNonblock(buf)
	if err != nil || from == nil {
		return 0, nil, false
	}
	return n, from, true
}

func (t *UDPTransport) Peer() net.Addr { return t.peer }

func (t *UDPTransport) Close() error {
	err := t.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// MemAddr 内存传输的地址
type MemAddr string

func (a MemAddr) Network() string { return "mem" }
func (a MemAddr) String() string  { return string(a) }

// MemoryTransport 进程内的传输端点，用于测试与单进程运行
type MemoryTransport struct {
	addr MemAddr
	peer *MemoryTransport

	mu     sync.Mutex
	queue  []datagram
	closed bool
}

// NewMemoryPipe 创建一对互为对端的内存传输
func NewMemoryPipe(a, b string) (*MemoryTransport, *MemoryTransport) {
	ta := &MemoryTransport{addr: MemAddr(a)}
	tb := &MemoryTransport{addr: MemAddr(b)}
	ta.peer, tb.peer = tb, ta
	return ta, tb
}

func (t *MemoryTransport) Send(b []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return net.ErrClosed
	}
	t.peer.Inject(b, t.addr)
	return nil
}

// Inject 直接放入一条数据报，from 为任意来源地址
func (t *MemoryTransport) Inject(b []byte, from net.Addr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.queue = append(t.queue, datagram{data: append([]byte(nil), b...), from: from})
}

func (t *MemoryTransport) TryReceive(buf []byte) (int, net.Addr, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.queue) == 0 {
		return 0, nil, false
	}
	d := t.queue[0]
	t.queue[0] = datagram{}
	t.queue = t.queue[1:]
	return copy(buf, d.data), d.from, true
}

// Pending 尚未被读取的数据报数量
func (t *MemoryTransport) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

func (t *MemoryTransport) Peer() net.Addr { return t.peer.addr }

func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.queue = nil
	return nil
}
