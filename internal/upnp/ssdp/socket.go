package ssdp

import (
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
)

// Socket is a UDP socket for sending M-SEARCH requests and receiving
// responses and, while the multicast group is joined, advertisements.
type Socket struct {
	mu     sync.Mutex
	conn   *net.UDPConn
	packet *ipv4.PacketConn
	group  *net.UDPAddr
	joined bool
	closed bool
}

// Open binds a UDP socket on the given local address ("ip:port", port 0 for
// ephemeral; empty for all interfaces).
func Open(bindAddr string) (*Socket, error) {
	if bindAddr == "" {
		bindAddr = "0.0.0.0:0"
	}
	laddr, err := net.ResolveUDPAddr("udp4", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve bind address: %w", err)
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, fmt.Errorf("bind ssdp socket: %w", err)
	}
	group, err := net.ResolveUDPAddr("udp4", MulticastAddr)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("resolve multicast group: %w", err)
	}
	return &Socket{
		conn:   conn,
		packet: ipv4.NewPacketConn(conn),
		group:  group,
	}, nil
}

// JoinGroup acquires multicast reception by joining the SSDP group.
// Exclusive per socket; a second join while held is an error.
func (s *Socket) JoinGroup(ifi *net.Interface) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("ssdp socket closed")
	}
	if s.joined {
		return fmt.Errorf("multicast group already joined")
	}
	if err := s.packet.JoinGroup(ifi, &net.UDPAddr{IP: s.group.IP}); err != nil {
		return fmt.Errorf("join multicast group: %w", err)
	}
	s.joined = true
	return nil
}

// LeaveGroup releases multicast reception. Safe to call when not joined.
func (s *Socket) LeaveGroup(ifi *net.Interface) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.joined || s.closed {
		return
	}
	_ = s.packet.LeaveGroup(ifi, &net.UDPAddr{IP: s.group.IP})
	s.joined = false
}

// Joined reports whether multicast reception is currently held.
func (s *Socket) Joined() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joined
}

// Send transmits a datagram to the SSDP multicast group.
func (s *Socket) Send(payload []byte) error {
	_, err := s.conn.WriteToUDP(payload, s.group)
	return err
}

// SetReadDeadline bounds subsequent Read calls.
func (s *Socket) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

// Read receives one datagram.
func (s *Socket) Read(buf []byte) (int, *net.UDPAddr, error) {
	return s.conn.ReadFromUDP(buf)
}

// Close releases the socket. Idempotent.
func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.joined = false
	return s.conn.Close()
}
