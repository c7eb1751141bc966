package socket

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// InitUDPSocket opens a UDP socket with broadcast permitted. onData fires
// for every received datagram.
func (e *Engine) InitUDPSocket(port int, onData DataFunc) (int, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return 0, fmt.Errorf("socket: listen udp: %w", err)
	}
	if err := enableBroadcast(conn); err != nil {
		_ = conn.Close()
		return 0, fmt.Errorf("socket: enable broadcast: %w", err)
	}

	e.mu.Lock()
	e.udpConn = conn
	e.onUDPData = onData
	e.mu.Unlock()

	boundPort := conn.LocalAddr().(*net.UDPAddr).Port

	e.wg.Add(1)
	go e.udpReadLoop(conn, onData)

	return boundPort, nil
}

func (e *Engine) udpReadLoop(conn *net.UDPConn, onData DataFunc) {
	defer e.wg.Done()
	buf := make([]byte, ReceiveBufferSize)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-e.down:
				return
			default:
			}
			e.log.WithError(err).Debug("udp read failed")
			return
		}
		if n > 0 && onData != nil {
			datagram := make([]byte, n)
			copy(datagram, buf[:n])
			onData(datagram, addr.String())
		}
	}
}

// SendUDPBroadcast synchronously sends data to the broadcast address on
// port. Returns bytes sent, or -1 on failure.
func (e *Engine) SendUDPBroadcast(port int, data []byte) (int, error) {
	addr := &net.UDPAddr{IP: net.IPv4bcast, Port: port}
	n, err := sendUDP(e.udpSocket(), addr, data)
	if err != nil {
		return -1, fmt.Errorf("socket: send udp broadcast: %w", err)
	}
	return n, nil
}

// SendUDP synchronously sends data to host:port. Returns bytes sent, or -1
// on failure.
func (e *Engine) SendUDP(host string, port int, data []byte) (int, error) {
	ip := net.ParseIP(host)
	if ip == nil {
		resolved, err := net.ResolveIPAddr("ip4", host)
		if err != nil {
			return -1, fmt.Errorf("socket: resolve udp host: %w", err)
		}
		ip = resolved.IP
	}
	addr := &net.UDPAddr{IP: ip, Port: port}
	n, err := sendUDP(e.udpSocket(), addr, data)
	if err != nil {
		return -1, fmt.Errorf("socket: send udp: %w", err)
	}
	return n, nil
}

func (e *Engine) udpSocket() *net.UDPConn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.udpConn
}

func sendUDP(conn *net.UDPConn, addr *net.UDPAddr, data []byte) (int, error) {
	if conn == nil {
		// A socket opened solely to send (no InitUDPSocket call) is allowed:
		// every announcement datagram is self-contained.
		ephemeral, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
		if err != nil {
			return 0, err
		}
		defer ephemeral.Close()
		if err := enableBroadcast(ephemeral); err != nil {
			return 0, err
		}
		return ephemeral.WriteToUDP(data, addr)
	}
	return conn.WriteToUDP(data, addr)
}

// enableBroadcast sets SO_BROADCAST on conn's underlying file descriptor.
// The stdlib net package exposes no API for this option, so the raw
// syscall is reached through SyscallConn.
func enableBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
