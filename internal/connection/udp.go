package connection

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// Ожидание одной датаграммы при нулевом таймауте
const udpMinWait = time.Millisecond

// UDP — соединение с устройством по UDP: локальный порт привязан, удалённый адрес фиксирован.
// Датаграммы складываются в буфер, Read отдаёт из него по байтам.
type UDP struct {
	conn    *net.UDPConn
	remote  *net.UDPAddr
	timeout time.Duration
	pending []byte
	buf     []byte
}

// OpenUDP привязывает localPort и направляет запись на remote (host:port)
func OpenUDP(remote string, localPort int, timeout time.Duration) (*UDP, error) {
	raddr, err := net.ResolveUDPAddr("udp", remote)
	if err != nil {
		return nil, fmt.Errorf("udp resolve %s: %w", remote, err)
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: localPort})
	if err != nil {
		return nil, fmt.Errorf("udp listen :%d: %w", localPort, err)
	}
	return &UDP{
		conn:    conn,
		remote:  raddr,
		timeout: timeout,
		buf:     make([]byte, 65536),
	}, nil
}

// LocalAddr возвращает привязанный локальный адрес
func (u *UDP) LocalAddr() *net.UDPAddr {
	return u.conn.LocalAddr().(*net.UDPAddr)
}

// fill принимает одну датаграмму в буфер; false — за wait ничего не пришло
func (u *UDP) fill(wait time.Duration) (bool, error) {
	if u.conn == nil {
		return false, ErrClosed
	}
	if wait < udpMinWait {
		wait = udpMinWait
	}
	if err := u.conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		return false, err
	}
	k, _, err := u.conn.ReadFromUDP(u.buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return false, nil
		}
		return false, fmt.Errorf("udp read %s: %w", u.remote, err)
	}
	u.pending = append(u.pending, u.buf[:k]...)
	return true, nil
}

// Read читает до n байт, ожидая датаграммы не дольше таймаута
func (u *UDP) Read(n int) ([]byte, error) {
	if u.conn == nil {
		return nil, ErrClosed
	}
	deadline := time.Now().Add(u.timeout)
	for len(u.pending) < n {
		wait := time.Until(deadline)
		if wait <= 0 && !u.readable() {
			break
		}
		got, err := u.fill(wait)
		if err != nil {
			return takePending(&u.pending, n), err
		}
		if !got {
			break
		}
	}
	return takePending(&u.pending, n), nil
}

// ReadUntil читает до delim или limit байт
func (u *UDP) ReadUntil(delim []byte, limit int) ([]byte, error) {
	return readUntil(u.Read, delim, limit)
}

// ReadReady — в буфере или в сокете есть данные
func (u *UDP) ReadReady() bool {
	if u.conn == nil {
		return false
	}
	return len(u.pending) > 0 || u.readable()
}

// ReadAll забирает все уже пришедшие датаграммы
func (u *UDP) ReadAll() ([]byte, error) {
	if u.conn == nil {
		return nil, ErrClosed
	}
	for u.readable() {
		got, err := u.fill(udpMinWait)
		if err != nil {
			return takePending(&u.pending, len(u.pending)), err
		}
		if !got {
			break
		}
	}
	return takePending(&u.pending, len(u.pending)), nil
}

// Write отправляет датаграмму на удалённый адрес
func (u *UDP) Write(p []byte) (int, error) {
	if u.conn == nil {
		return 0, ErrClosed
	}
	n, err := u.conn.WriteToUDP(p, u.remote)
	if err != nil {
		return n, fmt.Errorf("udp write %s: %w", u.remote, err)
	}
	return n, nil
}

// ResetInputBuffer вычитывает и отбрасывает всё пришедшее
func (u *UDP) ResetInputBuffer() error {
	_, err := u.ReadAll()
	u.pending = nil
	return err
}

// SetTimeout меняет таймаут чтения
func (u *UDP) SetTimeout(d time.Duration) error {
	u.timeout = d
	return nil
}

// Timeout возвращает таймаут чтения
func (u *UDP) Timeout() time.Duration { return u.timeout }

// SetBaud ничего не делает
func (u *UDP) SetBaud(int) error { return nil }

// Baud — 0 для UDP
func (u *UDP) Baud() int { return 0 }

// Name — удалённый адрес
func (u *UDP) Name() string { return u.remote.String() }

// Kind — KindUDP
func (u *UDP) Kind() Kind { return KindUDP }

// Close закрывает сокет
func (u *UDP) Close() error {
	if u.conn == nil {
		return nil
	}
	err := u.conn.Close()
	u.conn = nil
	u.pending = nil
	return err
}
