//go:build linux

package connection

import "golang.org/x/sys/unix"

// readable проверяет сокет через poll(2) без ожидания
func (u *UDP) readable() bool {
	raw, err := u.conn.SyscallConn()
	if err != nil {
		return false
	}
	ready := false
	_ = raw.Control(func(fd uintptr) {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, 0)
		ready = err == nil && n > 0 && fds[0].Revents&unix.POLLIN != 0
	})
	return ready
}
