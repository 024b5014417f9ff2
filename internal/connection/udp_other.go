//go:build !linux

package connection

// readable на прочих ОС: короткая попытка чтения, принятое остаётся в буфере
func (u *UDP) readable() bool {
	got, err := u.fill(udpMinWait)
	return err == nil && got
}
