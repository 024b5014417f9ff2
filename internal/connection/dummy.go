package connection

import "time"

// Dummy — соединение-заглушка: читает пусто, запись отбрасывает.
// Подставляется вместо порта данных, когда он не используется.
type Dummy struct{}

func (Dummy) Read(int) ([]byte, error)              { return nil, nil }
func (Dummy) ReadUntil([]byte, int) ([]byte, error) { return nil, nil }
func (Dummy) ReadReady() bool                       { return false }
func (Dummy) ReadAll() ([]byte, error)              { return nil, nil }
func (Dummy) Write(p []byte) (int, error)           { return len(p), nil }
func (Dummy) ResetInputBuffer() error               { return nil }
func (Dummy) SetTimeout(time.Duration) error        { return nil }
func (Dummy) Timeout() time.Duration                { return 0 }
func (Dummy) SetBaud(int) error                     { return nil }
func (Dummy) Baud() int                             { return 0 }
func (Dummy) Name() string                          { return "dummy" }
func (Dummy) Kind() Kind                            { return KindDummy }
func (Dummy) Close() error                          { return nil }
