package message

import "fmt"

// ErrorCode — код ошибки в ответе ERR
type ErrorCode int

const (
	ErrNoStart         ErrorCode = 1
	ErrNoReadWrite     ErrorCode = 2
	ErrIncomplete      ErrorCode = 3
	ErrChecksum        ErrorCode = 4
	ErrTalker          ErrorCode = 5
	ErrMessageType     ErrorCode = 6
	ErrField           ErrorCode = 7
	ErrValue           ErrorCode = 8
	ErrFlashLocked     ErrorCode = 9
	ErrUnexpectedChar  ErrorCode = 10
	ErrFeatureDisabled ErrorCode = 11
)

var errorCodeNames = map[ErrorCode]string{
	ErrNoStart:         "no start character",
	ErrNoReadWrite:     "missing r/w for config",
	ErrIncomplete:      "incomplete message",
	ErrChecksum:        "invalid checksum",
	ErrTalker:          "invalid talker code",
	ErrMessageType:     "invalid message type",
	ErrField:           "invalid field",
	ErrValue:           "invalid value",
	ErrFlashLocked:     "flash locked",
	ErrUnexpectedChar:  "unexpected character",
	ErrFeatureDisabled: "feature disabled",
}

func (c ErrorCode) String() string {
	if s, ok := errorCodeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("error %d", int(c))
}

// IsCommunication — ошибка повреждения/потери байтов в канале; такие команды повторяются.
// Остальные коды означают ошибку содержимого и возвращаются вызывающему сразу.
func (c ErrorCode) IsCommunication() bool {
	switch c {
	case ErrNoStart, ErrIncomplete, ErrChecksum:
		return true
	}
	return false
}
