package bus

import (
	"errors"
	"fmt"
)

// ResponseCode is the first byte of every device response.
type ResponseCode int

const (
	CodeSuccess ResponseCode = 1
	CodeSyntax  ResponseCode = 2
	CodePending ResponseCode = 254 // still processing; ask again
	CodeNoData  ResponseCode = 255
)

func (c ResponseCode) String() string {
	switch c {
	case CodeSuccess:
		return "success"
	case CodeSyntax:
		return "syntax_error"
	case CodePending:
		return "pending"
	case CodeNoData:
		return "no_data"
	case 0:
		return "none"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

var (
	ErrTimeout      = errors.New("bus: transaction timeout")
	ErrDisconnected = errors.New("bus: not connected")
	ErrClosed       = errors.New("bus: arbiter closed")
	ErrSyntax       = errors.New("bus: device reported syntax error")
	ErrPending      = errors.New("bus: device still processing")
	ErrNoData       = errors.New("bus: device has no data")
	ErrUnknownCode  = errors.New("bus: unknown response code")
	ErrEmptyFrame   = errors.New("bus: empty response frame")
)

// Result is the outcome of one transaction. OK is true only for CodeSuccess.
type Result struct {
	OK   bool
	Code ResponseCode
	Text string
	Err  error
}

// TimedOut reports whether the caller gave up waiting on the transaction.
func (r Result) TimedOut() bool {
	return errors.Is(r.Err, ErrTimeout)
}

// decodeFrame splits a raw response buffer into code and printable text.
func decodeFrame(buf []byte) Result {
	if len(buf) == 0 {
		return Result{Err: ErrEmptyFrame}
	}
	code := ResponseCode(buf[0])
	text := make([]byte, 0, len(buf)-1)
	for _, b := range buf[1:] {
		if b >= 32 && b <= 126 {
			text = append(text, b)
		}
	}
	res := Result{Code: code, Text: string(text)}
	switch code {
	case CodeSuccess:
		res.OK = true
	case CodeSyntax:
		res.Err = ErrSyntax
	case CodePending:
		res.Err = ErrPending
	case CodeNoData:
		res.Err = ErrNoData
	default:
		res.Err = fmt.Errorf("%w: %d", ErrUnknownCode, int(code))
	}
	return res
}
