package bus

import (
	"fmt"

	"github.com/reef-pi/rpi/i2c"
)

// Transport is the raw request/response bus. Implementations are not
// required to be safe for concurrent use; the Arbiter serializes access.
type Transport interface {
	WriteBytes(addr byte, value []byte) error
	ReadBytes(addr byte, num int) ([]byte, error)
	Close() error
}

// Opener creates a fresh Transport. The Arbiter calls it lazily, so a bus that
// is missing at startup is retried on later use instead of killing the process.
type Opener func() (Transport, error)

// OpenI2C opens the Raspberry Pi I2C bus.
func OpenI2C() (Transport, error) {
	b, err := i2c.New()
	if err != nil {
		return nil, fmt.Errorf("open i2c bus: %w", err)
	}
	return b, nil
}

// OpenNone is used on hosts without a bus; every transaction fails as disconnected.
func OpenNone() (Transport, error) {
	return nil, ErrDisconnected
}
