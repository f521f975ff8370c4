package gpio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

const consumer = "nutrient-mixer"

// ErrUnavailable is returned by lines on hosts without a GPIO chip.
var ErrUnavailable = errors.New("gpio: line unavailable")

// Chip requests lines from one gpiochip character device. Every line is
// claimed once at startup and held until Close.
type Chip struct {
	name  string
	clock eventClock
}

func NewChip(name string) *Chip {
	return &Chip{name: name, clock: eventClock{now: time.Now}}
}

// eventClock maps kernel event timestamps, which count from an arbitrary
// monotonic origin, onto wall time. The origin is fixed by the first event
// so differences between events are kept exactly.
type eventClock struct {
	once sync.Once
	base time.Time
	now  func() time.Time
}

func (c *eventClock) at(mono time.Duration) time.Time {
	c.once.Do(func() { c.base = c.now().Add(-mono) })
	return c.base.Add(mono)
}

// Output is a relay driver line. Polarity is fixed when the line is requested,
// so Set always takes the logical state.
type Output struct {
	pin  int
	line *gpiocdev.Line
}

// Output claims pin as an output that starts logically off.
func (c *Chip) Output(pin int, activeLow bool) (*Output, error) {
	opts := []gpiocdev.LineReqOption{
		gpiocdev.WithConsumer(consumer),
		gpiocdev.AsOutput(0),
	}
	if activeLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	l, err := gpiocdev.RequestLine(c.name, pin, opts...)
	if err != nil {
		return nil, fmt.Errorf("request output %s:%d: %w", c.name, pin, err)
	}
	return &Output{pin: pin, line: l}, nil
}

func (o *Output) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := o.line.SetValue(v); err != nil {
		return fmt.Errorf("set pin %d: %w", o.pin, err)
	}
	return nil
}

func (o *Output) Close() error {
	return o.line.Close()
}

// EdgeInput is a flow meter input watched for falling edges.
type EdgeInput struct {
	line *gpiocdev.Line
}

// Edges claims pin as a pulled-up input and calls fn for every falling edge.
// fn runs on the gpiocdev event goroutine and must return quickly.
func (c *Chip) Edges(pin int, fn func(ts time.Time)) (*EdgeInput, error) {
	handler := func(evt gpiocdev.LineEvent) {
		fn(c.clock.at(evt.Timestamp))
	}
	l, err := gpiocdev.RequestLine(c.name, pin,
		gpiocdev.WithConsumer(consumer),
		gpiocdev.WithPullUp,
		gpiocdev.WithFallingEdge,
		gpiocdev.WithEventHandler(handler),
	)
	if err != nil {
		return nil, fmt.Errorf("request edge input %s:%d: %w", c.name, pin, err)
	}
	return &EdgeInput{line: l}, nil
}

func (e *EdgeInput) Close() error {
	return e.line.Close()
}

// Absent stands in for a relay line that could not be claimed. Every write
// fails, so the relay keeps reporting its last applied state.
type Absent struct {
	Pin int
}

func (a Absent) Set(bool) error {
	return fmt.Errorf("pin %d: %w", a.Pin, ErrUnavailable)
}

func (a Absent) Close() error { return nil }
