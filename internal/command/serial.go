package command

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.bug.st/serial"

	"nutrient_mixer/internal/config"
	"nutrient_mixer/internal/logger"
)

const (
	serialReadTimeout = 500 * time.Millisecond
	serialRetryDelay  = 5 * time.Second
	maxLineLength     = 256
)

// Enqueuer accepts wire command text. *Dispatcher implements it.
type Enqueuer interface {
	Enqueue(raw string) bool
}

// SerialSource reads newline-terminated wire commands from a serial port and
// queues them. A lost port is reopened after a delay.
type SerialSource struct {
	name       string
	open       func() (io.ReadCloser, error)
	sink       Enqueuer
	log        *logger.Logger
	retryDelay time.Duration
}

func NewSerialSource(cfg config.SerialConfig, sink Enqueuer, log *logger.Logger) *SerialSource {
	if log == nil {
		log = logger.Nop()
	}
	return &SerialSource{
		name: cfg.Port,
		open: func() (io.ReadCloser, error) {
			p, err := serial.Open(cfg.Port, &serial.Mode{BaudRate: cfg.Baud})
			if err != nil {
				return nil, err
			}
			if err := p.SetReadTimeout(serialReadTimeout); err != nil {
				p.Close()
				return nil, err
			}
			return p, nil
		},
		sink:       sink,
		log:        log,
		retryDelay: serialRetryDelay,
	}
}

// Run reads the port until ctx is canceled.
func (s *SerialSource) Run(ctx context.Context) {
	for {
		if err := s.session(ctx); err != nil && ctx.Err() == nil {
			s.log.Warnw("serial_session_ended", "port", s.name, "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.retryDelay):
		}
	}
}

func (s *SerialSource) session(ctx context.Context) error {
	port, err := s.open()
	if err != nil {
		return fmt.Errorf("open %s: %w", s.name, err)
	}
	defer port.Close()
	s.log.Infow("serial_opened", "port", s.name)

	// A blocked Read is released by closing the port.
	stop := context.AfterFunc(ctx, func() { port.Close() })
	defer stop()

	var line strings.Builder
	buf := make([]byte, 128)
	for {
		n, err := port.Read(buf)
		for _, b := range buf[:n] {
			switch b {
			case '\n', '\r':
				s.submit(line.String())
				line.Reset()
			default:
				if line.Len() >= maxLineLength {
					s.log.Warnw("serial_line_too_long", "port", s.name)
					line.Reset()
				}
				line.WriteByte(b)
			}
		}
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (s *SerialSource) submit(raw string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return
	}
	if !s.sink.Enqueue(raw) {
		s.log.Warnw("serial_command_rejected", "raw", raw)
	}
}
