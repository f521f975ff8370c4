package device

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"nutrient_mixer/internal/config"
	"nutrient_mixer/internal/logger"
	"nutrient_mixer/internal/models"
)

const (
	phSettle = 900 * time.Millisecond
	ecSettle = 600 * time.Millisecond
)

// Calibration points accepted by the probes.
var (
	phPoints = map[string]bool{"low": true, "mid": true, "high": true, "clear": true}
	ecPoints = map[string]bool{"dry": true, "single": true, "low": true, "high": true, "clear": true}
)

// SensorController reads the EZO pH and EC probes and optionally polls them
// in the background.
type SensorController struct {
	bus      BusClient
	phAddr   byte
	ecAddr   byte
	interval time.Duration
	log      *logger.Logger
	now      func() time.Time

	mu     sync.Mutex
	last   *models.Reading
	cancel context.CancelFunc
}

func NewSensorController(cfg config.SensorConfig, client BusClient, log *logger.Logger) *SensorController {
	if log == nil {
		log = logger.Nop()
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &SensorController{
		bus:      client,
		phAddr:   byte(cfg.PHAddress),
		ecAddr:   byte(cfg.ECAddress),
		interval: interval,
		log:      log,
		now:      time.Now,
	}
}

// ReadPH returns the current pH.
func (c *SensorController) ReadPH(ctx context.Context) (float64, error) {
	return c.read(ctx, c.phAddr, phSettle, "ph")
}

// ReadEC returns conductivity in mS/cm. The probe reports µS/cm.
func (c *SensorController) ReadEC(ctx context.Context) (float64, error) {
	us, err := c.read(ctx, c.ecAddr, ecSettle, "ec")
	if err != nil {
		return 0, err
	}
	return us / 1000, nil
}

// Read samples both probes. A probe that fails leaves its field nil; the
// result is kept as the latest reading either way.
func (c *SensorController) Read(ctx context.Context) models.Reading {
	r := models.Reading{TakenAt: c.now()}
	if ph, err := c.ReadPH(ctx); err == nil {
		r.PH = &ph
	}
	if ec, err := c.ReadEC(ctx); err == nil {
		r.EC = &ec
	}
	c.mu.Lock()
	c.last = &r
	c.mu.Unlock()
	return r
}

// LastReading returns the latest sample, or nil before the first one.
func (c *SensorController) LastReading() *models.Reading {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return nil
	}
	r := *c.last
	return &r
}

// StartMonitoring begins background polling. It is a no-op when already running.
func (c *SensorController) StartMonitoring() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.poll(ctx)
	c.log.Infow("sensor_monitoring_started", "interval", c.interval)
}

// StopMonitoring ends background polling. It does not wait for a read that is
// already on the bus; that read is bounded by its own timeout.
func (c *SensorController) StopMonitoring() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.cancel = nil
	c.log.Infow("sensor_monitoring_stopped")
}

func (c *SensorController) Monitoring() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

func (c *SensorController) poll(ctx context.Context) {
	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		c.Read(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// CalibratePH runs one calibration point: low, mid, high or clear.
func (c *SensorController) CalibratePH(ctx context.Context, point string, value float64) error {
	if !phPoints[point] {
		return fmt.Errorf("%w: ph %q", ErrInvalidPoint, point)
	}
	cmd := "Cal,clear"
	if point != "clear" {
		cmd = fmt.Sprintf("Cal,%s,%.2f", point, value)
	}
	return c.calibrate(ctx, c.phAddr, cmd, phSettle, "ph", point)
}

// CalibrateEC runs one calibration point: dry, single, low, high or clear.
// value is in µS/cm, as printed on calibration solutions.
func (c *SensorController) CalibrateEC(ctx context.Context, point string, value float64) error {
	if !ecPoints[point] {
		return fmt.Errorf("%w: ec %q", ErrInvalidPoint, point)
	}
	var cmd string
	switch point {
	case "dry", "clear":
		cmd = "Cal," + point
	case "single":
		cmd = fmt.Sprintf("Cal,%.0f", value)
	default:
		cmd = fmt.Sprintf("Cal,%s,%.0f", point, value)
	}
	return c.calibrate(ctx, c.ecAddr, cmd, ecSettle, "ec", point)
}

func (c *SensorController) calibrate(ctx context.Context, addr byte, cmd string, settle time.Duration, probe, point string) error {
	res := c.bus.Do(ctx, addr, cmd, settle)
	if !res.OK {
		c.log.Errorw("sensor_calibration_failed", "probe", probe, "point", point, "err", res.Err)
		return fmt.Errorf("%s calibration %s: %w", probe, point, res.Err)
	}
	c.log.Infow("sensor_calibrated", "probe", probe, "point", point)
	return nil
}

func (c *SensorController) read(ctx context.Context, addr byte, settle time.Duration, probe string) (float64, error) {
	res := c.bus.Do(ctx, addr, "R", settle)
	if !res.OK {
		c.log.Warnw("sensor_read_failed", "probe", probe, "err", res.Err)
		return 0, fmt.Errorf("read %s: %w", probe, res.Err)
	}
	// The EC probe may append TDS/salinity fields after conductivity.
	field := strings.TrimSpace(strings.SplitN(res.Text, ",", 2)[0])
	v, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w: %q", probe, ErrBadResponse, res.Text)
	}
	return v, nil
}
