package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full rig configuration read from configs/config.yml.
type Config struct {
	Port       string           `mapstructure:"port"`
	LogLevel   string           `mapstructure:"log_level"`
	LogFormat  string           `mapstructure:"log_format"` // console | json
	DB         DBConfig         `mapstructure:"db"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Bus        BusConfig        `mapstructure:"bus"`
	GPIO       GPIOConfig       `mapstructure:"gpio"`
	Flow       FlowConfig       `mapstructure:"flow"`
	Pumps      PumpConfig       `mapstructure:"pumps"`
	Sensors    SensorConfig     `mapstructure:"sensors"`
	Jobs       JobConfig        `mapstructure:"jobs"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Serial     SerialConfig     `mapstructure:"serial"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`

	Relays     []RelayDef     `mapstructure:"relays"`
	FlowMeters []FlowMeterDef `mapstructure:"flow_meters"`
	Tanks      []TankDef      `mapstructure:"tanks"`
	Rooms      []RoomDef      `mapstructure:"rooms"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

type AuthConfig struct {
	SigningKey string        `mapstructure:"signing_key"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
}

// BusConfig tunes the shared I2C bus arbiter.
type BusConfig struct {
	Device            string        `mapstructure:"device"` // "i2c" or "none"
	PoolSize          int           `mapstructure:"pool_size"`
	Timeout           time.Duration `mapstructure:"timeout"`
	Retries           int           `mapstructure:"retries"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff"`
	ResponseSize      int           `mapstructure:"response_size"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`
}

type GPIOConfig struct {
	Chip           string `mapstructure:"chip"`
	RelayActiveLow bool   `mapstructure:"relay_active_low"`
}

type FlowConfig struct {
	Debounce               time.Duration `mapstructure:"debounce"`
	DefaultPulsesPerGallon int           `mapstructure:"default_pulses_per_gallon"`
	MinGallons             int           `mapstructure:"min_gallons"`
	MaxGallons             int           `mapstructure:"max_gallons"`
	MaxDuration            time.Duration `mapstructure:"max_duration"`
	PollInterval           time.Duration `mapstructure:"poll_interval"`
}

// PumpConfig holds the dispense bounds shared by every pump plus the pump list.
type PumpConfig struct {
	MinML float64   `mapstructure:"min_ml"`
	MaxML float64   `mapstructure:"max_ml"`
	Units []PumpDef `mapstructure:"units"`
}

type SensorConfig struct {
	PHAddress    int           `mapstructure:"ph_address"`
	ECAddress    int           `mapstructure:"ec_address"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type JobConfig struct {
	Tick             time.Duration `mapstructure:"tick"`
	MixInitialDelay  time.Duration `mapstructure:"mix_initial_delay"`
	MixFinalDuration time.Duration `mapstructure:"mix_final_duration"`
	// Doses dispensed by every mix job; empty means circulate and sample only.
	Doses []DoseDef `mapstructure:"doses"`
}

type DispatcherConfig struct {
	QueueSize      int           `mapstructure:"queue_size"`
	EnqueueTimeout time.Duration `mapstructure:"enqueue_timeout"`
}

type SerialConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    string `mapstructure:"port"`
	Baud    int    `mapstructure:"baud"`
}

type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

type RelayDef struct {
	ID   int    `mapstructure:"id"`
	Pin  int    `mapstructure:"pin"`
	Name string `mapstructure:"name"`
}

type FlowMeterDef struct {
	ID              int    `mapstructure:"id"`
	Pin             int    `mapstructure:"pin"`
	Name            string `mapstructure:"name"`
	PulsesPerGallon int    `mapstructure:"pulses_per_gallon"`
}

type PumpDef struct {
	ID      int    `mapstructure:"id"`
	Address int    `mapstructure:"address"`
	Name    string `mapstructure:"name"`
}

type DoseDef struct {
	PumpID   int     `mapstructure:"pump_id"`
	VolumeML float64 `mapstructure:"volume_ml"`
}

// TankDef maps a tank to the valves and meters each job type needs.
// A zero relay or meter id means the tank does not support that operation.
type TankDef struct {
	ID            int    `mapstructure:"id"`
	Name          string `mapstructure:"name"`
	FillRelay     int    `mapstructure:"fill_relay"`
	SendRelay     int    `mapstructure:"send_relay"`
	MixRelays     []int  `mapstructure:"mix_relays"`
	FillFlowMeter int    `mapstructure:"fill_flow_meter"`
	SendFlowMeter int    `mapstructure:"send_flow_meter"`
}

type RoomDef struct {
	ID    int    `mapstructure:"id"`
	Name  string `mapstructure:"name"`
	Relay int    `mapstructure:"relay"`
}

const envPrefix = "MIXER"

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("db.path", "mixer.db")
	v.SetDefault("auth.token_ttl", time.Hour)

	v.SetDefault("bus.device", "i2c")
	v.SetDefault("bus.pool_size", 4)
	v.SetDefault("bus.timeout", 3*time.Second)
	v.SetDefault("bus.retries", 3)
	v.SetDefault("bus.retry_backoff", 200*time.Millisecond)
	v.SetDefault("bus.response_size", 32)
	v.SetDefault("bus.reconnect_interval", 5*time.Second)

	v.SetDefault("gpio.chip", "gpiochip0")
	v.SetDefault("gpio.relay_active_low", true)

	v.SetDefault("flow.debounce", 50*time.Millisecond)
	v.SetDefault("flow.default_pulses_per_gallon", 220)
	v.SetDefault("flow.min_gallons", 1)
	v.SetDefault("flow.max_gallons", 100)
	v.SetDefault("flow.max_duration", 2*time.Hour)
	v.SetDefault("flow.poll_interval", time.Second)

	v.SetDefault("pumps.min_ml", 0.5)
	v.SetDefault("pumps.max_ml", 500.0)

	v.SetDefault("sensors.ph_address", 99)
	v.SetDefault("sensors.ec_address", 100)
	v.SetDefault("sensors.poll_interval", 5*time.Second)

	v.SetDefault("jobs.tick", 500*time.Millisecond)
	v.SetDefault("jobs.mix_initial_delay", 20*time.Second)
	v.SetDefault("jobs.mix_final_duration", 60*time.Second)

	v.SetDefault("dispatcher.queue_size", 64)
	v.SetDefault("dispatcher.enqueue_timeout", 100*time.Millisecond)

	v.SetDefault("serial.baud", 115200)
	v.SetDefault("mqtt.client_id", "nutrient-mixer")
	v.SetDefault("mqtt.topic_prefix", "mixer")
}

// Load reads the config file at path (e.g. "configs/config.yml"), applies
// defaults and MIXER_* environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	dir, file := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	ext := filepath.Ext(file)
	v.AddConfigPath(dir)
	v.SetConfigName(strings.TrimSuffix(file, ext))
	if ext != "" {
		v.SetConfigType(strings.TrimPrefix(ext, "."))
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var (
	errNoRelays     = errors.New("config: at least one relay must be declared")
	errGallonBounds = errors.New("config: flow.min_gallons must be > 0 and <= flow.max_gallons")
	errPumpBounds   = errors.New("config: pumps.min_ml must be > 0 and <= pumps.max_ml")
)

// Validate checks cross references between tanks, rooms, relays and meters.
func (c *Config) Validate() error {
	if len(c.Relays) == 0 {
		return errNoRelays
	}
	if c.Flow.MinGallons <= 0 || c.Flow.MinGallons > c.Flow.MaxGallons {
		return errGallonBounds
	}
	if c.Pumps.MinML <= 0 || c.Pumps.MinML > c.Pumps.MaxML {
		return errPumpBounds
	}

	relays := make(map[int]bool, len(c.Relays))
	for _, r := range c.Relays {
		if r.ID <= 0 {
			return fmt.Errorf("config: relay id %d must be > 0 (0 addresses all relays)", r.ID)
		}
		if relays[r.ID] {
			return fmt.Errorf("config: duplicate relay id %d", r.ID)
		}
		relays[r.ID] = true
	}

	meters := make(map[int]bool, len(c.FlowMeters))
	for _, m := range c.FlowMeters {
		if m.ID <= 0 {
			return fmt.Errorf("config: flow meter id %d must be > 0", m.ID)
		}
		if meters[m.ID] {
			return fmt.Errorf("config: duplicate flow meter id %d", m.ID)
		}
		meters[m.ID] = true
	}

	pumps := make(map[int]bool, len(c.Pumps.Units))
	for _, p := range c.Pumps.Units {
		if p.ID <= 0 || pumps[p.ID] {
			return fmt.Errorf("config: invalid or duplicate pump id %d", p.ID)
		}
		if p.Address <= 0 || p.Address > 0x7f {
			return fmt.Errorf("config: pump %d has invalid bus address %d", p.ID, p.Address)
		}
		pumps[p.ID] = true
	}

	ref := func(owner string, id int, known map[int]bool, kind string) error {
		if id != 0 && !known[id] {
			return fmt.Errorf("config: %s references unknown %s %d", owner, kind, id)
		}
		return nil
	}
	for _, t := range c.Tanks {
		owner := fmt.Sprintf("tank %d", t.ID)
		if err := ref(owner, t.FillRelay, relays, "relay"); err != nil {
			return err
		}
		if err := ref(owner, t.SendRelay, relays, "relay"); err != nil {
			return err
		}
		for _, r := range t.MixRelays {
			if err := ref(owner, r, relays, "relay"); err != nil {
				return err
			}
		}
		if err := ref(owner, t.FillFlowMeter, meters, "flow meter"); err != nil {
			return err
		}
		if err := ref(owner, t.SendFlowMeter, meters, "flow meter"); err != nil {
			return err
		}
	}
	for _, d := range c.Jobs.Doses {
		if !pumps[d.PumpID] {
			return fmt.Errorf("config: jobs.doses references unknown pump %d", d.PumpID)
		}
		if d.VolumeML < c.Pumps.MinML || d.VolumeML > c.Pumps.MaxML {
			return fmt.Errorf("config: dose for pump %d is %.2f ml, outside [%.2f, %.2f]", d.PumpID, d.VolumeML, c.Pumps.MinML, c.Pumps.MaxML)
		}
	}
	for _, r := range c.Rooms {
		if err := ref(fmt.Sprintf("room %d", r.ID), r.Relay, relays, "relay"); err != nil {
			return err
		}
	}
	return nil
}

// Tank returns the tank definition with the given id.
func (c *Config) Tank(id int) (TankDef, bool) {
	for _, t := range c.Tanks {
		if t.ID == id {
			return t, true
		}
	}
	return TankDef{}, false
}

// Room returns the room definition with the given id.
func (c *Config) Room(id int) (RoomDef, bool) {
	for _, r := range c.Rooms {
		if r.ID == id {
			return r, true
		}
	}
	return RoomDef{}, false
}

// FlowMeter returns the flow meter definition with the given id.
func (c *Config) FlowMeter(id int) (FlowMeterDef, bool) {
	for _, m := range c.FlowMeters {
		if m.ID == id {
			return m, true
		}
	}
	return FlowMeterDef{}, false
}
