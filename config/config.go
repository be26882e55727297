// Package config loads the YAML configuration file and the small state file
// that carries the mount position across restarts.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/w1xm/solar_interface/device"
	"github.com/w1xm/solar_interface/mount"
	"github.com/w1xm/solar_interface/sun"
	"gopkg.in/yaml.v3"
)

// DeviceConfig describes how to reach the motor controller.
type DeviceConfig struct {
	Endpoint  string           `yaml:"endpoint"` // tcp://host:port, serial:///dev/ttyACM0 or a device path
	Baud      int              `yaml:"baud"`
	AxisCodes device.AxisCodes `yaml:"axis_codes"`
}

// HardwareConfig holds the fixed mechanical ratios of the mount.
type HardwareConfig struct {
	MotorStepDeg       float64 `yaml:"motor_step_deg"`
	MicroSteps         float64 `yaml:"micro_steps"`
	GearboxRatio       float64 `yaml:"gearbox_ratio"`
	GearRatio          float64 `yaml:"gear_ratio"`
	EncoderTicksPerRev float64 `yaml:"encoder_ticks_per_rev"`
}

type MotionConfig struct {
	MaxChunkTicks   float64 `yaml:"max_chunk_ticks"`
	OvershootFactor float64 `yaml:"overshoot_factor"`
	MaxStalls       int     `yaml:"max_stalls"`
	TickIntervalMs  int     `yaml:"tick_interval_ms"` // tracking loop period
}

// PowerConfig is optional. An empty port means there is no relay.
type PowerConfig struct {
	Port    string `yaml:"port"`
	Baud    int    `yaml:"baud"`
	SlaveID byte   `yaml:"slave_id"`
}

type Config struct {
	Device    DeviceConfig   `yaml:"device"`
	Hardware  HardwareConfig `yaml:"hardware"`
	Motion    MotionConfig   `yaml:"motion"`
	SunSource string         `yaml:"sun_source"` // "mean", or "novas" in binaries built with the novas tag
	Height    float64        `yaml:"height"`     // observer height in metres, used by novas
	Power     PowerConfig    `yaml:"power"`
	StateFile string         `yaml:"state_file"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	hw := mount.DefaultHardware()
	return &Config{
		Device: DeviceConfig{
			Baud:      9600,
			AxisCodes: device.DefaultAxisCodes,
		},
		Hardware: HardwareConfig{
			MotorStepDeg:       hw.MotorStepDeg,
			MicroSteps:         hw.MicroSteps,
			GearboxRatio:       hw.GearboxRatio,
			GearRatio:          hw.GearRatio,
			EncoderTicksPerRev: hw.EncoderTicksPerRev,
		},
		Motion: MotionConfig{
			MaxChunkTicks:   200,
			OvershootFactor: 0.7,
			MaxStalls:       50,
			TickIntervalMs:  100,
		},
		SunSource: "mean",
		Power: PowerConfig{
			Baud:    9600,
			SlaveID: 1,
		},
		StateFile: "solar_state.yaml",
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := c.Device.AxisCodes.Validate(); err != nil {
		return fmt.Errorf("device.axis_codes: %w", err)
	}
	if c.Device.Baud <= 0 {
		return fmt.Errorf("device.baud must be > 0, got %d", c.Device.Baud)
	}
	if _, err := c.Calibration(); err != nil {
		return fmt.Errorf("hardware: %w", err)
	}
	if c.Motion.MaxChunkTicks <= 0 {
		return fmt.Errorf("motion.max_chunk_ticks must be > 0, got %v", c.Motion.MaxChunkTicks)
	}
	if c.Motion.OvershootFactor <= 0 || c.Motion.OvershootFactor > 1 {
		return fmt.Errorf("motion.overshoot_factor must be in (0, 1], got %v", c.Motion.OvershootFactor)
	}
	if c.Motion.MaxStalls < 0 {
		return fmt.Errorf("motion.max_stalls must be >= 0, got %d", c.Motion.MaxStalls)
	}
	if c.Motion.TickIntervalMs <= 0 {
		return fmt.Errorf("motion.tick_interval_ms must be > 0, got %d", c.Motion.TickIntervalMs)
	}
	if _, err := c.Source(); err != nil {
		return fmt.Errorf("sun_source: %w", err)
	}
	if c.StateFile == "" {
		return fmt.Errorf("state_file is required")
	}
	return nil
}

func (c *Config) Calibration() (mount.Calibration, error) {
	return mount.Hardware{
		MotorStepDeg:       c.Hardware.MotorStepDeg,
		MicroSteps:         c.Hardware.MicroSteps,
		GearboxRatio:       c.Hardware.GearboxRatio,
		GearRatio:          c.Hardware.GearRatio,
		EncoderTicksPerRev: c.Hardware.EncoderTicksPerRev,
	}.Calibration()
}

// Source returns the configured Sun position source.
func (c *Config) Source() (sun.Source, error) {
	return sun.SourceFor(c.SunSource, c.Height)
}

func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Motion.TickIntervalMs) * time.Millisecond
}

// State is the persisted telescope state.
type State struct {
	PositionPrimary   float64 `yaml:"positionPrimary"`
	PositionSecondary float64 `yaml:"positionSecondary"`
	Latitude          float64 `yaml:"latitude"`
	Longitude         float64 `yaml:"longitude"`
}

func (s State) validate() error {
	for _, v := range []float64{s.PositionPrimary, s.PositionSecondary, s.Latitude, s.Longitude} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("non-finite value %v: %w", v, mount.ErrInvalidArgument)
		}
	}
	if s.Latitude < -90 || s.Latitude > 90 {
		return fmt.Errorf("latitude %v out of range: %w", s.Latitude, mount.ErrInvalidArgument)
	}
	if s.Longitude < -180 || s.Longitude > 180 {
		return fmt.Errorf("longitude %v out of range: %w", s.Longitude, mount.ErrInvalidArgument)
	}
	return nil
}

// LoadState reads the state file. A missing file is the zero state.
func LoadState(path string) (State, error) {
	var s State
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("read state file: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("unmarshal state: %w", err)
	}
	if err := s.validate(); err != nil {
		return State{}, fmt.Errorf("state file %s: %w", path, err)
	}
	return s, nil
}

// SaveState replaces the state file atomically.
func SaveState(path string, s State) error {
	if err := s.validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create state file: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write state file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(f.Name(), path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
