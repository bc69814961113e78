// Package config persists the bridge's tuning: fusion parameters, mapping
// behavior, button bindings, calibration results and the transport
// endpoints. The file is JSON, located via viper, and safe to edit by hand.
package config

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/airmouse/gearvr-bridge/internal/fusion"
	"github.com/airmouse/gearvr-bridge/internal/mapping"
)

// Config is the whole persisted configuration.
type Config struct {
	Bluetooth   BluetoothConfig   `json:"bluetooth" mapstructure:"bluetooth"`
	Fusion      FusionConfig      `json:"fusion" mapstructure:"fusion"`
	Mapping     MappingConfig     `json:"mapping" mapstructure:"mapping"`
	Keymap      KeymapConfig      `json:"keymap" mapstructure:"keymap"`
	Calibration CalibrationConfig `json:"calibration" mapstructure:"calibration"`
	MQTT        MQTTConfig        `json:"mqtt" mapstructure:"mqtt"`
	Web         WebConfig         `json:"web" mapstructure:"web"`
}

// BluetoothConfig tunes discovery and connection behavior.
type BluetoothConfig struct {
	// DeviceID remembers the last connected controller for reconnects.
	DeviceID string `json:"device_id" mapstructure:"device_id"`
	// VrMode selects the VR reporting mode instead of plain sensor mode.
	VrMode bool `json:"vr_mode" mapstructure:"vr_mode"`
	// MinRSSI drops scan results weaker than this; 0 disables the filter.
	MinRSSI int16 `json:"min_rssi" mapstructure:"min_rssi"`
}

// FusionConfig tunes the sensor fusion pipeline.
type FusionConfig struct {
	SensorLowPassAlpha   float64 `json:"sensor_low_pass_alpha" mapstructure:"sensor_low_pass_alpha"`
	DeltaTSmoothingAlpha float64 `json:"delta_t_smoothing_alpha" mapstructure:"delta_t_smoothing_alpha"`
	MadgwickBeta         float64 `json:"madgwick_beta" mapstructure:"madgwick_beta"`
	LocalEarthMagField   float64 `json:"local_earth_mag_field" mapstructure:"local_earth_mag_field"`
}

// MappingConfig tunes cursor movement.
type MappingConfig struct {
	Mode                          string  `json:"mode" mapstructure:"mode"`
	TouchpadSensitivity           float64 `json:"touchpad_sensitivity" mapstructure:"touchpad_sensitivity"`
	TouchpadAcceleration          float64 `json:"touchpad_acceleration" mapstructure:"touchpad_acceleration"`
	TouchpadAccelerationThreshold float64 `json:"touchpad_acceleration_threshold" mapstructure:"touchpad_acceleration_threshold"`
	AirMouseFOV                   float64 `json:"air_mouse_fov" mapstructure:"air_mouse_fov"`
	AirMouseActivationThreshold   float64 `json:"air_mouse_activation_threshold" mapstructure:"air_mouse_activation_threshold"`
}

// Movement mode names accepted in MappingConfig.Mode.
const (
	ModeAirMouse = "air_mouse"
	ModeTouchpad = "touchpad"
)

// KeymapConfig binds controller buttons to key or mouse actions. Empty
// means unbound; "+"-joined chords are allowed.
type KeymapConfig struct {
	Trigger    string `json:"trigger" mapstructure:"trigger"`
	Home       string `json:"home" mapstructure:"home"`
	Back       string `json:"back" mapstructure:"back"`
	Touchpad   string `json:"touchpad" mapstructure:"touchpad"`
	VolumeUp   string `json:"volume_up" mapstructure:"volume_up"`
	VolumeDown string `json:"volume_down" mapstructure:"volume_down"`
}

// CalibrationConfig persists calibration results between sessions.
type CalibrationConfig struct {
	MagHardIronBias [3]float64    `json:"mag_hard_iron_bias" mapstructure:"mag_hard_iron_bias"`
	MagSoftIron     [3][3]float64 `json:"mag_soft_iron" mapstructure:"mag_soft_iron"`
	GyroZeroBias    [3]float64    `json:"gyro_zero_bias" mapstructure:"gyro_zero_bias"`
	// DataDir receives CSV exports of calibration recordings; empty
	// disables them.
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// MQTTConfig configures the MQTT event sink.
type MQTTConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Broker   string `json:"broker" mapstructure:"broker"`
	ClientID string `json:"client_id" mapstructure:"client_id"`
}

// WebConfig configures the websocket hub.
type WebConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// Default returns the configuration the bridge ships with.
func Default() Config {
	return Config{
		Bluetooth: BluetoothConfig{
			MinRSSI: -90,
		},
		Fusion: FusionConfig{
			SensorLowPassAlpha:   1.0,
			DeltaTSmoothingAlpha: 1.0,
			MadgwickBeta:         0.1,
			LocalEarthMagField:   49.5,
		},
		Mapping: MappingConfig{
			Mode:                          ModeAirMouse,
			TouchpadSensitivity:           500,
			TouchpadAcceleration:          1.2,
			TouchpadAccelerationThreshold: 0.0002,
			AirMouseFOV:                   40,
			AirMouseActivationThreshold:   5.0,
		},
		Keymap: KeymapConfig{
			Trigger:    "left",
			Back:       "backspace",
			Touchpad:   "right",
			VolumeUp:   "volume up",
			VolumeDown: "volume down",
		},
		Calibration: CalibrationConfig{
			MagSoftIron: [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		},
		MQTT: MQTTConfig{
			Broker:   "tcp://localhost:1883",
			ClientID: "gearvr-bridge",
		},
		Web: WebConfig{
			Addr: ":8089",
		},
	}
}

// Validate rejects values the pipeline cannot run with.
func (c Config) Validate() error {
	if c.Mapping.Mode != ModeAirMouse && c.Mapping.Mode != ModeTouchpad {
		return fmt.Errorf("mapping.mode must be %q or %q, got %q", ModeAirMouse, ModeTouchpad, c.Mapping.Mode)
	}
	if c.Fusion.MadgwickBeta <= 0 {
		return fmt.Errorf("fusion.madgwick_beta must be positive, got %v", c.Fusion.MadgwickBeta)
	}
	if c.Fusion.LocalEarthMagField <= 0 {
		return fmt.Errorf("fusion.local_earth_mag_field must be positive, got %v", c.Fusion.LocalEarthMagField)
	}
	if c.Fusion.SensorLowPassAlpha <= 0 || c.Fusion.SensorLowPassAlpha > 1 {
		return fmt.Errorf("fusion.sensor_low_pass_alpha must be in (0, 1], got %v", c.Fusion.SensorLowPassAlpha)
	}
	if c.Fusion.DeltaTSmoothingAlpha <= 0 || c.Fusion.DeltaTSmoothingAlpha > 1 {
		return fmt.Errorf("fusion.delta_t_smoothing_alpha must be in (0, 1], got %v", c.Fusion.DeltaTSmoothingAlpha)
	}
	if c.Mapping.AirMouseFOV <= 0 {
		return fmt.Errorf("mapping.air_mouse_fov must be positive, got %v", c.Mapping.AirMouseFOV)
	}
	return nil
}

// FusionConfig converts to the fusion engine's tuning.
func (c Config) FusionConfig() fusion.Config {
	cfg := fusion.DefaultConfig()
	cfg.SensorLowPassAlpha = c.Fusion.SensorLowPassAlpha
	cfg.DeltaTSmoothingAlpha = c.Fusion.DeltaTSmoothingAlpha
	cfg.MadgwickBeta = c.Fusion.MadgwickBeta
	cfg.LocalEarthMagField = c.Fusion.LocalEarthMagField
	return cfg
}

// CalibrationParams converts the persisted calibration.
func (c Config) CalibrationParams() fusion.CalibrationParams {
	return fusion.CalibrationParams{
		MagHardIronBias: vec(c.Calibration.MagHardIronBias),
		MagSoftIron:     c.Calibration.MagSoftIron,
		GyroZeroBias:    vec(c.Calibration.GyroZeroBias),
	}
}

// SetCalibrationParams stores live calibration back for persistence.
func (c *Config) SetCalibrationParams(p fusion.CalibrationParams) {
	c.Calibration.MagHardIronBias = arr(p.MagHardIronBias)
	c.Calibration.MagSoftIron = p.MagSoftIron
	c.Calibration.GyroZeroBias = arr(p.GyroZeroBias)
}

// MappingConfig converts to the mapping engine's tuning.
func (c Config) MappingConfig() mapping.Config {
	mode := mapping.ModeAirMouse
	if c.Mapping.Mode == ModeTouchpad {
		mode = mapping.ModeTouchpad
	}
	return mapping.Config{
		Mode:                          mode,
		TouchpadSensitivity:           c.Mapping.TouchpadSensitivity,
		TouchpadAcceleration:          c.Mapping.TouchpadAcceleration,
		TouchpadAccelerationThreshold: c.Mapping.TouchpadAccelerationThreshold,
		AirMouseFOV:                   c.Mapping.AirMouseFOV,
		AirMouseActivationThreshold:   c.Mapping.AirMouseActivationThreshold,
	}
}

// MappingKeymap converts the persisted bindings.
func (c Config) MappingKeymap() mapping.Keymap {
	return mapping.Keymap{
		Trigger:    c.Keymap.Trigger,
		Home:       c.Keymap.Home,
		Back:       c.Keymap.Back,
		Touchpad:   c.Keymap.Touchpad,
		VolumeUp:   c.Keymap.VolumeUp,
		VolumeDown: c.Keymap.VolumeDown,
	}
}

func vec(a [3]float64) r3.Vec {
	return r3.Vec{X: a[0], Y: a[1], Z: a[2]}
}

func arr(v r3.Vec) [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}
