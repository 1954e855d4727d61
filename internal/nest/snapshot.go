package nest

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// Snapshot is a full point-in-time copy of all vendor structure and device
// state. A Snapshot is immutable once published to a Store; every stream
// "put" event and discovery fetch produces a fresh instance.
type Snapshot struct {
	Structures map[string]Structure `json:"structures"`
	Devices    Devices              `json:"devices"`
}

// Devices groups the per-category device maps of a snapshot, keyed by
// vendor identifier.
type Devices struct {
	Thermostats   map[string]Thermostat   `json:"thermostats"`
	SmokeCOAlarms map[string]SmokeCOAlarm `json:"smoke_co_alarms"`
	Cameras       map[string]Camera       `json:"cameras"`
}

// Structure is the vendor state of one home/structure.
type Structure struct {
	Name                string `json:"name"`
	Away                string `json:"away"`
	RHREnrollment       bool   `json:"rhr_enrollment"`
	PeakPeriodStartTime string `json:"peak_period_start_time"`
	PeakPeriodEndTime   string `json:"peak_period_end_time"`
}

// Thermostat is the vendor state of one thermostat. Temperature fields are
// carried in both scales; accessor methods select by the device's unit
// suffix so callers never touch the scale-specific fields directly.
type Thermostat struct {
	Name             string `json:"name"`
	NameLong         string `json:"name_long"`
	TemperatureScale string `json:"temperature_scale"`

	HVACMode  string `json:"hvac_mode"`
	HVACState string `json:"hvac_state"`

	AmbientTemperatureF float64 `json:"ambient_temperature_f"`
	AmbientTemperatureC float64 `json:"ambient_temperature_c"`

	TargetTemperatureF     float64 `json:"target_temperature_f"`
	TargetTemperatureC     float64 `json:"target_temperature_c"`
	TargetTemperatureHighF float64 `json:"target_temperature_high_f"`
	TargetTemperatureHighC float64 `json:"target_temperature_high_c"`
	TargetTemperatureLowF  float64 `json:"target_temperature_low_f"`
	TargetTemperatureLowC  float64 `json:"target_temperature_low_c"`

	EcoTemperatureHighF float64 `json:"eco_temperature_high_f"`
	EcoTemperatureHighC float64 `json:"eco_temperature_high_c"`
	EcoTemperatureLowF  float64 `json:"eco_temperature_low_f"`
	EcoTemperatureLowC  float64 `json:"eco_temperature_low_c"`

	LockedTempMaxF float64 `json:"locked_temp_max_f"`
	LockedTempMaxC float64 `json:"locked_temp_max_c"`
	LockedTempMinF float64 `json:"locked_temp_min_f"`
	LockedTempMinC float64 `json:"locked_temp_min_c"`

	Humidity     float64 `json:"humidity"`
	TimeToTarget string  `json:"time_to_target"`

	FanTimerActive   bool `json:"fan_timer_active"`
	FanTimerDuration int  `json:"fan_timer_duration"`

	HasFan  bool `json:"has_fan"`
	CanHeat bool `json:"can_heat"`
	CanCool bool `json:"can_cool"`

	IsOnline                 bool `json:"is_online"`
	IsLocked                 bool `json:"is_locked"`
	IsUsingEmergencyHeat     bool `json:"is_using_emergency_heat"`
	SunlightCorrectionActive bool `json:"sunlight_correction_active"`

	StructureID string `json:"structure_id"`
}

// Celsius reports whether the device operates on the Celsius scale.
func (t Thermostat) Celsius() bool {
	return t.TemperatureScale == "C"
}

// Ambient returns the ambient temperature in the device's own scale.
func (t Thermostat) Ambient() float64 {
	if t.Celsius() {
		return t.AmbientTemperatureC
	}
	return t.AmbientTemperatureF
}

// Target returns the single-setpoint target temperature.
func (t Thermostat) Target() float64 {
	if t.Celsius() {
		return t.TargetTemperatureC
	}
	return t.TargetTemperatureF
}

// TargetHigh returns the cool-side setpoint of the dual-setpoint pair.
func (t Thermostat) TargetHigh() float64 {
	if t.Celsius() {
		return t.TargetTemperatureHighC
	}
	return t.TargetTemperatureHighF
}

// TargetLow returns the heat-side setpoint of the dual-setpoint pair.
func (t Thermostat) TargetLow() float64 {
	if t.Celsius() {
		return t.TargetTemperatureLowC
	}
	return t.TargetTemperatureLowF
}

// EcoHigh returns the cool-side eco setpoint.
func (t Thermostat) EcoHigh() float64 {
	if t.Celsius() {
		return t.EcoTemperatureHighC
	}
	return t.EcoTemperatureHighF
}

// EcoLow returns the heat-side eco setpoint.
func (t Thermostat) EcoLow() float64 {
	if t.Celsius() {
		return t.EcoTemperatureLowC
	}
	return t.EcoTemperatureLowF
}

// LockMax returns the upper bound of the operator lock range.
func (t Thermostat) LockMax() float64 {
	if t.Celsius() {
		return t.LockedTempMaxC
	}
	return t.LockedTempMaxF
}

// LockMin returns the lower bound of the operator lock range.
func (t Thermostat) LockMin() float64 {
	if t.Celsius() {
		return t.LockedTempMinC
	}
	return t.LockedTempMinF
}

// SmokeCOAlarm is the vendor state of one smoke/CO detector.
type SmokeCOAlarm struct {
	Name               string `json:"name"`
	NameLong           string `json:"name_long"`
	IsOnline           bool   `json:"is_online"`
	BatteryHealth      string `json:"battery_health"`
	COAlarmState       string `json:"co_alarm_state"`
	SmokeAlarmState    string `json:"smoke_alarm_state"`
	UIColorState       string `json:"ui_color_state"`
	LastManualTestTime string `json:"last_manual_test_time"`
	IsManualTestActive bool   `json:"is_manual_test_active"`
	StructureID        string `json:"structure_id"`
}

// CameraEvent is the most recent activity event reported by a camera.
type CameraEvent struct {
	HasSound  bool   `json:"has_sound"`
	HasMotion bool   `json:"has_motion"`
	HasPerson bool   `json:"has_person"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// Camera is the vendor state of one camera.
type Camera struct {
	Name                string      `json:"name"`
	NameLong            string      `json:"name_long"`
	IsOnline            bool        `json:"is_online"`
	IsStreaming         bool        `json:"is_streaming"`
	IsAudioInputEnabled bool        `json:"is_audio_input_enabled"`
	IsPublicShareEnabled bool       `json:"is_public_share_enabled"`
	LastEvent           CameraEvent `json:"last_event"`
	StructureID         string      `json:"structure_id"`
}

// ParseSnapshot decodes a raw vendor payload into a Snapshot.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("nest: decode snapshot: %w", err)
	}
	return &snap, nil
}

// Store holds the current snapshot behind an atomic pointer.
//
// The stream goroutine is the sole writer; all other components only read.
// Replacement is wholesale: the tree behind a published pointer is never
// mutated, so a loaded snapshot stays internally consistent for as long as
// the caller holds it.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// Load returns the current snapshot, or nil before the first fetch.
func (s *Store) Load() *Snapshot {
	return s.current.Load()
}

// Replace publishes a new snapshot, discarding the previous one.
func (s *Store) Replace(snap *Snapshot) {
	s.current.Store(snap)
}
