package bridge

import (
	"context"
	"fmt"
	"math"

	"github.com/exking/udi-nest2-poly/internal/nest"
)

// Thermostat driver keys.
const (
	driverMode       = "CLIMD"
	driverCoolSP     = "CLISPC"
	driverHeatSP     = "CLISPH"
	driverAmbient    = "CLITEMP"
	driverFan        = "CLIFS"
	driverHumidity   = "CLIHUM"
	driverActivity   = "CLIHCS"
	driverFanTimer   = "GV1"
	driverTimeToGoal = "GV2"
	driverOnline     = "ST"
)

// HVAC activity indicator values.
const (
	activityIdle    = 0
	activityHeating = 1
	activityCooling = 2
	activityFanOnly = 3
)

// Discrete events published on idle transitions.
const (
	eventActivityStarted = "activity_started"
	eventActivityStopped = "activity_stopped"
)

// Mode driver values, matching the ISY climate mode vocabulary.
var modeNames = map[int]string{
	0:  "off",
	1:  "heat",
	2:  "cool",
	3:  "heat-cool",
	13: "eco",
}

var modeValues = map[string]float64{
	"off":       0,
	"heat":      1,
	"cool":      2,
	"heat-cool": 3,
	"eco":       13,
}

// ThermostatNode projects one vendor thermostat and validates commands
// against its cached state. The Fahrenheit and Celsius variants differ
// only in their UnitProfile.
type ThermostatNode struct {
	address  string
	vendorID string
	name     string
	profile  UnitProfile
	setPath  string

	drivers *driverSet
	sender  ChangeSender
	logger  Logger

	// Session-local cache of the last-synced values, refreshed on every
	// update and consulted by the command gates.
	ambient       float64
	target        float64
	heatSP        float64
	coolSP        float64
	lockMin       float64
	lockMax       float64
	locked        bool
	online        bool
	emergencyHeat bool
	mode          string
	activity      float64
	fanTimer      float64
	fanActive     bool
	hasFan        bool
	canHeat       bool
	canCool       bool
}

// NewThermostatNode creates a thermostat node for a discovered device.
func NewThermostatNode(vendorID, name string, profile UnitProfile, pub StatePublisher, sender ChangeSender, logger Logger) *ThermostatNode {
	address := nest.AddressOf(vendorID)
	return &ThermostatNode{
		address:  address,
		vendorID: vendorID,
		name:     name,
		profile:  profile,
		setPath:  "/devices/thermostats/" + vendorID,
		drivers:  newDriverSet(address, pub),
		sender:   sender,
		logger:   logger,
	}
}

func (t *ThermostatNode) Address() string  { return t.address }
func (t *ThermostatNode) Name() string     { return t.name }
func (t *ThermostatNode) Category() string { return CategoryThermostat }

// Scale returns the node's vendor temperature scale tag.
func (t *ThermostatNode) Scale() string { return t.profile.Scale }

// Update re-reads the thermostat's subtree from the snapshot, refreshes
// the command-validation cache, and publishes changed drivers.
func (t *ThermostatNode) Update(snap *nest.Snapshot) {
	device, ok := snap.Devices.Thermostats[t.vendorID]
	if !ok {
		return
	}

	t.ambient = device.Ambient()
	t.mode = device.HVACMode
	t.target = device.Target()
	if t.mode == "eco" {
		t.heatSP = device.EcoLow()
		t.coolSP = device.EcoHigh()
	} else {
		t.heatSP = device.TargetLow()
		t.coolSP = device.TargetHigh()
	}
	t.lockMin = device.LockMin()
	t.lockMax = device.LockMax()
	t.locked = device.IsLocked
	t.online = device.IsOnline
	t.emergencyHeat = device.IsUsingEmergencyHeat
	t.fanTimer = float64(device.FanTimerDuration)
	t.fanActive = device.FanTimerActive
	t.hasFan = device.HasFan
	t.canHeat = device.CanHeat
	t.canCool = device.CanCool

	t.drivers.set(driverAmbient, t.ambient)
	t.drivers.set(driverHumidity, device.Humidity)
	t.drivers.set(driverTimeToGoal, timeToTargetMinutes(device.TimeToTarget))
	t.drivers.set(driverFanTimer, t.fanTimer)
	t.drivers.setBool(driverFan, t.fanActive)
	t.drivers.setBool(driverOnline, t.online)

	mode, known := modeValues[t.mode]
	if !known {
		mode = 0
	}
	t.drivers.set(driverMode, mode)

	// In single-setpoint modes the active setpoint comes from the target
	// field; the inactive side keeps its last dual-mode value.
	switch t.mode {
	case "heat":
		t.heatSP = t.target
		t.drivers.set(driverHeatSP, t.target)
		t.drivers.set(driverCoolSP, t.coolSP)
	case "cool":
		t.coolSP = t.target
		t.drivers.set(driverHeatSP, t.heatSP)
		t.drivers.set(driverCoolSP, t.target)
	default:
		t.drivers.set(driverHeatSP, t.heatSP)
		t.drivers.set(driverCoolSP, t.coolSP)
	}

	t.updateActivity(device)
	t.drivers.flush()
}

// updateActivity derives the HVAC activity indicator and reports discrete
// events on transitions into and out of idle.
func (t *ThermostatNode) updateActivity(device nest.Thermostat) {
	var activity float64
	switch {
	case device.HVACState == "cooling":
		activity = activityCooling
	case device.HVACState == "heating":
		activity = activityHeating
	case device.FanTimerActive:
		activity = activityFanOnly
	default:
		activity = activityIdle
	}

	previous := t.activity
	t.activity = activity
	t.drivers.set(driverActivity, activity)

	if previous == activityIdle && activity != activityIdle {
		t.drivers.pub.PublishEvent(t.address, eventActivityStarted)
	} else if previous != activityIdle && activity == activityIdle {
		t.drivers.pub.PublishEvent(t.address, eventActivityStopped)
	}
}

// Query republishes all drivers.
func (t *ThermostatNode) Query() {
	t.drivers.report()
}

// Command validates and executes one thermostat command.
//
// Every command passes the online/emergency-heat gate first; setpoint
// commands then run the lock, range, and mode-compatibility gates. A
// rejection is returned as an error and causes no state mutation and no
// outbound request.
func (t *ThermostatNode) Command(ctx context.Context, cmd Command) error {
	if cmd.Cmd == CmdQuery {
		t.Query()
		return nil
	}

	if err := t.gateOnline(); err != nil {
		t.logger.Info("command rejected", "node", t.name, "cmd", cmd.Cmd, "reason", err)
		return err
	}

	var err error
	switch cmd.Cmd {
	case CmdSetHeat:
		err = t.setHeat(ctx, cmd)
	case CmdSetCool:
		err = t.setCool(ctx, cmd)
	case CmdSetMode:
		err = t.setMode(ctx, cmd)
	case CmdSetFan:
		err = t.setFan(ctx, cmd)
	case CmdSetFanTimer:
		err = t.setFanTimer(ctx, cmd)
	case CmdIncrement, CmdDecrement:
		err = t.step(ctx, cmd.Cmd)
	default:
		err = fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Cmd)
	}

	if err != nil {
		t.logger.Info("command rejected", "node", t.name, "cmd", cmd.Cmd, "reason", err)
	}
	return err
}

// gateOnline rejects all commands while offline or on emergency heat.
func (t *ThermostatNode) gateOnline() error {
	if !t.online {
		return ErrDeviceOffline
	}
	if t.emergencyHeat {
		return ErrEmergencyHeat
	}
	return nil
}

// gateLock rejects setpoint changes outside the lock range, and any
// setpoint change at all while locked in heat-cool mode.
func (t *ThermostatNode) gateLock(target float64) error {
	if !t.locked {
		return nil
	}
	if target > t.lockMax || target < t.lockMin {
		return fmt.Errorf("%w: %v outside [%v, %v]", ErrLocked, target, t.lockMin, t.lockMax)
	}
	if t.mode == "heat-cool" {
		return fmt.Errorf("%w: locked in heat-cool mode", ErrLocked)
	}
	return nil
}

// checkSetpoints enforces, in heat-cool mode, the ordering and minimum
// separation between the setpoint pair. Absolute range is checked on the
// changed value by the callers.
func (t *ThermostatNode) checkSetpoints(heat, cool float64) error {
	if t.mode == "heat-cool" {
		if heat >= cool {
			return fmt.Errorf("%w: heat %v must be below cool %v", ErrSetpointRange, heat, cool)
		}
		if cool-heat < t.profile.Split {
			return fmt.Errorf("%w: separation %v below minimum %v", ErrSetpointRange, cool-heat, t.profile.Split)
		}
	}
	return nil
}

func (t *ThermostatNode) setHeat(ctx context.Context, cmd Command) error {
	value, err := cmd.Num()
	if err != nil {
		return err
	}
	if t.mode != "heat" && t.mode != "heat-cool" {
		return fmt.Errorf("%w: heat setpoint in %s mode", ErrModeMismatch, t.mode)
	}
	if value == t.heatSP {
		return fmt.Errorf("%w: heat setpoint already %v", ErrNoChange, value)
	}
	if err := t.gateLock(value); err != nil {
		return err
	}
	if !t.profile.InRange(value) {
		return fmt.Errorf("%w: %v outside [%v, %v]", ErrSetpointRange, value, t.profile.Min, t.profile.Max)
	}
	if err := t.checkSetpoints(value, t.coolSP); err != nil {
		return err
	}
	return t.sendHeat(ctx, value)
}

func (t *ThermostatNode) setCool(ctx context.Context, cmd Command) error {
	value, err := cmd.Num()
	if err != nil {
		return err
	}
	if t.mode != "cool" && t.mode != "heat-cool" {
		return fmt.Errorf("%w: cool setpoint in %s mode", ErrModeMismatch, t.mode)
	}
	if value == t.coolSP {
		return fmt.Errorf("%w: cool setpoint already %v", ErrNoChange, value)
	}
	if err := t.gateLock(value); err != nil {
		return err
	}
	if !t.profile.InRange(value) {
		return fmt.Errorf("%w: %v outside [%v, %v]", ErrSetpointRange, value, t.profile.Min, t.profile.Max)
	}
	if err := t.checkSetpoints(t.heatSP, value); err != nil {
		return err
	}
	return t.sendCool(ctx, value)
}

// sendHeat applies a validated heat setpoint: optimistic cache update,
// driver publication, then the minimal outbound payload.
func (t *ThermostatNode) sendHeat(ctx context.Context, value float64) error {
	t.heatSP = value
	var key string
	if t.mode == "heat" {
		t.target = value
		key = "target_temperature" + t.profile.suffix()
	} else {
		key = "target_temperature_low" + t.profile.suffix()
	}
	t.drivers.set(driverHeatSP, value)
	t.drivers.flush()
	return t.sender.SendChange(ctx, t.setPath, map[string]any{key: value})
}

func (t *ThermostatNode) sendCool(ctx context.Context, value float64) error {
	t.coolSP = value
	var key string
	if t.mode == "cool" {
		t.target = value
		key = "target_temperature" + t.profile.suffix()
	} else {
		key = "target_temperature_high" + t.profile.suffix()
	}
	t.drivers.set(driverCoolSP, value)
	t.drivers.flush()
	return t.sender.SendChange(ctx, t.setPath, map[string]any{key: value})
}

func (t *ThermostatNode) setMode(ctx context.Context, cmd Command) error {
	value, err := cmd.Num()
	if err != nil {
		return err
	}
	name, ok := modeNames[int(value)]
	if !ok {
		return fmt.Errorf("%w: mode %v", ErrUnknownCommand, value)
	}
	if name == t.mode {
		return fmt.Errorf("%w: already in %s mode", ErrNoChange, name)
	}

	// Capability gate: the target mode must be achievable.
	switch name {
	case "heat":
		if !t.canHeat {
			return fmt.Errorf("%w: device cannot heat", ErrModeMismatch)
		}
	case "cool":
		if !t.canCool {
			return fmt.Errorf("%w: device cannot cool", ErrModeMismatch)
		}
	case "heat-cool", "eco":
		if !t.canHeat || !t.canCool {
			return fmt.Errorf("%w: %s mode needs both heating and cooling", ErrModeMismatch, name)
		}
	}

	t.mode = name
	t.drivers.set(driverMode, float64(int(value)))
	t.drivers.flush()
	return t.sender.SendChange(ctx, t.setPath, map[string]any{"hvac_mode": name})
}

func (t *ThermostatNode) setFan(ctx context.Context, cmd Command) error {
	value, err := cmd.Num()
	if err != nil {
		return err
	}
	if !t.hasFan {
		return ErrNoFan
	}
	active := value != 0
	if active == t.fanActive {
		return fmt.Errorf("%w: fan already %v", ErrNoChange, active)
	}
	t.fanActive = active
	t.drivers.setBool(driverFan, active)
	t.drivers.flush()
	return t.sender.SendChange(ctx, t.setPath, map[string]any{"fan_timer_active": active})
}

func (t *ThermostatNode) setFanTimer(ctx context.Context, cmd Command) error {
	value, err := cmd.Num()
	if err != nil {
		return err
	}
	if !t.hasFan {
		return ErrNoFan
	}
	if value == t.fanTimer {
		return fmt.Errorf("%w: fan timer already %v", ErrNoChange, value)
	}
	t.fanTimer = value
	t.drivers.set(driverFanTimer, value)
	t.drivers.flush()
	return t.sender.SendChange(ctx, t.setPath, map[string]any{"fan_timer_duration": int(value)})
}

// step handles BRT/DIM. In heat-cool mode the affected setpoint is the
// one numerically closer to the ambient temperature.
func (t *ThermostatNode) step(ctx context.Context, cmd string) error {
	var heating bool
	switch t.mode {
	case "heat":
		heating = true
	case "cool":
		heating = false
	case "heat-cool":
		heating = math.Abs(t.ambient-t.heatSP) < math.Abs(t.ambient-t.coolSP)
		if heating {
			t.logger.Debug("increment targets heat setpoint", "node", t.name)
		} else {
			t.logger.Debug("increment targets cool setpoint", "node", t.name)
		}
	default:
		return fmt.Errorf("%w: adjust in %s mode", ErrModeMismatch, t.mode)
	}

	current := t.coolSP
	if heating {
		current = t.heatSP
	}
	target := current + t.profile.Step
	if cmd == CmdDecrement {
		target = current - t.profile.Step
	}

	if !t.profile.InRange(target) {
		return fmt.Errorf("%w: %v outside [%v, %v]", ErrSetpointRange, target, t.profile.Min, t.profile.Max)
	}
	if err := t.gateLock(target); err != nil {
		return err
	}
	if heating {
		if err := t.checkSetpoints(target, t.coolSP); err != nil {
			return err
		}
		return t.sendHeat(ctx, target)
	}
	if err := t.checkSetpoints(t.heatSP, target); err != nil {
		return err
	}
	return t.sendCool(ctx, target)
}
