package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/exking/udi-nest2-poly/internal/nest"
)

// Protect driver keys.
const (
	driverSmokeState = "GV0"
	driverCOState    = "GV1"
	driverBattery    = "GV2"
	driverTestActive = "GV3"
	driverTestAge    = "GV4"
)

// Alarm severity values shared by the smoke and CO drivers.
const (
	alarmOK        = 0
	alarmWarning   = 1
	alarmEmergency = 2
)

// alarmSeverity maps vendor alarm states to driver values. Unknown states
// report as emergency so a protocol change never masks an alarm.
func alarmSeverity(state string) float64 {
	switch state {
	case "ok":
		return alarmOK
	case "warning":
		return alarmWarning
	default:
		return alarmEmergency
	}
}

// ProtectNode projects one smoke/CO detector. Detectors are read-only;
// the only command is a driver re-report.
type ProtectNode struct {
	address  string
	vendorID string
	name     string

	drivers *driverSet
	logger  Logger

	// now is the clock for the manual-test age driver; tests override it.
	now func() time.Time
}

// NewProtectNode creates a detector node for a discovered device.
func NewProtectNode(vendorID, name string, pub StatePublisher, logger Logger) *ProtectNode {
	address := nest.AddressOf(vendorID)
	return &ProtectNode{
		address:  address,
		vendorID: vendorID,
		name:     name,
		drivers:  newDriverSet(address, pub),
		logger:   logger,
		now:      time.Now,
	}
}

func (p *ProtectNode) Address() string  { return p.address }
func (p *ProtectNode) Name() string     { return p.name }
func (p *ProtectNode) Category() string { return CategoryProtect }

// Update re-reads the detector's state and publishes changed drivers.
func (p *ProtectNode) Update(snap *nest.Snapshot) {
	device, ok := snap.Devices.SmokeCOAlarms[p.vendorID]
	if !ok {
		return
	}

	p.drivers.setBool(driverOnline, device.IsOnline)
	p.drivers.set(driverSmokeState, alarmSeverity(device.SmokeAlarmState))
	p.drivers.set(driverCOState, alarmSeverity(device.COAlarmState))
	p.drivers.setBool(driverBattery, device.BatteryHealth == "ok")
	p.drivers.setBool(driverTestActive, device.IsManualTestActive)
	p.drivers.set(driverTestAge, p.manualTestAgeDays(device.LastManualTestTime))
	p.drivers.flush()
}

// manualTestAgeDays returns whole days since the last manual test, or -1
// when the detector has never been tested.
func (p *ProtectNode) manualTestAgeDays(lastTest string) float64 {
	tested, ok := zuluTime(lastTest)
	if !ok {
		return -1
	}
	age := p.now().Sub(tested)
	if age < 0 {
		return 0
	}
	return float64(int(age.Hours() / 24))
}

// Query republishes all drivers.
func (p *ProtectNode) Query() {
	p.drivers.report()
}

// Command executes one detector command.
func (p *ProtectNode) Command(_ context.Context, cmd Command) error {
	if cmd.Cmd == CmdQuery {
		p.Query()
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Cmd)
}
