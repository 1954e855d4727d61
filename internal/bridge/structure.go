package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/exking/udi-nest2-poly/internal/nest"
)

// Structure driver keys and away states.
const (
	driverAway     = "ST"
	driverRushHour = "GV0"

	awayStateHome = 1
	awayStateAway = 2
)

// StructureNode projects one vendor structure: the away state and a
// rush-hour-rewards peak period indicator.
type StructureNode struct {
	address  string
	vendorID string
	name     string
	setPath  string

	drivers *driverSet
	sender  ChangeSender
	logger  Logger

	away bool

	// now is the clock for the peak period check; tests override it.
	now func() time.Time
}

// NewStructureNode creates a structure node for a discovered structure.
func NewStructureNode(vendorID, name string, pub StatePublisher, sender ChangeSender, logger Logger) *StructureNode {
	address := nest.AddressOf(vendorID)
	return &StructureNode{
		address:  address,
		vendorID: vendorID,
		name:     name,
		setPath:  "/structures/" + vendorID,
		drivers:  newDriverSet(address, pub),
		sender:   sender,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *StructureNode) Address() string  { return s.address }
func (s *StructureNode) Name() string     { return s.name }
func (s *StructureNode) Category() string { return CategoryStructure }

// Update re-reads the structure's state and publishes changed drivers.
func (s *StructureNode) Update(snap *nest.Snapshot) {
	structure, ok := snap.Structures[s.vendorID]
	if !ok {
		return
	}

	s.away = structure.Away == "away"
	if s.away {
		s.drivers.set(driverAway, awayStateAway)
	} else {
		s.drivers.set(driverAway, awayStateHome)
	}

	s.drivers.setBool(driverRushHour, s.inRushHour(structure))
	s.drivers.flush()
}

// inRushHour reports whether a rush-hour-rewards peak period is active.
func (s *StructureNode) inRushHour(structure nest.Structure) bool {
	if !structure.RHREnrollment {
		return false
	}
	start, okStart := zuluTime(structure.PeakPeriodStartTime)
	end, okEnd := zuluTime(structure.PeakPeriodEndTime)
	if !okStart || !okEnd {
		return false
	}
	now := s.now().UTC()
	return now.After(start) && now.Before(end)
}

// Query republishes all drivers.
func (s *StructureNode) Query() {
	s.drivers.report()
}

// Command validates and executes one structure command.
func (s *StructureNode) Command(ctx context.Context, cmd Command) error {
	switch cmd.Cmd {
	case CmdQuery:
		s.Query()
		return nil
	case CmdSetAway:
		err := s.setAway(ctx, cmd)
		if err != nil {
			s.logger.Info("command rejected", "node", s.name, "cmd", cmd.Cmd, "reason", err)
		}
		return err
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Cmd)
	}
}

// setAway switches the structure between home and away, rejecting no-ops.
func (s *StructureNode) setAway(ctx context.Context, cmd Command) error {
	value, err := cmd.Num()
	if err != nil {
		return err
	}

	var target string
	switch int(value) {
	case awayStateHome:
		target = "home"
	case awayStateAway:
		target = "away"
	default:
		return fmt.Errorf("%w: away state %v", ErrUnknownCommand, value)
	}

	if (target == "away") == s.away {
		return fmt.Errorf("%w: structure already %s", ErrNoChange, target)
	}

	s.away = target == "away"
	s.drivers.set(driverAway, value)
	s.drivers.flush()
	return s.sender.SendChange(ctx, s.setPath, map[string]any{"away": target})
}
