package bridge

import (
	"context"
	"fmt"

	"github.com/exking/udi-nest2-poly/internal/nest"
)

// Camera driver keys.
const (
	driverStreaming = "GV0"
	driverMotion    = "GV1"
	driverPerson    = "GV2"
	driverSound     = "GV3"
)

// CameraNode projects one camera: online and streaming state plus the
// motion/person/sound flags of the most recent activity event.
type CameraNode struct {
	address  string
	vendorID string
	name     string
	setPath  string

	drivers *driverSet
	sender  ChangeSender
	logger  Logger

	online    bool
	streaming bool
}

// NewCameraNode creates a camera node for a discovered device.
func NewCameraNode(vendorID, name string, pub StatePublisher, sender ChangeSender, logger Logger) *CameraNode {
	address := nest.AddressOf(vendorID)
	return &CameraNode{
		address:  address,
		vendorID: vendorID,
		name:     name,
		setPath:  "/devices/cameras/" + vendorID,
		drivers:  newDriverSet(address, pub),
		sender:   sender,
		logger:   logger,
	}
}

func (c *CameraNode) Address() string  { return c.address }
func (c *CameraNode) Name() string     { return c.name }
func (c *CameraNode) Category() string { return CategoryCamera }

// Update re-reads the camera's state and publishes changed drivers.
func (c *CameraNode) Update(snap *nest.Snapshot) {
	device, ok := snap.Devices.Cameras[c.vendorID]
	if !ok {
		return
	}

	c.online = device.IsOnline
	c.streaming = device.IsStreaming

	c.drivers.setBool(driverOnline, c.online)
	c.drivers.setBool(driverStreaming, c.streaming)
	c.drivers.setBool(driverMotion, device.LastEvent.HasMotion)
	c.drivers.setBool(driverPerson, device.LastEvent.HasPerson)
	c.drivers.setBool(driverSound, device.LastEvent.HasSound)
	c.drivers.flush()
}

// Query republishes all drivers.
func (c *CameraNode) Query() {
	c.drivers.report()
}

// Command validates and executes one camera command.
func (c *CameraNode) Command(ctx context.Context, cmd Command) error {
	switch cmd.Cmd {
	case CmdQuery:
		c.Query()
		return nil
	case CmdSetStream:
		err := c.setStream(ctx, cmd)
		if err != nil {
			c.logger.Info("command rejected", "node", c.name, "cmd", cmd.Cmd, "reason", err)
		}
		return err
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Cmd)
	}
}

// setStream switches camera streaming on or off, rejecting no-ops and
// commands to offline cameras.
func (c *CameraNode) setStream(ctx context.Context, cmd Command) error {
	value, err := cmd.Num()
	if err != nil {
		return err
	}
	if !c.online {
		return ErrDeviceOffline
	}
	target := value != 0
	if target == c.streaming {
		return fmt.Errorf("%w: streaming already %v", ErrNoChange, target)
	}

	c.streaming = target
	c.drivers.setBool(driverStreaming, target)
	c.drivers.flush()
	return c.sender.SendChange(ctx, c.setPath, map[string]any{"is_streaming": target})
}
