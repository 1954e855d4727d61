package bridge

import (
	"context"
	"errors"
	"testing"

	"github.com/exking/udi-nest2-poly/internal/nest"
)

const cameraVendorID = "awJo6rH0IldT2YlIVtYaGQ"

func cameraSnapshot(device nest.Camera) *nest.Snapshot {
	return &nest.Snapshot{
		Devices: nest.Devices{
			Cameras: map[string]nest.Camera{cameraVendorID: device},
		},
	}
}

func newTestCamera(t *testing.T, device nest.Camera) (*CameraNode, *fakePublisher, *fakeSender) {
	t.Helper()
	pub := &fakePublisher{}
	sender := &fakeSender{}
	node := NewCameraNode(cameraVendorID, device.Name, pub, sender, discardLogger())
	node.Update(cameraSnapshot(device))
	return node, pub, sender
}

func TestCameraUpdatePublishesActivityFlags(t *testing.T) {
	_, pub, _ := newTestCamera(t, nest.Camera{
		Name:        "Porch",
		IsOnline:    true,
		IsStreaming: true,
		LastEvent: nest.CameraEvent{
			HasMotion: true,
			HasPerson: true,
			HasSound:  false,
		},
	})

	drivers := pub.last(t)
	checks := map[string]float64{
		driverOnline:    1,
		driverStreaming: 1,
		driverMotion:    1,
		driverPerson:    1,
		driverSound:     0,
	}
	for driver, want := range checks {
		if got := drivers[driver]; got != want {
			t.Errorf("driver %s = %v, want %v", driver, got, want)
		}
	}
}

func TestCameraSetStream(t *testing.T) {
	node, _, sender := newTestCamera(t, nest.Camera{Name: "Porch", IsOnline: true, IsStreaming: false})

	if err := node.Command(context.Background(), Command{Cmd: CmdSetStream, Value: num(1)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	call := sender.calls[0]
	if call.path != "/devices/cameras/"+cameraVendorID {
		t.Errorf("unexpected path %s", call.path)
	}
	if got := call.payload["is_streaming"]; got != true {
		t.Errorf("expected is_streaming=true, got %v", got)
	}
}

func TestCameraSetStreamNoOpRejected(t *testing.T) {
	node, _, sender := newTestCamera(t, nest.Camera{Name: "Porch", IsOnline: true, IsStreaming: true})

	err := node.Command(context.Background(), Command{Cmd: CmdSetStream, Value: num(1)})
	if !errors.Is(err, ErrNoChange) {
		t.Fatalf("expected ErrNoChange, got %v", err)
	}
	if len(sender.calls) != 0 {
		t.Errorf("expected no outbound request, got %d", len(sender.calls))
	}
}

func TestCameraSetStreamOfflineRejected(t *testing.T) {
	node, _, sender := newTestCamera(t, nest.Camera{Name: "Porch", IsOnline: false, IsStreaming: false})

	err := node.Command(context.Background(), Command{Cmd: CmdSetStream, Value: num(1)})
	if !errors.Is(err, ErrDeviceOffline) {
		t.Fatalf("expected ErrDeviceOffline, got %v", err)
	}
	if len(sender.calls) != 0 {
		t.Errorf("expected no outbound request, got %d", len(sender.calls))
	}
}
