package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/exking/udi-nest2-poly/internal/auth"
	"github.com/exking/udi-nest2-poly/internal/infrastructure/config"
	"github.com/exking/udi-nest2-poly/internal/infrastructure/database"
	"github.com/exking/udi-nest2-poly/internal/infrastructure/mqtt"
	"github.com/exking/udi-nest2-poly/internal/nest"
)

// Bus is the message transport consumed by the controller.
// Satisfied by mqtt.Client.
type Bus interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// VendorClient is the authenticated REST surface consumed by the
// controller and its nodes. Satisfied by nest.Client.
type VendorClient interface {
	Fetch(ctx context.Context) (*nest.Snapshot, error)
	SendChange(ctx context.Context, path string, payload map[string]any) error
}

// EventStream is the streaming surface consumed by the watchdog.
// Satisfied by nest.Stream.
type EventStream interface {
	Run(ctx context.Context) error
	State() nest.StreamState
	LastActivity() time.Time
	Alive() bool
	Degrade()
}

// NodePersister records discovered nodes. Satisfied by database.NodeStore.
type NodePersister interface {
	Save(ctx context.Context, record database.NodeRecord) error
}

// Broadcaster fans node state out to live feeds (the websocket hub).
type Broadcaster interface {
	Broadcast(message any)
}

// Live feed message types.
const (
	MessageTypeState = "state"
	MessageTypeEvent = "event"
)

// StateMessage is a driver state broadcast.
type StateMessage struct {
	Type    string             `json:"type"`
	Address string             `json:"address"`
	Drivers map[string]float64 `json:"drivers"`
}

// EventMessage is a discrete node event broadcast.
type EventMessage struct {
	Type    string `json:"type"`
	Address string `json:"address"`
	Event   string `json:"event"`
}

// NodeInfo describes one registered node for status reporting.
type NodeInfo struct {
	Address  string `json:"address"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// Status is the controller state exposed over the HTTP API.
type Status struct {
	Mode             string    `json:"mode"`
	Authorized       bool      `json:"authorized"`
	CredentialSource string    `json:"credential_source,omitempty"`
	StreamState      string    `json:"stream_state"`
	StreamLastUpdate time.Time `json:"stream_last_update"`
	NodeCount        int       `json:"node_count"`
	ProfileVersion   string    `json:"profile_version"`
}

// ControllerOptions wires a Controller's collaborators.
type ControllerOptions struct {
	Config   *config.Config
	Logger   Logger
	Sessions *auth.SessionStore
	Flow     *auth.Flow
	Client   VendorClient
	Store    *nest.Store
	Bus      Bus
	Nodes    NodePersister
	Hub      Broadcaster

	// NewStream builds the event stream; defaults to nest.NewStream.
	// Tests substitute a fake.
	NewStream func(opts nest.StreamOptions) EventStream

	// Now returns the current time; defaults to time.Now.
	Now func() time.Time
}

// Controller owns the bridge lifecycle: credential resolution, discovery,
// the event stream, and the two scheduling ticks.
//
// All host-driven entry points (ticks, bus commands, API calls) serialise
// on one mutex and never overlap. The stream goroutine runs concurrently
// and only touches the atomically-swapped snapshot store; its update
// callback re-enters the controller through the same mutex.
type Controller struct {
	opts   ControllerOptions
	topics mqtt.Topics

	mu    sync.Mutex
	nodes map[string]Node

	stream     EventStream
	streamOnce bool

	forceUpdate       bool
	rediscoveryNeeded bool
	discovering       bool

	fatal chan error

	// runCtx bounds the tick loops and every stream task; set by Start.
	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewController creates a Controller.
func NewController(opts ControllerOptions) *Controller {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewStream == nil {
		opts.NewStream = func(streamOpts nest.StreamOptions) EventStream {
			return nest.NewStream(streamOpts)
		}
	}
	return &Controller{
		opts:  opts,
		nodes: make(map[string]Node),
		fatal: make(chan error, 1),
	}
}

// Fatal delivers unrecoverable conditions (a wedged stream) to the
// supervisor, which restarts the process.
func (c *Controller) Fatal() <-chan error {
	return c.fatal
}

// Start brings the bridge up: profile check, credential resolution,
// initial discovery, streaming, bus subscription, and the tick loops.
//
// A missing credential is not an error; the authorization flow is opened
// and the fast tick carries it forward.
func (c *Controller) Start(ctx context.Context) error {
	c.opts.Logger.Info("starting bridge controller", "mode", c.opts.Config.Bridge.Mode)

	runCtx, cancel := context.WithCancel(context.Background())
	c.runCtx = runCtx
	c.cancel = cancel

	c.mu.Lock()
	defer c.mu.Unlock()

	c.checkProfile(ctx)

	if err := c.opts.Bus.Subscribe(c.topics.AllCommands(), 1, c.handleBusCommand); err != nil {
		cancel()
		return fmt.Errorf("bridge: subscribe to commands: %w", err)
	}

	if c.resolveCredential(ctx) {
		if err := c.discoverLocked(ctx); err != nil {
			c.opts.Logger.Error("initial discovery failed", "error", err)
			c.rediscoveryNeeded = true
		}
		c.checkStreamingLocked()
	}

	c.wg.Add(1)
	go c.run(runCtx)
	return nil
}

// Stop shuts the tick loops and the stream down.
func (c *Controller) Stop() {
	c.opts.Logger.Info("bridge controller stopping")
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// run drives the two scheduling ticks until shutdown.
func (c *Controller) run(ctx context.Context) {
	defer c.wg.Done()

	short := time.NewTicker(c.opts.Config.ShortPollInterval())
	long := time.NewTicker(c.opts.Config.LongPollInterval())
	defer short.Stop()
	defer long.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-short.C:
			c.ShortPoll(ctx)
		case <-long.C:
			c.LongPoll(ctx)
		}
	}
}

// checkProfile compares the persisted profile version against the
// configured one; a mismatch forces a full driver re-push on discovery.
func (c *Controller) checkProfile(ctx context.Context) {
	current := c.opts.Config.Bridge.ProfileVersion
	stored := c.opts.Sessions.StoredProfileVersion(ctx)
	if stored == current {
		return
	}
	c.opts.Logger.Info("new profile version detected, all nodes will be updated",
		"stored", stored, "current", current)
	c.forceUpdate = true
	if err := c.opts.Sessions.SetProfileVersion(ctx, current); err != nil {
		c.opts.Logger.Error("persisting profile version", "error", err)
	}
}

// resolveCredential loads a credential or opens the authorization flow.
// Returns true when a usable credential is held.
func (c *Controller) resolveCredential(ctx context.Context) bool {
	if _, ok := c.opts.Sessions.Current(); ok {
		return true
	}
	if _, err := c.opts.Sessions.Resolve(ctx); err == nil {
		return true
	} else if !errors.Is(err, auth.ErrNoCredential) {
		c.opts.Logger.Error("credential resolution failed", "error", err)
	}

	// An operator-supplied PIN short-circuits the interactive flow.
	if pin := c.opts.Config.Nest.Pin; pin != "" {
		if c.exchangePin(ctx, pin) {
			return true
		}
	}

	link := c.opts.Flow.Begin()
	c.publishNotice(fmt.Sprintf("Visit %s to link your Nest account", link))
	return false
}

// exchangePin trades a PIN for a token and stores it.
func (c *Controller) exchangePin(ctx context.Context, pin string) bool {
	token, expiresIn, err := c.opts.Flow.Exchange(ctx, pin)
	if err != nil {
		c.opts.Logger.Error("pin exchange failed", "error", err)
		return false
	}
	c.opts.Sessions.StoreFresh(ctx, token, expiresIn)
	return true
}

// ShortPoll is the fast tick: it advances a pending cloud authorization
// by polling the PIN retrieval proxy once.
func (c *Controller) ShortPoll(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.opts.Sessions.Current(); ok {
		return
	}
	if c.opts.Config.Bridge.Mode != config.ModeCloud || !c.opts.Flow.Pending() {
		return
	}

	pin, err := c.opts.Flow.PollPin(ctx)
	switch {
	case err == nil:
		if c.exchangePin(ctx, pin) {
			if err := c.discoverLocked(ctx); err != nil {
				c.opts.Logger.Error("discovery after authorization failed", "error", err)
				c.rediscoveryNeeded = true
			}
			c.checkStreamingLocked()
		}
	case errors.Is(err, auth.ErrPinPending):
		// Operator has not completed the login yet.
	case errors.Is(err, auth.ErrAttemptsExhausted):
		c.publishNotice("Authorization timed out. Restart the bridge to try again.")
	default:
		c.opts.Logger.Error("pin poll failed", "error", err)
	}
}

// LongPoll is the slow tick: pending rediscovery and the stream watchdog.
func (c *Controller) LongPoll(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rediscoveryNeeded {
		if err := c.discoverLocked(ctx); err != nil {
			c.opts.Logger.Error("rediscovery failed", "error", err)
			return
		}
		c.rediscoveryNeeded = false
	}
	c.checkStreamingLocked()
}

// checkStreamingLocked enforces stream health. Caller holds the mutex.
func (c *Controller) checkStreamingLocked() {
	if c.runCtx == nil || c.runCtx.Err() != nil {
		return
	}
	if _, ok := c.opts.Sessions.Current(); !ok || c.discovering {
		return
	}

	if !c.streamOnce {
		c.opts.Logger.Debug("starting event stream for the first time")
		c.startStream()
		return
	}

	if c.stream.Alive() {
		if c.stream.State() == nest.StreamOpen {
			stale := c.opts.Now().Sub(c.stream.LastActivity())
			if window := c.opts.Config.StreamStaleWindow(); stale > window {
				c.opts.Logger.Error("no stream updates beyond staleness window, restarting the bridge",
					"stale", stale.String(), "window", window.String())
				c.reportFatal(fmt.Errorf("bridge: stream stale for %s", stale))
			}
		}
		return
	}

	c.opts.Logger.Warn("event stream task died, restarting")
	c.stream.Degrade()
	c.startStream()
}

// startStream launches one stream task in the background.
func (c *Controller) startStream() {
	stream := c.opts.NewStream(nest.StreamOptions{
		URL:           c.opts.Config.Nest.APIURL,
		Token:         c.opts.Sessions.Token,
		Store:         c.opts.Store,
		OnUpdate:      c.onStreamUpdate,
		OnAuthRevoked: c.onAuthRevoked,
		Logger:        c.opts.Logger,
	})
	c.stream = stream
	c.streamOnce = true

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := stream.Run(c.runCtx); err != nil {
			c.opts.Logger.Warn("event stream ended", "error", err)
		}
	}()
}

// onStreamUpdate runs on the stream goroutine after each snapshot
// replacement and synchronises all nodes.
func (c *Controller) onStreamUpdate(snap *nest.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, node := range c.nodes {
		node.Update(snap)
	}
}

// onAuthRevoked clears the credential so the next cycle re-enters the
// authorization flow.
func (c *Controller) onAuthRevoked() {
	c.opts.Sessions.Clear()
	c.publishNotice("Nest authorization was revoked. Re-link your account.")
}

// Discover runs a discovery pass. Exposed to the HTTP API.
func (c *Controller) Discover(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.discoverLocked(ctx)
}

// discoverLocked fetches a snapshot and registers one node per vendor
// object. Idempotent: known addresses are skipped. Caller holds the mutex.
func (c *Controller) discoverLocked(ctx context.Context) error {
	if _, ok := c.opts.Sessions.Current(); !ok {
		return ErrNotReady
	}

	c.opts.Logger.Info("discovering Nest products")
	c.discovering = true
	defer func() { c.discovering = false }()

	snap, err := c.opts.Client.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("bridge: discovery fetch: %w", err)
	}

	if len(snap.Structures) == 0 {
		return ErrNoStructures
	}

	// Seed the shared store so nodes have data before the stream's first
	// put event arrives.
	if c.opts.Store.Load() == nil {
		c.opts.Store.Replace(snap)
	}

	c.opts.Logger.Info("discovery snapshot received",
		"structures", len(snap.Structures),
		"thermostats", len(snap.Devices.Thermostats),
		"smoke_co_alarms", len(snap.Devices.SmokeCOAlarms),
		"cameras", len(snap.Devices.Cameras))

	for vendorID, structure := range snap.Structures {
		c.addNode(ctx, snap, vendorID, structure.Name,
			func() Node {
				return NewStructureNode(vendorID, structure.Name, c, c.opts.Client, c.opts.Logger)
			})
	}
	for vendorID, device := range snap.Devices.Thermostats {
		c.addNode(ctx, snap, vendorID, device.Name,
			func() Node {
				profile := ProfileForScale(device.TemperatureScale)
				return NewThermostatNode(vendorID, device.Name, profile, c, c.opts.Client, c.opts.Logger)
			})
	}
	for vendorID, device := range snap.Devices.SmokeCOAlarms {
		c.addNode(ctx, snap, vendorID, device.Name,
			func() Node {
				return NewProtectNode(vendorID, device.Name, c, c.opts.Logger)
			})
	}
	for vendorID, device := range snap.Devices.Cameras {
		c.addNode(ctx, snap, vendorID, device.Name,
			func() Node {
				return NewCameraNode(vendorID, device.Name, c, c.opts.Client, c.opts.Logger)
			})
	}

	c.forceUpdate = false
	return nil
}

// addNode registers a node unless its address is already known. When a
// profile bump is pending, known nodes re-push all drivers instead.
func (c *Controller) addNode(ctx context.Context, snap *nest.Snapshot, vendorID, name string, build func() Node) {
	address := nest.AddressOf(vendorID)
	if existing, ok := c.nodes[address]; ok {
		if c.forceUpdate {
			existing.Query()
		}
		return
	}

	node := build()
	c.nodes[address] = node
	c.opts.Logger.Info("node added", "address", address, "name", name, "category", node.Category())

	if c.opts.Nodes != nil {
		record := database.NodeRecord{
			Address:  address,
			VendorID: vendorID,
			Category: node.Category(),
			Name:     name,
		}
		if err := c.opts.Nodes.Save(ctx, record); err != nil {
			c.opts.Logger.Error("persisting node", "address", address, "error", err)
		}
	}

	c.announceNode(address, name, node.Category())
	node.Update(snap)
}

// announceNode publishes a discovery announcement to the bus.
func (c *Controller) announceNode(address, name, category string) {
	payload, _ := json.Marshal(NodeInfo{ //nolint:errcheck // Static struct cannot fail to marshal
		Address:  address,
		Name:     name,
		Category: category,
	})
	if err := c.opts.Bus.Publish(c.topics.Discovery(), payload, 1, false); err != nil {
		c.opts.Logger.Error("publishing discovery announcement", "error", err)
	}
}

// handleBusCommand dispatches one bus command to its node.
func (c *Controller) handleBusCommand(topic string, payload []byte) error {
	address, ok := c.topics.CommandAddress(topic)
	if !ok {
		return fmt.Errorf("%w: topic %s", ErrNodeNotFound, topic)
	}
	cmd, err := ParseCommand(payload)
	if err != nil {
		return err
	}
	return c.Dispatch(context.Background(), address, cmd)
}

// Dispatch routes a command to the node owning the address.
func (c *Controller) Dispatch(ctx context.Context, address string, cmd Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.nodes[address]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, address)
	}
	return node.Command(ctx, cmd)
}

// PublishState implements StatePublisher: retained driver state on the
// bus plus a live-feed broadcast.
func (c *Controller) PublishState(address string, drivers map[string]float64) {
	message := StateMessage{Type: MessageTypeState, Address: address, Drivers: drivers}
	payload, err := json.Marshal(message)
	if err != nil {
		c.opts.Logger.Error("encoding driver state", "address", address, "error", err)
		return
	}
	if err := c.opts.Bus.Publish(c.topics.NodeState(address), payload, 1, true); err != nil {
		c.opts.Logger.Error("publishing driver state", "address", address, "error", err)
	}
	if c.opts.Hub != nil {
		c.opts.Hub.Broadcast(message)
	}
}

// PublishEvent implements StatePublisher: discrete node events.
func (c *Controller) PublishEvent(address, event string) {
	message := EventMessage{Type: MessageTypeEvent, Address: address, Event: event}
	payload, _ := json.Marshal(message) //nolint:errcheck // Static struct cannot fail to marshal
	if err := c.opts.Bus.Publish(c.topics.NodeEvent(address), payload, 1, false); err != nil {
		c.opts.Logger.Error("publishing node event", "address", address, "error", err)
	}
	if c.opts.Hub != nil {
		c.opts.Hub.Broadcast(message)
	}
}

// publishNotice surfaces an operator-facing notice on the bus and the log.
func (c *Controller) publishNotice(text string) {
	c.opts.Logger.Warn(text)
	payload, _ := json.Marshal(map[string]string{ //nolint:errcheck // Static map cannot fail to marshal
		"message":   text,
		"timestamp": c.opts.Now().UTC().Format(time.RFC3339),
	})
	if err := c.opts.Bus.Publish(c.topics.SystemNotice(), payload, 1, false); err != nil {
		c.opts.Logger.Error("publishing notice", "error", err)
	}
}

// reportFatal delivers a fatal condition without blocking.
func (c *Controller) reportFatal(err error) {
	select {
	case c.fatal <- err:
	default:
	}
}

// AuthLink returns the pending authorization link, if any.
func (c *Controller) AuthLink() (string, bool) {
	return c.opts.Flow.AuthorizationURL()
}

// SubmitPin completes a self-hosted authorization with an operator PIN.
func (c *Controller) SubmitPin(ctx context.Context, pin string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.exchangePin(ctx, pin) {
		return auth.ErrExchangeFailed
	}
	if err := c.discoverLocked(ctx); err != nil {
		c.opts.Logger.Error("discovery after authorization failed", "error", err)
		c.rediscoveryNeeded = true
	}
	c.checkStreamingLocked()
	return nil
}

// RevokeAuth revokes the stored credential with the vendor and clears
// every local copy. The bridge re-enters the authorization flow on the
// next cycle.
func (c *Controller) RevokeAuth(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.opts.Sessions.Revoke(ctx); err != nil {
		return err
	}
	c.publishNotice("Nest authorization revoked by operator. Re-link your account to resume.")
	return nil
}

// Status reports controller state for the HTTP API.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := Status{
		Mode:           c.opts.Config.Bridge.Mode,
		ProfileVersion: c.opts.Config.Bridge.ProfileVersion,
		NodeCount:      len(c.nodes),
		StreamState:    nest.StreamClosed.String(),
	}
	if cred, ok := c.opts.Sessions.Current(); ok {
		status.Authorized = true
		status.CredentialSource = cred.Source.String()
	}
	if c.streamOnce {
		status.StreamState = c.stream.State().String()
		status.StreamLastUpdate = c.stream.LastActivity()
	}
	return status
}

// Nodes lists registered nodes for the HTTP API.
func (c *Controller) Nodes() []NodeInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	infos := make([]NodeInfo, 0, len(c.nodes))
	for address, node := range c.nodes {
		infos = append(infos, NodeInfo{
			Address:  address,
			Name:     node.Name(),
			Category: node.Category(),
		})
	}
	return infos
}
