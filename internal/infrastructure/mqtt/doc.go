// Package mqtt provides the MQTT transport for the Nest bridge.
//
// It wraps the Eclipse Paho MQTT client with connection lifecycle management,
// automatic subscription restoration after reconnects, and the bridge's topic
// scheme for node state, commands, events, and system status.
//
// # Features
//
//   - Automatic reconnection with exponential backoff
//   - Last Will and Testament (LWT) for crash detection
//   - Graceful online/offline status publishing
//   - Subscription tracking and restore-on-reconnect
//   - Panic recovery in message handlers
//   - Type-safe topic construction via Topics
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return fmt.Errorf("mqtt connect: %w", err)
//	}
//	defer client.Close()
//
//	topics := mqtt.Topics{}
//	err = client.Subscribe(topics.AllCommands(), 1, func(topic string, payload []byte) error {
//	    address, ok := topics.CommandAddress(topic)
//	    if !ok {
//	        return nil
//	    }
//	    return controller.Dispatch(address, payload)
//	})
//
// # Topic Scheme
//
// Per-node driver state is published retained to nest/state/<address> so that
// consumers receive the current state on subscribe. Commands arrive on
// nest/command/<address>. The bridge's own status (online, offline, crashed)
// is retained on nest/system/status, with "crashed" delivered by the broker
// via LWT when the connection drops uncleanly.
package mqtt
