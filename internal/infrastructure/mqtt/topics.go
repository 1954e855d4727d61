package mqtt

import "fmt"

// Topic prefix for all bridge topics.
const topicPrefix = "nest"

// Topics provides type-safe construction of the bridge's MQTT topic scheme.
//
// Topic Layout:
//   - nest/state/<address>    Retained per-node driver state (JSON object)
//   - nest/command/<address>  Incoming commands for a node
//   - nest/event/<address>    Discrete node events (non-retained)
//   - nest/discovery          Node add/remove announcements
//   - nest/system/status      Bridge online/offline/crashed status (retained, LWT)
//   - nest/system/notice      Operator-facing notices (auth prompts, errors)
//
// The zero value is ready to use:
//
//	topic := mqtt.Topics{}.NodeState("1a2b3c4d5e6f70")
type Topics struct{}

// NodeState returns the retained state topic for a node address.
func (Topics) NodeState(address string) string {
	return fmt.Sprintf("%s/state/%s", topicPrefix, address)
}

// NodeCommand returns the command topic for a node address.
func (Topics) NodeCommand(address string) string {
	return fmt.Sprintf("%s/command/%s", topicPrefix, address)
}

// AllCommands returns the wildcard filter matching every node command topic.
func (Topics) AllCommands() string {
	return fmt.Sprintf("%s/command/+", topicPrefix)
}

// NodeEvent returns the event topic for a node address.
func (Topics) NodeEvent(address string) string {
	return fmt.Sprintf("%s/event/%s", topicPrefix, address)
}

// Discovery returns the topic for node add/remove announcements.
func (Topics) Discovery() string {
	return fmt.Sprintf("%s/discovery", topicPrefix)
}

// SystemStatus returns the bridge status topic (also used for LWT).
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", topicPrefix)
}

// SystemNotice returns the operator notice topic.
func (Topics) SystemNotice() string {
	return fmt.Sprintf("%s/system/notice", topicPrefix)
}

// CommandAddress extracts the node address from a command topic.
//
// Returns the address and true when the topic matches the command scheme,
// or "" and false otherwise.
func (Topics) CommandAddress(topic string) (string, bool) {
	prefix := topicPrefix + "/command/"
	if len(topic) <= len(prefix) || topic[:len(prefix)] != prefix {
		return "", false
	}
	address := topic[len(prefix):]
	for i := 0; i < len(address); i++ {
		if address[i] == '/' {
			return "", false
		}
	}
	return address, true
}
