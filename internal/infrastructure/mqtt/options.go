package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/exking/udi-nest2-poly/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// buildClientOptions creates paho MQTT options from bridge config.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID for identification
//   - Authentication credentials (if provided)
//   - Auto-reconnect with exponential backoff
//   - TLS configuration (if enabled)
//   - Clean session mode
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	// Broker URL
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	brokerURL := fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)
	opts.AddBroker(brokerURL)

	// Client identification. A random suffix keeps concurrent bridge
	// instances from evicting each other's broker session.
	clientID := cfg.Broker.ClientID
	if clientID == "" {
		clientID = "nestbridge-" + uuid.NewString()[:8]
	}
	opts.SetClientID(clientID)

	// Authentication (if credentials provided)
	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	// Clean session - start fresh on connect (no persistent session on broker)
	opts.SetCleanSession(true)

	// Auto-reconnect with exponential backoff
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)

	// Connection timeout
	opts.SetConnectTimeout(defaultConnectTimeout)

	// Keepalive - broker sends PINGs to detect dead connections
	opts.SetKeepAlive(defaultKeepAlive)

	// TLS configuration if enabled
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}

// statusPayload is the JSON body published to the system status topic,
// both as LWT (crashed) and on graceful connect/disconnect.
type statusPayload struct {
	ClientID  string `json:"client_id"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// configureLWT sets the Last Will and Testament so subscribers observe
// an unclean disconnect.
func configureLWT(opts *pahomqtt.ClientOptions, clientID string) {
	payload, _ := json.Marshal(statusPayload{ //nolint:errcheck // Static struct cannot fail to marshal
		ClientID: clientID,
		Status:   "crashed",
	})
	opts.SetWill(Topics{}.SystemStatus(), string(payload), 1, true)
}

// buildOnlinePayload builds the retained online status message.
func buildOnlinePayload(clientID string) []byte {
	payload, _ := json.Marshal(statusPayload{ //nolint:errcheck // Static struct cannot fail to marshal
		ClientID:  clientID,
		Status:    "online",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return payload
}

// buildOfflinePayload builds the retained graceful offline status message.
func buildOfflinePayload(clientID string) []byte {
	payload, _ := json.Marshal(statusPayload{ //nolint:errcheck // Static struct cannot fail to marshal
		ClientID:  clientID,
		Status:    "offline",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return payload
}
