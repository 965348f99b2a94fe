package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultNodeConfigFilename is the default settings file for the node agent.
	DefaultNodeConfigFilename = "alarm-node-settings.yaml"
	// DefaultCentralConfigFilename is the default settings file for the central server.
	DefaultCentralConfigFilename = "alarm-central-settings.yaml"

	// DefaultPingInterval is the default keepalive interval in seconds.
	DefaultPingInterval = 10
	// DefaultEgressDelay is the default egress grace window in seconds.
	DefaultEgressDelay = 30
	// DefaultPostCallGrace is how long an idle secondary session is kept
	// parked before teardown, in seconds.
	DefaultPostCallGrace = 5
	// DefaultIPLossTolerance is the server-side silence tolerance in seconds
	// before a client is declared disconnected.
	DefaultIPLossTolerance = 30
	// DefaultSweepInterval is the server sweep tick in seconds.
	DefaultSweepInterval = 1
	// DefaultGPIOPollInterval is the sensor poll tick in milliseconds.
	DefaultGPIOPollInterval = 250

	// DefaultFilePermissions is the default file permission for settings files.
	DefaultFilePermissions = 0o600
)

var (
	// errClientIDRequired is returned when a client identifier is missing.
	errClientIDRequired = errors.New("client id must be provided")
	// errPINRequired is returned when a client PIN is missing.
	errPINRequired = errors.New("client pin must be provided")
	// errServerAddressRequired is returned when the primary server address is missing.
	errServerAddressRequired = errors.New("server address must be provided")
	// errListenAddressRequired is returned when the central listen address is missing.
	errListenAddressRequired = errors.New("listen address must be provided")
	// errNoClientsConfigured is returned when the central has no clients to serve.
	errNoClientsConfigured = errors.New("at least one client must be configured")
	// errDuplicateSensorID is returned when two sensors share an identifier.
	errDuplicateSensorID = errors.New("duplicate sensor id")
	// errDuplicateClientID is returned when two clients share an identifier.
	errDuplicateClientID = errors.New("duplicate client id")
)

// SensorSettings describes one physical sensor attached to a node.
type SensorSettings struct {
	// ID identifies the sensor in events and logs.
	ID string `yaml:"id"`
	// DisarmDelay is the grace period in seconds between a trigger and a
	// breach unless a disarm arrives first. Zero means the sensor never
	// causes an alarm.
	DisarmDelay int `yaml:"disarm_delay"`
	// GPIOPin is the periph pin name (e.g. "GPIO17") the sensor is wired to.
	// Empty means the sensor is driven only by external signals.
	GPIOPin string `yaml:"gpio_pin,omitempty"`
	// GPIOMode is the circuit mode: "NC" (normally closed) or "NO" (normally open).
	GPIOMode string `yaml:"gpio_mode,omitempty"`
}

// NodeSettings holds configuration for one alarm-node agent.
type NodeSettings struct {
	// ClientID identifies this node to the central server.
	ClientID string `yaml:"client_id"`
	// PIN authenticates this node to the central server.
	PIN string `yaml:"pin"`
	// ServerAddress is the central server's primary (UDP) address.
	ServerAddress string `yaml:"server_addr"`
	// SecondaryAddress is the central server's secondary (session) address.
	// Empty disables failover.
	SecondaryAddress string `yaml:"secondary_addr,omitempty"`
	// PingInterval is the keepalive interval in seconds.
	PingInterval int `yaml:"ping_interval"`
	// EgressDelay is the egress grace window in seconds after arming.
	EgressDelay int `yaml:"egress_delay"`
	// PostCallGrace is how long an idle secondary session stays parked, in seconds.
	PostCallGrace int `yaml:"post_call_grace"`
	// GPIOPollInterval is the sensor poll tick in milliseconds.
	GPIOPollInterval int `yaml:"gpio_poll_ms"`
	// Sensors lists the sensors owned by this node.
	Sensors []SensorSettings `yaml:"sensors"`
	// SnapshotPath persists sequence numbering and alarm state across
	// restarts. Empty disables persistence.
	SnapshotPath string `yaml:"snapshot_path,omitempty"`
	// LogLevel sets logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level,omitempty"`
}

// ClientSettings is one client credential entry on the central server.
type ClientSettings struct {
	// ID identifies the client.
	ID string `yaml:"id"`
	// PIN is the shared secret the client must present.
	PIN string `yaml:"pin"`
}

// MQTTSettings configures the optional MQTT event hook.
type MQTTSettings struct {
	// Broker is the MQTT broker URL, e.g. "tcp://localhost:1883".
	Broker string `yaml:"broker"`
	// ClientID is the MQTT client identifier.
	ClientID string `yaml:"client_id,omitempty"`
	// TopicPrefix prefixes published topics, e.g. "alarm".
	TopicPrefix string `yaml:"topic_prefix,omitempty"`
	// Username is the optional broker username.
	Username string `yaml:"username,omitempty"`
	// Password is the optional broker password.
	Password string `yaml:"password,omitempty"`
}

// CentralSettings holds configuration for the central server.
type CentralSettings struct {
	// ListenUDP is the primary (datagram) listen address.
	ListenUDP string `yaml:"listen_udp"`
	// ListenTCP is the secondary (session) listen address. Empty disables it.
	ListenTCP string `yaml:"listen_tcp,omitempty"`
	// IPLossTolerance is the silence tolerance in seconds before a client
	// is declared disconnected.
	IPLossTolerance int `yaml:"ip_loss_tolerance"`
	// SweepInterval is the breach/connectivity sweep tick in seconds.
	SweepInterval int `yaml:"sweep_interval"`
	// JournalPath is the SQLite event journal path. Empty disables the journal.
	JournalPath string `yaml:"journal_path,omitempty"`
	// HTTPAddress is the read-only status API listen address. Empty disables it.
	HTTPAddress string `yaml:"http_addr,omitempty"`
	// MQTT configures the optional MQTT event hook. Nil disables it.
	MQTT *MQTTSettings `yaml:"mqtt,omitempty"`
	// AlertCommand is an optional executable run when a breach is recorded,
	// invoked with the client id and event type as arguments. Empty
	// disables it.
	AlertCommand string `yaml:"alert_command,omitempty"`
	// Clients lists the known client credentials.
	Clients []ClientSettings `yaml:"clients"`
	// LogLevel sets logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level,omitempty"`
}

// LoadNode reads and validates node settings from the provided path.
func LoadNode(path string) (*NodeSettings, error) {
	if path == "" {
		path = DefaultNodeConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var settings NodeSettings
	if err = yaml.Unmarshal(contents, &settings); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err = ValidateNode(&settings); err != nil {
		return nil, err
	}

	return &settings, nil
}

// LoadCentral reads and validates central settings from the provided path.
func LoadCentral(path string) (*CentralSettings, error) {
	if path == "" {
		path = DefaultCentralConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var settings CentralSettings
	if err = yaml.Unmarshal(contents, &settings); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err = ValidateCentral(&settings); err != nil {
		return nil, err
	}

	return &settings, nil
}

// ValidateNode checks node settings for required fields and applies defaults.
func ValidateNode(settings *NodeSettings) error {
	if settings.ClientID == "" {
		return errClientIDRequired
	}

	if settings.PIN == "" {
		return errPINRequired
	}

	if settings.ServerAddress == "" {
		return errServerAddressRequired
	}

	if _, err := net.ResolveUDPAddr("udp", settings.ServerAddress); err != nil {
		return fmt.Errorf("invalid server address: %w", err)
	}

	if settings.SecondaryAddress != "" {
		if _, err := net.ResolveTCPAddr("tcp", settings.SecondaryAddress); err != nil {
			return fmt.Errorf("invalid secondary address: %w", err)
		}
	}

	if settings.PingInterval <= 0 {
		settings.PingInterval = DefaultPingInterval
	}

	if settings.EgressDelay <= 0 {
		settings.EgressDelay = DefaultEgressDelay
	}

	if settings.PostCallGrace <= 0 {
		settings.PostCallGrace = DefaultPostCallGrace
	}

	if settings.GPIOPollInterval <= 0 {
		settings.GPIOPollInterval = DefaultGPIOPollInterval
	}

	seen := make(map[string]struct{}, len(settings.Sensors))
	for _, sensor := range settings.Sensors {
		if sensor.ID == "" {
			return errDuplicateSensorID
		}

		if _, ok := seen[sensor.ID]; ok {
			return fmt.Errorf("%w: %s", errDuplicateSensorID, sensor.ID)
		}

		seen[sensor.ID] = struct{}{}
	}

	return nil
}

// ValidateCentral checks central settings for required fields and applies defaults.
func ValidateCentral(settings *CentralSettings) error {
	if settings.ListenUDP == "" {
		return errListenAddressRequired
	}

	if _, err := net.ResolveUDPAddr("udp", settings.ListenUDP); err != nil {
		return fmt.Errorf("invalid listen address: %w", err)
	}

	if settings.ListenTCP != "" {
		if _, err := net.ResolveTCPAddr("tcp", settings.ListenTCP); err != nil {
			return fmt.Errorf("invalid secondary listen address: %w", err)
		}
	}

	if len(settings.Clients) == 0 {
		return errNoClientsConfigured
	}

	seen := make(map[string]struct{}, len(settings.Clients))
	for _, client := range settings.Clients {
		if client.ID == "" || client.PIN == "" {
			return errClientIDRequired
		}

		if _, ok := seen[client.ID]; ok {
			return fmt.Errorf("%w: %s", errDuplicateClientID, client.ID)
		}

		seen[client.ID] = struct{}{}
	}

	if settings.IPLossTolerance <= 0 {
		settings.IPLossTolerance = DefaultIPLossTolerance
	}

	if settings.SweepInterval <= 0 {
		settings.SweepInterval = DefaultSweepInterval
	}

	return nil
}

// PingPeriod returns the keepalive interval as a duration.
func (s *NodeSettings) PingPeriod() time.Duration {
	return time.Duration(s.PingInterval) * time.Second
}

// EgressWindow returns the egress grace window as a duration.
func (s *NodeSettings) EgressWindow() time.Duration {
	return time.Duration(s.EgressDelay) * time.Second
}

// PostCallIdle returns the parked-session grace as a duration.
func (s *NodeSettings) PostCallIdle() time.Duration {
	return time.Duration(s.PostCallGrace) * time.Second
}

// GPIOPollPeriod returns the sensor poll tick as a duration.
func (s *NodeSettings) GPIOPollPeriod() time.Duration {
	return time.Duration(s.GPIOPollInterval) * time.Millisecond
}

// LossTolerance returns the silence tolerance as a duration.
func (s *CentralSettings) LossTolerance() time.Duration {
	return time.Duration(s.IPLossTolerance) * time.Second
}

// SweepPeriod returns the sweep tick as a duration.
func (s *CentralSettings) SweepPeriod() time.Duration {
	return time.Duration(s.SweepInterval) * time.Second
}
