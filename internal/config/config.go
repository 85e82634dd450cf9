package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dbehnke/mercurygs/internal/link"
	"github.com/dbehnke/mercurygs/internal/transport"
)

// Config represents the ground station configuration
type Config struct {
	filename string

	// General section
	timeout uint32 // milliseconds
	rate    float64
	debug   bool

	// Link section
	medium           string
	maxPayload       uint32
	legacyLengthFold bool

	// Serial section
	serialPort        string
	serialBaudRate    uint32
	serialDataBits    uint32
	serialParity      string
	serialStopBits    uint32
	serialReadTimeout uint32 // milliseconds

	// UDP section
	udpLocalAddress  string
	udpLocalPort     uint32
	udpRemoteAddress string
	udpRemotePort    uint32

	// QUIC section
	quicAddress            string
	quicServerName         string
	quicInsecureSkipVerify bool

	// Simulator section
	simPeriodicChannel  uint32
	simPeriodicInterval uint32 // milliseconds, 0 disables
	simResponseDelay    uint32 // milliseconds

	// Database section
	databaseEnabled        bool
	databasePath           string
	databaseRetentionHours uint32
	databaseDebug          bool

	// API section
	apiEnabled bool
	apiAddress string

	// Log section
	logFilePath string
}

// NewConfig creates a new configuration instance
func NewConfig(filename string) *Config {
	return &Config{
		filename: filename,
		// Set reasonable defaults
		timeout: 1000,
		rate:    1,

		medium:     transport.MEDIUM_SERIAL,
		maxPayload: 1024,

		serialPort:        "/dev/ttyUSB0",
		serialBaudRate:    9600,
		serialDataBits:    8,
		serialParity:      "none",
		serialStopBits:    1,
		serialReadTimeout: 100,

		udpLocalAddress: "0.0.0.0",
		udpLocalPort:    5000,
		udpRemotePort:   5001,

		quicAddress:    "127.0.0.1:4433",
		quicServerName: "localhost",

		simPeriodicChannel: 42,

		// Database defaults
		databaseEnabled:        false,
		databasePath:           "data/mercurygs.db",
		databaseRetentionHours: 168, // one week

		apiEnabled: false,
		apiAddress: "127.0.0.1:8080",
	}
}

// Load loads configuration from the specified file
func (c *Config) Load() error {
	file, err := os.Open(c.filename)
	if err != nil {
		return fmt.Errorf("failed to open config file %s: %w", c.filename, err)
	}
	defer file.Close()

	return c.parseINI(file)
}

// LoadFromString loads configuration from a string (useful for testing)
func (c *Config) LoadFromString(data string) error {
	return c.parseINIString(data)
}

func (c *Config) parseINI(file *os.File) error {
	scanner := bufio.NewScanner(file)
	return c.parseINIScanner(scanner)
}

func (c *Config) parseINIString(data string) error {
	scanner := bufio.NewScanner(strings.NewReader(data))
	return c.parseINIScanner(scanner)
}

func (c *Config) parseINIScanner(scanner *bufio.Scanner) error {
	var currentSection string

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if len(line) == 0 || line[0] == '#' || line[0] == ';' {
			continue
		}

		if line[0] == '[' && line[len(line)-1] == ']' {
			currentSection = strings.TrimSpace(line[1 : len(line)-1])
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch currentSection {
		case "General":
			c.parseGeneralSection(key, value)
		case "Link":
			c.parseLinkSection(key, value)
		case "Serial":
			c.parseSerialSection(key, value)
		case "UDP":
			c.parseUDPSection(key, value)
		case "QUIC":
			c.parseQUICSection(key, value)
		case "Simulator":
			c.parseSimulatorSection(key, value)
		case "Database":
			c.parseDatabaseSection(key, value)
		case "API":
			c.parseAPISection(key, value)
		case "Log":
			c.parseLogSection(key, value)
		}
	}

	return scanner.Err()
}

func (c *Config) parseGeneralSection(key, value string) {
	switch key {
	case "Timeout":
		if v, err := strconv.ParseUint(value, 10, 32); err == nil {
			c.timeout = uint32(v)
		}
	case "Rate":
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			c.rate = v
		}
	case "Debug":
		c.debug = c.parseBool(value)
	}
}

func (c *Config) parseLinkSection(key, value string) {
	switch key {
	case "Medium":
		c.medium = strings.ToLower(value)
	case "MaxPayload":
		if v, err := strconv.ParseUint(value, 10, 32); err == nil {
			c.maxPayload = uint32(v)
		}
	case "LegacyLengthFold":
		c.legacyLengthFold = c.parseBool(value)
	}
}

func (c *Config) parseSerialSection(key, value string) {
	switch key {
	case "Port":
		c.serialPort = value
	case "BaudRate":
		if v, err := strconv.ParseUint(value, 10, 32); err == nil {
			c.serialBaudRate = uint32(v)
		}
	case "DataBits":
		if v, err := strconv.ParseUint(value, 10, 32); err == nil {
			c.serialDataBits = uint32(v)
		}
	case "Parity":
		c.serialParity = strings.ToLower(value)
	case "StopBits":
		if v, err := strconv.ParseUint(value, 10, 32); err == nil {
			c.serialStopBits = uint32(v)
		}
	case "ReadTimeout":
		if v, err := strconv.ParseUint(value, 10, 32); err == nil {
			c.serialReadTimeout = uint32(v)
		}
	}
}

func (c *Config) parseUDPSection(key, value string) {
	switch key {
	case "LocalAddress":
		c.udpLocalAddress = value
	case "LocalPort":
		if v, err := strconv.ParseUint(value, 10, 16); err == nil {
			c.udpLocalPort = uint32(v)
		}
	case "RemoteAddress":
		c.udpRemoteAddress = value
	case "RemotePort":
		if v, err := strconv.ParseUint(value, 10, 16); err == nil {
			c.udpRemotePort = uint32(v)
		}
	}
}

func (c *Config) parseQUICSection(key, value string) {
	switch key {
	case "Address":
		c.quicAddress = value
	case "ServerName":
		c.quicServerName = value
	case "InsecureSkipVerify":
		c.quicInsecureSkipVerify = c.parseBool(value)
	}
}

func (c *Config) parseSimulatorSection(key, value string) {
	switch key {
	case "PeriodicChannel":
		if v, err := strconv.ParseUint(value, 10, 32); err == nil {
			c.simPeriodicChannel = uint32(v)
		}
	case "PeriodicInterval":
		if v, err := strconv.ParseUint(value, 10, 32); err == nil {
			c.simPeriodicInterval = uint32(v)
		}
	case "ResponseDelay":
		if v, err := strconv.ParseUint(value, 10, 32); err == nil {
			c.simResponseDelay = uint32(v)
		}
	}
}

func (c *Config) parseDatabaseSection(key, value string) {
	switch key {
	case "Enabled":
		c.databaseEnabled = c.parseBool(value)
	case "Path":
		c.databasePath = value
	case "RetentionHours":
		if v, err := strconv.ParseUint(value, 10, 32); err == nil {
			c.databaseRetentionHours = uint32(v)
		}
	case "Debug":
		c.databaseDebug = c.parseBool(value)
	}
}

func (c *Config) parseAPISection(key, value string) {
	switch key {
	case "Enabled":
		c.apiEnabled = c.parseBool(value)
	case "Address":
		c.apiAddress = value
	}
}

func (c *Config) parseLogSection(key, value string) {
	switch key {
	case "FilePath":
		c.logFilePath = value
	}
}

func (c *Config) parseBool(value string) bool {
	return value == "1" || strings.ToLower(value) == "true" || strings.ToLower(value) == "yes"
}

// Validate checks the values the link cannot run without
func (c *Config) Validate() error {
	if err := transport.ValidateMedium(c.medium); err != nil {
		return err
	}
	if c.timeout == 0 {
		return fmt.Errorf("timeout must be greater than zero")
	}
	if err := link.ValidateRate(c.rate); err != nil {
		return fmt.Errorf("invalid rate: %w", err)
	}
	switch c.serialParity {
	case "none", "odd", "even":
	default:
		return fmt.Errorf("unknown serial parity %q", c.serialParity)
	}
	if c.serialStopBits != 1 && c.serialStopBits != 2 {
		return fmt.Errorf("serial stop bits must be 1 or 2, got %d", c.serialStopBits)
	}
	return nil
}

func (c *Config) GetFilename() string { return c.filename }

// Getter methods for General section
func (c *Config) GetTimeout() uint32 { return c.timeout }
func (c *Config) GetRate() float64   { return c.rate }
func (c *Config) GetDebug() bool     { return c.debug }

// GetTimeoutDuration returns Timeout as a duration
func (c *Config) GetTimeoutDuration() time.Duration {
	return time.Duration(c.timeout) * time.Millisecond
}

// Getter methods for Link section
func (c *Config) GetMedium() string         { return c.medium }
func (c *Config) GetMaxPayload() uint32     { return c.maxPayload }
func (c *Config) GetLegacyLengthFold() bool { return c.legacyLengthFold }

// Getter methods for Serial section
func (c *Config) GetSerialPort() string        { return c.serialPort }
func (c *Config) GetSerialBaudRate() uint32    { return c.serialBaudRate }
func (c *Config) GetSerialDataBits() uint32    { return c.serialDataBits }
func (c *Config) GetSerialParity() string      { return c.serialParity }
func (c *Config) GetSerialStopBits() uint32    { return c.serialStopBits }
func (c *Config) GetSerialReadTimeout() uint32 { return c.serialReadTimeout }

// Getter methods for UDP section
func (c *Config) GetUDPLocalAddress() string  { return c.udpLocalAddress }
func (c *Config) GetUDPLocalPort() uint32     { return c.udpLocalPort }
func (c *Config) GetUDPRemoteAddress() string { return c.udpRemoteAddress }
func (c *Config) GetUDPRemotePort() uint32    { return c.udpRemotePort }

// Getter methods for QUIC section
func (c *Config) GetQUICAddress() string          { return c.quicAddress }
func (c *Config) GetQUICServerName() string       { return c.quicServerName }
func (c *Config) GetQUICInsecureSkipVerify() bool { return c.quicInsecureSkipVerify }

// Getter methods for Simulator section
func (c *Config) GetSimPeriodicChannel() uint32  { return c.simPeriodicChannel }
func (c *Config) GetSimPeriodicInterval() uint32 { return c.simPeriodicInterval }
func (c *Config) GetSimResponseDelay() uint32    { return c.simResponseDelay }

// Getter methods for Database section
func (c *Config) GetDatabaseEnabled() bool          { return c.databaseEnabled }
func (c *Config) GetDatabasePath() string           { return c.databasePath }
func (c *Config) GetDatabaseRetentionHours() uint32 { return c.databaseRetentionHours }
func (c *Config) GetDatabaseDebug() bool            { return c.databaseDebug }

// Getter methods for API section
func (c *Config) GetAPIEnabled() bool   { return c.apiEnabled }
func (c *Config) GetAPIAddress() string { return c.apiAddress }

// Getter methods for Log section
func (c *Config) GetLogFilePath() string { return c.logFilePath }
