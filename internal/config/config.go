package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	API     APIConfig     `yaml:"api"`
	JWT     JWTConfig     `yaml:"jwt"`
	Log     LogConfig     `yaml:"log"`
	BLE     BLEConfig     `yaml:"ble"`
	COHN    COHNConfig    `yaml:"cohn"`
	Storage StorageConfig `yaml:"storage"`
	Monitor MonitorConfig `yaml:"monitor"`
}

// ServerConfig represents server identity
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// APIConfig represents the REST/WebSocket listener configuration
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// JWTConfig represents operator authentication configuration. A single
// operator account guards the API; its bcrypt hash lives in config.
type JWTConfig struct {
	Secret               string        `yaml:"secret"`
	OperatorPasswordHash string        `yaml:"operator_password_hash"`
	AccessTokenTTL       time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL      time.Duration `yaml:"refresh_token_ttl"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BLEConfig represents BLE transport tuning
type BLEConfig struct {
	ScanWindow      time.Duration `yaml:"scan_window"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`
	ConnectAttempts int           `yaml:"connect_attempts"`
	DebugHex        bool          `yaml:"debug_hex"`
}

// COHNConfig represents provisioning configuration
type COHNConfig struct {
	SSID             string        `yaml:"ssid"`
	Password         string        `yaml:"password"`
	ProvisionTimeout time.Duration `yaml:"provision_timeout"`
	CheckTimeout     time.Duration `yaml:"check_timeout"`
}

// StorageConfig represents the flat-file data directory
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// MonitorConfig represents the background status sweep
type MonitorConfig struct {
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	BatteryInterval   time.Duration `yaml:"battery_interval"`
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval"`
	ProbeInterval     time.Duration `yaml:"probe_interval"`
}

// Load loads configuration from file. A missing file yields the defaults.
func Load(filename string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(filename)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if dataDir := os.Getenv("CAMRIG_DATA_DIR"); dataDir != "" {
		c.Storage.DataDir = dataDir
	}
	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.JWT.Secret = jwtSecret
	}
	if hash := os.Getenv("OPERATOR_PASSWORD_HASH"); hash != "" {
		c.JWT.OperatorPasswordHash = hash
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}
	if os.Getenv("GOPRO_BLE_DEBUG") != "" {
		c.BLE.DebugHex = true
	}
	if ssid := os.Getenv("COHN_SSID"); ssid != "" {
		c.COHN.SSID = ssid
	}
	if password := os.Getenv("COHN_PASSWORD"); password != "" {
		c.COHN.Password = password
	}
}

func (c *Config) setDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "camrig-server"
	}
	if c.Server.Version == "" {
		c.Server.Version = "dev"
	}
	if c.API.Host == "" {
		c.API.Host = "0.0.0.0"
	}
	if c.API.Port == 0 {
		c.API.Port = 8765
	}
	if c.JWT.AccessTokenTTL == 0 {
		c.JWT.AccessTokenTTL = 24 * time.Hour
	}
	if c.JWT.RefreshTokenTTL == 0 {
		c.JWT.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.BLE.ScanWindow == 0 {
		c.BLE.ScanWindow = 10 * time.Second
	}
	if c.BLE.ConnectTimeout == 0 {
		c.BLE.ConnectTimeout = 15 * time.Second
	}
	if c.BLE.ResponseTimeout == 0 {
		c.BLE.ResponseTimeout = 5 * time.Second
	}
	if c.BLE.ConnectAttempts == 0 {
		c.BLE.ConnectAttempts = 2
	}
	if c.COHN.ProvisionTimeout == 0 {
		c.COHN.ProvisionTimeout = 300 * time.Second
	}
	if c.COHN.CheckTimeout == 0 {
		c.COHN.CheckTimeout = 5 * time.Second
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "./data"
	}
	if c.Monitor.SweepInterval == 0 {
		c.Monitor.SweepInterval = 500 * time.Millisecond
	}
	if c.Monitor.BatteryInterval == 0 {
		c.Monitor.BatteryInterval = 60 * time.Second
	}
	if c.Monitor.KeepAliveInterval == 0 {
		c.Monitor.KeepAliveInterval = 30 * time.Second
	}
	if c.Monitor.ProbeInterval == 0 {
		c.Monitor.ProbeInterval = 5 * time.Minute
	}
}

// PrintConfigSummary prints the effective configuration.
func (c *Config) PrintConfigSummary() {
	fmt.Printf("=== CamRig Server Configuration ===\n")
	fmt.Printf("Server: %s v%s\n", c.Server.Name, c.Server.Version)
	fmt.Printf("API: %s:%d\n", c.API.Host, c.API.Port)
	fmt.Printf("Data Dir: %s\n", c.Storage.DataDir)
	fmt.Printf("BLE: scan=%s connect=%s response=%s attempts=%d\n",
		c.BLE.ScanWindow, c.BLE.ConnectTimeout, c.BLE.ResponseTimeout, c.BLE.ConnectAttempts)
	fmt.Printf("COHN: ssid=%q provision_timeout=%s\n", c.COHN.SSID, c.COHN.ProvisionTimeout)
	fmt.Printf("Monitor: sweep=%s battery=%s keepalive=%s probe=%s\n",
		c.Monitor.SweepInterval, c.Monitor.BatteryInterval, c.Monitor.KeepAliveInterval, c.Monitor.ProbeInterval)
	fmt.Printf("Log Level: %s\n", c.Log.Level)
}

// Validate checks configuration invariants that cannot be defaulted away.
func (c *Config) Validate() error {
	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("invalid api port %d", c.API.Port)
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt secret is required (set jwt.secret or JWT_SECRET)")
	}
	if c.Monitor.SweepInterval < 100*time.Millisecond {
		return fmt.Errorf("monitor sweep interval %s too aggressive", c.Monitor.SweepInterval)
	}
	return nil
}
