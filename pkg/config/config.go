package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Options holds the runtime configuration of the client. Values come from
// built-in defaults overridden by environment variables; the CLI may
// override individual fields with flags on top of that.
type Options struct {
	ServerURL      string
	WSURL          string
	BusinessID     string
	AuthToken      string
	ClientID       string
	DataPath       string
	SyncWithServer bool
	EnableRealtime bool

	SyncInterval   time.Duration
	PullInterval   time.Duration
	CheckInterval  time.Duration
	ReconnectDelay time.Duration
	RequestTimeout time.Duration

	// MaxRejections bounds how many permanent (4xx) rejections an operation
	// may accumulate before it is dead-lettered.
	MaxRejections int
}

// NewConfig builds Options from defaults and environment variables.
func NewConfig() *Options {
	opt := &Options{
		ServerURL:      "http://localhost:8080",
		WSURL:          "ws://localhost:8080/ws/sync",
		SyncWithServer: true,
		EnableRealtime: true,
		SyncInterval:   30 * time.Second,
		PullInterval:   60 * time.Second,
		CheckInterval:  15 * time.Second,
		ReconnectDelay: 5 * time.Second,
		RequestTimeout: 10 * time.Second,
		MaxRejections:  5,
	}

	home, err := os.UserHomeDir()
	if err != nil {
		log.Fatal(err)
	}
	opt.DataPath = filepath.Join(home, "sellpoint")

	// Check if corresponding environment variables are set and override the
	// values if present.
	if v, exists := os.LookupEnv("SERVER_URL"); exists {
		opt.ServerURL = v
	}
	if v, exists := os.LookupEnv("WS_URL"); exists {
		opt.WSURL = v
	}
	if v, exists := os.LookupEnv("BUSINESS_ID"); exists {
		opt.BusinessID = v
	}
	if v, exists := os.LookupEnv("AUTH_TOKEN"); exists {
		opt.AuthToken = v
	}
	if v, exists := os.LookupEnv("CLIENT_ID"); exists {
		opt.ClientID = v
	}
	if v, exists := os.LookupEnv("DATA_PATH"); exists {
		opt.DataPath = v
	}
	if v, exists := os.LookupEnv("SYNC_WITH_SERVER"); exists {
		if value, err := strconv.ParseBool(v); err == nil {
			opt.SyncWithServer = value
		}
	}
	if v, exists := os.LookupEnv("ENABLE_REALTIME"); exists {
		if value, err := strconv.ParseBool(v); err == nil {
			opt.EnableRealtime = value
		}
	}
	if v, exists := os.LookupEnv("SYNC_INTERVAL"); exists {
		if value, err := time.ParseDuration(v); err == nil {
			opt.SyncInterval = value
		}
	}
	if v, exists := os.LookupEnv("PULL_INTERVAL"); exists {
		if value, err := time.ParseDuration(v); err == nil {
			opt.PullInterval = value
		}
	}
	if v, exists := os.LookupEnv("REQUEST_TIMEOUT"); exists {
		if value, err := time.ParseDuration(v); err == nil {
			opt.RequestTimeout = value
		}
	}
	if v, exists := os.LookupEnv("MAX_REJECTIONS"); exists {
		if value, err := strconv.Atoi(v); err == nil {
			opt.MaxRejections = value
		}
	}

	return opt
}

// EnsureDataPath creates the data directory if it does not exist and
// returns it.
func (o *Options) EnsureDataPath() (string, error) {
	if _, err := os.Stat(o.DataPath); os.IsNotExist(err) {
		if err := os.MkdirAll(o.DataPath, 0755); err != nil {
			return "", err
		}
	}
	return o.DataPath, nil
}

// DatabasePath is the location of the local SQLite store.
func (o *Options) DatabasePath() string {
	return filepath.Join(o.DataPath, "data.db")
}

// WatermarkPath is the location of the persisted pull watermark.
func (o *Options) WatermarkPath() string {
	return filepath.Join(o.DataPath, "lastsync")
}

// LogPath is the location of the client log file.
func (o *Options) LogPath() string {
	return filepath.Join(o.DataPath, "log.txt")
}

// ClientIDPath is the location of the persisted client identifier.
func (o *Options) ClientIDPath() string {
	return filepath.Join(o.DataPath, "client_id")
}
