package env

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	LogLevel  string `env:"PINGPONG_LOG_LEVEL,default=info" toml:"log_level"`
	DebugHTTP bool   `env:"PINGPONG_DEBUG_HTTP" toml:"debug_http"`

	// App is the demo application served by `pingpong serve`
	App string `env:"PINGPONG_APP,default=echo" toml:"app"`

	// MaxFrameSize bounds the bytes buffered for one incomplete frame
	MaxFrameSize int `env:"PINGPONG_MAX_FRAME_SIZE,default=1048576" toml:"max_frame_size"`

	NumListeners int `env:"PINGPONG_NUM_LISTENERS" toml:"num_listeners"`
}

// LoadConfig reads .env.local, if present, and then the process environment.
func LoadConfig(ctx context.Context) (*Config, error) {
	config := Config{}

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load .env.local: %w", err)
		}
	}

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadConfigFile layers a TOML file over the environment config. Keys that
// the file does not define keep their environment (or default) values.
func LoadConfigFile(ctx context.Context, path string) (*Config, error) {
	config, err := LoadConfig(ctx)
	if err != nil {
		return nil, err
	}

	if path == "" {
		return config, nil
	}

	var raw Config
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}

	if meta.IsDefined("log_level") {
		config.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	if meta.IsDefined("debug_http") {
		config.DebugHTTP = raw.DebugHTTP
	}

	if meta.IsDefined("app") {
		config.App = strings.TrimSpace(raw.App)
	}

	if meta.IsDefined("max_frame_size") {
		config.MaxFrameSize = raw.MaxFrameSize
	}

	if meta.IsDefined("num_listeners") {
		config.NumListeners = raw.NumListeners
	}

	return config, nil
}
