// Package config loads process configuration from the environment, split
// into one struct per concern and combined into AppConfig, mirroring the
// env-tag + per-concern-loader convention the rest of this service's
// ambient stack follows.
package config

import "github.com/caarlos0/env/v11"

// RoomConfig holds every knob that governs room and timer behavior.
type RoomConfig struct {
	RoomCodeLength                  int    `env:"ROOM_CODE_LENGTH" envDefault:"6"`
	RoomCodeAlphabet                string `env:"ROOM_CODE_ALPHABET" envDefault:"ABCDEFGHJKMNPQRSTUVWXYZ23456789"`
	MaxPlayersPerRoom                int    `env:"MAX_PLAYERS_PER_ROOM" envDefault:"2"`
	BoardSize                        int    `env:"BOARD_SIZE" envDefault:"9"`
	ReconnectionGracePeriodSeconds    int    `env:"RECONNECTION_GRACE_PERIOD_SECONDS" envDefault:"30"`
	TurnTimeoutSeconds                int    `env:"TURN_TIMEOUT_SECONDS" envDefault:"30"`
	RematchWindowSeconds              int    `env:"REMATCH_WINDOW_SECONDS" envDefault:"30"`
	IdleRoomTimeoutSeconds            int    `env:"IDLE_ROOM_TIMEOUT_SECONDS" envDefault:"300"`
	RoomSweepIntervalSeconds          int    `env:"ROOM_SWEEP_INTERVAL_SECONDS" envDefault:"60"`
	RoomCacheTimeoutHours             int    `env:"ROOM_CACHE_TIMEOUT_HOURS" envDefault:"1"`
	AllRoomsCacheTimeoutMinutes       int    `env:"ALL_ROOMS_CACHE_TIMEOUT_MINUTES" envDefault:"5"`
}

func LoadRoom() (RoomConfig, error) {
	var cfg RoomConfig
	err := env.Parse(&cfg)
	return cfg, err
}

// ServerConfig governs the HTTP/WS listener.
type ServerConfig struct {
	Addr string `env:"PORT" envDefault:":8080"`
}

func LoadServer() (ServerConfig, error) {
	var cfg ServerConfig
	err := env.Parse(&cfg)
	if len(cfg.Addr) > 0 && cfg.Addr[0] != ':' {
		cfg.Addr = ":" + cfg.Addr
	}
	return cfg, err
}

// LogConfig governs structured logging.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Pretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

func LoadLog() (LogConfig, error) {
	var cfg LogConfig
	err := env.Parse(&cfg)
	return cfg, err
}

// AppConfig is the whole process configuration.
type AppConfig struct {
	Room   RoomConfig
	Server ServerConfig
	Log    LogConfig
}

func LoadApp() (AppConfig, error) {
	roomCfg, err := LoadRoom()
	if err != nil {
		return AppConfig{}, err
	}
	serverCfg, err := LoadServer()
	if err != nil {
		return AppConfig{}, err
	}
	logCfg, err := LoadLog()
	if err != nil {
		return AppConfig{}, err
	}
	return AppConfig{Room: roomCfg, Server: serverCfg, Log: logCfg}, nil
}
