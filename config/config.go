package config

import (
	"os"
	"strconv"
)

type Config struct {
	Host            string
	Port            int
	StorePath       string
	AdminAddr       string // empty disables the HTTP admin listener
	ControlSocket   string
	FileChunkLimit  int // maximum declared chunk count per file transfer
	AudioChunkLimit int // maximum declared chunk count per audio transfer
	WriteTimeout    int // seconds
	QueueDepth      int // outbound responses buffered per session
}

func Load() *Config {
	cfg := &Config{
		Host:            "",
		Port:            4455,
		StorePath:       "commlink.db",
		AdminAddr:       "",
		ControlSocket:   "/tmp/commlink.sock",
		FileChunkLimit:  1024,
		AudioChunkLimit: 256,
		WriteTimeout:    30,
		QueueDepth:      64,
	}

	if host := os.Getenv("COMMLINK_HOST"); host != "" {
		cfg.Host = host
	}

	if portStr := os.Getenv("COMMLINK_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			cfg.Port = port
		}
	}

	if path := os.Getenv("COMMLINK_STORE_PATH"); path != "" {
		cfg.StorePath = path
	}

	if addr := os.Getenv("COMMLINK_ADMIN_ADDR"); addr != "" {
		cfg.AdminAddr = addr
	}

	if path := os.Getenv("COMMLINK_CONTROL_SOCKET"); path != "" {
		cfg.ControlSocket = path
	}

	if limitStr := os.Getenv("COMMLINK_FILE_CHUNK_LIMIT"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			cfg.FileChunkLimit = limit
		}
	}

	if limitStr := os.Getenv("COMMLINK_AUDIO_CHUNK_LIMIT"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			cfg.AudioChunkLimit = limit
		}
	}

	if timeoutStr := os.Getenv("COMMLINK_WRITE_TIMEOUT"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.WriteTimeout = timeout
		}
	}

	if depthStr := os.Getenv("COMMLINK_QUEUE_DEPTH"); depthStr != "" {
		if depth, err := strconv.Atoi(depthStr); err == nil {
			cfg.QueueDepth = depth
		}
	}

	return cfg
}
