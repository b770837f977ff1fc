package store

import "time"

// Config aggregates per backend configuration
type Config struct {
	AppName string

	PG  PGConfig
	RDS RedisConfig
}

// PGConfig configures postgres connectivity and tracing
type PGConfig struct {
	Enabled     bool
	URL         string
	MaxConns    int32
	LogSQL      bool
	SlowQueryMs int

	// Guard/boot knobs:
	ConnectRetries int           // not read by openPG, which makes up to 20 ping attempts
	PingTimeout    time.Duration // not read by openPG, which uses a 3s timeout per ping
}

// RedisConfig configures redis connectivity, used by the key-value lock backend
type RedisConfig struct {
	Enabled      bool
	Addr         string
	DB           int
	Password     string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}
