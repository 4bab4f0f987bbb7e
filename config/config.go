// Package config 从环境变量（CUBESYNC_*）与命令行参数加载运行配置
package config

import (
	"errors"
	"flag"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"cubesync/netsync"
)

// 运行模式
const (
	ModeSim    = "sim"    // 客户端与服务端同进程，走模拟链路
	ModeServer = "server" // 真实 UDP 服务端
	ModeClient = "client" // 真实 UDP 客户端
)

type Config struct {
	Mode string `env:"CUBESYNC_MODE" envDefault:"sim"`

	// 单向延迟与丢包
	Latency            time.Duration `env:"CUBESYNC_LATENCY" envDefault:"100ms"`
	PacketLoss         float64       `env:"CUBESYNC_PACKET_LOSS" envDefault:"0"`
	ClientToServerLoss float64       `env:"CUBESYNC_C2S_LOSS" envDefault:"-1"` // <0 表示沿用 PacketLoss
	ServerToClientLoss float64       `env:"CUBESYNC_S2C_LOSS" envDefault:"-1"`

	TickDuration  time.Duration `env:"CUBESYNC_TICK" envDefault:"10ms"`
	FrameDuration time.Duration `env:"CUBESYNC_FRAME" envDefault:"16ms"`

	ServerAddr string `env:"CUBESYNC_SERVER_ADDR" envDefault:"127.0.0.1:30000"`
	ClientAddr string `env:"CUBESYNC_CLIENT_ADDR" envDefault:"127.0.0.1:30001"`

	GatePolicy   string `env:"CUBESYNC_GATE_POLICY" envDefault:"drop-oldest"`
	GateCapacity int    `env:"CUBESYNC_GATE_CAPACITY" envDefault:"8"`

	Seed    int64         `env:"CUBESYNC_SEED" envDefault:"0"`
	Autokey bool          `env:"CUBESYNC_AUTOKEY" envDefault:"true"`
	RunFor  time.Duration `env:"CUBESYNC_RUN_FOR" envDefault:"0s"` // 0 表示直到收到信号

	LogFile  string `env:"CUBESYNC_LOG_FILE" envDefault:"cubesync.log"`
	LogLevel string `env:"CUBESYNC_LOG_LEVEL" envDefault:"debug"`
	RecordDB string `env:"CUBESYNC_RECORD_DB"` // 为空则不落库

	AdminAddr string `env:"CUBESYNC_ADMIN_ADDR" envDefault:":8080"` // 为空则不启动管理接口
}

// Load 读取环境变量并校验
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadArgs 先读取环境变量作为默认值，再由命令行参数覆盖
func LoadArgs(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// BindFlags 以当前值为默认值注册命令行参数
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Mode, "mode", c.Mode, "run mode: sim, server or client")
	fs.DurationVar(&c.Latency, "latency", c.Latency, "one-way latency")
	fs.Float64Var(&c.PacketLoss, "loss", c.PacketLoss, "packet loss percent")
	fs.Float64Var(&c.ClientToServerLoss, "c2s-loss", c.ClientToServerLoss, "client to server loss percent (<0 uses -loss)")
	fs.Float64Var(&c.ServerToClientLoss, "s2c-loss", c.ServerToClientLoss, "server to client loss percent (<0 uses -loss)")
	fs.StringVar(&c.ServerAddr, "server", c.ServerAddr, "server endpoint")
	fs.StringVar(&c.ClientAddr, "client", c.ClientAddr, "client endpoint")
	fs.StringVar(&c.GatePolicy, "gate-policy", c.GatePolicy, "holding area overflow policy: queue, drop-newest, drop-oldest")
	fs.Int64Var(&c.Seed, "seed", c.Seed, "loss emulation seed (0 = time based)")
	fs.DurationVar(&c.RunFor, "run-for", c.RunFor, "stop after this long (0 = until signal)")
	fs.StringVar(&c.RecordDB, "record-db", c.RecordDB, "sqlite file for release records")
	fs.StringVar(&c.AdminAddr, "addr", c.AdminAddr, "admin listen address, e.g. :8080")
}

// Validate 检查取值范围
func (c Config) Validate() error {
	var errs []error
	switch c.Mode {
	case ModeSim, ModeServer, ModeClient:
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q", c.Mode))
	}
	if c.Latency < 0 {
		errs = append(errs, errors.New("latency must not be negative"))
	}
	if err := checkPercent("packet loss", c.PacketLoss); err != nil {
		errs = append(errs, err)
	}
	for name, v := range map[string]float64{"client to server loss": c.ClientToServerLoss, "server to client loss": c.ServerToClientLoss} {
		// 负值表示沿用 PacketLoss
		if v < 0 {
			continue
		}
		if err := checkPercent(name, v); err != nil {
			errs = append(errs, err)
		}
	}
	if c.TickDuration <= 0 {
		errs = append(errs, errors.New("tick duration must be positive"))
	}
	if c.FrameDuration <= 0 {
		errs = append(errs, errors.New("frame duration must be positive"))
	}
	if _, err := netsync.ParseOverflowPolicy(c.GatePolicy); err != nil {
		errs = append(errs, err)
	}
	if c.GateCapacity < 1 {
		errs = append(errs, errors.New("gate capacity must be at least 1"))
	}
	if strings.TrimSpace(c.ServerAddr) == "" || strings.TrimSpace(c.ClientAddr) == "" {
		errs = append(errs, errors.New("server and client endpoints are required"))
	}
	if c.RunFor < 0 {
		errs = append(errs, errors.New("run-for must not be negative"))
	}
	return errors.Join(errs...)
}

func checkPercent(name string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 100 {
		return fmt.Errorf("%s %.2f out of range [0,100]", name, v)
	}
	return nil
}

// DirectionalLoss 模拟链路两个方向的丢包率
func (c Config) DirectionalLoss() (clientToServer, serverToClient float64) {
	clientToServer, serverToClient = c.PacketLoss, c.PacketLoss
	if c.ClientToServerLoss >= 0 {
		clientToServer = c.ClientToServerLoss
	}
	if c.ServerToClientLoss >= 0 {
		serverToClient = c.ServerToClientLoss
	}
	return clientToServer, serverToClient
}

// Link 模拟链路参数
func (c Config) Link() netsync.LinkConfig {
	c2s, s2c := c.DirectionalLoss()
	return netsync.LinkConfig{
		Latency:            c.Latency,
		TickDuration:       c.TickDuration,
		ClientToServerLoss: c2s,
		ServerToClientLoss: s2c,
	}
}

// Conn 真实链路一端的参数。每端只模拟自己发送方向的丢包：
// 客户端取 client to server，服务端取 server to client，未单独设置时沿用 PacketLoss。
func (c Config) Conn() netsync.ConnConfig {
	policy, _ := netsync.ParseOverflowPolicy(c.GatePolicy)
	loss := c.PacketLoss
	c2s, s2c := c.DirectionalLoss()
	switch c.Mode {
	case ModeClient:
		loss = c2s
	case ModeServer:
		loss = s2c
	}
	return netsync.ConnConfig{
		Latency:       c.Latency,
		PacketLoss:    loss,
		Policy:        policy,
		GateCapacity:  c.GateCapacity,
		FrameInterval: c.FrameDuration,
	}
}
