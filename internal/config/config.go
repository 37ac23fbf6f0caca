package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pingsantohq/satprobe/pkg/types"
)

const (
	envConfigPath     = "SATPROBE_CONFIG"
	DefaultConfigPath = "/etc/satprobe/satprobe.yaml"
)

type Config struct {
	General    GeneralConfig    `yaml:"general"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	ICMP       ICMPConfig       `yaml:"icmp"`
	DNS        DNSConfig        `yaml:"dns"`
	RDNS       RDNSConfig       `yaml:"rdns"`
	Traceroute TracerouteConfig `yaml:"traceroute"`
	Writer     WriterConfig     `yaml:"writer"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type GeneralConfig struct {
	TaskName      string `yaml:"task_name"`
	TargetFile    string `yaml:"target_file"`
	CohortFile    string `yaml:"cohort_file"`
	OutputDir     string `yaml:"output_dir"`
	WorkerThreads int    `yaml:"worker_threads"`
}

type SchedulerConfig struct {
	ProbeInterval   time.Duration        `yaml:"probe_interval"`
	RunDuration     time.Duration        `yaml:"run_duration"`
	MisfireGrace    time.Duration        `yaml:"misfire_grace"`
	TickResolution  time.Duration        `yaml:"tick_resolution"`
	Backlog         *int                 `yaml:"backlog"`
	OneShotDelay    time.Duration        `yaml:"oneshot_delay"`
	OneShotSpacing  time.Duration        `yaml:"oneshot_spacing"`
	OneShotStagger  time.Duration        `yaml:"oneshot_stagger"`
	PoolStopTimeout time.Duration        `yaml:"pool_stop_timeout"`
	RateGovernance  RateGovernanceConfig `yaml:"rate_governance"`
}

type RateGovernanceConfig struct {
	Enabled      bool    `yaml:"enabled"`
	GlobalPPSCap float64 `yaml:"global_pps_cap"`
	Burst        int     `yaml:"burst"`
}

type ICMPConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Timeout    time.Duration `yaml:"timeout"`
	PacketSize int           `yaml:"packet_size"`
	Privileged bool          `yaml:"privileged"`
}

type DNSConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Timeout     time.Duration `yaml:"timeout"`
	QueryDomain string        `yaml:"query_domain"`
	QueryType   string        `yaml:"query_type"`
}

type RDNSConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Timeout    time.Duration `yaml:"timeout"`
	ResolvConf string        `yaml:"resolv_conf"`
}

type TracerouteConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxHops       int           `yaml:"max_hops"`
	QueriesPerHop int           `yaml:"queries_per_hop"`
	Binary        string        `yaml:"binary"`
}

type WriterConfig struct {
	QueueCapacity int           `yaml:"queue_capacity"`
	PutTimeout    time.Duration `yaml:"put_timeout"`
	DrainGrace    time.Duration `yaml:"drain_grace"`
	SQLitePath    string        `yaml:"sqlite_path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns the configuration used for any key the file leaves unset.
func Default() Config {
	return Config{
		General: GeneralConfig{
			TaskName:      "probe",
			TargetFile:    "targets.txt",
			OutputDir:     "data/output",
			WorkerThreads: 10,
		},
		Scheduler: SchedulerConfig{
			ProbeInterval:   time.Second,
			RunDuration:     300 * time.Second,
			MisfireGrace:    10 * time.Second,
			TickResolution:  100 * time.Millisecond,
			OneShotDelay:    3 * time.Second,
			OneShotSpacing:  2 * time.Second,
			OneShotStagger:  200 * time.Millisecond,
			PoolStopTimeout: 30 * time.Second,
		},
		ICMP: ICMPConfig{
			Timeout:    2 * time.Second,
			PacketSize: 56,
			Privileged: true,
		},
		DNS: DNSConfig{
			Timeout:     3 * time.Second,
			QueryDomain: "google.com",
			QueryType:   "A",
		},
		RDNS: RDNSConfig{
			Timeout:    3 * time.Second,
			ResolvConf: "/etc/resolv.conf",
		},
		Traceroute: TracerouteConfig{
			Timeout:       3 * time.Second,
			MaxHops:       20,
			QueriesPerHop: 3,
		},
		Writer: WriterConfig{
			QueueCapacity: 1024,
			PutTimeout:    2 * time.Second,
			DrainGrace:    5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML file at path on top of Default and validates the result.
// Relative file references are resolved against the config file's directory.
func Load(ctx context.Context, path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}

	base := filepath.Dir(path)
	cfg.General.TargetFile = resolve(base, cfg.General.TargetFile)
	cfg.General.CohortFile = resolve(base, cfg.General.CohortFile)
	cfg.General.OutputDir = resolve(base, cfg.General.OutputDir)
	cfg.Writer.SQLitePath = resolve(base, cfg.Writer.SQLitePath)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validate config %q: %w", path, err)
	}
	return cfg, nil
}

func LoadFromEnv(ctx context.Context) (Config, error) {
	path := os.Getenv(envConfigPath)
	if path == "" {
		path = DefaultConfigPath
	}
	return Load(ctx, path)
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func (c Config) Validate() error {
	var errs []error
	if c.General.WorkerThreads <= 0 {
		errs = append(errs, fmt.Errorf("general.worker_threads must be positive, got %d", c.General.WorkerThreads))
	}
	if c.General.OutputDir == "" {
		errs = append(errs, errors.New("general.output_dir is required"))
	}
	if c.Scheduler.ProbeInterval <= 0 {
		errs = append(errs, errors.New("scheduler.probe_interval must be positive"))
	}
	if c.Scheduler.RunDuration <= 0 {
		errs = append(errs, errors.New("scheduler.run_duration must be positive"))
	}
	if c.Scheduler.Backlog != nil && *c.Scheduler.Backlog < 0 {
		errs = append(errs, errors.New("scheduler.backlog must not be negative"))
	}
	if rg := c.Scheduler.RateGovernance; rg.Enabled && rg.GlobalPPSCap <= 0 {
		errs = append(errs, errors.New("scheduler.rate_governance.global_pps_cap must be positive when enabled"))
	}
	if c.ICMP.Enabled && (c.ICMP.PacketSize < 0 || c.ICMP.PacketSize > 65500) {
		errs = append(errs, fmt.Errorf("icmp.packet_size out of range: %d", c.ICMP.PacketSize))
	}
	if c.DNS.Enabled {
		if strings.TrimSpace(c.DNS.QueryDomain) == "" {
			errs = append(errs, errors.New("dns.query_domain is required"))
		}
	}
	if c.Traceroute.Enabled && (c.Traceroute.MaxHops <= 0 || c.Traceroute.QueriesPerHop <= 0) {
		errs = append(errs, errors.New("traceroute.max_hops and traceroute.queries_per_hop must be positive"))
	}
	for kind, timeout := range map[types.Kind]time.Duration{
		types.KindICMP:       c.ICMP.Timeout,
		types.KindDNS:        c.DNS.Timeout,
		types.KindRDNS:       c.RDNS.Timeout,
		types.KindTraceroute: c.Traceroute.Timeout,
	} {
		if c.Enabled(kind) && timeout <= 0 {
			errs = append(errs, fmt.Errorf("%s.timeout must be positive", kind))
		}
	}
	if c.Writer.QueueCapacity <= 0 {
		errs = append(errs, errors.New("writer.queue_capacity must be positive"))
	}
	if len(c.EnabledKinds()) == 0 {
		errs = append(errs, errors.New("no probe kind is enabled"))
	}
	return errors.Join(errs...)
}

func (c Config) Enabled(kind types.Kind) bool {
	switch kind {
	case types.KindICMP:
		return c.ICMP.Enabled
	case types.KindDNS:
		return c.DNS.Enabled
	case types.KindRDNS:
		return c.RDNS.Enabled
	case types.KindTraceroute:
		return c.Traceroute.Enabled
	default:
		return false
	}
}

func (c Config) EnabledKinds() []types.Kind {
	var kinds []types.Kind
	for _, k := range types.Kinds {
		if c.Enabled(k) {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// BacklogSize returns the dispatch backlog, defaulting to one slot per worker.
func (c Config) BacklogSize() int {
	if c.Scheduler.Backlog != nil {
		return *c.Scheduler.Backlog
	}
	return c.General.WorkerThreads
}
