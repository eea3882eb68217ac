// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"io"
	"math"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"gopkg.in/yaml.v3"
	"k8s.io/utils/ptr"
)

// Config represents the complete application configuration
type (
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	}

	Host struct {
		// MSR is the register device path with a %d verb for the CPU number
		MSR    string `yaml:"msr"`
		SysFS  string `yaml:"sysfs"`
		ProcFS string `yaml:"procfs"`
	}

	Sampling struct {
		// Delay between two sweeps; 0 selects the computed safe interval
		Delay time.Duration `yaml:"delay"`
	}

	Output struct {
		Format string `yaml:"format"`
	}

	Topology struct {
		Source string `yaml:"source"`
	}

	Privilege struct {
		Drop *bool `yaml:"drop"`
		UID  int   `yaml:"uid"`
		GID  int   `yaml:"gid"`
	}

	PrometheusExporter struct {
		Enabled         *bool    `yaml:"enabled"`
		DebugCollectors []string `yaml:"debugCollectors"`
	}

	Exporter struct {
		Prometheus PrometheusExporter `yaml:"prometheus"`
	}

	Web struct {
		Config          string   `yaml:"configFile"`
		ListenAddresses []string `yaml:"listenAddresses"`
	}

	PprofDebug struct {
		Enabled *bool `yaml:"enabled"`
	}

	Debug struct {
		Pprof PprofDebug `yaml:"pprof"`
	}

	Config struct {
		Log       Log       `yaml:"log"`
		Host      Host      `yaml:"host"`
		Sampling  Sampling  `yaml:"sampling"`
		Output    Output    `yaml:"output"`
		Topology  Topology  `yaml:"topology"`
		Privilege Privilege `yaml:"privilege"`
		Exporter  Exporter  `yaml:"exporter"`
		Web       Web       `yaml:"web"`
		Debug     Debug     `yaml:"debug"`
	}
)

type SkipValidation int

const (
	SkipHostValidation SkipValidation = 1
)

const (
	// DefaultListenAddress of the metrics server
	DefaultListenAddress = ":28283"

	// MinDelay is the shortest accepted delay between two sweeps
	MinDelay = 51 * time.Millisecond

	// longest delay in milliseconds that fits a time.Duration
	maxDelayMs = math.MaxInt64 / int64(time.Millisecond)

	DefaultMSRPath = "/dev/cpu/%d/msr"

	OutputTable = "table"
	OutputRaw   = "raw"

	TopologyCPUID = "cpuid"
	TopologySysfs = "sysfs"
)

const (
	// Flags
	LogLevelFlag  = "log.level"
	LogFormatFlag = "log.format"
	DebugFlag     = "debug"

	HostMSRFlag    = "host.msr"
	HostSysFSFlag  = "host.sysfs"
	HostProcFSFlag = "host.procfs"

	DelayFlag          = "delay"
	RawFlag            = "raw"
	TopologySourceFlag = "topology.source"

	PrivilegeDropFlag = "privilege.drop"
	PrivilegeUIDFlag  = "privilege.uid"
	PrivilegeGIDFlag  = "privilege.gid"

	ExporterPrometheusEnabledFlag = "exporter.prometheus"
	// NOTE: not a flag
	ExporterPrometheusDebugCollectors = "exporter.prometheus.debug-collectors"

	WebConfigFlag        = "web.config-file"
	WebListenAddressFlag = "web.listen-address"

	PprofEnabledFlag = "debug.pprof"
)

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	return &Config{
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Host: Host{
			MSR:    DefaultMSRPath,
			SysFS:  "/sys",
			ProcFS: "/proc",
		},
		Output: Output{
			Format: OutputTable,
		},
		Topology: Topology{
			Source: TopologyCPUID,
		},
		Privilege: Privilege{
			Drop: ptr.To(true),
			UID:  65534,
			GID:  65534,
		},
		Exporter: Exporter{
			Prometheus: PrometheusExporter{
				Enabled:         ptr.To(false),
				DebugCollectors: []string{"go"},
			},
		},
		Web: Web{
			ListenAddresses: []string{DefaultListenAddress},
		},
		Debug: Debug{
			Pprof: PprofDebug{
				Enabled: ptr.To(false),
			},
		},
	}
}

// APIServerEnabled reports whether any endpoint needs the API server
func (c *Config) APIServerEnabled() bool {
	return ptr.Deref(c.Exporter.Prometheus.Enabled, false) || ptr.Deref(c.Debug.Pprof.Enabled, false)
}

// Load loads configuration from an io.Reader
func Load(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.sanitize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FromFile loads configuration from a file
func FromFile(filePath string) (cfg *Config, errRet error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil && errRet == nil {
			errRet = err
		}
	}()

	return Load(file)
}

type ConfigUpdaterFn func(*Config) error

// RegisterFlags registers command-line flags with kingpin app
// and returns ConfigUpdaterFn that updates the config from parsed flags
// as command line arguments override config file settings
func RegisterFlags(app *kingpin.Application) ConfigUpdaterFn {
	// track flags that were explicitly set
	flagsSet := map[string]bool{}

	app.PreAction(func(ctx *kingpin.ParseContext) error {
		flagsSet = map[string]bool{}
		for _, element := range ctx.Elements {
			if flag, ok := element.Clause.(*kingpin.FlagClause); ok && element.Value != nil {
				flagsSet[flag.Model().Name] = true
			}
		}
		return nil
	})

	// Logging
	logLevel := app.Flag(LogLevelFlag, "Logging level: debug, info, warn, error").Default("info").Enum("debug", "info", "warn", "error")
	logFormat := app.Flag(LogFormatFlag, "Logging format: text or json").Default("text").Enum("text", "json")
	debug := app.Flag(DebugFlag, "Enable debug logging (same as --log.level=debug)").Short('d').Bool()

	// host
	hostMSR := app.Flag(HostMSRFlag, "MSR device path, %d is replaced by the CPU number").Default(DefaultMSRPath).String()
	hostSysFS := app.Flag(HostSysFSFlag, "Host sysfs path").Default("/sys").String()
	hostProcFS := app.Flag(HostProcFSFlag, "Host procfs path").Default("/proc").String()

	// sampling and output
	delayMs := app.Flag(DelayFlag, "Delay between two sweeps in milliseconds (> 50); 0 computes it from the maximum package power").
		Short('e').Default("0").Int64()
	raw := app.Flag(RawFlag, "Print the report as key=value lines").Short('r').Bool()
	topologySource := app.Flag(TopologySourceFlag, "Package discovery: cpuid or sysfs").Default(TopologyCPUID).Enum(TopologyCPUID, TopologySysfs)

	// privileges
	dropPrivileges := app.Flag(PrivilegeDropFlag, "Drop root identity and capabilities once the registers are open").Default("true").Bool()
	uid := app.Flag(PrivilegeUIDFlag, "User id to switch to").Default("65534").Int()
	gid := app.Flag(PrivilegeGIDFlag, "Group id to switch to").Default("65534").Int()

	// exporters
	prometheusExporterEnabled := app.Flag(ExporterPrometheusEnabledFlag, "Enable Prometheus exporter").Default("false").Bool()
	webConfig := app.Flag(WebConfigFlag, "Web config file path").Default("").String()
	webListenAddresses := app.Flag(WebListenAddressFlag, "Web server listen addresses").Default(DefaultListenAddress).Strings()

	enablePprof := app.Flag(PprofEnabledFlag, "Enable pprof debug endpoints").Default("false").Bool()

	return func(cfg *Config) error {
		if flagsSet[LogLevelFlag] {
			cfg.Log.Level = *logLevel
		}
		if flagsSet[LogFormatFlag] {
			cfg.Log.Format = *logFormat
		}
		// -d wins over --log.level
		if flagsSet[DebugFlag] && *debug {
			cfg.Log.Level = "debug"
		}

		if flagsSet[HostMSRFlag] {
			cfg.Host.MSR = *hostMSR
		}
		if flagsSet[HostSysFSFlag] {
			cfg.Host.SysFS = *hostSysFS
		}
		if flagsSet[HostProcFSFlag] {
			cfg.Host.ProcFS = *hostProcFS
		}

		if flagsSet[DelayFlag] {
			if *delayMs > maxDelayMs || *delayMs < -maxDelayMs {
				return fmt.Errorf("invalid delay: %dms is out of range", *delayMs)
			}
			cfg.Sampling.Delay = time.Duration(*delayMs) * time.Millisecond
		}
		if flagsSet[RawFlag] && *raw {
			cfg.Output.Format = OutputRaw
		}
		if flagsSet[TopologySourceFlag] {
			cfg.Topology.Source = *topologySource
		}

		if flagsSet[PrivilegeDropFlag] {
			cfg.Privilege.Drop = dropPrivileges
		}
		if flagsSet[PrivilegeUIDFlag] {
			cfg.Privilege.UID = *uid
		}
		if flagsSet[PrivilegeGIDFlag] {
			cfg.Privilege.GID = *gid
		}

		if flagsSet[ExporterPrometheusEnabledFlag] {
			cfg.Exporter.Prometheus.Enabled = prometheusExporterEnabled
		}
		if flagsSet[WebConfigFlag] {
			cfg.Web.Config = *webConfig
		}
		if flagsSet[WebListenAddressFlag] {
			cfg.Web.ListenAddresses = *webListenAddresses
		}
		if flagsSet[PprofEnabledFlag] {
			cfg.Debug.Pprof.Enabled = enablePprof
		}

		cfg.sanitize()
		return cfg.Validate()
	}
}

func (c *Config) sanitize() {
	c.Log.Level = strings.TrimSpace(c.Log.Level)
	c.Log.Format = strings.TrimSpace(c.Log.Format)
	c.Host.MSR = strings.TrimSpace(c.Host.MSR)
	c.Host.SysFS = strings.TrimSpace(c.Host.SysFS)
	c.Host.ProcFS = strings.TrimSpace(c.Host.ProcFS)
	c.Output.Format = strings.TrimSpace(c.Output.Format)
	c.Topology.Source = strings.TrimSpace(c.Topology.Source)
	c.Web.Config = strings.TrimSpace(c.Web.Config)
	for i := range c.Web.ListenAddresses {
		c.Web.ListenAddresses[i] = strings.TrimSpace(c.Web.ListenAddresses[i])
	}
	for i := range c.Exporter.Prometheus.DebugCollectors {
		c.Exporter.Prometheus.DebugCollectors[i] = strings.TrimSpace(c.Exporter.Prometheus.DebugCollectors[i])
	}
}

// Validate checks for configuration errors
func (c *Config) Validate(skips ...SkipValidation) error {
	validationSkipped := make(map[SkipValidation]bool, len(skips))
	for _, v := range skips {
		validationSkipped[v] = true
	}
	var errs []string
	{ // log level
		validLogLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLogLevels[c.Log.Level] {
			errs = append(errs, fmt.Sprintf("invalid log level: %s", c.Log.Level))
		}
	}
	{ // log format
		if c.Log.Format != "text" && c.Log.Format != "json" {
			errs = append(errs, fmt.Sprintf("invalid log format: %s", c.Log.Format))
		}
	}
	{ // MSR device path
		if n := strings.Count(c.Host.MSR, "%d"); n != 1 || strings.Count(c.Host.MSR, "%") != 1 {
			errs = append(errs, fmt.Sprintf("invalid msr path %q: needs exactly one %%d for the cpu number", c.Host.MSR))
		}
	}
	{ // host
		if !validationSkipped[SkipHostValidation] {
			if err := canReadDir(c.Host.SysFS); err != nil {
				errs = append(errs, fmt.Sprintf("invalid sysfs path: %s: %s", c.Host.SysFS, err.Error()))
			}
			if ptr.Deref(c.Exporter.Prometheus.Enabled, false) {
				if err := canReadDir(c.Host.ProcFS); err != nil {
					errs = append(errs, fmt.Sprintf("invalid procfs path: %s: %s", c.Host.ProcFS, err.Error()))
				}
			}
		}
	}
	{ // sampling
		if c.Sampling.Delay < 0 {
			errs = append(errs, fmt.Sprintf("invalid delay: %s can't be negative", c.Sampling.Delay))
		} else if c.Sampling.Delay != 0 && c.Sampling.Delay < MinDelay {
			errs = append(errs, fmt.Sprintf("invalid delay: %s must be more than 50ms", c.Sampling.Delay))
		}
	}
	{ // output
		if c.Output.Format != OutputTable && c.Output.Format != OutputRaw {
			errs = append(errs, fmt.Sprintf("invalid output format: %s", c.Output.Format))
		}
	}
	{ // topology
		if c.Topology.Source != TopologyCPUID && c.Topology.Source != TopologySysfs {
			errs = append(errs, fmt.Sprintf("invalid topology source: %s", c.Topology.Source))
		}
	}
	{ // privilege
		if ptr.Deref(c.Privilege.Drop, true) {
			if c.Privilege.UID <= 0 {
				errs = append(errs, fmt.Sprintf("invalid privilege uid: %d must be a non-root user", c.Privilege.UID))
			}
			if c.Privilege.GID <= 0 {
				errs = append(errs, fmt.Sprintf("invalid privilege gid: %d must be a non-root group", c.Privilege.GID))
			}
		}
	}
	if c.APIServerEnabled() {
		if c.Web.Config != "" {
			if err := canReadFile(c.Web.Config); err != nil {
				errs = append(errs, fmt.Sprintf("invalid web config file. path: %q: %s", c.Web.Config, err.Error()))
			}
		}
		if len(c.Web.ListenAddresses) == 0 {
			errs = append(errs, "at least one web listen address must be specified")
		}
		for _, addr := range c.Web.ListenAddresses {
			if err := validateListenAddress(addr); err != nil {
				errs = append(errs, fmt.Sprintf("invalid web listen address %q: %s", addr, err.Error()))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, ", "))
	}

	return nil
}

func canReadDir(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		// ignored on purpose
		_ = f.Close()
	}()

	_, err = f.ReadDir(1)
	return err
}

func canReadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		// ignored on purpose
		_ = f.Close()
	}()

	buf := make([]byte, 8)
	_, err = f.Read(buf)
	return err
}

func validateListenAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address cannot be empty")
	}

	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address format: %w", err)
	}

	portNum, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("port must be numeric, got %s", port)
	}
	if portNum < 1 || portNum > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", portNum)
	}
	return nil
}

func (c *Config) String() string {
	bytes, err := yaml.Marshal(c)
	if err == nil {
		return string(bytes)
	}
	// NOTE: yaml marshal of this struct should not fail
	return c.manualString()
}

func (c *Config) manualString() string {
	cfgs := []struct {
		Name  string
		Value string
	}{
		{LogLevelFlag, c.Log.Level},
		{LogFormatFlag, c.Log.Format},
		{HostMSRFlag, c.Host.MSR},
		{HostSysFSFlag, c.Host.SysFS},
		{HostProcFSFlag, c.Host.ProcFS},
		{DelayFlag, c.Sampling.Delay.String()},
		{RawFlag, strconv.FormatBool(c.Output.Format == OutputRaw)},
		{TopologySourceFlag, c.Topology.Source},
		{PrivilegeDropFlag, fmt.Sprintf("%v", ptr.Deref(c.Privilege.Drop, true))},
		{PrivilegeUIDFlag, strconv.Itoa(c.Privilege.UID)},
		{PrivilegeGIDFlag, strconv.Itoa(c.Privilege.GID)},
		{ExporterPrometheusEnabledFlag, fmt.Sprintf("%v", ptr.Deref(c.Exporter.Prometheus.Enabled, false))},
		{ExporterPrometheusDebugCollectors, strings.Join(c.Exporter.Prometheus.DebugCollectors, ", ")},
		{WebListenAddressFlag, strings.Join(c.Web.ListenAddresses, ", ")},
		{PprofEnabledFlag, fmt.Sprintf("%v", ptr.Deref(c.Debug.Pprof.Enabled, false))},
	}

	sb := strings.Builder{}
	for _, cfg := range cfgs {
		sb.WriteString(cfg.Name)
		sb.WriteString(": ")
		sb.WriteString(cfg.Value)
		sb.WriteString("\n")
	}
	return sb.String()
}
