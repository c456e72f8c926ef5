package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalid wraps every validation failure so callers can tell bad input
// apart from I/O errors.
var ErrInvalid = errors.New("invalid configuration")

const (
	EnvPrefix = "MLWORKSPACE"

	DefaultDeployment         = "SagemakerGovernanceStack"
	DefaultVPCCIDR            = "10.0.0.0/16"
	DefaultMaxAZs             = 2
	DefaultSubnetCIDRMask     = 24
	DefaultAppPortFrom        = 8192
	DefaultAppPortTo          = 65535
	DefaultExternalConnection = "public:pypi"
	DefaultWaitTimeout        = 60 * time.Minute

	// MaxUserNameLength keeps "UserRole<id>" within the 64 character IAM
	// role name limit.
	MaxUserNameLength = 56
)

var (
	userNamePattern   = regexp.MustCompile(`^[A-Za-z0-9]{1,56}$`)
	deploymentPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9-]{0,42}$`)
)

// Config is the typed input of the workspace builder.
type Config struct {
	Deployment string        `mapstructure:"deployment" yaml:"deployment"`
	UserNames  []string      `mapstructure:"userNames" yaml:"userNames"`
	Network    NetworkConfig `mapstructure:"network" yaml:"network"`
	Domain     DomainConfig  `mapstructure:"domain" yaml:"domain"`
	Mirror     MirrorConfig  `mapstructure:"mirror" yaml:"mirror"`
	Deploy     DeployConfig  `mapstructure:"deploy" yaml:"deploy"`
}

type NetworkConfig struct {
	CIDR           string `mapstructure:"cidr" yaml:"cidr"`
	MaxAZs         int    `mapstructure:"maxAzs" yaml:"maxAzs"`
	SubnetCIDRMask int    `mapstructure:"subnetCidrMask" yaml:"subnetCidrMask"`
}

type DomainConfig struct {
	AppPortFrom int `mapstructure:"appPortFrom" yaml:"appPortFrom"`
	AppPortTo   int `mapstructure:"appPortTo" yaml:"appPortTo"`
}

type MirrorConfig struct {
	ExternalConnection string `mapstructure:"externalConnection" yaml:"externalConnection"`
}

type DeployConfig struct {
	Region      string        `mapstructure:"region" yaml:"region"`
	Profile     string        `mapstructure:"profile" yaml:"profile"`
	AssetBucket string        `mapstructure:"assetBucket" yaml:"assetBucket"`
	WaitTimeout time.Duration `mapstructure:"waitTimeout" yaml:"waitTimeout"`
	StatePath   string        `mapstructure:"statePath" yaml:"statePath"`
}

// LoadOptions controls where configuration comes from.
type LoadOptions struct {
	// Path of a YAML config file; empty means no file.
	Path string
	// Context holds key=value overrides, applied last.
	Context map[string]string
}

// RegisterDefaults seeds v with every known key. Keys must be known to viper
// for AutomaticEnv to apply during Unmarshal.
func RegisterDefaults(v *viper.Viper) {
	v.SetDefault("deployment", DefaultDeployment)
	v.SetDefault("userNames", []string{})
	v.SetDefault("network.cidr", DefaultVPCCIDR)
	v.SetDefault("network.maxAzs", DefaultMaxAZs)
	v.SetDefault("network.subnetCidrMask", DefaultSubnetCIDRMask)
	v.SetDefault("domain.appPortFrom", DefaultAppPortFrom)
	v.SetDefault("domain.appPortTo", DefaultAppPortTo)
	v.SetDefault("mirror.externalConnection", DefaultExternalConnection)
	v.SetDefault("deploy.region", "")
	v.SetDefault("deploy.profile", "")
	v.SetDefault("deploy.assetBucket", "")
	v.SetDefault("deploy.waitTimeout", DefaultWaitTimeout)
	v.SetDefault("deploy.statePath", "")
}

// Load reads configuration into v, applies overrides, and validates.
func Load(v *viper.Viper, opts LoadOptions) (*Config, error) {
	RegisterDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.Path != "" {
		v.SetConfigFile(opts.Path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", opts.Path, err)
		}
	}

	keys := make([]string, 0, len(opts.Context))
	for k := range opts.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		val, err := parseContextValue(opts.Context[k])
		if err != nil {
			return nil, fmt.Errorf("%w: context %s: %v", ErrInvalid, k, err)
		}
		v.Set(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	expandEnvStrings(reflect.ValueOf(&cfg))
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseContext turns repeated key=value flags into a map.
func ParseContext(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, val, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: context %q must be key=value", ErrInvalid, p)
		}
		out[k] = val
	}
	return out, nil
}

// parseContextValue accepts either a JSON list (["a","b"]) or a plain string.
// Plain comma-separated strings are split into slices by viper's decode hooks.
func parseContextValue(raw string) (any, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "[") {
		var list []string
		if err := json.Unmarshal([]byte(s), &list); err != nil {
			return nil, fmt.Errorf("parse list %q: %w", s, err)
		}
		return list, nil
	}
	return s, nil
}

func (c *Config) setDefaults() {
	if c.Deployment == "" {
		c.Deployment = DefaultDeployment
	}
	if c.Network.CIDR == "" {
		c.Network.CIDR = DefaultVPCCIDR
	}
	if c.Network.MaxAZs <= 0 {
		c.Network.MaxAZs = DefaultMaxAZs
	}
	if c.Network.SubnetCIDRMask == 0 {
		c.Network.SubnetCIDRMask = DefaultSubnetCIDRMask
	}
	if c.Domain.AppPortFrom == 0 && c.Domain.AppPortTo == 0 {
		c.Domain.AppPortFrom = DefaultAppPortFrom
		c.Domain.AppPortTo = DefaultAppPortTo
	}
	if c.Mirror.ExternalConnection == "" {
		c.Mirror.ExternalConnection = DefaultExternalConnection
	}
	if c.Deploy.WaitTimeout <= 0 {
		c.Deploy.WaitTimeout = DefaultWaitTimeout
	}
}

// Validate rejects configurations that would produce an inconsistent
// resource graph.
func (c *Config) Validate() error {
	if !deploymentPattern.MatchString(c.Deployment) {
		return fmt.Errorf("%w: deployment %q must start with a letter and contain only letters, digits and '-' (max 43)", ErrInvalid, c.Deployment)
	}
	if len(c.UserNames) == 0 {
		return fmt.Errorf("%w: userNames is required and must not be empty", ErrInvalid)
	}

	seen := make(map[string]string, len(c.UserNames))
	for i, u := range c.UserNames {
		if strings.TrimSpace(u) == "" {
			return fmt.Errorf("%w: userNames entry %d is empty", ErrInvalid, i)
		}
		if !userNamePattern.MatchString(u) {
			return fmt.Errorf("%w: user name %q must be 1-%d ASCII letters or digits", ErrInvalid, u, MaxUserNameLength)
		}
		folded := strings.ToLower(u)
		if prev, ok := seen[folded]; ok {
			return fmt.Errorf("%w: duplicate user name %q (collides with %q)", ErrInvalid, u, prev)
		}
		seen[folded] = u
	}

	if err := c.Network.validate(); err != nil {
		return err
	}

	if c.Domain.AppPortFrom < 1 || c.Domain.AppPortTo > 65535 || c.Domain.AppPortFrom > c.Domain.AppPortTo {
		return fmt.Errorf("%w: domain app port range %d-%d is invalid", ErrInvalid, c.Domain.AppPortFrom, c.Domain.AppPortTo)
	}
	if c.Mirror.ExternalConnection == "" || !strings.HasPrefix(c.Mirror.ExternalConnection, "public:") {
		return fmt.Errorf("%w: mirror.externalConnection must be a public:<index> connection, got %q", ErrInvalid, c.Mirror.ExternalConnection)
	}
	return nil
}

func (n NetworkConfig) validate() error {
	prefix, err := netip.ParsePrefix(n.CIDR)
	if err != nil {
		return fmt.Errorf("%w: network.cidr %q: %v", ErrInvalid, n.CIDR, err)
	}
	if !prefix.Addr().Is4() {
		return fmt.Errorf("%w: network.cidr %q must be IPv4", ErrInvalid, n.CIDR)
	}
	if prefix.Masked() != prefix {
		return fmt.Errorf("%w: network.cidr %q has host bits set", ErrInvalid, n.CIDR)
	}
	if prefix.Bits() < 16 || prefix.Bits() > 28 {
		return fmt.Errorf("%w: network.cidr mask must be between /16 and /28, got /%d", ErrInvalid, prefix.Bits())
	}
	if n.SubnetCIDRMask < prefix.Bits() || n.SubnetCIDRMask > 28 {
		return fmt.Errorf("%w: network.subnetCidrMask must be between /%d and /28, got /%d", ErrInvalid, prefix.Bits(), n.SubnetCIDRMask)
	}
	if n.MaxAZs < 1 {
		return fmt.Errorf("%w: network.maxAzs must be positive", ErrInvalid)
	}
	if capacity := 1 << (n.SubnetCIDRMask - prefix.Bits()); n.MaxAZs > capacity {
		return fmt.Errorf("%w: network.cidr %s fits %d /%d subnets, need %d", ErrInvalid, n.CIDR, capacity, n.SubnetCIDRMask, n.MaxAZs)
	}
	return nil
}

// DomainName is the shared name of the notebook domain and the package
// mirror domain and repository.
func (c *Config) DomainName() string {
	return strings.ToLower(c.Deployment) + "-domain"
}

func expandEnvStrings(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandEnvStrings(v.Elem())
		return
	}

	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandEnvStrings(v.Field(i))
		}
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			expandEnvStrings(v.Index(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(strings.TrimSpace(os.ExpandEnv(v.String())))
		}
	}
}
