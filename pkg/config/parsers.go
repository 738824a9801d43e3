package config

import (
	"flag"
	"os"
	"strconv"

	"missionlog/pkg/logger"
)

// Flags holds the command-line values relevant to startup.
type Flags struct {
	Addr   string
	DB     string
	Config string
	// Set records which flags were explicitly provided.
	Set map[string]bool
}

// ParseConfigFlags parses the startup flags from args (excluding the
// program name).
func ParseConfigFlags(args []string) (*Flags, error) {
	fs := flag.NewFlagSet("missionlog", flag.ContinueOnError)
	addr := fs.String("addr", ":8080", "listen address")
	db := fs.String("db", "./.database", "path to database directory")
	cfg := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return &Flags{Addr: *addr, DB: *db, Config: *cfg, Set: set}, nil
}

// ParseConfigFile loads the YAML config at path. A missing file is not an
// error; it returns (nil, nil) so callers can fall through to defaults.
func ParseConfigFile(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return Load(path)
}

// ParseConfigEnvs overlays MISSIONLOG_* environment variables onto c.
func ParseConfigEnvs(c *Config) {
	if v := os.Getenv("MISSIONLOG_DB_PATH"); v != "" {
		c.Server.DBPath = v
	}
	if v := os.Getenv("MISSIONLOG_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("MISSIONLOG_SEARCH_ENDPOINT"); v != "" {
		c.Search.Endpoint = v
	}
	if v := os.Getenv("MISSIONLOG_SEARCH_INDEX"); v != "" {
		c.Search.Index = v
	}
	if v := os.Getenv("MISSIONLOG_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Security.RateLimit.RPS = f
		} else {
			logger.Warn("config_env_invalid", "key", "MISSIONLOG_RATE_RPS", "value", v)
		}
	}
	if v := os.Getenv("MISSIONLOG_RATE_BURST"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			c.Security.RateLimit.Burst = i
		} else {
			logger.Warn("config_env_invalid", "key", "MISSIONLOG_RATE_BURST", "value", v)
		}
	}
}

// EffectiveConfigResult is the outcome of merging flags, environment and
// config file into the final startup settings.
type EffectiveConfigResult struct {
	Config *Config
	Addr   string
	DBPath string
	// Source notes where Addr came from: "flag", "env", "config" or
	// "default".
	Source string
}

// LoadEffectiveConfig merges the three configuration sources. Precedence,
// highest first: explicit flags, environment variables, config file,
// built-in defaults.
func LoadEffectiveConfig(flags *Flags) (*EffectiveConfigResult, error) {
	cfgPath := ResolveConfigPath(flags.Config)
	cfg, err := ParseConfigFile(cfgPath)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = &Config{}
	}
	ParseConfigEnvs(cfg)

	res := &EffectiveConfigResult{Config: cfg}

	switch {
	case flags.Set["addr"]:
		res.Addr = flags.Addr
		res.Source = "flag"
	case os.Getenv("MISSIONLOG_ADDR") != "":
		res.Addr = os.Getenv("MISSIONLOG_ADDR")
		res.Source = "env"
	case cfg.Server.Address != "" || cfg.Server.Port != 0:
		res.Addr = cfg.Addr()
		res.Source = "config"
	default:
		res.Addr = flags.Addr
		res.Source = "default"
	}

	switch {
	case flags.Set["db"]:
		res.DBPath = flags.DB
	case cfg.Server.DBPath != "":
		res.DBPath = cfg.Server.DBPath
	default:
		res.DBPath = flags.DB
	}
	cfg.Server.DBPath = res.DBPath

	return res, nil
}
