// Package config reads Nelson's configuration via viper: a YAML file plus
// environment overrides, with every recognized option living under a
// "nelson." namespace.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	yaml "gopkg.in/yaml.v2"
)

// Config is the resolved set of options the daemon recognizes.
type Config struct {
	CycleInterval time.Duration
	EpochInterval time.Duration
	BeatInterval  time.Duration

	DataPath  string
	Temporary bool

	Port        int // peer-to-peer control port
	APIPort     int
	APIHostname string

	IRIHostname string
	IRIPort     int

	TCPPort int
	UDPPort int

	IsMaster  bool
	MultiPort bool

	TargetLinks     int
	GossipSize      int
	CycleEvictFrac  float64
	MaxDynamicPeers int

	DefaultPeers []string

	LoggerLevel  string
	LoggerOutput string
}

// Defaults are usable zero-config values for local development.
func Defaults() Config {
	return Config{
		CycleInterval: 60 * time.Second,
		EpochInterval: 15 * time.Minute,
		BeatInterval:  5 * time.Second,

		DataPath:  "./nelson-db",
		Temporary: false,

		Port:        14700,
		APIPort:     18700,
		APIHostname: "0.0.0.0",

		IRIHostname: "localhost",
		IRIPort:     14265,

		TCPPort: 15600,
		UDPPort: 14600,

		IsMaster:  false,
		MultiPort: false,

		TargetLinks:     8,
		GossipSize:      6,
		CycleEvictFrac:  0.25,
		MaxDynamicPeers: 0,

		LoggerLevel:  "info",
		LoggerOutput: "",
	}
}

// Read loads configFile (if non-empty) plus environment overrides under the
// NELSON_ prefix, then resolves the nelson.* viper keys on top of
// Defaults().
func Read(configFile string) (Config, error) {
	cfg := Defaults()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName(".nelson")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
	}
	viper.SetEnvPrefix("NELSON")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// a missing file is fine either way: search-path misses surface as
		// ConfigFileNotFoundError, an explicit --config path as a PathError
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("config: %w", err)
		}
	}

	bindDurationIfSet("nelson.cycleInterval", &cfg.CycleInterval)
	bindDurationIfSet("nelson.epochInterval", &cfg.EpochInterval)
	bindDurationIfSet("nelson.beatInterval", &cfg.BeatInterval)

	bindStringIfSet("nelson.dataPath", &cfg.DataPath)
	bindBoolIfSet("nelson.temporary", &cfg.Temporary)

	bindIntIfSet("nelson.port", &cfg.Port)
	bindIntIfSet("nelson.apiPort", &cfg.APIPort)
	bindStringIfSet("nelson.apiHostname", &cfg.APIHostname)

	bindStringIfSet("nelson.IRIHostname", &cfg.IRIHostname)
	bindIntIfSet("nelson.IRIPort", &cfg.IRIPort)

	bindIntIfSet("nelson.TCPPort", &cfg.TCPPort)
	bindIntIfSet("nelson.UDPPort", &cfg.UDPPort)

	bindBoolIfSet("nelson.isMaster", &cfg.IsMaster)
	bindBoolIfSet("nelson.multiPort", &cfg.MultiPort)

	bindIntIfSet("nelson.targetLinks", &cfg.TargetLinks)
	bindIntIfSet("nelson.gossipSize", &cfg.GossipSize)
	bindFloatIfSet("nelson.cycleEvictFraction", &cfg.CycleEvictFrac)
	bindIntIfSet("nelson.maxDynamicPeers", &cfg.MaxDynamicPeers)

	if viper.IsSet("nelson.defaultPeers") {
		cfg.DefaultPeers = viper.GetStringSlice("nelson.defaultPeers")
	}

	bindStringIfSet("logger.level", &cfg.LoggerLevel)
	bindStringIfSet("logger.output", &cfg.LoggerOutput)

	return cfg, nil
}

func bindStringIfSet(key string, dst *string) {
	if viper.IsSet(key) {
		*dst = viper.GetString(key)
	}
}

func bindIntIfSet(key string, dst *int) {
	if viper.IsSet(key) {
		*dst = viper.GetInt(key)
	}
}

func bindBoolIfSet(key string, dst *bool) {
	if viper.IsSet(key) {
		*dst = viper.GetBool(key)
	}
}

func bindFloatIfSet(key string, dst *float64) {
	if viper.IsSet(key) {
		*dst = viper.GetFloat64(key)
	}
}

// bindDurationIfSet reads key as a number of seconds (the interval options
// are second-denominated; fractions such as 1.5 are accepted), rather than
// viper's default GetDuration nanosecond interpretation of bare integers.
func bindDurationIfSet(key string, dst *time.Duration) {
	if viper.IsSet(key) {
		*dst = time.Duration(viper.GetFloat64(key) * float64(time.Second))
	}
}

// WriteTemplate writes a YAML file setting every nelson.* / logger.* key to
// its default value to path, for first-run setup. Marshaled with yaml.v2
// rather than viper.WriteConfig; yaml.v2 sorts map keys, so the key order is
// fixed. The file carries no comments. Interval keys are written as whole
// seconds, which Read parses back to the same durations.
func WriteTemplate(path string) error {
	d := Defaults()
	tmpl := map[string]any{
		"nelson": map[string]any{
			"cycleInterval":      int(d.CycleInterval.Seconds()),
			"epochInterval":      int(d.EpochInterval.Seconds()),
			"beatInterval":       int(d.BeatInterval.Seconds()),
			"dataPath":           d.DataPath,
			"temporary":          d.Temporary,
			"port":               d.Port,
			"apiPort":            d.APIPort,
			"apiHostname":        d.APIHostname,
			"IRIHostname":        d.IRIHostname,
			"IRIPort":            d.IRIPort,
			"TCPPort":            d.TCPPort,
			"UDPPort":            d.UDPPort,
			"isMaster":           d.IsMaster,
			"multiPort":          d.MultiPort,
			"targetLinks":        d.TargetLinks,
			"gossipSize":         d.GossipSize,
			"cycleEvictFraction": d.CycleEvictFrac,
			"maxDynamicPeers":    d.MaxDynamicPeers,
			"defaultPeers":       []string{},
		},
		"logger": map[string]any{
			"level":  d.LoggerLevel,
			"output": d.LoggerOutput,
		},
	}
	buf, err := yaml.Marshal(tmpl)
	if err != nil {
		return fmt.Errorf("config: marshal template: %w", err)
	}
	return os.WriteFile(path, buf, 0o644)
}
