// Package config loads kernel boot parameters with spf13/viper and
// spf13/pflag, grounded on gcsfuse's cfg.Config / BindFlags pattern.
// Load starts from Defaults(), so a kernel can boot with no config file
// at all.
package config

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every tunable the kernel needs at boot.
type Config struct {
	// Buffer cache slot count (C >= 32, typically 64).
	CacheCapacity int `mapstructure:"cache-capacity"`
	// Sector size S in bytes (typically 512).
	SectorSize int `mapstructure:"sector-size"`

	// User address space bounds consulted by the fault handler.
	UserFloor   uintptr `mapstructure:"user-floor"`
	UserCeiling uintptr `mapstructure:"user-ceiling"`
	// Bytes below esp that still count as legal stack growth (a >= esp - 32).
	StackGrowthSlack uintptr `mapstructure:"stack-growth-slack"`
	// Upper bound on the stack region in pages.
	MaxStackPages int `mapstructure:"max-stack-pages"`

	// Swap device capacity in page-sized slots.
	SwapSlots int `mapstructure:"swap-slots"`

	LogFile  string `mapstructure:"log-file"`
	LogLevel string `mapstructure:"log-level"`
}

// Defaults returns the kernel's baseline tunables.
func Defaults() Config {
	return Config{
		CacheCapacity:    64,
		SectorSize:       512,
		UserFloor:        0x08048000,
		UserCeiling:      0xC0000000,
		StackGrowthSlack: 32,
		MaxStackPages:    2048, // 8MB / 4KB pages
		SwapSlots:        1024,
		LogLevel:         "info",
	}
}

// BindFlags registers a flag on flagSet for every Config field except the
// address bounds and stack-growth slack (UserFloor, UserCeiling,
// StackGrowthSlack, which only a config file can set) and binds each into
// v, following gcsfuse's cfg.BindFlags. Call Load afterward to read any
// config file on top.
func BindFlags(flagSet *pflag.FlagSet, v *viper.Viper) {
	d := Defaults()
	flagSet.Int("cache-capacity", d.CacheCapacity, "buffer cache slot count (C)")
	flagSet.Int("sector-size", d.SectorSize, "block device sector size in bytes (S)")
	flagSet.Int("swap-slots", d.SwapSlots, "number of page-sized swap slots")
	flagSet.Int("max-stack-pages", d.MaxStackPages, "maximum pages the stack region may grow to")
	flagSet.String("log-file", d.LogFile, "log file path (empty for stderr)")
	flagSet.String("log-level", d.LogLevel, "log level: debug, info, warn, error")

	for _, name := range []string{"cache-capacity", "sector-size", "swap-slots", "max-stack-pages", "log-file", "log-level"} {
		_ = v.BindPFlag(name, flagSet.Lookup(name))
	}
}

// Load reads configFile (if non-empty) over the bound defaults/flags and
// returns the merged Config.
func Load(v *viper.Viper, configFile string) (Config, error) {
	cfg := Defaults()
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return cfg, err
		}
	}
	// address bounds aren't flags (they're architecture constants, not
	// operator-tunable in practice) but remain overridable via config file
	if v.IsSet("user-floor") {
		cfg.UserFloor = uintptr(v.GetInt64("user-floor"))
	} else {
		cfg.UserFloor = d().UserFloor
	}
	if v.IsSet("user-ceiling") {
		cfg.UserCeiling = uintptr(v.GetInt64("user-ceiling"))
	} else {
		cfg.UserCeiling = d().UserCeiling
	}
	if v.IsSet("stack-growth-slack") {
		cfg.StackGrowthSlack = uintptr(v.GetInt64("stack-growth-slack"))
	} else {
		cfg.StackGrowthSlack = d().StackGrowthSlack
	}
	if v.IsSet("cache-capacity") {
		cfg.CacheCapacity = v.GetInt("cache-capacity")
	}
	if v.IsSet("sector-size") {
		cfg.SectorSize = v.GetInt("sector-size")
	}
	if v.IsSet("swap-slots") {
		cfg.SwapSlots = v.GetInt("swap-slots")
	}
	if v.IsSet("max-stack-pages") {
		cfg.MaxStackPages = v.GetInt("max-stack-pages")
	}
	if v.IsSet("log-file") {
		cfg.LogFile = v.GetString("log-file")
	}
	if v.IsSet("log-level") {
		cfg.LogLevel = v.GetString("log-level")
	}
	return cfg, nil
}

func d() Config { return Defaults() }
