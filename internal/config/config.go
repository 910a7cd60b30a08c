package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Redis   RedisConfig
	Chain   ChainConfig
	Sponsor SponsorConfig
	Server  ServerConfig
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type ChainConfig struct {
	RPCURL           string `mapstructure:"rpc_url"`
	ChainID          int64  `mapstructure:"chain_id"`
	PaymasterAddress string `mapstructure:"paymaster_address"`
	EntryPointLegacy string `mapstructure:"entry_point_legacy"`
	EntryPointPacked string `mapstructure:"entry_point_packed"`
}

type SponsorConfig struct {
	SigningKey   string `mapstructure:"signing_key"`
	OwnerAddress string `mapstructure:"owner_address"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("redis.addr", "redis:6379")

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"redis.addr":               "REDIS_ADDR",
		"redis.password":           "REDIS_PASSWORD",
		"chain.rpc_url":            "RPC_URL",
		"chain.chain_id":           "CHAIN_ID",
		"chain.paymaster_address":  "PAYMASTER_ADDRESS",
		"chain.entry_point_legacy": "ENTRY_POINT_LEGACY",
		"chain.entry_point_packed": "ENTRY_POINT_PACKED",
		"sponsor.signing_key":      "SPONSOR_SIGNING_KEY",
		"sponsor.owner_address":    "OWNER_ADDRESS",
		"server.port":              "PORT",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	type req struct {
		val  string
		name string
	}
	for _, r := range []req{
		{c.Chain.RPCURL, "RPC_URL"},
		{c.Chain.PaymasterAddress, "PAYMASTER_ADDRESS"},
		{c.Sponsor.SigningKey, "SPONSOR_SIGNING_KEY"},
		{c.Sponsor.OwnerAddress, "OWNER_ADDRESS"},
	} {
		if r.val == "" {
			return fmt.Errorf("required config missing: %s", r.name)
		}
	}
	if c.Chain.ChainID == 0 {
		return fmt.Errorf("required config missing: CHAIN_ID")
	}
	if c.Chain.EntryPointLegacy == "" && c.Chain.EntryPointPacked == "" {
		return fmt.Errorf("at least one of ENTRY_POINT_LEGACY, ENTRY_POINT_PACKED is required")
	}
	return nil
}
