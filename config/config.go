package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	DB        dbConfig        `toml:"db" mapstructure:"db"`
	Downloads downloadsConfig `toml:"downloads" mapstructure:"downloads"`
	Log       logConfig       `toml:"log" mapstructure:"log"`
}

type dbConfig struct {
	Path     string `toml:"path" mapstructure:"path"`
	PoolSize int    `toml:"pool_size" mapstructure:"pool_size" json:"pool_size"`
}

type downloadsConfig struct {
	Workers   int         `toml:"workers" mapstructure:"workers"`
	QueueSize int         `toml:"queue_size" mapstructure:"queue_size" json:"queue_size"`
	Timeout   int         `toml:"timeout" mapstructure:"timeout"`
	UserAgent string      `toml:"user_agent" mapstructure:"user_agent" json:"user_agent"`
	RateLimit float64     `toml:"rate_limit" mapstructure:"rate_limit" json:"rate_limit"`
	Proxy     proxyConfig `toml:"proxy" mapstructure:"proxy"`
}

type proxyConfig struct {
	Enable bool   `toml:"enable" mapstructure:"enable"`
	URL    string `toml:"url" mapstructure:"url"`
}

type logConfig struct {
	Level string `toml:"level" mapstructure:"level"`
}

var Cfg *Config

func Init(configFile string) error {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/chatvault/")
	}
	viper.SetConfigType("toml")
	viper.SetEnvPrefix("CHATVAULT")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("db.path", "data/chatvault.db")
	viper.SetDefault("db.pool_size", 5)

	viper.SetDefault("downloads.workers", 4)
	viper.SetDefault("downloads.queue_size", 25)
	viper.SetDefault("downloads.timeout", 30)
	viper.SetDefault("downloads.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	viper.SetDefault("downloads.rate_limit", 0)

	viper.SetDefault("log.level", "INFO")

	if err := viper.ReadInConfig(); err != nil {
		// Running entirely on defaults is fine; a broken file is not.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	Cfg = &Config{}
	if err := viper.Unmarshal(Cfg); err != nil {
		return fmt.Errorf("error unmarshalling config: %w", err)
	}

	if Cfg.Downloads.Workers < 1 {
		return fmt.Errorf("downloads.workers must be at least 1, got %d", Cfg.Downloads.Workers)
	}
	if Cfg.Downloads.QueueSize < 1 {
		return fmt.Errorf("downloads.queue_size must be at least 1, got %d", Cfg.Downloads.QueueSize)
	}

	return nil
}

func Set(key string, value any) {
	viper.Set(key, value)
}
