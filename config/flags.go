package config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func RegisterFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()

	flags.StringP("config", "c", "", "config file path")
	flags.String("db-path", "", "archive file path")
	flags.Int("db-pool-size", 0, "database connection pool size")
	flags.IntP("workers", "w", 0, "number of download workers")
	flags.Int("queue-size", 0, "download queue capacity")
	flags.Int("timeout", 0, "download timeout in seconds")
	flags.String("user-agent", "", "user agent for downloads")
	flags.Float64("rate-limit", 0, "downloads per second (0 = unlimited)")
	flags.String("proxy", "", "proxy URL (http, https, socks5)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")

	bindFlags(cmd)
}

func bindFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()

	viper.BindPFlag("db.path", flags.Lookup("db-path"))
	viper.BindPFlag("db.pool_size", flags.Lookup("db-pool-size"))
	viper.BindPFlag("downloads.workers", flags.Lookup("workers"))
	viper.BindPFlag("downloads.queue_size", flags.Lookup("queue-size"))
	viper.BindPFlag("downloads.timeout", flags.Lookup("timeout"))
	viper.BindPFlag("downloads.user_agent", flags.Lookup("user-agent"))
	viper.BindPFlag("downloads.rate_limit", flags.Lookup("rate-limit"))
	viper.BindPFlag("downloads.proxy.url", flags.Lookup("proxy"))
	viper.BindPFlag("log.level", flags.Lookup("log-level"))
}

func GetConfigFile(cmd *cobra.Command) string {
	configFile, _ := cmd.Flags().GetString("config")
	return configFile
}
