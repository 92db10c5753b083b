package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type ServeConfig struct {
	Addr             string
	Secret           string
	AllowedOrigins   []string
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	EnablePrometheus bool
	PrometheusAddr   string
}

func (c ServeConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("missing listen address")
	}
	if c.Secret == "" {
		return fmt.Errorf("missing bearer token secret")
	}
	if c.EnablePrometheus && c.PrometheusAddr == "" {
		return fmt.Errorf("missing Prometheus address")
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}
	return nil
}

func LoadServeConfigFromCLI() ServeConfig {
	return ServeConfig{
		Addr:             viper.GetString("listen-addr"),
		Secret:           viper.GetString("secret"),
		AllowedOrigins:   viper.GetStringSlice("cors-origins"),
		ReadTimeout:      viper.GetDuration("read-timeout"),
		WriteTimeout:     viper.GetDuration("write-timeout"),
		EnablePrometheus: viper.GetBool("enable-prometheus"),
		PrometheusAddr:   viper.GetString("prometheus-addr"),
	}
}
