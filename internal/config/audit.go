package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type AuditConfig struct {
	MaxConcurrency uint
	FailFast       bool
}

func (c AuditConfig) Validate() error {
	if c.MaxConcurrency == 0 {
		return fmt.Errorf("max concurrency must be greater than zero")
	}
	return nil
}

func LoadAuditConfigFromCLI() AuditConfig {
	return AuditConfig{
		MaxConcurrency: viper.GetUint("max-concurrency"),
		FailFast:       viper.GetBool("fail-fast"),
	}
}

type RecordConfig struct {
	Secret string
	UserID string
}

func (c RecordConfig) Validate() error {
	if c.Secret == "" {
		return fmt.Errorf("missing signing secret")
	}
	if c.UserID == "" {
		return fmt.Errorf("missing user id")
	}
	return nil
}

func LoadRecordConfigFromCLI() RecordConfig {
	return RecordConfig{
		Secret: viper.GetString("secret"),
		UserID: viper.GetString("user"),
	}
}
