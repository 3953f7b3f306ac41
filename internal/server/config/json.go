package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/creditshare/internal/flagx"
	"github.com/dmitrijs2005/creditshare/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations use
// timex.Duration so both "1s" and integer nanoseconds are accepted. Only
// fields present in the file override the current values.
type JsonConfig struct {
	CompanyStaticID     *string         `json:"company_static_id"`
	DatabaseDSN         *string         `json:"database_dsn"`
	KafkaBrokers        []string        `json:"kafka_brokers"`
	KafkaGroupID        *string         `json:"kafka_group_id"`
	KafkaTopic          *string         `json:"kafka_topic"`
	PublishMaxAttempts  *int            `json:"publish_max_attempts"`
	PublishBackoff      *timex.Duration `json:"publish_backoff"`
	RedisURL            *string         `json:"redis_url"`
	RequestLockTTL      *timex.Duration `json:"request_lock_ttl"`
	TaskManagerURL      *string         `json:"task_manager_url"`
	CompanyDirectoryURL *string         `json:"company_directory_url"`
	OpsAddr             *string         `json:"ops_addr"`
}

// parseJson overlays values from the file named by -c/-config onto config.
// Nothing happens when no file is given. An unreadable or malformed file
// panics, like a bad flag does.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	c.apply(config)
}

func (c *JsonConfig) apply(config *Config) {
	setString(&config.CompanyStaticID, c.CompanyStaticID)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	if len(c.KafkaBrokers) > 0 {
		config.KafkaBrokers = c.KafkaBrokers
	}
	setString(&config.KafkaGroupID, c.KafkaGroupID)
	setString(&config.KafkaTopic, c.KafkaTopic)
	if c.PublishMaxAttempts != nil {
		config.PublishMaxAttempts = *c.PublishMaxAttempts
	}
	if c.PublishBackoff != nil {
		config.PublishBackoff = c.PublishBackoff.Duration
	}
	setString(&config.RedisURL, c.RedisURL)
	if c.RequestLockTTL != nil {
		config.RequestLockTTL = c.RequestLockTTL.Duration
	}
	setString(&config.TaskManagerURL, c.TaskManagerURL)
	setString(&config.CompanyDirectoryURL, c.CompanyDirectoryURL)
	setString(&config.OpsAddr, c.OpsAddr)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
