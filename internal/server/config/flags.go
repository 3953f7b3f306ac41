package config

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/dmitrijs2005/creditshare/internal/flagx"
)

// parseFlags populates Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-i string   own company static id
//	-d string   PostgreSQL DSN
//	-k string   Kafka brokers, comma separated
//	-g string   Kafka consumer group
//	-t string   Kafka topic
//	-m int      publish max attempts
//	-b int      publish backoff, milliseconds
//	-r string   Redis URL
//	-l int      request lock TTL, seconds
//	-n string   task manager base URL
//	-u string   company directory base URL
//	-a string   ops endpoint bind address
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-i", "-d", "-k", "-g", "-t", "-m", "-b", "-r", "-l", "-n", "-u", "-a"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.CompanyStaticID, "i", config.CompanyStaticID, "own company static id")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	brokers := fs.String("k", strings.Join(config.KafkaBrokers, ","), "kafka brokers")
	fs.StringVar(&config.KafkaGroupID, "g", config.KafkaGroupID, "kafka consumer group, unique per company (default api-credit-lines-<company>)")
	fs.StringVar(&config.KafkaTopic, "t", config.KafkaTopic, "kafka topic")
	fs.IntVar(&config.PublishMaxAttempts, "m", config.PublishMaxAttempts, "publish max attempts")
	backoff := fs.Int("b", int(config.PublishBackoff.Milliseconds()), "publish backoff (in milliseconds)")
	fs.StringVar(&config.RedisURL, "r", config.RedisURL, "redis URL")
	lockTTL := fs.Int("l", int(config.RequestLockTTL.Seconds()), "request lock ttl (in seconds)")
	fs.StringVar(&config.TaskManagerURL, "n", config.TaskManagerURL, "task manager URL")
	fs.StringVar(&config.CompanyDirectoryURL, "u", config.CompanyDirectoryURL, "company directory URL")
	fs.StringVar(&config.OpsAddr, "a", config.OpsAddr, "ops endpoint address")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.KafkaBrokers = flagx.SplitList(*brokers)
	config.PublishBackoff = time.Duration(*backoff) * time.Millisecond
	config.RequestLockTTL = time.Duration(*lockTTL) * time.Second
}
