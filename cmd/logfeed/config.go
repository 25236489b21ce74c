package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tinytelemetry/logfeed/internal/loader"
	"github.com/tinytelemetry/logfeed/internal/model"
	"github.com/tinytelemetry/logfeed/internal/objectstore"
)

const (
	defaultS3Endpoint = "s3.amazonaws.com"
	defaultS3Region   = "us-east-1"
)

// appConfig is internal runtime configuration.
type appConfig struct {
	Source            string        `mapstructure:"source"`
	Bucket            string        `mapstructure:"bucket"`
	ObjectKey         string        `mapstructure:"object-key"`
	S3Endpoint        string        `mapstructure:"s3-endpoint"`
	S3Region          string        `mapstructure:"s3-region"`
	S3AccessKey       string        `mapstructure:"s3-access-key"`
	S3SecretKey       string        `mapstructure:"s3-secret-key"`
	S3SessionToken    string        `mapstructure:"s3-session-token"`
	S3UseSSL          bool          `mapstructure:"s3-use-ssl"`
	Brokers           []string      `mapstructure:"brokers"`
	Topic             string        `mapstructure:"topic"`
	PublishTimeout    time.Duration `mapstructure:"publish-timeout"`
	ThrottleInterval  time.Duration `mapstructure:"throttle-interval"`
	Concurrency       int           `mapstructure:"concurrency"`
	MalformedLines    string        `mapstructure:"malformed-lines"`
	MaxLineSize       int           `mapstructure:"max-line-size"`
	Stream            bool          `mapstructure:"stream"`
	DeadLetterEnabled bool          `mapstructure:"dead-letter-enabled"`
	DeadLetterPath    string        `mapstructure:"dead-letter-path"`
	StatusAddr        string        `mapstructure:"status-addr"`
	ConfigPath        string        `mapstructure:"-"` // not from config file

	policy loader.Policy
}

func loadConfig(configPath string) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("LOGFEED")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("source", "")
	v.SetDefault("bucket", model.DefaultBucket)
	v.SetDefault("object-key", model.DefaultObjectKey)
	v.SetDefault("s3-endpoint", defaultS3Endpoint)
	v.SetDefault("s3-region", defaultS3Region)
	v.SetDefault("s3-access-key", "")
	v.SetDefault("s3-secret-key", "")
	v.SetDefault("s3-session-token", "")
	v.SetDefault("s3-use-ssl", true)
	v.SetDefault("brokers", []string{model.DefaultBroker})
	v.SetDefault("topic", model.DefaultTopic)
	v.SetDefault("publish-timeout", model.DefaultPublishTimeout)
	v.SetDefault("throttle-interval", model.DefaultThrottleInterval)
	v.SetDefault("concurrency", model.DefaultConcurrency)
	v.SetDefault("malformed-lines", string(loader.PolicyAbort))
	v.SetDefault("max-line-size", model.DefaultMaxLineSize)
	v.SetDefault("stream", false)
	v.SetDefault("dead-letter-enabled", false)
	v.SetDefault("dead-letter-path", filepath.Join(home, ".local", "state", "logfeed", "dead-letters.jsonl"))
	v.SetDefault("status-addr", "")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "logfeed", "config.yml"))
	}

	configRead := true
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
		configRead = false
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	if configRead {
		cfg.ConfigPath = v.ConfigFileUsed()
	}

	// Expand ~ in dead-letter-path
	if strings.HasPrefix(cfg.DeadLetterPath, "~/") {
		cfg.DeadLetterPath = filepath.Join(home, cfg.DeadLetterPath[2:])
	}

	if err := cfg.normalize(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// normalize applies the source URL override and validates every field.
func (c *appConfig) normalize() error {
	if strings.TrimSpace(c.Source) != "" {
		bucket, key, err := objectstore.ParseURL(c.Source)
		if err != nil {
			return err
		}
		c.Bucket, c.ObjectKey = bucket, key
	}

	brokers := make([]string, 0, len(c.Brokers))
	for _, b := range c.Brokers {
		for _, part := range strings.Split(b, ",") {
			if part = strings.TrimSpace(part); part != "" {
				brokers = append(brokers, part)
			}
		}
	}
	c.Brokers = brokers

	switch {
	case strings.TrimSpace(c.Bucket) == "":
		return fmt.Errorf("bucket is required")
	case strings.TrimSpace(c.ObjectKey) == "":
		return fmt.Errorf("object-key is required")
	case len(c.Brokers) == 0:
		return fmt.Errorf("at least one broker is required")
	case strings.TrimSpace(c.Topic) == "":
		return fmt.Errorf("topic is required")
	case c.PublishTimeout <= 0:
		return fmt.Errorf("invalid publish-timeout: %s", c.PublishTimeout)
	case c.ThrottleInterval < 0:
		return fmt.Errorf("invalid throttle-interval: %s", c.ThrottleInterval)
	case c.Concurrency < 1:
		return fmt.Errorf("invalid concurrency: %d", c.Concurrency)
	case c.MaxLineSize <= 0:
		return fmt.Errorf("invalid max-line-size: %d", c.MaxLineSize)
	case c.DeadLetterEnabled && strings.TrimSpace(c.DeadLetterPath) == "":
		return fmt.Errorf("dead-letter-path is required when dead letters are enabled")
	}

	policy, err := loader.ParsePolicy(c.MalformedLines)
	if err != nil {
		return err
	}
	c.policy = policy
	return nil
}

func (c appConfig) sourceURL() string {
	return objectstore.FormatURL(c.Bucket, c.ObjectKey)
}
