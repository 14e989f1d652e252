// Package esp holds the delivery transports the dispatch service sends
// through: Amazon SES, SparkPost, plain SMTP and a dry-run log transport.
// Every transport reports failures as *domain.SendError.
package esp

import (
	"fmt"
	"time"

	"github.com/JAKOBGTAG/multi-email-sender/internal/domain"
	"github.com/JAKOBGTAG/multi-email-sender/internal/service/dispatch"
)

// Config selects and configures one transport.
type Config struct {
	Type      domain.ESPType  `yaml:"type"`
	SES       SESConfig       `yaml:"ses"`
	SparkPost SparkPostConfig `yaml:"sparkpost"`
	SMTP      SMTPConfig      `yaml:"smtp"`
}

// SESConfig configures the SES transport. Empty keys fall back to the
// default AWS credential chain.
type SESConfig struct {
	Region           string `yaml:"region"`
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	Endpoint         string `yaml:"endpoint"`
	ConfigurationSet string `yaml:"configuration_set"`
}

// SparkPostConfig configures the SparkPost transport.
type SparkPostConfig struct {
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// SMTPConfig configures the SMTP transport.
type SMTPConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	StartTLS  bool   `yaml:"starttls"`
	LocalName string `yaml:"local_name"`
}

func (c SparkPostConfig) timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// New builds the transport named by cfg.Type.
func New(cfg Config) (dispatch.Transport, error) {
	switch cfg.Type {
	case domain.ESPSES:
		return NewSESTransport(cfg.SES)
	case domain.ESPSparkPost:
		return NewSparkPostTransport(cfg.SparkPost)
	case domain.ESPSMTP:
		return NewSMTPTransport(cfg.SMTP)
	case domain.ESPLog, "":
		return NewLogTransport(), nil
	default:
		return nil, fmt.Errorf("unknown transport type: %s", cfg.Type)
	}
}

// priorityHeader maps a priority to the X-Priority value.
func priorityHeader(p domain.Priority) string {
	switch p {
	case domain.PriorityHigh:
		return "1 (Highest)"
	case domain.PriorityLow:
		return "5 (Lowest)"
	default:
		return ""
	}
}

func formatAddress(name, email string) string {
	if name == "" {
		return email
	}
	return fmt.Sprintf("%s <%s>", name, email)
}
