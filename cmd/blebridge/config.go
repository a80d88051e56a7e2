package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ovh/configstore"
	"github.com/rclsilver/blebridge"
)

const (
	configAlias = "config"

	defaultTopicPrefix = "blebridge"
	defaultMQTTPort    = 1883
)

type mqttConfig struct {
	Host     string  `json:"host"`
	Port     int     `json:"port"`
	ClientID string  `json:"client_id,omitempty"`
	Username *string `json:"username,omitempty"`
	Password *string `json:"password,omitempty"`
}

type topicsConfig struct {
	Prefix string `json:"prefix"`
}

type scanConfig struct {
	Period          string `json:"period,omitempty"`
	Active          bool   `json:"active"`
	AllowDuplicates bool   `json:"allow_duplicates"`
	PartialOnStop   bool   `json:"partial_results_on_stop"`
}

type connectConfig struct {
	Timeout           string `json:"timeout,omitempty"`
	DisconnectTimeout string `json:"disconnect_timeout,omitempty"`
}

type config struct {
	MQTT    mqttConfig    `json:"mqtt"`
	Topics  topicsConfig  `json:"topics"`
	Scan    scanConfig    `json:"scan"`
	Connect connectConfig `json:"connect"`

	scanPeriod        time.Duration
	connectTimeout    time.Duration
	disconnectTimeout time.Duration
}

func loadConfig(store *configstore.Store) (*config, error) {
	var notFound configstore.ErrItemNotFound

	itemFilter := configstore.Filter().Store(store).Slice(configAlias).Squash()
	configItem, err := itemFilter.GetFirstItem()
	if err != nil {
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("configstore: get %q: no item found", configAlias)
		}
		return nil, err
	}

	jsonConfig, err := configItem.Value()
	if err != nil {
		return nil, err
	}

	var cfg config
	if err := json.Unmarshal([]byte(jsonConfig), &cfg); err != nil {
		return nil, fmt.Errorf("configstore: decode %q: %w", configAlias, err)
	}

	return &cfg, cfg.applyDefaults()
}

func (c *config) applyDefaults() error {
	if c.MQTT.Port == 0 {
		c.MQTT.Port = defaultMQTTPort
	}
	if c.Topics.Prefix == "" {
		c.Topics.Prefix = defaultTopicPrefix
	}

	var err error
	if c.scanPeriod, err = parseDuration("scan.period", c.Scan.Period, blebridge.DefaultScanPeriod); err != nil {
		return err
	}
	if c.connectTimeout, err = parseDuration("connect.timeout", c.Connect.Timeout, blebridge.DefaultConnectTimeout); err != nil {
		return err
	}
	if c.disconnectTimeout, err = parseDuration("connect.disconnect_timeout", c.Connect.DisconnectTimeout, blebridge.DefaultDisconnectTimeout); err != nil {
		return err
	}
	return nil
}

func parseDuration(key, value string, def time.Duration) (time.Duration, error) {
	if value == "" {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: %s: must be positive, got %s", key, value)
	}
	return d, nil
}
