package main

import (
	"fmt"
	"os"
	"time"

	"github.com/MegaGrindStone/typewriter-chat/internal/handlers"
	"github.com/MegaGrindStone/typewriter-chat/internal/render"
	"github.com/MegaGrindStone/typewriter-chat/internal/services"
	"gopkg.in/yaml.v3"
)

type producerConfig interface {
	producer() (handlers.Producer, error)
}

// BaseProducerConfig contains the common fields for all producer configurations.
type BaseProducerConfig struct {
	Kind  string `yaml:"kind"`
	Delay string `yaml:"delay"`
	Split string `yaml:"split"`
}

type config struct {
	Port      string          `yaml:"port"`
	LogLevel  string          `yaml:"logLevel"`
	DBPath    string          `yaml:"dbPath"`
	ChatURL   string          `yaml:"chatURL"`
	Producer  producerConfig  `yaml:"producer"`
	Reveal    revealConfig    `yaml:"reveal"`
	RateLimit rateLimitConfig `yaml:"rateLimit"`
}

type revealConfig struct {
	Renderer render.Kind `yaml:"renderer"`
}

type rateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type mockConfig struct {
	BaseProducerConfig `yaml:",inline"`
	FailAfter          int `yaml:"failAfter"`
}

type echoConfig struct {
	BaseProducerConfig `yaml:",inline"`
}

const (
	defaultPort     = "8080"
	defaultLogLevel = "INFO"
)

func defaultConfig() config {
	return config{
		Port:     defaultPort,
		LogLevel: defaultLogLevel,
		Producer: &mockConfig{BaseProducerConfig: BaseProducerConfig{Kind: "mock"}},
		Reveal:   revealConfig{Renderer: render.KindPlain},
	}
}

// loadConfig reads the config file at path. A missing file yields the defaults.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return config{}, fmt.Errorf("error decoding config file: %w", err)
	}
	return cfg, nil
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port      string          `yaml:"port"`
		LogLevel  string          `yaml:"logLevel"`
		DBPath    string          `yaml:"dbPath"`
		ChatURL   string          `yaml:"chatURL"`
		Producer  map[string]any  `yaml:"producer"`
		Reveal    revealConfig    `yaml:"reveal"`
		RateLimit rateLimitConfig `yaml:"rateLimit"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	if rawConfig.Port != "" {
		c.Port = rawConfig.Port
	}
	if rawConfig.LogLevel != "" {
		c.LogLevel = rawConfig.LogLevel
	}
	if rawConfig.Reveal.Renderer != "" {
		c.Reveal = rawConfig.Reveal
	}
	c.DBPath = rawConfig.DBPath
	c.ChatURL = rawConfig.ChatURL
	c.RateLimit = rawConfig.RateLimit

	if rawConfig.Producer == nil {
		return nil
	}

	kind, ok := rawConfig.Producer["kind"].(string)
	if !ok {
		return fmt.Errorf("producer kind is required")
	}

	producerRawYAML, err := yaml.Marshal(rawConfig.Producer)
	if err != nil {
		return err
	}

	var producer producerConfig
	switch kind {
	case "mock":
		producer = &mockConfig{}
	case "echo":
		producer = &echoConfig{}
	default:
		return fmt.Errorf("unknown producer kind: %s", kind)
	}

	if err := yaml.Unmarshal(producerRawYAML, producer); err != nil {
		return err
	}

	c.Producer = producer

	return nil
}

func (b BaseProducerConfig) options() ([]services.MockOption, error) {
	var opts []services.MockOption
	if b.Delay != "" {
		d, err := time.ParseDuration(b.Delay)
		if err != nil {
			return nil, fmt.Errorf("invalid producer delay %q: %w", b.Delay, err)
		}
		if d < 0 {
			return nil, fmt.Errorf("producer delay must not be negative")
		}
		opts = append(opts, services.WithDelay(d))
	}
	if b.Split != "" {
		split, err := services.ParseSplit(b.Split)
		if err != nil {
			return nil, err
		}
		opts = append(opts, services.WithSplit(split))
	}
	return opts, nil
}

func (m mockConfig) producer() (handlers.Producer, error) {
	opts, err := m.options()
	if err != nil {
		return nil, err
	}
	if m.FailAfter < 0 {
		return nil, fmt.Errorf("failAfter must not be negative")
	}
	if m.FailAfter > 0 {
		opts = append(opts, services.WithFailAfter(m.FailAfter))
	}
	return services.NewMock(opts...), nil
}

func (e echoConfig) producer() (handlers.Producer, error) {
	opts, err := e.options()
	if err != nil {
		return nil, err
	}
	return services.NewEcho(opts...), nil
}
