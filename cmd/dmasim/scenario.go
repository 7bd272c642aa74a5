// File: cmd/dmasim/scenario.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/momentics/hioload-dma/api"
	"github.com/momentics/hioload-dma/dma"
)

// Scenario describes one simulated channel run.
type Scenario struct {
	Channel struct {
		Name       string `yaml:"name"`
		Type       string `yaml:"type"`
		Count      int    `yaml:"count"`
		Size       uint32 `yaml:"size"`
		ProdHeader uint32 `yaml:"prod-header"`
		ProdFooter uint32 `yaml:"prod-footer"`
		ConsHeader uint32 `yaml:"cons-header"`
		Producers  int    `yaml:"producers"`
		Consumers  int    `yaml:"consumers"`
		Select     uint32 `yaml:"select"` // multicast only; zero keeps all consumers
		Mode       string `yaml:"mode"`
		Cache      bool   `yaml:"cache"`
	} `yaml:"channel"`

	Transfer struct {
		Size    uint64 `yaml:"size"` // buffers, or bytes in byte mode
		Offset  int    `yaml:"offset"`
		Payload uint32 `yaml:"payload"` // bytes written per produced buffer
	} `yaml:"transfer"`

	Engine struct {
		Descriptors int    `yaml:"descriptors"`
		HeapLimit   string `yaml:"heap-limit"` // e.g. "16 MiB"
		LockTimeout string `yaml:"lock-timeout"`
		Async       bool   `yaml:"async"`
		ServiceCPU  int    `yaml:"service-cpu"` // async only; negative leaves the run loop unpinned
	} `yaml:"engine"`

	Seed  int64  `yaml:"seed"`
	Trace string `yaml:"trace"`
}

func defaultScenario() *Scenario {
	var s Scenario
	s.Channel.Type = "multicast"
	s.Channel.Count = 4
	s.Channel.Size = 1024
	s.Channel.Producers = 1
	s.Channel.Consumers = 3
	s.Channel.Mode = "buffer"
	s.Transfer.Size = 64
	s.Transfer.Payload = 512
	s.Engine.Descriptors = 1024
	s.Engine.HeapLimit = "16 MiB"
	s.Engine.ServiceCPU = -1
	s.Seed = 1
	return &s
}

// loadScenario reads a YAML scenario on top of the defaults.
func loadScenario(path string) (*Scenario, error) {
	s := defaultScenario()
	if path == "" {
		return s, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario file: %w", err)
	}
	if err := yaml.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	return s, nil
}

func parseType(s string) (api.ChannelType, error) {
	for _, t := range []api.ChannelType{api.Multicast, api.OneToMany, api.ManyToOne} {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown channel type %q", s)
}

func parseMode(s string) (api.XferMode, error) {
	switch s {
	case "", "buffer":
		return api.ModeBuffer, nil
	case "byte":
		return api.ModeByte, nil
	}
	return 0, fmt.Errorf("unknown transfer mode %q", s)
}

func producerSocket(i int) api.SocketID { return api.MakeSocketID(1, uint8(i)) }

func consumerSocket(i int) api.SocketID { return api.MakeSocketID(2, uint8(i)) }

// validate checks the fields the channel config does not cover.
func (s *Scenario) validate() error {
	if s.Transfer.Size == 0 {
		return errors.New("transfer.size must be > 0")
	}
	if s.Transfer.Payload == 0 {
		return errors.New("transfer.payload must be > 0")
	}
	if s.Engine.Descriptors <= 0 || s.Engine.Descriptors > 0xFFFF {
		return fmt.Errorf("engine.descriptors %d out of range", s.Engine.Descriptors)
	}
	if s.Channel.Producers <= 0 || s.Channel.Consumers <= 0 {
		return errors.New("channel needs producers and consumers")
	}
	if _, err := s.heapLimit(); err != nil {
		return err
	}
	if _, err := s.lockTimeout(); err != nil {
		return err
	}
	return nil
}

func (s *Scenario) heapLimit() (int64, error) {
	if s.Engine.HeapLimit == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s.Engine.HeapLimit)
	if err != nil {
		return 0, fmt.Errorf("invalid engine.heap-limit %q: %w", s.Engine.HeapLimit, err)
	}
	return int64(n), nil
}

func (s *Scenario) lockTimeout() (time.Duration, error) {
	if s.Engine.LockTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.Engine.LockTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid engine.lock-timeout %q: %w", s.Engine.LockTimeout, err)
	}
	return d, nil
}

// channelConfig translates the scenario into a channel configuration.
func (s *Scenario) channelConfig() (dma.ChannelConfig, error) {
	typ, err := parseType(s.Channel.Type)
	if err != nil {
		return dma.ChannelConfig{}, err
	}
	mode, err := parseMode(s.Channel.Mode)
	if err != nil {
		return dma.ChannelConfig{}, err
	}
	cfg := dma.ChannelConfig{
		Name:         s.Channel.Name,
		Type:         typ,
		Count:        s.Channel.Count,
		Size:         s.Channel.Size,
		ProdHeader:   s.Channel.ProdHeader,
		ProdFooter:   s.Channel.ProdFooter,
		ConsHeader:   s.Channel.ConsHeader,
		Mode:         mode,
		CacheControl: s.Channel.Cache,
	}
	for i := 0; i < s.Channel.Producers; i++ {
		cfg.Producers = append(cfg.Producers, producerSocket(i))
	}
	for i := 0; i < s.Channel.Consumers; i++ {
		cfg.Consumers = append(cfg.Consumers, consumerSocket(i))
	}
	return cfg, nil
}
