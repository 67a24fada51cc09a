package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// Options of shared resources built once per process. The persistence store
// and the archive callback serve every consumer, so they stay global.
var sharedShoeboxOptions = []string{"callback", "gcs", "destination_folder"}

// handlerSection returns the handler section of c that a consumer may override.
func (c *Config) handlerSection(name string) interface{} {
	switch strings.ToLower(name) {
	case "atompub":
		return &c.AtomPub
	case "cufpub":
		return &c.CufPub
	case "stacktach":
		return &c.StackTach
	case "elasticsearch":
		return &c.Elasticsearch
	case "shoebox":
		return &c.Shoebox
	case "hub":
		return &c.Hub
	default:
		return nil
	}
}

// Consumer returns the consumer reading queue.
func (c *Config) Consumer(queue string) (ConsumerConfig, bool) {
	for _, cc := range c.Consumers {
		if cc.Queue == queue {
			return cc, true
		}
	}
	return ConsumerConfig{}, false
}

// ForConsumer returns the configuration seen by the handlers of cc: a copy of
// c with every section in cc.HandlerOverrides decoded over the global one.
// Options absent from an override keep their global value.
func (c *Config) ForConsumer(cc ConsumerConfig) (*Config, error) {
	if len(cc.HandlerOverrides) == 0 {
		return c, nil
	}
	out := *c

	sections := make([]string, 0, len(cc.HandlerOverrides))
	for name := range cc.HandlerOverrides {
		sections = append(sections, name)
	}
	sort.Strings(sections)

	for _, name := range sections {
		target := out.handlerSection(name)
		if target == nil {
			return nil, fmt.Errorf("queue %s: no handler section %q to override", cc.Queue, name)
		}
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           target,
			WeaklyTypedInput: true,
			ErrorUnused:      true,
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		})
		if err != nil {
			return nil, err
		}
		if err := decoder.Decode(cc.HandlerOverrides[name]); err != nil {
			return nil, fmt.Errorf("queue %s: invalid %s override: %w", cc.Queue, name, err)
		}
	}
	return &out, nil
}

// ForQueue resolves the handler configuration of the consumer reading queue.
// Unknown queues get the global configuration.
func (c *Config) ForQueue(queue string) (*Config, error) {
	cc, ok := c.Consumer(queue)
	if !ok {
		return c, nil
	}
	return c.ForConsumer(cc)
}
