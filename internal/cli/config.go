package cli

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileConfig is the shape of riftlogctl's optional --config file. The
// driver, DSN and table names can be set here instead of by flag; flags
// take precedence.
type FileConfig struct {
	Driver             string `yaml:"driver"`
	DSN                string `yaml:"dsn"`
	StreamsTable       string `yaml:"streams_table"`
	EventsTable        string `yaml:"events_table"`
	StreamEventsTable  string `yaml:"stream_events_table"`
	SubscriptionsTable string `yaml:"subscriptions_table"`
	ParkedTable        string `yaml:"parked_table"`
}

// LoadFileConfig reads and parses a YAML config file. A missing path
// returns a zero FileConfig, not an error, so --config is always optional.
func LoadFileConfig(path string) (FileConfig, error) {
	var cfg FileConfig
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills each empty flag value from the file config c, and
// empty table names from riftlog's defaults, so flags override a loaded
// FileConfig without clobbering unset flags back to "".
func (c FileConfig) applyDefaults(driver, dsn, streamsTable, eventsTable, streamEventsTable, subscriptionsTable, parkedTable string) (string, string, string, string, string, string, string) {
	if driver == "" {
		driver = c.Driver
	}
	if dsn == "" {
		dsn = c.DSN
	}
	if streamsTable == "" {
		streamsTable = firstNonEmpty(c.StreamsTable, "streams")
	}
	if eventsTable == "" {
		eventsTable = firstNonEmpty(c.EventsTable, "events")
	}
	if streamEventsTable == "" {
		streamEventsTable = firstNonEmpty(c.StreamEventsTable, "stream_events")
	}
	if subscriptionsTable == "" {
		subscriptionsTable = firstNonEmpty(c.SubscriptionsTable, "subscriptions")
	}
	if parkedTable == "" {
		parkedTable = firstNonEmpty(c.ParkedTable, "subscription_parked")
	}
	return driver, dsn, streamsTable, eventsTable, streamEventsTable, subscriptionsTable, parkedTable
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
