// Package config loads the demo host's YAML configuration and, optionally,
// watches it for changes so a running host can be handed a reloaded
// Config without a restart.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the demo host's configuration surface.
type Config struct {
	// BindAddress is the TCP address the listener binds to. Changing it
	// in a watched file only takes effect for new listeners; an already
	// running listener keeps its original address.
	BindAddress string `yaml:"bind_address"`

	// HandleANSIEscapeSequences is passed straight through to
	// telnet.StateConfig for every new connection.
	HandleANSIEscapeSequences bool `yaml:"handle_ansi_escape_sequences"`

	// IdleTimeout is how long a session may go untouched before the
	// Manager's sweep closes it.
	IdleTimeout time.Duration `yaml:"-"`

	// SweepSchedule is a standard five-field cron expression (or a
	// "@every" shorthand) controlling how often the idle sweep runs.
	SweepSchedule string `yaml:"sweep_schedule"`
}

// yamlConfig mirrors Config but with a human-writable "15m"-style duration
// string, since yaml.v3 has no built-in time.Duration support.
type yamlConfig struct {
	BindAddress               string `yaml:"bind_address"`
	HandleANSIEscapeSequences bool   `yaml:"handle_ansi_escape_sequences"`
	IdleTimeout               string `yaml:"idle_timeout"`
	SweepSchedule             string `yaml:"sweep_schedule"`
}

// UnmarshalYAML implements yaml.Unmarshaler so the config file can spell
// its idle timeout as "15m" instead of a raw nanosecond count.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw yamlConfig
	if err := unmarshal(&raw); err != nil {
		return err
	}

	if raw.BindAddress != "" {
		c.BindAddress = raw.BindAddress
	}
	c.HandleANSIEscapeSequences = raw.HandleANSIEscapeSequences
	if raw.SweepSchedule != "" {
		c.SweepSchedule = raw.SweepSchedule
	}

	if raw.IdleTimeout == "" {
		return nil
	}
	d, err := time.ParseDuration(raw.IdleTimeout)
	if err != nil {
		return fmt.Errorf("idle_timeout: %w", err)
	}
	c.IdleTimeout = d
	return nil
}

// Default returns the configuration the original demo host used, before
// any file is loaded: bind to localhost:9000, ANSI handling off, a 15
// minute idle timeout swept once a minute.
func Default() Config {
	return Config{
		BindAddress:               "127.0.0.1:9000",
		HandleANSIEscapeSequences: false,
		IdleTimeout:               15 * time.Minute,
		SweepSchedule:             "@every 1m",
	}
}

// Load reads and parses a YAML config file, filling in Default() for any
// field the file leaves at its zero value.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return cfg, nil
}

// Watch loads path once, sends the result on the returned channel, and
// then keeps watching the file for writes, pushing each successfully
// reloaded Config. Parse errors on reload are logged-by-the-caller via the
// returned error channel rather than crashing the watch loop, since a
// transient bad save shouldn't take down a running host.
func Watch(path string) (<-chan Config, <-chan error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("config: new watcher: %w", err)
	}

	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, nil, fmt.Errorf("config: watch %s: %w", path, err)
	}

	updates := make(chan Config, 1)
	errs := make(chan error, 1)

	initial, err := Load(path)
	if err != nil {
		watcher.Close()
		return nil, nil, err
	}
	updates <- initial

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					select {
					case errs <- err:
					default:
					}
					continue
				}
				select {
				case updates <- cfg:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				select {
				case errs <- fmt.Errorf("config: watch: %w", err):
				default:
				}
			}
		}
	}()

	return updates, errs, nil
}
