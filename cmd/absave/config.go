package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Neumenon/absave/absave"
)

// cliConfig is the YAML config file. Flags override it.
type cliConfig struct {
	Style           string   `yaml:"style"`
	Typed           bool     `yaml:"typed"`
	Cache           bool     `yaml:"cache"`
	Version         *int     `yaml:"version"`
	OmitTerminators bool     `yaml:"omit_terminators"`
	Suppress        []string `yaml:"suppress"`
	Jobs            int      `yaml:"jobs"`
}

func defaultConfig() cliConfig {
	return cliConfig{Style: "unnamed", Typed: true, Cache: true}
}

// loadConfig reads path over the defaults. An empty path returns the
// defaults.
func loadConfig(path string) (cliConfig, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

type flagSet interface {
	Changed(name string) bool
	GetString(name string) (string, error)
	GetBool(name string) (bool, error)
	GetInt(name string) (int, error)
	GetStringSlice(name string) ([]string, error)
}

var _ flagSet = (&cobra.Command{}).Flags()

// applyFlags overrides config values with flags set on the command line.
func (c *cliConfig) applyFlags(fs flagSet) error {
	var err error
	if fs.Changed("style") {
		if c.Style, err = fs.GetString("style"); err != nil {
			return err
		}
	}
	if fs.Changed("cache") {
		if c.Cache, err = fs.GetBool("cache"); err != nil {
			return err
		}
	}
	if fs.Changed("omit-terminators") {
		if c.OmitTerminators, err = fs.GetBool("omit-terminators"); err != nil {
			return err
		}
	}
	if fs.Changed("suppress") {
		if c.Suppress, err = fs.GetStringSlice("suppress"); err != nil {
			return err
		}
	}
	if fs.Changed("jobs") {
		if c.Jobs, err = fs.GetInt("jobs"); err != nil {
			return err
		}
	}
	return nil
}

// settings converts the config to session settings and the set of
// suppressed error kinds.
func (c cliConfig) settings() (absave.Settings, absave.ErrorKind, error) {
	style, err := absave.ParseStyle(c.Style)
	if err != nil {
		return absave.Settings{}, 0, err
	}
	if style == absave.StyleInfer {
		return absave.Settings{}, 0, fmt.Errorf("style infer is only valid when decoding")
	}

	var suppressed absave.ErrorKind
	for _, name := range c.Suppress {
		k, err := absave.ParseErrorKind(name)
		if err != nil {
			return absave.Settings{}, 0, err
		}
		suppressed |= k
	}

	s := absave.Settings{
		Style:                   style,
		Typed:                   c.Typed,
		CacheTypes:              c.Cache,
		OmitTrailingTerminators: c.OmitTerminators,
	}
	if c.Version != nil {
		if *c.Version < 0 {
			return absave.Settings{}, 0, fmt.Errorf("negative version %d", *c.Version)
		}
		s.HasVersion, s.Version = true, *c.Version
	}
	return s, suppressed, nil
}
