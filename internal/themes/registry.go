// Package themes maps instrument identifiers to thematic categories. The
// table is data (a YAML file), loaded at startup and hot-reloaded on change,
// so it can be updated without a rebuild.
package themes

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Category is one thematic grouping of instruments.
type Category struct {
	Name        string   `mapstructure:"name"`
	Emoji       string   `mapstructure:"emoji"`
	Instruments []string `mapstructure:"instruments"`
}

type table struct {
	byInstrument map[string]string
	byName       map[string]Category
	names        []string
}

// Registry resolves instruments to categories. Lookups are lock-free; a
// reload swaps the whole table atomically.
type Registry struct {
	current atomic.Pointer[table]
	v       *viper.Viper
}

// Load reads the category table from path and starts watching it for
// changes. A broken rewrite of the file keeps the previous table in effect.
func Load(path string) (*Registry, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read theme table: %w", err)
	}

	reg := &Registry{v: v}
	t, err := buildTable(v)
	if err != nil {
		return nil, err
	}
	reg.current.Store(t)

	v.OnConfigChange(func(_ fsnotify.Event) {
		if err := v.ReadInConfig(); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("theme table reload failed, keeping previous table")
			return
		}
		t, err := buildTable(v)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("theme table reload failed, keeping previous table")
			return
		}
		reg.current.Store(t)
		log.Info().Int("instruments", len(t.byInstrument)).Int("categories", len(t.names)).Msg("theme table reloaded")
	})
	v.WatchConfig()

	return reg, nil
}

func buildTable(v *viper.Viper) (*table, error) {
	var raw struct {
		Categories []Category `mapstructure:"categories"`
	}
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse theme table: %w", err)
	}
	if len(raw.Categories) == 0 {
		return nil, fmt.Errorf("theme table defines no categories")
	}

	t := &table{
		byInstrument: make(map[string]string),
		byName:       make(map[string]Category, len(raw.Categories)),
	}
	for _, c := range raw.Categories {
		if c.Name == "" {
			return nil, fmt.Errorf("theme table contains a category without a name")
		}
		if _, dup := t.byName[c.Name]; dup {
			return nil, fmt.Errorf("duplicate category %q in theme table", c.Name)
		}
		t.byName[c.Name] = c
		t.names = append(t.names, c.Name)
		for _, inst := range c.Instruments {
			t.byInstrument[strings.ToUpper(inst)] = c.Name
		}
	}
	return t, nil
}

// Classify returns the category name for an instrument, or false for
// instruments outside the table.
func (r *Registry) Classify(instrument string) (string, bool) {
	name, ok := r.current.Load().byInstrument[strings.ToUpper(instrument)]
	return name, ok
}

// Emoji returns the display emoji for a category, with a neutral fallback.
func (r *Registry) Emoji(category string) string {
	if c, ok := r.current.Load().byName[category]; ok && c.Emoji != "" {
		return c.Emoji
	}
	return "📊"
}

// Categories lists category names in table order.
func (r *Registry) Categories() []string {
	return r.current.Load().names
}
