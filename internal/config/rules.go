package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/you/chat-relay/internal/core"
)

// Rules is the declarative routing configuration loaded from the rules file.
// It is reloaded at runtime when the file changes.
type Rules struct {
	// Destinations maps rule destination ids to Telegram chat ids.
	Destinations map[string]int64 `yaml:"destinations"`
	Tracks       []core.Track     `yaml:"tracks"`
	// DiscoveryChannelIDs are the source channels swept for live broadcasts.
	DiscoveryChannelIDs []string `yaml:"discoveryChannelIds"`
	// AllowedAuthorChannelIDs is the global author allow-list used by
	// channel-pinned tracks without an explicit author filter.
	AllowedAuthorChannelIDs []string `yaml:"allowedAuthorChannelIds"`
}

// LoadRules reads and validates the rules file.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read rules: %w", err)
	}
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Rules{}, fmt.Errorf("parse rules: %w", err)
	}
	if err := r.Validate(); err != nil {
		return Rules{}, err
	}
	return r, nil
}

// Validate rejects rule files a running relay could not act on.
func (r Rules) Validate() error {
	for id, chat := range r.Destinations {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("rules: empty destination id")
		}
		if chat == 0 {
			return fmt.Errorf("rules: destination %q has no chat id", id)
		}
	}
	for i, t := range r.Tracks {
		if strings.TrimSpace(t.DestinationID) == "" {
			return fmt.Errorf("rules: track %d has no destinationId", i)
		}
		if _, ok := r.Destinations[t.DestinationID]; !ok {
			return fmt.Errorf("rules: track %d references unknown destination %q", i, t.DestinationID)
		}
		if !t.AllowNormalChat && !t.AllowMemberChat {
			return fmt.Errorf("rules: track %d allows neither normal nor member chat", i)
		}
	}
	for _, id := range r.DiscoveryChannelIDs {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("rules: empty discovery channel id")
		}
	}
	return nil
}
