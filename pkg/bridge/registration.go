// Copyright 2024-2026 Aiku AI

package bridge

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Registration mirrors the appservice registration file shared with the
// homeserver. The bridge only consumes it; generating and installing the
// file is the operator's job.
type Registration struct {
	ID              string                 `yaml:"id"`
	URL             string                 `yaml:"url"`
	ASToken         string                 `yaml:"as_token"`
	HSToken         string                 `yaml:"hs_token"`
	SenderLocalpart string                 `yaml:"sender_localpart"`
	RateLimited     *bool                  `yaml:"rate_limited,omitempty"`
	Namespaces      RegistrationNamespaces `yaml:"namespaces"`
}

type RegistrationNamespaces struct {
	Users   []RegistrationNamespace `yaml:"users,omitempty"`
	Aliases []RegistrationNamespace `yaml:"aliases,omitempty"`
	Rooms   []RegistrationNamespace `yaml:"rooms,omitempty"`
}

type RegistrationNamespace struct {
	Exclusive bool   `yaml:"exclusive"`
	Regex     string `yaml:"regex"`
}

// LoadRegistration reads and parses the registration file.
func LoadRegistration(path string) (*Registration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registration file: %w", err)
	}
	var reg Registration
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("failed to parse registration file: %w", err)
	}
	if reg.HSToken == "" || reg.ASToken == "" {
		return nil, fmt.Errorf("registration file %s is missing tokens", path)
	}
	return &reg, nil
}
