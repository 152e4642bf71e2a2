// Copyright 2024-2026 Aiku AI

package bridge

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return dir
}

const minimalConfig = `
homeserver:
  address: https://matrix.example.org
  domain: example.org
accounts:
  - id: main
    matrix_user_id: "@masto:example.org"
    matrix_access_token: secret
    mastodon:
      server: https://mastodon.example.org
      client_id: cid
      client_secret: csecret
      access_token: atoken
`

// TestLoadConfig_AppliesDefaults verifies a minimal config gets the
// process and per-account defaults filled in.
func TestLoadConfig_AppliesDefaults(t *testing.T) {
	dir := writeConfig(t, minimalConfig)

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Appservice.ListenAddr == "" || cfg.Database.Path == "" {
		t.Fatal("expected process-level defaults to be set")
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "console" {
		t.Fatalf("unexpected log defaults: %+v", cfg.Log)
	}

	account := cfg.Accounts[0]
	if account.DateTimeFormat != DefaultDateTimeFormat || account.DateTimeLocale != DefaultDateTimeLocale {
		t.Fatalf("unexpected date defaults: %q %q", account.DateTimeFormat, account.DateTimeLocale)
	}
	if account.Templates.Post != DefaultPostTemplate || account.Templates.Follow != DefaultFollowTemplate {
		t.Fatalf("expected default templates, got %+v", account.Templates)
	}
}

// TestLoadConfig_ExplicitValuesWin verifies configured values are not
// overwritten by defaults.
func TestLoadConfig_ExplicitValuesWin(t *testing.T) {
	dir := writeConfig(t, minimalConfig+`    templates:
      post: "custom {{content}}"
    datetime_locale: de_DE
`)

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	account := cfg.Accounts[0]
	if account.Templates.Post != "custom {{content}}" {
		t.Fatalf("expected custom post template, got %q", account.Templates.Post)
	}
	if account.Templates.Reply != DefaultReplyTemplate {
		t.Fatalf("expected default reply template to backfill, got %q", account.Templates.Reply)
	}
	if account.DateTimeLocale != "de_DE" {
		t.Fatalf("expected configured locale, got %q", account.DateTimeLocale)
	}
}

// TestLoadConfig_NoAccounts verifies a config without accounts fails
// validation.
func TestLoadConfig_NoAccounts(t *testing.T) {
	dir := writeConfig(t, `
homeserver:
  address: https://matrix.example.org
  domain: example.org
accounts: []
`)

	_, err := LoadConfig(dir)
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

// TestLoadConfig_MissingCredentials verifies an account without Mastodon
// credentials fails validation.
func TestLoadConfig_MissingCredentials(t *testing.T) {
	dir := writeConfig(t, `
homeserver:
  address: https://matrix.example.org
  domain: example.org
accounts:
  - id: main
    matrix_user_id: "@masto:example.org"
    matrix_access_token: secret
`)

	_, err := LoadConfig(dir)
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

// TestValidate_DuplicateAccountIDs verifies duplicate ids are rejected.
func TestValidate_DuplicateAccountIDs(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Homeserver: HomeserverConfig{Address: "https://matrix.example.org", Domain: "example.org"},
		Appservice: AppserviceConfig{ListenAddr: ":29340", RegistrationPath: "registration.yaml"},
		Database:   DatabaseConfig{Path: "bridge.db"},
		Log:        LogConfig{Level: "info", Format: "json"},
		Accounts: []AccountConfig{
			{ID: "same", MatrixUserID: "@a:x", MatrixAccessToken: "t",
				Mastodon: MastodonConfig{Server: "https://m.x", ClientID: "a", ClientSecret: "b", AccessToken: "c"}},
			{ID: "same", MatrixUserID: "@b:x", MatrixAccessToken: "t",
				Mastodon: MastodonConfig{Server: "https://m.x", ClientID: "a", ClientSecret: "b", AccessToken: "c"}},
		},
	}
	cfg.applyAccountDefaults()

	if err := cfg.Validate(); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for duplicate ids, got %v", err)
	}
}

// TestTemplateConfig_KindMapping verifies each kind resolves to its own
// template string, with reblog sharing boost.
func TestTemplateConfig_KindMapping(t *testing.T) {
	t.Parallel()
	templates := TemplateConfig{
		Post:      "p",
		Reply:     "r",
		Boost:     "b",
		Mention:   "m",
		Favourite: "f",
		Follow:    "w",
	}
	cases := []struct {
		kind EventKind
		want string
	}{
		{KindPost, "p"},
		{KindReply, "r"},
		{KindBoost, "b"},
		{KindReblog, "b"},
		{KindMention, "m"},
		{KindFavourite, "f"},
		{KindFollow, "w"},
	}
	for _, tc := range cases {
		got, err := templates.Template(tc.kind)
		if err != nil {
			t.Fatalf("kind %s: unexpected error: %v", tc.kind, err)
		}
		if got != tc.want {
			t.Errorf("kind %s: expected %q, got %q", tc.kind, tc.want, got)
		}
	}

	if _, err := templates.Template(KindUnknown); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
