package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kasuganosora/gamewiki/server/client"
	"github.com/kasuganosora/gamewiki/server/config"
	"github.com/kasuganosora/gamewiki/server/crud"
	"github.com/kasuganosora/gamewiki/server/entity"
	"go.uber.org/zap"
)

// adminRoute is the location prefix the editor views live under.
const adminRoute = "/admin"

// defaultTokenFile is $XDG_CONFIG_HOME/wikictl/token, falling back to the
// platform config dir.
func defaultTokenFile() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		var err error
		if dir, err = os.UserConfigDir(); err != nil {
			dir = "."
		}
	}
	return filepath.Join(dir, "wikictl", "token")
}

func tokenPath() string {
	if p := settings.GetString("token-file"); p != "" {
		return p
	}
	return defaultTokenFile()
}

// readToken returns the stored token, or "" when none is stored.
func readToken(path string) (string, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

func writeToken(path, token string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return nil
}

func removeToken(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove token: %w", err)
	}
	return nil
}

// fileTokens reads the token file on every call so a login in another
// terminal is picked up by a running browse session.
type fileTokens struct{ path string }

func (f fileTokens) Token() string {
	tok, err := readToken(f.path)
	if err != nil {
		logger.Warn("token unreadable", zap.String("path", f.path), zap.Error(err))
		return ""
	}
	return tok
}

func newClient() *client.Client {
	return client.New(settings.GetString("server"),
		client.WithTimeout(settings.GetDuration("timeout")),
		client.WithAdminKey(settings.GetString("admin-key")),
		client.WithLogger(logger),
	)
}

// lookupResource resolves name against the default collections. Unknown
// names are accepted when --id-field is given.
func lookupResource(name string) (config.ResourceConfig, error) {
	if idField := settings.GetString("id-field"); idField != "" {
		return config.ResourceConfig{Name: name, IDField: idField}, nil
	}
	cfg := config.Config{Resources: config.DefaultResources()}
	if rc, ok := cfg.Resource(name); ok {
		return rc, nil
	}
	known := make([]string, 0, len(cfg.Resources))
	for _, r := range cfg.Resources {
		known = append(known, r.Name)
	}
	return config.ResourceConfig{}, fmt.Errorf("unknown resource %q (known: %s; or pass --id-field)", name, strings.Join(known, ", "))
}

func routeFor(rc config.ResourceConfig) string { return adminRoute + "/" + rc.Name }

// newController builds an editor controller over rc starting at path.
func newController(rc config.ResourceConfig, api crud.API, path string, opts ...func(*crud.Config)) (*crud.Controller, *crud.HistoryNavigator) {
	cfg := crud.Config{
		Endpoint:        rc.Name,
		IDField:         rc.IDField,
		RoutePath:       routeFor(rc),
		NewItemTemplate: templateFor(rc.Name),
	}
	if rc.Name == "guides" {
		cfg.NameField = "title"
	}
	for _, o := range opts {
		o(&cfg)
	}
	if path == "" {
		path = cfg.RoutePath
	}
	nav := crud.NewHistoryNavigator(path)
	return crud.New(cfg, api, fileTokens{path: tokenPath()}, nav, crud.WithLogger(logger)), nav
}

// templateFor is the starting record of the create form.
func templateFor(resource string) entity.Entity {
	switch resource {
	case "guides":
		return entity.Entity{"title": "", "content": []any{}}
	case "maps":
		return entity.Entity{"name": ""}
	default:
		return entity.Entity{"name": "", "rarity": "COMMON"}
	}
}
