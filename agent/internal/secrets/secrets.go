// Package secrets resolves credential references from configuration.
//
// A value may be given literally or as a reference:
//
//	op://<vault>/<item>/<field>   read from 1Password Connect
//	file://<path>                 read from a file, surrounding whitespace trimmed
//
// Anything else is returned unchanged.
package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/1Password/connect-sdk-go/connect"
	"github.com/1Password/connect-sdk-go/onepassword"

	"github.com/pilot-net/cachet-agent/agent/internal/config"
)

const (
	schemeOnePassword = "op://"
	schemeFile        = "file://"
)

// userAgent is sent to the Connect server.
const userAgent = "cachet-agent"

// ItemReader is the part of the 1Password Connect client the resolver uses.
type ItemReader interface {
	GetItemsByTitle(title string, vaultQuery string) ([]onepassword.Item, error)
	GetItem(itemQuery string, vaultQuery string) (*onepassword.Item, error)
}

// Resolver turns references into secret values.
type Resolver struct {
	cfg    config.SecretsConfig
	logger *slog.Logger

	// newReader builds the Connect client on first use.
	newReader func(host, token string) ItemReader
	reader    ItemReader
}

// NewResolver creates a resolver. The Connect client is only created when an
// op:// reference is resolved.
func NewResolver(cfg config.SecretsConfig, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		cfg:    cfg,
		logger: logger.With("component", "secrets"),
		newReader: func(host, token string) ItemReader {
			return connect.NewClientWithUserAgent(host, token, userAgent)
		},
	}
}

// NewResolverWithReader creates a resolver that reads op:// references
// through r.
func NewResolverWithReader(r ItemReader, logger *slog.Logger) *Resolver {
	res := NewResolver(config.SecretsConfig{}, logger)
	res.reader = r
	return res
}

// Resolve returns the secret value for ref.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, schemeOnePassword):
		return r.resolveOnePassword(ctx, strings.TrimPrefix(ref, schemeOnePassword))
	case strings.HasPrefix(ref, schemeFile):
		return readFile(strings.TrimPrefix(ref, schemeFile))
	default:
		return ref, nil
	}
}

func readFile(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("file reference has no path")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading secret file: %w", err)
	}
	value := strings.TrimSpace(string(data))
	if value == "" {
		return "", fmt.Errorf("secret file %s is empty", path)
	}
	return value, nil
}

// ParseReference splits the part of an op:// reference after the scheme.
func ParseReference(ref string) (vault, item, field string, err error) {
	parts := strings.Split(ref, "/")
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("invalid 1Password reference %q: want op://vault/item/field", schemeOnePassword+ref)
	}
	for _, p := range parts {
		if p == "" {
			return "", "", "", fmt.Errorf("invalid 1Password reference %q: empty segment", schemeOnePassword+ref)
		}
	}
	return parts[0], parts[1], parts[2], nil
}

func (r *Resolver) resolveOnePassword(ctx context.Context, ref string) (string, error) {
	vault, title, field, err := ParseReference(ref)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if r.reader == nil {
		if r.cfg.ConnectHost == "" || r.cfg.ConnectToken == "" {
			return "", fmt.Errorf("1Password reference used but %s and %s are not set",
				config.EnvConnectHost, config.EnvConnectToken)
		}
		r.reader = r.newReader(r.cfg.ConnectHost, r.cfg.ConnectToken)
	}

	items, err := r.reader.GetItemsByTitle(title, vault)
	if err != nil {
		return "", fmt.Errorf("listing 1Password items: %w", err)
	}
	if len(items) == 0 {
		return "", fmt.Errorf("1Password item %q not found in vault %q", title, vault)
	}

	// Fields are only included when the full item is fetched.
	item, err := r.reader.GetItem(items[0].ID, vault)
	if err != nil {
		return "", fmt.Errorf("getting 1Password item: %w", err)
	}

	for _, f := range item.Fields {
		if f == nil {
			continue
		}
		if f.ID == field || strings.EqualFold(f.Label, field) {
			r.logger.Debug("resolved 1Password reference", "vault", vault, "item", title, "field", field)
			return f.Value, nil
		}
	}
	return "", fmt.Errorf("field %q not found on 1Password item %q", field, title)
}
