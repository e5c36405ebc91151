package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/goliatone/go-leadrelay/core"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const DefaultEnvPrefix = "LEADRELAY_"

// legacyEnv maps the bare variable names used by existing deployments onto
// config keys. Prefixed variables take precedence.
var legacyEnv = map[string]string{
	"WEBHOOK_SECRET":     "webhook.secret",
	"PF_API_KEY":         "source.api_key",
	"PF_API_SECRET":      "source.api_secret",
	"ZOHO_CLIENT_ID":     "crm.client_id",
	"ZOHO_CLIENT_SECRET": "crm.client_secret",
	"ZOHO_REFRESH_TOKEN": "crm.refresh_token",
	"ZOHO_API_DOMAIN":    "crm.api_domain",
	"ZOHO_TOKEN_URL":     "crm.token_url",
}

// EnvLoader reads LEADRELAY_ prefixed variables. Nested keys are separated by
// a double underscore, so LEADRELAY_CRM__CLIENT_ID sets crm.client_id.
// Values from Files (.env format) are used when the process environment does
// not define the same variable.
type EnvLoader struct {
	Prefix  string
	Files   []string
	Environ func() []string
}

func NewEnvLoader(files ...string) EnvLoader {
	return EnvLoader{Prefix: DefaultEnvPrefix, Files: files}
}

func (l EnvLoader) LoadRaw(context.Context) (map[string]any, error) {
	vars, err := l.variables()
	if err != nil {
		return nil, err
	}
	prefix := l.Prefix
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}

	raw := map[string]any{}
	for name, key := range legacyEnv {
		if value, ok := vars[name]; ok && strings.TrimSpace(value) != "" {
			if err := setPath(raw, key, value); err != nil {
				return nil, err
			}
		}
	}
	if port := strings.TrimSpace(vars["PORT"]); port != "" {
		if err := setPath(raw, "server.address", ":"+port); err != nil {
			return nil, err
		}
	}
	for name, value := range vars {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		key := envKey(strings.TrimPrefix(name, prefix))
		if key == "" {
			continue
		}
		if err := setPath(raw, key, value); err != nil {
			return nil, err
		}
	}
	return coerceLayer(raw)
}

func (l EnvLoader) variables() (map[string]string, error) {
	vars := map[string]string{}
	for _, file := range l.Files {
		file = strings.TrimSpace(file)
		if file == "" {
			continue
		}
		values, err := godotenv.Read(file)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, core.NewConfigError(fmt.Sprintf("config: read env file %s: %v", file, err))
		}
		for key, value := range values {
			if _, exists := vars[key]; !exists {
				vars[key] = value
			}
		}
	}
	environ := l.Environ
	if environ == nil {
		environ = os.Environ
	}
	for _, entry := range environ() {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		vars[key] = value
	}
	return vars, nil
}

func envKey(name string) string {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(name)), "__")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.Trim(part, "_")
		if part == "" {
			return ""
		}
		out = append(out, part)
	}
	return strings.Join(out, ".")
}

// YAMLFileLoader reads a YAML document keyed like the config struct. A
// missing file is an empty layer when Optional is set.
type YAMLFileLoader struct {
	Path     string
	Optional bool
}

func (l YAMLFileLoader) LoadRaw(context.Context) (map[string]any, error) {
	path := strings.TrimSpace(l.Path)
	if path == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if l.Optional && errors.Is(err, fs.ErrNotExist) {
			return map[string]any{}, nil
		}
		return nil, core.NewConfigError(fmt.Sprintf("config: read %s: %v", path, err))
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, core.NewConfigError(fmt.Sprintf("config: parse %s: %v", path, err))
	}
	return coerceLayer(raw)
}

// Chain merges loaders in order; later loaders override earlier ones.
type Chain []core.RawConfigLoader

func (c Chain) LoadRaw(ctx context.Context) (map[string]any, error) {
	merged := map[string]any{}
	for _, loader := range c {
		if loader == nil {
			continue
		}
		layer, err := loader.LoadRaw(ctx)
		if err != nil {
			return nil, err
		}
		mergeInto(merged, layer)
	}
	return merged, nil
}

// Resolve loads the chain over the defaults and validates the result.
func Resolve(ctx context.Context, loader core.RawConfigLoader) (core.Config, error) {
	defaults := core.DefaultConfig()
	loaded, err := core.NewCfgxConfigProvider(loader).Load(ctx, defaults)
	if err != nil {
		return core.Config{}, err
	}
	return core.GoOptionsResolver{}.Resolve(defaults, loaded, core.Config{})
}

func setPath(target map[string]any, key string, value any) error {
	parts := strings.Split(key, ".")
	current := target
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part]
		if !ok {
			child := map[string]any{}
			current[part] = child
			current = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return core.NewConfigError(fmt.Sprintf("config: %s conflicts with a scalar value", key))
		}
		current = child
	}
	current[parts[len(parts)-1]] = value
	return nil
}

func mergeInto(dst map[string]any, src map[string]any) {
	for key, value := range src {
		srcChild, srcIsMap := value.(map[string]any)
		dstChild, dstIsMap := dst[key].(map[string]any)
		if srcIsMap && dstIsMap {
			mergeInto(dstChild, srcChild)
			continue
		}
		if srcIsMap {
			copied := map[string]any{}
			mergeInto(copied, srcChild)
			dst[key] = copied
			continue
		}
		dst[key] = value
	}
}
