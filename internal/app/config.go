package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-esim/core"
)

const EnvPrefix = "ESIM_"

type envKind int

const (
	envString envKind = iota
	envBool
	envInt
	envDuration
)

type envBinding struct {
	path []string
	kind envKind
}

var envBindings = map[string]envBinding{
	"SERVICE_NAME":                   {[]string{"service_name"}, envString},
	"HTTP_ADDR":                      {[]string{"http", "addr"}, envString},
	"DATABASE_DRIVER":                {[]string{"database", "driver"}, envString},
	"DATABASE_DSN":                   {[]string{"database", "dsn"}, envString},
	"DATABASE_DEBUG":                 {[]string{"database", "debug"}, envBool},
	"PROVIDER_NAME":                  {[]string{"provider", "name"}, envString},
	"PROVIDER_TIMEOUT":               {[]string{"provider", "timeout"}, envDuration},
	"PROVIDER_TOKEN_CACHE":           {[]string{"provider", "token_cache"}, envBool},
	"PROVIDER_TOKEN_SAFETY_MARGIN":   {[]string{"provider", "token_safety_margin"}, envDuration},
	"WEBHOOKS_STRIPE_SECRET":         {[]string{"webhooks", "stripe_secret"}, envString},
	"WEBHOOKS_COINBASE_SECRET":       {[]string{"webhooks", "coinbase_secret"}, envString},
	"WEBHOOKS_REJECT_UNVERIFIED":     {[]string{"webhooks", "reject_unverified"}, envBool},
	"WEBHOOKS_REPLAY_WINDOW":         {[]string{"webhooks", "replay_window"}, envDuration},
	"WEBHOOKS_COALESCE_WINDOW":       {[]string{"webhooks", "coalesce_window"}, envDuration},
	"ACTIVATION_NOT_READY_THRESHOLD": {[]string{"activation", "not_ready_threshold"}, envDuration},
	"MESSAGING_RABBIT_URL":           {[]string{"messaging", "rabbit_url"}, envString},
	"MESSAGING_EXCHANGE":             {[]string{"messaging", "exchange"}, envString},
	"OUTBOX_INTERVAL":                {[]string{"outbox", "interval"}, envDuration},
	"OUTBOX_BATCH_SIZE":              {[]string{"outbox", "batch_size"}, envInt},
	"SECURITY_APP_KEY":               {[]string{"security", "app_key"}, envString},
	"SECURITY_KEY_ID":                {[]string{"security", "key_id"}, envString},
	"SECURITY_KEY_VERSION":           {[]string{"security", "key_version"}, envInt},
}

// LoadConfig layers ESIM_* variables from environ over the defaults.
// Unknown ESIM_* names are ignored.
func LoadConfig(environ []string) (core.Config, error) {
	runtime, err := EnvLayer(environ)
	if err != nil {
		return core.Config{}, err
	}
	return core.ResolveConfig(core.DefaultConfig(), nil, runtime)
}

// EnvLayer converts ESIM_* variables into the nested map core.ResolveConfig
// expects, typed per field.
func EnvLayer(environ []string) (map[string]any, error) {
	layer := map[string]any{}
	for _, entry := range environ {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		binding, ok := envBindings[strings.TrimPrefix(key, EnvPrefix)]
		if !ok {
			continue
		}
		typed, err := parseEnvValue(binding.kind, strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("app: %s: %w", key, err)
		}
		setPath(layer, binding.path, typed)
	}
	return layer, nil
}

func parseEnvValue(kind envKind, value string) (any, error) {
	switch kind {
	case envBool:
		return strconv.ParseBool(value)
	case envInt:
		return strconv.Atoi(value)
	case envDuration:
		return time.ParseDuration(value)
	default:
		return value, nil
	}
}

func setPath(root map[string]any, path []string, value any) {
	current := root
	for _, segment := range path[:len(path)-1] {
		next, ok := current[segment].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[segment] = next
		}
		current = next
	}
	current[path[len(path)-1]] = value
}
