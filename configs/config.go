package configs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/kelseyhightower/envconfig"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/i2y/apicomposer/internal/domain"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "composer"

// FileReader reads the configuration file. github:// paths are served by the github adapter.
type FileReader func(ctx context.Context, path string) ([]byte, error)

// FileConfig defines the structure loaded from the YAML configuration file.
type FileConfig struct {
	Composer ComposerFile             `yaml:"composer"`
	Services []map[string]interface{} `yaml:"services"`
}

// ComposerFile holds the file-configurable settings of the composed surface.
type ComposerFile struct {
	Title           string            `yaml:"title"`
	Description     string            `yaml:"description"`
	Version         string            `yaml:"version"`
	RefreshInterval string            `yaml:"refreshInterval"`
	SchemaHeaders   map[string]string `yaml:"schemaHeaders"`
	CORSOrigins     []string          `yaml:"corsOrigins"`
}

// serviceFile is one entry of `services:` as decoded by mapstructure.
// graphql and proxy accept a boolean or an object.
type serviceFile struct {
	ID      string       `mapstructure:"id"`
	Origin  string       `mapstructure:"origin"`
	OpenAPI *openapiFile `mapstructure:"openapi"`
	GraphQL interface{}  `mapstructure:"graphql"`
	Proxy   interface{}  `mapstructure:"proxy"`
}

type openapiFile struct {
	URL    string `mapstructure:"url"`
	File   string `mapstructure:"file"`
	Prefix string `mapstructure:"prefix"`
	Config string `mapstructure:"config"`
}

type graphqlFile struct {
	Host            string                         `mapstructure:"host"`
	GraphQLEndpoint string                         `mapstructure:"graphqlEndpoint"`
	ComposeEndpoint string                         `mapstructure:"composeEndpoint"`
	File            string                         `mapstructure:"file"`
	Entities        map[string]domain.EntityConfig `mapstructure:"entities"`
}

type proxyFile struct {
	Prefix                string `mapstructure:"prefix"`
	Hostname              string `mapstructure:"hostname"`
	RewriteLocation       bool   `mapstructure:"rewriteLocation"`
	InternalRewritePrefix string `mapstructure:"internalRewritePrefix"`
	TrailingSlash         bool   `mapstructure:"trailingSlash"`
	RefererRedirect       bool   `mapstructure:"refererRedirect"`
}

// Config holds the final application configuration, merged from file and environment variables.
// Fields are loaded from environment variables with the prefix "COMPOSER_", overriding file settings.
type Config struct {
	ConfigFilePath string `envconfig:"CONFIG_FILE" default:"configs/composer.yaml"`

	// File-loaded fields
	Services []domain.ServiceDescriptor `ignored:"true"`

	Title       string `envconfig:"TITLE"`
	Description string `envconfig:"DESCRIPTION"`
	Version     string `envconfig:"VERSION"`

	ListenAddr               string            `envconfig:"LISTEN_ADDR" default:":8080"`
	AdminListenAddr          string            `envconfig:"ADMIN_LISTEN_ADDR" default:":9090"`
	HTTPClientTimeout        time.Duration     `envconfig:"HTTP_CLIENT_TIMEOUT" default:"30s"`
	ProxyResponseTimeout     time.Duration     `envconfig:"PROXY_RESPONSE_TIMEOUT" default:"30s"`
	ShutdownTimeout          time.Duration     `envconfig:"SHUTDOWN_TIMEOUT" default:"5s"`
	ServerReadTimeout        time.Duration     `envconfig:"SERVER_READ_TIMEOUT" default:"5s"`
	ServerWriteTimeout       time.Duration     `envconfig:"SERVER_WRITE_TIMEOUT" default:"60s"`
	ServerIdleTimeout        time.Duration     `envconfig:"SERVER_IDLE_TIMEOUT" default:"120s"`
	RefreshInterval          time.Duration     `envconfig:"REFRESH_INTERVAL"`
	SchemaHeaders            map[string]string `envconfig:"SCHEMA_HEADERS"`
	CORSOrigins              []string          `envconfig:"CORS_ORIGINS"`
	OtelExporterOtlpEndpoint string            `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OtelExporterOtlpInsecure bool              `envconfig:"OTEL_EXPORTER_OTLP_INSECURE" default:"true"`
	LogLevel                 string            `envconfig:"LOG_LEVEL" default:"info"`
}

// ParsedLogLevel returns the slog.Level based on the configured LogLevel string.
func (c *Config) ParsedLogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "info":
		fallthrough
	default:
		return slog.LevelInfo
	}
}

// Load loads configuration first from environment variables (to get the file path),
// then from the YAML file, and finally applies the environment again as overrides.
// A nil readFile reads from the local filesystem.
func Load(ctx context.Context, readFile FileReader) (*Config, error) {
	if readFile == nil {
		readFile = func(_ context.Context, path string) ([]byte, error) {
			return os.ReadFile(path)
		}
	}

	var initialCfg Config
	if err := envconfig.Process(EnvPrefix, &initialCfg); err != nil {
		return nil, fmt.Errorf("failed to process initial environment variables: %w", err)
	}

	finalCfg := initialCfg
	if initialCfg.ConfigFilePath != "" {
		data, err := readFile(ctx, initialCfg.ConfigFilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file '%s': %w", initialCfg.ConfigFilePath, err)
		}
		var fileCfg FileConfig
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file '%s': %w", initialCfg.ConfigFilePath, err)
		}
		if err := finalCfg.apply(fileCfg); err != nil {
			return nil, fmt.Errorf("invalid config file '%s': %w", initialCfg.ConfigFilePath, err)
		}
		slog.Info("Loaded configuration from file.", "path", initialCfg.ConfigFilePath, "services", len(finalCfg.Services))
	} else {
		slog.Info("No config file path specified (COMPOSER_CONFIG_FILE), using env vars only.")
	}

	if err := envconfig.Process(EnvPrefix, &finalCfg); err != nil {
		return nil, fmt.Errorf("failed to process overriding environment variables: %w", err)
	}
	return &finalCfg, nil
}

func (c *Config) apply(file FileConfig) error {
	c.Title = file.Composer.Title
	c.Description = file.Composer.Description
	c.Version = file.Composer.Version
	if file.Composer.RefreshInterval != "" {
		d, err := time.ParseDuration(file.Composer.RefreshInterval)
		if err != nil {
			return fmt.Errorf("composer.refreshInterval: %w", err)
		}
		c.RefreshInterval = d
	}
	if len(file.Composer.SchemaHeaders) > 0 {
		c.SchemaHeaders = file.Composer.SchemaHeaders
	}
	if len(file.Composer.CORSOrigins) > 0 {
		c.CORSOrigins = file.Composer.CORSOrigins
	}

	services, err := ParseServices(file.Services)
	if err != nil {
		return err
	}
	c.Services = services
	return nil
}

// ParseServices converts the raw `services:` entries into descriptors.
// Every invalid entry is reported, not only the first one.
func ParseServices(raw []map[string]interface{}) ([]domain.ServiceDescriptor, error) {
	var result *multierror.Error
	services := make([]domain.ServiceDescriptor, 0, len(raw))
	seen := make(map[string]bool, len(raw))

	for i, entry := range raw {
		service, err := parseService(entry)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("services[%d]: %w", i, err))
			continue
		}
		if seen[service.ID] {
			result = multierror.Append(result, fmt.Errorf("services[%d]: duplicate service id %q", i, service.ID))
			continue
		}
		seen[service.ID] = true
		services = append(services, service)
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return services, nil
}

func parseService(entry map[string]interface{}) (domain.ServiceDescriptor, error) {
	var in serviceFile
	if err := decodeStrict(entry, &in); err != nil {
		return domain.ServiceDescriptor{}, err
	}
	if in.ID == "" {
		return domain.ServiceDescriptor{}, fmt.Errorf("id is required")
	}

	var err error
	service := domain.ServiceDescriptor{ID: in.ID, Origin: strings.TrimRight(in.Origin, "/")}
	if in.OpenAPI != nil {
		if in.OpenAPI.URL != "" && in.OpenAPI.File != "" {
			return domain.ServiceDescriptor{}, fmt.Errorf("service %s: openapi url and file are mutually exclusive", in.ID)
		}
		service.OpenAPI = &domain.OpenAPIFacet{
			URL:    in.OpenAPI.URL,
			File:   in.OpenAPI.File,
			Prefix: domain.NormalizePrefix(in.OpenAPI.Prefix),
			Config: in.OpenAPI.Config,
		}
	}

	if service.GraphQL, err = parseGraphQL(in.GraphQL, service.Origin); err != nil {
		return domain.ServiceDescriptor{}, fmt.Errorf("service %s: graphql: %w", in.ID, err)
	}
	if service.Proxy, service.ProxyDisabled, err = parseProxy(in.Proxy); err != nil {
		return domain.ServiceDescriptor{}, fmt.Errorf("service %s: proxy: %w", in.ID, err)
	}

	needsOrigin := service.Proxied() ||
		(service.OpenAPI != nil && service.OpenAPI.File == "") ||
		(service.GraphQL != nil && service.GraphQL.Host == "" && service.GraphQL.File == "")
	if needsOrigin && service.Origin == "" {
		return domain.ServiceDescriptor{}, fmt.Errorf("service %s: origin is required", in.ID)
	}
	return service, nil
}

func parseGraphQL(raw interface{}, origin string) (*domain.GraphQLFacet, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case bool:
		if !v {
			return nil, nil
		}
		return &domain.GraphQLFacet{Host: origin}, nil
	case map[string]interface{}:
		var in graphqlFile
		if err := decodeStrict(v, &in); err != nil {
			return nil, err
		}
		facet := &domain.GraphQLFacet{
			Host:            in.Host,
			GraphQLEndpoint: in.GraphQLEndpoint,
			ComposeEndpoint: in.ComposeEndpoint,
			File:            in.File,
			Entities:        in.Entities,
		}
		if facet.Host == "" {
			facet.Host = origin
		}
		return facet, nil
	default:
		return nil, fmt.Errorf("expected a boolean or an object, got %T", raw)
	}
}

func parseProxy(raw interface{}) (*domain.ProxyFacet, bool, error) {
	switch v := raw.(type) {
	case nil:
		return nil, false, nil
	case bool:
		if !v {
			return nil, true, nil
		}
		return &domain.ProxyFacet{}, false, nil
	case map[string]interface{}:
		var in proxyFile
		if err := decodeStrict(v, &in); err != nil {
			return nil, false, err
		}
		return &domain.ProxyFacet{
			Prefix:                domain.NormalizePrefix(in.Prefix),
			Hostname:              in.Hostname,
			RewriteLocation:       in.RewriteLocation,
			InternalRewritePrefix: domain.NormalizePrefix(in.InternalRewritePrefix),
			TrailingSlash:         in.TrailingSlash,
			RefererRedirect:       in.RefererRedirect,
		}, false, nil
	default:
		return nil, false, fmt.Errorf("expected a boolean or an object, got %T", raw)
	}
}

// decodeStrict decodes input into result and fails on keys result has no field for.
func decodeStrict(input, result interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		Result:      result,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}
