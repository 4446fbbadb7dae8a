package openapi

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/i2y/apicomposer/internal/domain"
)

// RouteConfig adjusts how one service's document is composed.
// It is read from the file named by the service's openapi.config (JSON or YAML).
//
//	ignore: false
//	paths:
//	  /internal/metrics:
//	    ignore: true
//	  /users/{id}:
//	    alias: /people/{personId}
//	    get:
//	      responses:
//	        200:
//	          properties:
//	            name: {rename: fullName}
type RouteConfig struct {
	Ignore bool                   `yaml:"ignore"`
	Paths  map[string]*PathConfig `yaml:"paths"`
}

// PathConfig holds the settings of one path template and its methods.
type PathConfig struct {
	Ignore  bool
	Alias   string
	Methods map[string]*MethodConfig
}

// MethodConfig holds the settings of one operation.
type MethodConfig struct {
	Ignore bool `yaml:"ignore"`
	// Responses maps a status code to the rename rules of its JSON response schema.
	Responses map[string]*domain.RenameSpec `yaml:"responses"`
}

var httpMethods = map[string]struct{}{
	"GET": {}, "PUT": {}, "POST": {}, "DELETE": {}, "OPTIONS": {}, "HEAD": {}, "PATCH": {}, "TRACE": {},
}

func isHTTPMethod(s string) bool {
	_, ok := httpMethods[strings.ToUpper(s)]
	return ok
}

// UnmarshalYAML decodes the fixed keys of a path entry and treats HTTP method names as operations.
func (p *PathConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw map[string]yaml.Node
	if err := node.Decode(&raw); err != nil {
		return err
	}
	p.Methods = make(map[string]*MethodConfig)
	for key, value := range raw {
		switch key {
		case "ignore":
			if err := value.Decode(&p.Ignore); err != nil {
				return fmt.Errorf("ignore: %w", err)
			}
		case "alias":
			if err := value.Decode(&p.Alias); err != nil {
				return fmt.Errorf("alias: %w", err)
			}
		default:
			if !isHTTPMethod(key) {
				return fmt.Errorf("unknown path setting %q", key)
			}
			var mc MethodConfig
			if err := value.Decode(&mc); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			if err := mc.validate(); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			p.Methods[strings.ToUpper(key)] = &mc
		}
	}
	return nil
}

// validate rejects rename rules keyed by anything but a single status code,
// such as default or 2XX.
func (m *MethodConfig) validate() error {
	for status, spec := range m.Responses {
		if spec.Empty() {
			continue
		}
		if code, err := strconv.Atoi(status); err != nil || code < 100 || code > 599 {
			return fmt.Errorf("responses: rename under %q needs a numeric status code", status)
		}
	}
	return nil
}

// LoadRouteConfig reads a route config file. An empty path yields an empty config.
func LoadRouteConfig(path string) (*RouteConfig, error) {
	cfg := &RouteConfig{}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read route config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse route config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *RouteConfig) path(p string) *PathConfig {
	if c == nil || c.Paths[p] == nil {
		return &PathConfig{}
	}
	return c.Paths[p]
}

func (p *PathConfig) method(m string) *MethodConfig {
	if p == nil || p.Methods[m] == nil {
		return &MethodConfig{}
	}
	return p.Methods[m]
}

// renameRule returns the designated status and its rename spec, or ("", nil).
// Only one status is ever rewritten; when several are configured the lowest wins.
func (m *MethodConfig) renameRule() (string, *domain.RenameSpec) {
	if m == nil || len(m.Responses) == 0 {
		return "", nil
	}
	statuses := make([]string, 0, len(m.Responses))
	for status := range m.Responses {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		if spec := m.Responses[status]; !spec.Empty() {
			return status, spec
		}
	}
	return "", nil
}
