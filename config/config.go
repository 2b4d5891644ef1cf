package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"smartcommunity/feeds"
	"smartcommunity/models"
)

// Config is built once at startup and handed to every component
type Config struct {
	// Root of the installation; db, res and python live below it
	ProjectPath string

	DatabasePort int
	ServerPort   int
	NoMongod     bool
	MongodPath   string

	AppId   string
	AppName string

	ApiPath  string
	DashPath string

	// Upstream URLs of the BaaS server and the admin dashboard. Empty means not mounted.
	BaasUpstream string
	DashUpstream string

	// Directory of the built web client
	AppPath string

	CorsOrigins string

	OriginsFile string
	FeedTimeout time.Duration

	PythonPath string
	FaceScript string
}

// DbPath is the data directory of the document database
func (c *Config) DbPath() string {
	return filepath.Join(c.ProjectPath, "db", "data")
}

func (c *Config) ResPath() string {
	return filepath.Join(c.ProjectPath, "res")
}

// SchemaPath is where the feed schema artifact is written
func (c *Config) SchemaPath() string {
	return filepath.Join(c.ResPath(), "schema")
}

// DetectionScript is the face detection script, python/face/detection.py
// below the project root unless set
func (c *Config) DetectionScript() string {
	if c.FaceScript != "" {
		return c.FaceScript
	}
	return filepath.Join(c.ProjectPath, "python", "face", "detection.py")
}

func (c *Config) DatabaseURI() string {
	return fmt.Sprintf("mongodb://127.0.0.1:%d%s", c.DatabasePort, c.ApiPath)
}

func (c *Config) ServerURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", c.ServerPort, c.ApiPath)
}

// Validate checks the values that would otherwise fail late at runtime
func (c *Config) Validate() error {
	if c.ProjectPath == "" {
		return errors.New("project path is not set")
	}
	if c.DatabasePort <= 0 || c.DatabasePort > 65535 {
		return fmt.Errorf("invalid database port: %d", c.DatabasePort)
	}
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid server port: %d", c.ServerPort)
	}
	if c.DatabasePort == c.ServerPort && !c.NoMongod {
		return fmt.Errorf("database and server cannot share port %d", c.ServerPort)
	}
	if c.FeedTimeout < 0 {
		return fmt.Errorf("feed timeout cannot be negative")
	}
	for name, upstream := range map[string]string{"baas": c.BaasUpstream, "dashboard": c.DashUpstream} {
		if upstream == "" {
			continue
		}
		if _, err := url.ParseRequestURI(upstream); err != nil {
			return fmt.Errorf("invalid %s upstream %q: %w", name, upstream, err)
		}
	}
	return nil
}

// EnsureDirs creates the data, resource and schema directories
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.DbPath(), c.ResPath(), c.SchemaPath()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("error creating directory %s: %w", dir, err)
		}
	}
	return nil
}

// TomlHTML configures a custom HTML parser for an origin
type TomlHTML struct {
	Item       string `toml:"item"`
	Title      string `toml:"title"`
	Link       string `toml:"link"`
	Summary    string `toml:"summary,omitempty"`
	Date       string `toml:"date"`
	DateLayout string `toml:"date_layout,omitempty"`
	Image      string `toml:"image,omitempty"`
}

// TomlOrigin adds an origin or overrides a built-in one
type TomlOrigin struct {
	Name string    `toml:"name"`
	Url  string    `toml:"url"`
	HTML *TomlHTML `toml:"html,omitempty"`
}

// TomlConfig represents the origins file
type TomlConfig struct {
	Origins map[string]TomlOrigin `toml:"origins"`
}

func LoadConfig(path string) (*TomlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config TomlConfig
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

// Apply merges the configured origins into infos. Name and url of an existing
// origin are only replaced when set.
func (c *TomlConfig) Apply(infos map[models.FeedOrigin]feeds.OriginInfo) error {
	for id, origin := range c.Origins {
		key := models.FeedOrigin(id)
		info, exists := infos[key]

		if origin.Name != "" {
			info.Name = origin.Name
		}
		if origin.Url != "" {
			if _, err := url.ParseRequestURI(origin.Url); err != nil {
				return fmt.Errorf("invalid url for origin %s: %w", id, err)
			}
			info.Url = origin.Url
		}

		if !exists && (info.Name == "" || info.Url == "") {
			return fmt.Errorf("origin %s needs both name and url", id)
		}

		if origin.HTML != nil {
			if origin.HTML.Item == "" {
				return fmt.Errorf("origin %s: html parser needs an item selector", id)
			}
			info.Parser = feeds.HTMLParser(info.Url, feeds.HTMLSelectors{
				Item:       origin.HTML.Item,
				Title:      origin.HTML.Title,
				Link:       origin.HTML.Link,
				Summary:    origin.HTML.Summary,
				Date:       origin.HTML.Date,
				DateLayout: origin.HTML.DateLayout,
				Image:      origin.HTML.Image,
			})
		}

		infos[key] = info
	}
	return nil
}

// LoadRegistry builds the registry from the built-in origins and the optional origins file
func LoadRegistry(path string) (*feeds.Registry, error) {
	infos := feeds.BuiltinOriginInfos()
	if path != "" {
		cfg, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		if err := cfg.Apply(infos); err != nil {
			return nil, err
		}
	}
	return feeds.NewRegistry(infos), nil
}
