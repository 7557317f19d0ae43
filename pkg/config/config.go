// Package config loads the siteprep TOML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// TokenEnv overrides auth.token when set.
const TokenEnv = "SITEPREP_TOKEN"

type Config struct {
	Services ServicesConfig `toml:"services"`
	HTTP     HTTPConfig     `toml:"http"`
	Extract  ExtractConfig  `toml:"extract"`
	Store    StoreConfig    `toml:"store"`
	Auth     AuthConfig     `toml:"auth"`
	Geocode  GeocodeConfig  `toml:"geocode"`
}

// ServicesConfig holds every remote endpoint.
type ServicesConfig struct {
	ReferenceTable string `toml:"reference_table"`
	StudyArea      string `toml:"study_area"`
	Parcels        string `toml:"parcels"`
	GeocodeServer  string `toml:"geocode_server"`
}

type HTTPConfig struct {
	TimeoutSeconds        int `toml:"timeout_seconds"`
	IDQueryTimeoutSeconds int `toml:"id_query_timeout_seconds"`
	SuggestTimeoutSeconds int `toml:"suggest_timeout_seconds"`
}

type ExtractConfig struct {
	BatchSize      int    `toml:"batch_size"`
	ProjectType    string `toml:"project_type"`
	DefaultDataset string `toml:"default_dataset"`
	// ReferenceFile replaces the remote reference table when set.
	ReferenceFile string `toml:"reference_file"`
}

type StoreConfig struct {
	Path string `toml:"path"`
	// ProjectDir is searched for relative style paths.
	ProjectDir string `toml:"project_dir"`
}

type AuthConfig struct {
	Token string `toml:"token"`
}

type GeocodeConfig struct {
	CountryCode          string  `toml:"country_code"`
	MaxSuggestions       int     `toml:"max_suggestions"`
	ParcelFallbackMeters float64 `toml:"parcel_fallback_meters"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Services: ServicesConfig{
			ReferenceTable: "https://services-ap1.arcgis.com/1awYJ9qmpKeoPyqc/arcgis/rest/services/Standard_Connection_Reference_Table/FeatureServer/15",
			StudyArea:      "https://services-ap1.arcgis.com/1awYJ9qmpKeoPyqc/arcgis/rest/services/Project_Study_Area/FeatureServer/0",
			Parcels:        "https://portal.spatial.nsw.gov.au/server/rest/services/NSW_Land_Parcel_Property_Theme/FeatureServer/12",
			GeocodeServer:  "https://geocode-api.arcgis.com/arcgis/rest/services/World/GeocodeServer",
		},
		HTTP: HTTPConfig{
			TimeoutSeconds:        30,
			IDQueryTimeoutSeconds: 120,
			SuggestTimeoutSeconds: 5,
		},
		Extract: ExtractConfig{
			BatchSize:      20,
			ProjectType:    "all",
			DefaultDataset: "ProjectData",
		},
		Store: StoreConfig{
			Path: filepath.Join(home, ".siteprep", "project.db"),
		},
		Geocode: GeocodeConfig{
			CountryCode:          "AUS",
			MaxSuggestions:       10,
			ParcelFallbackMeters: 2,
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
// The token environment variable wins over the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	cfg.Store.Path = ExpandPath(cfg.Store.Path)
	cfg.Store.ProjectDir = ExpandPath(cfg.Store.ProjectDir)
	cfg.Extract.ReferenceFile = ExpandPath(cfg.Extract.ReferenceFile)
	if token := strings.TrimSpace(os.Getenv(TokenEnv)); token != "" {
		cfg.Auth.Token = token
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would make every request fail.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("http.timeout_seconds must be positive"))
	}
	if c.HTTP.IDQueryTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("http.id_query_timeout_seconds must be positive"))
	}
	if c.Extract.BatchSize <= 0 {
		errs = append(errs, errors.New("extract.batch_size must be positive"))
	}
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}
	if c.Geocode.ParcelFallbackMeters < 0 {
		errs = append(errs, errors.New("geocode.parcel_fallback_meters must not be negative"))
	}
	return errors.Join(errs...)
}

// Timeout is the default request timeout.
func (c HTTPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// IDQueryTimeout bounds id queries, which can be slow on large layers.
func (c HTTPConfig) IDQueryTimeout() time.Duration {
	return time.Duration(c.IDQueryTimeoutSeconds) * time.Second
}

func (c HTTPConfig) SuggestTimeout() time.Duration {
	return time.Duration(c.SuggestTimeoutSeconds) * time.Second
}

// StyleSearchDirs lists the directories searched for relative style paths.
func (c *Config) StyleSearchDirs() []string {
	var dirs []string
	if c.Store.ProjectDir != "" {
		dirs = append(dirs, c.Store.ProjectDir)
	}
	if c.Store.Path != "" {
		dirs = append(dirs, filepath.Dir(c.Store.Path))
	}
	return dirs
}

func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "siteprep", "config.toml")
}
