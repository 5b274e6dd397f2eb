package config

import (
	"encoding/json"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vango-dev/pages/internal/errors"
)

const (
	// ConfigFileName is the name of the JSON configuration file.
	ConfigFileName = "pages.json"

	// DefaultDist is the default output directory.
	DefaultDist = "dist"

	// DefaultAPIPrefix marks page paths that are written verbatim.
	DefaultAPIPrefix = "api/"

	// DefaultCache is the directory holding compiled server bundles.
	DefaultCache = ".pages"

	// DefaultBaseURL is used when no base URL is configured.
	DefaultBaseURL = "http://localhost/"
)

// ConfigFileNames lists the configuration files Load looks for, in order.
var ConfigFileNames = []string{ConfigFileName, "pages.yaml", "pages.yml"}

// Environment variables overriding file values.
const (
	EnvBaseURL       = "PAGES_BASE_URL"
	EnvDistDirectory = "PAGES_DIST_DIRECTORY"
)

// Mode selects development or production behavior.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
)

// IsProduction reports whether m is production mode.
func (m Mode) IsProduction() bool {
	return m == ModeProduction
}

// SiteConfig is the configuration of one site.
// A loaded SiteConfig is never modified; reloading produces a new value.
type SiteConfig struct {
	// BaseURL is the absolute URL the site is deployed under.
	BaseURL string `json:"baseUrl" yaml:"baseUrl"`

	// DistDirectory is the output directory, relative to the project root.
	DistDirectory string `json:"distDirectory" yaml:"distDirectory"`

	// PublicDirectory holds static files copied verbatim into the output.
	PublicDirectory string `json:"publicDirectory,omitempty" yaml:"publicDirectory,omitempty"`

	// LocaleFile is the translation source handed to the page enumerator.
	LocaleFile string `json:"localeFile,omitempty" yaml:"localeFile,omitempty"`

	// Variants are the localized or alternate instances of the site.
	Variants []Variant `json:"variants" yaml:"variants"`

	// APIPrefix marks page paths that are API routes.
	APIPrefix string `json:"apiPrefix,omitempty" yaml:"apiPrefix,omitempty"`

	// CacheDirectory holds compiled server bundles.
	CacheDirectory string `json:"cacheDirectory,omitempty" yaml:"cacheDirectory,omitempty"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// Variant is one instance of the site with its own content.
type Variant struct {
	// ContentDirectory holds the variant's content, relative to the project root.
	ContentDirectory string `json:"contentDirectory" yaml:"contentDirectory"`

	// RoutePrefix is prepended to the variant's page paths.
	RoutePrefix string `json:"routePrefix,omitempty" yaml:"routePrefix,omitempty"`
}

// New creates a SiteConfig with default values.
func New() *SiteConfig {
	return &SiteConfig{
		BaseURL:        DefaultBaseURL,
		DistDirectory:  DefaultDist,
		APIPrefix:      DefaultAPIPrefix,
		CacheDirectory: DefaultCache,
	}
}

// Load reads configuration from the specified directory.
// It uses the first of ConfigFileNames present in dir.
func Load(dir string) (*SiteConfig, error) {
	for _, name := range ConfigFileNames {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return LoadFile(p)
		}
	}
	return nil, errors.New("E100").
		WithDetail("No pages.json, pages.yaml or pages.yml found in " + dir).
		WithSuggestion("Create pages.json with at least a baseUrl and one variant")
}

// LoadFile reads and validates configuration from the specified file path.
func LoadFile(p string) (*SiteConfig, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("E100").
				WithDetail("No config file at " + p)
		}
		return nil, errors.New("E101").Wrap(err)
	}

	cfg := New()
	switch filepath.Ext(p) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, errors.New("E101").
			WithDetail("Failed to parse " + filepath.Base(p) + ": " + err.Error())
	}

	abs, err := filepath.Abs(p)
	if err != nil {
		return nil, errors.New("E101").Wrap(err)
	}
	cfg.configPath = abs
	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveTo writes the configuration to the specified path as JSON or YAML
// depending on its extension.
func (c *SiteConfig) SaveTo(p string) error {
	var (
		data []byte
		err  error
	)
	switch filepath.Ext(p) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return errors.New("E103").Wrap(err)
	}

	if err := os.WriteFile(p, data, 0644); err != nil {
		return errors.New("E103").Wrap(err)
	}

	c.configPath = p
	return nil
}

// Path returns the path where the config was loaded from.
func (c *SiteConfig) Path() string {
	return c.configPath
}

// Dir returns the project root: the directory containing the config file.
func (c *SiteConfig) Dir() string {
	if c.configPath == "" {
		return ""
	}
	return filepath.Dir(c.configPath)
}

func (c *SiteConfig) applyEnv() {
	if v := os.Getenv(EnvBaseURL); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv(EnvDistDirectory); v != "" {
		c.DistDirectory = v
	}
}

// applyDefaults fills in default values for empty fields.
func (c *SiteConfig) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.DistDirectory == "" {
		c.DistDirectory = DefaultDist
	}
	if c.CacheDirectory == "" {
		c.CacheDirectory = DefaultCache
	}
	if c.APIPrefix == "" {
		c.APIPrefix = DefaultAPIPrefix
	}
	c.APIPrefix = strings.TrimPrefix(c.APIPrefix, "/")
}

// Validate checks if the configuration is valid.
func (c *SiteConfig) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("E102").
			WithDetail("baseUrl must be an absolute URL, got " + c.BaseURL).
			WithSuggestion(`Use a value like "https://example.com/docs/"`)
	}
	if strings.TrimSpace(c.DistDirectory) == "" {
		return errors.New("E102").WithDetail("distDirectory must not be empty")
	}
	if len(c.Variants) == 0 {
		return errors.New("E102").
			WithDetail("At least one variant is required").
			WithSuggestion(`Add "variants": [{"contentDirectory": "content"}]`)
	}
	for i, v := range c.Variants {
		if strings.TrimSpace(v.ContentDirectory) == "" {
			return errors.New("E102").
				WithDetail("variants[" + itoa(i) + "].contentDirectory must not be empty")
		}
	}
	return nil
}

// BasePath returns the path component of BaseURL, always starting and
// ending with a slash.
func (c *SiteConfig) BasePath() string {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Path == "" {
		return "/"
	}
	p := path.Clean("/" + u.Path)
	if p == "/" {
		return p
	}
	return p + "/"
}

// DistPath returns the absolute path to the output directory.
func (c *SiteConfig) DistPath() string {
	return c.resolve(c.DistDirectory)
}

// CachePath returns the absolute path to the cache directory.
func (c *SiteConfig) CachePath() string {
	return c.resolve(c.CacheDirectory)
}

// PublicPath returns the absolute path to the public directory, or "" when
// none is configured.
func (c *SiteConfig) PublicPath() string {
	if c.PublicDirectory == "" {
		return ""
	}
	return c.resolve(c.PublicDirectory)
}

// LocalePath returns the absolute path to the locale file, or "".
func (c *SiteConfig) LocalePath() string {
	if c.LocaleFile == "" {
		return ""
	}
	return c.resolve(c.LocaleFile)
}

// ContentPaths returns the absolute content directory of every variant.
func (c *SiteConfig) ContentPaths() []string {
	paths := make([]string, 0, len(c.Variants))
	for _, v := range c.Variants {
		paths = append(paths, c.resolve(v.ContentDirectory))
	}
	return paths
}

// WatchPaths returns the distinct directories the content watcher observes:
// every variant content directory plus the public directory when set.
func (c *SiteConfig) WatchPaths() []string {
	var paths []string
	candidates := c.ContentPaths()
	if p := c.PublicPath(); p != "" {
		candidates = append(candidates, p)
	}
	for _, p := range candidates {
		if !slices.Contains(paths, p) {
			paths = append(paths, p)
		}
	}
	return paths
}

func (c *SiteConfig) resolve(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(c.Dir(), p)
}

// Exists checks if a config file exists in the given directory.
func Exists(dir string) bool {
	for _, name := range ConfigFileNames {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

// FindProjectRoot walks up directories to find the project root.
// Returns the directory containing a config file, or an error if not found.
func FindProjectRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		if Exists(dir) {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("E100").
				WithDetail("No pages.json found in " + startDir + " or any parent directory")
		}
		dir = parent
	}
}

// ParseMode converts a string to a Mode, defaulting to development.
func ParseMode(s string) Mode {
	if Mode(s) == ModeProduction {
		return ModeProduction
	}
	return ModeDevelopment
}

// itoa converts int to string without importing strconv.
func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	if n < 0 {
		return "-" + itoa(-n)
	}
	digits := make([]byte, 0, 10)
	for n > 0 {
		digits = append(digits, byte('0'+n%10))
		n /= 10
	}
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	return string(digits)
}
