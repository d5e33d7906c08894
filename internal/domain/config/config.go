package config

import (
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	domainerr "notehub/internal/domain/errors"
)

type Config struct {
	Site  SiteConfig  `yaml:"site"`
	Build BuildConfig `yaml:"build"`
	Serve ServeConfig `yaml:"serve"`
}

type SiteConfig struct {
	Title       string   `yaml:"title"`
	Subtitle    string   `yaml:"subtitle"`
	Author      string   `yaml:"author"`
	SiteURL     string   `yaml:"site_url"`
	Theme       string   `yaml:"theme"`
	SortMode    SortMode `yaml:"sort_mode"`
	Language    string   `yaml:"language"`
	Description string   `yaml:"description"`

	// ScopeSelector 用来约束文章自定义 CSS 的作用范围
	ScopeSelector string `yaml:"scope_selector"`
}

type SortMode string

const (
	SortUpdated SortMode = "updated"
	SortCreated SortMode = "created"
)

type BuildConfig struct {
	SourceDir    string `yaml:"source_dir"`
	PublicDir    string `yaml:"public_dir"`
	ThemeDir     string `yaml:"theme_dir"`
	IncludeDraft bool   `yaml:"include_draft"`
}

type ServeConfig struct {
	Addr string `yaml:"addr"`
	// RelayPath is the shared update-notification relay file; other
	// notehub processes on the same machine watch it for article
	// changes. Empty disables the cross-process relay.
	RelayPath string `yaml:"relay_path"`
}

func Default() Config {
	return Config{
		Site: SiteConfig{
			Title:         "NoteHub",
			Theme:         "default",
			SortMode:      SortUpdated,
			Language:      "zh-CN",
			ScopeSelector: ".article-body",
		},
		Build: BuildConfig{
			SourceDir:    "source",
			PublicDir:    "public",
			ThemeDir:     "themes",
			IncludeDraft: false,
		},
		Serve: ServeConfig{
			Addr:      ":8080",
			RelayPath: ".notehub/relay.json",
		},
	}
}

func (c Config) Validate() error {
	var ve domainerr.ValidationError

	if strings.TrimSpace(c.Site.Title) == "" {
		ve.Add("site.title", "must not be empty")
	}
	if s := strings.TrimSpace(c.Site.SiteURL); s != "" && !isValidAbsURL(s) {
		ve.Add("site.site_url", "must be a valid absolute URL")
	}

	switch c.Site.SortMode {
	case "", SortUpdated, SortCreated:
	default:
		ve.Add("site.sort_mode", "must be 'updated' or 'created'")
	}

	if strings.TrimSpace(c.Site.Theme) == "" {
		ve.Add("site.theme", "must not be empty")
	}
	if strings.TrimSpace(c.Site.ScopeSelector) == "" {
		ve.Add("site.scope_selector", "must not be empty")
	}

	if strings.TrimSpace(c.Build.SourceDir) == "" {
		ve.Add("build.source_dir", "must not be empty")
	}
	if strings.TrimSpace(c.Build.PublicDir) == "" {
		ve.Add("build.public_dir", "must not be empty")
	}
	if strings.TrimSpace(c.Build.ThemeDir) == "" {
		ve.Add("build.theme_dir", "must not be empty")
	}
	if strings.TrimSpace(c.Serve.Addr) == "" {
		ve.Add("serve.addr", "must not be empty")
	}

	if ve.HasAny() {
		return ve
	}
	return nil
}

func isValidAbsURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}

// Load reads path over the defaults: fields present in the file
// override, everything else keeps Default().
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but a missing file is not an error.
func LoadOrDefault(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			return cfg, cfg.Validate()
		}
		return Default(), err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}
