package config

import (
	"fmt"
	"os"
	"reflect"
	"regexp"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// FieldSelector is a rule for pulling one field out of a scraped item.
type FieldSelector struct {
	Selector string `mapstructure:"selector" validate:"required"`
	Attr     string `mapstructure:"attr"`
	Type     string `mapstructure:"type" validate:"omitempty,oneof=text attr"`
	Split    string `mapstructure:"split"`
	Required bool   `mapstructure:"required"`
}

// CategoryField accepts either a bare literal value or a full selector rule.
// The variant is resolved once at load time via a decode hook.
type CategoryField struct {
	Literal string
	Rule    *FieldSelector
}

// ImageRule locates the image URL inside an item container.
type ImageRule struct {
	Selector string `mapstructure:"selector"`
	Attr     string `mapstructure:"attr"`
	DataAttr string `mapstructure:"dataAttr"`
}

// Pagination describes how listing pages beyond the first are addressed.
// Start and Step must be positive and End must not precede Start, or the
// page walk would never terminate.
type Pagination struct {
	Type  string `mapstructure:"type" validate:"omitempty,oneof=pageParam increment"`
	Start int    `mapstructure:"start" validate:"omitempty,gt=0"`
	End   int    `mapstructure:"end" validate:"required,gtefield=Start"`
	Param string `mapstructure:"param"`
	Step  int    `mapstructure:"step" validate:"omitempty,gt=0"`
}

// Target is one configured source site. The slug is immutable once assets
// have been downloaded under it: it is part of the on-disk layout and the
// per-row source column.
type Target struct {
	Name           string            `mapstructure:"name" validate:"required"`
	Slug           string            `mapstructure:"slug" validate:"required,slug"`
	URL            string            `mapstructure:"url" validate:"required,url"`
	BaseURL        string            `mapstructure:"baseUrl" validate:"omitempty,url"`
	ItemSelector   string            `mapstructure:"itemSelector" validate:"required"`
	Image          ImageRule         `mapstructure:"image"`
	Title          *FieldSelector    `mapstructure:"title"`
	Description    *FieldSelector    `mapstructure:"description"`
	Category       *CategoryField    `mapstructure:"category"`
	Tags           *FieldSelector    `mapstructure:"tags"`
	Pagination     *Pagination       `mapstructure:"pagination"`
	RequestHeaders map[string]string `mapstructure:"requestHeaders"`
	// Render fetches the page through a headless browser instead of a
	// plain GET, for listings that only materialize under JavaScript.
	Render bool `mapstructure:"render"`
}

// Compression controls the derived preview variants.
type Compression struct {
	OutputDir string `mapstructure:"outputDir" validate:"required"`
	MaxWidth  int    `mapstructure:"maxWidth" validate:"gt=0"`
	Quality   int    `mapstructure:"quality" validate:"min=1,max=100"`
}

// AI configures the optional enrichment stage.
type AI struct {
	Enabled         bool   `mapstructure:"enabled"`
	Endpoint        string `mapstructure:"endpoint" validate:"omitempty,url"`
	ClassifierModel string `mapstructure:"classifierModel"`
	CaptionModel    string `mapstructure:"captionModel"`
	MaxTags         int    `mapstructure:"maxTags" validate:"omitempty,gt=0"`
}

// Storage configures the optional object-storage upload stage.
// Credentials come from the environment, never the config file.
type Storage struct {
	Enabled        bool   `mapstructure:"enabled"`
	Endpoint       string `mapstructure:"endpoint"`
	Bucket         string `mapstructure:"bucket"`
	Region         string `mapstructure:"region"`
	Folder         string `mapstructure:"folder"`
	ForcePathStyle bool   `mapstructure:"forcePathStyle"`
	UseSSL         bool   `mapstructure:"useSSL"`
}

// Cache configures the optional scrape-recency cache.
type Cache struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	TTLDays int    `mapstructure:"ttlDays" validate:"omitempty,gt=0"`
}

// Config is the full pipeline configuration.
type Config struct {
	OutputDir   string      `mapstructure:"outputDir" validate:"required"`
	CSVPath     string      `mapstructure:"csvPath" validate:"required"`
	Compression Compression `mapstructure:"compression"`
	AI          *AI         `mapstructure:"ai"`
	Storage     *Storage    `mapstructure:"storage"`
	Cache       *Cache      `mapstructure:"cache"`
	Targets     []Target    `mapstructure:"targets" validate:"min=1,dive"`
}

var slugPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// Load reads, decodes and validates the pipeline config file. Any
// constraint violation is fatal here, before a stage ever runs.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		categoryFieldHook,
		mapstructure.StringToTimeDurationHookFunc(),
	))); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	applyDefaults(&cfg)

	validate := validator.New()
	if err := validate.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return slugPattern.MatchString(fl.Field().String())
	}); err != nil {
		return nil, err
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	for i := range cfg.Targets {
		cat := cfg.Targets[i].Category
		if cat != nil && cat.Rule != nil && cat.Rule.Selector == "" {
			return nil, fmt.Errorf("validate config: target %s: category rule needs a selector", cfg.Targets[i].Slug)
		}
	}
	if cfg.Storage != nil && cfg.Storage.Enabled {
		if cfg.Storage.Bucket == "" || cfg.Storage.Region == "" || cfg.Storage.Endpoint == "" {
			return nil, fmt.Errorf("validate config: storage enabled but endpoint/bucket/region incomplete")
		}
	}
	if cfg.Cache != nil && cfg.Cache.Enabled && cfg.Cache.Addr == "" {
		return nil, fmt.Errorf("validate config: cache enabled but addr missing")
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Compression.MaxWidth == 0 {
		cfg.Compression.MaxWidth = 1600
	}
	if cfg.Compression.Quality == 0 {
		cfg.Compression.Quality = 80
	}
	if cfg.AI != nil && cfg.AI.MaxTags == 0 {
		cfg.AI.MaxTags = 5
	}
	if cfg.Cache != nil && cfg.Cache.TTLDays == 0 {
		cfg.Cache.TTLDays = 2
	}
	for i := range cfg.Targets {
		p := cfg.Targets[i].Pagination
		if p == nil {
			continue
		}
		if p.Type == "" {
			p.Type = "pageParam"
		}
		if p.Start == 0 {
			p.Start = 1
		}
		if p.Step == 0 {
			p.Step = 1
		}
		if p.Param == "" {
			p.Param = "page"
		}
	}
}

// StorageCredentials reads the object-storage key pair from the
// environment. Missing credentials fail the upload stage fast.
func StorageCredentials() (accessKey, secretKey string, ok bool) {
	accessKey = os.Getenv("WALLPIPE_ACCESS_KEY")
	secretKey = os.Getenv("WALLPIPE_SECRET_KEY")
	return accessKey, secretKey, accessKey != "" && secretKey != ""
}

// categoryFieldHook resolves the literal-or-rule category variant while
// decoding, so the rest of the program only ever sees the tagged form.
func categoryFieldHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(CategoryField{}) {
		return data, nil
	}
	switch from.Kind() {
	case reflect.String:
		return CategoryField{Literal: data.(string)}, nil
	case reflect.Map:
		var rule FieldSelector
		if err := mapstructure.Decode(data, &rule); err != nil {
			return nil, fmt.Errorf("decode category rule: %w", err)
		}
		return CategoryField{Rule: &rule}, nil
	default:
		return nil, fmt.Errorf("category must be a string or a selector rule")
	}
}
