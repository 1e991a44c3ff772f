package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/rupor-github/gencfg"

	"kae/common"
)

//go:embed config.yaml.tmpl
var ConfigTmpl []byte

type (
	TemplateFieldName string

	FormatsConfig struct {
		Path string `yaml:"path" sanitize:"path_clean" validate:"required,filepath"`
	}

	DeviceConfig struct {
		OnboardPrefixes []string `yaml:"onboard_prefixes" validate:"min=1,dive,required"`
		// relative to device mount root unless absolute
		FontsDir   string `yaml:"fonts_dir"`
		MarkupsDir string `yaml:"markups_dir"`
	}

	PreferencesConfig struct {
		FontFamily     string  `yaml:"font_family" validate:"required"`
		FontSize       int     `yaml:"font_size" validate:"min=6,max=96"`
		ZoomFactor     float64 `yaml:"zoom_factor" validate:"gt=0,lte=4"`
		UseDeviceFont  bool    `yaml:"use_device_font"`
		DeviceFontName string  `yaml:"device_font_name"`
	}

	ChromeConfig struct {
		Bin       string        `yaml:"bin,omitempty" sanitize:"path_clean"`
		RemoteURL SecretString  `yaml:"remote_url,omitempty" validate:"omitempty,url"`
		NoSandbox bool          `yaml:"no_sandbox"`
		Timeout   time.Duration `yaml:"timeout" validate:"gte=0"`
	}

	ExecConfig struct {
		Bin     string   `yaml:"bin" validate:"required"`
		TempDir string   `yaml:"temp_dir,omitempty" sanitize:"path_clean" validate:"omitempty,dirpath"`
		Args    []string `yaml:"args,omitempty"`
	}

	RenderConfig struct {
		Engine        common.RasterEngine `yaml:"engine" validate:"oneof=0 1"`
		Width         int                 `yaml:"width" validate:"min=100,max=8192"`
		Height        int                 `yaml:"height" validate:"min=100,max=16384"`
		MeasureBound  int                 `yaml:"measure_bound" validate:"min=1000"`
		GrowthLimit   int                 `yaml:"growth_limit" validate:"gte=0"`
		CacheSize     int                 `yaml:"cache_size" validate:"gte=0"`
		Defaults      PreferencesConfig   `yaml:"defaults"`
		Chrome        ChromeConfig        `yaml:"chrome"`
		Wkhtmltoimage ExecConfig          `yaml:"wkhtmltoimage"`
	}

	MarkupConfig struct {
		Mode common.MarkupMode `yaml:"mode" validate:"oneof=0 1"`
	}

	OutputConfig struct {
		NameTemplate  string           `yaml:"name_template"`
		Transliterate bool             `yaml:"transliterate"`
		Format        common.OutputFmt `yaml:"format" validate:"oneof=0 1"`
		JPEGQuality   int              `yaml:"jpeg_quality" validate:"min=40,max=100"`
		Grayscale     bool             `yaml:"grayscale"`
		TextFallback  bool             `yaml:"text_fallback"`
	}

	Config struct {
		Version   int            `yaml:"version" validate:"eq=1"`
		Formats   FormatsConfig  `yaml:"formats"`
		Device    DeviceConfig   `yaml:"device"`
		Render    RenderConfig   `yaml:"render"`
		Markup    MarkupConfig   `yaml:"markup"`
		Output    OutputConfig   `yaml:"output"`
		Logging   LoggingConfig  `yaml:"logging"`
		Reporting ReporterConfig `yaml:"reporting"`
	}
)

const (
	// yaml name of OutputConfig.NameTemplate, expanded per bookmark later
	OutputNameTemplateFieldName TemplateFieldName = "name_template"
)

var requiredOptions = append([]func(*gencfg.ProcessingOptions){},
	gencfg.WithDoNotExpandField(string(OutputNameTemplateFieldName)),
)

func unmarshalConfig(data []byte, cfg *Config, process bool) (*Config, error) {
	// unknown fields are errors, typos should not silently become defaults
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration data: %w", err)
	}
	if process {
		if err := gencfg.Sanitize(cfg); err != nil {
			return nil, fmt.Errorf("configuration sanitization failed: %w", err)
		}
		if err := gencfg.Validate(cfg); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}
	return cfg, nil
}

// LoadConfiguration expands embedded template for defaults, applies
// configuration file from path (if any) on top and validates the result.
func LoadConfiguration(path string, options ...func(*gencfg.ProcessingOptions)) (*Config, error) {
	haveFile := len(path) > 0

	data, err := gencfg.Process(ConfigTmpl, append(requiredOptions, options...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration template: %w", err)
	}
	cfg, err := unmarshalConfig(data, &Config{}, !haveFile)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration template: %w", err)
	}
	if !haveFile {
		return cfg, nil
	}

	data, err = os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err = unmarshalConfig(data, cfg, haveFile)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration file: %w", err)
	}
	return cfg, nil
}

// Prepare returns default configuration as YAML.
func Prepare() ([]byte, error) {
	return gencfg.Process(ConfigTmpl, requiredOptions...)
}

// Dump returns effective configuration as YAML with secrets hidden.
func Dump(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(*cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config to yaml: %w", err)
	}
	return data, nil
}
