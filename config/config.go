// Package config loads watermarker settings from YAML files.
package config

import (
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/wasm-watermarker/errors"
	"github.com/wippyai/wasm-watermarker/ordering"
	"github.com/wippyai/wasm-watermarker/watermark"
)

// Config holds the settings shared by the watermarker commands.
type Config struct {
	// Watermark is the payload embedded by default.
	Watermark string `yaml:"watermark"`
	// LogLevel is a zap level name.
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	// Methods are applied in order on embed and extract.
	Methods []string `yaml:"methods" validate:"required,min=1,dive,method"`
	// ChunkSize is the permutation chunk size.
	ChunkSize int `yaml:"chunk_size" validate:"min=2,max=20"`
	// Verify runs validation and equivalence checks after embedding.
	Verify bool `yaml:"verify"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("method", validateMethod)
}

func validateMethod(fl validator.FieldLevel) bool {
	_, err := watermark.ParseMethod(fl.Field().String())
	return err == nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	methods := make([]string, len(watermark.Methods))
	for i, m := range watermark.Methods {
		methods[i] = string(m)
	}
	return &Config{
		Methods:   methods,
		ChunkSize: ordering.MaxChunkSize,
		LogLevel:  "warn",
	}
}

// Load reads the YAML file at path on top of Default and validates the
// result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.PhaseConfig, errors.KindNotFound).
			Path(path).
			Cause(err).
			Detail("read config file").
			Build()
	}
	return Parse(data)
}

// Parse decodes YAML data on top of Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field ranges and method names.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fields []string
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range verrs {
			fields = append(fields, fe.Namespace())
		}
	}
	return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
		Path(fields...).
		Cause(err).
		Detail("invalid configuration").
		Build()
}

// Options converts the configuration into watermark options.
func (c *Config) Options() (watermark.Options, error) {
	methods, err := watermark.ParseMethods(c.Methods)
	if err != nil {
		return watermark.Options{}, err
	}
	return watermark.Options{Methods: methods, ChunkSize: c.ChunkSize}, nil
}

// MethodList renders the configured methods as a comma separated list.
func (c *Config) MethodList() string {
	return strings.Join(c.Methods, ",")
}
