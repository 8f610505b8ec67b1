// Package configloader собирает конфигурацию из defaults, YAML-файла и ENV.
package configloader

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Options описывает один вызов Load.
type Options struct {
	// Path — путь к YAML/JSON файлу; пустой путь → только ENV и defaults.
	Path string
	// EnvPrefix — префикс ENV переменных, например "FEEDBRIDGE".
	EnvPrefix string
	// Defaults — плоские ключи viper ("http.port") и их значения.
	Defaults map[string]interface{}
	// Out — указатель на структуру с тегами mapstructure.
	Out interface{}
}

// Load загружает конфиг в opts.Out: defaults → файл → ENV.
// Если Out реализует Validate() error, результат валидируется.
func Load(opts Options) error {
	if opts.Out == nil {
		return fmt.Errorf("configloader: Out is required")
	}
	v := viper.New()

	// Шаг 1: defaults. Заодно они делают ключи видимыми для AutomaticEnv.
	for key, val := range opts.Defaults {
		v.SetDefault(key, val)
	}

	// Шаг 2: environment override
	if opts.EnvPrefix != "" {
		v.SetEnvPrefix(opts.EnvPrefix)
	}
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Шаг 3: read file (if provided)
	if opts.Path != "" {
		v.SetConfigFile(opts.Path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("configloader: read config %q: %w", opts.Path, err)
		}
	}

	// Шаг 4: decode
	if err := decode(v.AllSettings(), opts.Out); err != nil {
		return fmt.Errorf("configloader: decode failed: %w", err)
	}

	// Шаг 5: validate if possible
	if vv, ok := opts.Out.(interface{ Validate() error }); ok {
		if err := vv.Validate(); err != nil {
			return fmt.Errorf("configloader: validation failed: %w", err)
		}
	}
	return nil
}
