// common/httpserver/config.go

package httpserver

import (
	"fmt"
	"strings"
	"time"
)

// Config определяет настройки HTTP-сервера.
type Config struct {
	Host            string        `mapstructure:"host"`             // интерфейс для Listen, пусто → все
	Port            int           `mapstructure:"port"`             // порт для Listen
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`     // максимальное время чтения запроса
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`    // максимальное время записи ответа
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`     // максимальное время простоя соединения
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"` // таймаут для graceful shutdown
	MetricsPath     string        `mapstructure:"metrics_path"`     // путь для /metrics
	HealthzPath     string        `mapstructure:"healthz_path"`     // путь для /healthz
	ReadyzPath      string        `mapstructure:"readyz_path"`      // путь для /readyz
	CORS            bool          `mapstructure:"cors"`             // permissive CORS для всех маршрутов
}

// ApplyDefaults заполняет нулевые поля.
func (c *Config) ApplyDefaults() {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 15 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.MetricsPath == "" {
		c.MetricsPath = "/metrics"
	}
	if c.HealthzPath == "" {
		c.HealthzPath = "/healthz"
	}
	if c.ReadyzPath == "" {
		c.ReadyzPath = "/readyz"
	}
}

// Validate проверяет порт и пути.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("httpserver: port must be between 1 and 65535, got %d", c.Port)
	}
	paths := map[string]string{
		"metrics_path": c.MetricsPath,
		"healthz_path": c.HealthzPath,
		"readyz_path":  c.ReadyzPath,
	}
	for k, p := range paths {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("httpserver: %s must start with '/'", k)
		}
	}
	return nil
}

// Addr возвращает адрес для net.Listen.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
