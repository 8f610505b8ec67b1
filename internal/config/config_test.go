package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimal = `
feed:
  services:
    feed: http://feed.local:9000/
`

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeYAML(t, minimal))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServiceName != "feedbridge" || cfg.Telemetry.ServiceName != "feedbridge" {
		t.Errorf("service name = %q / %q", cfg.ServiceName, cfg.Telemetry.ServiceName)
	}
	if cfg.HTTP.Port != 8080 || cfg.HTTP.ReadTimeout != 10*time.Second {
		t.Errorf("http = %+v", cfg.HTTP)
	}
	if cfg.Feed.Pathname != "/feed" || cfg.Feed.TimeoutMS != 30000 || !cfg.Feed.Register {
		t.Errorf("feed = %+v", cfg.Feed)
	}
	if cfg.Feed.TrustProxy {
		t.Error("proxy headers must not be trusted by default")
	}
	if cfg.Kafka.Enabled || cfg.Redis.Enabled || cfg.Timescale.Enabled || cfg.Stream.Enabled {
		t.Error("sinks must be disabled by default")
	}
	if cfg.Kafka.Producer.Backoff.MaxAttempts != 5 {
		t.Errorf("kafka publish max attempts = %d", cfg.Kafka.Producer.Backoff.MaxAttempts)
	}
	if cfg.Redis.Backoff.MaxElapsedTime != 30*time.Second {
		t.Errorf("redis backoff max elapsed = %v", cfg.Redis.Backoff.MaxElapsedTime)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	t.Setenv("FEEDBRIDGE_FEED_SECRET", "s3cr3t")
	t.Setenv("FEEDBRIDGE_HTTP_PORT", "9191")
	path := writeYAML(t, `
service_name: bridge-test
feed:
  services:
    feed: http://feed.local:9000
  pathname: /client
  time_location: Europe/Moscow
  trust_proxy: true
kafka:
  enabled: true
  encoding: json
  producer:
    brokers: [k1:9092, k2:9092]
stream:
  enabled: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Feed.Secret != "s3cr3t" {
		t.Errorf("secret = %q", cfg.Feed.Secret)
	}
	if cfg.HTTP.Port != 9191 {
		t.Errorf("port = %d", cfg.HTTP.Port)
	}
	if diff := cmp.Diff([]string{"k1:9092", "k2:9092"}, cfg.Kafka.Producer.Brokers); diff != "" {
		t.Errorf("brokers mismatch (-want +got):\n%s", diff)
	}
	cc, err := cfg.ClientConfig(nil, nil)
	if err != nil || !cc.TrustProxy {
		t.Errorf("trust_proxy not passed to the client: %v", err)
	}
	if cfg.Kafka.Encoding != "json" || !cfg.Stream.Enabled {
		t.Errorf("kafka/stream = %+v / %+v", cfg.Kafka, cfg.Stream)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"no feed service": `
feed:
  services: {}
`,
		"bad location": minimal + `  time_location: Mars/Olympus
`,
		"bad log level": minimal + `logging:
  level: loud
`,
		"kafka without brokers": minimal + `kafka:
  enabled: true
`,
		"telemetry without endpoint": minimal + `telemetry:
  enabled: true
  endpoint: ""
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeYAML(t, body)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestClientConfig(t *testing.T) {
	cfg, err := Load(writeYAML(t, minimal))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cc, err := cfg.ClientConfig(nil, nil)
	if err != nil {
		t.Fatalf("ClientConfig: %v", err)
	}
	if cc.BindPort != 8080 {
		t.Errorf("bind port falls back to http.port, got %d", cc.BindPort)
	}
	if cc.Timeout != 30*time.Second || cc.TimeLocation != time.UTC {
		t.Errorf("timeout/location = %v / %v", cc.Timeout, cc.TimeLocation)
	}
	url, err := cc.Discovery.ServiceURL("feed")
	if err != nil || url != "http://feed.local:9000" {
		t.Errorf("discovery = %q, %v", url, err)
	}
}

func TestPrint_HidesSecrets(t *testing.T) {
	t.Setenv("FEEDBRIDGE_FEED_SECRET", "topsecret")
	cfg, err := Load(writeYAML(t, minimal))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	var buf bytes.Buffer
	if err := cfg.Print(&buf); err != nil {
		t.Fatalf("Print: %v", err)
	}
	if strings.Contains(buf.String(), "topsecret") {
		t.Error("secret leaked into printed config")
	}
	if cfg.Feed.Secret != "topsecret" {
		t.Error("Print must not modify the config")
	}
}
