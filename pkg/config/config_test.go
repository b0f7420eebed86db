package config

import (
	"testing"
	"time"
)

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte("environment: test\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Server.Port != 8080 {
		t.Fatalf("port = %d", c.Server.Port)
	}
	if c.Upstream.Cooldown != 60*time.Second {
		t.Fatalf("cooldown = %s", c.Upstream.Cooldown)
	}
	if c.Upstream.NoDataTimeout != 15*time.Second {
		t.Fatalf("no data timeout = %s", c.Upstream.NoDataTimeout)
	}
	if c.Redis.HistoryLen != 1000 {
		t.Fatalf("history len = %d", c.Redis.HistoryLen)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"kafka without brokers": "kafka:\n  enabled: true\n",
		"bad stock provider":    "upstream:\n  stock_provider: polygon\n",
		"bad category":          "instruments:\n  - symbol: FOO\n    category: bonds\n",
		"consumer without ch":   "kafka:\n  enabled: true\n  brokers: [localhost:9092]\n  consumer:\n    enabled: true\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestParseCategoryOverride(t *testing.T) {
	doc := `
otc:
  categories:
    forex:
      volatility: 0.0001
      tick_interval: 500ms
`
	c, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	fx := c.OTC.Categories["forex"]
	if fx.Volatility != 0.0001 || fx.TickInterval != 500*time.Millisecond {
		t.Fatalf("unexpected override %+v", fx)
	}
}

func TestApplyEnv(t *testing.T) {
	c, err := Parse([]byte("environment: test\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	env := map[string]string{
		"TWELVEDATA_API_KEY": "td-key",
		"REDIS_ADDR":         "redis:6380",
		"KAFKA_BROKERS":      "a:9092,b:9092",
		"SERVER_PORT":        "9090",
	}
	c.applyEnv(func(k string) string { return env[k] })

	if c.Upstream.TwelveData.APIKey != "td-key" {
		t.Fatalf("api key not applied")
	}
	if !c.Redis.Enabled || c.Redis.Host != "redis" || c.Redis.Port != 6380 {
		t.Fatalf("redis env not applied: %+v", c.Redis)
	}
	if !c.Kafka.Enabled || len(c.Kafka.Brokers) != 2 {
		t.Fatalf("kafka env not applied: %+v", c.Kafka.Brokers)
	}
	if c.Server.Port != 9090 {
		t.Fatalf("port = %d", c.Server.Port)
	}
}
