package clickhouse

import (
	"strings"
	"testing"
	"time"
)

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{
			name: "native with async insert",
			cfg: ClientConfig{
				Host: "ch", Port: 9000, Database: "otcfeed", User: "default",
				DialTimeout: 5 * time.Second, AsyncInsert: true,
			},
			want: "clickhouse://default:@ch:9000/otcfeed?async_insert=1&dial_timeout=5s",
		},
		{
			name: "http with password",
			cfg: ClientConfig{
				Host: "ch", Port: 8123, Database: "otcfeed", User: "feed", Password: "s3cret",
				UseHTTP: true,
			},
			want: "http://feed:s3cret@ch:8123/otcfeed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildDSN(tt.cfg); got != tt.want {
				t.Fatalf("dsn = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestTickSchemaTargetsDatabase(t *testing.T) {
	stmts := TickSchema("archive")
	if len(stmts) != 2 {
		t.Fatalf("statements = %d, want 2", len(stmts))
	}
	if !strings.Contains(stmts[1], "archive.ticks") {
		t.Fatalf("table statement does not target database: %s", stmts[1])
	}
}

func TestNewClientRequiresHost(t *testing.T) {
	if _, err := NewClient(); err == nil {
		t.Fatal("expected error without host")
	}
}
