package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestPostgresPoolConfig(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		max     int32
		min     int32
		wantMax int32
		wantMin int32
		wantApp string
	}{
		{
			name: "limits applied", url: "postgres://relay@localhost:5432/relay",
			max: 12, min: 2, wantMax: 12, wantMin: 2, wantApp: "relay",
		},
		{
			name: "min clamped to max", url: "postgres://relay@localhost:5432/relay",
			max: 4, min: 9, wantMax: 4, wantMin: 4, wantApp: "relay",
		},
		{
			name: "explicit application name kept", url: "postgres://relay@localhost:5432/relay?application_name=edge",
			max: 5, wantMax: 5, wantApp: "edge",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pcfg, err := postgresPoolConfig(Config{DatabaseURL: tt.url, DBMaxConns: tt.max, DBMinConns: tt.min})
			if err != nil {
				t.Fatalf("postgresPoolConfig: %v", err)
			}
			if pcfg.MaxConns != tt.wantMax || pcfg.MinConns != tt.wantMin {
				t.Fatalf("conns = (%d,%d), want (%d,%d)", pcfg.MaxConns, pcfg.MinConns, tt.wantMax, tt.wantMin)
			}
			if got := pcfg.ConnConfig.RuntimeParams["application_name"]; got != tt.wantApp {
				t.Fatalf("application_name = %q, want %q", got, tt.wantApp)
			}
		})
	}

	if _, err := postgresPoolConfig(Config{DatabaseURL: "postgres://%zz"}); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestOpenStore_MemoryAndSQLite(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	mem, err := OpenStore(context.Background(), Config{Store: StoreMemory}, log)
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if mem.Durable() {
		t.Fatalf("memory store reported durable")
	}
	_ = mem.Close()

	lite, err := OpenStore(context.Background(), Config{Store: StoreSQLite, SQLitePath: t.TempDir() + "/relay.db"}, log)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer func() { _ = lite.Close() }()
	if !lite.Durable() || lite.Backend != StoreSQLite {
		t.Fatalf("unexpected handle: backend=%q durable=%v", lite.Backend, lite.Durable())
	}
	if err := lite.Ping(context.Background(), time.Second); err != nil {
		t.Fatalf("ping sqlite: %v", err)
	}
}
