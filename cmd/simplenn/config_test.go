package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/urfave/cli/v3"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadConfig(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("missing config: %v", err)
	}
	if cfg != (Config{}) {
		t.Fatalf("expected zero config, got %+v", cfg)
	}

	path := filepath.Join(dir, "config.yaml")
	content := "engine: reference\nkernel: scalar\nuse_signed_pd: true\nlog_format: json\nserver_address: 0.0.0.0:9000\nmodels_dir: /srv/models\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Engine != "reference" || cfg.Kernel != "scalar" || cfg.UseSignedPD == nil || !*cfg.UseSignedPD {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.ServerAddress != "0.0.0.0:9000" || cfg.ModelsDir != "/srv/models" || cfg.LogFormat != "json" {
		t.Fatalf("unexpected config %+v", cfg)
	}

	if err := os.WriteFile(path, []byte("engine: [unclosed\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestApplyServeConfigRespectsFlags(t *testing.T) {
	on := true
	cfg := Config{Engine: "reference", Kernel: "scalar", UseSignedPD: &on, ServerAddress: "0.0.0.0:9000"}

	var addr string
	cmd := &cli.Command{
		Name:  "serve",
		Flags: append(append(commonModelFlags(), accelFlags()...), &cli.StringFlag{Name: "addr", Value: "127.0.0.1:8080", Destination: &addr}),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyServeConfig(cmd, cfg, &addr)
			return nil
		},
	}
	if err := cmd.Run(context.Background(), []string{"serve", "--engine", "cpu"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if engine != "cpu" {
		t.Fatalf("explicit --engine was overridden: %q", engine)
	}
	if kernel != "scalar" || !useSignedPD || addr != "0.0.0.0:9000" {
		t.Fatalf("config defaults not applied: kernel=%q signed=%v addr=%q", kernel, useSignedPD, addr)
	}
}
