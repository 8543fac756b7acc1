package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/drnhhl/terragon/service"
	"github.com/google/go-cmp/cmp"
)

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Errorf("default config (-want +got):\n%s", diff)
	}

	dir := t.TempDir()
	file := filepath.Join(dir, "terragon.toml")
	content := `
provider = "order"
fallbacks = ["stac"]
vsi = ["gs://"]

[options]
items = "items.json"
token = "secret"

[options.s3]
region = "eu-west-1"
requester_pays = true

[vsi_config]
block_size = "1Mb"

[server]
addr = ":9000"
`
	if err := os.WriteFile(file, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadConfig(file)
	if err != nil {
		t.Fatal(err)
	}
	want := DefaultConfig()
	want.Provider = "order"
	want.Fallbacks = []string{"stac"}
	want.VSI = []string{"gs://"}
	want.Options.Items = "items.json"
	want.Options.Token = "secret"
	want.Options.S3.Region = "eu-west-1"
	want.Options.S3.RequesterPays = true
	want.VSIConfig.BlockSize = "1Mb"
	want.Server.Addr = ":9000"
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config (-want +got):\n%s", diff)
	}

	if err := os.WriteFile(file, []byte("unknown_key = 1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err = LoadConfig(file)
	var errConf service.ErrConfiguration
	if !errors.As(err, &errConf) || errConf.Param != "config" {
		t.Errorf("expected a configuration error, got %v", err)
	}

	if _, err := LoadConfig(filepath.Join(dir, "missing.toml")); err == nil {
		t.Error("expected an error on a missing file")
	}
}

func TestOverrideConfig(t *testing.T) {
	a := &app{}
	cmd := newRootCommand()
	a.config = DefaultConfig()
	a.providerName = "local"
	a.path = "/data"
	if err := cmd.ParseFlags([]string{"--vsi", "s3://"}); err != nil {
		t.Fatal(err)
	}
	a.overrideConfig(cmd)
	if a.config.Provider != "local" || a.config.Options.Path != "/data" {
		t.Errorf("flags not applied: %+v", a.config)
	}
	if diff := cmp.Diff([]string{"s3://"}, a.config.VSI); diff != "" {
		t.Errorf("vsi (-want +got):\n%s", diff)
	}
}
