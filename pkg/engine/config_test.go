package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/poltergeist/dockerstage/pkg/engine"
	"github.com/poltergeist/dockerstage/pkg/types"
)

func envMap(m map[string]string) func(string) string {
	return func(key string) string { return m[key] }
}

func TestResolveConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  types.EngineConfig
		env  map[string]string
		want types.EngineConfig
	}{
		{
			name: "defaults",
			want: types.EngineConfig{Host: types.DefaultEngineHost},
		},
		{
			name: "environment fills gaps",
			env: map[string]string{
				engine.EnvHost:       "tcp://10.0.0.5:2376",
				engine.EnvTLSVerify:  "1",
				engine.EnvCertPath:   "/certs",
				engine.EnvAPIVersion: "1.43",
			},
			want: types.EngineConfig{
				Host:       "tcp://10.0.0.5:2376",
				TLSVerify:  true,
				CertPath:   "/certs",
				APIVersion: "1.43",
			},
		},
		{
			name: "explicit config wins",
			cfg:  types.EngineConfig{Host: "unix:///run/podman.sock", APIVersion: "1.41"},
			env: map[string]string{
				engine.EnvHost:       "tcp://10.0.0.5:2376",
				engine.EnvAPIVersion: "1.43",
			},
			want: types.EngineConfig{Host: "unix:///run/podman.sock", APIVersion: "1.41"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := engine.ResolveConfig(tt.cfg, envMap(tt.env))
			if got != tt.want {
				t.Errorf("ResolveConfig() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestResolveConfig_TLSDefaultsCertPath(t *testing.T) {
	t.Setenv("HOME", "/home/builder")

	got := engine.ResolveConfig(types.EngineConfig{TLSVerify: true}, envMap(nil))
	if got.CertPath != "/home/builder/.docker" {
		t.Errorf("expected cert path under home, got %q", got.CertPath)
	}
}

func TestDockerFactory_InvalidHost(t *testing.T) {
	f := engine.DockerFactory{Getenv: envMap(nil)}
	_, err := f.Open(context.Background(), types.EngineConfig{Host: "not a url"})
	if err == nil {
		t.Fatal("expected error for invalid host")
	}

	var connErr *engine.ConnectError
	if !errors.As(err, &connErr) || connErr.Host != "not a url" {
		t.Errorf("expected ConnectError for host, got %v", err)
	}
}

func TestDockerFactory_Open(t *testing.T) {
	f := engine.DockerFactory{Getenv: envMap(nil)}
	e, err := f.Open(context.Background(), types.EngineConfig{Host: "tcp://127.0.0.1:2375"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer e.Close()

	de, ok := e.(*engine.DockerEngine)
	if !ok {
		t.Fatalf("expected *DockerEngine, got %T", e)
	}
	if de.Host() != "tcp://127.0.0.1:2375" {
		t.Errorf("unexpected host %s", de.Host())
	}
}
