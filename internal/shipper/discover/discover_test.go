// Copyright 2025 The OpSentra Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package discover

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opsentra/opsentra/internal/config"
	"github.com/opsentra/opsentra/internal/record"
)

func TestServiceNameForPath(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{"plain app log", "/var/log/app.log", "app"},
		{"nginx error log", "/var/log/nginx/error.log", "nginx"},
		{"postgres in basename", "/var/log/postgresql-main.log", "postgres"},
		{"no extension", "/var/log/worker", "worker"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ServiceNameForPath(tt.path))
		})
	}
}

func TestDiscoverGenericGlob(t *testing.T) {
	dir := t.TempDir()
	appLog := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(appLog, []byte("hello\n"), 0o644))

	cfg := &config.ShipperConfig{
		LogPaths: []string{filepath.Join(dir, "*.log")},
	}

	sources, errs := Discover(cfg)
	require.Empty(t, errs)
	require.Len(t, sources, 1)
	require.Equal(t, appLog, sources[0].Path)
	require.Equal(t, record.SourceTypeSystem, sources[0].SourceType)
	require.Equal(t, "app", sources[0].Service)
}

func TestDiscoverPodTree(t *testing.T) {
	dir := t.TempDir()
	podDir := filepath.Join(dir, "default", "my-pod-abc123")
	require.NoError(t, os.MkdirAll(podDir, 0o755))
	logPath := filepath.Join(podDir, "my-container.log")
	require.NoError(t, os.WriteFile(logPath, []byte("hello\n"), 0o644))

	cfg := &config.ShipperConfig{
		PodEnabled: true,
		PodLogsDir: dir,
	}

	sources, errs := Discover(cfg)
	require.Empty(t, errs)
	require.Len(t, sources, 1)

	s := sources[0]
	require.Equal(t, record.SourceTypePod, s.SourceType)
	require.Equal(t, "k8s-my-pod-abc123", s.Service)
	require.Equal(t, "default", s.AuxMetadata["namespace"])
	require.Equal(t, "my-pod-abc123", s.AuxMetadata["pod"])
	require.Equal(t, "my-container", s.AuxMetadata["container"])
}

func TestDiscoverContainerFriendlyName(t *testing.T) {
	dir := t.TempDir()
	containerID := "abcdef0123456789abcdef0123456789abcdef0123456789abcdef01234567"
	containerDir := filepath.Join(dir, containerID)
	require.NoError(t, os.MkdirAll(containerDir, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(containerDir, containerID+"-json.log"),
		[]byte(`{"log":"hello\n","stream":"stdout"}`+"\n"),
		0o644,
	))
	require.NoError(t, os.WriteFile(
		filepath.Join(containerDir, "config.v2.json"),
		[]byte(`{"Name":"/my-web-server","Config":{"Image":"nginx:1.25"}}`),
		0o644,
	))

	cfg := &config.ShipperConfig{
		ContainerEnabled: true,
		ContainerLogsDir: dir,
	}

	sources, errs := Discover(cfg)
	require.Empty(t, errs)
	require.Len(t, sources, 1)
	require.Equal(t, "my-web-server", sources[0].Service)
	require.Equal(t, record.SourceTypeContainer, sources[0].SourceType)
	require.Equal(t, containerID[:12], sources[0].AuxMetadata["containerId"])
}

func TestDiscoverContainerFallsBackToIDWhenConfigMissing(t *testing.T) {
	dir := t.TempDir()
	containerID := "0011223344556677889900112233445566778899001122334455667788990a"
	containerDir := filepath.Join(dir, containerID)
	require.NoError(t, os.MkdirAll(containerDir, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(containerDir, containerID+"-json.log"),
		[]byte(`{"log":"hello\n"}`+"\n"),
		0o644,
	))

	cfg := &config.ShipperConfig{
		ContainerEnabled: true,
		ContainerLogsDir: dir,
	}

	sources, errs := Discover(cfg)
	require.Empty(t, errs)
	require.Len(t, sources, 1)
	require.Equal(t, "container-"+containerID[:12], sources[0].Service)
}

func TestDiscoverCIJobID(t *testing.T) {
	dir := t.TempDir()
	jobDir := filepath.Join(dir, "jobs", "build-42", "logs")
	require.NoError(t, os.MkdirAll(jobDir, 0o755))
	logPath := filepath.Join(jobDir, "output.log")
	require.NoError(t, os.WriteFile(logPath, []byte("hello\n"), 0o644))

	cfg := &config.ShipperConfig{
		CIEnabled: true,
		CIRoots:   []string{dir},
	}

	sources, errs := Discover(cfg)
	require.Empty(t, errs)
	require.Len(t, sources, 1)
	require.Equal(t, "ci-build-42", sources[0].Service)
	require.Equal(t, "build-42", sources[0].AuxMetadata["job"])
}

func TestDiscoverMissingRootsAreNotErrors(t *testing.T) {
	cfg := &config.ShipperConfig{
		ContainerEnabled: true,
		ContainerLogsDir: "/nonexistent/container/root",
		PodEnabled:       true,
		PodLogsDir:       "/nonexistent/pod/root",
	}

	sources, errs := Discover(cfg)
	require.Empty(t, errs)
	require.Empty(t, sources)
}
