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

// Package discover enumerates and classifies log sources from
// filesystem roots (spec.md §4.1). Discovery runs once at startup;
// a failure enumerating one source type never aborts the others.
package discover

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/opsentra/opsentra/internal/config"
	"github.com/opsentra/opsentra/internal/record"
)

// Source is the ephemeral, Shipper-side descriptor created by the
// Discoverer and consumed by exactly one Tailer (spec.md §3).
type Source struct {
	Path        string
	SourceType  record.SourceType
	Service     string
	AuxMetadata map[string]string
}

// podLogFileRegex matches container log files under a pod log tree:
// <root>/<namespace>/<pod>/<container>.log.
var podLogFileRegex = regexp.MustCompile(`\.log$`)

// wellKnownServices maps a substring found in a generic file's
// basename to its canonical service name (spec.md §4.1).
var wellKnownServices = []string{"nginx", "apache", "mysql", "postgres", "redis", "mongo"}

var logExtensions = []string{".log", ".txt", ".out"}

// Discover enumerates every configured source type and returns the
// flat union of discovered sources. Each source type's errors are
// collected and returned alongside the sources rather than aborting
// discovery of the remaining types.
func Discover(cfg *config.ShipperConfig) ([]Source, []error) {
	var sources []Source
	var errs []error

	generic, gerrs := discoverGeneric(cfg.LogPaths, cfg.CustomPaths)
	sources = append(sources, generic...)
	errs = append(errs, gerrs...)

	if cfg.ContainerEnabled {
		containers, cerrs := discoverContainers(cfg.ContainerLogsDir)
		sources = append(sources, containers...)
		errs = append(errs, cerrs...)
	}

	if cfg.PodEnabled {
		pods, perrs := discoverPods(cfg.PodLogsDir)
		sources = append(sources, pods...)
		errs = append(errs, perrs...)
	}

	if cfg.CIEnabled {
		ci, cierrs := discoverCI(cfg.CIRoots)
		sources = append(sources, ci...)
		errs = append(errs, cierrs...)
	}

	return sources, errs
}

// discoverGeneric expands glob patterns (logPaths) and custom literal
// paths into system-type sources, skipping paths unreadable by the
// current identity.
func discoverGeneric(globs []string, customPaths []string) ([]Source, []error) {
	var sources []Source
	var errs []error

	seen := make(map[string]bool)
	add := func(path string) {
		if seen[path] {
			return
		}
		if !readable(path) {
			return
		}
		seen[path] = true
		sources = append(sources, Source{
			Path:        path,
			SourceType:  record.SourceTypeSystem,
			Service:     ServiceNameForPath(path),
			AuxMetadata: map[string]string{},
		})
	}

	for _, pattern := range globs {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			errs = append(errs, fmt.Errorf("discover: glob %q: %w", pattern, err))
			continue
		}
		for _, m := range matches {
			add(m)
		}
	}

	for _, p := range customPaths {
		add(p)
	}

	return sources, errs
}

// containerConfigCandidates lists the filenames a container runtime
// may place alongside a container's log file carrying its friendly
// name, checked in order.
var containerConfigCandidates = []string{"config.v2.json", "config.json"}

type containerConfigDoc struct {
	Name   string `json:"Name"`
	Config struct {
		Image string `json:"Image"`
	} `json:"Config"`
}

// discoverContainers enumerates the container runtime's per-container
// log directories, deriving a friendly service name from an adjacent
// container-config document when present.
func discoverContainers(root string) ([]Source, []error) {
	var sources []Source
	var errs []error

	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return sources, errs
		}
		return sources, []error{fmt.Errorf("discover: read container root %q: %w", root, err)}
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		containerID := entry.Name()
		containerDir := filepath.Join(root, containerID)

		logPath, err := findContainerLogFile(containerDir, containerID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if logPath == "" {
			continue
		}

		name := friendlyContainerName(containerDir, containerID)

		sources = append(sources, Source{
			Path:       logPath,
			SourceType: record.SourceTypeContainer,
			Service:    name,
			AuxMetadata: map[string]string{
				"containerId": shortID(containerID),
			},
		})
	}

	return sources, errs
}

func findContainerLogFile(containerDir, containerID string) (string, error) {
	candidate := filepath.Join(containerDir, containerID+"-json.log")
	if readable(candidate) {
		return candidate, nil
	}

	entries, err := os.ReadDir(containerDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("discover: read container dir %q: %w", containerDir, err)
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".log") {
			p := filepath.Join(containerDir, e.Name())
			if readable(p) {
				return p, nil
			}
		}
	}
	return "", nil
}

func friendlyContainerName(containerDir, containerID string) string {
	for _, candidate := range containerConfigCandidates {
		b, err := os.ReadFile(filepath.Join(containerDir, candidate))
		if err != nil {
			continue
		}
		var doc containerConfigDoc
		if err := json.Unmarshal(b, &doc); err != nil {
			continue
		}
		if doc.Name != "" {
			return strings.TrimPrefix(doc.Name, "/")
		}
		if doc.Config.Image != "" {
			return imageBaseName(doc.Config.Image)
		}
	}
	return "container-" + shortID(containerID)
}

func imageBaseName(image string) string {
	// strip registry/repo path and tag/digest
	name := image
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	if idx := strings.IndexAny(name, ":@"); idx >= 0 {
		name = name[:idx]
	}
	return name
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// discoverPods walks the pod log tree <root>/<namespace>/<pod>/<container>.log
// (spec.md §4.1).
func discoverPods(root string) ([]Source, []error) {
	var sources []Source
	var errs []error

	namespaces, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return sources, errs
		}
		return sources, []error{fmt.Errorf("discover: read pod root %q: %w", root, err)}
	}

	for _, nsEntry := range namespaces {
		if !nsEntry.IsDir() {
			continue
		}
		namespace := nsEntry.Name()
		nsDir := filepath.Join(root, namespace)

		pods, err := os.ReadDir(nsDir)
		if err != nil {
			errs = append(errs, fmt.Errorf("discover: read namespace dir %q: %w", nsDir, err))
			continue
		}

		for _, podEntry := range pods {
			if !podEntry.IsDir() {
				continue
			}
			pod := podEntry.Name()
			podDir := filepath.Join(nsDir, pod)

			containers, err := os.ReadDir(podDir)
			if err != nil {
				errs = append(errs, fmt.Errorf("discover: read pod dir %q: %w", podDir, err))
				continue
			}

			for _, c := range containers {
				if c.IsDir() || !podLogFileRegex.MatchString(c.Name()) {
					continue
				}
				container := strings.TrimSuffix(c.Name(), ".log")
				path := filepath.Join(podDir, c.Name())
				if !readable(path) {
					continue
				}
				sources = append(sources, Source{
					Path:       path,
					SourceType: record.SourceTypePod,
					Service:    "k8s-" + pod,
					AuxMetadata: map[string]string{
						"namespace": namespace,
						"pod":       pod,
						"container": container,
					},
				})
			}
		}
	}

	return sources, errs
}

// discoverCI walks each configured CI root for files matching
// **/*.log, deriving a job identifier from the path segment
// following "jobs/".
func discoverCI(roots []string) ([]Source, []error) {
	var sources []Source
	var errs []error

	for _, root := range roots {
		err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if info.IsDir() || !strings.HasSuffix(path, ".log") {
				return nil
			}
			if !readable(path) {
				return nil
			}
			job := jobIDFromPath(path)
			sources = append(sources, Source{
				Path:       path,
				SourceType: record.SourceTypeCI,
				Service:    "ci-" + job,
				AuxMetadata: map[string]string{
					"job": job,
				},
			})
			return nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("discover: walk CI root %q: %w", root, err))
		}
	}

	return sources, errs
}

func jobIDFromPath(path string) string {
	segments := strings.Split(filepath.ToSlash(path), "/")
	for i, seg := range segments {
		if seg == "jobs" && i+1 < len(segments) {
			return segments[i+1]
		}
	}
	return filepath.Base(filepath.Dir(path))
}

// ServiceNameForPath derives a generic file's service name: the last
// path segment with known log extensions stripped, mapped to a
// well-known canonical name when the basename contains one, or failing
// that when the parent directory's name does (so
// /var/log/nginx/error.log yields "nginx") (spec.md §4.1).
func ServiceNameForPath(path string) string {
	base := filepath.Base(path)
	for _, ext := range logExtensions {
		base = strings.TrimSuffix(base, ext)
	}
	lower := strings.ToLower(base)
	for _, known := range wellKnownServices {
		if strings.Contains(lower, known) {
			return known
		}
	}
	parent := strings.ToLower(filepath.Base(filepath.Dir(path)))
	for _, known := range wellKnownServices {
		if strings.Contains(parent, known) {
			return known
		}
	}
	return base
}

func readable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}
