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

// Package netidentity resolves the process-wide host/IP identity
// shared by the Shipper (record attribution, spec.md §4.3) and the
// Aggregator (the archival bucket's "capture IP", spec.md §4.8/§6).
package netidentity

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// metadataURL is the IMDSv1 endpoint queried for this host's
// network-reachable IP (spec.md §4.3: "cloud-metadata HTTP GET with a
// 2s hard deadline"). No token/session handshake is attempted; a
// failure of any kind falls back to the host name.
const metadataURL = "http://169.254.169.254/latest/meta-data/local-ipv4"

const metadataTimeout = 2 * time.Second

// Identity resolves and caches this process's host name and
// best-effort network identity (spec.md §3, §4.3).
type Identity struct {
	httpClient *http.Client

	hostOnce sync.Once
	host     string

	ipOnce sync.Once
	ip     string
}

// New builds an Identity resolver.
func New() *Identity {
	return &Identity{
		httpClient: &http.Client{Timeout: metadataTimeout},
	}
}

// Host returns the capture host's stable name.
func (id *Identity) Host() string {
	id.hostOnce.Do(func() {
		h, err := os.Hostname()
		if err != nil || h == "" {
			h = "unknown-host"
		}
		id.host = h
	})
	return id.host
}

// IP returns the best-effort network identity: the cloud-metadata IP
// if reachable within the hard deadline, else the host name. Resolved
// once and cached for the process lifetime.
func (id *Identity) IP() string {
	id.ipOnce.Do(func() {
		ip, err := id.fetchMetadataIP()
		if err != nil || ip == "" {
			id.ip = id.Host()
			return
		}
		id.ip = ip
	})
	return id.ip
}

func (id *Identity) fetchMetadataIP() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), metadataTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := id.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(body)), nil
}
