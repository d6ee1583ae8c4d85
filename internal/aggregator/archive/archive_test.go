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

package archive

import (
	"compress/gzip"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestObjectKeyFormat(t *testing.T) {
	ts := time.Date(2025, 9, 17, 10, 30, 0, 0, time.UTC)
	key := objectKey(ts)
	require.Equal(t, "logs-2025-09-17T10-30-00Z.json.gz", key)
}

func TestSanitizeForBucket(t *testing.T) {
	require.Equal(t, "10-0-0-1", sanitizeForBucket("10.0.0.1"))
	require.Equal(t, "fe80--1", sanitizeForBucket("fe80::1"))
}

func TestGzipCompressRoundTrip(t *testing.T) {
	payload := []byte(`[{"message":"hello"}]`)
	compressed, err := gzipCompress(payload)
	require.NoError(t, err)

	r, err := gzip.NewReader(strings.NewReader(string(compressed)))
	require.NoError(t, err)
	defer r.Close()

	decompressed, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, payload, decompressed)
}

func TestIsBucketAlreadyOwnedError(t *testing.T) {
	require.True(t, isBucketAlreadyOwnedError(errors.New("BucketAlreadyOwnedByYou: bucket exists")))
	require.True(t, isBucketAlreadyOwnedError(errors.New("BucketAlreadyExists")))
	require.False(t, isBucketAlreadyOwnedError(errors.New("access denied")))
}
