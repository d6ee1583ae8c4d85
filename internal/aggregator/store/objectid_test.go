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

package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestObjectIDFromHexRoundTrip(t *testing.T) {
	oid, err := objectIDFromHex("507f1f77bcf86cd799439011")
	require.NoError(t, err)
	require.Equal(t, "507f1f77bcf86cd799439011", oid.Hex())
}

func TestObjectIDFromHexRejectsMalformed(t *testing.T) {
	_, err := objectIDFromHex("not-a-valid-object-id")
	require.Error(t, err)
}
