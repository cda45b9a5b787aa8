// Copyright (c) 2018-2022 Splunk Inc. All rights reserved.

//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// 	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package relation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/splunk/pgbouncer-operator/pkg/pgbouncer/common"
)

// Keys used by the versioned publish protocol. The version and checksum are
// written after the payload, so a crash between writes leaves the checksum
// stale and remote readers treat the whole set as not yet ready.
const (
	VersionedKeysKey     = "databag-keys"
	VersionedVersionKey  = "databag-version"
	VersionedChecksumKey = "databag-checksum"
)

// PublishVersioned writes a multi-key payload to a local scope such that
// readers can detect partial visibility. Payload keys are written first; the
// key list, a monotonic version and a checksum over the payload are written
// last. Re-publishing an identical payload does not bump the version.
func PublishVersioned(ctx context.Context, s Store, key Key, scope Scope, payload map[string]string) error {
	current, err := s.Read(ctx, key, scope)
	if err != nil {
		return err
	}

	sum := checksumPayload(payload)
	if current.Get(VersionedChecksumKey) == sum {
		// identical payload already published
		return nil
	}

	version := 1
	if v, convErr := strconv.Atoi(current.Get(VersionedVersionKey)); convErr == nil {
		version = v + 1
	}

	if err := s.Write(ctx, key, scope, payload); err != nil {
		return err
	}

	keys := sortedKeys(payload)
	meta := map[string]string{
		VersionedKeysKey:     strings.Join(keys, ","),
		VersionedVersionKey:  strconv.Itoa(version),
		VersionedChecksumKey: sum,
	}
	return s.Write(ctx, key, scope, meta)
}

// ReadVersioned returns the payload previously written with PublishVersioned,
// along with its version. A torn or missing payload yields ErrNotReady.
func ReadVersioned(ctx context.Context, s Store, key Key, scope Scope) (map[string]string, int, error) {
	bucket, err := s.Read(ctx, key, scope)
	if err != nil {
		return nil, 0, err
	}

	keysValue := bucket.Get(VersionedKeysKey)
	if keysValue == "" {
		return nil, 0, errors.Wrapf(common.ErrNotReady, "no versioned payload in %s/%s", key, scope)
	}

	payload := map[string]string{}
	for _, k := range strings.Split(keysValue, ",") {
		v, ok := bucket[k]
		if !ok {
			return nil, 0, errors.Wrapf(common.ErrNotReady, "versioned payload key %q missing in %s/%s", k, key, scope)
		}
		payload[k] = v
	}

	if checksumPayload(payload) != bucket.Get(VersionedChecksumKey) {
		return nil, 0, errors.Wrapf(common.ErrNotReady, "versioned payload checksum mismatch in %s/%s", key, scope)
	}

	version, convErr := strconv.Atoi(bucket.Get(VersionedVersionKey))
	if convErr != nil {
		return nil, 0, errors.Wrapf(common.ErrInvalid, "bad version %q in %s/%s", bucket.Get(VersionedVersionKey), key, scope)
	}

	return payload, version, nil
}

func checksumPayload(payload map[string]string) string {
	h := sha256.New()
	for _, k := range sortedKeys(payload) {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(payload[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
