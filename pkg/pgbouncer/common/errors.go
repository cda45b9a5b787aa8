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

package common

import (
	"github.com/pkg/errors"
)

// Relation-derived failures are classified so the reconcile loop can convert them
// into a unit status instead of crashing. Remote databag contents are untrusted
// input and must never take the agent down.
var (
	// ErrNotReady indicates a dependency relation lacks required data. Not an
	// error condition; it drives the Waiting state.
	ErrNotReady = errors.New("relation data not ready")

	// ErrInvalid indicates relation data is present but malformed. Logged and
	// then treated the same as ErrNotReady to avoid crash loops on transient
	// bad data.
	ErrInvalid = errors.New("relation data invalid")

	// ErrApplyFailure indicates the config write or pooler reload failed. Drives
	// the Errored state; retried on the next event.
	ErrApplyFailure = errors.New("failed to apply pooler configuration")

	// ErrFatal indicates an irrecoverable local resource failure requiring
	// operator intervention.
	ErrFatal = errors.New("fatal local resource failure")
)

// IsNotReady returns true if err is, or wraps, ErrNotReady or ErrInvalid.
// Invalid data is deliberately folded into "not yet ready".
func IsNotReady(err error) bool {
	return errors.Is(err, ErrNotReady) || errors.Is(err, ErrInvalid)
}

// IsApplyFailure returns true if err is, or wraps, ErrApplyFailure.
func IsApplyFailure(err error) bool {
	return errors.Is(err, ErrApplyFailure)
}

// IsFatal returns true if err is, or wraps, ErrFatal.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}
