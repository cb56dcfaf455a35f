// Copyright (c) 2022 The reqagent Authors
//
// Licensed under the Apache License, Version 2.0 (the "License"): you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations
// under the License.

package agent

import (
	"fmt"

	perrors "github.com/pkg/errors"
)

// Kind classifies why a transfer or an agent operation failed, matching the
// error taxonomy in the design: construction, submission, transfer,
// aborted, and internal errors.
type Kind int

const (
	// KindConstruction covers engine init, poller init, or thread/goroutine
	// spawn failures, surfaced synchronously from New.
	KindConstruction Kind = iota

	// KindSubmission covers SubmitRequest being called after the agent has
	// already exited.
	KindSubmission

	// KindTransfer covers an engine-reported error for one transfer (DNS,
	// TLS, connection, protocol).
	KindTransfer

	// KindAborted covers user abort, a dropped ResponseFuture, or agent
	// shutdown — all delivered identically to KindTransfer errors.
	KindAborted

	// KindInternal classifies poller/slab invariant violations. Nothing in
	// this package constructs it: the agent loop logs such faults and keeps
	// running, and Handle.Close always returns nil.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindConstruction:
		return "construction"
	case KindSubmission:
		return "submission"
	case KindTransfer:
		return "transfer"
	case KindAborted:
		return "aborted"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the error type returned across the agent's public surface. It
// carries a Kind so callers can branch on category with errors.As, and
// wraps an optional underlying cause.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// wrapError attaches msg as context to cause via github.com/pkg/errors,
// matching core/engine.go's use of perrors.Wrapf at construction-error
// sites, and tags the result with kind for errors.As dispatch.
func wrapError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: perrors.Wrap(cause, msg)}
}

// ErrAborted is returned by a ResponseFuture or Body read when the transfer
// was aborted by the caller, by dropping the future, or by agent shutdown.
var ErrAborted = newError(KindAborted, "request aborted")
