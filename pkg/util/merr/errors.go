// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package merr

import (
	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

const (
	CanceledCode int32 = 10000
	TimeoutCode  int32 = 10001
)

// Define leaf errors here,
// WARN: take care to add new error,
// check whether you can use the errors below before adding a new one.
// Name: Err + related prefix + error name
var (
	// Session related
	ErrSessionNotFound = newGardenError("session not found", 100, false)
	ErrSessionExpired  = newGardenError("session expired", 101, false)

	// Participant related
	ErrMemberNotFound = newGardenError("party member not found", 200, false)
	ErrPlayerNotFound = newGardenError("player not found", 201, false)

	// Game entity related
	ErrEnemyNotFound   = newGardenError("enemy not found", 300, false)
	ErrTerrainNotFound = newGardenError("terrain not found", 301, false)

	// Message validation related (rejected before touching the store)
	ErrBadMessage   = newGardenError("malformed message", 400, false)
	ErrMissingField = newGardenError("missing required field", 401, false)
	ErrUnknownKind  = newGardenError("unknown message kind", 402, false)

	// Privilege related
	ErrNotController = newGardenError("caller is not the dungeon master", 500, false)

	// Store related
	ErrStoreUnavailable = newGardenError("store unavailable", 600, true)
	ErrStoreCorrupted   = newGardenError("stored document corrupted", 601, false)
	ErrKeyNotFound      = newGardenError("key not found", 602, false)
	ErrStoreConflict    = newGardenError("concurrent write conflict", 603, true)

	// Identity ledger related
	ErrUserNotFound      = newGardenError("user not found", 700, false)
	ErrCharacterNotFound = newGardenError("character not found", 701, false)

	// Do NOT export this,
	// never allow programmer using this, keep only for converting unknown error to gardenError
	errUnexpected = newGardenError("unexpected error", (1<<16)-1, false)
)

type gardenError struct {
	msg       string
	detail    string
	retriable bool
	errCode   int32
}

func newGardenError(msg string, code int32, retriable bool) gardenError {
	return gardenError{
		msg:       msg,
		detail:    msg,
		retriable: retriable,
		errCode:   code,
	}
}

func (e gardenError) code() int32 {
	return e.errCode
}

func (e gardenError) Error() string {
	return e.msg
}

func (e gardenError) Detail() string {
	return e.detail
}

func (e gardenError) Is(err error) bool {
	cause := errors.Cause(err)
	if cause, ok := cause.(gardenError); ok {
		return e.errCode == cause.errCode
	}
	return false
}

type multiErrors struct {
	errs []error
}

func (e multiErrors) Unwrap() error {
	if len(e.errs) <= 1 {
		return nil
	}
	// To make merr work for multi errors,
	// we need cause of multi errors, which defined as the last error
	if len(e.errs) == 2 {
		return e.errs[1]
	}

	return multiErrors{
		errs: e.errs[1:],
	}
}

func (e multiErrors) Error() string {
	final := e.errs[0]
	for i := 1; i < len(e.errs); i++ {
		final = errors.Wrap(e.errs[i], final.Error())
	}
	return final.Error()
}

func (e multiErrors) Is(err error) bool {
	for _, item := range e.errs {
		if errors.Is(item, err) {
			return true
		}
	}
	return false
}

func Combine(errs ...error) error {
	errs = lo.Filter(errs, func(err error, _ int) bool { return err != nil })
	if len(errs) == 0 {
		return nil
	}
	return multiErrors{
		errs,
	}
}
