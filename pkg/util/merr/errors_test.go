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
	"context"
	"net/http"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/suite"
)

type ErrSuite struct {
	suite.Suite
}

func (s *ErrSuite) TestCode() {
	err := WrapErrSessionNotFound("12345")
	errors.Wrap(err, "failed to join party")
	s.ErrorIs(err, ErrSessionNotFound)
	s.Equal(Code(ErrSessionNotFound), Code(err))
	s.Equal(TimeoutCode, Code(context.DeadlineExceeded))
	s.Equal(CanceledCode, Code(context.Canceled))
	s.Equal(errUnexpected.errCode, Code(errUnexpected))
	s.Equal(int32(0), Code(nil))

	sameCodeErr := newGardenError("new error", ErrSessionNotFound.errCode, false)
	s.True(sameCodeErr.Is(ErrSessionNotFound))
}

func (s *ErrSuite) TestWrap() {
	// Session 相关错误。
	s.ErrorIs(WrapErrSessionNotFound("ABC123", "join"), ErrSessionNotFound)

	// Participant 相关错误。
	s.ErrorIs(WrapErrMemberNotFound("12345", "char-1"), ErrMemberNotFound)
	s.ErrorIs(WrapErrPlayerNotFound("ABC123", "user-1", "move"), ErrPlayerNotFound)

	// Game 实体相关错误。
	s.ErrorIs(WrapErrEnemyNotFound("ABC123", "enemy-1"), ErrEnemyNotFound)
	s.ErrorIs(WrapErrTerrainNotFound("ABC123", "terrain-1"), ErrTerrainNotFound)

	// 消息校验相关错误。
	s.ErrorIs(WrapErrBadMessage(errors.New("unexpected EOF")), ErrBadMessage)
	s.ErrorIs(WrapErrMissingField("partyCode", "characterData"), ErrMissingField)
	s.ErrorIs(WrapErrUnknownKind("game_destroy"), ErrUnknownKind)

	// 权限相关错误。
	s.ErrorIs(WrapErrNotController("ABC123", "user-2"), ErrNotController)

	// Store 相关错误。
	s.ErrorIs(WrapErrStoreUnavailable(errors.New("connection refused")), ErrStoreUnavailable)
	s.ErrorIs(WrapErrStoreCorrupted("party:12345", errors.New("bad json")), ErrStoreCorrupted)
	s.ErrorIs(WrapErrKeyNotFound("party:12345"), ErrKeyNotFound)
	s.ErrorIs(WrapErrStoreConflict("game:ABC123", 1, 2), ErrStoreConflict)

	// Identity 相关错误。
	s.ErrorIs(WrapErrUserNotFound("user-1"), ErrUserNotFound)
	s.ErrorIs(WrapErrCharacterNotFound("char-1"), ErrCharacterNotFound)
}

func (s *ErrSuite) TestRetryable() {
	s.False(IsRetryableErr(ErrSessionNotFound))
	s.False(IsRetryableErr(ErrNotController))
	s.True(IsRetryableErr(ErrStoreUnavailable))
	s.True(IsRetryableErr(WrapErrStoreUnavailable(errors.New("i/o timeout"), "put party")))
	s.False(IsRetryableErr(errors.New("not a garden error")))
}

func (s *ErrSuite) TestHTTPStatus() {
	s.Equal(http.StatusOK, HTTPStatus(nil))
	s.Equal(http.StatusBadRequest, HTTPStatus(WrapErrMissingField("gameCode")))
	s.Equal(http.StatusBadRequest, HTTPStatus(ErrBadMessage))
	s.Equal(http.StatusForbidden, HTTPStatus(WrapErrNotController("ABC123", "user-2")))
	s.Equal(http.StatusNotFound, HTTPStatus(WrapErrSessionNotFound("00000")))
	s.Equal(http.StatusNotFound, HTTPStatus(WrapErrCharacterNotFound("char-9")))
	s.Equal(http.StatusInternalServerError, HTTPStatus(ErrStoreUnavailable))
	s.Equal(http.StatusInternalServerError, HTTPStatus(errors.New("boom")))
}

func (s *ErrSuite) TestCombine() {
	var (
		errFirst  = errors.New("first")
		errSecond = errors.New("second")
		errThird  = errors.New("third")
	)

	err := Combine(errFirst, errSecond)
	s.True(errors.Is(err, errFirst))
	s.True(errors.Is(err, errSecond))
	s.False(errors.Is(err, errThird))

	s.Equal("first: second", err.Error())

	s.NoError(Combine(nil, nil))
	s.Error(Combine(nil, errFirst))
}

func (s *ErrSuite) TestIsCanceledOrTimeout() {
	s.True(IsCanceledOrTimeout(context.Canceled))
	s.True(IsCanceledOrTimeout(context.DeadlineExceeded))
	s.False(IsCanceledOrTimeout(ErrStoreUnavailable))
}

func TestErrors(t *testing.T) {
	suite.Run(t, new(ErrSuite))
}
