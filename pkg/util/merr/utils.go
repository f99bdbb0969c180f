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
	"fmt"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
)

// Code 返回给定错误对应的错误码。
func Code(err error) int32 {
	if err == nil {
		return 0
	}

	cause := errors.Cause(err)
	switch specificErr := cause.(type) {
	case gardenError:
		return specificErr.code()

	default:
		if errors.Is(specificErr, context.Canceled) {
			return CanceledCode
		} else if errors.Is(specificErr, context.DeadlineExceeded) {
			return TimeoutCode
		} else {
			return errUnexpected.code()
		}
	}
}

func IsRetryableErr(err error) bool {
	if err, ok := errors.Cause(err).(gardenError); ok {
		return err.retriable
	}

	return false
}

func IsCanceledOrTimeout(err error) bool {
	return errors.IsAny(err, context.Canceled, context.DeadlineExceeded)
}

// HTTPStatus 将错误映射为备用请求通道使用的 HTTP 状态码。
//
// 映射规则：
//   - 校验类 / 协议类错误  -> 400
//   - 控制者权限错误       -> 403
//   - 各类 not found      -> 404
//   - 存储类错误与其余错误 -> 500
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch {
	case errors.IsAny(err, ErrBadMessage, ErrMissingField, ErrUnknownKind):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotController):
		return http.StatusForbidden
	case errors.IsAny(err,
		ErrSessionNotFound, ErrMemberNotFound, ErrPlayerNotFound,
		ErrEnemyNotFound, ErrTerrainNotFound, ErrKeyNotFound,
		ErrUserNotFound, ErrCharacterNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Session 相关错误封装。
func WrapErrSessionNotFound(code string, msg ...string) error {
	err := wrapFields(ErrSessionNotFound, value("code", code))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// Participant 相关错误封装。
func WrapErrMemberNotFound(partyCode, characterID string, msg ...string) error {
	err := wrapFields(ErrMemberNotFound,
		value("party", partyCode),
		value("character", characterID),
	)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrPlayerNotFound(gameCode, playerID string, msg ...string) error {
	err := wrapFields(ErrPlayerNotFound,
		value("game", gameCode),
		value("player", playerID),
	)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// Game 实体相关错误封装。
func WrapErrEnemyNotFound(gameCode, enemyID string) error {
	return wrapFields(ErrEnemyNotFound,
		value("game", gameCode),
		value("enemy", enemyID),
	)
}

func WrapErrTerrainNotFound(gameCode, terrainID string) error {
	return wrapFields(ErrTerrainNotFound,
		value("game", gameCode),
		value("terrain", terrainID),
	)
}

// 消息校验相关错误封装。
func WrapErrBadMessage(err error) error {
	return errors.Wrap(ErrBadMessage, err.Error())
}

func WrapErrMissingField(fields ...string) error {
	return wrapFieldsWithDesc(ErrMissingField, strings.Join(fields, ", "))
}

func WrapErrUnknownKind(kind string) error {
	return wrapFields(ErrUnknownKind, value("kind", kind))
}

// 权限相关错误封装。
func WrapErrNotController(gameCode, userID string) error {
	return wrapFields(ErrNotController,
		value("game", gameCode),
		value("user", userID),
	)
}

// Store 相关错误封装。
func WrapErrStoreUnavailable(err error, msg ...string) error {
	werr := wrapFieldsWithDesc(ErrStoreUnavailable, err.Error())
	if len(msg) > 0 {
		werr = errors.Wrap(werr, strings.Join(msg, "->"))
	}
	return werr
}

func WrapErrStoreCorrupted(key string, err error) error {
	return wrapFieldsWithDesc(ErrStoreCorrupted, err.Error(), value("key", key))
}

func WrapErrKeyNotFound(key string) error {
	return wrapFields(ErrKeyNotFound, value("key", key))
}

func WrapErrStoreConflict(key string, expected, actual int64) error {
	return wrapFields(ErrStoreConflict,
		value("key", key),
		value("expectedLastUpdated", expected),
		value("actualLastUpdated", actual),
	)
}

// Identity 相关错误封装。
func WrapErrUserNotFound(userID string) error {
	return wrapFields(ErrUserNotFound, value("user", userID))
}

func WrapErrCharacterNotFound(characterID string) error {
	return wrapFields(ErrCharacterNotFound, value("character", characterID))
}

func wrapFields(err gardenError, fields ...errorField) error {
	for i := range fields {
		err.msg += fmt.Sprintf("[%s]", fields[i].String())
	}
	err.detail = err.msg
	return err
}

func wrapFieldsWithDesc(err gardenError, desc string, fields ...errorField) error {
	for i := range fields {
		err.msg += fmt.Sprintf("[%s]", fields[i].String())
	}
	err.msg += ": " + desc
	err.detail = err.msg
	return err
}

type errorField interface {
	String() string
}

type valueField struct {
	name  string
	value any
}

func value(name string, value any) valueField {
	return valueField{
		name,
		value,
	}
}

func (f valueField) String() string {
	return fmt.Sprintf("%s=%v", f.name, f.value)
}
