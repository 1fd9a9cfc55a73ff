package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// バックエンドAPIが返す構造化エラーのコード。
const (
	FailureCodeNotFound     = "NotFoundError"
	FailureCodeValidation   = "ValidationError"
	FailureCodeUnauthorized = "UnauthorizedError"
	FailureCodeForbidden    = "ForbiddenError"
)

// defaultFailureMessage はエラーペイロードにメッセージが含まれない場合の表示文言。
const defaultFailureMessage = "リクエストを処理できませんでした。"

// Failure はバックエンドAPIが返したエラーペイロードを正規化したもの。
// エンドポイントによって {error} 形式と {code, message} 形式があるが、
// どちらもこの型に統一される。
type Failure struct {
	Code    string
	Message string
	Details json.RawMessage
}

// Error はerrorインターフェースを実装する。
func (f *Failure) Error() string {
	if f.Code == "" {
		return f.Message
	}
	return fmt.Sprintf("[%s] %s", f.Code, f.Message)
}

// IsNotFound はリソース未検出を示すFailureかどうかを返す。
func (f *Failure) IsNotFound() bool {
	return f.Code == FailureCodeNotFound
}

// Outcome はAPI呼び出し結果の Success(T) と Failure のタグ付き共用体。
// 値の取り出しは Unwrap のみで行い、呼び出し元は必ずFailureを先に判定する。
type Outcome[T any] struct {
	value   T
	failure *Failure
}

// Success は成功結果を生成する。
func Success[T any](v T) Outcome[T] {
	return Outcome[T]{value: v}
}

// Fail は失敗結果を生成する。
func Fail[T any](f *Failure) Outcome[T] {
	return Outcome[T]{failure: f}
}

// Unwrap はペイロードとFailureを返す。
// Failureがnilでない場合、ペイロードはゼロ値であり使用してはならない。
func (o Outcome[T]) Unwrap() (T, *Failure) {
	if o.failure != nil {
		var zero T
		return zero, o.failure
	}
	return o.value, nil
}

// IsFailure は結果がFailureかどうかを返す。
func (o Outcome[T]) IsFailure() bool {
	return o.failure != nil
}

// Classify はAPIレスポンスのJSONを Success(T) か Failure のどちらかに分類する。
// JSONオブジェクトに error フィールド、または code と message の組がある場合はFailureとする。
// JSONとして不正なボディはOutcomeではなくerrorとして返す。
func Classify[T any](raw []byte) (Outcome[T], error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Outcome[T]{}, errors.New("empty response body")
	}

	if trimmed[0] == '{' {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return Outcome[T]{}, fmt.Errorf("failed to parse response object: %w", err)
		}
		if f, ok := failureFromObject(obj); ok {
			return Fail[T](f), nil
		}
	}

	var v T
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return Outcome[T]{}, fmt.Errorf("failed to decode response payload: %w", err)
	}
	return Success(v), nil
}

// failureFromObject はデコード済みオブジェクトがエラーを示すフィールドを持つかを検査する。
func failureFromObject(obj map[string]json.RawMessage) (*Failure, bool) {
	if rawErr, ok := obj["error"]; ok && !isNull(rawErr) {
		f := &Failure{Details: nonNull(obj["details"])}

		var msg string
		var nested struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		switch {
		case json.Unmarshal(rawErr, &msg) == nil:
			f.Message = msg
		case json.Unmarshal(rawErr, &nested) == nil:
			f.Code = nested.Code
			f.Message = nested.Message
		default:
			f.Message = string(rawErr)
		}

		if f.Code == "" {
			f.Code, _ = stringField(obj, "code")
		}
		if f.Message == "" {
			if m, ok := stringField(obj, "message"); ok && m != "" {
				f.Message = m
			} else {
				f.Message = defaultFailureMessage
			}
		}
		return f, true
	}

	code, hasCode := stringField(obj, "code")
	message, hasMessage := stringField(obj, "message")
	if hasCode && hasMessage {
		return &Failure{
			Code:    code,
			Message: message,
			Details: nonNull(obj["details"]),
		}, true
	}

	return nil, false
}

// stringField はオブジェクトの文字列フィールドを取り出す。
func stringField(obj map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := obj[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func nonNull(raw json.RawMessage) json.RawMessage {
	if isNull(raw) {
		return nil
	}
	return raw
}
