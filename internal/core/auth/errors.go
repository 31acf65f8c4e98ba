package auth

import "fmt"

// Reason 认证失败原因
type Reason int

const (
	// ReasonMissingAuth 缺少认证信息
	ReasonMissingAuth Reason = iota + 1
	// ReasonBadSignature 签名无效
	ReasonBadSignature
	// ReasonStaleTimestamp 时间戳超出新鲜度窗口
	ReasonStaleTimestamp
	// ReasonReplayedNonce nonce 重放
	ReasonReplayedNonce
	// ReasonExpiredToken 访问令牌过期
	ReasonExpiredToken
	// ReasonWrongRecipient 请求并非发给本节点
	ReasonWrongRecipient
	// ReasonNonceMismatch 响应未回显请求 nonce
	ReasonNonceMismatch
	// ReasonUnexpectedPeer 响应方身份与预期不符
	ReasonUnexpectedPeer
	// ReasonUnauthorized 能力校验失败
	ReasonUnauthorized
	// ReasonRateLimited 请求过于频繁
	ReasonRateLimited
	// ReasonReplayCacheFull 窗口内的 nonce 已达上限
	ReasonReplayCacheFull
)

var reasonNames = map[Reason]string{
	ReasonMissingAuth:    "missing auth",
	ReasonBadSignature:   "bad signature",
	ReasonStaleTimestamp: "stale timestamp",
	ReasonReplayedNonce:  "replayed nonce",
	ReasonExpiredToken:   "expired token",
	ReasonWrongRecipient: "wrong recipient",
	ReasonNonceMismatch:  "nonce mismatch",
	ReasonUnexpectedPeer: "unexpected peer",
	ReasonUnauthorized:   "unauthorized",
	ReasonRateLimited:    "rate limited",

	ReasonReplayCacheFull: "replay cache full",
}

// String 返回原因描述
func (r Reason) String() string {
	if s, ok := reasonNames[r]; ok {
		return s
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// Error 认证错误
type Error struct {
	Reason Reason
	Detail string
}

// Error 实现 error 接口
func (e *Error) Error() string {
	if e.Detail == "" {
		return "auth: " + e.Reason.String()
	}
	return "auth: " + e.Reason.String() + ": " + e.Detail
}

// Is 按原因比较，使 errors.Is(err, ErrBadSignature) 可用
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Reason == e.Reason
}

func newError(r Reason, format string, args ...any) *Error {
	return &Error{Reason: r, Detail: fmt.Sprintf(format, args...)}
}

// 哨兵错误，仅用于 errors.Is 比较
var (
	ErrMissingAuth    = &Error{Reason: ReasonMissingAuth}
	ErrBadSignature   = &Error{Reason: ReasonBadSignature}
	ErrStaleTimestamp = &Error{Reason: ReasonStaleTimestamp}
	ErrReplayedNonce  = &Error{Reason: ReasonReplayedNonce}
	ErrExpiredToken   = &Error{Reason: ReasonExpiredToken}
	ErrWrongRecipient = &Error{Reason: ReasonWrongRecipient}
	ErrNonceMismatch  = &Error{Reason: ReasonNonceMismatch}
	ErrUnexpectedPeer = &Error{Reason: ReasonUnexpectedPeer}
	ErrUnauthorized   = &Error{Reason: ReasonUnauthorized}
	ErrRateLimited    = &Error{Reason: ReasonRateLimited}

	ErrReplayCacheFull = &Error{Reason: ReasonReplayCacheFull}
)
