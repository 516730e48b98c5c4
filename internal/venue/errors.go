package venue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind 错误分类
type ErrorKind int

const (
	KindUnknown      ErrorKind = iota
	KindConnectivity           // 场所不可达 / 未认证
	KindValidation             // 参数缺失或无效
	KindRejected               // 场所业务规则拒单
	KindTimeout                // 超时，操作可能仍在场所侧完成
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnectivity:
		return "connectivity"
	case KindValidation:
		return "validation"
	case KindRejected:
		return "rejected"
	case KindTimeout:
		return "timeout"
	}
	return "unknown"
}

var (
	// ErrNotConnected 场所未连接
	ErrNotConnected = errors.New("venue not connected")
	// ErrProtectiveRejected 因止损/止盈参数被拒（可去掉保护价重发一次）
	ErrProtectiveRejected = errors.New("protective prices rejected")
	// ErrTimeout 操作超时
	ErrTimeout = errors.New("operation timed out")
	// ErrInvalidParam 参数无效
	ErrInvalidParam = errors.New("invalid parameter")
	// ErrPositionNotFound 持仓不存在
	ErrPositionNotFound = errors.New("position not found")
)

// Error 场所调用的结构化错误
type Error struct {
	Kind    ErrorKind
	Code    int    // 场所返回码（没有时为 0）
	Message string // 面向调用方的描述
	Err     error  // 底层原因 / 分类哨兵
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != 0 {
		return fmt.Sprintf("[%s] code=%d: %s", e.Kind, e.Code, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Connectivity 连接类错误
func Connectivity(err error, format string, args ...interface{}) *Error {
	if err == nil {
		err = ErrNotConnected
	}
	return &Error{Kind: KindConnectivity, Message: fmt.Sprintf(format, args...), Err: err}
}

// Validation 参数类错误
func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...), Err: ErrInvalidParam}
}

// Rejected 场所拒单；protective 表示拒单原因是止损/止盈参数
func Rejected(code int, message string, protective bool) *Error {
	e := &Error{Kind: KindRejected, Code: code, Message: message}
	if protective {
		e.Err = ErrProtectiveRejected
	}
	return e
}

// Timeout 超时错误，提示操作可能仍在场所侧生效
func Timeout(op string, d time.Duration) *Error {
	return &Error{
		Kind:    KindTimeout,
		Message: fmt.Sprintf("%s 超时 (%s)，操作可能仍会在交易场所完成，请核对订单与持仓", op, d),
		Err:     ErrTimeout,
	}
}

// KindOf 返回错误分类
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrNotConnected):
		return KindConnectivity
	case errors.Is(err, ErrInvalidParam):
		return KindValidation
	}
	return KindUnknown
}

// CodeOf 返回场所返回码
func CodeOf(err error) int {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Code
	}
	return 0
}

// IsProtectiveRejection 是否可以去掉保护价重发
func IsProtectiveRejection(err error) bool {
	return errors.Is(err, ErrProtectiveRejected)
}
