package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/pkg/errors"
)

// New returns an error with the supplied message and the caller stack.
func New(message string) error {
	return errors.New(message)
}

// Errorf formats according to a format specifier and records the caller stack.
func Errorf(format string, args ...interface{}) error {
	return errors.Errorf(format, args...)
}

// Wrap annotates err with message and a stack trace. Nil in, nil out.
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf annotates err with a formatted message and a stack trace.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// WithStack annotates err with the caller stack.
func WithStack(err error) error {
	return errors.WithStack(err)
}

func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// Cause returns the innermost error of a pkg/errors chain.
func Cause(err error) error {
	return errors.Cause(err)
}

// 以下函数都直接调用 report，保持上报时的堆栈深度一致

// NewWithReport 创建错误并上报
func NewWithReport(message string) error {
	err := errors.New(message)
	report(nil, err)
	return err
}

// ErrorfAndReport 格式化错误并上报
func ErrorfAndReport(format string, args ...interface{}) error {
	err := errors.Errorf(format, args...)
	report(nil, err)
	return err
}

// ErrorfAndReportContext 同 ErrorfAndReport，并附带 ctx 中的元信息
func ErrorfAndReportContext(ctx context.Context, format string, args ...interface{}) error {
	err := errors.Errorf(format, args...)
	report(ctx, err)
	return err
}

// WrapAndReport 包装错误并上报
func WrapAndReport(err error, message string) error {
	if err == nil {
		return nil
	}
	err = errors.Wrap(err, message)
	report(nil, err)
	return err
}

// WrapAndReportContext 同 WrapAndReport，并附带 ctx 中的元信息
func WrapAndReportContext(ctx context.Context, err error, message string) error {
	if err == nil {
		return nil
	}
	err = errors.Wrap(err, message)
	report(ctx, err)
	return err
}

// WrapfAndReport 格式化包装错误并上报
func WrapfAndReport(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	err = errors.Wrapf(err, format, args...)
	report(nil, err)
	return err
}

type stack []uintptr

func callers() stack {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	return pcs[0:n]
}

// fullStack renders each frame as "function file:line".
// Reporters key their rate limiter on stacks[2], so short stacks are padded.
func (s stack) fullStack() []string {
	frames := runtime.CallersFrames(s)
	lines := make([]string, 0, len(s))
	for {
		frame, more := frames.Next()
		if !strings.HasPrefix(frame.Function, "runtime.") {
			lines = append(lines, fmt.Sprintf("%s %s:%d", frame.Function, frame.File, frame.Line))
		}
		if !more {
			break
		}
	}
	for len(lines) < 3 {
		lines = append(lines, "unknown")
	}
	return lines
}
