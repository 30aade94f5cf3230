package failure

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind 失败的类别。
type Kind string

const (
	KindFetch       Kind = "fetch_failure"
	KindValidation  Kind = "validation_failure"
	KindMutation    Kind = "mutation_failure"
	KindBulkPartial Kind = "bulk_partial_failure"
)

// Error 带类别的错误，Message 面向使用者，Err 为底层原因。
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Fetch 读取数据失败。
func Fetch(op string, err error) *Error {
	return &Error{Kind: KindFetch, Op: op, Message: "failed to load data", Err: err}
}

// Validation 本地校验失败，不会发出任何请求。
func Validation(op string, err error) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: "invalid input", Err: err}
}

// Mutation 提交决定失败。
func Mutation(op string, err error) *Error {
	return &Error{Kind: KindMutation, Op: op, Message: "failed to apply decision", Err: err}
}

// BulkError 批量决定中至少一个失败。
//
// Succeeded 按提交顺序排列；Failed 记录每个失败 id 的原因。
type BulkError struct {
	Succeeded []int64
	Failed    map[int64]error
}

func (e *BulkError) Error() string {
	return fmt.Sprintf("bulk decision: %d succeeded, %d failed %v", len(e.Succeeded), len(e.Failed), e.FailedIDs())
}

// Partial 是否有部分 id 成功。
func (e *BulkError) Partial() bool {
	return len(e.Succeeded) > 0 && len(e.Failed) > 0
}

// Kind 部分成功为 KindBulkPartial，全部失败为 KindMutation。
func (e *BulkError) Kind() Kind {
	if e.Partial() {
		return KindBulkPartial
	}
	return KindMutation
}

// FailedIDs 返回升序排列的失败 id。
func (e *BulkError) FailedIDs() []int64 {
	ids := make([]int64, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Unwrap 暴露各 id 的失败原因，支持 errors.Is/As。
func (e *BulkError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, id := range e.FailedIDs() {
		errs = append(errs, e.Failed[id])
	}
	return errs
}

// KindOf 返回错误链中第一个带类别错误的类别，没有时返回空串。
func KindOf(err error) Kind {
	var bulk *BulkError
	if errors.As(err, &bulk) {
		return bulk.Kind()
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Is 判断错误是否属于指定类别。
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
