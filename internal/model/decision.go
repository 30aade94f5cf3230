package model

import (
	"errors"
	"fmt"
	"strings"
)

// 拒绝或退回时可选的固定原因。
const (
	ReasonProhibited    = "Запрещенный товар"
	ReasonWrongCategory = "Неверная категория"
	ReasonBadDescript   = "Некорректное описание"
	ReasonPhotoIssues   = "Проблемы с фото"
	ReasonFraud         = "Подозрение на мошенничество"
	ReasonOther         = "Другое"
)

// Reasons 按界面展示顺序列出全部原因。
var Reasons = []string{
	ReasonProhibited,
	ReasonWrongCategory,
	ReasonBadDescript,
	ReasonPhotoIssues,
	ReasonFraud,
	ReasonOther,
}

var (
	// ErrCommentRequired 拒绝或退回时缺少评论。
	ErrCommentRequired = errors.New("comment is required")
	// ErrUnknownReason 原因不在固定集合内。
	ErrUnknownReason = errors.New("unknown reason")
)

// DecisionKind 决定的类型标签。
type DecisionKind string

const (
	KindApprove        DecisionKind = "approve"
	KindReject         DecisionKind = "reject"
	KindRequestChanges DecisionKind = "requestChanges"
)

// Decision 审核决定，只有 Approve、Reject、RequestChanges 三种实现。
type Decision interface {
	Kind() DecisionKind
	Validate() error
	decision()
}

// Approve 通过广告，不携带任何附加信息。
type Approve struct{}

// Reject 拒绝广告，评论必填。
type Reject struct {
	Reason  string
	Comment string
}

// RequestChanges 退回修改，评论必填。
type RequestChanges struct {
	Reason  string
	Comment string
}

func (Approve) Kind() DecisionKind        { return KindApprove }
func (Reject) Kind() DecisionKind         { return KindReject }
func (RequestChanges) Kind() DecisionKind { return KindRequestChanges }

func (Approve) decision()        {}
func (Reject) decision()         {}
func (RequestChanges) decision() {}

// Validate 通过操作总是合法的。
func (Approve) Validate() error { return nil }

// Validate 检查拒绝原因和评论。
func (r Reject) Validate() error { return validateFeedback(r.Reason, r.Comment) }

// Validate 检查退回原因和评论。
func (r RequestChanges) Validate() error { return validateFeedback(r.Reason, r.Comment) }

func validateFeedback(reason, comment string) error {
	if strings.TrimSpace(comment) == "" {
		return ErrCommentRequired
	}
	if reason == "" {
		return nil
	}
	for _, known := range Reasons {
		if reason == known {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownReason, reason)
}

// DefaultRequestChanges 详情页“退回修改”按钮使用的默认决定。
func DefaultRequestChanges() RequestChanges {
	return RequestChanges{Reason: ReasonOther, Comment: "Вернуть на доработку"}
}

// FeedbackBody 拒绝与退回请求的请求体。
type FeedbackBody struct {
	Reason  string `json:"reason,omitempty"`
	Comment string `json:"comment,omitempty"`
}

// DecisionRequest 决定的 JSON 表示，用于 HTTP 接口与事件日志。
type DecisionRequest struct {
	Action  DecisionKind `json:"action" binding:"required"`
	Reason  string       `json:"reason,omitempty"`
	Comment string       `json:"comment,omitempty"`
}

// Decision 将请求转换为具体的决定类型。
func (r DecisionRequest) Decision() (Decision, error) {
	switch r.Action {
	case KindApprove:
		return Approve{}, nil
	case KindReject:
		return Reject{Reason: r.Reason, Comment: r.Comment}, nil
	case KindRequestChanges:
		return RequestChanges{Reason: r.Reason, Comment: r.Comment}, nil
	default:
		return nil, fmt.Errorf("unknown decision action %q", r.Action)
	}
}

// RequestOf 将决定转换为 JSON 表示。
func RequestOf(d Decision) DecisionRequest {
	switch v := d.(type) {
	case Reject:
		return DecisionRequest{Action: KindReject, Reason: v.Reason, Comment: v.Comment}
	case RequestChanges:
		return DecisionRequest{Action: KindRequestChanges, Reason: v.Reason, Comment: v.Comment}
	default:
		return DecisionRequest{Action: d.Kind()}
	}
}
