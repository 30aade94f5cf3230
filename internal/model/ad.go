package model

import (
	"time"
)

// PlaceholderImage 在广告没有任何图片时使用的占位图地址。
const PlaceholderImage = "https://via.placeholder.com/300x300?text=No+Image"

// AdStatus 广告的审核状态。
type AdStatus string

const (
	StatusPending  AdStatus = "pending"  // 待审核
	StatusApproved AdStatus = "approved" // 已通过
	StatusRejected AdStatus = "rejected" // 已拒绝
	StatusDraft    AdStatus = "draft"    // 退回修改
)

// AllStatuses 按固定顺序列出全部审核状态。
var AllStatuses = []AdStatus{StatusPending, StatusApproved, StatusRejected, StatusDraft}

// Valid 判断状态是否属于已知集合。
func (s AdStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusDraft:
		return true
	}
	return false
}

// AdPriority 广告优先级。
type AdPriority string

const (
	PriorityNormal AdPriority = "normal"
	PriorityUrgent AdPriority = "urgent"
)

// ModerationAction 审核历史中记录的动作。
type ModerationAction string

const (
	ActionApproved       ModerationAction = "approved"
	ActionRejected       ModerationAction = "rejected"
	ActionRequestChanges ModerationAction = "requestChanges"
)

// Seller 广告发布者信息。
//
// Rating 按后端原样保存为字符串（如 "4.7"）。
type Seller struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Rating       string    `json:"rating"`
	TotalAds     int       `json:"totalAds"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// ModerationEvent 一条审核历史记录。
type ModerationEvent struct {
	ID            int64            `json:"id"`
	ModeratorID   int64            `json:"moderatorId"`
	ModeratorName string           `json:"moderatorName"`
	Action        ModerationAction `json:"action"`
	Reason        *string          `json:"reason"`
	Comment       string           `json:"comment"`
	Timestamp     time.Time        `json:"timestamp"`
}

// Advertisement 后端返回的完整广告记录。
//
// 审核历史按时间从旧到新排列。
type Advertisement struct {
	ID                int64             `json:"id"`
	Title             string            `json:"title"`
	Description       string            `json:"description"`
	Price             float64           `json:"price"`
	Category          string            `json:"category"`
	CategoryID        int64             `json:"categoryId"`
	Status            AdStatus          `json:"status"`
	Priority          AdPriority        `json:"priority"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
	Images            []string          `json:"images"`
	Seller            Seller            `json:"seller"`
	Characteristics   map[string]string `json:"characteristics"`
	ModerationHistory []ModerationEvent `json:"moderationHistory"`
}

// AdSummary 列表页使用的广告投影。
type AdSummary struct {
	ID           int64      `json:"id"`
	Title        string     `json:"title"`
	Price        float64    `json:"price"`
	Category     string     `json:"category"`
	CategoryID   int64      `json:"categoryId"`
	Status       AdStatus   `json:"status"`
	Priority     AdPriority `json:"priority"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	ThumbnailURL string     `json:"thumbnailUrl"`
}

// AdDetails 详情页使用的广告投影，包含摘要的全部字段。
type AdDetails struct {
	AdSummary
	Description       string            `json:"description"`
	Images            []string          `json:"images"`
	Seller            Seller            `json:"seller"`
	Characteristics   map[string]string `json:"characteristics"`
	ModerationHistory []ModerationEvent `json:"moderationHistory"`
}

// SummaryFromAd 将后端广告转换为列表摘要。
//
// 缩略图取第一张图片，没有图片时使用占位图。
func SummaryFromAd(ad Advertisement) AdSummary {
	thumb := PlaceholderImage
	if len(ad.Images) > 0 && ad.Images[0] != "" {
		thumb = ad.Images[0]
	}
	return AdSummary{
		ID:           ad.ID,
		Title:        ad.Title,
		Price:        ad.Price,
		Category:     ad.Category,
		CategoryID:   ad.CategoryID,
		Status:       ad.Status,
		Priority:     ad.Priority,
		CreatedAt:    ad.CreatedAt,
		UpdatedAt:    ad.UpdatedAt,
		ThumbnailURL: thumb,
	}
}

// DetailsFromAd 将后端广告转换为详情投影。
//
// 图片列表为空时返回只含占位图的列表，特征与历史保证非 nil。
func DetailsFromAd(ad Advertisement) AdDetails {
	images := ad.Images
	if len(images) == 0 {
		images = []string{PlaceholderImage}
	} else {
		images = append([]string(nil), images...)
	}
	chars := make(map[string]string, len(ad.Characteristics))
	for k, v := range ad.Characteristics {
		chars[k] = v
	}
	history := append([]ModerationEvent{}, ad.ModerationHistory...)
	return AdDetails{
		AdSummary:         SummaryFromAd(ad),
		Description:       ad.Description,
		Images:            images,
		Seller:            ad.Seller,
		Characteristics:   chars,
		ModerationHistory: history,
	}
}

// Page 一页查询结果。
type Page[T any] struct {
	Items    []T `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
}

// TotalPages 根据总数与页大小计算总页数。
func (p Page[T]) TotalPages() int {
	if p.PageSize <= 0 {
		return 0
	}
	return (p.Total + p.PageSize - 1) / p.PageSize
}
