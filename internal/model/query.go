package model

import (
	"net/url"
	"strconv"
)

// SortField 列表排序字段。
type SortField string

const (
	SortByCreatedAt SortField = "createdAt"
	SortByPrice     SortField = "price"
	SortByPriority  SortField = "priority"
)

// Valid 判断排序字段是否合法。
func (f SortField) Valid() bool {
	switch f {
	case SortByCreatedAt, SortByPrice, SortByPriority:
		return true
	}
	return false
}

// SortOrder 排序方向。
type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

// Valid 判断排序方向是否合法。
func (o SortOrder) Valid() bool {
	return o == OrderAsc || o == OrderDesc
}

// ListQuery 发送给后端列表接口的完整参数。
//
// Page、Limit、SortBy、SortOrder 总是会被发送；其余字段为空时省略。
type ListQuery struct {
	Page       int
	Limit      int
	Statuses   []AdStatus
	CategoryID *int64
	MinPrice   *float64
	MaxPrice   *float64
	Search     string
	SortBy     SortField
	SortOrder  SortOrder
}

// Values 将查询转换为后端列表接口的查询参数。
//
// status 以重复键的形式出现，价格使用最短的十进制表示。
func (q ListQuery) Values() url.Values {
	values := url.Values{}
	values.Set("page", strconv.Itoa(q.Page))
	values.Set("limit", strconv.Itoa(q.Limit))
	for _, st := range q.Statuses {
		values.Add("status", string(st))
	}
	if q.CategoryID != nil {
		values.Set("categoryId", strconv.FormatInt(*q.CategoryID, 10))
	}
	if q.MinPrice != nil {
		values.Set("minPrice", strconv.FormatFloat(*q.MinPrice, 'f', -1, 64))
	}
	if q.MaxPrice != nil {
		values.Set("maxPrice", strconv.FormatFloat(*q.MaxPrice, 'f', -1, 64))
	}
	if q.Search != "" {
		values.Set("search", q.Search)
	}
	values.Set("sortBy", string(q.SortBy))
	values.Set("sortOrder", string(q.SortOrder))
	return values
}

// Key 返回查询的规范化标识，用作缓存键。
func (q ListQuery) Key() string {
	return q.Values().Encode()
}
