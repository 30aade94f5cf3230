package filter

import (
	"sort"
	"strings"

	"admoderation/internal/model"
)

// 默认排序：按创建时间倒序。
const (
	DefaultSortBy    = model.SortByCreatedAt
	DefaultSortOrder = model.OrderDesc
)

// State 队列的筛选、排序与分页状态。
//
// Statuses 始终保持升序去重，空集表示全部状态；Page 从 1 开始。
// 除 WithPage 外的所有变更都会把 Page 重置为 1。
type State struct {
	Statuses   []model.AdStatus
	CategoryID *int64
	MinPrice   *float64
	MaxPrice   *float64
	Search     string
	SortBy     model.SortField
	SortOrder  model.SortOrder
	Page       int
}

// Default 返回初始状态。
func Default() State {
	return State{SortBy: DefaultSortBy, SortOrder: DefaultSortOrder, Page: 1}
}

// WithStatuses 替换状态集合。未知状态会被丢弃。
func (s State) WithStatuses(statuses ...model.AdStatus) State {
	s.Statuses = normalizeStatuses(statuses)
	s.Page = 1
	return s
}

// ToggleStatus 在集合中加入或移除一个状态。
func (s State) ToggleStatus(status model.AdStatus) State {
	next := make([]model.AdStatus, 0, len(s.Statuses)+1)
	found := false
	for _, st := range s.Statuses {
		if st == status {
			found = true
			continue
		}
		next = append(next, st)
	}
	if !found {
		next = append(next, status)
	}
	return s.WithStatuses(next...)
}

// WithCategory 设置分类，nil 表示全部分类。
func (s State) WithCategory(id *int64) State {
	s.CategoryID = copyInt(id)
	s.Page = 1
	return s
}

// WithPriceRange 设置价格区间，任一端为 nil 表示不限。不校验 min <= max。
func (s State) WithPriceRange(minPrice, maxPrice *float64) State {
	s.MinPrice = copyFloat(minPrice)
	s.MaxPrice = copyFloat(maxPrice)
	s.Page = 1
	return s
}

// WithSearch 设置搜索词（去除首尾空白）。
func (s State) WithSearch(search string) State {
	s.Search = strings.TrimSpace(search)
	s.Page = 1
	return s
}

// WithSort 设置排序，非法值回退到默认排序。
func (s State) WithSort(field model.SortField, order model.SortOrder) State {
	if !field.Valid() {
		field = DefaultSortBy
	}
	if !order.Valid() {
		order = DefaultSortOrder
	}
	s.SortBy = field
	s.SortOrder = order
	s.Page = 1
	return s
}

// WithPage 只修改页码，小于 1 时取 1。
func (s State) WithPage(page int) State {
	if page < 1 {
		page = 1
	}
	s.Page = page
	return s
}

// SameFilters 判断两个状态除页码外是否一致。
func SameFilters(a, b State) bool {
	a.Page, b.Page = 1, 1
	return Encode(a).Encode() == Encode(b).Encode()
}

// Key 返回 (筛选条件, 页码) 的规范化标识。
func (s State) Key() string {
	v := Encode(s)
	v.Set(keyPage, itoa(s.Page))
	return v.Encode()
}

// Query 转换为后端列表请求。
func (s State) Query(pageSize int) model.ListQuery {
	return model.ListQuery{
		Page:       s.Page,
		Limit:      pageSize,
		Statuses:   append([]model.AdStatus(nil), s.Statuses...),
		CategoryID: copyInt(s.CategoryID),
		MinPrice:   copyFloat(s.MinPrice),
		MaxPrice:   copyFloat(s.MaxPrice),
		Search:     s.Search,
		SortBy:     s.SortBy,
		SortOrder:  s.SortOrder,
	}
}

func normalizeStatuses(in []model.AdStatus) []model.AdStatus {
	seen := make(map[model.AdStatus]struct{}, len(in))
	out := make([]model.AdStatus, 0, len(in))
	for _, st := range in {
		if !st.Valid() {
			continue
		}
		if _, ok := seen[st]; ok {
			continue
		}
		seen[st] = struct{}{}
		out = append(out, st)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func copyInt(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
