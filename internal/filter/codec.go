package filter

import (
	"math"
	"net/url"
	"strconv"
	"strings"

	"admoderation/internal/model"
)

const (
	keySearch    = "search"
	keyCategory  = "categoryId"
	keyMinPrice  = "minPrice"
	keyMaxPrice  = "maxPrice"
	keyStatus    = "status"
	keySortBy    = "sortBy"
	keySortOrder = "sortOrder"
	keyPage      = "page"
)

// Encode 将状态编码为可分享的查询参数。
//
// 默认值不会出现在结果中：空搜索、空状态集、默认排序以及第 1 页。
// 状态以重复的 status 键按升序写入。
//
// 参数:
//
//	s: 筛选状态
//
// 返回值:
//
//	url.Values: 规范化的查询参数
func Encode(s State) url.Values {
	values := url.Values{}

	if s.Search != "" {
		values.Set(keySearch, s.Search)
	}
	if s.CategoryID != nil {
		values.Set(keyCategory, strconv.FormatInt(*s.CategoryID, 10))
	}
	if s.MinPrice != nil {
		values.Set(keyMinPrice, formatPrice(*s.MinPrice))
	}
	if s.MaxPrice != nil {
		values.Set(keyMaxPrice, formatPrice(*s.MaxPrice))
	}
	for _, st := range normalizeStatuses(s.Statuses) {
		values.Add(keyStatus, string(st))
	}

	sortBy, sortOrder := s.SortBy, s.SortOrder
	if !sortBy.Valid() {
		sortBy = DefaultSortBy
	}
	if !sortOrder.Valid() {
		sortOrder = DefaultSortOrder
	}
	if sortBy != DefaultSortBy || sortOrder != DefaultSortOrder {
		values.Set(keySortBy, string(sortBy))
		values.Set(keySortOrder, string(sortOrder))
	}

	if s.Page > 1 {
		values.Set(keyPage, itoa(s.Page))
	}
	return values
}

// Decode 从查询参数恢复状态。
//
// 缺失或非法的字段使用默认值，不会返回错误。
func Decode(values url.Values) State {
	s := Default()

	s.Search = strings.TrimSpace(values.Get(keySearch))

	if v := values.Get(keyCategory); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			s.CategoryID = &id
		}
	}
	s.MinPrice = parsePrice(values.Get(keyMinPrice))
	s.MaxPrice = parsePrice(values.Get(keyMaxPrice))

	raw := values[keyStatus]
	statuses := make([]model.AdStatus, 0, len(raw))
	for _, v := range raw {
		// 兼容逗号分隔的写法
		for _, part := range strings.Split(v, ",") {
			statuses = append(statuses, model.AdStatus(strings.TrimSpace(part)))
		}
	}
	s.Statuses = normalizeStatuses(statuses)

	if v := model.SortField(values.Get(keySortBy)); v.Valid() {
		s.SortBy = v
	}
	if v := model.SortOrder(values.Get(keySortOrder)); v.Valid() {
		s.SortOrder = v
	}

	if v := values.Get(keyPage); v != "" {
		if page, err := strconv.Atoi(v); err == nil && page > 1 {
			s.Page = page
		}
	}
	return s
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parsePrice(v string) *float64 {
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func itoa(v int) string {
	return strconv.Itoa(v)
}
