package selection

import (
	"sort"
)

// Set 当前会话选中的广告 id 集合。
//
// 不做并发保护，由持有者（会话）负责加锁。
type Set struct {
	ids map[int64]struct{}
}

// New 创建空集合。
func New() *Set {
	return &Set{ids: make(map[int64]struct{})}
}

// Toggle 切换单个 id 的选中状态。
func (s *Set) Toggle(id int64) {
	if _, ok := s.ids[id]; ok {
		delete(s.ids, id)
		return
	}
	s.ids[id] = struct{}{}
}

// ToggleAllVisible 全选或取消全选当前可见的 id。
//
// 如果可见 id 已全部选中，则只取消这些 id；否则把它们全部加入。
// 不在 visible 中的 id 不受影响，visible 为空时不做任何事。
func (s *Set) ToggleAllVisible(visible []int64) {
	if len(visible) == 0 {
		return
	}
	if s.AllSelected(visible) {
		for _, id := range visible {
			delete(s.ids, id)
		}
		return
	}
	for _, id := range visible {
		s.ids[id] = struct{}{}
	}
}

// AllSelected 判断 visible 是否全部被选中，空列表返回 false。
func (s *Set) AllSelected(visible []int64) bool {
	if len(visible) == 0 {
		return false
	}
	for _, id := range visible {
		if _, ok := s.ids[id]; !ok {
			return false
		}
	}
	return true
}

// Clear 清空集合。
func (s *Set) Clear() {
	clear(s.ids)
}

// Remove 移除指定 id。
func (s *Set) Remove(ids ...int64) {
	for _, id := range ids {
		delete(s.ids, id)
	}
}

// IsSelected 判断 id 是否被选中。
func (s *Set) IsSelected(id int64) bool {
	_, ok := s.ids[id]
	return ok
}

// Count 选中数量。
func (s *Set) Count() int {
	return len(s.ids)
}

// IDs 返回升序排列的选中 id。
func (s *Set) IDs() []int64 {
	out := make([]int64, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
