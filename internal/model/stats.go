package model

import (
	"fmt"
	"net/url"
	"time"
)

// StatsPeriod 统计时间范围。
type StatsPeriod string

const (
	PeriodToday  StatsPeriod = "today"
	PeriodWeek   StatsPeriod = "week"
	PeriodMonth  StatsPeriod = "month"
	PeriodCustom StatsPeriod = "custom"
)

// DateLayout 自定义统计区间的日期格式。
const DateLayout = "2006-01-02"

// StatsQuery 统计查询参数。
//
// Period 为 custom 时 StartDate/EndDate 可以为空，此时原样透传给后端。
type StatsQuery struct {
	Period    StatsPeriod `json:"period" form:"period"`
	StartDate string      `json:"startDate,omitempty" form:"startDate"`
	EndDate   string      `json:"endDate,omitempty" form:"endDate"`
}

// Validate 检查周期与日期格式。
func (q StatsQuery) Validate() error {
	switch q.Period {
	case PeriodToday, PeriodWeek, PeriodMonth, PeriodCustom:
	default:
		return fmt.Errorf("unknown period %q", q.Period)
	}
	for _, d := range []string{q.StartDate, q.EndDate} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(DateLayout, d); err != nil {
			return fmt.Errorf("invalid date %q: want YYYY-MM-DD", d)
		}
	}
	return nil
}

// Values 转换为后端统计接口的查询参数。
func (q StatsQuery) Values() url.Values {
	values := url.Values{}
	values.Set("period", string(q.Period))
	if q.StartDate != "" {
		values.Set("startDate", q.StartDate)
	}
	if q.EndDate != "" {
		values.Set("endDate", q.EndDate)
	}
	return values
}

// Key 统计缓存键。
func (q StatsQuery) Key() string {
	return q.Values().Encode()
}

// StatsSummary 审核汇总指标。
type StatsSummary struct {
	TotalReviewed            int     `json:"totalReviewed"`
	TotalReviewedToday       int     `json:"totalReviewedToday"`
	TotalReviewedThisWeek    int     `json:"totalReviewedThisWeek"`
	TotalReviewedThisMonth   int     `json:"totalReviewedThisMonth"`
	ApprovedPercentage       float64 `json:"approvedPercentage"`
	RejectedPercentage       float64 `json:"rejectedPercentage"`
	RequestChangesPercentage float64 `json:"requestChangesPercentage"`
	AverageReviewTime        float64 `json:"averageReviewTime"`
}

// percentTolerance 百分比四舍五入允许的误差。
const percentTolerance = 0.5

// Validate 检查百分比落在 [0,100] 且总和不超过 100。
func (s StatsSummary) Validate() error {
	parts := []float64{s.ApprovedPercentage, s.RejectedPercentage, s.RequestChangesPercentage}
	var sum float64
	for _, p := range parts {
		if p < 0 || p > 100 {
			return fmt.Errorf("percentage %.2f out of range", p)
		}
		sum += p
	}
	if sum > 100+percentTolerance {
		return fmt.Errorf("percentages sum to %.2f", sum)
	}
	return nil
}

// ActivityPoint 某一天的审核数量。
type ActivityPoint struct {
	Date           string `json:"date"`
	Approved       int    `json:"approved"`
	Rejected       int    `json:"rejected"`
	RequestChanges int    `json:"requestChanges"`
}

// DecisionTotals 各类决定的占比，后端可能返回小数。
type DecisionTotals struct {
	Approved       float64 `json:"approved"`
	Rejected       float64 `json:"rejected"`
	RequestChanges float64 `json:"requestChanges"`
}

// CategoryTotals 按分类名统计的数值，后端可能返回小数。
type CategoryTotals map[string]float64

// StatsBundle 一次统计加载的完整结果。
type StatsBundle struct {
	Query      StatsQuery      `json:"query"`
	Summary    StatsSummary    `json:"summary"`
	Activity   []ActivityPoint `json:"activity"`
	Decisions  DecisionTotals  `json:"decisions"`
	Categories CategoryTotals  `json:"categories"`
	LoadedAt   time.Time       `json:"loadedAt"`
}
