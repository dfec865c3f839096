package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ParentType 计划任务的父对象类型
type ParentType string

const (
	ParentVM        ParentType = "VM"
	ParentBackupJob ParentType = "BACKUPJOB"
)

// RepeatKind REPEAT encoding of scheduled actions
// RepeatKind 计划任务 REPEAT 编码
type RepeatKind int

const (
	RepeatNone    RepeatKind = -1
	RepeatWeekly  RepeatKind = 0
	RepeatMonthly RepeatKind = 1
	RepeatYearly  RepeatKind = 2
	RepeatHourly  RepeatKind = 3
	RepeatDaily   RepeatKind = 4
)

func (r RepeatKind) String() string {
	switch r {
	case RepeatNone:
		return "NONE"
	case RepeatWeekly:
		return "WEEKLY"
	case RepeatMonthly:
		return "MONTHLY"
	case RepeatYearly:
		return "YEARLY"
	case RepeatHourly:
		return "HOURLY"
	case RepeatDaily:
		return "DAILY"
	}
	return strconv.Itoa(int(r))
}

// EndType END_TYPE encoding
type EndType int

const (
	EndNever EndType = -1
	EndDate  EndType = 0
	EndReps  EndType = 1
)

// SchedField identifies the field a validation error refers to
// SchedField 校验错误对应的字段
type SchedField string

const (
	SchedFieldTime     SchedField = "TIME"
	SchedFieldRepeat   SchedField = "REPEAT"
	SchedFieldDays     SchedField = "DAYS"
	SchedFieldEndType  SchedField = "END_TYPE"
	SchedFieldEndValue SchedField = "END_VALUE"
	SchedFieldWarning  SchedField = "WARNING"
	SchedFieldAction   SchedField = "ACTION"
)

// SchedFieldError 计划任务字段校验错误
type SchedFieldError struct {
	Field SchedField
	Msg   string
}

func (e *SchedFieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func schedErr(field SchedField, format string, args ...interface{}) error {
	return &SchedFieldError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// SchedAction 计划任务
// ID is allocated per parent starting at 0. Done is -1 until the action fires for the first time.
type SchedAction struct {
	ID         int
	ParentID   int64
	ParentType ParentType
	Action     string
	Args       string
	Time       int64
	Repeat     RepeatKind
	Days       string
	EndType    EndType
	EndValue   int64
	Warning    int64
	Done       int64
}

// NewSchedAction 返回带默认值的计划任务
func NewSchedAction(parentType ParentType, parentID int64, action string) *SchedAction {
	return &SchedAction{
		ParentID:   parentID,
		ParentType: parentType,
		Action:     action,
		Repeat:     RepeatNone,
		EndType:    EndNever,
		EndValue:   -1,
		Done:       -1,
	}
}

// Recurrence 计划任务的重复规则
type Recurrence struct {
	Repeat   RepeatKind
	Days     []int
	EndType  EndType
	EndValue int64
}

// Rule returns the parsed recurrence, days are assumed to be validated
// Rule 返回解析后的重复规则
func (s *SchedAction) Rule() Recurrence {
	days, _ := ParseDays(s.Repeat, s.Days)
	return Recurrence{Repeat: s.Repeat, Days: days, EndType: s.EndType, EndValue: s.EndValue}
}

// IsDue 已到执行时间且尚未为该时间执行过
func (s *SchedAction) IsDue(now int64) bool {
	return s.Time <= now && s.Done < s.Time
}

// Expired reports whether the end condition was reached before firing
// Expired 执行前是否已满足结束条件
func (s *SchedAction) Expired() bool {
	switch s.EndType {
	case EndReps:
		return s.EndValue <= 0
	case EndDate:
		return s.Time > s.EndValue
	}
	return false
}

// Validate 校验所有字段
func (s *SchedAction) Validate() error {
	if strings.TrimSpace(s.Action) == "" {
		return schedErr(SchedFieldAction, "action is required")
	}
	if s.Time < 0 {
		return schedErr(SchedFieldTime, "time must not be negative")
	}
	if _, err := ParseDays(s.Repeat, s.Days); err != nil {
		return err
	}
	switch s.EndType {
	case EndNever:
	case EndDate:
		if s.EndValue <= 0 {
			return schedErr(SchedFieldEndValue, "end date must be an epoch time")
		}
	case EndReps:
		if s.EndValue < 0 {
			return schedErr(SchedFieldEndValue, "repetitions must not be negative")
		}
	default:
		return schedErr(SchedFieldEndType, "unknown end type %d", int(s.EndType))
	}
	return nil
}

// ParseRepeat 解析 REPEAT，空字符串为 -1
func ParseRepeat(s string) (RepeatKind, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return RepeatNone, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return RepeatNone, schedErr(SchedFieldRepeat, "not a number: %q", s)
	}
	r := RepeatKind(n)
	switch r {
	case RepeatNone, RepeatWeekly, RepeatMonthly, RepeatYearly, RepeatHourly, RepeatDaily:
		return r, nil
	}
	return RepeatNone, schedErr(SchedFieldRepeat, "unknown repeat %d", n)
}

// ParseEndType 解析 END_TYPE，空字符串为 -1
func ParseEndType(s string) (EndType, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return EndNever, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return EndNever, schedErr(SchedFieldEndType, "not a number: %q", s)
	}
	switch e := EndType(n); e {
	case EndNever, EndDate, EndReps:
		return e, nil
	}
	return EndNever, schedErr(SchedFieldEndType, "unknown end type %d", n)
}

// ParseEndValue 解析 END_VALUE，空字符串为 -1
func ParseEndValue(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return -1, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return -1, schedErr(SchedFieldEndValue, "not a number: %q", s)
	}
	return n, nil
}

// ParseWarning accepts a signed number of seconds such as "-3600" or "+60"
// ParseWarning 解析带符号的秒数
func ParseWarning(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, schedErr(SchedFieldWarning, "not a number: %q", s)
	}
	return n, nil
}

// ParseSchedTime parses an absolute epoch or a "+N" offset in seconds from base
// ParseSchedTime 解析绝对时间戳或相对 base 的 "+N" 秒
func ParseSchedTime(s string, base time.Time) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, schedErr(SchedFieldTime, "time is required")
	}
	if strings.HasPrefix(s, "+") {
		n, err := strconv.ParseInt(s[1:], 10, 64)
		if err != nil || n < 0 || strings.HasPrefix(s[1:], "+") || strings.HasPrefix(s[1:], "-") {
			return 0, schedErr(SchedFieldTime, "invalid relative time %q", s)
		}
		return base.Unix() + n, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, schedErr(SchedFieldTime, "invalid time %q", s)
	}
	return n, nil
}

type dayRange struct {
	min, max int
	single   bool
}

var dayRanges = map[RepeatKind]dayRange{
	RepeatWeekly:  {min: 0, max: 6},
	RepeatMonthly: {min: 1, max: 31},
	RepeatYearly:  {min: 0, max: 365},
	RepeatHourly:  {min: 1, max: 168, single: true},
	RepeatDaily:   {min: 1, max: 365, single: true},
}

// ParseDays validates DAYS for the repeat kind, values are returned sorted and unique
// DAYS is ignored when the action does not repeat
// ParseDays 按 REPEAT 校验 DAYS，返回排序去重后的值；不重复时忽略 DAYS
func ParseDays(repeat RepeatKind, s string) ([]int, error) {
	if repeat == RepeatNone {
		return nil, nil
	}
	rng, ok := dayRanges[repeat]
	if !ok {
		return nil, schedErr(SchedFieldRepeat, "unknown repeat %d", int(repeat))
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, schedErr(SchedFieldDays, "days required for %s repeat", repeat)
	}

	parts := strings.Split(s, ",")
	if rng.single && len(parts) != 1 {
		return nil, schedErr(SchedFieldDays, "%s repeat takes a single value", repeat)
	}

	seen := make(map[int]struct{}, len(parts))
	days := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, schedErr(SchedFieldDays, "not a number: %q", p)
		}
		if n < rng.min || n > rng.max {
			return nil, schedErr(SchedFieldDays, "%d out of range %d-%d for %s repeat", n, rng.min, rng.max, repeat)
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		days = append(days, n)
	}
	sort.Ints(days)
	return days, nil
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}

var secondsParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextFire computes the next firing time after an action fired at prev
// The result is strictly after both prev and now. ok is false when the action does not repeat
// or the end condition is reached.
// NextFire 计算计划任务在 prev 执行后的下一次执行时间，结果严格晚于 prev 与 now；
// 不重复或已满足结束条件时 ok 为 false
func NextFire(prev, now time.Time, r Recurrence) (time.Time, bool) {
	after := prev
	if now.After(after) {
		after = now.In(prev.Location())
	}

	var next time.Time
	switch r.Repeat {
	case RepeatWeekly, RepeatMonthly:
		if len(r.Days) == 0 {
			return time.Time{}, false
		}
		var spec string
		if r.Repeat == RepeatWeekly {
			spec = fmt.Sprintf("%d %d %d * * %s", prev.Second(), prev.Minute(), prev.Hour(), joinInts(r.Days))
		} else {
			spec = fmt.Sprintf("%d %d %d %s * *", prev.Second(), prev.Minute(), prev.Hour(), joinInts(r.Days))
		}
		sched, err := secondsParser.Parse(spec)
		if err != nil {
			return time.Time{}, false
		}
		next = sched.Next(after)
		if next.IsZero() {
			return time.Time{}, false
		}
	case RepeatYearly:
		var ok bool
		next, ok = nextYearDay(prev, after, r.Days)
		if !ok {
			return time.Time{}, false
		}
	case RepeatHourly, RepeatDaily:
		if len(r.Days) != 1 || r.Days[0] <= 0 {
			return time.Time{}, false
		}
		unit := time.Hour
		if r.Repeat == RepeatDaily {
			unit = 24 * time.Hour
		}
		interval := time.Duration(r.Days[0]) * unit
		base := prev
		if now.After(base) {
			base = base.Add(now.Sub(base) / interval * interval)
		}
		next = cron.Every(interval).Next(base)
	default:
		return time.Time{}, false
	}

	switch r.EndType {
	case EndDate:
		if next.Unix() > r.EndValue {
			return time.Time{}, false
		}
	case EndReps:
		if r.EndValue <= 0 {
			return time.Time{}, false
		}
	}
	return next, true
}

// nextYearDay walks forward day by day, cron has no day-of-year field
// nextYearDay 按天向前查找，cron 不支持年内第几天
func nextYearDay(prev, after time.Time, days []int) (time.Time, bool) {
	if len(days) == 0 {
		return time.Time{}, false
	}
	want := make(map[int]struct{}, len(days))
	for _, d := range days {
		want[d] = struct{}{}
	}
	y, m, d := after.Date()
	candidate := time.Date(y, m, d, prev.Hour(), prev.Minute(), prev.Second(), 0, prev.Location())
	for i := 0; i < 2*366+1; i++ {
		if _, ok := want[candidate.YearDay()-1]; ok && candidate.After(after) {
			return candidate, true
		}
		candidate = candidate.AddDate(0, 0, 1)
	}
	return time.Time{}, false
}
