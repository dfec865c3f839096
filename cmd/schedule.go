package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/haierkeys/vm-backup-service/internal/domain"
)

// scheduleFlags --schedule and its recurrence options
// scheduleFlags 计划参数
type scheduleFlags struct {
	at      string
	hourly  string
	daily   string
	weekly  string
	monthly string
	yearly  string
	end     string
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04",
	"06/01/02 15:04:05",
	"06/01/02 15:04",
	"06/01/02",
}

// parseWhen accepts now, +N (seconds), an epoch or a local date such as 33/09/23 14:15
func parseWhen(s string, now time.Time) (string, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return "", fmt.Errorf("empty time")
	case strings.EqualFold(s, "now"):
		return "+0", nil
	case strings.HasPrefix(s, "+"):
		if _, err := strconv.ParseUint(s[1:], 10, 63); err != nil {
			return "", fmt.Errorf("invalid relative time %q", s)
		}
		return s, nil
	}
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return s, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
			return strconv.FormatInt(t.Unix(), 10), nil
		}
	}
	return "", fmt.Errorf("invalid time %q", s)
}

// fields builds the scheduled action fields, ok is false when no schedule was requested
// fields 生成计划任务字段
func (f *scheduleFlags) fields(now time.Time) (map[string]string, bool, error) {
	if f.at == "" {
		if f.repeat() != domain.RepeatNone || f.end != "" {
			return nil, false, fmt.Errorf("recurrence options need --schedule")
		}
		return nil, false, nil
	}

	when, err := parseWhen(f.at, now)
	if err != nil {
		return nil, false, err
	}
	out := map[string]string{"ACTION": string(domain.VMActionBackup), "TIME": when}

	repeat := f.repeat()
	if repeat == domain.RepeatNone {
		if f.end != "" {
			return nil, false, fmt.Errorf("--end needs a recurrence")
		}
		return out, true, nil
	}
	if err := f.checkSingleRepeat(); err != nil {
		return nil, false, err
	}
	out["REPEAT"] = strconv.Itoa(int(repeat))
	out["DAYS"] = f.days(repeat)

	switch {
	case f.end == "":
		out["END_TYPE"] = strconv.Itoa(int(domain.EndNever))
	default:
		if n, err := strconv.Atoi(f.end); err == nil {
			if n <= 0 {
				return nil, false, fmt.Errorf("--end repetitions must be positive")
			}
			out["END_TYPE"] = strconv.Itoa(int(domain.EndReps))
			out["END_VALUE"] = strconv.Itoa(n)
			break
		}
		epoch, err := parseWhen(f.end, now)
		if err != nil || strings.HasPrefix(epoch, "+") {
			return nil, false, fmt.Errorf("invalid --end %q", f.end)
		}
		out["END_TYPE"] = strconv.Itoa(int(domain.EndDate))
		out["END_VALUE"] = epoch
	}
	return out, true, nil
}

func (f *scheduleFlags) repeat() domain.RepeatKind {
	switch {
	case f.hourly != "":
		return domain.RepeatHourly
	case f.daily != "":
		return domain.RepeatDaily
	case f.weekly != "":
		return domain.RepeatWeekly
	case f.monthly != "":
		return domain.RepeatMonthly
	case f.yearly != "":
		return domain.RepeatYearly
	}
	return domain.RepeatNone
}

func (f *scheduleFlags) days(r domain.RepeatKind) string {
	switch r {
	case domain.RepeatHourly:
		return f.hourly
	case domain.RepeatDaily:
		return f.daily
	case domain.RepeatWeekly:
		return f.weekly
	case domain.RepeatMonthly:
		return f.monthly
	case domain.RepeatYearly:
		return f.yearly
	}
	return ""
}

func (f *scheduleFlags) checkSingleRepeat() error {
	n := 0
	for _, v := range []string{f.hourly, f.daily, f.weekly, f.monthly, f.yearly} {
		if v != "" {
			n++
		}
	}
	if n > 1 {
		return fmt.Errorf("only one of --hourly, --daily, --weekly, --monthly and --yearly can be used")
	}
	return nil
}
