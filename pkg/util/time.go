package util

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDuration parses a config duration, "7d" means seven days and a bare number means seconds
// ParseDuration 解析配置中的时间，支持 'd'（天）后缀，纯数字按秒处理
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	if _, err := strconv.Atoi(s); err == nil {
		s += "s"
	}
	return time.ParseDuration(s)
}
