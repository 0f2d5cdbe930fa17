package authz

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/AegisGate/aegis-gate/models"
)

// conditionsHold reports whether every present condition matches the request
// context. A nil condition set always holds.
func conditionsHold(cond *models.RuleConditions, ctx models.AccessContext, at time.Time) bool {
	if cond == nil {
		return true
	}

	if len(cond.SourceRanges) > 0 && !sourceInRanges(ctx.SourceIP, cond.SourceRanges) {
		return false
	}

	if cond.TimeWindow != nil && !inTimeWindow(cond.TimeWindow, at) {
		return false
	}

	if len(cond.Weekdays) > 0 {
		found := false
		for _, d := range cond.Weekdays {
			if at.Weekday() == d {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	for _, attr := range cond.Attributes {
		if !attributeHolds(attr, ctx.Attributes) {
			return false
		}
	}

	return true
}

// sourceInRanges tests an address against CIDR ranges, falling back to a
// plain string-prefix match for entries without a prefix length.
func sourceInRanges(source string, ranges []string) bool {
	if source == "" {
		return false
	}

	addr, addrErr := netip.ParseAddr(source)

	for _, r := range ranges {
		if strings.Contains(r, "/") {
			prefix, err := netip.ParsePrefix(r)
			if err != nil || addrErr != nil {
				continue
			}
			if prefix.Contains(addr) {
				return true
			}
			continue
		}
		if strings.HasPrefix(source, r) {
			return true
		}
	}
	return false
}

// inTimeWindow tests "HH:MM" windows. Start is inclusive, End exclusive;
// windows may wrap midnight.
func inTimeWindow(w *models.TimeWindow, at time.Time) bool {
	start, err1 := parseMinutes(w.Start)
	end, err2 := parseMinutes(w.End)
	if err1 != nil || err2 != nil {
		return false
	}

	now := at.Hour()*60 + at.Minute()

	if start <= end {
		return now >= start && now < end
	}
	// wraps midnight
	return now >= start || now < end
}

func parseMinutes(hhmm string) (int, error) {
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("authz: invalid time %q", hhmm)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("authz: invalid hour %q", hhmm)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("authz: invalid minute %q", hhmm)
	}
	return h*60 + m, nil
}

func attributeHolds(cond models.AttributeCondition, attrs map[string]any) bool {
	value, ok := attrs[cond.Key]
	if !ok {
		return false
	}

	switch cond.Op {
	case models.OpEQ:
		return fmt.Sprint(value) == fmt.Sprint(cond.Value)
	case models.OpNE:
		return fmt.Sprint(value) != fmt.Sprint(cond.Value)
	case models.OpGT, models.OpGTE, models.OpLT, models.OpLTE:
		a, okA := toFloat(value)
		b, okB := toFloat(cond.Value)
		if !okA || !okB {
			return false
		}
		switch cond.Op {
		case models.OpGT:
			return a > b
		case models.OpGTE:
			return a >= b
		case models.OpLT:
			return a < b
		default:
			return a <= b
		}
	case models.OpIn, models.OpNin:
		list, ok := toSlice(cond.Value)
		if !ok {
			return false
		}
		found := false
		for _, item := range list {
			if fmt.Sprint(item) == fmt.Sprint(value) {
				found = true
				break
			}
		}
		if cond.Op == models.OpIn {
			return found
		}
		return !found
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toSlice(v any) ([]any, bool) {
	switch list := v.(type) {
	case []any:
		return list, true
	case []string:
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out, true
	case []int:
		out := make([]any, len(list))
		for i, n := range list {
			out[i] = n
		}
		return out, true
	default:
		return nil, false
	}
}
