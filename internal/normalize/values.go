package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"leadtrack-engine/internal/domain"
)

var nullTokens = map[string]bool{
	"null": true, "n/a": true, "na": true, "none": true, "nan": true,
	"<na>": true, "nil": true, "-": true, "--": true,
}

// missing reports whether a cleaned cell carries no value.
func missing(s string) bool {
	s = domain.CleanText(s)
	return s == "" || nullTokens[strings.ToLower(s)]
}

// cellString renders an untyped cell. ok is false for nil cells; err is set
// for cell types that cannot be represented as text.
func cellString(v any) (s string, ok bool, err error) {
	switch x := v.(type) {
	case nil:
		return "", false, nil
	case string:
		return x, true, nil
	case []byte:
		return string(x), true, nil
	case bool:
		return strconv.FormatBool(x), true, nil
	case int:
		return strconv.Itoa(x), true, nil
	case int32:
		return strconv.FormatInt(int64(x), 10), true, nil
	case int64:
		return strconv.FormatInt(x, 10), true, nil
	case uint:
		return strconv.FormatUint(uint64(x), 10), true, nil
	case uint32:
		return strconv.FormatUint(uint64(x), 10), true, nil
	case uint64:
		return strconv.FormatUint(x, 10), true, nil
	case float32:
		return formatFloat(float64(x))
	case float64:
		return formatFloat(x)
	case json.Number:
		return x.String(), true, nil
	case time.Time:
		if x.IsZero() {
			return "", false, nil
		}
		return x.UTC().Format(time.RFC3339Nano), true, nil
	case *time.Time:
		if x == nil {
			return "", false, nil
		}
		return cellString(*x)
	case fmt.Stringer:
		return x.String(), true, nil
	}
	return "", false, fmt.Errorf("unsupported cell type %T", v)
}

func formatFloat(f float64) (string, bool, error) {
	if math.IsNaN(f) {
		return "", false, nil
	}
	if math.IsInf(f, 0) {
		return "", false, fmt.Errorf("non-finite number")
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10), true, nil
	}
	return strconv.FormatFloat(f, 'f', -1, 64), true, nil
}

var statusSynonyms = map[string]domain.Status{
	"new": domain.StatusNew, "open": domain.StatusNew, "fresh": domain.StatusNew,
	"lead": domain.StatusNew, "uncontacted": domain.StatusNew, "not contacted": domain.StatusNew,

	"contacted": domain.StatusContacted, "reached out": domain.StatusContacted,
	"in progress": domain.StatusContacted, "attempted": domain.StatusContacted,
	"called": domain.StatusContacted, "emailed": domain.StatusContacted,
	"follow up": domain.StatusContacted, "working": domain.StatusContacted,

	"qualified": domain.StatusQualified, "hot": domain.StatusQualified,
	"interested": domain.StatusQualified, "sql": domain.StatusQualified, "mql": domain.StatusQualified,

	"proposal": domain.StatusProposal, "proposal sent": domain.StatusProposal,
	"quote": domain.StatusProposal, "quoted": domain.StatusProposal, "negotiation": domain.StatusProposal,

	"won": domain.StatusWon, "closed won": domain.StatusWon, "closed": domain.StatusWon,
	"converted": domain.StatusWon, "customer": domain.StatusWon, "sold": domain.StatusWon,

	"lost": domain.StatusLost, "closed lost": domain.StatusLost, "dead": domain.StatusLost,
	"unqualified": domain.StatusLost, "not interested": domain.StatusLost, "rejected": domain.StatusLost,

	"archived": domain.StatusArchived, "deleted": domain.StatusArchived,
}

func lookupKey(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(s)
	return domain.CleanText(s)
}

// LookupStatus maps free-form status text onto the enumerated set.
func LookupStatus(s string) (domain.Status, bool) {
	st, ok := statusSynonyms[lookupKey(s)]
	return st, ok
}

var prioritySynonyms = map[string]domain.Priority{
	"low": domain.PriorityLow, "l": domain.PriorityLow, "cold": domain.PriorityLow,
	"minor": domain.PriorityLow, "p3": domain.PriorityLow, "p4": domain.PriorityLow,

	"medium": domain.PriorityMedium, "med": domain.PriorityMedium, "m": domain.PriorityMedium,
	"normal": domain.PriorityMedium, "warm": domain.PriorityMedium, "moderate": domain.PriorityMedium,
	"p2": domain.PriorityMedium,

	"high": domain.PriorityHigh, "h": domain.PriorityHigh, "hot": domain.PriorityHigh,
	"urgent": domain.PriorityHigh, "critical": domain.PriorityHigh, "top": domain.PriorityHigh,
	"p1": domain.PriorityHigh, "p0": domain.PriorityHigh,
}

// LookupPriority coerces numeric (1..3 scale, clamped) and textual priorities.
func LookupPriority(s string) (domain.Priority, bool) {
	if p, ok := prioritySynonyms[lookupKey(s)]; ok {
		return p, true
	}
	f, err := strconv.ParseFloat(domain.CleanText(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return "", false
	}
	switch r := math.Round(f); {
	case r <= 1:
		return domain.PriorityLow, true
	case r == 2:
		return domain.PriorityMedium, true
	default:
		return domain.PriorityHigh, true
	}
}

// Spreadsheet serial day numbers count from 1899-12-30.
var serialEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

func parseDateCell(v any, s string) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return domain.Timestamp(x), nil
	case *time.Time:
		return domain.Timestamp(*x), nil
	}
	s = domain.CleanText(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if f < 20000 || f > 80000 {
			return time.Time{}, fmt.Errorf("number %s is not a date serial", s)
		}
		days := math.Floor(f)
		frac := f - days
		t := serialEpoch.AddDate(0, 0, int(days)).Add(time.Duration(math.Round(frac*86400)) * time.Second)
		return domain.Timestamp(t), nil
	}
	return domain.ParseTime(s)
}
