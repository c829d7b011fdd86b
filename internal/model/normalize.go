package model

import (
	"encoding/json"
	"math"
	"strconv"
)

// SanitizePercent brings a percent value into [0, 100]. Non-finite values
// become nil so they serialize as JSON null.
func SanitizePercent(v *float64) *float64 {
	if v == nil {
		return nil
	}
	f := *v
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	if f < 0 {
		f = 0
	}
	if f > 100 {
		f = 100
	}
	return &f
}

// SanitizeFloat replaces non-finite values with nil.
func SanitizeFloat(v *float64) *float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	return v
}

// NormalizeTree recursively converts driver-specific numeric values in a
// dynamically shaped tree (maps, slices) into plain JSON-safe values:
// json.Number and numeric kinds become float64, non-finite numbers become
// nil, everything unrepresentable becomes its string form. Used for the
// MongoDB command documents and alert value fields, where the shape is not
// known at compile time.
func NormalizeTree(v interface{}) interface{} {
	switch t := v.(type) {
	case nil, bool, string:
		return t
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil
		}
		return t
	case float32:
		return NormalizeTree(float64(t))
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint64:
		return float64(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return NormalizeTree(f)
		}
		return t.String()
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = NormalizeTree(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = NormalizeTree(e)
		}
		return out
	default:
		// Unknown driver type (decimals, timestamps): try the Stringer-free
		// route through fmt-less strconv where possible, fall back to %v.
		return stringify(t)
	}
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case error:
		return t.Error()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		s := string(b)
		if u, err := strconv.Unquote(s); err == nil {
			return u
		}
		return s
	}
}

// Sanitize enforces the numeric invariants on a Metrics record before it is
// serialized: percent fields in [0, 100] or null, no NaN/Inf anywhere.
func (m *Metrics) Sanitize() {
	if m == nil {
		return
	}
	if cs := m.ConnectionStats; cs != nil {
		if p := SanitizePercent(&cs.ConnectionPercent); p != nil {
			cs.ConnectionPercent = *p
		} else {
			cs.ConnectionPercent = 0
		}
	}
	if q := m.QPS; q != nil {
		for _, f := range []*float64{&q.TotalQueries, &q.UptimeSeconds, &q.QPS} {
			if SanitizeFloat(f) == nil {
				*f = 0
			}
		}
	}
	if c := m.CacheHitRate; c != nil {
		c.RatePercent = SanitizePercent(c.RatePercent)
		c.InnoDBRate = SanitizePercent(c.InnoDBRate)
		c.QueryCacheRate = SanitizePercent(c.QueryCacheRate)
		c.Hits = SanitizeFloat(c.Hits)
		c.Misses = SanitizeFloat(c.Misses)
		c.LogicalReads = SanitizeFloat(c.LogicalReads)
		c.PhysicalReads = SanitizeFloat(c.PhysicalReads)
	}
	if tu := m.TablespaceUsage; tu != nil {
		for i := range tu.Tablespaces {
			ts := &tu.Tablespaces[i]
			ts.TotalMB = SanitizeFloat(ts.TotalMB)
			ts.UsedMB = SanitizeFloat(ts.UsedMB)
			ts.FreeMB = SanitizeFloat(ts.FreeMB)
			ts.UsagePercent = SanitizePercent(ts.UsagePercent)
		}
		if tu.Storage != nil {
			tu.Storage.UsagePercent = SanitizePercent(tu.Storage.UsagePercent)
		}
	}
	if r := m.ReplicationStatus; r != nil {
		r.SecondsBehind = SanitizeFloat(r.SecondsBehind)
	}
}
