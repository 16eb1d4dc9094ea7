package webhook

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// Point is a single time-series sample.
type Point struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]any
	// TimestampMS is omitted from the line when zero.
	TimestampMS int64
}

// NewTelemetryPoint projects a telemetry event onto a device_telemetry point.
func NewTelemetryPoint(tenantID, deviceID string, data map[string]any) Point {
	return Point{
		Measurement: TelemetryMeasurement,
		Tags:        map[string]string{"tenant_id": tenantID, "device_id": deviceID},
		Fields:      data,
	}
}

// LineProtocol renders p in InfluxDB line protocol. ok is false when p has no
// representable field, since InfluxDB rejects field-less lines.
func (p Point) LineProtocol() (line string, ok bool) {
	keys := make([]string, 0, len(p.Fields))
	for k := range p.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]string, 0, len(keys))
	for _, k := range keys {
		if v, ok := formatField(p.Fields[k]); ok {
			fields = append(fields, keyEscaper.Replace(k)+"="+v)
		}
	}
	if len(fields) == 0 {
		return "", false
	}

	tagKeys := make([]string, 0, len(p.Tags))
	for k, v := range p.Tags {
		if v != "" {
			tagKeys = append(tagKeys, k)
		}
	}
	sort.Strings(tagKeys)

	var b strings.Builder
	b.WriteString(measurementEscaper.Replace(p.Measurement))
	for _, k := range tagKeys {
		b.WriteByte(',')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(SafeTag(p.Tags[k]))
	}
	b.WriteByte(' ')
	b.WriteString(strings.Join(fields, ","))
	if p.TimestampMS != 0 {
		b.WriteByte(' ')
		b.WriteString(strconv.FormatInt(p.TimestampMS, 10))
	}
	return b.String(), true
}

func formatField(v any) (string, bool) {
	switch x := v.(type) {
	case bool:
		if x {
			return "true", true
		}
		return "false", true
	case json.Number:
		s := x.String()
		if strings.ContainsAny(s, ".eE") {
			return s, true
		}
		return s + "i", true
	case string:
		return `"` + stringEscaper.Replace(x) + `"`, true
	}
	return "", false
}

var (
	measurementEscaper = strings.NewReplacer(`,`, `\,`, ` `, `\ `, "\n", `\n`, "\r", `\r`)
	keyEscaper         = strings.NewReplacer(`,`, `\,`, `=`, `\=`, ` `, `\ `, "\n", `\n`, "\r", `\r`)
	// Newlines become the two characters \n so a point stays on one line.
	stringEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`)
)

// SafeTag replaces every character outside [A-Za-z0-9_.-] with an underscore.
func SafeTag(v string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9',
			r == '_', r == '-', r == '.':
			return r
		}
		return '_'
	}, v)
}
