package datatypes

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BoldingBruggeman/xmlstore/internal/xmldom"
)

// dateTimeLayout matches the representation used in value documents.
const dateTimeLayout = "2006-01-02 15:04:05"

// BoolType stores booleans as "True"/"False".
type BoolType struct{}

func (BoolType) Name() string { return "bool" }

func (BoolType) Parse(s string, _ map[string]any, _ *xmldom.Element) (any, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	}
	return nil, fmt.Errorf("cannot interpret %q as bool", s)
}

func (BoolType) Format(v any) (string, error) {
	b, ok := v.(bool)
	if !ok {
		return "", fmt.Errorf("bool: cannot format %T", v)
	}
	if b {
		return "True", nil
	}
	return "False", nil
}

func (t BoolType) Pretty(v any) string {
	if b, ok := v.(bool); ok {
		if b {
			return "Yes"
		}
		return "No"
	}
	return fmt.Sprint(v)
}

func (BoolType) Equal(a, b any) bool { return a == b }

// IntType stores signed integers as int64.
type IntType struct{}

func (IntType) Name() string { return "int" }

func (IntType) Parse(s string, _ map[string]any, _ *xmldom.Element) (any, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("cannot interpret %q as int", s)
	}
	return n, nil
}

func (IntType) Format(v any) (string, error) {
	n, err := toInt64(v)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n, 10), nil
}

func (IntType) Pretty(v any) string {
	if n, err := toInt64(v); err == nil {
		return strconv.FormatInt(n, 10)
	}
	return fmt.Sprint(v)
}

func (IntType) Equal(a, b any) bool {
	x, err1 := toInt64(a)
	y, err2 := toInt64(b)
	return err1 == nil && err2 == nil && x == y
}

func (IntType) Compare(a, b any) (int, error) {
	x, err := toInt64(a)
	if err != nil {
		return 0, err
	}
	y, err := toInt64(b)
	if err != nil {
		return 0, err
	}
	switch {
	case x < y:
		return -1, nil
	case x > y:
		return 1, nil
	}
	return 0, nil
}

// FloatType stores floating-point numbers as float64.
type FloatType struct{}

func (FloatType) Name() string { return "float" }

func (FloatType) Parse(s string, _ map[string]any, _ *xmldom.Element) (any, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil, fmt.Errorf("cannot interpret %q as float", s)
	}
	return f, nil
}

func (FloatType) Format(v any) (string, error) {
	f, err := toFloat64(v)
	if err != nil {
		return "", err
	}
	return strconv.FormatFloat(f, 'g', -1, 64), nil
}

func (FloatType) Pretty(v any) string {
	if f, err := toFloat64(v); err == nil {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return fmt.Sprint(v)
}

func (FloatType) Equal(a, b any) bool {
	x, err1 := toFloat64(a)
	y, err2 := toFloat64(b)
	return err1 == nil && err2 == nil && x == y
}

func (FloatType) Compare(a, b any) (int, error) {
	x, err := toFloat64(a)
	if err != nil {
		return 0, err
	}
	y, err := toFloat64(b)
	if err != nil {
		return 0, err
	}
	switch {
	case x < y:
		return -1, nil
	case x > y:
		return 1, nil
	}
	return 0, nil
}

// StringType stores text verbatim.
type StringType struct{}

func (StringType) Name() string { return "string" }

func (StringType) Parse(s string, _ map[string]any, _ *xmldom.Element) (any, error) {
	return s, nil
}

func (StringType) Format(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("string: cannot format %T", v)
	}
	return s, nil
}

func (StringType) Pretty(v any) string { return fmt.Sprint(v) }

func (StringType) Equal(a, b any) bool { return a == b }

// DateTimeType stores timestamps in "YYYY-MM-DD hh:mm:ss" form, UTC.
type DateTimeType struct{}

func (DateTimeType) Name() string { return "datetime" }

func (DateTimeType) Parse(s string, _ map[string]any, _ *xmldom.Element) (any, error) {
	ts, err := time.ParseInLocation(dateTimeLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return nil, fmt.Errorf("cannot interpret %q as datetime", s)
	}
	return ts, nil
}

func (DateTimeType) Format(v any) (string, error) {
	ts, ok := v.(time.Time)
	if !ok {
		return "", fmt.Errorf("datetime: cannot format %T", v)
	}
	return ts.UTC().Format(dateTimeLayout), nil
}

func (t DateTimeType) Pretty(v any) string {
	if s, err := t.Format(v); err == nil {
		return s
	}
	return fmt.Sprint(v)
}

func (DateTimeType) Equal(a, b any) bool {
	x, ok1 := a.(time.Time)
	y, ok2 := b.(time.Time)
	return ok1 && ok2 && x.Equal(y)
}

func (DateTimeType) Compare(a, b any) (int, error) {
	x, ok := a.(time.Time)
	if !ok {
		return 0, fmt.Errorf("datetime: cannot compare %T", a)
	}
	y, ok := b.(time.Time)
	if !ok {
		return 0, fmt.Errorf("datetime: cannot compare %T", b)
	}
	return x.Compare(y), nil
}

// DurationType stores time spans in Go duration syntax ("1h30m"); bare
// numbers are read as seconds for compatibility with older documents.
type DurationType struct{}

func (DurationType) Name() string { return "duration" }

func (DurationType) Parse(s string, _ map[string]any, _ *xmldom.Element) (any, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return nil, fmt.Errorf("cannot interpret %q as duration", s)
}

func (DurationType) Format(v any) (string, error) {
	d, ok := v.(time.Duration)
	if !ok {
		return "", fmt.Errorf("duration: cannot format %T", v)
	}
	return d.String(), nil
}

func (t DurationType) Pretty(v any) string {
	if s, err := t.Format(v); err == nil {
		return s
	}
	return fmt.Sprint(v)
}

func (DurationType) Equal(a, b any) bool { return a == b }

func (DurationType) Compare(a, b any) (int, error) {
	x, ok := a.(time.Duration)
	if !ok {
		return 0, fmt.Errorf("duration: cannot compare %T", a)
	}
	y, ok := b.(time.Duration)
	if !ok {
		return 0, fmt.Errorf("duration: cannot compare %T", b)
	}
	switch {
	case x < y:
		return -1, nil
	case x > y:
		return 1, nil
	}
	return 0, nil
}

// Color is an RGB triple from a "#RRGGBB" attribute.
type Color struct {
	R, G, B uint8
}

func (c Color) String() string { return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B) }

// ColorType stores colors in "#RRGGBB" form.
type ColorType struct{}

func (ColorType) Name() string { return "color" }

func (ColorType) Parse(s string, _ map[string]any, _ *xmldom.Element) (any, error) {
	s = strings.TrimSpace(s)
	if len(s) != 7 || s[0] != '#' {
		return nil, fmt.Errorf("cannot interpret %q as color", s)
	}
	n, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return nil, fmt.Errorf("cannot interpret %q as color", s)
	}
	return Color{R: uint8(n >> 16), G: uint8(n >> 8), B: uint8(n)}, nil
}

func (ColorType) Format(v any) (string, error) {
	c, ok := v.(Color)
	if !ok {
		return "", fmt.Errorf("color: cannot format %T", v)
	}
	return c.String(), nil
}

func (t ColorType) Pretty(v any) string {
	if s, err := t.Format(v); err == nil {
		return s
	}
	return fmt.Sprint(v)
}

func (ColorType) Equal(a, b any) bool { return a == b }

// SelectType is used by fields with a fixed option list. Values are
// integers when every declared option value parses as one, plain
// strings otherwise.
type SelectType struct{}

func (SelectType) Name() string { return "select" }

func (SelectType) Parse(s string, ctx map[string]any, elem *xmldom.Element) (any, error) {
	if optionsAreInts(elem) {
		return IntType{}.Parse(s, ctx, elem)
	}
	return s, nil
}

func (SelectType) Format(v any) (string, error) {
	if n, err := toInt64(v); err == nil {
		return strconv.FormatInt(n, 10), nil
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", fmt.Errorf("select: cannot format %T", v)
}

func (t SelectType) Pretty(v any) string {
	if s, err := t.Format(v); err == nil {
		return s
	}
	return fmt.Sprint(v)
}

func (SelectType) Equal(a, b any) bool {
	if x, err := toInt64(a); err == nil {
		y, err := toInt64(b)
		return err == nil && x == y
	}
	return a == b
}

func (SelectType) Compare(a, b any) (int, error) { return IntType{}.Compare(a, b) }

func optionsAreInts(elem *xmldom.Element) bool {
	if elem == nil {
		return true
	}
	options := elem.Child("options")
	if options == nil {
		return true
	}
	for _, opt := range options.ChildrenNamed("option") {
		if _, err := strconv.ParseInt(opt.Attr("value"), 10, 64); err != nil {
			return false
		}
	}
	return true
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	}
	return 0, fmt.Errorf("cannot interpret %T as int", v)
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	}
	return 0, fmt.Errorf("cannot interpret %T as float", v)
}
