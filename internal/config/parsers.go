package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Values in viper's settings map carry whatever type the source produced:
// YAML ints and nested maps, JSON float64s, environment strings. A blank
// string counts as unset everywhere.

// lookupSetting returns the first of keys present in settings. viper lowers
// every key, so candidates are matched case-insensitively.
func lookupSetting(settings map[string]interface{}, keys ...string) (interface{}, bool) {
	for _, key := range keys {
		if val, ok := settings[strings.ToLower(key)]; ok {
			return val, true
		}
	}
	return nil, false
}

func blank(value interface{}) bool {
	if value == nil {
		return true
	}
	s, ok := value.(string)
	return ok && strings.TrimSpace(s) == ""
}

func asString(value interface{}) (string, error) {
	return cast.ToStringE(value)
}

func asInt(value interface{}) (int, error) {
	if blank(value) {
		return 0, nil
	}
	if s, ok := value.(string); ok {
		return strconv.Atoi(strings.TrimSpace(s))
	}
	return cast.ToIntE(value)
}

func asFloat64(value interface{}) (float64, error) {
	if blank(value) {
		return 0, nil
	}
	if s, ok := value.(string); ok {
		return strconv.ParseFloat(strings.TrimSpace(s), 64)
	}
	return cast.ToFloat64E(value)
}

func asBool(value interface{}) (bool, error) {
	if blank(value) {
		return false, nil
	}
	if s, ok := value.(string); ok {
		return strconv.ParseBool(strings.TrimSpace(s))
	}
	return cast.ToBoolE(value)
}

// asDuration accepts Go duration strings such as "1m30s" and bare numbers,
// which are seconds: ramp_interval: 2.5 means two and a half seconds.
func asDuration(value interface{}) (time.Duration, error) {
	if blank(value) {
		return 0, nil
	}
	switch v := value.(type) {
	case time.Duration:
		return v, nil
	case string:
		v = strings.TrimSpace(v)
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			return time.ParseDuration(v)
		}
	}
	secs, err := asFloat64(value)
	if err != nil {
		return 0, fmt.Errorf("duration %v: %w", value, err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// asStringSlice accepts a YAML list or a single comma separated string, the
// form a list takes in the environment.
func asStringSlice(value interface{}) ([]string, error) {
	if blank(value) {
		return nil, nil
	}
	if s, ok := value.(string); ok {
		return strings.Split(s, ","), nil
	}
	return cast.ToStringSliceE(value)
}

// normalizeList trims, lowercases and drops empty entries, splitting any
// comma separated values.
func normalizeList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
