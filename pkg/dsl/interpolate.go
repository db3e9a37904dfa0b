// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package dsl

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Interpolate replaces {dotted.path} placeholders in s using lookup.
// Unresolved placeholders are left verbatim. {{ and }} escape literal braces.
func Interpolate(s string, lookup func(path string) (interface{}, bool)) string {
	var sb strings.Builder
	for i := 0; i < len(s); {
		c := s[i]
		if c == '{' {
			if i+1 < len(s) && s[i+1] == '{' {
				sb.WriteByte('{')
				i += 2
				continue
			}
			end := strings.IndexByte(s[i:], '}')
			if end > 1 {
				path := s[i+1 : i+end]
				if validVarName(path) {
					if v, ok := lookup(path); ok {
						sb.WriteString(stringify(v))
						i += end + 1
						continue
					}
				}
			}
		}
		if c == '}' && i+1 < len(s) && s[i+1] == '}' {
			sb.WriteByte('}')
			i += 2
			continue
		}
		sb.WriteByte(c)
		i++
	}
	return sb.String()
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case bool, int, int64, float64:
		return fmt.Sprintf("%v", t)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(data)
	}
}
