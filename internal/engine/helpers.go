/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package engine

import (
	"fmt"
	"time"

	"github.com/iLLeniumStudios/vigilant/internal/timeutil"
)

// coerceJSON normalizes module-produced data to JSON-compatible values.
// Timestamps become ISO strings; values of unknown types become their string
// form.
func coerceJSON(data map[string]any) map[string]any {
	result := make(map[string]any, len(data))
	for key, value := range data {
		result[key] = coerceValue(value)
	}
	return result
}

func coerceValue(v any) any {
	switch value := v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return value
	case time.Time:
		return timeutil.FormatISO(&value)
	case *time.Time:
		return timeutil.FormatISO(value)
	case map[string]any:
		return coerceJSON(value)
	case []any:
		coerced := make([]any, len(value))
		for i, item := range value {
			coerced[i] = coerceValue(item)
		}
		return coerced
	default:
		return fmt.Sprint(value)
	}
}

// extractModelID pulls the stable external identity out of the data
func extractModelID(data map[string]any, modelIDKey string) (string, bool) {
	value, ok := data[modelIDKey]
	if !ok || value == nil {
		return "", false
	}
	return fmt.Sprint(value), true
}
