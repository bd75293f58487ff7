/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package types

import "sort"

// Fields is a column->value payload used for inserts and partial updates.
type Fields map[string]interface{}

// Clone returns a shallow copy so callers never observe mutations made by
// the repository (for example a generated primary key).
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Merge returns a new Fields containing f overlaid with other. Keys in f win
// so that lookup filters are never overwritten by defaults.
func (f Fields) Merge(other Fields) Fields {
	out := make(Fields, len(f)+len(other))
	for k, v := range other {
		out[k] = v
	}
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Filters is an equality predicate over columns: every key must match its
// value. SortedKeys keeps the generated SQL deterministic.
type Filters map[string]interface{}

// SortedKeys returns the filter columns in ascending order.
func (f Filters) SortedKeys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Fields converts the filters into an insert payload.
func (f Filters) Fields() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// QueryFilter describes a raw WHERE clause schema and its argument values,
// for predicates that equality filters cannot express.
type QueryFilter struct {
	Schema string
	Args   []interface{}
}

// NewQueryFilter creates a new query filter with schema and args.
func NewQueryFilter(schema string, args ...interface{}) *QueryFilter {
	return &QueryFilter{schema, args}
}
