// SPDX-License-Identifier: AGPL-3.0
// Copyright 2026 Relaymesh Authors
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package learning implements per-agent tabular Q-learning with cost
// and latency shaping, plus federated averaging of local tables with
// optional differential privacy.
package learning

// Vocabulary assigns dense indices to state and action names. Indices
// are append-only so an existing table row or column never changes
// meaning.
type Vocabulary struct {
	index map[string]int
	names []string
}

// NewVocabulary creates an empty vocabulary.
func NewVocabulary() *Vocabulary {
	return &Vocabulary{index: make(map[string]int)}
}

// Index returns the index for name, assigning the next free slot on
// first sight.
func (v *Vocabulary) Index(name string) int {
	if i, ok := v.index[name]; ok {
		return i
	}
	i := len(v.names)
	v.index[name] = i
	v.names = append(v.names, name)
	return i
}

// Lookup returns the index for name without assigning one.
func (v *Vocabulary) Lookup(name string) (int, bool) {
	i, ok := v.index[name]
	return i, ok
}

// Name returns the name at index i.
func (v *Vocabulary) Name(i int) string {
	if i < 0 || i >= len(v.names) {
		return ""
	}
	return v.names[i]
}

// Len returns the number of assigned names.
func (v *Vocabulary) Len() int {
	return len(v.names)
}

// QTable is a dense states-by-actions value matrix. Growth preserves
// existing values and zero-fills new cells.
type QTable struct {
	values [][]float64
}

// NewQTable creates an empty table.
func NewQTable() *QTable {
	return &QTable{}
}

// ensure grows the table to cover (state, action).
func (t *QTable) ensure(state, action int) {
	for len(t.values) <= state {
		t.values = append(t.values, nil)
	}
	cols := action + 1
	for i := range t.values {
		for len(t.values[i]) < cols {
			t.values[i] = append(t.values[i], 0)
		}
	}
}

// Get returns the value at (state, action), zero when out of range.
func (t *QTable) Get(state, action int) float64 {
	if state < 0 || state >= len(t.values) {
		return 0
	}
	row := t.values[state]
	if action < 0 || action >= len(row) {
		return 0
	}
	return row[action]
}

// Set writes the value at (state, action), growing as needed.
func (t *QTable) Set(state, action int, value float64) {
	t.ensure(state, action)
	t.values[state][action] = value
}

// MaxForState returns the best value across actions for the state,
// zero when the state is unknown.
func (t *QTable) MaxForState(state int) float64 {
	if state < 0 || state >= len(t.values) {
		return 0
	}
	best := 0.0
	for i, v := range t.values[state] {
		if i == 0 || v > best {
			best = v
		}
	}
	return best
}

// Shape returns (states, actions) dimensions.
func (t *QTable) Shape() (int, int) {
	states := len(t.values)
	actions := 0
	if states > 0 {
		actions = len(t.values[0])
	}
	return states, actions
}

// Snapshot returns a deep copy of the value matrix.
func (t *QTable) Snapshot() [][]float64 {
	out := make([][]float64, len(t.values))
	for i, row := range t.values {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// Load replaces the table contents with a deep copy of values.
func (t *QTable) Load(values [][]float64) {
	t.values = make([][]float64, len(values))
	for i, row := range values {
		t.values[i] = append([]float64(nil), row...)
	}
}
