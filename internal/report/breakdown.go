package report

import (
	"bytes"
	"encoding/json"

	"github.com/elliotchance/orderedmap/v2"
)

// Tally partitions a set of executions by outcome.
type Tally struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// Rate is the success percentage, 0 when empty.
func (t Tally) Rate() float64 {
	if t.Total == 0 {
		return 0
	}
	return float64(t.Success) / float64(t.Total) * 100
}

// Entry is one row of a Breakdown.
type Entry struct {
	Key string
	Tally
}

// Breakdown is a tally per tag that remembers the order tags were first seen.
type Breakdown struct {
	m *orderedmap.OrderedMap[string, Tally]
}

func NewBreakdown() *Breakdown {
	return &Breakdown{m: orderedmap.NewOrderedMap[string, Tally]()}
}

// Add counts one execution under key.
func (b *Breakdown) Add(key string, success bool) {
	t, _ := b.m.Get(key)
	t.Total++
	if success {
		t.Success++
	} else {
		t.Failed++
	}
	b.m.Set(key, t)
}

// Get returns the tally for key; unseen keys read as zero.
func (b *Breakdown) Get(key string) Tally {
	t, _ := b.m.Get(key)
	return t
}

func (b *Breakdown) Keys() []string {
	return b.m.Keys()
}

func (b *Breakdown) Len() int {
	return b.m.Len()
}

// Entries returns the rows in first-seen order.
func (b *Breakdown) Entries() []Entry {
	out := make([]Entry, 0, b.m.Len())
	for el := b.m.Front(); el != nil; el = el.Next() {
		out = append(out, Entry{Key: el.Key, Tally: el.Value})
	}
	return out
}

// MarshalJSON encodes the breakdown as an object with keys in first-seen order.
func (b *Breakdown) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range b.Entries() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(e.Tally)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
