// Package stats computes descriptive statistics over exported CSV datasets
// and renders side by side comparisons of two statistics summaries.
package stats

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"strconv"

	"github.com/kbukum/batchpredict/errors"
	"github.com/kbukum/batchpredict/storage"
)

// FeatureType is the inferred type of a column.
type FeatureType string

const (
	TypeFloat  FeatureType = "FLOAT"
	TypeString FeatureType = "STRING"
)

// FeatureStats summarises one column.
type FeatureStats struct {
	Name    string      `json:"name"`
	Type    FeatureType `json:"type"`
	Count   int         `json:"count"`
	Missing int         `json:"missing"`
	Mean    float64     `json:"mean,omitempty"`
	StdDev  float64     `json:"std_dev,omitempty"`
	Min     float64     `json:"min,omitempty"`
	Max     float64     `json:"max,omitempty"`
	Unique  int         `json:"unique,omitempty"`
	// Values counts occurrences of each string value.
	Values map[string]int `json:"values,omitempty"`
}

// Present returns the number of non-missing values.
func (f FeatureStats) Present() int { return f.Count - f.Missing }

// PresenceFraction returns the share of rows carrying a value.
func (f FeatureStats) PresenceFraction() float64 {
	if f.Count == 0 {
		return 0
	}
	return float64(f.Present()) / float64(f.Count)
}

// Distribution returns the normalised value frequencies of a string feature.
func (f FeatureStats) Distribution() map[string]float64 {
	total := 0
	for _, n := range f.Values {
		total += n
	}
	dist := make(map[string]float64, len(f.Values))
	if total == 0 {
		return dist
	}
	for v, n := range f.Values {
		dist[v] = float64(n) / float64(total)
	}
	return dist
}

// Statistics is the summary of a dataset.
type Statistics struct {
	Name        string         `json:"name,omitempty"`
	NumExamples int            `json:"num_examples"`
	Features    []FeatureStats `json:"features"`
}

// Feature looks up a feature by name.
func (s Statistics) Feature(name string) (FeatureStats, bool) {
	for _, f := range s.Features {
		if f.Name == name {
			return f, true
		}
	}
	return FeatureStats{}, false
}

// Read loads a statistics summary from storage.
func Read(ctx context.Context, store *storage.Resolver, uri string) (Statistics, error) {
	data, err := store.ReadAll(ctx, uri)
	if err != nil {
		return Statistics{}, err
	}
	var s Statistics
	if err := json.Unmarshal(data, &s); err != nil {
		return Statistics{}, errors.InvalidFormat("statistics", "JSON statistics summary").WithCause(err).WithDetail("uri", uri)
	}
	return s, nil
}

// accumulator gathers one column in a single pass.
type accumulator struct {
	name     string
	count    int
	missing  int
	numeric  bool
	n        int
	mean     float64
	m2       float64
	min, max float64
	values   map[string]int
}

func newAccumulator(name string) *accumulator {
	return &accumulator{name: name, numeric: true, values: make(map[string]int)}
}

func (a *accumulator) add(raw string) {
	a.count++
	if raw == "" {
		a.missing++
		return
	}
	a.values[raw]++
	if !a.numeric {
		return
	}
	x, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(x) {
		a.numeric = false
		return
	}
	a.n++
	if a.n == 1 {
		a.min, a.max = x, x
	} else {
		a.min = math.Min(a.min, x)
		a.max = math.Max(a.max, x)
	}
	// Welford's online update.
	delta := x - a.mean
	a.mean += delta / float64(a.n)
	a.m2 += delta * (x - a.mean)
}

func (a *accumulator) result() FeatureStats {
	f := FeatureStats{Name: a.name, Count: a.count, Missing: a.missing}
	if a.numeric && a.n > 0 {
		f.Type = TypeFloat
		f.Mean = a.mean
		f.StdDev = math.Sqrt(a.m2 / float64(a.n))
		f.Min, f.Max = a.min, a.max
		return f
	}
	f.Type = TypeString
	f.Unique = len(a.values)
	f.Values = a.values
	return f
}

// Summarizer computes Statistics from CSV records sharing one header.
type Summarizer struct {
	header []string
	cols   []*accumulator
	rows   int
}

// NewSummarizer starts a summary over columns named by header.
func NewSummarizer(header []string) *Summarizer {
	s := &Summarizer{header: append([]string(nil), header...)}
	for _, name := range header {
		s.cols = append(s.cols, newAccumulator(name))
	}
	return s
}

// Header returns the column names.
func (s *Summarizer) Header() []string { return s.header }

// Add records one row. Short rows count the absent cells as missing.
func (s *Summarizer) Add(record []string) {
	s.rows++
	for i, acc := range s.cols {
		if i < len(record) {
			acc.add(record[i])
		} else {
			acc.add("")
		}
	}
}

// Statistics returns the summary, features sorted by name.
func (s *Summarizer) Statistics(name string) Statistics {
	out := Statistics{Name: name, NumExamples: s.rows, Features: make([]FeatureStats, 0, len(s.cols))}
	for _, acc := range s.cols {
		out.Features = append(out.Features, acc.result())
	}
	sort.Slice(out.Features, func(i, j int) bool { return out.Features[i].Name < out.Features[j].Name })
	return out
}
