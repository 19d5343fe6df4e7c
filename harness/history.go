// Copyright 2026 The PhysioSeq Authors. SPDX-License-Identifier: Apache-2.0

package harness

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/go-gota/gota/dataframe"
	"github.com/pkg/errors"
)

// EpochRecord holds the metric values measured after one epoch.
type EpochRecord struct {
	Epoch  int
	Values map[string]float64
}

// History accumulates per-epoch metric records for one training run. It is a
// plain value owned by the caller, so concurrent runs don't share state.
type History struct {
	Records []EpochRecord
}

// Append records the metric values of one epoch.
func (h *History) Append(epoch int, values map[string]float64) {
	copied := make(map[string]float64, len(values))
	for name, v := range values {
		copied[name] = v
	}
	h.Records = append(h.Records, EpochRecord{Epoch: epoch, Values: copied})
}

// MetricNames returns the sorted union of metric names across all epochs.
func (h *History) MetricNames() []string {
	seen := make(map[string]bool)
	for _, record := range h.Records {
		for name := range record.Values {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Last returns the most recent value recorded under name.
func (h *History) Last(name string) (float64, bool) {
	for i := len(h.Records) - 1; i >= 0; i-- {
		if v, found := h.Records[i].Values[name]; found {
			return v, true
		}
	}
	return 0, false
}

// Best returns the best value recorded under name and its epoch. higherIsBetter
// selects the direction.
func (h *History) Best(name string, higherIsBetter bool) (value float64, epoch int, found bool) {
	for _, record := range h.Records {
		v, ok := record.Values[name]
		if !ok {
			continue
		}
		better := !found || (higherIsBetter && v > value) || (!higherIsBetter && v < value)
		if better {
			value, epoch, found = v, record.Epoch, true
		}
	}
	return
}

// WriteCSV writes the history as a CSV table, one row per epoch, with an
// "epoch" column followed by the metric columns in sorted order. Epochs
// missing a metric leave the cell empty.
func (h *History) WriteCSV(w io.Writer) error {
	if len(h.Records) == 0 {
		return errors.New("history is empty, nothing to write")
	}
	names := h.MetricNames()
	records := make([][]string, 0, len(h.Records)+1)
	header := append([]string{"epoch"}, names...)
	records = append(records, header)
	for _, record := range h.Records {
		row := make([]string, 0, len(header))
		row = append(row, strconv.Itoa(record.Epoch))
		for _, name := range names {
			if v, found := record.Values[name]; found {
				row = append(row, fmt.Sprintf("%g", v))
			} else {
				row = append(row, "")
			}
		}
		records = append(records, row)
	}
	// Keep the columns as strings so missing cells stay empty instead of NaN.
	df := dataframe.LoadRecords(records, dataframe.DetectTypes(false))
	if df.Error() != nil {
		return errors.Wrap(df.Error(), "failed to build history table")
	}
	return errors.Wrap(df.WriteCSV(w), "failed to write history CSV")
}

// SaveCSV writes the history CSV to path.
func (h *History) SaveCSV(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "cannot create history CSV %q", path)
	}
	if err := h.WriteCSV(file); err != nil {
		_ = file.Close()
		return err
	}
	return errors.Wrapf(file.Close(), "failed closing history CSV %q", path)
}
