// Copyright 2026 The PhysioSeq Authors. SPDX-License-Identifier: Apache-2.0

package harness

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleHistory() *History {
	h := &History{}
	h.Append(0, map[string]float64{"val_loss": 0.9, "val_binary_accuracy": 0.6})
	h.Append(1, map[string]float64{"val_loss": 0.5, "val_binary_accuracy": 0.8, "val_f1_binary": 0.7})
	h.Append(2, map[string]float64{"val_loss": 0.6, "val_binary_accuracy": 0.75})
	return h
}

func TestHistoryAppendCopies(t *testing.T) {
	h := &History{}
	values := map[string]float64{"val_loss": 1.0}
	h.Append(0, values)
	values["val_loss"] = -1.0
	got, found := h.Last("val_loss")
	require.True(t, found)
	assert.Equal(t, 1.0, got)
}

func TestHistoryMetricNames(t *testing.T) {
	h := sampleHistory()
	assert.Equal(t, []string{"val_binary_accuracy", "val_f1_binary", "val_loss"}, h.MetricNames())
}

func TestHistoryLast(t *testing.T) {
	h := sampleHistory()
	got, found := h.Last("val_loss")
	require.True(t, found)
	assert.Equal(t, 0.6, got)

	// f1 was only recorded at epoch 1, Last still finds it there.
	got, found = h.Last("val_f1_binary")
	require.True(t, found)
	assert.Equal(t, 0.7, got)

	_, found = h.Last("val_unknown")
	assert.False(t, found)
}

func TestHistoryBest(t *testing.T) {
	h := sampleHistory()
	value, epoch, found := h.Best("val_binary_accuracy", true)
	require.True(t, found)
	assert.Equal(t, 0.8, value)
	assert.Equal(t, 1, epoch)

	value, epoch, found = h.Best("val_loss", false)
	require.True(t, found)
	assert.Equal(t, 0.5, value)
	assert.Equal(t, 1, epoch)

	_, _, found = h.Best("val_unknown", true)
	assert.False(t, found)
}

func TestHistoryWriteCSV(t *testing.T) {
	h := sampleHistory()
	var buf bytes.Buffer
	require.NoError(t, h.WriteCSV(&buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "epoch,val_binary_accuracy,val_f1_binary,val_loss", lines[0])
	assert.Equal(t, "1,0.8,0.7,0.5", lines[2])

	// Epochs without a value leave the cell empty.
	assert.Contains(t, lines[1], ",,")

	empty := &History{}
	assert.Error(t, empty.WriteCSV(&buf))
}
