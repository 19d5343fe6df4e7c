// Copyright 2026 The PhysioSeq Authors. SPDX-License-Identifier: Apache-2.0

// Package ecg loads physiological time-series exams: an HDF5 archive with the
// raw tracings, shaped [numExams, numSamples, numLeads], and a CSV table with
// one row of binary condition labels per exam.
package ecg

import (
	"math/rand"
	"os"

	"github.com/go-gota/gota/dataframe"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

// Data pairs the tracings with their label rows.
type Data struct {
	// Tracings is [numExams, numSamples, numLeads].
	Tracings *tensors.Tensor
	// Labels is [numExams, numConditions], float32 0/1 values.
	Labels *tensors.Tensor
	// ConditionNames are the label column names, in label order.
	ConditionNames []string
}

// NumExams returns the number of exams.
func (d *Data) NumExams() int {
	return d.Tracings.Shape().Dimensions[0]
}

// LoadLabels reads the CSV label table: a header row with condition names
// followed by one row of 0/1 values per exam.
func LoadLabels(path string) (labels *tensors.Tensor, conditionNames []string, err error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "cannot open labels CSV %q", path)
	}
	defer func() { _ = file.Close() }()

	df := dataframe.ReadCSV(file)
	if df.Error() != nil {
		return nil, nil, errors.Wrapf(df.Error(), "cannot parse labels CSV %q", path)
	}
	numExams, numConditions := df.Nrow(), df.Ncol()
	if numExams == 0 || numConditions == 0 {
		return nil, nil, errors.Errorf("labels CSV %q has no data (%d rows x %d columns)", path, numExams, numConditions)
	}
	conditionNames = df.Names()
	flat := make([]float32, numExams*numConditions)
	for col, name := range conditionNames {
		values := df.Col(name).Float()
		for row, v := range values {
			flat[row*numConditions+col] = float32(v)
		}
	}
	return tensors.FromFlatDataAndDimensions(flat, numExams, numConditions), conditionNames, nil
}

// Load reads the tracings dataset at groupPath from the HDF5 file and the
// label table, and checks they describe the same exams.
func Load(tracingsPath, groupPath, labelsPath string) (*Data, error) {
	bar := progressbar.NewOptions(2,
		progressbar.OptionSetDescription("loading exams"),
		progressbar.OptionClearOnFinish())
	tracings, err := LoadTracings(tracingsPath, groupPath)
	if err != nil {
		return nil, err
	}
	_ = bar.Add(1)
	labels, conditionNames, err := LoadLabels(labelsPath)
	if err != nil {
		return nil, err
	}
	_ = bar.Add(1)
	_ = bar.Finish()

	if tracings.Shape().Dimensions[0] != labels.Shape().Dimensions[0] {
		return nil, errors.Errorf("tracings hold %d exams but labels CSV has %d rows",
			tracings.Shape().Dimensions[0], labels.Shape().Dimensions[0])
	}
	klog.V(1).Infof("loaded %d exams: tracings %s, labels %s", tracings.Shape().Dimensions[0],
		tracings.Shape(), labels.Shape())
	return &Data{Tracings: tracings, Labels: labels, ConditionNames: conditionNames}, nil
}

// gatherRows builds a new tensor from the given example rows of t (axis 0),
// in order. Works on raw bytes so any dtype is supported.
func gatherRows(t *tensors.Tensor, rows []int) (*tensors.Tensor, error) {
	shape := t.Shape()
	if shape.Rank() < 1 {
		return nil, errors.Errorf("cannot gather rows of scalar tensor %s", shape)
	}
	numRows := shape.Dimensions[0]
	rowBytes := int(shape.Memory()) / numRows
	newDims := append([]int{len(rows)}, shape.Dimensions[1:]...)
	gathered := tensors.FromShape(shapes.Make(shape.DType, newDims...))
	var gatherErr error
	err := t.ConstBytes(func(src []byte) {
		accessErr := gathered.MutableBytes(func(dst []byte) {
			for i, row := range rows {
				if row < 0 || row >= numRows {
					gatherErr = errors.Errorf("row %d out of range [0, %d)", row, numRows)
					return
				}
				copy(dst[i*rowBytes:(i+1)*rowBytes], src[row*rowBytes:(row+1)*rowBytes])
			}
		})
		if gatherErr == nil {
			gatherErr = accessErr
		}
	})
	if err != nil {
		return nil, err
	}
	if gatherErr != nil {
		return nil, gatherErr
	}
	return gathered, nil
}

// Split shuffles the exams with the given seed and splits off valFraction of
// them for validation. The same seed always yields the same partition.
func (d *Data) Split(valFraction float64, seed int64) (train, validation *Data, err error) {
	if valFraction <= 0 || valFraction >= 1 {
		return nil, nil, errors.Errorf("valFraction must be in (0, 1), got %g", valFraction)
	}
	numExams := d.NumExams()
	numVal := int(float64(numExams) * valFraction)
	if numVal == 0 || numVal == numExams {
		return nil, nil, errors.Errorf("split of %d exams at fraction %g leaves an empty side", numExams, valFraction)
	}
	perm := rand.New(rand.NewSource(seed)).Perm(numExams)
	build := func(rows []int) (*Data, error) {
		tracings, err := gatherRows(d.Tracings, rows)
		if err != nil {
			return nil, err
		}
		labels, err := gatherRows(d.Labels, rows)
		if err != nil {
			return nil, err
		}
		return &Data{Tracings: tracings, Labels: labels, ConditionNames: d.ConditionNames}, nil
	}
	train, err = build(perm[numVal:])
	if err != nil {
		return nil, nil, err
	}
	validation, err = build(perm[:numVal])
	if err != nil {
		return nil, nil, err
	}
	return train, validation, nil
}

// InMemoryDataset uploads the exams to the backend as an in-memory dataset.
// Tracings are converted to float32 if the archive stores them wider.
func InMemoryDataset(backend backends.Backend, name string, d *Data) (*datasets.InMemoryDataset, error) {
	tracings := d.Tracings
	if tracings.DType() != dtypes.Float32 {
		converted, err := convertToFloat32(tracings)
		if err != nil {
			return nil, err
		}
		tracings = converted
	}
	return datasets.InMemoryFromData(backend, name,
		[]any{tracings}, []any{d.Labels})
}

func convertToFloat32(t *tensors.Tensor) (*tensors.Tensor, error) {
	switch t.DType() {
	case dtypes.Float64:
		var flat []float32
		err := tensors.ConstFlatData(t, func(src []float64) {
			flat = make([]float32, len(src))
			for i, v := range src {
				flat[i] = float32(v)
			}
		})
		if err != nil {
			return nil, err
		}
		return tensors.FromFlatDataAndDimensions(flat, t.Shape().Dimensions...), nil
	case dtypes.Float16:
		var flat []float32
		err := tensors.ConstFlatData(t, func(src []float16.Float16) {
			flat = make([]float32, len(src))
			for i, v := range src {
				flat[i] = v.Float32()
			}
		})
		if err != nil {
			return nil, err
		}
		return tensors.FromFlatDataAndDimensions(flat, t.Shape().Dimensions...), nil
	case dtypes.Int16:
		var flat []float32
		err := tensors.ConstFlatData(t, func(src []int16) {
			flat = make([]float32, len(src))
			for i, v := range src {
				flat[i] = float32(v)
			}
		})
		if err != nil {
			return nil, err
		}
		return tensors.FromFlatDataAndDimensions(flat, t.Shape().Dimensions...), nil
	default:
		return nil, errors.Errorf("cannot convert tracings of dtype %s to float32", t.DType())
	}
}
