// Copyright 2026 The PhysioSeq Authors. SPDX-License-Identifier: Apache-2.0

package scores

import (
	"math"
	"sort"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// hostFloats materializes a tensor on the host as a flat []float64.
// This synchronizes with the device, so host-side scores belong in periodic
// evaluation, not the per-step hot path.
func hostFloats(t *tensors.Tensor) (out []float64, err error) {
	convert := func(get func(i int) float64, n int) {
		out = make([]float64, n)
		for i := range out {
			out[i] = get(i)
		}
	}
	switch t.DType() {
	case dtypes.Float32:
		err = tensors.ConstFlatData(t, func(flat []float32) {
			convert(func(i int) float64 { return float64(flat[i]) }, len(flat))
		})
	case dtypes.Float64:
		err = tensors.ConstFlatData(t, func(flat []float64) {
			out = make([]float64, len(flat))
			copy(out, flat)
		})
	case dtypes.Int32:
		err = tensors.ConstFlatData(t, func(flat []int32) {
			convert(func(i int) float64 { return float64(flat[i]) }, len(flat))
		})
	case dtypes.Int64:
		err = tensors.ConstFlatData(t, func(flat []int64) {
			convert(func(i int) float64 { return float64(flat[i]) }, len(flat))
		})
	case dtypes.Int8:
		err = tensors.ConstFlatData(t, func(flat []int8) {
			convert(func(i int) float64 { return float64(flat[i]) }, len(flat))
		})
	case dtypes.Uint8:
		err = tensors.ConstFlatData(t, func(flat []uint8) {
			convert(func(i int) float64 { return float64(flat[i]) }, len(flat))
		})
	default:
		err = errors.Errorf("host-side score: unsupported dtype %s", t.DType())
	}
	return
}

// hostRows materializes output as a row-major [rows][numClasses] matrix and
// target as the per-row hard class labels (arg-max for distribution targets).
func hostRows(target, output *tensors.Tensor) (labels []int, logits []float64, numClasses int, err error) {
	outDims := output.Shape().Dimensions
	if len(outDims) < 2 {
		return nil, nil, 0, errors.Errorf("host-side score requires logits with a class axis, got shape %s", output.Shape())
	}
	numClasses = outDims[len(outDims)-1]
	logits, err = hostFloats(output)
	if err != nil {
		return nil, nil, 0, err
	}
	rows := len(logits) / numClasses

	targetFloats, err := hostFloats(target)
	if err != nil {
		return nil, nil, 0, err
	}
	labels = make([]int, rows)
	switch len(targetFloats) {
	case rows:
		for i, v := range targetFloats {
			labels[i] = int(v)
		}
	case rows * numClasses:
		for i := range labels {
			row := targetFloats[i*numClasses : (i+1)*numClasses]
			best := 0
			for j, v := range row {
				if v > row[best] {
					best = j
				}
			}
			labels[i] = best
		}
	default:
		return nil, nil, 0, errors.Errorf(
			"target with %d elements matches neither %d class indices nor %dx%d distributions",
			len(targetFloats), rows, rows, numClasses)
	}
	return labels, logits, numClasses, nil
}

// confusionCounts accumulates per-class true-positive, false-positive and
// false-negative counts from arg-max predictions.
func confusionCounts(labels []int, logits []float64, numClasses int) (tp, fp, fn []float64) {
	tp = make([]float64, numClasses)
	fp = make([]float64, numClasses)
	fn = make([]float64, numClasses)
	for i, label := range labels {
		row := logits[i*numClasses : (i+1)*numClasses]
		predicted := 0
		for j, v := range row {
			if v > row[predicted] {
				predicted = j
			}
		}
		if predicted == label {
			tp[label]++
		} else {
			fp[predicted]++
			fn[label]++
		}
	}
	return
}

func f1FromCounts(tp, fp, fn float64) float64 {
	denominator := 2*tp + fp + fn
	if denominator == 0 {
		return 0
	}
	return 2 * tp / denominator
}

// F1Binary is the F1 score of the positive class (class 1) under arg-max
// predictions.
func F1Binary(target, output *tensors.Tensor) (float64, error) {
	labels, logits, numClasses, err := hostRows(target, output)
	if err != nil {
		return 0, err
	}
	if numClasses != 2 {
		return 0, errors.Errorf("f1_binary requires 2 classes, got %d", numClasses)
	}
	tp, fp, fn := confusionCounts(labels, logits, numClasses)
	return f1FromCounts(tp[1], fp[1], fn[1]), nil
}

// F1Macro is the unweighted mean of per-class F1 scores; classes that never
// occur score zero.
func F1Macro(target, output *tensors.Tensor) (float64, error) {
	labels, logits, numClasses, err := hostRows(target, output)
	if err != nil {
		return 0, err
	}
	tp, fp, fn := confusionCounts(labels, logits, numClasses)
	total := 0.0
	for class := 0; class < numClasses; class++ {
		total += f1FromCounts(tp[class], fp[class], fn[class])
	}
	return total / float64(numClasses), nil
}

// F1Micro pools counts over all classes before forming the F1 ratio.
func F1Micro(target, output *tensors.Tensor) (float64, error) {
	labels, logits, numClasses, err := hostRows(target, output)
	if err != nil {
		return 0, err
	}
	tp, fp, fn := confusionCounts(labels, logits, numClasses)
	var sumTP, sumFP, sumFN float64
	for class := 0; class < numClasses; class++ {
		sumTP += tp[class]
		sumFP += fp[class]
		sumFN += fn[class]
	}
	return f1FromCounts(sumTP, sumFP, sumFN), nil
}

// rocAUC computes the area under the ROC curve of the positive-class
// probability (softmax over two logits columns, column 1).
func rocAUC(target, output *tensors.Tensor) (float64, error) {
	labels, logits, numClasses, err := hostRows(target, output)
	if err != nil {
		return 0, err
	}
	if numClasses != 2 {
		return 0, errors.Errorf("roc_auc requires 2 classes, got %d", numClasses)
	}
	n := len(labels)
	scores := make([]float64, n)
	classes := make([]bool, n)
	for i := range labels {
		l0, l1 := logits[i*2], logits[i*2+1]
		m := math.Max(l0, l1)
		e0, e1 := math.Exp(l0-m), math.Exp(l1-m)
		scores[i] = e1 / (e0 + e1)
		classes[i] = labels[i] == 1
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return scores[order[a]] < scores[order[b]] })
	sortedScores := make([]float64, n)
	sortedClasses := make([]bool, n)
	for i, idx := range order {
		sortedScores[i] = scores[idx]
		sortedClasses[i] = classes[idx]
	}
	tpr, fpr, _ := stat.ROC(nil, sortedScores, sortedClasses, nil)
	return integrate.Trapezoidal(fpr, tpr), nil
}

// ROCAUCMacro is the ROC-AUC of the positive-class probability. With a single
// score column the macro and micro averages coincide; both names are kept so
// configurations can name either convention.
func ROCAUCMacro(target, output *tensors.Tensor) (float64, error) {
	return rocAUC(target, output)
}

// ROCAUCMicro is the ROC-AUC of the positive-class probability.
func ROCAUCMicro(target, output *tensors.Tensor) (float64, error) {
	return rocAUC(target, output)
}
