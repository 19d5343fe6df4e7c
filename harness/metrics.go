// Copyright 2026 The PhysioSeq Authors. SPDX-License-Identifier: Apache-2.0

package harness

import (
	"io"

	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/pkg/errors"

	"github.com/physioseq/physioseq/scores"
)

// ResolveLoss looks up the graph score registered under name for use as the
// training loss. Host and loss-derived scores can't serve as a loss.
func ResolveLoss(name string) (scores.GraphFunc, error) {
	m, err := scores.Get(name)
	if err != nil {
		return nil, err
	}
	if m.Graph == nil {
		return nil, errors.Errorf("score %q cannot serve as a training loss: it does not build a graph", name)
	}
	return m.Graph, nil
}

// graphMetric adapts a registry graph score into a trainer metric, averaged
// over the evaluated batches.
func graphMetric(name string, fn scores.GraphFunc) metrics.Interface {
	return metrics.NewMeanMetric(name, "#"+name, name,
		func(ctx *context.Context, labels, predictions []*Node) *Node {
			return fn(labels, predictions)
		}, nil)
}

// ResolveMetrics splits the requested score names into trainer metrics
// (graph scores, with loss-derived ones bound to baseLoss) and host scores
// for the epoch-end host pass.
func ResolveMetrics(names []string, baseLoss scores.GraphFunc) (graphMetrics []metrics.Interface, hostMetrics []scores.Metric, err error) {
	for _, name := range names {
		m, getErr := scores.Get(name)
		if getErr != nil {
			return nil, nil, getErr
		}
		switch {
		case m.Graph != nil:
			graphMetrics = append(graphMetrics, graphMetric(name, m.Graph))
		case m.FromLoss != nil:
			if baseLoss == nil {
				return nil, nil, errors.Errorf("score %q is derived from the loss, but no loss is configured", name)
			}
			fromLoss := m.FromLoss
			graphMetrics = append(graphMetrics, graphMetric(name,
				func(labels, outputs []*Node) *Node {
					return fromLoss(labels, outputs, baseLoss)
				}))
		default:
			hostMetrics = append(hostMetrics, m)
		}
	}
	return graphMetrics, hostMetrics, nil
}

// HostEvaluator runs the model over a dataset and computes host scores
// (F1, ROC-AUC) on the concatenated predictions. It materializes every batch
// on the host, so it is meant for the end of an epoch, not the step loop.
type HostEvaluator struct {
	exec        *context.Exec
	hostMetrics []scores.Metric
}

// NewHostEvaluator builds the evaluator around the trained variables in ctx.
// The model runs in inference mode.
func NewHostEvaluator(backend backends.Backend, ctx *context.Context, modelFn train.ModelFn, hostMetrics []scores.Metric) *HostEvaluator {
	exec := context.MustNewExec(backend, ctx.Reuse(), func(ctx *context.Context, exams *Node) *Node {
		ctx.SetTraining(exams.Graph(), false)
		return modelFn(ctx, nil, []*Node{exams})[0]
	})
	return &HostEvaluator{exec: exec, hostMetrics: hostMetrics}
}

// Eval runs one pass over ds and returns the host scores by name.
func (e *HostEvaluator) Eval(ds train.Dataset) (map[string]float64, error) {
	if len(e.hostMetrics) == 0 {
		return nil, nil
	}
	var targets, outputs []*tensors.Tensor
	ds.Reset()
	for {
		_, inputs, labels, err := ds.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "host evaluation failed reading dataset %q", ds.Name())
		}
		if len(inputs) == 0 || len(labels) == 0 {
			return nil, errors.Errorf("host evaluation: dataset %q yielded no inputs or labels", ds.Name())
		}
		output, err := e.exec.Exec1(inputs[0])
		if err != nil {
			return nil, errors.Wrapf(err, "host evaluation failed executing model on dataset %q", ds.Name())
		}
		targets = append(targets, labels[0])
		outputs = append(outputs, output)
	}
	if len(outputs) == 0 {
		return nil, errors.Errorf("host evaluation: dataset %q yielded no batches", ds.Name())
	}

	target, err := concatBatches(targets)
	if err != nil {
		return nil, err
	}
	output, err := concatBatches(outputs)
	if err != nil {
		return nil, err
	}
	values := make(map[string]float64, len(e.hostMetrics))
	for _, m := range e.hostMetrics {
		v, err := m.Host(target, output)
		if err != nil {
			return nil, errors.WithMessagef(err, "host score %q", m.Name)
		}
		values[m.Name] = v
	}
	return values, nil
}

// concatBatches concatenates tensors along axis 0 on the host.
func concatBatches(batches []*tensors.Tensor) (*tensors.Tensor, error) {
	if len(batches) == 1 {
		return batches[0], nil
	}
	first := batches[0].Shape()
	totalRows := 0
	totalBytes := 0
	for _, b := range batches {
		shape := b.Shape()
		if shape.DType != first.DType || shape.Rank() != first.Rank() {
			return nil, errors.Errorf("cannot concatenate batches of shapes %s and %s", first, shape)
		}
		for axis := 1; axis < shape.Rank(); axis++ {
			if shape.Dimensions[axis] != first.Dimensions[axis] {
				return nil, errors.Errorf("cannot concatenate batches of shapes %s and %s", first, shape)
			}
		}
		totalRows += shape.Dimensions[0]
		totalBytes += int(shape.Memory())
	}
	newDims := append([]int{totalRows}, first.Dimensions[1:]...)
	result := tensors.FromShape(shapes.Make(first.DType, newDims...))
	var copyErr error
	accessErr := result.MutableBytes(func(dst []byte) {
		offset := 0
		for _, b := range batches {
			copyErr = b.ConstBytes(func(src []byte) {
				copy(dst[offset:offset+len(src)], src)
				offset += len(src)
			})
			if copyErr != nil {
				return
			}
		}
	})
	if accessErr != nil {
		return nil, accessErr
	}
	if copyErr != nil {
		return nil, copyErr
	}
	return result, nil
}
