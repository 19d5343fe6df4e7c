// Copyright 2026 The PhysioSeq Authors. SPDX-License-Identifier: Apache-2.0

package ecg

import (
	"bytes"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Tracings archives come as HDF5 files. Rather than binding libhdf5, the
// reader shells out to `h5dump` (from the hdf5-tools package): once to list
// and describe the datasets, once more to extract the raw binary payload.

const h5DumpBinary = "h5dump"

// TracingsFile describes the tensor-compatible datasets of one HDF5 file,
// keyed by their full group path.
type TracingsFile struct {
	Path     string
	Datasets map[string]*H5Dataset
}

// H5Dataset is the metadata of one dataset within an HDF5 file. DATATYPE and
// DATASPACE are translated to a shapes.Shape; datasets with unsupported
// types keep an invalid shape and can't be loaded.
type H5Dataset struct {
	FilePath  string
	GroupPath string
	DType     dtypes.DType
	Shape     shapes.Shape
}

var (
	regexpH5Datasets  = regexp.MustCompile(`\s+dataset\s+(/.*)\n`)
	regexpH5Name      = regexp.MustCompile(`\s+"(.*?)" \{\n`)
	regexpH5DataType  = regexp.MustCompile(`\s+DATATYPE\s+(\w.*?)\n`)
	regexpH5DataSpace = regexp.MustCompile(`\s+DATASPACE\s+(\w+)(\s+\{\s+\((.*?)\).*?)?\n`)
)

// dtypeForH5Type maps the HDF5 type names used in tracings archives to
// dtypes. Unsupported types map to InvalidDType.
func dtypeForH5Type(h5Type string) dtypes.DType {
	switch h5Type {
	case "H5T_IEEE_F16LE", "H5T_IEEE_F16BE":
		return dtypes.Float16
	case "H5T_IEEE_F32LE", "H5T_IEEE_F32BE":
		return dtypes.Float32
	case "H5T_IEEE_F64LE", "H5T_IEEE_F64BE":
		return dtypes.Float64
	case "H5T_STD_I16LE", "H5T_STD_I16BE":
		return dtypes.Int16
	case "H5T_STD_I32LE", "H5T_STD_I32BE":
		return dtypes.Int32
	case "H5T_STD_I64LE", "H5T_STD_I64BE":
		return dtypes.Int64
	}
	return dtypes.InvalidDType
}

// ParseTracingsFile lists the datasets of the HDF5 file at path and parses
// their types and shapes.
func ParseTracingsFile(path string) (*TracingsFile, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, "cannot access HDF5 file %q", path)
	}
	listing, err := execH5Dump("--contents", path)
	if err != nil {
		return nil, err
	}
	file := &TracingsFile{Path: path, Datasets: make(map[string]*H5Dataset)}
	for _, match := range regexpH5Datasets.FindAllStringSubmatch(string(listing), -1) {
		groupPath := match[1]
		if strings.HasPrefix(groupPath, "-") {
			return nil, errors.Errorf("invalid dataset name starting with '-': %q", groupPath)
		}
		file.Datasets[groupPath] = &H5Dataset{FilePath: path, GroupPath: groupPath}
	}
	if len(file.Datasets) == 0 {
		return nil, errors.Errorf("no datasets found in HDF5 file %q", path)
	}

	headerArgs := make([]string, 0, len(file.Datasets)+2)
	headerArgs = append(headerArgs, "--header")
	for key := range file.Datasets {
		headerArgs = append(headerArgs, "--dataset="+key)
	}
	headerArgs = append(headerArgs, path)
	headerOut, err := execH5Dump(headerArgs...)
	if err != nil {
		return nil, err
	}
	headers := strings.Split(string(headerOut), "DATASET")
	if len(headers)-1 != len(file.Datasets) {
		return nil, errors.Errorf("parsing %q: expected %d dataset headers, got %d",
			path, len(file.Datasets), len(headers)-1)
	}
	for _, header := range headers[1:] {
		if err := file.parseHeader(header); err != nil {
			return nil, err
		}
	}
	return file, nil
}

func (f *TracingsFile) parseHeader(header string) error {
	matches := regexpH5Name.FindStringSubmatch(header)
	if len(matches) != 2 {
		return errors.Errorf("parsing %q: cannot find dataset name in header %q", f.Path, header)
	}
	ds, found := f.Datasets[matches[1]]
	if !found {
		return errors.Errorf("parsing %q: header for unknown dataset %q", f.Path, matches[1])
	}

	matches = regexpH5DataType.FindStringSubmatch(header)
	if len(matches) != 2 {
		return nil
	}
	ds.DType = dtypeForH5Type(matches[1])
	if ds.DType == dtypes.InvalidDType {
		return nil
	}

	matches = regexpH5DataSpace.FindStringSubmatch(header)
	if len(matches) != 4 {
		return nil
	}
	switch matches[1] {
	case "SCALAR":
		ds.Shape = shapes.Make(ds.DType)
	case "SIMPLE":
		dimsParts := strings.Split(matches[3], ",")
		dims := make([]int, 0, len(dimsParts))
		for _, dimStr := range dimsParts {
			dim, numErr := strconv.Atoi(strings.TrimSpace(dimStr))
			if numErr != nil {
				klog.Warningf("parsing %q dataset %q: unparseable dimension in DATASPACE", f.Path, ds.GroupPath)
				return nil
			}
			dims = append(dims, dim)
		}
		ds.Shape = shapes.Make(ds.DType, dims...)
	}
	return nil
}

// Load extracts the dataset's binary payload into a tensor.
func (ds *H5Dataset) Load() (*tensors.Tensor, error) {
	if !ds.Shape.Ok() {
		return nil, errors.Errorf("dataset %q of %q has no tensor-compatible shape", ds.GroupPath, ds.FilePath)
	}
	tmpFile, err := os.CreateTemp("", "ecg_tracings")
	if err == nil {
		err = tmpFile.Close()
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create temporary file to extract HDF5 dataset")
	}
	defer func() {
		if removeErr := os.Remove(tmpFile.Name()); removeErr != nil {
			klog.Warningf("failed to remove temporary file %q: %+v", tmpFile.Name(), removeErr)
		}
	}()
	_, err = execH5Dump("--dataset="+ds.GroupPath, "--binary=NATIVE", "--output="+tmpFile.Name(), ds.FilePath)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(tmpFile.Name())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read extracted HDF5 dataset from %q", tmpFile.Name())
	}

	tensor := tensors.FromShape(ds.Shape)
	accessErr := tensor.MutableBytes(func(data []byte) {
		if len(raw) != len(data) {
			err = errors.Errorf("dataset %q: extracted %d bytes but shape %s needs %d",
				ds.GroupPath, len(raw), ds.Shape, len(data))
			return
		}
		copy(data, raw)
	})
	if accessErr != nil {
		return nil, accessErr
	}
	if err != nil {
		return nil, err
	}
	return tensor, nil
}

// LoadTracings parses the HDF5 file at path and loads the dataset at
// groupPath, expected to hold the [numExams, numSamples, numLeads] tracings
// tensor.
func LoadTracings(path, groupPath string) (*tensors.Tensor, error) {
	file, err := ParseTracingsFile(path)
	if err != nil {
		return nil, err
	}
	ds, found := file.Datasets[groupPath]
	if !found {
		names := make([]string, 0, len(file.Datasets))
		for name := range file.Datasets {
			names = append(names, name)
		}
		return nil, errors.Errorf("dataset %q not found in %q -- available: %v", groupPath, path, names)
	}
	tracings, err := ds.Load()
	if err != nil {
		return nil, err
	}
	if tracings.Rank() != 3 {
		return nil, errors.Errorf("tracings dataset %q has shape %s, expected rank-3 [numExams, numSamples, numLeads]",
			groupPath, tracings.Shape())
	}
	return tracings, nil
}

func execH5Dump(args ...string) ([]byte, error) {
	binPath, err := exec.LookPath(h5DumpBinary)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot find `h5dump` in PATH, needed to read HDF5 tracings "+
			"files -- install the hdf5-tools package")
	}
	klog.V(2).Infof("using h5dump from %q", binPath)
	cmd := exec.Command(binPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, "failed executing %q -- STDERR:\n%s", cmd, stderr.String())
	}
	return stdout.Bytes(), nil
}
