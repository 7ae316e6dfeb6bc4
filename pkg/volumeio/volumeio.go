// Package volumeio stores volumes as a little-endian raw data file plus a
// YAML header holding geometry, channel count and element type.
//
// A volume saved under base "out/T2" produces out/T2.yaml and out/T2.raw.
package volumeio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"gopkg.in/yaml.v3"

	"voxelfit/internal/models"
)

const (
	headerExt = ".yaml"
	dataExt   = ".raw"
)

// Header describes the raw data file
type Header struct {
	Grid      models.Grid `yaml:"grid"`
	Channels  int         `yaml:"channels"`
	DataType  string      `yaml:"datatype"`
	ByteOrder string      `yaml:"byteOrder"`
}

// DataType returns the header name of element type T
func DataType[T models.Scalar]() string {
	var zero T
	return reflect.TypeOf(zero).Kind().String()
}

// Paths returns the header and data file paths for base
func Paths(base string) (header, data string) {
	return base + headerExt, base + dataExt
}

// Write saves v under base, creating the parent directory if needed.
func Write[T models.Scalar](base string, v *models.Volume[T]) error {
	headerPath, dataPath := Paths(base)
	if err := os.MkdirAll(filepath.Dir(base), 0755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}

	hdr := Header{
		Grid:      v.Grid(),
		Channels:  v.Channels(),
		DataType:  DataType[T](),
		ByteOrder: "little",
	}
	hb, err := yaml.Marshal(&hdr)
	if err != nil {
		return fmt.Errorf("error marshaling header: %w", err)
	}
	if err := os.WriteFile(headerPath, hb, 0644); err != nil {
		return fmt.Errorf("error writing header: %w", err)
	}

	f, err := os.Create(dataPath)
	if err != nil {
		return fmt.Errorf("error creating data file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, v.Data()); err != nil {
		return fmt.Errorf("error writing data: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("error writing data: %w", err)
	}
	return f.Close()
}

// ReadHeader loads and checks the header for base.
func ReadHeader(base string) (*Header, error) {
	headerPath, _ := Paths(base)
	hb, err := os.ReadFile(headerPath)
	if err != nil {
		return nil, fmt.Errorf("error reading header: %w", err)
	}
	var hdr Header
	if err := yaml.Unmarshal(hb, &hdr); err != nil {
		return nil, fmt.Errorf("error parsing header %s: %w", headerPath, err)
	}
	if err := hdr.Grid.Validate(); err != nil {
		return nil, fmt.Errorf("header %s: %w", headerPath, err)
	}
	if hdr.Channels < 1 {
		return nil, fmt.Errorf("header %s: invalid channel count %d", headerPath, hdr.Channels)
	}
	if hdr.ByteOrder != "" && hdr.ByteOrder != "little" {
		return nil, fmt.Errorf("header %s: unsupported byte order %q", headerPath, hdr.ByteOrder)
	}
	return &hdr, nil
}

// Read loads the volume saved under base. The stored element type must be T.
func Read[T models.Scalar](base string) (*models.Volume[T], error) {
	hdr, err := ReadHeader(base)
	if err != nil {
		return nil, err
	}
	return readData[T](base, hdr)
}

// ReadSampler loads the volume saved under base with whatever element type
// it was stored as.
func ReadSampler(base string) (models.Sampler, error) {
	hdr, err := ReadHeader(base)
	if err != nil {
		return nil, err
	}
	switch hdr.DataType {
	case "int8":
		return sampler[int8](base, hdr)
	case "int16":
		return sampler[int16](base, hdr)
	case "int32":
		return sampler[int32](base, hdr)
	case "int64":
		return sampler[int64](base, hdr)
	case "uint8":
		return sampler[uint8](base, hdr)
	case "uint16":
		return sampler[uint16](base, hdr)
	case "uint32":
		return sampler[uint32](base, hdr)
	case "float32":
		return sampler[float32](base, hdr)
	case "float64":
		return sampler[float64](base, hdr)
	}
	return nil, fmt.Errorf("unsupported datatype %q in %s", hdr.DataType, base)
}

func sampler[T models.Scalar](base string, hdr *Header) (models.Sampler, error) {
	v, err := readData[T](base, hdr)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func readData[T models.Scalar](base string, hdr *Header) (*models.Volume[T], error) {
	if want := DataType[T](); hdr.DataType != want {
		return nil, fmt.Errorf("%s holds %s data, expected %s", base, hdr.DataType, want)
	}
	_, dataPath := Paths(base)
	f, err := os.Open(dataPath)
	if err != nil {
		return nil, fmt.Errorf("error opening data file: %w", err)
	}
	defer f.Close()

	data := make([]T, hdr.Grid.Len()*hdr.Channels)
	if err := binary.Read(bufio.NewReader(f), binary.LittleEndian, data); err != nil {
		return nil, fmt.Errorf("error reading %s: %w", dataPath, err)
	}
	return models.FromSlice(hdr.Grid, hdr.Channels, data)
}
