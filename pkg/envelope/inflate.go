package envelope

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Inflater turns the compressed buffer into JSON text.
type Inflater interface {
	Inflate(compressed []byte) ([]byte, error)
}

// InflaterFunc adapts a function to Inflater.
type InflaterFunc func(compressed []byte) ([]byte, error)

func (f InflaterFunc) Inflate(compressed []byte) ([]byte, error) { return f(compressed) }

// Gzip is the default Inflater.
var Gzip Inflater = InflaterFunc(gunzip)

func gunzip(compressed []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
