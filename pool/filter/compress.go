package filter

import (
	"bytes"
	"io"

	"github.com/buengese/sgzip"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/wsldankers/fruitbak/fingerprint"
)

var compressLog = log.WithField("component", "compress")

// codec is the pair of functions a Compressor variant plugs in — the Go
// rendition of the `compress`/`decompress` attributes every subclass in
// `original_source/fruitbak/pool/filter/compression.py` defines.
type codec struct {
	compress   func(value []byte) ([]byte, error)
	decompress func(value []byte) ([]byte, error)
}

// Compressor wraps a Subordinate, transforming every value on its way
// through: compress on Put, decompress on Get. Fingerprints, existence
// checks, and deletes pass through unchanged (spec.md §4.2) — only the
// stored bytes ever see the codec. Which codec is baked in at
// construction time; the algorithm is never recorded alongside the
// ciphertext, matching spec.md's "the deployment is expected to be
// consistent" note.
type Compressor struct {
	Subordinate
	codec codec
	cpu   *CPUPool
}

func newCompressor(sub Subordinate, cpu *CPUPool, c codec) *Compressor {
	return &Compressor{Subordinate: sub, codec: c, cpu: cpu}
}

// NewGzip wraps sub with gzip-compatible seekable compression at the
// given level (sgzip.DefaultCompression if level is 0), grounded on
// `original_source/fruitbak/pool/filter/compression.py`'s `Gzip` class.
func NewGzip(sub Subordinate, cpu *CPUPool, level int) *Compressor {
	if level == 0 {
		level = sgzip.DefaultCompression
	}
	return newCompressor(sub, cpu, codec{
		compress: func(value []byte) ([]byte, error) {
			var buf bytes.Buffer
			w, err := sgzip.NewWriterLevel(&buf, level)
			if err != nil {
				return nil, err
			}
			if _, err := w.Write(value); err != nil {
				w.Close()
				return nil, err
			}
			if err := w.Close(); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
		decompress: func(value []byte) ([]byte, error) {
			r, err := sgzip.NewReader(bytes.NewReader(value))
			if err != nil {
				return nil, err
			}
			defer r.Close()
			return io.ReadAll(r)
		},
	})
}

// NewZstd wraps sub with zstd compression at the given encoder level
// (zstd.SpeedDefault if level is 0).
func NewZstd(sub Subordinate, cpu *CPUPool, level zstd.EncoderLevel) *Compressor {
	if level == 0 {
		level = zstd.SpeedDefault
	}
	return newCompressor(sub, cpu, codec{
		compress: func(value []byte) ([]byte, error) {
			enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
			if err != nil {
				return nil, err
			}
			defer enc.Close()
			return enc.EncodeAll(value, nil), nil
		},
		decompress: func(value []byte) ([]byte, error) {
			dec, err := zstd.NewReader(nil)
			if err != nil {
				return nil, err
			}
			defer dec.Close()
			return dec.DecodeAll(value, nil)
		},
	})
}

// NewSnappy wraps sub with snappy compression.
func NewSnappy(sub Subordinate, cpu *CPUPool) *Compressor {
	return newCompressor(sub, cpu, codec{
		compress: func(value []byte) ([]byte, error) {
			return snappy.Encode(nil, value), nil
		},
		decompress: func(value []byte) ([]byte, error) {
			return snappy.Decode(nil, value)
		},
	})
}

func (c *Compressor) Get(fp fingerprint.Fingerprint, callback func(value []byte, err error)) {
	c.Subordinate.Get(fp, func(value []byte, err error) {
		if err != nil {
			callback(nil, err)
			return
		}
		c.cpu.Submit(func() {
			d, derr := c.codec.decompress(value)
			if derr != nil {
				callback(nil, errors.Wrap(derr, "decompressing chunk"))
				return
			}
			logIfEnabled(compressLog, logrus.TraceLevel, "decompressed chunk", logrus.Fields{"fp": fp.String()})
			callback(d, nil)
		})
	})
}

func (c *Compressor) Put(fp fingerprint.Fingerprint, value []byte, callback func(err error)) {
	c.cpu.Submit(func() {
		compressed, err := c.codec.compress(value)
		if err != nil {
			callback(errors.Wrap(err, "compressing chunk"))
			return
		}
		logIfEnabled(compressLog, logrus.TraceLevel, "compressed chunk", logrus.Fields{
			"fp":        fp.String(),
			"raw_size":  len(value),
			"comp_size": len(compressed),
		})
		c.Subordinate.Put(fp, compressed, callback)
	})
}
