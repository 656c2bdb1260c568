package wsproto

import (
	"bytes"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
)

// compressionThreshold is the minimum marshaled frame size, in bytes,
// worth paying the deflate round-trip for. Small control frames (acks,
// pings, short responses) go out as plain text regardless of
// EnableCompression.
const compressionThreshold = 256

// flateWriterPool and flateReaderPool amortize the permessage-deflate
// allocation cost per write/read the way gorilla/websocket's own
// compression support pools *flate.Writer/*flate.Reader, but over
// klauspost/compress/flate's implementation instead of compress/flate.
var flateWriterPool = sync.Pool{
	New: func() interface{} {
		w, _ := flate.NewWriter(io.Discard, flate.DefaultCompression)
		return w
	},
}

var flateReaderPool = sync.Pool{
	New: func() interface{} {
		return flate.NewReader(bytes.NewReader(nil))
	},
}

// compressFrame deflates data for the wire, returning a binary-frame
// payload. Pairs with decompressFrame on the reading side.
func compressFrame(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := flateWriterPool.Get().(*flate.Writer)
	defer flateWriterPool.Put(w)
	w.Reset(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decompressFrame inflates a binary frame produced by compressFrame.
func decompressFrame(data []byte) ([]byte, error) {
	r := flateReaderPool.Get().(flate.Resetter)
	defer flateReaderPool.Put(r)
	if err := r.Reset(bytes.NewReader(data), nil); err != nil {
		return nil, err
	}
	return io.ReadAll(r.(io.Reader))
}
