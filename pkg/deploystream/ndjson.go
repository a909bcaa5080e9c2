package deploystream

import (
	"encoding/json"
	"io"
)

// Writer writes frames to a stream as newline-delimited JSON.
type Writer struct {
	enc *json.Encoder
}

// NewWriter creates a Writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: json.NewEncoder(w)}
}

// Write appends one frame to the stream.
func (w *Writer) Write(f *Frame) error {
	return w.enc.Encode(f)
}

// Reader reads newline-delimited JSON frames from a stream.
type Reader struct {
	dec *json.Decoder
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: json.NewDecoder(r)}
}

// Next returns the next frame, or io.EOF when the stream ends.
func (r *Reader) Next() (*Frame, error) {
	var f Frame
	if err := r.dec.Decode(&f); err != nil {
		return nil, err
	}
	return &f, nil
}
