// Package cachefile implements the on-disk track-index format: a
// small header of open options followed by a dense array of frame
// records. See internal/trackindex for the in-memory structure this
// serializes.
package cachefile

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hydra3333/bestsource/internal/frame"
)

// magic identifies a valid index file and lets Load reject garbage
// or foreign files quickly.
var magic = [4]byte{'B', 'S', 'I', '1'}

// Header carries the open-time options an index was built with. Load
// compares these against the caller's current options; a mismatch
// means the on-disk index cannot be trusted and must be rebuilt.
type Header struct {
	Track          int32
	VariableFormat bool
	DemuxOptions   [][2]string
	DRCScale       float64
}

// Equivalent reports whether two headers describe the same open
// options, and therefore whether an on-disk index built under other
// may be reused for a request built under h.
func (h Header) Equivalent(other Header) bool {
	if h.Track != other.Track || h.VariableFormat != other.VariableFormat || h.DRCScale != other.DRCScale {
		return false
	}
	if len(h.DemuxOptions) != len(other.DemuxOptions) {
		return false
	}
	for i := range h.DemuxOptions {
		if h.DemuxOptions[i] != other.DemuxOptions[i] {
			return false
		}
	}
	return true
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, int32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	if n < 0 {
		return "", fmt.Errorf("cachefile: negative string length %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// Write serializes header and records to w in the §6.2 wire format.
func Write(w io.Writer, h Header, records []frame.Record) error {
	bw := bufio.NewWriter(w)

	if _, err := bw.Write(magic[:]); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, h.Track); err != nil {
		return err
	}
	variableFormat := int32(0)
	if h.VariableFormat {
		variableFormat = 1
	}
	if err := binary.Write(bw, binary.LittleEndian, variableFormat); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, int32(len(h.DemuxOptions))); err != nil {
		return err
	}
	for _, kv := range h.DemuxOptions {
		if err := writeString(bw, kv[0]); err != nil {
			return err
		}
		if err := writeString(bw, kv[1]); err != nil {
			return err
		}
	}
	if err := binary.Write(bw, binary.LittleEndian, h.DRCScale); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, int64(len(records))); err != nil {
		return err
	}
	for _, rec := range records {
		if _, err := bw.Write(rec.Hash[:]); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, rec.PTS); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, rec.Length); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Read deserializes a header and its frame records from r. Record.Start
// fields are reconstructed as a running sum over Length, per §6.2.
func Read(r io.Reader) (Header, []frame.Record, error) {
	br := bufio.NewReader(r)

	var got [4]byte
	if _, err := io.ReadFull(br, got[:]); err != nil {
		return Header{}, nil, fmt.Errorf("cachefile: reading magic: %w", err)
	}
	if got != magic {
		return Header{}, nil, fmt.Errorf("cachefile: not a recognized index file")
	}

	var h Header
	if err := binary.Read(br, binary.LittleEndian, &h.Track); err != nil {
		return Header{}, nil, err
	}
	var variableFormat int32
	if err := binary.Read(br, binary.LittleEndian, &variableFormat); err != nil {
		return Header{}, nil, err
	}
	h.VariableFormat = variableFormat != 0

	var numOptions int32
	if err := binary.Read(br, binary.LittleEndian, &numOptions); err != nil {
		return Header{}, nil, err
	}
	if numOptions < 0 {
		return Header{}, nil, fmt.Errorf("cachefile: negative demux option count %d", numOptions)
	}
	h.DemuxOptions = make([][2]string, numOptions)
	for i := range h.DemuxOptions {
		k, err := readString(br)
		if err != nil {
			return Header{}, nil, err
		}
		v, err := readString(br)
		if err != nil {
			return Header{}, nil, err
		}
		h.DemuxOptions[i] = [2]string{k, v}
	}

	if err := binary.Read(br, binary.LittleEndian, &h.DRCScale); err != nil {
		return Header{}, nil, err
	}

	var frameCount int64
	if err := binary.Read(br, binary.LittleEndian, &frameCount); err != nil {
		return Header{}, nil, err
	}
	if frameCount < 0 {
		return Header{}, nil, fmt.Errorf("cachefile: negative frame count %d", frameCount)
	}

	records := make([]frame.Record, frameCount)
	var running int64
	for i := range records {
		var rec frame.Record
		if _, err := io.ReadFull(br, rec.Hash[:]); err != nil {
			return Header{}, nil, err
		}
		if err := binary.Read(br, binary.LittleEndian, &rec.PTS); err != nil {
			return Header{}, nil, err
		}
		if err := binary.Read(br, binary.LittleEndian, &rec.Length); err != nil {
			return Header{}, nil, err
		}
		if rec.Length <= 0 {
			return Header{}, nil, fmt.Errorf("cachefile: frame %d has non-positive length %d", i, rec.Length)
		}
		rec.Start = running
		running += rec.Length
		records[i] = rec
	}

	return h, records, nil
}
