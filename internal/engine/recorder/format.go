package recorder

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	// Magic identifies a record file.
	Magic = "PWREC"
	// Version is the record format version written by this package.
	Version = 1

	// Extension is the file extension of a finished record.
	Extension = ".pwrec"
	// InUseSuffix marks a record that is still being written.
	InUseSuffix = ".inuse"

	maxRecordSize = 64 << 20
)

// ErrBadMagic is returned when a file does not start with a record header.
var ErrBadMagic = errors.New("recorder: not a record file")

// Header is the first entry of every record file.
type Header struct {
	Magic   string `msgpack:"magic"`
	Version int    `msgpack:"version"`
	RunID   string `msgpack:"run_id"`
	Created int64  `msgpack:"created"` // unix nanoseconds
	// BaseTimestamp is the hardware timestamp that PTS values are relative to.
	BaseTimestamp int64 `msgpack:"base_ts"`
}

// FrameRecord is one stored frame.
type FrameRecord struct {
	PTS       int64  `msgpack:"pts"` // nanoseconds since the first frame
	Timestamp int64  `msgpack:"ts"`  // hardware timestamp before rebasing
	StrideY   int    `msgpack:"stride_y"`
	StrideU   int    `msgpack:"stride_u"`
	StrideV   int    `msgpack:"stride_v"`
	Y         []byte `msgpack:"y"`
	U         []byte `msgpack:"u"`
	V         []byte `msgpack:"v"`
}

// writeEntry writes v as a 4-byte big-endian length followed by its
// msgpack encoding. It returns the bytes written.
func writeEntry(w io.Writer, v interface{}) (int, error) {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal record: %w", err)
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return 0, fmt.Errorf("failed to write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return 0, fmt.Errorf("failed to write record: %w", err)
	}
	return len(prefix) + len(payload), nil
}

func readEntry(r io.Reader, v interface{}) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return err
	}

	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxRecordSize {
		return fmt.Errorf("recorder: entry of %d bytes exceeds limit", n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		// A torn tail is reported as unexpected EOF, not clean EOF.
		if errors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	return msgpack.Unmarshal(payload, v)
}

// Reader iterates the frames of a record file.
type Reader struct {
	f      *os.File
	r      *bufio.Reader
	header Header
}

// OpenRecord opens path and reads its header.
func OpenRecord(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	rd := &Reader{f: f, r: bufio.NewReaderSize(f, 1<<16)}
	if err := readEntry(rd.r, &rd.header); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read header of %s: %w", path, err)
	}
	if rd.header.Magic != Magic {
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrBadMagic, path)
	}
	return rd, nil
}

// Header returns the file header.
func (r *Reader) Header() Header { return r.header }

// Next returns the next frame, or io.EOF after the last one.
func (r *Reader) Next() (*FrameRecord, error) {
	var fr FrameRecord
	if err := readEntry(r.r, &fr); err != nil {
		return nil, err
	}
	return &fr, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error { return r.f.Close() }

// Summary describes a record file.
type Summary struct {
	Path     string  `json:"path"`
	RunID    string  `json:"run_id"`
	Frames   int     `json:"frames"`
	FirstPTS int64   `json:"first_pts"`
	LastPTS  int64   `json:"last_pts"`
	Seconds  float64 `json:"seconds"`
	Bytes    int64   `json:"bytes"`
	Torn     bool    `json:"torn"`
}

// Summarize reads every frame of path. A truncated tail is reported through
// Summary.Torn rather than an error.
func Summarize(path string) (Summary, error) {
	rd, err := OpenRecord(path)
	if err != nil {
		return Summary{}, err
	}
	defer rd.Close()

	s := Summary{Path: path, RunID: rd.Header().RunID}
	for {
		fr, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				s.Torn = true
				break
			}
			return s, err
		}
		if s.Frames == 0 {
			s.FirstPTS = fr.PTS
		}
		s.LastPTS = fr.PTS
		s.Frames++
		s.Bytes += int64(len(fr.Y) + len(fr.U) + len(fr.V))
	}
	s.Seconds = float64(s.LastPTS-s.FirstPTS) / 1e9
	return s, nil
}
