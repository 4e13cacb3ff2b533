package commit

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bnema/hwcplane/internal/plane"
)

// maxRecordSize bounds a single length-prefixed record
const maxRecordSize = 1 << 20

// Record is one recorded composition cycle
type Record struct {
	Cycle uint64
	Pipes []PipeCommit
}

// PipeCommit holds the planes committed for one display
type PipeCommit struct {
	Pipe   int
	Planes []PlaneUpdate
}

// Recorder is a Context that serializes every cycle to w as a
// length-prefixed protobuf Struct
type Recorder struct {
	mu      sync.Mutex
	w       io.Writer
	current *Record
	count   int
}

// NewRecorder writes records to w
func NewRecorder(w io.Writer) *Recorder {
	return &Recorder{w: w}
}

func (r *Recorder) Begin(cycle uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		return fmt.Errorf("cycle %d begun before cycle %d ended", cycle, r.current.Cycle)
	}
	r.current = &Record{Cycle: cycle}
	return nil
}

func (r *Recorder) Commit(pipe int, updates []PlaneUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return errors.New("commit outside of a cycle")
	}
	r.current.Pipes = append(r.current.Pipes, PipeCommit{
		Pipe:   pipe,
		Planes: append([]PlaneUpdate(nil), updates...),
	})
	return nil
}

func (r *Recorder) End() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return errors.New("end outside of a cycle")
	}
	rec := r.current
	r.current = nil

	msg, err := rec.toStruct()
	if err != nil {
		return fmt.Errorf("encoding cycle %d: %w", rec.Cycle, err)
	}
	if err := writeMessage(r.w, msg); err != nil {
		return err
	}
	r.count++
	return nil
}

// Count returns the number of records written
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func (rec *Record) toStruct() (*structpb.Struct, error) {
	pipes := make([]interface{}, 0, len(rec.Pipes))
	for _, pc := range rec.Pipes {
		planes := make([]interface{}, 0, len(pc.Planes))
		for _, u := range pc.Planes {
			planes = append(planes, map[string]interface{}{
				"plane":   u.Plane.String(),
				"layer":   u.Layer,
				"enabled": u.Enabled,
				"slot":    u.Slot,
				"zorder":  u.ZOrder,
				"handle":  fmt.Sprintf("%#x", u.Handle),
			})
		}
		pipes = append(pipes, map[string]interface{}{
			"pipe":   pc.Pipe,
			"planes": planes,
		})
	}
	return structpb.NewStruct(map[string]interface{}{
		"cycle": fmt.Sprintf("%d", rec.Cycle),
		"pipes": pipes,
	})
}

func recordFromStruct(s *structpb.Struct) (Record, error) {
	var rec Record
	fields := s.GetFields()
	if _, err := fmt.Sscanf(fields["cycle"].GetStringValue(), "%d", &rec.Cycle); err != nil {
		return rec, fmt.Errorf("bad cycle: %w", err)
	}
	for _, pv := range fields["pipes"].GetListValue().GetValues() {
		pf := pv.GetStructValue().GetFields()
		pc := PipeCommit{Pipe: int(pf["pipe"].GetNumberValue())}
		for _, uv := range pf["planes"].GetListValue().GetValues() {
			uf := uv.GetStructValue().GetFields()
			id, err := plane.ParseID(uf["plane"].GetStringValue())
			if err != nil {
				return rec, err
			}
			u := PlaneUpdate{
				Plane:   id,
				Layer:   int(uf["layer"].GetNumberValue()),
				Enabled: uf["enabled"].GetBoolValue(),
				Slot:    int(uf["slot"].GetNumberValue()),
				ZOrder:  int(uf["zorder"].GetNumberValue()),
			}
			if _, err := fmt.Sscanf(uf["handle"].GetStringValue(), "%v", &u.Handle); err != nil {
				return rec, fmt.Errorf("bad handle: %w", err)
			}
			pc.Planes = append(pc.Planes, u)
		}
		rec.Pipes = append(rec.Pipes, pc)
	}
	return rec, nil
}

// ReadRecords decodes every record written by a Recorder
func ReadRecords(r io.Reader) ([]Record, error) {
	var records []Record
	for {
		var s structpb.Struct
		err := readMessage(r, &s)
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		rec, err := recordFromStruct(&s)
		if err != nil {
			return records, fmt.Errorf("record %d: %w", len(records), err)
		}
		records = append(records, rec)
	}
}

// writeMessage writes a protobuf message with length prefix
func writeMessage(w io.Writer, msg proto.Message) error {
	data, err := proto.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	// Write length prefix (4 bytes, big-endian)
	length := len(data)
	lengthBuf := []byte{
		byte(length >> 24),
		byte(length >> 16),
		byte(length >> 8),
		byte(length),
	}

	if _, err := w.Write(lengthBuf); err != nil {
		return fmt.Errorf("failed to write length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	return nil
}

// readMessage reads one length-prefixed message. A clean end of stream
// returns io.EOF.
func readMessage(r io.Reader, msg proto.Message) error {
	lengthBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lengthBuf); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("failed to read length: %w", err)
	}

	length := int(lengthBuf[0])<<24 | int(lengthBuf[1])<<16 | int(lengthBuf[2])<<8 | int(lengthBuf[3])
	if length > maxRecordSize {
		return fmt.Errorf("record too large: %d bytes", length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("failed to read data: %w", err)
	}
	if err := proto.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return nil
}
