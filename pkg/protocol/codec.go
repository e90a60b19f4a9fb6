// Package protocol implements the framed diagnostic stream a worker writes to
// its standard error.
//
// Each diagnostic is five lines:
//
//	1|0        "1" for a warning, anything else for an error
//	<line>     1-based line
//	<column>   1-based column
//	<N>        byte length of the message
//	<message>  exactly N bytes (may contain newlines), then "\n"
//
// Records repeat until end of stream.
package protocol

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"fortio.org/safecast"

	"github.com/openfroyo/texttransform/pkg/diagnostic"
)

// MaxMessageSize bounds a single message so a corrupt length cannot force a
// huge allocation.
const MaxMessageSize = 10 * 1024 * 1024 // 10 MB

const (
	warningFlag = "1"
	errorFlag   = "0"
)

// Encoder writes diagnostic frames to an io.Writer.
type Encoder struct {
	w *bufio.Writer
}

// NewEncoder creates a new diagnostic encoder.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		w: bufio.NewWriter(w),
	}
}

// Encode writes one diagnostic and flushes it.
func (e *Encoder) Encode(d diagnostic.Diagnostic) error {
	if len(d.Message) > MaxMessageSize {
		return fmt.Errorf("message of %d bytes exceeds limit of %d", len(d.Message), MaxMessageSize)
	}

	flag := errorFlag
	if d.Warning {
		flag = warningFlag
	}

	// The length field always equals the bytes written for the message.
	header := fmt.Sprintf("%s\n%d\n%d\n%d\n", flag, d.Line, d.Column, len(d.Message))
	if _, err := e.w.WriteString(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if _, err := e.w.WriteString(d.Message); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write terminator: %w", err)
	}

	if err := e.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	return nil
}

// EncodeAll writes every diagnostic in order.
func EncodeAll(w io.Writer, diags []diagnostic.Diagnostic) error {
	enc := NewEncoder(w)
	for _, d := range diags {
		if err := enc.Encode(d); err != nil {
			return err
		}
	}
	return nil
}

// Decoder reads diagnostic frames from an io.Reader.
type Decoder struct {
	r *bufio.Reader

	// record holds the raw bytes of the record being decoded, for
	// reporting when the stream turns out to be malformed.
	record bytes.Buffer

	// records counts fully decoded records.
	records int
}

// NewDecoder creates a new diagnostic decoder.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r: bufio.NewReader(r),
	}
}

// Decode reads the next diagnostic. It returns io.EOF when the stream ends
// cleanly between records and a *ProtocolError for malformed input.
func (d *Decoder) Decode() (diagnostic.Diagnostic, error) {
	d.record.Reset()

	flag, err := d.readLine()
	if err == io.EOF && d.record.Len() == 0 {
		return diagnostic.Diagnostic{}, io.EOF
	}
	if err != nil {
		return diagnostic.Diagnostic{}, d.fail("severity", err)
	}

	line, err := d.readInt("line")
	if err != nil {
		return diagnostic.Diagnostic{}, err
	}
	column, err := d.readInt("column")
	if err != nil {
		return diagnostic.Diagnostic{}, err
	}
	size, err := d.readLength()
	if err != nil {
		return diagnostic.Diagnostic{}, err
	}

	msg := make([]byte, size)
	n, err := io.ReadFull(d.r, msg)
	d.record.Write(msg[:n])
	if err != nil {
		return diagnostic.Diagnostic{}, d.fail("message", fmt.Errorf("read %d of %d bytes: %w", n, size, io.ErrUnexpectedEOF))
	}

	// Record terminator. A stream that ends right after the message is
	// accepted since the message itself is complete.
	term, err := d.readLine()
	if err != nil && err != io.EOF {
		return diagnostic.Diagnostic{}, d.fail("terminator", err)
	}
	if term != "" {
		return diagnostic.Diagnostic{}, d.fail("terminator", fmt.Errorf("length mismatch: %q follows the declared %d bytes", term, size))
	}

	d.records++
	severity := diagnostic.SeverityError
	if flag == warningFlag {
		severity = diagnostic.SeverityWarning
	}
	return diagnostic.New(severity, string(msg), line, column), nil
}

// Remainder returns the raw bytes of the failed record followed by
// everything left unread in the stream.
func (d *Decoder) Remainder() string {
	rest, _ := io.ReadAll(d.r)
	return d.record.String() + string(rest)
}

// readLine reads one line without its "\n" or "\r\n" ending.
func (d *Decoder) readLine() (string, error) {
	s, err := d.r.ReadString('\n')
	d.record.WriteString(s)
	if err != nil {
		if err == io.EOF && s != "" {
			return strings.TrimSuffix(s, "\r"), io.ErrUnexpectedEOF
		}
		return s, err
	}
	s = strings.TrimSuffix(s, "\n")
	return strings.TrimSuffix(s, "\r"), nil
}

func (d *Decoder) readInt(field string) (int, error) {
	s, err := d.readLine()
	if err != nil {
		return 0, d.fail(field, truncated(err))
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, d.fail(field, err)
	}
	return v, nil
}

func (d *Decoder) readLength() (int, error) {
	s, err := d.readLine()
	if err != nil {
		return 0, d.fail("length", truncated(err))
	}
	raw, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, d.fail("length", err)
	}
	size, err := safecast.Conv[int](raw)
	if err != nil {
		return 0, d.fail("length", err)
	}
	if size > MaxMessageSize {
		return 0, d.fail("length", fmt.Errorf("declared length %d exceeds limit of %d", size, MaxMessageSize))
	}
	return size, nil
}

func (d *Decoder) fail(field string, err error) *ProtocolError {
	return &ProtocolError{
		Record: d.records + 1,
		Field:  field,
		Err:    err,
	}
}

func truncated(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// DecodeAll reads diagnostics until end of stream. On malformed input it
// fails closed: the diagnostics decoded so far are kept, the unparsed
// remainder is appended as one opaque error diagnostic, and the
// *ProtocolError is returned alongside.
func DecodeAll(r io.Reader) ([]diagnostic.Diagnostic, error) {
	dec := NewDecoder(r)
	var diags []diagnostic.Diagnostic

	for {
		d, err := dec.Decode()
		if err == io.EOF {
			return diags, nil
		}
		if err != nil {
			msg := fmt.Sprintf("Malformed diagnostic stream (%v):\n%s", err, dec.Remainder())
			return append(diags, diagnostic.Opaque(msg)), err
		}
		diags = append(diags, d)
	}
}
