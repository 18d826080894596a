package infra

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

const outputBufferSize = 64 * 1024

// LookupEncoding resolves a WHATWG encoding label such as "gbk" or
// "shift_jis". UTF-8 and the empty label need no decoding and yield nil.
func LookupEncoding(name string) (encoding.Encoding, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown output encoding %q: %w", name, err)
	}
	if enc == unicode.UTF8 {
		return nil, nil
	}
	return enc, nil
}

// drainLines delivers every non-empty line of r to sink, in order, until r
// reaches end of data. A trailing fragment without a terminator is flushed as
// the final line. Errors and panics raised by sink stop the drain.
func drainLines(r io.Reader, enc encoding.Encoding, sink Sink) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("output sink panicked: %v", p)
		}
	}()

	if enc != nil {
		r = enc.NewDecoder().Reader(r)
	}
	br := bufio.NewReaderSize(r, outputBufferSize)

	for {
		line, readErr := br.ReadString('\n')
		if line = strings.TrimRight(line, "\r\n"); line != "" {
			if err := sink(line); err != nil {
				return fmt.Errorf("output sink: %w", err)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) || errors.Is(readErr, os.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read output: %w", readErr)
		}
	}
}
