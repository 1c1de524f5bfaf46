package proc

import (
	"bufio"
	"io"
	"strings"
)

const maxLineSize = 1024 * 1024

// pump reads one output stream line by line until EOF, appending non-empty
// lines to the buffer. A read error ends the pump without inventing a
// partial line; the session and the other pump are unaffected.
func pump(r io.Reader, src Source, buf *LineBuffer) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		buf.Append(Line{Text: text, Source: src})
	}
}
