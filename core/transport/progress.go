package transport

import (
	"bufio"
	"bytes"
	"io"
)

// Progress is a coarse completion estimate aggregated over the transfer
// phases git reports.
type Progress struct {
	// Overall is the completed fraction across all phases, 0 when nothing
	// has been reported yet.
	Overall float64
}

// Callbacks receive transfer progress and sideband messages while a git
// subprocess runs. Remotes send custom messages on fetch and push, which git
// prepends with "remote: "; pull-request URLs arrive this way.
type Callbacks struct {
	Progress func(Progress)
	Sideband func(line []byte)
}

func (c *Callbacks) wantsProgress() bool {
	return c != nil && c.Progress != nil
}

// phase counters, in the order git reports them
type transferProgress struct {
	counted    [2]uint64
	compressed [2]uint64
	objects    [2]uint64
	deltas     [2]uint64
}

func (p *transferProgress) overall() Progress {
	done := p.objects[0] + p.deltas[0] + p.counted[0] + p.compressed[0]
	total := p.objects[1] + p.deltas[1] + p.counted[1] + p.compressed[1]
	if total == 0 {
		return Progress{}
	}
	return Progress{Overall: float64(done) / float64(total)}
}

// readAllWithProgress collects stderr while routing progress counters and
// sideband messages to the callbacks. Progress lines are terminated by \r so
// the stream is split on either \r or \n. Recognized lines are removed from
// the returned data.
func readAllWithProgress(src io.Reader, callbacks *Callbacks) ([]byte, error) {
	reader := bufio.NewReader(src)
	var data []byte
	var progress transferProgress

	for {
		start := len(data)
		var err error
		data, err = readUntilCROrLF(reader, data)
		if err != nil {
			return nil, err
		}
		line := data[start:]
		if len(line) == 0 {
			return data, nil
		}

		switch {
		case progress.update(line):
			if callbacks != nil && callbacks.Progress != nil {
				callbacks.Progress(progress.overall())
			}
			data = data[:start]
		case bytes.HasPrefix(line, []byte("remote: ")):
			if callbacks != nil && callbacks.Sideband != nil {
				body, term, ok := trimSidebandLine(line[len("remote: "):])
				callbacks.Sideband(body)
				if ok {
					callbacks.Sideband([]byte{term})
				}
			}
			data = data[:start]
		}
	}
}

func (p *transferProgress) update(line []byte) bool {
	return updateCounter(line, &p.objects, "Receiving objects:") ||
		updateCounter(line, &p.deltas, "Resolving deltas:") ||
		updateCounter(line, &p.counted, "remote: Counting objects:") ||
		updateCounter(line, &p.compressed, "remote: Compressing objects:")
}

func updateCounter(line []byte, counter *[2]uint64, prefix string) bool {
	rest, ok := bytes.CutPrefix(line, []byte(prefix))
	if !ok {
		return false
	}
	if done, total, ok := parseProgressCount(rest); ok {
		counter[0], counter[1] = done, total
	}
	return true
}

// parseProgressCount reads the "(<done>/<total>)" part of a progress line.
func parseProgressCount(line []byte) (uint64, uint64, bool) {
	_, rest, ok := bytes.Cut(line, []byte("("))
	if !ok {
		return 0, 0, false
	}
	counts, _, ok := bytes.Cut(rest, []byte(")"))
	if !ok {
		return 0, 0, false
	}
	doneText, totalText, ok := bytes.Cut(counts, []byte("/"))
	if !ok {
		return 0, 0, false
	}
	done, ok := parseUint(doneText)
	if !ok {
		return 0, 0, false
	}
	total, ok := parseUint(totalText)
	if !ok || done > total {
		return 0, 0, false
	}
	return done, total, true
}

func parseUint(text []byte) (uint64, bool) {
	if len(text) == 0 {
		return 0, false
	}
	var n uint64
	for _, b := range text {
		if b < '0' || b > '9' {
			return 0, false
		}
		n = n*10 + uint64(b-'0')
	}
	return n, true
}

func readUntilCROrLF(reader *bufio.Reader, buf []byte) ([]byte, error) {
	for {
		b, err := reader.ReadByte()
		if err == io.EOF {
			return buf, nil
		}
		if err != nil {
			return nil, err
		}
		buf = append(buf, b)
		if b == '\r' || b == '\n' {
			return buf, nil
		}
	}
}

// trimSidebandLine drops the line terminator and the trailing spaces git
// pads sideband lines with to clear the previous progress display.
func trimSidebandLine(line []byte) ([]byte, byte, bool) {
	var term byte
	hasTerm := false
	if n := len(line); n > 0 && (line[n-1] == '\r' || line[n-1] == '\n') {
		term = line[n-1]
		line = line[:n-1]
		hasTerm = true
	}
	line = bytes.TrimRight(line, " ")
	return line, term, hasTerm
}
