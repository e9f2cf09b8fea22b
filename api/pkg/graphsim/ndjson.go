package graphsim

import (
	"bufio"
	"bytes"
	"encoding/json"
)

// decodeNDJSONLine parses a single newline-delimited-JSON line into a
// Resource. Blank lines decode to (nil, nil) and are skipped by the
// caller. This is the client-side reader counterpart to an NDJSON writer:
// it consumes bulk-style streaming responses one resource at a time.
func decodeNDJSONLine(line []byte) (Resource, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, nil
	}
	var r Resource
	if err := json.Unmarshal(line, &r); err != nil {
		return nil, err
	}
	return r, nil
}

// splitNDJSON splits a full NDJSON body into its non-blank lines. Used by
// reference PageFetcher implementations that buffer the whole response
// rather than streaming it line-by-line.
func splitNDJSON(body []byte) [][]byte {
	var lines [][]byte
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		lines = append(lines, cp)
	}
	return lines
}
