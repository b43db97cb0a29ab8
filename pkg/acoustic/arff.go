package acoustic

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"voxpipe-server/pkg/errors"
)

// parseFeatures reads ARFF-style tool output and returns the named features
// from the last data row. Feature values of "?" (unknown) are skipped.
func parseFeatures(r io.Reader, names []string) (map[string]float64, error) {
	var headers []string
	var lastRow string
	inData := false

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "@attribute"):
			parts := strings.Fields(line)
			if len(parts) >= 3 {
				headers = append(headers, parts[1])
			}
		case strings.HasPrefix(line, "@data"):
			inData = true
		case inData && line != "" && !strings.HasPrefix(line, "%"):
			lastRow = line
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read analysis output")
	}

	if lastRow == "" {
		return nil, errors.New("analysis output contains no data rows")
	}

	values := strings.Split(lastRow, ",")
	index := make(map[string]int, len(headers))
	for i, h := range headers {
		index[h] = i
	}

	features := make(map[string]float64)
	for _, name := range names {
		i, ok := index[name]
		if !ok || i >= len(values) {
			continue
		}
		raw := strings.TrimSpace(values[i])
		if raw == "" || raw == "?" {
			continue
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		features[name] = value
	}

	if len(features) == 0 {
		return nil, errors.New("named features absent from analysis output")
	}
	return features, nil
}
