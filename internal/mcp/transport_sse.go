package mcp

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// sseEvent is one dispatched Server-Sent Event.
type sseEvent struct {
	Type string
	ID   string
	Data []byte
}

// readSSE parses an event stream and calls emit for every event that carries
// data. Multiple data lines are joined with '\n'. Comment lines and unknown
// fields are ignored. A trailing event without a blank line is still
// dispatched at EOF.
func readSSE(body io.Reader, emit func(sseEvent)) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	eventType := "message"
	var eventID string
	var data bytes.Buffer
	hasData := false

	dispatch := func() {
		if hasData {
			emit(sseEvent{Type: eventType, ID: eventID, Data: bytes.Clone(data.Bytes())})
		}
		eventType = "message"
		data.Reset()
		hasData = false
	}

	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" {
			dispatch()
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, found := strings.Cut(line, ":")
		if found {
			value = strings.TrimPrefix(value, " ")
		}
		switch field {
		case "event":
			eventType = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		case "id":
			eventID = value
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	dispatch()
	return nil
}
