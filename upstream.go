package main

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"slices"
	"strconv"
	"strings"

	"osmium/httpmsg"
)

// HttpVersions List of HTTP versions accepted from the upstream
var HttpVersions = []string{"HTTP/1.0", "HTTP/1.1"}

const CRLF = "\r\n"

// WriteRequest serializes a request-shaped message and its body onto the
// upstream connection as HTTP/1.1.
func WriteRequest(conn net.Conn, req *httpmsg.HeaderMessage, body []byte) error {
	version := req.Version
	if !slices.Contains(HttpVersions, version) {
		// The mux side may declare a newer version; the origin leg speaks 1.1.
		version = "HTTP/1.1"
	}

	var b strings.Builder
	b.WriteString(req.Method + " " + req.Target + " " + version + CRLF)
	for _, e := range req.Headers.Entries() {
		b.WriteString(e.Name + ": " + e.Value + CRLF)
	}
	if len(body) > 0 && !req.Headers.Has(httpmsg.HeaderContentLength) {
		b.WriteString("content-length: " + strconv.Itoa(len(body)) + CRLF)
	}
	b.WriteString(CRLF)

	if _, err := conn.Write([]byte(b.String())); err != nil {
		return fmt.Errorf("failed to write request: %v", err)
	}
	if len(body) > 0 {
		if _, err := conn.Write(body); err != nil {
			return fmt.Errorf("failed to write request body: %v", err)
		}
	}
	return nil
}

// ReadResponse reads and parses an HTTP/1.x response from the upstream
// connection, including its body.
func ReadResponse(reader *bufio.Reader) (*httpmsg.HeaderMessage, []byte, error) {
	line, err := reader.ReadString('\n')
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read status line: %v", err)
	}

	// Parses the status line. Example: "HTTP/1.1 200 OK"
	parts := strings.SplitN(strings.TrimRight(line, "\r\n"), " ", 3)
	if len(parts) < 2 {
		return nil, nil, fmt.Errorf("malformed status line: %q", line)
	}
	version := parts[0]
	if !slices.Contains(HttpVersions, version) {
		return nil, nil, fmt.Errorf("unsupported HTTP version: %s", version)
	}
	status, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, nil, fmt.Errorf("malformed status code: %q", parts[1])
	}

	resp := &httpmsg.HeaderMessage{Version: version, Status: status}

	// Read headers
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, nil, err
		}
		if line == CRLF {
			break // End of headers
		}
		hparts := strings.SplitN(strings.TrimRight(line, "\r\n"), ":", 2)
		if len(hparts) != 2 {
			continue // Skip malformed headers
		}
		k := strings.TrimSpace(strings.ToLower(hparts[0]))
		v := strings.TrimSpace(hparts[1])
		resp.Headers.Add(k, v)
	}

	var body []byte
	if resp.Headers.IsChunked() {
		body, err = readChunkedBody(reader)
		if err != nil {
			return nil, nil, err
		}
	} else if cl, ok := resp.Headers.ContentLength(); ok {
		body, err = readContentLengthBody(reader, cl)
		if err != nil {
			return nil, nil, err
		}
	}

	return resp, body, nil
}

func readContentLengthBody(reader *bufio.Reader, length int64) ([]byte, error) {
	body := make([]byte, length)
	if _, err := io.ReadFull(reader, body); err != nil {
		return nil, err
	}
	return body, nil
}

func readChunkedBody(reader *bufio.Reader) ([]byte, error) {
	var body []byte
	for {
		sizeLine, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, err := strconv.ParseInt(strings.TrimSpace(sizeLine), 16, 64)
		if err != nil {
			return nil, err
		}
		if size == 0 {
			// Read and discard trailing CRLF after last chunk
			_, _ = reader.ReadString('\n')
			break
		}
		chunk := make([]byte, size)
		if _, err := io.ReadFull(reader, chunk); err != nil {
			return nil, err
		}
		body = append(body, chunk...)
		// Read and discard trailing CRLF after each chunk
		_, _ = reader.ReadString('\n')
	}
	return body, nil
}
