package dns

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/yourusername/pirtls/pkg/pir/pirerr"
)

// httpThinClient is a minimal HTTP/1.1 request/response framer scoped
// only to what DNS-over-HTTPS needs: one GET or POST per connection, no
// redirects, no chunked transfer-encoding, no persistent-connection
// reuse. It is not a general-purpose HTTP client: pulling in a full HTTP
// stack to issue one RFC 8484 request would be the wrong shape for this
// module.
type httpThinClient struct {
	conn stream
	host string
}

func newHTTPThinClient(conn stream, host string) *httpThinClient {
	return &httpThinClient{conn: conn, host: host}
}

// getBinary issues a GET for path and returns the raw response body,
// requiring a 200 status and a Content-Length header (DoH servers always
// send one for binary responses).
func (h *httpThinClient) getBinary(path, accept string) ([]byte, error) {
	req := fmt.Sprintf("GET %s HTTP/1.1\r\nHost: %s\r\nAccept: %s\r\nConnection: close\r\n\r\n", path, h.host, accept)
	return h.roundTrip([]byte(req))
}

// postBinary issues a POST with body and content-type, returning the raw
// response body.
func (h *httpThinClient) postBinary(path string, body []byte, contentType string) ([]byte, error) {
	req := fmt.Sprintf("POST %s HTTP/1.1\r\nHost: %s\r\nContent-Type: %s\r\nContent-Length: %d\r\nConnection: close\r\n\r\n",
		path, h.host, contentType, len(body))
	return h.roundTrip(append([]byte(req), body...))
}

func (h *httpThinClient) roundTrip(request []byte) ([]byte, error) {
	if _, err := h.conn.Write(request); err != nil {
		return nil, pirerr.Wrap(err, pirerr.HttpWriteFailed)
	}

	r := bufio.NewReader(streamReader{h.conn})

	statusLine, err := r.ReadString('\n')
	if err != nil {
		return nil, pirerr.Wrap(err, pirerr.HttpReadHeadersFailedRead)
	}
	fields := strings.Fields(statusLine)
	if len(fields) < 2 || fields[1] != "200" {
		return nil, pirerr.New(pirerr.HttpReadHeadersFailedStatus)
	}

	contentLength := -1
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, pirerr.Wrap(err, pirerr.HttpReadHeadersFailedRead)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if name, value, ok := strings.Cut(line, ":"); ok && strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return nil, pirerr.New(pirerr.HttpReadFailed)
			}
			contentLength = n
		}
	}
	if contentLength < 0 {
		return nil, pirerr.New(pirerr.HttpReadFailed)
	}

	body := make([]byte, contentLength)
	if _, err := readFull(r, body); err != nil {
		return nil, pirerr.Wrap(err, pirerr.HttpReadFailed)
	}
	return body, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	got := 0
	for got < len(buf) {
		n, err := r.Read(buf[got:])
		if n > 0 {
			got += n
		}
		if err != nil && got < len(buf) {
			return got, err
		}
	}
	return got, nil
}

// streamReader adapts a stream's Read to io.Reader so bufio can sit on
// top of it.
type streamReader struct {
	s stream
}

func (sr streamReader) Read(p []byte) (int, error) {
	return sr.s.Read(p)
}
