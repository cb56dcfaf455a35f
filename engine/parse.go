// Copyright (c) 2022 The reqagent Authors
//
// Licensed under the Apache License, Version 2.0 (the "License"): you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations
// under the License.

package engine

import (
	"bytes"
	"strconv"
	"strings"

	perrors "github.com/pkg/errors"
)

type parserState int

const (
	stateStatusLine parserState = iota
	stateHeaders
	stateBody
	stateChunkSize
	stateChunkData
	stateChunkCRLF
	stateChunkTrailer
	stateDone
)

// bodyFraming describes how the parser knows where the response body ends.
type bodyFraming int

const (
	framingUnknown bodyFraming = iota
	framingContentLength
	framingChunked
	framingUntilClose
)

// eventKind tags one parsed event the parser hands back to the engine.
type eventKind int

const (
	eventStatusLine eventKind = iota
	eventHeader
	eventHeadersDone
	eventBody
	eventEOF
)

type parsedEvent struct {
	kind       eventKind
	proto      string
	statusCode int
	key        string
	value      string
	body       []byte
}

// responseParser incrementally decodes one HTTP/1.1 response out of
// however many bytes arrive per socket read, in the same direct
// buffer-plus-state-machine style as core/codec_s.go's InitializingDecode:
// feed appends to an internal buffer and returns as many fully-decoded
// events as the buffer currently supports, leaving any partial line or
// chunk for the next call.
type responseParser struct {
	buf     bytes.Buffer
	state   parserState
	framing bodyFraming
	remain  int64 // remaining bytes for framingContentLength/framingChunked chunk
	close   bool  // Connection: close seen
}

func newResponseParser() *responseParser {
	return &responseParser{}
}

// feed appends data and decodes as far as it can, appending every newly
// completed event to events and returning the extended slice.
func (p *responseParser) feed(data []byte, events []parsedEvent) ([]parsedEvent, error) {
	p.buf.Write(data)
	for {
		switch p.state {
		case stateStatusLine:
			line, ok := p.readLine()
			if !ok {
				return events, nil
			}
			proto, code, err := parseStatusLine(line)
			if err != nil {
				return events, err
			}
			events = append(events, parsedEvent{kind: eventStatusLine, proto: proto, statusCode: code})
			p.state = stateHeaders
		case stateHeaders:
			line, ok := p.readLine()
			if !ok {
				return events, nil
			}
			if line == "" {
				p.state = p.chooseFraming()
				events = append(events, parsedEvent{kind: eventHeadersDone})
				continue
			}
			key, value, err := parseHeaderLine(line)
			if err != nil {
				return events, err
			}
			if strings.EqualFold(key, "Content-Length") {
				n, err := strconv.ParseInt(value, 10, 64)
				if err != nil {
					return events, perrors.Wrap(err, "engine: invalid Content-Length")
				}
				if p.framing != framingChunked {
					p.framing = framingContentLength
				}
				p.remain = n
			} else if strings.EqualFold(key, "Transfer-Encoding") && strings.EqualFold(value, "chunked") {
				p.framing = framingChunked
			} else if strings.EqualFold(key, "Connection") && strings.EqualFold(value, "close") {
				p.close = true
			}
			events = append(events, parsedEvent{kind: eventHeader, key: key, value: value})
		case stateBody:
			if p.framing != framingUntilClose && p.remain == 0 {
				events = append(events, parsedEvent{kind: eventEOF})
				p.state = stateDone
				continue
			}
			n := p.buf.Len()
			if p.framing != framingUntilClose {
				n = minInt(n, int(p.remain))
			}
			chunk := p.buf.Next(n)
			if len(chunk) == 0 {
				return events, nil
			}
			if p.framing != framingUntilClose {
				p.remain -= int64(len(chunk))
			}
			events = append(events, parsedEvent{kind: eventBody, body: append([]byte(nil), chunk...)})
		case stateChunkSize:
			line, ok := p.readLine()
			if !ok {
				return events, nil
			}
			size, err := parseChunkSize(line)
			if err != nil {
				return events, err
			}
			if size == 0 {
				p.state = stateChunkTrailer
				continue
			}
			p.remain = size
			p.state = stateChunkData
		case stateChunkData:
			chunk := p.buf.Next(minInt(p.buf.Len(), int(p.remain)))
			if len(chunk) == 0 {
				return events, nil
			}
			p.remain -= int64(len(chunk))
			events = append(events, parsedEvent{kind: eventBody, body: append([]byte(nil), chunk...)})
			if p.remain == 0 {
				p.state = stateChunkCRLF
			}
		case stateChunkCRLF:
			if _, ok := p.readLine(); !ok {
				return events, nil
			}
			p.state = stateChunkSize
		case stateChunkTrailer:
			line, ok := p.readLine()
			if !ok {
				return events, nil
			}
			if line == "" {
				events = append(events, parsedEvent{kind: eventEOF})
				p.state = stateDone
			}
			// non-empty trailer lines are discarded; this reference engine
			// does not surface trailers to RequestHandler.
		case stateDone:
			return events, nil
		}
	}
}

func (p *responseParser) done() bool {
	return p.state == stateDone
}

// chooseFraming decides the body-length strategy once the header block
// ends, preferring chunked over Content-Length per RFC 7230 §3.3.3, and
// falling back to read-until-close when neither is present.
func (p *responseParser) chooseFraming() parserState {
	switch p.framing {
	case framingChunked:
		return stateChunkSize
	case framingContentLength:
		return stateBody
	default:
		p.framing = framingUntilClose
		return stateBody
	}
}

// readLine extracts one CRLF- or LF-terminated line from the buffer
// without the terminator, leaving the remainder in place if no full line
// is yet available.
func (p *responseParser) readLine() (string, bool) {
	b := p.buf.Bytes()
	idx := bytes.IndexByte(b, '\n')
	if idx < 0 {
		return "", false
	}
	line := p.buf.Next(idx + 1)
	line = bytes.TrimRight(line, "\r\n")
	return string(line), true
}

func parseStatusLine(line string) (proto string, code int, err error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return "", 0, perrors.Errorf("engine: malformed status line %q", line)
	}
	code, err = strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, perrors.Wrapf(err, "engine: malformed status code in %q", line)
	}
	return parts[0], code, nil
}

func parseHeaderLine(line string) (key, value string, err error) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return "", "", perrors.Errorf("engine: malformed header line %q", line)
	}
	return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]), nil
}

func parseChunkSize(line string) (int64, error) {
	if idx := strings.IndexByte(line, ';'); idx >= 0 {
		line = line[:idx]
	}
	n, err := strconv.ParseInt(strings.TrimSpace(line), 16, 64)
	if err != nil {
		return 0, perrors.Wrapf(err, "engine: malformed chunk size %q", line)
	}
	return n, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
