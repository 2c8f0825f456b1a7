// Package protocol implements the colon-delimited line protocol spoken
// between clients and the request engine. A request is a single line:
//
//	COMMAND:arg1:arg2:...
//
// Field values must not contain colons; the only exception is the tail of
// a FILE_DOWNLOAD response, which is split on at most three delimiters and
// never re-split.
package protocol

import (
	"encoding/base64"
	"strings"

	apperrors "github.com/opensis/registrar/pkg/errors"
)

// Response line prefixes.
const (
	prefixSuccess = "SUCCESS:"
	prefixError   = "ERROR:"
	prefixFile    = "FILE_DOWNLOAD:"

	// EncodingBase64 tags a FILE_DOWNLOAD payload as base64-encoded.
	EncodingBase64 = "BASE64"
)

// Command is a parsed request line.
type Command struct {
	Name string
	Args []string
}

// Arg returns the i-th argument or the empty string.
func (c Command) Arg(i int) string {
	if i < 0 || i >= len(c.Args) {
		return ""
	}
	return c.Args[i]
}

// Parse splits a request line into a command and its arguments.
func Parse(line string) (Command, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return Command{}, apperrors.Clone(apperrors.ErrMalformedRequest, "empty request line")
	}
	fields := strings.Split(line, ":")
	name := strings.TrimSpace(fields[0])
	if name == "" {
		return Command{}, apperrors.Clone(apperrors.ErrMalformedRequest, "missing command token")
	}
	return Command{Name: strings.ToUpper(name), Args: fields[1:]}, nil
}

// FormatSuccess frames a success payload.
func FormatSuccess(payload string) string {
	return prefixSuccess + payload
}

// FormatError serialises a domain error onto the wire. The legacy prefix
// convention is load-bearing: clients pattern-match NOT_AUTHENTICATED,
// NOT_AUTHORIZED: and MAINTENANCE_ON: to decide whether to invalidate
// their session, and DB_ERROR: distinguishes store outages from denials.
func FormatError(err error) string {
	e := apperrors.FromError(err)
	if e == nil {
		return prefixError + "unknown error"
	}
	switch e.Code {
	case apperrors.CodeNotAuthenticated:
		return prefixError + "NOT_AUTHENTICATED"
	case apperrors.CodeNotAuthorized:
		return prefixError + "NOT_AUTHORIZED:" + e.Message
	case apperrors.CodeMaintenance:
		return prefixError + "MAINTENANCE_ON:" + e.Message
	case apperrors.CodeStore:
		return prefixError + "DB_ERROR:" + e.Message
	default:
		return prefixError + e.Message
	}
}

// FormatFile frames a binary download. Bodies contain newlines, so the
// payload always travels base64-encoded to keep the response one line.
func FormatFile(contentType, filename string, body []byte) string {
	return prefixFile + contentType + ":" + filename + ":" +
		EncodingBase64 + ":" + base64.StdEncoding.EncodeToString(body)
}

// ResponseKind discriminates the three response shapes.
type ResponseKind int

const (
	KindSuccess ResponseKind = iota
	KindError
	KindFile
)

// Response is a parsed server response, used by the client side.
type Response struct {
	Kind        ResponseKind
	Payload     string
	ErrMessage  string
	ContentType string
	Filename    string
	Body        []byte
}

// ParseResponse decodes a response line. For FILE_DOWNLOAD it splits on
// the first three delimiters only; everything after the encoding tag is
// payload and is never re-split.
func ParseResponse(line string) (*Response, error) {
	line = strings.TrimRight(line, "\r\n")
	switch {
	case strings.HasPrefix(line, prefixSuccess):
		return &Response{Kind: KindSuccess, Payload: line[len(prefixSuccess):]}, nil
	case strings.HasPrefix(line, prefixError):
		return &Response{Kind: KindError, ErrMessage: line[len(prefixError):]}, nil
	case strings.HasPrefix(line, prefixFile):
		parts := strings.SplitN(line[len(prefixFile):], ":", 3)
		if len(parts) < 3 {
			return nil, apperrors.Clone(apperrors.ErrMalformedRequest, "short file response")
		}
		resp := &Response{Kind: KindFile, ContentType: parts[0], Filename: parts[1]}
		tail := parts[2]
		if tag, data, ok := strings.Cut(tail, ":"); ok && tag == EncodingBase64 {
			body, err := base64.StdEncoding.DecodeString(data)
			if err != nil {
				return nil, apperrors.Wrap(err, apperrors.CodeMalformedRequest, "bad file payload encoding")
			}
			resp.Body = body
		} else {
			resp.Body = []byte(tail)
		}
		return resp, nil
	default:
		return nil, apperrors.Clone(apperrors.ErrMalformedRequest, "unrecognised response framing")
	}
}

// InvalidatesSession reports whether an error response means the client
// must stop trusting its cached identity. Business errors never do.
func (r *Response) InvalidatesSession() bool {
	return r.Kind == KindError && strings.HasPrefix(r.ErrMessage, "NOT_AUTHENTICATED")
}
