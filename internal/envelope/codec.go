package envelope

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"
	"sync"

	"grouper-dispatcher/internal/common/errors"
)

// Format names an outbound serialization.
type Format string

const (
	FormatXML  Format = "xml"
	FormatJSON Format = "json"
)

// ParseFormat normalizes a rule's format token. An empty token means XML.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "xml":
		return FormatXML, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("illegal format %q: format must be 'json' or 'xml'", s)
	}
}

// Codec serializes envelopes for one output format.
type Codec interface {
	Encode(e *ChangeEnvelope) ([]byte, error)
	ContentType() string
}

var (
	codecsMu sync.RWMutex
	codecs   = map[Format]Codec{
		FormatXML:  xmlCodec{},
		FormatJSON: jsonCodec{},
	}
)

// RegisterCodec installs or replaces the codec for a format.
func RegisterCodec(format Format, codec Codec) {
	codecsMu.Lock()
	defer codecsMu.Unlock()
	codecs[format] = codec
}

// CodecFor returns the codec registered for format.
func CodecFor(format Format) (Codec, error) {
	codecsMu.RLock()
	defer codecsMu.RUnlock()
	codec, ok := codecs[format]
	if !ok {
		return nil, errors.InternalError(fmt.Sprintf("no codec registered for format %q", format), nil)
	}
	return codec, nil
}

// Encode serializes e in the given format.
func Encode(e *ChangeEnvelope, format Format) ([]byte, string, error) {
	codec, err := CodecFor(format)
	if err != nil {
		return nil, "", err
	}
	body, err := codec.Encode(e)
	if err != nil {
		return nil, "", err
	}
	return body, codec.ContentType(), nil
}

// Decode parses a message body in either wire shape: a flat JSON object, or an
// XML fragment of sibling elements with or without the changeLogMessage root.
// Field values are kept as received.
func Decode(body []byte) (*ChangeEnvelope, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.MalformedError("empty message body", nil)
	}

	var (
		e   *ChangeEnvelope
		err error
	)
	if trimmed[0] == '{' {
		e, err = decodeJSON(trimmed)
	} else {
		e, err = decodeXML(trimmed)
	}
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(e.Operation) == "" {
		return nil, errors.MalformedError("envelope has no operation", nil)
	}
	if strings.TrimSpace(e.Name) == "" {
		return nil, errors.MalformedError("envelope has no group or stem name", nil)
	}
	return e, nil
}

type jsonEnvelope struct {
	Operation      string   `json:"operation,omitempty"`
	Name           string   `json:"name,omitempty"`
	OldName        string   `json:"oldname,omitempty"`
	MemberID       string   `json:"memberId,omitempty"`
	Description    string   `json:"description,omitempty"`
	OldDescription string   `json:"olddescription,omitempty"`
	MemberList     []string `json:"memberList,omitempty"`
}

type jsonCodec struct{}

func (jsonCodec) ContentType() string { return "application/json" }

func (jsonCodec) Encode(e *ChangeEnvelope) ([]byte, error) {
	body, err := json.Marshal(jsonEnvelope{
		Operation:      e.Operation,
		Name:           e.Name,
		OldName:        e.OldName,
		MemberID:       e.MemberID,
		Description:    e.Description,
		OldDescription: e.OldDescription,
		MemberList:     e.MemberList,
	})
	if err != nil {
		return nil, errors.InternalError("failed to encode envelope as json", err)
	}
	return body, nil
}

func decodeJSON(body []byte) (*ChangeEnvelope, error) {
	var j jsonEnvelope
	if err := json.Unmarshal(body, &j); err != nil {
		return nil, errors.MalformedError("invalid json envelope", err)
	}
	return &ChangeEnvelope{
		Operation:      j.Operation,
		Name:           j.Name,
		OldName:        j.OldName,
		MemberID:       j.MemberID,
		Description:    j.Description,
		OldDescription: j.OldDescription,
		MemberList:     j.MemberList,
	}, nil
}

const xmlRoot = "changeLogMessage"

type xmlIn struct {
	XMLName        xml.Name `xml:"changeLogMessage"`
	Operation      string   `xml:"operation"`
	Name           string   `xml:"name"`
	OldName        string   `xml:"oldname"`
	MemberID       string   `xml:"memberId"`
	Description    string   `xml:"description"`
	OldDescription string   `xml:"olddescription"`
	MemberList     []string `xml:"memberList>member"`
}

type cdata struct {
	Value string `xml:",cdata"`
}

func cdataOrNil(s string) *cdata {
	if s == "" {
		return nil
	}
	return &cdata{Value: s}
}

type xmlOut struct {
	XMLName        xml.Name `xml:"changeLogMessage"`
	Operation      *cdata   `xml:"operation,omitempty"`
	Name           *cdata   `xml:"name,omitempty"`
	OldName        *cdata   `xml:"oldname,omitempty"`
	MemberID       *cdata   `xml:"memberId,omitempty"`
	Description    *cdata   `xml:"description,omitempty"`
	OldDescription *cdata   `xml:"olddescription,omitempty"`
	MemberList     []cdata  `xml:"memberList>member,omitempty"`
}

type xmlCodec struct{}

func (xmlCodec) ContentType() string { return "application/xml" }

func (xmlCodec) Encode(e *ChangeEnvelope) ([]byte, error) {
	out := xmlOut{
		Operation:      cdataOrNil(e.Operation),
		Name:           cdataOrNil(e.Name),
		OldName:        cdataOrNil(e.OldName),
		MemberID:       cdataOrNil(e.MemberID),
		Description:    cdataOrNil(e.Description),
		OldDescription: cdataOrNil(e.OldDescription),
	}
	for _, m := range e.MemberList {
		out.MemberList = append(out.MemberList, cdata{Value: m})
	}

	body, err := xml.MarshalIndent(out, "", "    ")
	if err != nil {
		return nil, errors.InternalError("failed to encode envelope as xml", err)
	}
	return append([]byte(xml.Header), body...), nil
}

func decodeXML(body []byte) (*ChangeEnvelope, error) {
	doc := body
	if bytes.HasPrefix(doc, []byte("<?xml")) {
		if end := bytes.Index(doc, []byte("?>")); end >= 0 {
			doc = bytes.TrimSpace(doc[end+2:])
		}
	}
	if !bytes.HasPrefix(doc, []byte("<"+xmlRoot)) {
		wrapped := make([]byte, 0, len(doc)+2*len(xmlRoot)+5)
		wrapped = append(wrapped, "<"+xmlRoot+">"...)
		wrapped = append(wrapped, doc...)
		wrapped = append(wrapped, "</"+xmlRoot+">"...)
		doc = wrapped
	}

	var x xmlIn
	if err := xml.Unmarshal(doc, &x); err != nil {
		return nil, errors.MalformedError("invalid xml envelope", err)
	}
	return &ChangeEnvelope{
		Operation:      x.Operation,
		Name:           x.Name,
		OldName:        x.OldName,
		MemberID:       x.MemberID,
		Description:    x.Description,
		OldDescription: x.OldDescription,
		MemberList:     x.MemberList,
	}, nil
}
