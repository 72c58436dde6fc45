package httpbody

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/url"
	"strings"
)

// Media types the gateway accepts for request bodies.
const (
	TypeJSON      = "application/json"
	TypeForm      = "application/x-www-form-urlencoded"
	TypeMultipart = "multipart/form-data"
)

var allowedTypes = map[string]bool{
	TypeJSON:      true,
	TypeForm:      true,
	TypeMultipart: true,
}

// ValidateContentType checks a declared Content-Type against the allow-list.
// A declared charset must be UTF-8; an absent charset passes.
func ValidateContentType(ct string) (mediaType string, params map[string]string, err error) {
	mt, params, err := mime.ParseMediaType(ct)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %q", ErrUnsupportedType, ct)
	}
	if !allowedTypes[mt] {
		return "", nil, fmt.Errorf("%w: %q", ErrUnsupportedType, mt)
	}
	if cs, ok := params["charset"]; ok && !strings.EqualFold(cs, "utf-8") {
		return "", nil, fmt.Errorf("%w: %q", ErrUnsupportedCharset, cs)
	}
	return mt, params, nil
}

// ParsedBody is the parsed application payload of one request.
type ParsedBody struct {
	Type  string          // validated media type
	JSON  json.RawMessage // set for application/json
	Form  url.Values      // set for urlencoded and multipart value fields
	Files []FormFile      // multipart file parts
}

// FormFile is one uploaded multipart file held in memory.
type FormFile struct {
	Field       string
	Name        string
	ContentType string
	Data        []byte
}

// Parse interprets a fully assembled body according to its validated media
// type. maxFileSize bounds each multipart file part.
func Parse(mediaType string, params map[string]string, body []byte, maxFileSize int64) (*ParsedBody, error) {
	switch mediaType {
	case TypeJSON:
		if !json.Valid(body) {
			return nil, fmt.Errorf("%w: invalid json", ErrMalformed)
		}
		return &ParsedBody{Type: mediaType, JSON: body}, nil

	case TypeForm:
		vals, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return &ParsedBody{Type: mediaType, Form: vals}, nil

	case TypeMultipart:
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("%w: missing multipart boundary", ErrMalformed)
		}
		return parseMultipart(body, boundary, maxFileSize)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, mediaType)
}

func parseMultipart(body []byte, boundary string, maxFileSize int64) (*ParsedBody, error) {
	parsed := &ParsedBody{Type: TypeMultipart, Form: url.Values{}}
	mr := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return parsed, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}

		if part.FileName() == "" {
			data, err := io.ReadAll(part)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			parsed.Form.Add(part.FormName(), string(data))
			continue
		}

		data, err := readFilePart(part, maxFileSize)
		if err != nil {
			return nil, err
		}
		parsed.Files = append(parsed.Files, FormFile{
			Field:       part.FormName(),
			Name:        part.FileName(),
			ContentType: part.Header.Get("Content-Type"),
			Data:        data,
		})
	}
}

func readFilePart(part *multipart.Part, maxFileSize int64) ([]byte, error) {
	if maxFileSize <= 0 {
		data, err := io.ReadAll(part)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return data, nil
	}
	data, err := io.ReadAll(io.LimitReader(part, maxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if int64(len(data)) > maxFileSize {
		return nil, fmt.Errorf("%w: %q", ErrFileTooLarge, part.FileName())
	}
	return data, nil
}
