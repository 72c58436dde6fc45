package httpbody

import (
	"bytes"
	"errors"
	"mime/multipart"
	"strings"
	"testing"
)

func TestAssemblerIncrementalLimit(t *testing.T) {
	a := NewAssembler(100)

	if _, err := a.Write(bytes.Repeat([]byte("x"), 60)); err != nil {
		t.Fatalf("first chunk failed: %v", err)
	}
	// 60 + 41 = 101 bytes received; the declared length never matters.
	if _, err := a.Write(bytes.Repeat([]byte("x"), 41)); !errors.Is(err, ErrTooLarge) {
		t.Errorf("second chunk error = %v, want ErrTooLarge", err)
	}
}

func TestAssemblerExactLimit(t *testing.T) {
	a := NewAssembler(100)
	if _, err := a.Write(bytes.Repeat([]byte("x"), 100)); err != nil {
		t.Fatalf("write at limit failed: %v", err)
	}
	if a.Size() != 100 {
		t.Errorf("Size() = %d, want 100", a.Size())
	}
	if _, err := a.Write([]byte("y")); !errors.Is(err, ErrTooLarge) {
		t.Errorf("write past limit error = %v, want ErrTooLarge", err)
	}
}

func TestAssemblerUnlimited(t *testing.T) {
	a := NewAssembler(0)
	if _, err := a.Write(bytes.Repeat([]byte("x"), 1<<20)); err != nil {
		t.Fatalf("unlimited write failed: %v", err)
	}
}

func TestValidateContentType(t *testing.T) {
	tests := []struct {
		name    string
		ct      string
		wantErr error
	}{
		{"json", "application/json", nil},
		{"json utf-8", "application/json; charset=utf-8", nil},
		{"json upper utf-8", "application/json; charset=UTF-8", nil},
		{"form", "application/x-www-form-urlencoded", nil},
		{"multipart", `multipart/form-data; boundary=xyz`, nil},
		{"text rejected", "text/plain", ErrUnsupportedType},
		{"xml rejected", "application/xml", ErrUnsupportedType},
		{"bad charset", "application/json; charset=latin-1", ErrUnsupportedCharset},
		{"garbage", "not a type at all;;;", ErrUnsupportedType},
		{"empty", "", ErrUnsupportedType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ValidateContentType(tt.ct)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateContentType(%q) unexpected error: %v", tt.ct, err)
				}
			} else if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateContentType(%q) error = %v, want %v", tt.ct, err, tt.wantErr)
			}
		})
	}
}

func TestParseJSON(t *testing.T) {
	body := []byte(`{"action":"create","count":3}`)
	parsed, err := Parse(TypeJSON, nil, body, 0)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !bytes.Equal(parsed.JSON, body) {
		t.Errorf("JSON = %s, want original body", parsed.JSON)
	}

	if _, err := Parse(TypeJSON, nil, []byte(`{"broken":`), 0); !errors.Is(err, ErrMalformed) {
		t.Errorf("invalid json error = %v, want ErrMalformed", err)
	}
}

func TestParseForm(t *testing.T) {
	parsed, err := Parse(TypeForm, nil, []byte("a=1&b=two&b=three"), 0)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if parsed.Form.Get("a") != "1" {
		t.Errorf("a = %q, want 1", parsed.Form.Get("a"))
	}
	if got := parsed.Form["b"]; len(got) != 2 || got[0] != "two" || got[1] != "three" {
		t.Errorf("b = %v, want [two three]", got)
	}

	if _, err := Parse(TypeForm, nil, []byte("bad=%zz"), 0); !errors.Is(err, ErrMalformed) {
		t.Errorf("invalid form error = %v, want ErrMalformed", err)
	}
}

func TestParseMultipart(t *testing.T) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("title", "hello"); err != nil {
		t.Fatal(err)
	}
	fw, err := w.CreateFormFile("upload", "notes.txt")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write([]byte("file contents here")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	params := map[string]string{"boundary": w.Boundary()}
	parsed, err := Parse(TypeMultipart, params, buf.Bytes(), 1024)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if parsed.Form.Get("title") != "hello" {
		t.Errorf("title = %q, want hello", parsed.Form.Get("title"))
	}
	if len(parsed.Files) != 1 {
		t.Fatalf("files = %d, want 1", len(parsed.Files))
	}
	f := parsed.Files[0]
	if f.Field != "upload" || f.Name != "notes.txt" {
		t.Errorf("file = %q/%q, want upload/notes.txt", f.Field, f.Name)
	}
	if string(f.Data) != "file contents here" {
		t.Errorf("file data = %q", f.Data)
	}
}

func TestParseMultipartFileCap(t *testing.T) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("upload", "big.bin")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write([]byte(strings.Repeat("z", 200))); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	params := map[string]string{"boundary": w.Boundary()}
	if _, err := Parse(TypeMultipart, params, buf.Bytes(), 100); !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("error = %v, want ErrFileTooLarge", err)
	}
}

func TestParseMultipartMissingBoundary(t *testing.T) {
	if _, err := Parse(TypeMultipart, map[string]string{}, []byte("x"), 0); !errors.Is(err, ErrMalformed) {
		t.Errorf("error = %v, want ErrMalformed", err)
	}
}
