package helpers

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	"github.com/k3a/html2text"
)

// ReadMessage parses raw RFC 5322 bytes into a message entity. Unknown
// charsets and encodings do not fail the parse; the entity is still usable.
func ReadMessage(raw []byte) (*message.Entity, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return entity, nil
}

// EntityToBytes serializes a message entity back to raw bytes.
func EntityToBytes(entity *message.Entity) ([]byte, error) {
	var buf bytes.Buffer
	if err := entity.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize message: %w", err)
	}
	return buf.Bytes(), nil
}

// PlaintextFromMessage extracts a plain text rendition of the message body.
// text/plain parts are preferred; text/html parts are converted. Non-text
// parts are skipped. A non-multipart message returns its body as is when it
// is textual.
func PlaintextFromMessage(entity *message.Entity) (string, error) {
	mediaType, _, _ := entity.Header.ContentType()

	if !strings.HasPrefix(mediaType, "multipart/") {
		content, err := io.ReadAll(entity.Body)
		if err != nil {
			return "", fmt.Errorf("error reading entity body: %w", err)
		}
		if mediaType == "text/html" {
			return html2text.HTML2Text(string(content)), nil
		}
		return string(content), nil
	}

	mr := entity.MultipartReader()
	if mr == nil {
		return "", fmt.Errorf("nil multipart reader for multipart content type")
	}

	var htmlFallback string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("error reading multipart: %w", err)
		}

		partType, _, _ := part.Header.ContentType()
		if strings.HasPrefix(partType, "multipart/") {
			if text, err := PlaintextFromMessage(part); err == nil && text != "" {
				return text, nil
			}
			continue
		}

		content, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		switch partType {
		case "text/plain":
			return string(content), nil
		case "text/html":
			if htmlFallback == "" {
				htmlFallback = html2text.HTML2Text(string(content))
			}
		}
	}

	return htmlFallback, nil
}

// FixCRLF rewrites all line endings to CRLF. Lone LF and lone CR both become
// CRLF; existing CRLF pairs are left alone.
func FixCRLF(raw []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(raw) + len(raw)/40)
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch c {
		case '\r':
			if i+1 < len(raw) && raw[i+1] == '\n' {
				buf.WriteString("\r\n")
				i++
			} else {
				buf.WriteString("\r\n")
			}
		case '\n':
			buf.WriteString("\r\n")
		default:
			buf.WriteByte(c)
		}
	}
	return buf.Bytes()
}
