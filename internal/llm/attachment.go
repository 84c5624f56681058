package llm

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// AttachmentKind separates images from other files.
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentFile  AttachmentKind = "file"
)

// Attachment rides on a user message only for the turn that sends it.
type Attachment struct {
	PreviewDataURI string         `json:"preview_data_uri"`
	MimeType       string         `json:"mime_type"`
	Kind           AttachmentKind `json:"kind"`
	Name           string         `json:"name"`
}

// NewAttachment builds a data-URI attachment from raw bytes.
func NewAttachment(name, mimeType string, data []byte) Attachment {
	kind := AttachmentFile
	if strings.HasPrefix(mimeType, "image/") {
		kind = AttachmentImage
	}
	return Attachment{
		PreviewDataURI: "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data),
		MimeType:       mimeType,
		Kind:           kind,
		Name:           name,
	}
}

// Decode returns the raw bytes and media type held in the data URI.
func (a Attachment) Decode() ([]byte, string, error) {
	return DecodeDataURI(a.PreviewDataURI)
}

// DecodeDataURI parses an RFC 2397 data URI.
func DecodeDataURI(uri string) ([]byte, string, error) {
	if !strings.HasPrefix(uri, "data:") {
		return nil, "", fmt.Errorf("not a data uri")
	}
	meta, payload, ok := strings.Cut(uri[len("data:"):], ",")
	if !ok {
		return nil, "", fmt.Errorf("malformed data uri")
	}
	isBase64 := strings.HasSuffix(meta, ";base64")
	mimeType := strings.TrimSuffix(meta, ";base64")
	if mimeType == "" {
		mimeType = "text/plain"
	}
	if isBase64 {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, "", fmt.Errorf("decode data uri: %w", err)
		}
		return data, mimeType, nil
	}
	text, err := url.PathUnescape(payload)
	if err != nil {
		return nil, "", fmt.Errorf("unescape data uri: %w", err)
	}
	return []byte(text), mimeType, nil
}

const maxInlineFileBytes = 64 * 1024

// InlineFileText renders a non-image attachment as prompt text for vendors
// without a file part. Binary or oversized files are named only.
func InlineFileText(a Attachment) string {
	data, mimeType, err := a.Decode()
	textual := strings.HasPrefix(mimeType, "text/") || mimeType == "application/json"
	if err != nil || !textual || len(data) > maxInlineFileBytes {
		return fmt.Sprintf("[Attached file: %s (%s)]", a.Name, a.MimeType)
	}
	return fmt.Sprintf("Attached file %s:\n```\n%s\n```", a.Name, string(data))
}
