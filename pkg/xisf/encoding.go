package xisf

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"
)

// EncodeBlockText encodes inline block data. Supported encodings are
// "base64" and "hex".
func EncodeBlockText(data []byte, encoding string) (string, error) {
	switch foldID(encoding) {
	case "base64":
		return base64.StdEncoding.EncodeToString(data), nil
	case "hex":
		return hex.EncodeToString(data), nil
	}
	return "", fmt.Errorf("%w: '%s'", ErrUnsupportedEncoding, encoding)
}

// DecodeBlockText decodes inline block data. White space in the text is
// ignored.
func DecodeBlockText(text, encoding string) ([]byte, error) {
	text = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)
	var (
		b   []byte
		err error
	)
	switch foldID(encoding) {
	case "base64":
		b, err = base64.StdEncoding.DecodeString(text)
	case "hex":
		b, err = hex.DecodeString(text)
	default:
		return nil, fmt.Errorf("%w: '%s'", ErrUnsupportedEncoding, encoding)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: invalid %s block data: %w", ErrCorruptFile, encoding, err)
	}
	return b, nil
}
