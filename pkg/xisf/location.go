package xisf

import (
	"fmt"
	"strconv"
	"strings"
)

// LocationKind is the kind of a block location attribute.
type LocationKind uint8

const (
	LocationAttachment LocationKind = iota + 1
	LocationInline
	LocationEmbedded
)

// Location is a parsed block location attribute.
type Location struct {
	Kind     LocationKind
	Position uint64 // attachment only
	Size     uint64 // attachment only
	Encoding string // inline only
}

func (l Location) String() string {
	switch l.Kind {
	case LocationAttachment:
		return fmt.Sprintf("attachment:%d:%d", l.Position, l.Size)
	case LocationInline:
		return "inline:" + l.Encoding
	case LocationEmbedded:
		return "embedded"
	}
	return ""
}

// ParseLocation decodes a location attribute value. URL and path locations
// are rejected since a monolithic unit must be self-contained.
func ParseLocation(s string) (Location, error) {
	tokens := strings.Split(s, ":")
	for i := range tokens {
		tokens[i] = strings.TrimSpace(tokens[i])
	}
	switch {
	case tokens[0] == "attachment":
		if len(tokens) != 3 {
			return Location{}, fmt.Errorf("malformed attachment location attribute: '%s'", s)
		}
		pos, err1 := strconv.ParseUint(tokens[1], 10, 64)
		size, err2 := strconv.ParseUint(tokens[2], 10, 64)
		if err1 != nil || err2 != nil {
			return Location{}, fmt.Errorf("malformed attachment location attribute: '%s'", s)
		}
		return Location{Kind: LocationAttachment, Position: pos, Size: size}, nil
	case tokens[0] == "inline":
		if len(tokens) != 2 {
			return Location{}, fmt.Errorf("malformed inline location attribute: '%s'", s)
		}
		return Location{Kind: LocationInline, Encoding: foldID(tokens[1])}, nil
	case tokens[0] == "embedded":
		if len(tokens) != 1 {
			return Location{}, fmt.Errorf("malformed embedded location attribute: '%s'", s)
		}
		return Location{Kind: LocationEmbedded}, nil
	case strings.HasPrefix(tokens[0], "url"):
		return Location{}, fmt.Errorf("%w: URL block locations are forbidden in a monolithic XISF file: '%s'", ErrUnsupportedLocation, s)
	case strings.HasPrefix(tokens[0], "path"):
		return Location{}, fmt.Errorf("%w: Path block locations are forbidden in a monolithic XISF file: '%s'", ErrUnsupportedLocation, s)
	}
	return Location{}, fmt.Errorf("%w: invalid or unknown block location: '%s'", ErrUnsupportedLocation, s)
}
