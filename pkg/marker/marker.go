// Package marker compiles author-facing marker text into typed message chains.
//
// A marker string may start with a top-level prefix `\type:body` where type is
// plain, image or voice. Without a recognized prefix the whole string is plain.
// Plain bodies may embed inline codes in braces, e.g. `hi {face:smile}` or
// `{\tag:123456}`. Media bodies name their source as `\url:...` or `\base64:...`.
package marker

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"klbot/pkg/faults"
	"klbot/pkg/message"
)

const (
	typePlain = "plain"
	typeImage = "image"
	typeVoice = "voice"

	codeFace = "face"
	codeTag  = "tag"
)

var (
	topLevelPattern = regexp.MustCompile(`(?s)^\\(\w+):(.+)$`)
	prefixPattern   = regexp.MustCompile(`(?s)^\\?(\w+):(.+)$`)
	schemePattern   = regexp.MustCompile(`^\w+://`)
)

// Compile turns marker text into a chain. cacheDir is the issuing module's
// private directory, used to resolve scheme-less media URLs.
func Compile(text string, cacheDir string) (message.Chain, error) {
	kind, body, ok := splitPrefix(topLevelPattern, text)
	if !ok {
		kind, body = typePlain, text
	}

	switch kind {
	case typePlain:
		return compilePlain(body)
	case typeImage:
		elem, err := compileMedia(message.ElementImage, body, cacheDir)
		if err != nil {
			return message.Chain{}, err
		}
		return message.NewChain(elem), nil
	case typeVoice:
		elem, err := compileMedia(message.ElementVoice, body, cacheDir)
		if err != nil {
			return message.Chain{}, err
		}
		return message.NewChain(elem), nil
	default:
		return message.Chain{}, faults.Newf(faults.KindMarkerParse, "", "unsupported message type %q", kind)
	}
}

// ContainsMarkup reports whether text uses any marker syntax at all.
func ContainsMarkup(text string) bool {
	if _, _, ok := splitPrefix(topLevelPattern, text); ok {
		return true
	}

	for _, seg := range scan(text) {
		if seg.code {
			return true
		}
	}

	return false
}

func compilePlain(body string) (message.Chain, error) {
	var elements []message.Element
	for _, seg := range scan(body) {
		if !seg.code {
			if seg.raw != "" {
				elements = append(elements, message.PlainElement(seg.raw))
			}
			continue
		}

		code := seg.raw[1 : len(seg.raw)-1]
		prefix, value, ok := splitPrefix(prefixPattern, code)
		if !ok {
			// Not a code after all; keep the braces as typed.
			elements = append(elements, message.PlainElement(seg.raw))
			continue
		}

		switch prefix {
		case codeFace:
			elements = append(elements, message.FaceElement(value))
		case codeTag:
			target, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
			if err != nil {
				return message.Chain{}, faults.Newf(faults.KindMarkerParse, "", "invalid tag target %q", value)
			}
			elements = append(elements, message.TagElement(target))
		default:
			return message.Chain{}, faults.Newf(faults.KindMarkerParse, "", "unsupported inline type %q", prefix)
		}
	}

	return message.NewChain(elements...), nil
}

func compileMedia(elemType message.ElementType, body string, cacheDir string) (message.Element, error) {
	key, value, ok := splitPrefix(prefixPattern, body)
	if !ok {
		return message.Element{}, faults.Newf(faults.KindMarkerParse, "", "malformed %s source %q", strings.ToLower(string(elemType)), body)
	}

	source := message.SourceKind(key)
	switch source {
	case message.SourceURL:
		if !schemePattern.MatchString(value) {
			value = "file://" + filepath.Join(cacheDir, value)
		}
	case message.SourceBase64:
	default:
		return message.Element{}, faults.Newf(faults.KindMarkerParse, "", "unsupported source kind %q", key)
	}

	return message.Element{Type: elemType, Source: source, Value: value}, nil
}

func splitPrefix(pattern *regexp.Regexp, text string) (string, string, bool) {
	groups := pattern.FindStringSubmatch(text)
	if groups == nil {
		return "", text, false
	}

	return strings.ToLower(groups[1]), groups[2], true
}

type segment struct {
	raw  string
	code bool
}

// scan splits text into literal runs and brace-delimited codes. A backslash
// escapes the next byte, so `\{` and `\}` never open or close a code. A `{`
// that is never closed, or that is followed by another unescaped `{` before
// its `}`, stays literal.
func scan(text string) []segment {
	var segments []segment
	literalStart := 0

	for i := 0; i < len(text); {
		switch text[i] {
		case '\\':
			i += 2
			continue
		case '{':
			end, ok := closingBrace(text, i+1)
			if !ok {
				i++
				continue
			}
			if literalStart < i {
				segments = append(segments, segment{raw: text[literalStart:i]})
			}
			segments = append(segments, segment{raw: text[i : end+1], code: true})
			i = end + 1
			literalStart = i
			continue
		}
		i++
	}

	if literalStart < len(text) {
		segments = append(segments, segment{raw: text[literalStart:]})
	}

	return segments
}

func closingBrace(text string, from int) (int, bool) {
	for j := from; j < len(text); j++ {
		switch text[j] {
		case '\\':
			j++
		case '{':
			return 0, false
		case '}':
			return j, true
		}
	}

	return 0, false
}
