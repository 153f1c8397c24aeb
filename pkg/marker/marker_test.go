package marker

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"klbot/pkg/faults"
	"klbot/pkg/message"
)

func TestCompilePlainWithoutCodes(t *testing.T) {
	chain, err := Compile("plain text", "")
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}

	want := []message.Element{message.PlainElement("plain text")}
	if !reflect.DeepEqual(chain.Elements, want) {
		t.Fatalf("elements = %#v, want %#v", chain.Elements, want)
	}
}

func TestCompileInlineCodes(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []message.Element
	}{
		{
			name:  "face between text",
			input: "a{face:smile}b",
			want: []message.Element{
				message.PlainElement("a"),
				message.FaceElement("smile"),
				message.PlainElement("b"),
			},
		},
		{
			name:  "backslash prefix",
			input: `cry{\face:sob}{\face:sob}`,
			want: []message.Element{
				message.PlainElement("cry"),
				message.FaceElement("sob"),
				message.FaceElement("sob"),
			},
		},
		{
			name:  "tag",
			input: "{tag:123456} hello",
			want: []message.Element{
				message.TagElement(123456),
				message.PlainElement(" hello"),
			},
		},
		{
			name:  "code without prefix stays literal",
			input: "x{oops}y",
			want: []message.Element{
				message.PlainElement("x"),
				message.PlainElement("{oops}"),
				message.PlainElement("y"),
			},
		},
		{
			name:  "escaped braces are text",
			input: `\{face:smile\}`,
			want:  []message.Element{message.PlainElement(`\{face:smile\}`)},
		},
		{
			name:  "unclosed brace is text",
			input: "a{face:smile",
			want:  []message.Element{message.PlainElement("a{face:smile")},
		},
		{
			name:  "explicit plain prefix",
			input: `\plain:hi{face:wave}`,
			want: []message.Element{
				message.PlainElement("hi"),
				message.FaceElement("wave"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain, err := Compile(tt.input, "")
			if err != nil {
				t.Fatalf("Compile(%q) error: %v", tt.input, err)
			}
			if !reflect.DeepEqual(chain.Elements, tt.want) {
				t.Fatalf("Compile(%q) = %#v, want %#v", tt.input, chain.Elements, tt.want)
			}
		})
	}
}

func TestCompileRejectsMalformedMarkers(t *testing.T) {
	tests := []string{
		"{tag:abc}",
		"{poke:1}",
		`\voice:mp3://x`,
		`\video:url:https://example.com/a.mp4`,
		`\image:nothing`,
	}

	for _, input := range tests {
		_, err := Compile(input, "")
		if !errors.Is(err, faults.ErrMarkerParse) {
			t.Fatalf("Compile(%q) error = %v, want marker parse error", input, err)
		}
	}
}

func TestCompileMediaSources(t *testing.T) {
	cacheDir := filepath.Join(t.TempDir(), "FollowModule[0]")

	chain, err := Compile(`\image:url:pic.png`, cacheDir)
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}
	want := message.ImageElement(message.SourceURL, "file://"+filepath.Join(cacheDir, "pic.png"))
	if len(chain.Elements) != 1 || chain.Elements[0] != want {
		t.Fatalf("elements = %#v, want [%#v]", chain.Elements, want)
	}

	chain, err = Compile(`\voice:url:https://example.com/a.amr`, cacheDir)
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}
	want = message.VoiceElement(message.SourceURL, "https://example.com/a.amr")
	if chain.Elements[0] != want {
		t.Fatalf("voice = %#v, want %#v", chain.Elements[0], want)
	}

	chain, err = Compile(`\IMAGE:\base64:iVBORw0K`, cacheDir)
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}
	want = message.ImageElement(message.SourceBase64, "iVBORw0K")
	if chain.Elements[0] != want {
		t.Fatalf("image = %#v, want %#v", chain.Elements[0], want)
	}
}

func TestContainsMarkup(t *testing.T) {
	if ContainsMarkup("nothing here") {
		t.Fatal("expected plain text to have no markup")
	}
	if !ContainsMarkup("hi {face:smile}") {
		t.Fatal("expected inline code to count as markup")
	}
	if !ContainsMarkup(`\image:url:a.png`) {
		t.Fatal("expected top-level prefix to count as markup")
	}
}
