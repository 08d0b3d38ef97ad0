package json

import (
	"strings"
	"testing"
)

type payload struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func TestDecodeRecoversObject(t *testing.T) {
	cases := []struct {
		name string
		text string
	}{
		{"pure JSON", `{"name": "alpha", "value": 42}`},
		{"leading prose", `Here is the result: {"name": "alpha", "value": 42}`},
		{"trailing prose", `{"name": "alpha", "value": 42} That's the output.`},
		{"surrounded", `Let me think... {"name": "alpha", "value": 42} Done.`},
		{"fenced", "```json\n{\"name\": \"alpha\", \"value\": 42}\n```"},
		{"fenced no tag", "```\n{\"name\": \"alpha\", \"value\": 42}\n```"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode[payload](tc.text)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got.Name != "alpha" || got.Value != 42 {
				t.Errorf("got %+v", got)
			}
		})
	}
}

func TestDecodeBraceInString(t *testing.T) {
	text := `The call is {"name": "brace}y", "value": 7} as requested`
	got, err := Decode[payload](text)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Name != "brace}y" {
		t.Errorf("closing brace inside a string broke the scan: %+v", got)
	}
}

func TestDecodeNestedObject(t *testing.T) {
	type outer struct {
		Inner payload `json:"inner"`
	}
	got, err := Decode[outer](`prefix {"inner": {"name": "deep", "value": 1}} suffix`)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Inner.Name != "deep" {
		t.Errorf("got %+v", got)
	}
}

func TestDecodeNoObject(t *testing.T) {
	_, err := Decode[payload]("This is just plain text without any JSON.")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "no JSON object") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDecodeInvalidObject(t *testing.T) {
	_, err := Decode[payload](`{"name": "test", value: }`)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestExtractReturnsRawObject(t *testing.T) {
	raw, err := Extract(`noise {"name": "raw", "value": 3} noise`)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if raw != `{"name": "raw", "value": 3}` {
		t.Errorf("got %q", raw)
	}
}
