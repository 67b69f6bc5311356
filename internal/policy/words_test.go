package policy

import (
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"simple words", "hello world", []string{"hello", "world"}},
		{"lowercases", "Hello WORLD", []string{"hello", "world"}},
		{"strips punctuation", "hello, world!", []string{"hello", "world"}},
		{"keeps contractions", "don't stop", []string{"don't", "stop"}},
		{"strips quoting apostrophes", "'hello'", []string{"hello"}},
		{"numbers survive", "room 101", []string{"room", "101"}},
		{"empty input", "", nil},
		{"only punctuation", "!!! ???", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.input)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Tokenize(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestWordList_SingleWords(t *testing.T) {
	l := CompileWordList([]string{"badword", "offensive"})

	tests := []struct {
		name    string
		input   string
		matched bool
		term    string
	}{
		{"exact match", "badword", true, "badword"},
		{"in sentence", "this is badword here", true, "badword"},
		{"case insensitive", "BADWORD", true, "badword"},
		{"mixed case", "BaDwOrD", true, "badword"},
		{"with punctuation", "hello, badword!", true, "badword"},
		{"clean message", "hello world", false, ""},
		{"suffix no match", "badwording is fine", false, ""},
		{"substring no match", "mybadword", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			term, ok := l.Match(Tokenize(tt.input))
			if ok != tt.matched {
				t.Errorf("Match(%q) = %v, want %v", tt.input, ok, tt.matched)
			}
			if term != tt.term {
				t.Errorf("Match(%q) term = %q, want %q", tt.input, term, tt.term)
			}
		})
	}
}

func TestWordList_Phrases(t *testing.T) {
	l := CompileWordList([]string{"kill yourself", "go die"})

	tests := []struct {
		name    string
		input   string
		matched bool
		term    string
	}{
		{"exact phrase", "kill yourself", true, "kill yourself"},
		{"phrase in sentence", "you should kill yourself now", true, "kill yourself"},
		{"case insensitive phrase", "KILL YOURSELF", true, "kill yourself"},
		{"partial word no match", "kill yourselves", false, ""},
		{"words separated", "kill and yourself", false, ""},
		{"second phrase", "go die already", true, "go die"},
		{"clean message", "i love this chat", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			term, ok := l.Match(Tokenize(tt.input))
			if ok != tt.matched {
				t.Errorf("Match(%q) = %v, want %v", tt.input, ok, tt.matched)
			}
			if term != tt.term {
				t.Errorf("Match(%q) term = %q, want %q", tt.input, term, tt.term)
			}
		})
	}
}

func TestCompileWordList(t *testing.T) {
	l := CompileWordList([]string{"  Spaced  ", "", "two words"})
	if l.Empty() {
		t.Fatal("CompileWordList dropped valid entries")
	}
	if term, ok := l.Match([]string{"spaced"}); !ok || term != "spaced" {
		t.Errorf("normalized entry not matched: term=%q ok=%v", term, ok)
	}

	empty := CompileWordList(nil)
	if !empty.Empty() {
		t.Error("CompileWordList(nil) is not empty")
	}
	if _, ok := empty.Match([]string{"anything"}); ok {
		t.Error("empty list matched a token")
	}
}
