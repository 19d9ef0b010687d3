package mention_test

import (
	"reflect"
	"testing"

	"github.com/agentoven/huddle/internal/mention"
	"github.com/agentoven/huddle/internal/roster"
)

func newScanner(t *testing.T) *mention.Scanner {
	t.Helper()
	return mention.New(roster.Default())
}

func TestExtractMentions(t *testing.T) {
	s := newScanner(t)

	tests := []struct {
		name string
		text string
		want []string
	}{
		{"at token", "I think @siddarth should weigh in", []string{"siddarth"}},
		{"at token upper", "@MATHEW can you check the pipeline?", []string{"mathew"}},
		{"comma address", "Shreyas, what is the timeline?", []string{"shreyas"}},
		{"colon address", "mathew: cost estimate please", []string{"mathew"}},
		{"sentence start", "Good question. Siddarth knows caching best.", []string{"siddarth"}},
		{"line start", "Summary so far\nRahil will decide", []string{"rahil"}},
		{"greeting prefix", "hey siddarth how are the benchmarks", []string{"siddarth"}},
		{"yo prefix", "yo, mathew", []string{"mathew"}},
		{"howdy prefix", "Howdy Siddarth", []string{"siddarth"}},
		{"good morning prefix", "Good morning Siddarth!", []string{"siddarth"}},
		{"greetings prefix", "greetings shreyas", []string{"shreyas"}},
		{"small talk prefix", "How are you Siddarth?", []string{"siddarth"}},
		{"evening is not an opener", "We ship this evening mathew permitting", []string{}},
		{"trailing vocative", "What do you think about caching, Siddarth?", []string{"siddarth"}},
		{"roster order", "@siddarth and @rahil", []string{"rahil", "siddarth"}},
		{"each id once", "@mathew @mathew Mathew, hi", []string{"mathew"}},
		{"mid sentence name", "I agree with what mathew said earlier", []string{}},
		{"no mention", "What is the best database for analytics?", []string{}},
		{"empty", "", []string{}},
		{"substring is not a name", "@mathewson joined", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.ExtractMentions(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractMentions(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestHasMentions(t *testing.T) {
	s := newScanner(t)

	if !s.HasMentions("Building on that, @shreyas what do you think?") {
		t.Error("HasMentions() = false, want true")
	}
	if s.HasMentions("   ") {
		t.Error("HasMentions(blank) = true, want false")
	}
	if s.HasMentions("Kafka handles that throughput easily.") {
		t.Error("HasMentions() = true, want false")
	}
}

func TestInOrder(t *testing.T) {
	s := newScanner(t)

	got := s.InOrder("@siddarth first, then @mathew, and finally Rahil: wrap up")
	want := []string{"siddarth", "mathew", "rahil"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("InOrder() = %v, want %v", got, want)
	}
}

func TestNamed(t *testing.T) {
	s := newScanner(t)

	got := s.Named("I agree with what mathew said about Kafka")
	want := []string{"mathew"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Named() = %v, want %v", got, want)
	}
	if got := s.ExtractMentions("I agree with what mathew said about Kafka"); len(got) != 0 {
		t.Errorf("ExtractMentions() = %v, want none", got)
	}
}

func TestNamedInOrder(t *testing.T) {
	s := newScanner(t)

	got := s.NamedInOrder("so siddarth said that mathew and rahil agree")
	want := []string{"siddarth", "mathew", "rahil"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("NamedInOrder() = %v, want %v", got, want)
	}
	if got := s.NamedInOrder("no names here"); len(got) != 0 {
		t.Errorf("NamedInOrder() = %v, want none", got)
	}
}
