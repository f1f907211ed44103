package speech

import "testing"

func TestSpeakableText(t *testing.T) {
	cases := []struct {
		name     string
		language string
		in       string
		want     string
	}{
		{
			name: "drops emoji and markdown markers",
			in:   "Sure 😊 **let's** do this / now.",
			want: "Sure let's do this now.",
		},
		{
			name: "keeps markdown link label and removes url",
			in:   "Read [the report](https://example.com/report) first.",
			want: "Read the report first.",
		},
		{
			name: "removes code blocks and inline code",
			in:   "```json\n{\"ai_score\": 0.9}\n```\nThe score is `0.9` ✅",
			want: "The score is",
		},
		{
			name: "keeps devanagari and danda",
			in:   "यह छवि **संभवतः** AI द्वारा बनाई गई है।",
			want: "यह छवि संभवतः AI द्वारा बनाई गई है।",
		},
		{
			name: "collapses whitespace",
			in:   "Hello***world\n\n\tagain",
			want: "Hello world again",
		},
		{
			name: "markup only",
			in:   "** __ ##",
			want: "",
		},
		{
			name:     "spells out percentages",
			language: "en-IN",
			in:       "AI likelihood: **87%**",
			want:     "AI likelihood: 87 percent",
		},
		{
			name:     "spells out hindi percentages",
			language: "hi-IN",
			in:       "AI संभावना 92.5% है।",
			want:     "AI संभावना 92.5 प्रतिशत है।",
		},
		{
			name:     "reads ratings as out of",
			language: "en-IN",
			in:       "Confidence 8/10",
			want:     "Confidence 8 out of 10",
		},
		{
			name:     "list items become sentences",
			language: "en-IN",
			in:       "Findings:\n- Lighting is inconsistent\n- Text is garbled!\n1. Score 0.91",
			want:     "Findings: Lighting is inconsistent. Text is garbled! Score 0.91.",
		},
		{
			name: "heading becomes a sentence",
			in:   "## Verdict\nLikely AI-generated",
			want: "Verdict. Likely AI-generated",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := speakableText(tc.in, tc.language)
			if got != tc.want {
				t.Fatalf("speakableText(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
