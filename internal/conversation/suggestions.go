package conversation

// SuggestionGroup is a themed set of example questions.
type SuggestionGroup struct {
	Category  string   `json:"category"`
	Questions []string `json:"questions"`
}

var suggestions = []SuggestionGroup{
	{
		Category: "Admissions",
		Questions: []string{
			"What are the admission requirements for Computer Science?",
			"How do I apply for undergraduate programs?",
			"What documents are needed for admission?",
			"When is the admission deadline?",
		},
	},
	{
		Category: "Academic",
		Questions: []string{
			"Tell me about the faculty of Engineering",
			"What are the graduation requirements?",
			"How is the grading system structured?",
			"What research opportunities are available?",
		},
	},
	{
		Category: "Campus Life",
		Questions: []string{
			"What scholarships are available for students?",
			"How do I apply for hostel accommodation?",
			"Tell me about the campus facilities",
			"What extracurricular activities are offered?",
		},
	},
	{
		Category: "General",
		Questions: []string{
			"What are the fee structures for different programs?",
			"How can I contact the admissions office?",
			"What is the university's history?",
			"Where is the university located?",
		},
	},
}

// Suggestions returns a copy of the suggested questions.
func Suggestions() []SuggestionGroup {
	out := make([]SuggestionGroup, len(suggestions))
	for i, g := range suggestions {
		out[i] = SuggestionGroup{
			Category:  g.Category,
			Questions: append([]string(nil), g.Questions...),
		}
	}
	return out
}
