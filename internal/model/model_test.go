package model

import "testing"

func TestGradeBands(t *testing.T) {
	tests := []struct {
		avg  float64
		want string
	}{
		{100, "A+"},
		{90, "A+"},
		{89.9, "A"},
		{80, "A"},
		{70, "B+"},
		{60, "B"},
		{59.9, "C"},
		{50, "C"},
		{40, "D"},
		{39.9, "F"},
		{0, "F"},
	}
	for _, tt := range tests {
		if got := Grade(tt.avg); got != tt.want {
			t.Errorf("Grade(%v) = %q, want %q", tt.avg, got, tt.want)
		}
	}
}

func TestGradeMonotonic(t *testing.T) {
	order := map[string]int{"F": 0, "D": 1, "C": 2, "B": 3, "B+": 4, "A": 5, "A+": 6}
	prev := -1
	for score := 0; score <= 100; score++ {
		g := Grade(float64(score))
		rank, ok := order[g]
		if !ok {
			t.Fatalf("Grade(%d) = %q, not a known grade", score, g)
		}
		if rank < prev {
			t.Fatalf("Grade(%d) = %q ranks below the grade for %d", score, g, score-1)
		}
		prev = rank
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		score int
		want  Classification
	}{
		{100, ClassPass},
		{70, ClassPass},
		{69, ClassPartial},
		{40, ClassPartial},
		{39, ClassFail},
		{0, ClassFail},
	}
	for _, tt := range tests {
		if got := Classify(tt.score); got != tt.want {
			t.Errorf("Classify(%d) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestParseLanguage(t *testing.T) {
	tests := []struct {
		in      string
		want    Language
		wantErr bool
	}{
		{"HI", LangHindi, false},
		{"Hindi", LangHindi, false},
		{"en", LangEnglish, false},
		{" English ", LangEnglish, false},
		{"", "", false},
		{"fr", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLanguage(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLanguage(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLanguage(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
	if LangHindi.Other() != LangEnglish || LangEnglish.Other() != LangHindi {
		t.Error("Other() should swap hi and en")
	}
}

func TestSessionClone(t *testing.T) {
	s := &Session{
		ID:        "abcd1234",
		Questions: []Question{{ID: 1, Keywords: []string{"valve"}}},
		Answers:   []AnswerRecord{{QuestionID: 1}},
	}
	c := s.Clone()
	c.Questions[0].Keywords[0] = "pump"
	c.Answers = append(c.Answers, AnswerRecord{QuestionID: 2})
	c.CurrentIndex = 5

	if s.Questions[0].Keywords[0] != "valve" {
		t.Error("clone shares keyword slice with original")
	}
	if len(s.Answers) != 1 {
		t.Errorf("original answers mutated: %d", len(s.Answers))
	}
	if s.CurrentIndex != 0 {
		t.Error("original index mutated")
	}
}
