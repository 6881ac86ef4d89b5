package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Grade is the recall quality reported for a single review.
type Grade int

const (
	// Again is a total failure to recall
	Again Grade = 0
	// Hard is a correct answer that took significant effort
	Hard Grade = 1
	// Good is a correct answer as expected
	Good Grade = 2
	// Easy is a correct answer with no effort at all
	Easy Grade = 3
)

var gradeNames = [...]string{Again: "Again", Hard: "Hard", Good: "Good", Easy: "Easy"}

// IsValid reports whether g is one of Again, Hard, Good or Easy.
func (g Grade) IsValid() bool {
	return g >= Again && g <= Easy
}

func (g Grade) String() string {
	if g.IsValid() {
		return gradeNames[g]
	}
	return fmt.Sprintf("Grade(%d)", int(g))
}

// IsCorrect reports whether the grade counts as a successful review.
func (g Grade) IsCorrect() bool {
	return g.IsValid() && g != Again
}

// GradeFromCorrect maps a binary correct/incorrect answer onto the grade scale.
// Incorrect answers become Again and correct answers become Good.
func GradeFromCorrect(correct bool) Grade {
	if correct {
		return Good
	}
	return Again
}

// ParseGrade accepts either the ordinal ("0".."3") or the name ("good", "Easy").
// The returned grade is not validated when the input is numeric.
func ParseGrade(s string) (Grade, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return Grade(n), nil
	}
	for i, name := range gradeNames {
		if strings.EqualFold(name, s) {
			return Grade(i), nil
		}
	}
	return 0, fmt.Errorf("unknown grade %q", s)
}
