// Package scoring holds the essay scoring core: text similarity, plagiarism
// detection against the evaluated corpus, score validation, the plagiarism
// override on the integrity criterion and weighted aggregation.
package scoring

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// DefaultIntegrityCriterion is the criterion name the plagiarism override targets unless configured otherwise.
const DefaultIntegrityCriterion = "윤리와 성실성"

// ErrInvalidCriteria indicates the criteria set cannot be used for an evaluation run.
var ErrInvalidCriteria = errors.New("invalid criteria")

// Criterion is a named, weighted scoring dimension with an allowed score range.
type Criterion struct {
	ID          string  `json:"id" yaml:"id,omitempty"`
	Name        string  `json:"name" yaml:"name" validate:"required,max=128"`
	Description string  `json:"description" yaml:"description,omitempty"`
	MinScore    float64 `json:"min_score" yaml:"min_score" validate:"gte=0"`
	MaxScore    float64 `json:"max_score" yaml:"max_score" validate:"gtefield=MinScore"`
	Weight      float64 `json:"weight" yaml:"weight" validate:"gte=0"`
}

// CriteriaSet is the immutable list of criteria used by one evaluation run.
// IntegrityID references the criterion overridden by plagiarism verdicts; it
// is empty when the set has no integrity criterion.
type CriteriaSet struct {
	Criteria    []Criterion `json:"criteria"`
	IntegrityID string      `json:"integrity_id,omitempty"`
}

// NewCriteriaSet assigns stable identifiers to the criteria and resolves the
// integrity criterion by name once, at creation time.
func NewCriteriaSet(criteria []Criterion, integrityName string) CriteriaSet {
	items := make([]Criterion, len(criteria))
	copy(items, criteria)

	set := CriteriaSet{Criteria: items}
	integrityName = strings.TrimSpace(integrityName)
	for i := range items {
		items[i].Name = strings.TrimSpace(items[i].Name)
		if items[i].ID == "" {
			items[i].ID = uuid.NewString()
		}
		if set.IntegrityID == "" && integrityName != "" && items[i].Name == integrityName {
			set.IntegrityID = items[i].ID
		}
	}
	return set
}

// Validate reports configuration problems that must stop a run before any essay is processed.
func (s CriteriaSet) Validate() error {
	if len(s.Criteria) == 0 {
		return fmt.Errorf("%w: at least one criterion is required", ErrInvalidCriteria)
	}

	seen := make(map[string]struct{}, len(s.Criteria))
	for i, c := range s.Criteria {
		name := strings.TrimSpace(c.Name)
		switch {
		case name == "":
			return fmt.Errorf("%w: criterion %d has no name", ErrInvalidCriteria, i+1)
		case c.MinScore < 0:
			return fmt.Errorf("%w: %q min_score must not be negative", ErrInvalidCriteria, name)
		case c.MaxScore < c.MinScore:
			return fmt.Errorf("%w: %q max_score must be >= min_score", ErrInvalidCriteria, name)
		case c.Weight < 0:
			return fmt.Errorf("%w: %q weight must not be negative", ErrInvalidCriteria, name)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: duplicate criterion name %q", ErrInvalidCriteria, name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// Integrity returns the integrity criterion, if the set designates one.
func (s CriteriaSet) Integrity() (Criterion, bool) {
	if s.IntegrityID == "" {
		return Criterion{}, false
	}
	for _, c := range s.Criteria {
		if c.ID == s.IntegrityID {
			return c, true
		}
	}
	return Criterion{}, false
}

// Names lists criterion names in configured order.
func (s CriteriaSet) Names() []string {
	names := make([]string, 0, len(s.Criteria))
	for _, c := range s.Criteria {
		names = append(names, c.Name)
	}
	return names
}

// DefaultCriteria returns the stock four-criterion rubric.
func DefaultCriteria() []Criterion {
	return []Criterion{
		{Name: "내용의 충실성", Description: "주제에 대한 이해도와 내용의 충실성을 평가합니다.", MinScore: 15, MaxScore: 25, Weight: 1},
		{Name: "체계와 논리성", Description: "글의 구조와 논리적 전개를 평가합니다.", MinScore: 15, MaxScore: 25, Weight: 1},
		{Name: "창의성과 노력", Description: "독창적인 관점과 노력의 흔적을 평가합니다.", MinScore: 15, MaxScore: 25, Weight: 1},
		{Name: DefaultIntegrityCriterion, Description: "인용과 출처 표기의 정확성, 표절 여부를 평가합니다.", MinScore: 15, MaxScore: 25, Weight: 1},
	}
}
