// Package feedback turns the evaluator's annotated feedback text into a
// per-criterion record of summary, strengths and issues plus one overall
// comment. Parsing is pure and safe for concurrent use.
package feedback

import (
	"regexp"
	"strings"

	"github.com/noah-isme/gema-essay-api/internal/scoring"
)

// State is a parser state. The outer machine walks criterion blocks and
// general commentary; the inner machine walks the sections of one block.
type State int

const (
	StateNone State = iota
	StateInCriterion
	StateInStrengths
	StateInIssues
	StateInGeneral
)

func (s State) String() string {
	switch s {
	case StateInCriterion:
		return "IN_CRITERION"
	case StateInStrengths:
		return "IN_STRENGTHS"
	case StateInIssues:
		return "IN_ISSUES"
	case StateInGeneral:
		return "IN_GENERAL"
	default:
		return "NONE"
	}
}

// Item is the structured feedback for one criterion.
type Item struct {
	Summary           string `json:"summary"`
	GoodPoints        string `json:"good_points"`
	ImprovementPoints string `json:"improvement_points"`
}

// Structured is the parsed form of a feedback string.
type Structured struct {
	Items   map[string]Item `json:"items"`
	General string          `json:"general"`
}

const (
	strengthsMarker = "✨"
	issuesMarker    = "⚠️"
)

var (
	headerPattern    = regexp.MustCompile(`^\[([^\]]+)\]\s*\(([^)]+)\)\s*:\s*(.*)$`)
	strengthsPrefix  = regexp.MustCompile(`^[✨\s]*잘\s*작성한\s*점\s*[:：]\s*`)
	issuesPrefix     = regexp.MustCompile(`^[\x{26A0}\x{FE0F}\s]*개선할\s*점\s*(?:및\s*오류)?\s*[:：]\s*`)
	generalMarkers   = []string{"종합", "전체적으로", "전체"}
	strengthsPhrases = []string{"잘 작성한 점"}
	issuesPhrases    = []string{"개선할 점", "오류"}
)

type lineKind int

const (
	kindBody lineKind = iota
	kindHeader
	kindGeneral
	kindStrengths
	kindIssues
)

type action int

const (
	actDiscard action = iota
	actStartCriterion
	actAppendCriterion
	actAppendGeneral
	actStartSection
	actAppendSection
	actAppendSummary
)

type transition struct {
	next   State
	action action
}

// outerTransitions drives block recognition over the whole text. Leaving
// StateInCriterion always flushes the active block first.
var outerTransitions = map[State]map[lineKind]transition{
	StateNone: {
		kindHeader:  {StateInCriterion, actStartCriterion},
		kindGeneral: {StateNone, actAppendGeneral},
		kindBody:    {StateNone, actDiscard},
	},
	StateInCriterion: {
		kindHeader:  {StateInCriterion, actStartCriterion},
		kindGeneral: {StateInGeneral, actAppendGeneral},
		kindBody:    {StateInCriterion, actAppendCriterion},
	},
	StateInGeneral: {
		kindHeader:  {StateInCriterion, actStartCriterion},
		kindGeneral: {StateInGeneral, actAppendGeneral},
		kindBody:    {StateInGeneral, actAppendGeneral},
	},
}

// sectionTransitions drives one criterion block. A header for the section
// already open is discarded.
var sectionTransitions = map[State]map[lineKind]transition{
	StateInCriterion: {
		kindStrengths: {StateInStrengths, actStartSection},
		kindIssues:    {StateInIssues, actStartSection},
		kindBody:      {StateInCriterion, actAppendSummary},
	},
	StateInStrengths: {
		kindStrengths: {StateInStrengths, actDiscard},
		kindIssues:    {StateInIssues, actStartSection},
		kindBody:      {StateInStrengths, actAppendSection},
	},
	StateInIssues: {
		kindStrengths: {StateInStrengths, actStartSection},
		kindIssues:    {StateInIssues, actDiscard},
		kindBody:      {StateInIssues, actAppendSection},
	},
}

// Parse structures feedbackText for every criterion in set. Criteria with
// no matching block get an empty Item.
func Parse(feedbackText string, set scoring.CriteriaSet) Structured {
	blocks, general := splitBlocks(feedbackText)

	items := make(map[string]Item, len(set.Criteria))
	for _, c := range set.Criteria {
		items[c.Name] = parseBlock(blocks[c.Name])
	}

	return Structured{Items: items, General: strings.Join(general, "\n")}
}

func splitBlocks(text string) (map[string]string, []string) {
	blocks := map[string]string{}
	var general []string

	state := StateNone
	var active string
	var buffer []string

	flush := func() {
		if state == StateInCriterion {
			blocks[active] = strings.Join(buffer, "\n")
		}
		active, buffer = "", nil
	}

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		kind, match := classifyOuter(line)
		step := outerTransitions[state][kind]
		switch step.action {
		case actStartCriterion:
			flush()
			active = match[1]
			if rest := match[3]; rest != "" {
				buffer = append(buffer, rest)
			}
		case actAppendGeneral:
			flush()
			general = append(general, line)
		case actAppendCriterion:
			buffer = append(buffer, line)
		}
		state = step.next
	}
	flush()

	return blocks, general
}

func classifyOuter(line string) (lineKind, []string) {
	if match := headerPattern.FindStringSubmatch(line); match != nil {
		return kindHeader, match
	}
	if containsAny(line, generalMarkers) {
		return kindGeneral, nil
	}
	return kindBody, nil
}

type section struct {
	lines []string
	seen  map[string]struct{}
}

func (s *section) add(line string) {
	if line == "" {
		return
	}
	if s.seen == nil {
		s.seen = map[string]struct{}{}
	}
	if _, dup := s.seen[line]; dup {
		return
	}
	s.seen[line] = struct{}{}
	s.lines = append(s.lines, line)
}

func (s *section) String() string {
	return strings.Join(s.lines, "\n")
}

func parseBlock(block string) Item {
	if block == "" {
		return Item{}
	}

	var summary, strengths, issues section
	sections := map[State]*section{
		StateInCriterion: &summary,
		StateInStrengths: &strengths,
		StateInIssues:    &issues,
	}

	state := StateInCriterion
	for _, raw := range strings.Split(block, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		kind := classifySection(line)
		step := sectionTransitions[state][kind]
		switch step.action {
		case actStartSection:
			sections[step.next].add(stripSectionHeader(kind, line))
		case actAppendSection, actAppendSummary:
			sections[step.next].add(line)
		}
		state = step.next
	}

	item := Item{
		Summary:           summary.String(),
		GoodPoints:        strengths.String(),
		ImprovementPoints: issues.String(),
	}
	if item.Summary == "" {
		item.Summary = block
	}
	return item
}

func classifySection(line string) lineKind {
	hasSeparator := strings.ContainsAny(line, ":：")
	switch {
	case strings.Contains(line, strengthsMarker) || (hasSeparator && containsAny(line, strengthsPhrases)):
		return kindStrengths
	case strings.Contains(line, issuesMarker) || (hasSeparator && containsAny(line, issuesPhrases)):
		return kindIssues
	default:
		return kindBody
	}
}

func stripSectionHeader(kind lineKind, line string) string {
	switch kind {
	case kindStrengths:
		line = strengthsPrefix.ReplaceAllString(line, "")
		line = strings.ReplaceAll(line, strengthsMarker, "")
	case kindIssues:
		line = issuesPrefix.ReplaceAllString(line, "")
		line = strings.ReplaceAll(line, issuesMarker, "")
	}
	return strings.TrimSpace(line)
}

func containsAny(line string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(line, needle) {
			return true
		}
	}
	return false
}
