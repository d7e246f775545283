package domain

import (
	"fmt"
	"strings"
)

// Mode selects the latency/quality trade-off of one retrieval request.
type Mode int

const (
	// ModeFast runs a single retrieval with the original question.
	ModeFast Mode = iota
	// ModeBalanced adds a small set of query variants and reranking.
	ModeBalanced
	// ModeQuality runs every enhancement strategy, fuses the variant lists
	// with RRF and reranks the fused pool.
	ModeQuality
	// ModeAdaptive classifies the question first and picks a balanced or
	// quality plan sized to its complexity.
	ModeAdaptive
)

var modeNames = map[Mode]string{
	ModeFast:     "fast",
	ModeBalanced: "balanced",
	ModeQuality:  "quality",
	ModeAdaptive: "adaptive",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Modes lists every valid mode in definition order.
func Modes() []Mode {
	return []Mode{ModeFast, ModeBalanced, ModeQuality, ModeAdaptive}
}

// ParseMode maps the wire representation to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fast":
		return ModeFast, nil
	case "balanced", "":
		return ModeBalanced, nil
	case "quality":
		return ModeQuality, nil
	case "adaptive":
		return ModeAdaptive, nil
	default:
		return ModeBalanced, fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, s)
	}
}

// Complexity is the lexical difficulty class of a question. It drives only
// retrieval breadth and strategy selection, never filters or the requested
// result count.
type Complexity int

const (
	ComplexitySimple Complexity = iota
	ComplexityModerate
	ComplexityComplex
)

func (c Complexity) String() string {
	switch c {
	case ComplexitySimple:
		return "simple"
	case ComplexityModerate:
		return "moderate"
	case ComplexityComplex:
		return "complex"
	default:
		return fmt.Sprintf("complexity(%d)", int(c))
	}
}

// StrategyTag identifies a query enhancement strategy. The set is closed;
// unknown tags are rejected when plans are built.
type StrategyTag string

const (
	// StrategyOriginal is the unmodified question passed through as a variant.
	StrategyOriginal StrategyTag = "original"
	// StrategyMultiQuery generates alternative phrasings of the question.
	StrategyMultiQuery StrategyTag = "multi_query"
	// StrategyHyDE generates a hypothetical answer passage and retrieves by
	// similarity to it.
	StrategyHyDE StrategyTag = "hyde"
	// StrategyStepBack generalizes the question one level up.
	StrategyStepBack StrategyTag = "step_back"
	// StrategyDecompose splits a compound question into sub-questions.
	StrategyDecompose StrategyTag = "decompose"
)

// KnownStrategy reports whether tag names an implemented strategy other than
// the original passthrough.
func KnownStrategy(tag StrategyTag) bool {
	switch tag {
	case StrategyMultiQuery, StrategyHyDE, StrategyStepBack, StrategyDecompose:
		return true
	}
	return false
}

// QueryVariant is one query text entering per-variant retrieval, together
// with the strategy that produced it.
type QueryVariant struct {
	Text     string
	Strategy StrategyTag
}

// Filters restricts retrieval to a slice of the corpus. The zero value means
// unfiltered.
type Filters struct {
	// DocumentIDs limits hits to passages of these source documents.
	DocumentIDs []string
	// PathPrefix limits hits to passages whose structural path starts with
	// this prefix.
	PathPrefix string
	// Metadata requires every given key to match the passage metadata exactly.
	Metadata map[string]string
}

// IsZero reports whether no filter is set.
func (f Filters) IsZero() bool {
	return len(f.DocumentIDs) == 0 && f.PathPrefix == "" && len(f.Metadata) == 0
}

// RetrievalRequest is one question to answer with passages.
type RetrievalRequest struct {
	Question string
	Mode     Mode
	// K is the number of passages the caller wants back. Zero is valid and
	// yields an empty result without touching any collaborator.
	K       int
	Filters Filters
}

// Validate checks the structural invariants of the request.
func (r RetrievalRequest) Validate() error {
	if strings.TrimSpace(r.Question) == "" {
		return fmt.Errorf("%w: question is empty", ErrInvalidRequest)
	}
	if r.K < 0 {
		return fmt.Errorf("%w: k must not be negative, got %d", ErrInvalidRequest, r.K)
	}
	if _, ok := modeNames[r.Mode]; !ok {
		return fmt.Errorf("%w: unknown mode %d", ErrInvalidRequest, int(r.Mode))
	}
	return nil
}
