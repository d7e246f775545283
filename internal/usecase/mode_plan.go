package usecase

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"retrieval-orchestrator/internal/domain"
)

// ModePlan fixes the pipeline shape for one retrieval mode. A mode never
// changes which stages exist, only whether they run and how wide the
// candidate pool is.
type ModePlan struct {
	// Strategies lists the enhancement strategies to run, in order.
	// Empty means the original question is the only variant.
	Strategies []domain.StrategyTag
	// MaxVariants caps total variants including the original, at most 5.
	MaxVariants int
	// PoolFactor scales the per-variant fetch: pool = PoolFactor * k.
	PoolFactor int
	// PoolMin and PoolMax bound the pool before the k floor is applied.
	PoolMin int
	PoolMax int
	// DedupeByContent keys dedupe on normalized content instead of id.
	DedupeByContent bool
	// UseFusion combines variant lists with reciprocal rank fusion.
	UseFusion bool
	// UseRerank scores the pool with the cross-encoder before the final cut.
	UseRerank bool
}

// PoolSize returns how many candidates to fetch per variant for a
// request of size k. The result never drops below k; a pool smaller
// than the requested size would starve the final cut.
func (p ModePlan) PoolSize(k int) int {
	pool := p.PoolFactor * k
	if pool < p.PoolMin {
		pool = p.PoolMin
	}
	if p.PoolMax > 0 && pool > p.PoolMax {
		pool = p.PoolMax
	}
	if pool < k {
		pool = k
	}
	return pool
}

// Validate checks that the plan is executable.
func (p ModePlan) Validate() error {
	if p.MaxVariants < 1 || p.MaxVariants > 5 {
		return fmt.Errorf("maxVariants must be in [1, 5], got %d", p.MaxVariants)
	}
	if p.PoolFactor < 1 {
		return fmt.Errorf("poolFactor must be positive, got %d", p.PoolFactor)
	}
	if p.PoolMin < 0 {
		return fmt.Errorf("poolMin must be non-negative, got %d", p.PoolMin)
	}
	if p.PoolMax > 0 && p.PoolMin > p.PoolMax {
		return fmt.Errorf("poolMin (%d) exceeds poolMax (%d)", p.PoolMin, p.PoolMax)
	}
	seen := make(map[domain.StrategyTag]bool, len(p.Strategies))
	for _, s := range p.Strategies {
		if !domain.KnownStrategy(s) {
			return fmt.Errorf("unknown strategy %q", s)
		}
		if seen[s] {
			return fmt.Errorf("duplicate strategy %q", s)
		}
		seen[s] = true
	}
	return nil
}

// Plans holds the resolved plan for every mode, built once at startup.
// Adaptive requests resolve through the complexity table instead of the
// mode table.
type Plans struct {
	byMode       map[domain.Mode]ModePlan
	byComplexity map[domain.Complexity]ModePlan
}

// DefaultPlans returns the built-in mode table.
//
// Pool bounds follow the usual reranking guidance: around 50 candidates
// feed the cross-encoder at most, and past ~20 final chunks quality
// degrades, so k stays small while pools stay wide.
func DefaultPlans() *Plans {
	balanced := ModePlan{
		Strategies:  []domain.StrategyTag{domain.StrategyMultiQuery, domain.StrategyStepBack},
		MaxVariants: 4,
		PoolFactor:  3,
		PoolMin:     12,
		PoolMax:     50,
		UseRerank:   true,
	}
	quality := ModePlan{
		Strategies: []domain.StrategyTag{
			domain.StrategyMultiQuery,
			domain.StrategyHyDE,
			domain.StrategyStepBack,
			domain.StrategyDecompose,
		},
		MaxVariants:     5,
		PoolFactor:      4,
		PoolMin:         20,
		PoolMax:         50,
		DedupeByContent: true,
		UseFusion:       true,
		UseRerank:       true,
	}

	simple := ModePlan{
		Strategies:  []domain.StrategyTag{domain.StrategyMultiQuery},
		MaxVariants: 3,
		PoolFactor:  2,
		PoolMin:     8,
		PoolMax:     50,
		UseRerank:   true,
	}
	complexPlan := quality
	complexPlan.PoolMin = 50
	complexPlan.PoolMax = 50

	return &Plans{
		byMode: map[domain.Mode]ModePlan{
			domain.ModeFast: {
				MaxVariants: 1,
				PoolFactor:  1,
				PoolMax:     50,
			},
			domain.ModeBalanced: balanced,
			domain.ModeQuality:  quality,
		},
		byComplexity: map[domain.Complexity]ModePlan{
			domain.ComplexitySimple:   simple,
			domain.ComplexityModerate: balanced,
			domain.ComplexityComplex:  complexPlan,
		},
	}
}

// Resolve returns the plan for a request. For adaptive mode the
// complexity class picks the plan; other modes resolve directly.
func (p *Plans) Resolve(mode domain.Mode, complexity domain.Complexity) ModePlan {
	if mode == domain.ModeAdaptive {
		return p.byComplexity[complexity]
	}
	return p.byMode[mode]
}

// Table returns the resolved plans keyed by their wire labels, adaptive
// entries split per complexity class. Introspection only.
func (p *Plans) Table() map[string]ModePlan {
	return map[string]ModePlan{
		"fast":              p.byMode[domain.ModeFast],
		"balanced":          p.byMode[domain.ModeBalanced],
		"quality":           p.byMode[domain.ModeQuality],
		"adaptive:simple":   p.byComplexity[domain.ComplexitySimple],
		"adaptive:moderate": p.byComplexity[domain.ComplexityModerate],
		"adaptive:complex":  p.byComplexity[domain.ComplexityComplex],
	}
}

// Validate checks every table entry.
func (p *Plans) Validate() error {
	for _, mode := range []domain.Mode{domain.ModeFast, domain.ModeBalanced, domain.ModeQuality} {
		plan, ok := p.byMode[mode]
		if !ok {
			return fmt.Errorf("missing plan for mode %s", mode)
		}
		if err := plan.Validate(); err != nil {
			return fmt.Errorf("plan for mode %s invalid: %w", mode, err)
		}
	}
	for _, c := range []domain.Complexity{domain.ComplexitySimple, domain.ComplexityModerate, domain.ComplexityComplex} {
		plan, ok := p.byComplexity[c]
		if !ok {
			return fmt.Errorf("missing adaptive plan for complexity %s", c)
		}
		if err := plan.Validate(); err != nil {
			return fmt.Errorf("adaptive plan for complexity %s invalid: %w", c, err)
		}
	}
	return nil
}

// planSpec is the YAML overlay for one plan. Pointer fields distinguish
// absent keys from explicit zeros.
type planSpec struct {
	Strategies      []string `yaml:"strategies"`
	MaxVariants     *int     `yaml:"max_variants"`
	PoolFactor      *int     `yaml:"pool_factor"`
	PoolMin         *int     `yaml:"pool_min"`
	PoolMax         *int     `yaml:"pool_max"`
	DedupeByContent *bool    `yaml:"dedupe_by_content"`
	UseFusion       *bool    `yaml:"use_fusion"`
	UseRerank       *bool    `yaml:"use_rerank"`
}

type plansFile struct {
	Fast             *planSpec `yaml:"fast"`
	Balanced         *planSpec `yaml:"balanced"`
	Quality          *planSpec `yaml:"quality"`
	AdaptiveSimple   *planSpec `yaml:"adaptive_simple"`
	AdaptiveModerate *planSpec `yaml:"adaptive_moderate"`
	AdaptiveComplex  *planSpec `yaml:"adaptive_complex"`
}

// LoadPlans overlays a YAML file onto the defaults. An empty path
// returns the defaults unchanged. The merged table is validated before
// it is returned, so a bad override fails startup instead of a request.
func LoadPlans(path string) (*Plans, error) {
	plans := DefaultPlans()
	if path == "" {
		return plans, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mode plan file: %w", err)
	}

	// The key set is closed; a typo in a plan name or field must fail the
	// load, not silently leave the default in place.
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file plansFile
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return plans, nil
		}
		return nil, fmt.Errorf("failed to parse mode plan file: %w", err)
	}

	overlays := []struct {
		spec  *planSpec
		apply func(ModePlan)
	}{
		{file.Fast, func(p ModePlan) { plans.byMode[domain.ModeFast] = p }},
		{file.Balanced, func(p ModePlan) { plans.byMode[domain.ModeBalanced] = p }},
		{file.Quality, func(p ModePlan) { plans.byMode[domain.ModeQuality] = p }},
		{file.AdaptiveSimple, func(p ModePlan) { plans.byComplexity[domain.ComplexitySimple] = p }},
		{file.AdaptiveModerate, func(p ModePlan) { plans.byComplexity[domain.ComplexityModerate] = p }},
		{file.AdaptiveComplex, func(p ModePlan) { plans.byComplexity[domain.ComplexityComplex] = p }},
	}
	bases := []ModePlan{
		plans.byMode[domain.ModeFast],
		plans.byMode[domain.ModeBalanced],
		plans.byMode[domain.ModeQuality],
		plans.byComplexity[domain.ComplexitySimple],
		plans.byComplexity[domain.ComplexityModerate],
		plans.byComplexity[domain.ComplexityComplex],
	}
	for i, o := range overlays {
		if o.spec == nil {
			continue
		}
		merged, err := mergePlan(bases[i], *o.spec)
		if err != nil {
			return nil, err
		}
		o.apply(merged)
	}

	if err := plans.Validate(); err != nil {
		return nil, err
	}
	return plans, nil
}

func mergePlan(base ModePlan, spec planSpec) (ModePlan, error) {
	if spec.Strategies != nil {
		tags := make([]domain.StrategyTag, 0, len(spec.Strategies))
		for _, s := range spec.Strategies {
			tag := domain.StrategyTag(s)
			if !domain.KnownStrategy(tag) {
				return ModePlan{}, fmt.Errorf("unknown strategy %q in mode plan file", s)
			}
			tags = append(tags, tag)
		}
		base.Strategies = tags
	}
	if spec.MaxVariants != nil {
		base.MaxVariants = *spec.MaxVariants
	}
	if spec.PoolFactor != nil {
		base.PoolFactor = *spec.PoolFactor
	}
	if spec.PoolMin != nil {
		base.PoolMin = *spec.PoolMin
	}
	if spec.PoolMax != nil {
		base.PoolMax = *spec.PoolMax
	}
	if spec.DedupeByContent != nil {
		base.DedupeByContent = *spec.DedupeByContent
	}
	if spec.UseFusion != nil {
		base.UseFusion = *spec.UseFusion
	}
	if spec.UseRerank != nil {
		base.UseRerank = *spec.UseRerank
	}
	return base, nil
}
