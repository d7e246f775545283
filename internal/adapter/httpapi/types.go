package httpapi

import (
	"retrieval-orchestrator/internal/domain"
	"retrieval-orchestrator/internal/usecase"
)

type retrieveRequest struct {
	Question string      `json:"question"`
	Mode     string      `json:"mode,omitempty"`
	K        *int        `json:"k,omitempty"`
	Filters  *filtersDTO `json:"filters,omitempty"`
}

type filtersDTO struct {
	DocumentIDs []string          `json:"document_ids,omitempty"`
	PathPrefix  string            `json:"path_prefix,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (r retrieveRequest) toDomain() (domain.RetrievalRequest, error) {
	mode, err := domain.ParseMode(r.Mode)
	if err != nil {
		return domain.RetrievalRequest{}, err
	}

	k := defaultK
	if r.K != nil {
		k = *r.K
	}

	req := domain.RetrievalRequest{
		Question: r.Question,
		Mode:     mode,
		K:        k,
	}
	if r.Filters != nil {
		req.Filters = domain.Filters{
			DocumentIDs: r.Filters.DocumentIDs,
			PathPrefix:  r.Filters.PathPrefix,
			Metadata:    r.Filters.Metadata,
		}
	}
	return req, nil
}

type passageDTO struct {
	PassageID  string            `json:"passage_id"`
	DocumentID string            `json:"document_id,omitempty"`
	Path       string            `json:"path,omitempty"`
	Text       string            `json:"text"`
	Score      float64           `json:"score"`
	Rank       int               `json:"rank"`
	Fallback   bool              `json:"fallback_score,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type retrieveResponse struct {
	Passages []passageDTO             `json:"passages"`
	Metadata domain.RetrievalMetadata `json:"metadata"`
}

func toRetrieveResponse(result *domain.RetrievalResult) retrieveResponse {
	passages := make([]passageDTO, len(result.Passages))
	for i, p := range result.Passages {
		passages[i] = passageDTO{
			PassageID:  p.Passage.ID,
			DocumentID: p.Passage.DocumentID,
			Path:       p.Passage.Path,
			Text:       p.Passage.Text,
			Score:      p.Score,
			Rank:       i + 1,
			Fallback:   p.Fallback,
			Metadata:   p.Passage.Metadata,
		}
	}
	return retrieveResponse{Passages: passages, Metadata: result.Metadata}
}

type batchRequest struct {
	Requests []retrieveRequest `json:"requests"`
}

type batchItem struct {
	Status int               `json:"status"`
	Result *retrieveResponse `json:"result,omitempty"`
	Error  string            `json:"error,omitempty"`
}

type batchResponse struct {
	Results []batchItem `json:"results"`
}

type modePlanDTO struct {
	Strategies      []string `json:"strategies"`
	MaxVariants     int      `json:"max_variants"`
	PoolFactor      int      `json:"pool_factor"`
	PoolMin         int      `json:"pool_min"`
	PoolMax         int      `json:"pool_max"`
	DedupeByContent bool     `json:"dedupe_by_content"`
	UseFusion       bool     `json:"use_fusion"`
	UseRerank       bool     `json:"use_rerank"`
}

func toPlanDTO(plan usecase.ModePlan) modePlanDTO {
	strategies := make([]string, len(plan.Strategies))
	for i, s := range plan.Strategies {
		strategies[i] = string(s)
	}
	return modePlanDTO{
		Strategies:      strategies,
		MaxVariants:     plan.MaxVariants,
		PoolFactor:      plan.PoolFactor,
		PoolMin:         plan.PoolMin,
		PoolMax:         plan.PoolMax,
		DedupeByContent: plan.DedupeByContent,
		UseFusion:       plan.UseFusion,
		UseRerank:       plan.UseRerank,
	}
}

type modesResponse struct {
	Modes map[string]modePlanDTO `json:"modes"`
}
