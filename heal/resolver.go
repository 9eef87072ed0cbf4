package heal

import (
	"sort"
	"sync"
	"time"

	"github.com/okralabs/uiheal/uimap"
)

// ReasonKind tags one scoring factor. Structured tags instead of free-form
// strings keep method derivation away from substring parsing.
type ReasonKind string

const (
	ReasonExactID  ReasonKind = "exact_id"
	ReasonText     ReasonKind = "text"
	ReasonCaption  ReasonKind = "caption"
	ReasonRole     ReasonKind = "role"
	ReasonBBox     ReasonKind = "bbox"
	ReasonNeighbor ReasonKind = "neighbor"
)

// Reason records one factor's contribution to a candidate score.
type Reason struct {
	Kind  ReasonKind `json:"kind"`
	Value float64    `json:"value"`
}

// Method names the dominant signal behind a successful heal.
type Method string

const (
	MethodExactID        Method = "exact_id_match"
	MethodTextSimilarity Method = "text_similarity"
	MethodRoleMatch      Method = "role_match"
	MethodBBoxProximity  Method = "bbox_proximity"
	MethodNeighborAnchor Method = "neighbor_anchor"
)

// Candidate is one scored element. Ephemeral: produced fresh on every
// resolution call, never persisted by this package.
type Candidate struct {
	Element uimap.Element `json:"element"`
	Score   float64       `json:"score"`
	Reasons []Reason      `json:"reasons"`
}

// Event is emitted only when resolution succeeds AND the resolved id
// differs from the one originally requested.
type Event struct {
	Timestamp      time.Time   `json:"timestamp"`
	OriginalTarget string      `json:"originalTarget"`
	HealedTarget   string      `json:"healedTarget"`
	Method         Method      `json:"method"`
	Confidence     float64     `json:"confidence"`
	Candidates     []Candidate `json:"candidates"`
}

// Result is the outcome of a resolution attempt. Resolution never fails
// with an error: insufficient signal or a missing element yields
// Success=false with whatever candidates were scored, and the caller
// decides whether that is fatal, retryable, or escalates to a planner.
type Result struct {
	Success    bool           `json:"success"`
	Element    *uimap.Element `json:"element,omitempty"`
	Score      float64        `json:"score"`
	Candidates []Candidate    `json:"candidates"`
	Event      *Event         `json:"event,omitempty"`
}

// Signal weights. Applied only over signature fields actually present;
// absent fields are excluded from numerator and denominator both, and the
// total is renormalised by the weight sum actually used.
const (
	weightText     = 0.35
	weightCaption  = 0.20
	weightRole     = 0.20
	weightBBox     = 0.15
	weightNeighbor = 0.10
)

// methodPriority orders reason kinds for deriving an Event method. The
// first kind with a positive recorded value wins; caption similarity has no
// method of its own and falls through to the default.
var methodPriority = []struct {
	kind   ReasonKind
	method Method
}{
	{ReasonText, MethodTextSimilarity},
	{ReasonRole, MethodRoleMatch},
	{ReasonBBox, MethodBBoxProximity},
	{ReasonNeighbor, MethodNeighborAnchor},
}

// Config bounds resolver behaviour. Value semantics: the resolver copies
// it on every call, so updating configuration concurrently with in-flight
// resolutions can never produce a torn read.
type Config struct {
	// ConfidenceThreshold is the minimum normalised score for the top
	// candidate to be accepted. Default 0.7.
	ConfidenceThreshold float64 `yaml:"confidence_threshold" json:"confidenceThreshold"`

	// MaxCandidates caps how many scored candidates are retained in
	// results and events for audit. Default 5.
	MaxCandidates int `yaml:"max_candidates" json:"maxCandidates"`
}

func (c *Config) defaults() {
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = 0.7
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = 5
	}
}

// Resolver locates elements across UIMap snapshots. One instance is safe
// for concurrent use; the only mutable state is its configuration.
type Resolver struct {
	mu  sync.RWMutex
	cfg Config
}

// NewResolver creates a Resolver. A zero Config gets defaults applied.
func NewResolver(cfg Config) *Resolver {
	cfg.defaults()
	return &Resolver{cfg: cfg}
}

// SetConfig replaces the resolver configuration. In-flight calls keep the
// snapshot they took at entry.
func (r *Resolver) SetConfig(cfg Config) {
	cfg.defaults()
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}

// Config returns the current configuration snapshot.
func (r *Resolver) Config() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// ResolveByID finds targetID in m. An exact id hit always wins: it returns
// success with score 1.0 immediately, without scoring against the
// signature even when one is supplied. On a miss, a non-nil signature
// triggers the scoring path with targetID as the original target for event
// generation; without a signature the result is a plain failure with no
// candidates.
func (r *Resolver) ResolveByID(targetID string, m *uimap.UIMap, sig *Signature) Result {
	if el, ok := m.Lookup(targetID); ok {
		return Result{
			Success: true,
			Element: &el,
			Score:   1.0,
			Candidates: []Candidate{{
				Element: el,
				Score:   1.0,
				Reasons: []Reason{{Kind: ReasonExactID, Value: 1}},
			}},
		}
	}

	if sig == nil {
		return Result{Success: false, Candidates: []Candidate{}}
	}

	return r.FindBestMatch(*sig, m, targetID)
}

// FindBestMatch scores every element of m against sig and accepts the top
// candidate when it clears the confidence threshold. Candidates scoring
// exactly zero are discarded. When the accepted element's id differs from
// originalID, the result carries a healing Event; the top candidates are
// retained in the event for audit regardless of which one was accepted.
func (r *Resolver) FindBestMatch(sig Signature, m *uimap.UIMap, originalID string) Result {
	cfg := r.Config()

	candidates := make([]Candidate, 0, len(m.Elements))
	for _, el := range m.Elements {
		score, reasons := scoreElement(sig, el, m)
		if score == 0 {
			continue
		}
		candidates = append(candidates, Candidate{Element: el, Score: score, Reasons: reasons})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > cfg.MaxCandidates {
		candidates = candidates[:cfg.MaxCandidates]
	}

	if len(candidates) == 0 || candidates[0].Score < cfg.ConfidenceThreshold {
		return Result{Success: false, Candidates: candidates}
	}

	best := candidates[0]
	res := Result{
		Success:    true,
		Element:    &best.Element,
		Score:      best.Score,
		Candidates: candidates,
	}

	if originalID != "" && originalID != best.Element.ID {
		res.Event = &Event{
			Timestamp:      time.Now().UTC(),
			OriginalTarget: originalID,
			HealedTarget:   best.Element.ID,
			Method:         deriveMethod(best.Reasons),
			Confidence:     best.Score,
			Candidates:     candidates,
		}
	}

	return res
}

// scoreElement computes the weighted, renormalised score of el against sig.
// Only present signature fields contribute: their weights enter both the
// numerator and the denominator, so a partial signature is not penalised
// for what it never captured. An all-absent signature has weight zero and
// scores zero: no signal, no match.
func scoreElement(sig Signature, el uimap.Element, m *uimap.UIMap) (float64, []Reason) {
	var sum, weightSum float64
	var reasons []Reason

	if sig.Text != nil {
		v := TextSimilarity(*sig.Text, el.Text)
		sum += weightText * v
		weightSum += weightText
		reasons = append(reasons, Reason{Kind: ReasonText, Value: v})
	}

	if sig.Caption != nil {
		v := TextSimilarity(*sig.Caption, el.Caption)
		sum += weightCaption * v
		weightSum += weightCaption
		reasons = append(reasons, Reason{Kind: ReasonCaption, Value: v})
	}

	if sig.Role != nil {
		v := 0.0
		if *sig.Role == el.Role {
			v = 1.0
		}
		sum += weightRole * v
		weightSum += weightRole
		reasons = append(reasons, Reason{Kind: ReasonRole, Value: v})
	}

	if sig.BBox != nil {
		v := Proximity(*sig.BBox, el.BBox, m.Screen.Width, m.Screen.Height)
		sum += weightBBox * v
		weightSum += weightBBox
		reasons = append(reasons, Reason{Kind: ReasonBBox, Value: v})
	}

	if len(sig.NeighborTexts) > 0 {
		idx := m.Index()
		var actualTexts []string
		for _, id := range el.Neighbors.Pooled() {
			if n, ok := idx[id]; ok && n.Text != "" {
				actualTexts = append(actualTexts, n.Text)
			}
		}
		v := neighborAnchorScore(sig.NeighborTexts, actualTexts)
		sum += weightNeighbor * v
		weightSum += weightNeighbor
		reasons = append(reasons, Reason{Kind: ReasonNeighbor, Value: v})
	}

	if weightSum == 0 {
		return 0, nil
	}
	return sum / weightSum, reasons
}

// deriveMethod picks the event method from the recorded reasons: the first
// kind in priority order with a positive value. Text similarity is the
// default when nothing qualifies.
func deriveMethod(reasons []Reason) Method {
	byKind := make(map[ReasonKind]float64, len(reasons))
	for _, r := range reasons {
		byKind[r.Kind] = r.Value
	}
	for _, p := range methodPriority {
		if byKind[p.kind] > 0 {
			return p.method
		}
	}
	return MethodTextSimilarity
}
