// Package service exposes the healing and drift core over HTTP and MCP so
// non-Go callers (test orchestrators, agents) can use it without linking
// the library. Both transports share one Service and one configuration.
package service

import (
	"fmt"
	"log/slog"

	"github.com/okralabs/uiheal/drift"
	"github.com/okralabs/uiheal/heal"
	"github.com/okralabs/uiheal/trajectory"
	"github.com/okralabs/uiheal/uimap"
)

// Service bundles the resolver and comparator with optional persistence.
type Service struct {
	resolver   *heal.Resolver
	comparator *drift.Comparator
	store      *trajectory.Store // nil = no persistence
	logger     *slog.Logger
}

// New creates a Service. store may be nil.
func New(healCfg heal.Config, driftCfg drift.Config, store *trajectory.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		resolver:   heal.NewResolver(healCfg),
		comparator: drift.NewComparator(driftCfg),
		store:      store,
		logger:     logger,
	}
}

// resolveRequest is the wire shape shared by the HTTP and MCP transports.
type resolveRequest struct {
	TargetID  string          `json:"targetId"`
	UIMap     *uimap.UIMap    `json:"uiMap"`
	Signature *heal.Signature `json:"signature,omitempty"`
}

type driftRequest struct {
	Expected *uimap.UIMap  `json:"expected"`
	Actual   *uimap.UIMap  `json:"actual"`
	Config   *drift.Config `json:"config,omitempty"`
}

type signatureRequest struct {
	ElementID string       `json:"elementId"`
	UIMap     *uimap.UIMap `json:"uiMap"`
}

func (s *Service) resolve(req resolveRequest) (heal.Result, error) {
	if req.UIMap == nil {
		return heal.Result{}, fmt.Errorf("service: resolve: uiMap is required")
	}
	if req.TargetID == "" {
		return heal.Result{}, fmt.Errorf("service: resolve: targetId is required")
	}
	res := s.resolver.ResolveByID(req.TargetID, req.UIMap, req.Signature)
	if res.Event != nil {
		s.logger.Info("service: healed element reference",
			"original", res.Event.OriginalTarget,
			"healed", res.Event.HealedTarget,
			"method", res.Event.Method)
	}
	return res, nil
}

func (s *Service) detectDrift(req driftRequest) (drift.Report, error) {
	if req.Expected == nil || req.Actual == nil {
		return drift.Report{}, fmt.Errorf("service: drift: expected and actual are required")
	}
	cmp := s.comparator
	if req.Config != nil {
		// Per-request thresholds get a throwaway comparator; the shared
		// one keeps its configuration.
		cmp = drift.NewComparator(*req.Config)
	}
	return cmp.Detect(req.Expected, req.Actual), nil
}

func (s *Service) buildSignature(req signatureRequest) (heal.Signature, error) {
	if req.UIMap == nil {
		return heal.Signature{}, fmt.Errorf("service: signature: uiMap is required")
	}
	el, ok := req.UIMap.Lookup(req.ElementID)
	if !ok {
		return heal.Signature{}, fmt.Errorf("service: signature: element %q not in map", req.ElementID)
	}
	return heal.BuildSignature(el, req.UIMap), nil
}

// SetHealConfig swaps resolver configuration at runtime.
func (s *Service) SetHealConfig(cfg heal.Config) { s.resolver.SetConfig(cfg) }

// SetDriftConfig swaps comparator configuration at runtime.
func (s *Service) SetDriftConfig(cfg drift.Config) { s.comparator.SetConfig(cfg) }
