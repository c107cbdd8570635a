package types

import "fmt"

// DiffResult is the structured list of visual/textual differences between
// the two plan versions, produced by the first pipeline stage.
type DiffResult struct {
	Summary     string           `json:"summary"`
	Differences []PlanDifference `json:"differences"`
}

type PlanDifference struct {
	Zone        string `json:"zone"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// CubicacionResult is the quantity-of-work differential inferred from the
// diff: areas, volumes and counts that changed between versions.
type CubicacionResult struct {
	Summary string           `json:"summary"`
	Items   []CubicacionItem `json:"items"`
}

type CubicacionItem struct {
	Partida        string  `json:"partida"`
	Unit           string  `json:"unit"`
	QuantityBefore float64 `json:"quantity_before"`
	QuantityAfter  float64 `json:"quantity_after"`
	Delta          float64 `json:"delta"`
}

// ImpactosResult describes how the detected changes cascade across
// engineering specialties as a variable-depth tree.
type ImpactosResult struct {
	Summary string       `json:"summary"`
	Impacts []ImpactNode `json:"impacts"`
}

type ImpactNode struct {
	Specialty       string       `json:"specialty"`
	DirectImpact    string       `json:"direct_impact"`
	IndirectImpact  string       `json:"indirect_impact"`
	Severity        string       `json:"severity"` // low|medium|high
	Risk            string       `json:"risk"`
	Consequences    []string     `json:"consequences"`
	Recommendations []string     `json:"recommendations"`
	Children        []ImpactNode `json:"children,omitempty"`
}

func validImpactSeverity(s string) bool {
	switch s {
	case "low", "medium", "high":
		return true
	}
	return false
}

// Validate walks the tree and rejects severity values outside the allowed
// set. Model output that fails this check is treated as total stage failure.
func (r *ImpactosResult) Validate() error {
	for i := range r.Impacts {
		if err := r.Impacts[i].validate(); err != nil {
			return err
		}
	}
	return nil
}

func (n *ImpactNode) validate() error {
	if !validImpactSeverity(n.Severity) {
		return fmt.Errorf("impact node %q: invalid severity %q", n.Specialty, n.Severity)
	}
	for i := range n.Children {
		if err := n.Children[i].validate(); err != nil {
			return err
		}
	}
	return nil
}
