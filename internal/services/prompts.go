package services

import "fmt"

// Stage prompts and output schemas for the three plan-comparison calls.
// Each stage's user prompt carries the prior stages' summaries as context,
// so the calls are order-dependent and must run sequentially.

const diffSystemPrompt = `You are a senior construction plans reviewer. You compare two versions of the same architectural/engineering plan and report every visual or textual difference. Be exhaustive and concrete: reference zones, axes, dimensions and annotations. Answer in the schema provided.`

const cubicacionSystemPrompt = `You are a construction quantity surveyor (cubicador). Given two versions of a plan and a technical diff between them, estimate the quantity-of-work changes: areas, volumes, lengths and counts per partida. Report before/after quantities and the delta. Answer in the schema provided.`

const impactosSystemPrompt = `You are a multidisciplinary construction engineering coordinator. Given two plan versions, a technical diff and a quantity differential, build a tree of impacts describing how each change cascades across specialties (architecture, structure, electrical, sanitary, HVAC). Every node needs direct impact, indirect impact, severity (low, medium or high), a risk label, consequences and recommendations; nest child nodes for cascading specialties. Answer in the schema provided.`

func diffUserPrompt() string {
	return "Compare the two attached plan versions (first image is version A, second is version B). List every difference."
}

func cubicacionUserPrompt(diffSummary string) string {
	return fmt.Sprintf("The two attached images are plan version A and plan version B. Technical diff summary between them:\n\n%s\n\nEstimate the quantity-of-work differential implied by these changes.", diffSummary)
}

func impactosUserPrompt(diffSummary, cubicacionSummary string) string {
	return fmt.Sprintf("The two attached images are plan version A and plan version B.\n\nTechnical diff summary:\n%s\n\nQuantity differential summary:\n%s\n\nBuild the impact tree for these changes.", diffSummary, cubicacionSummary)
}

var diffSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []string{"summary", "differences"},
	"properties": map[string]any{
		"summary": map[string]any{"type": "string"},
		"differences": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []string{"zone", "category", "description", "severity"},
				"properties": map[string]any{
					"zone":        map[string]any{"type": "string"},
					"category":    map[string]any{"type": "string"},
					"description": map[string]any{"type": "string"},
					"severity":    map[string]any{"type": "string", "enum": []string{"low", "medium", "high"}},
				},
			},
		},
	},
}

var cubicacionSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []string{"summary", "items"},
	"properties": map[string]any{
		"summary": map[string]any{"type": "string"},
		"items": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []string{"partida", "unit", "quantity_before", "quantity_after", "delta"},
				"properties": map[string]any{
					"partida":         map[string]any{"type": "string"},
					"unit":            map[string]any{"type": "string"},
					"quantity_before": map[string]any{"type": "number"},
					"quantity_after":  map[string]any{"type": "number"},
					"delta":           map[string]any{"type": "number"},
				},
			},
		},
	},
}

// impactNodeSchema nests via $ref so the tree depth is model-chosen.
var impactosSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []string{"summary", "impacts"},
	"properties": map[string]any{
		"summary": map[string]any{"type": "string"},
		"impacts": map[string]any{
			"type":  "array",
			"items": map[string]any{"$ref": "#/$defs/impact_node"},
		},
	},
	"$defs": map[string]any{
		"impact_node": map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []string{"specialty", "direct_impact", "indirect_impact", "severity", "risk", "consequences", "recommendations", "children"},
			"properties": map[string]any{
				"specialty":       map[string]any{"type": "string"},
				"direct_impact":   map[string]any{"type": "string"},
				"indirect_impact": map[string]any{"type": "string"},
				"severity":        map[string]any{"type": "string", "enum": []string{"low", "medium", "high"}},
				"risk":            map[string]any{"type": "string"},
				"consequences":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"recommendations": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"children": map[string]any{
					"type":  "array",
					"items": map[string]any{"$ref": "#/$defs/impact_node"},
				},
			},
		},
	},
}
