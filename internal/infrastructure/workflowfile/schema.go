package workflowfile

import (
	"encoding/json"

	"github.com/invopop/jsonschema"

	"issueflow/internal/domain/workflow"
)

type layerDoc struct {
	Roles    map[string]workflow.RoleConfig `json:"roles,omitempty" jsonschema:"description=Role overrides. A role may also be the string disabled or false."`
	Workflow layerWorkflow                  `json:"workflow,omitempty"`
	Timeouts layerTimeouts                  `json:"timeouts,omitempty"`
}

type layerWorkflow struct {
	Initial      string                          `json:"initial,omitempty"`
	ReviewPolicy string                          `json:"reviewPolicy,omitempty" jsonschema:"enum=human,enum=agent,enum=auto"`
	States       map[string]workflow.StateConfig `json:"states,omitempty"`
}

type layerTimeouts struct {
	GitPullMs          int `json:"gitPullMs,omitempty"`
	ProviderMs         int `json:"providerMs,omitempty"`
	StaleWorkerMinutes int `json:"staleWorkerMinutes,omitempty"`
}

// Schema returns the JSON schema of one workflow override layer.
func Schema() ([]byte, error) {
	r := &jsonschema.Reflector{
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	s := r.Reflect(&layerDoc{})
	s.Title = "issueflow workflow layer"
	return json.MarshalIndent(s, "", "  ")
}
