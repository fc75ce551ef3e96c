package dto

// FlowDefinition is the authored shape of a flow file (YAML or JSON).
// It uses "mapstructure" tags so aliases from older exports decode too.
type FlowDefinition struct {
	ID           string `json:"id" mapstructure:"id"`
	TenantID     string `json:"tenant_id" mapstructure:"tenant_id"`
	Name         string `json:"name" mapstructure:"name"`
	Category     string `json:"category" mapstructure:"category"`
	IndustryType string `json:"industry_type" mapstructure:"industry_type"`
	Version      int    `json:"version" mapstructure:"version"`
	Active       *bool  `json:"active" mapstructure:"active"`
	Default      *bool  `json:"default" mapstructure:"default"`

	StartNodeID string `json:"start_node_id" mapstructure:"start_node_id"`
	Start       string `json:"start" mapstructure:"start"`
	RootMenu    string `json:"root_menu" mapstructure:"root_menu"`

	// Nodes is either a map keyed by node id or a list of nodes carrying an id.
	Nodes any `json:"nodes" mapstructure:"nodes"`
}

// NodeDefinition is one authored node.
type NodeDefinition struct {
	ID         string                      `json:"id" mapstructure:"id"`
	Type       string                      `json:"type" mapstructure:"type"`
	Next       string                      `json:"next" mapstructure:"next"`
	NextNodeID string                      `json:"next_node_id" mapstructure:"next_node_id"`
	Text       string                      `json:"text" mapstructure:"text"`
	Assign     map[string]any              `json:"assign" mapstructure:"assign"`
	Edges      []EdgeDefinition            `json:"edges" mapstructure:"edges"`
	Branches   []EdgeDefinition            `json:"branches" mapstructure:"branches"`
	Prompt     string                      `json:"prompt" mapstructure:"prompt"`
	Options    map[string]OptionDefinition `json:"options" mapstructure:"options"`
}

// EdgeDefinition is one BRANCH candidate.
type EdgeDefinition struct {
	When       string `json:"when" mapstructure:"when"`
	Condition  string `json:"condition" mapstructure:"condition"`
	Next       string `json:"next" mapstructure:"next"`
	NextNodeID string `json:"next_node_id" mapstructure:"next_node_id"`
}

// OptionDefinition is one MENU option.
type OptionDefinition struct {
	Label    string `json:"label" mapstructure:"label"`
	Next     string `json:"next" mapstructure:"next"`
	NextMenu string `json:"next_menu" mapstructure:"next_menu"`
	Action   string `json:"action" mapstructure:"action"`
}
