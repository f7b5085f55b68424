package describer

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/CommonRoad/sandra/internal/actions"
)

// SchemaName is the response format name sent to the model.
const SchemaName = "HighLevelDrivingDecision"

// Thoughts is the free-text reasoning the model produces before the
// ranking.
type Thoughts struct {
	Observation []string `json:"observation"`
	Conclusion  string   `json:"conclusion"`
}

// Decision is the structured response contract: reasoning plus an
// ordered ranking of action pairs, best first.
type Decision struct {
	Thoughts      Thoughts         `json:"thoughts"`
	ActionRanking []actions.Action `json:"action_ranking"`
}

// DecisionSchema reflects the Decision contract and restricts the
// action enums to the maneuvers available in the scene. A single
// remaining option additionally becomes a const, which strict
// structured-output modes honor more reliably.
func DecisionSchema(longitudinals []actions.Longitudinal, laterals []actions.Lateral) (map[string]any, error) {
	if len(longitudinals) == 0 || len(laterals) == 0 {
		return nil, fmt.Errorf("no available actions to build a schema from")
	}
	reflector := jsonschema.Reflector{ExpandedStruct: true}
	raw, err := json.Marshal(reflector.Reflect(&Decision{}))
	if err != nil {
		return nil, fmt.Errorf("reflect decision schema: %w", err)
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("decode decision schema: %w", err)
	}
	schema["title"] = SchemaName

	lonValues := make([]any, len(longitudinals))
	for i, lon := range longitudinals {
		lonValues[i] = string(lon)
	}
	latValues := make([]any, len(laterals))
	for i, lat := range laterals {
		latValues[i] = string(lat)
	}
	if err := patchEnum(schema, "longitudinal_action", lonValues); err != nil {
		return nil, err
	}
	if err := patchEnum(schema, "lateral_action", latValues); err != nil {
		return nil, err
	}
	return schema, nil
}

func patchEnum(schema map[string]any, property string, values []any) error {
	defs, ok := schema["$defs"].(map[string]any)
	if !ok {
		return fmt.Errorf("decision schema has no $defs")
	}
	action, ok := defs["Action"].(map[string]any)
	if !ok {
		return fmt.Errorf("decision schema has no Action definition")
	}
	props, ok := action["properties"].(map[string]any)
	if !ok {
		return fmt.Errorf("Action definition has no properties")
	}
	field, ok := props[property].(map[string]any)
	if !ok {
		return fmt.Errorf("Action definition has no %s property", property)
	}
	field["enum"] = values
	if len(values) == 1 {
		field["const"] = values[0]
	} else {
		delete(field, "const")
	}
	return nil
}
