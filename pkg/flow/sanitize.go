package flow

// Data keys a node may carry. Anything else is dropped on insert and update.
var allowedNodeData = map[string]struct{}{
	"label": {}, "nodeType": {}, "metadata": {}, "message": {}, "variables": {},
	"isEditing": {}, "id": {},
	// decision
	"conditions": {}, "question": {},
	// option
	"sourceNode": {}, "conditionId": {}, "text": {}, "instruction": {},
	"isUltraPerformanceMode": {}, "parentNode": {}, "color": {}, "lastUpdated": {},
	// ai
	"prompt": {}, "promptTemplate": {}, "temperature": {}, "maxTokens": {},
	"systemMessage": {}, "lastResponse": {}, "lastPrompt": {},
	// media
	"type": {}, "url": {}, "caption": {}, "altText": {}, "description": {}, "config": {},
	// wait
	"duration": {}, "unit": {}, "isCollapsed": {},
}

// Data keys an edge may carry.
var allowedEdgeData = map[string]struct{}{
	"animated": {}, "style": {}, "label": {},
	"sourceX": {}, "sourceY": {}, "targetX": {}, "targetY": {},
	"labelStyle": {}, "labelBgStyle": {}, "markerEnd": {}, "markerStart": {},
}

func sanitize(data map[string]any, allowed map[string]struct{}) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		if _, ok := allowed[k]; ok {
			out[k] = v
		}
	}
	return out
}
