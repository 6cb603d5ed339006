package tools

const historyGetSchema = `{
	"type": "object",
	"properties": {
		"sessionId": {"type": "string", "minLength": 1},
		"limit": {"type": "integer"},
		"before": {"type": "string"}
	},
	"required": ["sessionId", "limit"],
	"additionalProperties": false
}`

const historyAppendSchema = `{
	"type": "object",
	"properties": {
		"sessionId": {"type": "string", "minLength": 1},
		"sender": {"type": "string", "minLength": 1},
		"text": {"type": "string"},
		"metadata": {"type": "object"}
	},
	"required": ["sessionId", "sender", "text"],
	"additionalProperties": false
}`

const memorySearchSchema = `{
	"type": "object",
	"properties": {
		"queryText": {"type": "string"},
		"queryVector": {
			"type": "array",
			"items": {"type": "number"}
		},
		"k": {"type": "integer"},
		"filters": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"field": {"type": "string"},
					"value": {"type": "string"}
				},
				"required": ["field", "value"],
				"additionalProperties": false
			}
		},
		"ontologyClass": {"type": "string"}
	},
	"required": ["k"],
	"anyOf": [
		{"required": ["queryText"]},
		{"required": ["queryVector"]}
	],
	"additionalProperties": false
}`

const graphQuerySchema = `{
	"type": "object",
	"properties": {
		"subjectIds": {
			"type": "array",
			"items": {"type": "string"}
		},
		"filters": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"property": {"type": "string"},
					"op": {"type": "string", "enum": ["eq", "neq", "exists", "not_exists"]},
					"value": {}
				},
				"required": ["property", "op"],
				"additionalProperties": false
			}
		},
		"traverse": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"direction": {"type": "string", "enum": ["out", "in", "both"]},
					"relation": {"type": "string"},
					"hops": {"type": "integer", "minimum": 1}
				},
				"required": ["direction", "relation", "hops"],
				"additionalProperties": false
			}
		},
		"limit": {"type": "integer"}
	},
	"required": ["limit"],
	"additionalProperties": false
}`
