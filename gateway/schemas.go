package gateway

// Input schemas, JSON Schema draft 2020-12.

const patientProfileSchema = `{
	"type": "object",
	"properties": {
		"patientId": {"type": "integer", "minimum": 1}
	},
	"required": ["patientId"],
	"additionalProperties": false
}`

const interactionLogSchema = `{
	"type": "object",
	"properties": {
		"agentName": {"type": "string", "minLength": 1},
		"inputSummary": {"type": "string"},
		"outputSummary": {"type": "string"},
		"triageLevel": {"type": "string"},
		"userId": {"type": "integer", "minimum": 1},
		"patientId": {"type": "integer", "minimum": 1}
	},
	"required": ["agentName", "inputSummary", "outputSummary"],
	"additionalProperties": false
}`

const programEligibilitySchema = `{
	"type": "object",
	"properties": {
		"age": {"type": "integer", "minimum": 0},
		"gender": {"type": "string"},
		"district": {"type": "string"},
		"incomeBracket": {"type": "string"},
		"hasMockSehatCard": {"type": "boolean"},
		"patientId": {"type": "integer", "minimum": 1}
	},
	"required": ["age", "gender"],
	"additionalProperties": false
}`

const facilityRecommendationsSchema = `{
	"type": "object",
	"properties": {
		"district": {"type": "string"},
		"tehsil": {"type": "string"},
		"lat": {"type": "number", "minimum": -90, "maximum": 90},
		"lng": {"type": "number", "minimum": -180, "maximum": 180},
		"requiredServices": {
			"type": "array",
			"items": {"type": "string", "pattern": "\\S"}
		}
	},
	"additionalProperties": false
}`

const createReminderSchema = `{
	"type": "object",
	"properties": {
		"patientId": {"type": "integer", "minimum": 1},
		"type": {"enum": ["medication", "vaccine", "followup"]},
		"message": {"type": "string"},
		"scheduledAt": {"type": "string", "minLength": 1}
	},
	"required": ["patientId", "type", "message", "scheduledAt"],
	"additionalProperties": false
}`

const emptySchema = `{
	"type": "object",
	"additionalProperties": false
}`

const knowledgeQuerySchema = `{
	"type": "object",
	"properties": {
		"query": {"type": "string"},
		"limit": {"type": "integer", "minimum": 1, "maximum": 10}
	},
	"required": ["query"],
	"additionalProperties": false
}`
