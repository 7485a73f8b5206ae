package eligibility

// Gender is the gender targeted by a program rule.
type Gender string

const (
	GenderAny    Gender = "any"
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// Rule is the eligibility rule set attached to a program.
type Rule struct {
	MinAge       int    `json:"minAge" yaml:"minAge"`
	Gender       Gender `json:"gender" yaml:"gender"`
	RequiresCard bool   `json:"requiresSehatCard" yaml:"requiresSehatCard"`
}

// Program is a public-health program in the catalogue.
type Program struct {
	ID          int64  `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Rule        Rule   `json:"eligibilityRules" yaml:"eligibilityRules"`
}

// PatientContext is the input to an eligibility evaluation.
type PatientContext struct {
	PatientID     *int64 `json:"patientId,omitempty"`
	Age           int    `json:"age"`
	Gender        string `json:"gender"`
	District      string `json:"district,omitempty"`
	IncomeBracket string `json:"incomeBracket,omitempty"`
	HasCard       *bool  `json:"hasMockSehatCard,omitempty"`
}

func (pc PatientContext) hasCard() bool {
	return pc.HasCard != nil && *pc.HasCard
}

// MockApplication tells the patient how to enrol.
type MockApplication struct {
	Instructions string `json:"instructions"`
	Contact      string `json:"contact"`
}

// DefaultApplication is attached to every verdict.
var DefaultApplication = MockApplication{
	Instructions: "Provide placeholder CNIC 12345-xxxxxxx-x and basic household information to enroll.",
	Contact:      "Visit nearest Sehat Sahulat facilitation center or apply via LHW tablet.",
}

// Verdict is the explainable result of evaluating one patient against one program.
type Verdict struct {
	ProgramID       int64           `json:"programId"`
	Name            string          `json:"name"`
	LikelyEligible  bool            `json:"likelyEligible"`
	Reason          string          `json:"reason"`
	MockApplication MockApplication `json:"mockApplication"`
}

// Status is the persisted outcome of an evaluation.
type Status string

const (
	StatusEligible   Status = "eligible"
	StatusIneligible Status = "ineligible"
	StatusReview     Status = "review"
)

// RecordDetails is stored alongside each persisted evaluation.
type RecordDetails struct {
	Reason        string `json:"reason,omitempty"`
	IncomeBracket string `json:"incomeBracket,omitempty"`
	HasCard       *bool  `json:"hasMockSehatCard,omitempty"`
}

// Record is one persisted (patient, program) evaluation.
type Record struct {
	PatientID int64         `json:"patientId"`
	ProgramID int64         `json:"programId"`
	Status    Status        `json:"status"`
	Details   RecordDetails `json:"details"`
}
