package model

// TurnContext is the per-turn context bundle sent with every generation
// request: locale, jurisdiction tags, brevity flag and the professional-role
// hint used to pitch the answer.
type TurnContext struct {
	Region      string `json:"region"`
	Country     string `json:"country"`
	Language    string `json:"language"`
	ShortAnswer bool   `json:"short_answer"`
	RoleHint    string `json:"role_hint"`
}
