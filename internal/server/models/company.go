package models

// Company is the directory view of a member used for display names.
type Company struct {
	StaticID               string `json:"staticId"`
	Name                   string `json:"name"`
	IsFinancialInstitution bool   `json:"isFinancialInstitution"`
	IsMember               bool   `json:"isMember"`
}

// DisplayName falls back to the static id when the directory has no name.
func (c *Company) DisplayName() string {
	if c == nil {
		return ""
	}
	if c.Name != "" {
		return c.Name
	}
	return c.StaticID
}
