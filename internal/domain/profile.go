package domain

import "slices"

// Department is one of the fixed business units of the roster.
type Department string

var departments = []Department{
	"Govtech",
	"Marketing",
	"Inovação",
	"ServiceDesk",
	"Grandes Contas",
	"Varejo",
	"Financeiro",
	"Fiscal",
	"Saúde",
	"Projetos",
	"Corporativo",
}

// Departments returns the known departments in display order.
func Departments() []Department {
	return slices.Clone(departments)
}

// Valid reports whether d is a known department.
func (d Department) Valid() bool {
	return slices.Contains(departments, d)
}

// Profile is the directory entry linked to an identity.
type Profile struct {
	IdentityKey     string     `json:"identity_key"`
	DisplayName     string     `json:"display_name"`
	RoleTitle       string     `json:"role_title"`
	IsAdministrator bool       `json:"is_administrator"`
	Department      Department `json:"department"`

	// Contact details, used for vCard export.
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Site     string `json:"site,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}
