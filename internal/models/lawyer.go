package models

// Lawyer mirrors a row of the Lawyer table.
type Lawyer struct {
	ID              int64   `json:"lawyer_id"`
	FirstName       string  `json:"first_name"`
	LastName        string  `json:"last_name"`
	Specialization  string  `json:"specialization"`
	City            string  `json:"city"`
	State           string  `json:"state"`
	ExperienceYears int     `json:"experience_years"`
	HourlyRate      float64 `json:"hourly_rate"`
	Languages       string  `json:"languages"`
	Email           string  `json:"email"`
	Phone           string  `json:"phone"`
	WebsiteURL      string  `json:"website_url"`
	Rating          float64 `json:"rating"`
	Reviews         int     `json:"reviews"`
	Bio             string  `json:"bio"`
}

// LawyerFilter narrows the directory query. Empty fields match everything.
type LawyerFilter struct {
	Specialization string
	City           string
	Language       string
}
