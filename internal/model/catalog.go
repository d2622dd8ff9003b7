package model

import "time"

// Event is a recurring sporting event in the catalog.
type Event struct {
	ID               int64      `json:"id"`
	Name             string     `json:"name"`
	Slug             string     `json:"slug"`
	Description      string     `json:"description,omitempty"`
	WebsiteURL       string     `json:"website_url,omitempty"`
	FacebookURL      string     `json:"facebook_url,omitempty"`
	InstagramURL     string     `json:"instagram_url,omitempty"`
	City             string     `json:"city,omitempty"`
	CountryCode      string     `json:"country_code,omitempty"`
	SubdivisionName  string     `json:"subdivision_name,omitempty"`
	RegionCode       string     `json:"region_code,omitempty"`
	Address          string     `json:"address,omitempty"`
	IsFeatured       bool       `json:"is_featured"`
	CurrentEditionID *int64     `json:"current_edition_id,omitempty"`
	DataSource       string     `json:"data_source,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	ArchivedAt       *time.Time `json:"archived_at,omitempty"`
}

// Edition is one occurrence (usually one year) of an event.
type Edition struct {
	ID              int64      `json:"id"`
	EventID         int64      `json:"event_id"`
	Year            int        `json:"year,omitempty"`
	StartDate       *time.Time `json:"start_date,omitempty"`
	EndDate         *time.Time `json:"end_date,omitempty"`
	RegistrationURL string     `json:"registration_url,omitempty"`
	Timezone        string     `json:"timezone,omitempty"`

	// CustomerType is non-nil for editions managed under a paid plan.
	CustomerType *string `json:"customer_type,omitempty"`

	OrganizerID *int64    `json:"organizer_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Premium reports whether the edition belongs to a paying customer.
func (e *Edition) Premium() bool {
	return e.CustomerType != nil && *e.CustomerType != ""
}

// Race is a single distance/discipline within an edition. Races are soft
// deleted: Archived is flipped instead of removing the row.
type Race struct {
	ID             int64      `json:"id"`
	EditionID      int64      `json:"edition_id"`
	Name           string     `json:"name"`
	DistanceMeters float64    `json:"distance_meters,omitempty"`
	RaceType       string     `json:"race_type,omitempty"`
	StartTime      string     `json:"start_time,omitempty"`
	Archived       bool       `json:"archived"`
	ArchivedAt     *time.Time `json:"archived_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Organizer is the organizing body behind one or more editions.
type Organizer struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Website   string    `json:"website,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
