package strava

// Athlete is the athlete document returned alongside tokens on the initial
// OAuth exchange.
type Athlete struct {
	ID            int64   `json:"id"`
	Username      string  `json:"username"`
	Firstname     string  `json:"firstname"`
	Lastname      string  `json:"lastname"`
	Bio           string  `json:"bio"`
	City          string  `json:"city"`
	State         string  `json:"state"`
	Country       string  `json:"country"`
	Sex           string  `json:"sex"`
	Premium       bool    `json:"premium"`
	Summit        bool    `json:"summit"`
	Weight        float64 `json:"weight"`
	ProfileMedium string  `json:"profile_medium"`
	Profile       string  `json:"profile"`
}

// ListOptions narrows an activity listing to an epoch-second window. Nil
// bounds mean unbounded; PerPage is clamped to the API maximum of 200.
type ListOptions struct {
	PerPage int
	After   *int64
	Before  *int64
}

// Subscription is a registered push subscription at the upstream provider.
type Subscription struct {
	ID          int64  `json:"id"`
	CallbackURL string `json:"callback_url"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}
