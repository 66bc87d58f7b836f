package strava

import "time"

// Tokens is an access/refresh pair. ExpiresAt is epoch seconds.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
}

type Athlete struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	City      string `json:"city"`
	Country   string `json:"country"`
	Profile   string `json:"profile"`
	// ProfileMedium is the 62x62 avatar.
	ProfileMedium string `json:"profile_medium"`
}

// Grant is the result of exchanging an authorization code.
type Grant struct {
	Tokens  Tokens
	Athlete Athlete
}

// Activity is the summary representation returned by /athlete/activities.
type Activity struct {
	ID                 int64      `json:"id"`
	Name               string     `json:"name"`
	Type               string     `json:"type"`
	SportType          string     `json:"sport_type"`
	Distance           float64    `json:"distance"`
	MovingTime         int        `json:"moving_time"`
	ElapsedTime        int        `json:"elapsed_time"`
	TotalElevationGain float64    `json:"total_elevation_gain"`
	StartDate          *time.Time `json:"start_date"`
	StartDateLocal     *time.Time `json:"start_date_local"`
	AverageSpeed       *float64   `json:"average_speed"`
	MaxSpeed           *float64   `json:"max_speed"`
}
