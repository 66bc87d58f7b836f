package dto

import (
	"time"

	"klubban/internal/entity"
	"klubban/internal/repository"
)

type AuthorizeResponse struct {
	AuthorizeURL string `json:"authorize_url"`
}

type StravaStatusResponse struct {
	Connected bool   `json:"connected"`
	AthleteID *int64 `json:"athlete_id,omitempty"`
}

type SyncResponse struct {
	Inserted int    `json:"inserted"`
	Error    string `json:"error,omitempty"`
}

type ActivityResponse struct {
	StravaID           int64      `json:"strava_id"`
	Name               string     `json:"name"`
	Type               string     `json:"type"`
	DistanceMeters     float64    `json:"distance_meters"`
	MovingTimeSeconds  int        `json:"moving_time_seconds"`
	ElapsedTimeSeconds int        `json:"elapsed_time_seconds"`
	TotalElevationGain float64    `json:"total_elevation_gain"`
	StartDate          *time.Time `json:"start_date,omitempty"`
	StartDateLocal     *time.Time `json:"start_date_local,omitempty"`
	AverageSpeed       *float64   `json:"average_speed,omitempty"`
	MaxSpeed           *float64   `json:"max_speed,omitempty"`
}

func ActivitiesFromEntities(activities []entity.StravaActivity) []ActivityResponse {
	responses := make([]ActivityResponse, 0, len(activities))
	for _, a := range activities {
		responses = append(responses, ActivityResponse{
			StravaID:           a.StravaID,
			Name:               a.Name,
			Type:               a.ActivityType,
			DistanceMeters:     a.DistanceMeters,
			MovingTimeSeconds:  a.MovingTimeSeconds,
			ElapsedTimeSeconds: a.ElapsedTimeSeconds,
			TotalElevationGain: a.TotalElevationGain,
			StartDate:          a.StartDate,
			StartDateLocal:     a.StartDateLocal,
			AverageSpeed:       a.AverageSpeed,
			MaxSpeed:           a.MaxSpeed,
		})
	}
	return responses
}

type LeaderboardEntryResponse struct {
	Rank           int     `json:"rank"`
	Username       string  `json:"username"`
	DisplayName    string  `json:"display_name"`
	DistanceKm     float64 `json:"distance_km"`
	ElevationGainM float64 `json:"elevation_gain_m"`
	Rides          int     `json:"rides"`
}

func LeaderboardFromEntries(entries []repository.LeaderboardEntry) []LeaderboardEntryResponse {
	responses := make([]LeaderboardEntryResponse, 0, len(entries))
	for i, e := range entries {
		name := e.DisplayName
		if name == "" {
			name = e.Username
		}
		responses = append(responses, LeaderboardEntryResponse{
			Rank:           i + 1,
			Username:       e.Username,
			DisplayName:    name,
			DistanceKm:     e.TotalDistance / 1000,
			ElevationGainM: e.TotalElevation,
			Rides:          e.RideCount,
		})
	}
	return responses
}
