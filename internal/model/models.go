// Package model defines shared data structures for the watcher.
package model

import "fmt"

// taskPageURL is the canonical task page, templated on the task id.
const taskPageURL = "https://youdo.com/t%d"

// Task is a normalised listing fetched from the YouDo search API.
// It is serialised to JSON and stored under its Id in the dedup store.
type Task struct {
	ID          int64  `json:"Id"`
	Name        string `json:"Name"`
	PriceAmount string `json:"PriceAmount,omitempty"` // budget descriptor, may be absent
	URL         string `json:"Url,omitempty"`
	StatusText  string `json:"StatusText,omitempty"`
	Description string `json:"Description,omitempty"`
}

// Link returns the canonical page URL for the task.
func (t Task) Link() string {
	return fmt.Sprintf(taskPageURL, t.ID)
}

// Pin is the lightweight map-marker variant some search endpoint deployments
// return in place of full items. It carries no title or description; a
// follow-up fetch by id is required before the task enters the pipeline.
type Pin struct {
	ID        int64   `json:"Id"`
	Latitude  float64 `json:"Latitude"`
	Longitude float64 `json:"Longitude"`
}

// User mirrors a Telegram user registered through the bot command layer.
type User struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}
