package store

import "time"

// Template is the stored reference embedding for an enrolled user. A user
// has at most one current template; re-enrollment replaces it. The model
// tag pins which extraction model produced the vector so the decision
// engine can refuse cross-version comparisons.
type Template struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Vector    []float32 `json:"vector"`
	Model     string    `json:"model"`
	Dim       int       `json:"dim"`
	Quality   float64   `json:"quality"` // detection score of the enrollment capture
	CreatedAt time.Time `json:"created_at"`
}

// Info is template metadata without the biometric vector, safe to list
// and expose over the operator API.
type Info struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Model     string    `json:"model"`
	Dim       int       `json:"dim"`
	Quality   float64   `json:"quality"`
	CreatedAt time.Time `json:"created_at"`
}

// Info strips the vector from a template.
func (t *Template) Info() Info {
	return Info{
		ID:        t.ID,
		Username:  t.Username,
		Model:     t.Model,
		Dim:       t.Dim,
		Quality:   t.Quality,
		CreatedAt: t.CreatedAt,
	}
}
