package model

// Actor identifies who is performing a mutating operation on an aggregate.
// Background processes use SystemActor; a zero Actor is rejected by every
// mutating operation.
type Actor struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	System bool   `json:"system,omitempty"`
}

// SystemActor returns the explicit identity used for background-triggered
// operations such as delivery attempts and retry bookkeeping.
func SystemActor() Actor {
	return Actor{ID: "system", Name: "system", System: true}
}

func (a Actor) IsZero() bool {
	return a.ID == ""
}
