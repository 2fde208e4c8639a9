package domain

// RequestType is an entry of the request catalog offered to requesters.
type RequestType struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Slug   string `json:"slug"`
	Order  int    `json:"order"`
	Active bool   `json:"active"`
}

// ProblemSuggestion is a canned problem description for a request type.
type ProblemSuggestion struct {
	ID            int64  `json:"id"`
	RequestTypeID int64  `json:"request_type_id"`
	Text          string `json:"text"`
	Order         int    `json:"order"`
	Active        bool   `json:"active"`
}
