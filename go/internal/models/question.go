package models

// Question is a single quiz question served to both players of a match.
// CorrectChoice is the index into Choices and is never sent to clients.
type Question struct {
	ID            string   `json:"id"`
	CategoryID    string   `json:"category_id"`
	Prompt        string   `json:"prompt"`
	Choices       []string `json:"choices"`
	CorrectChoice int      `json:"-"`
}
