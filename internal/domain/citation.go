package domain

// Citation ties a numbered marker in an answer to the chunks that support it.
type Citation struct {
	Number int        `json:"number"`
	Refs   []ChunkRef `json:"refs"`
}

// CitedAnswer is answer text whose [n] markers all resolve to Citations.
type CitedAnswer struct {
	Text      string     `json:"text"`
	Citations []Citation `json:"citations"`
}
