package domain

// SearchDocument is the vector-index projection of an EmailRecord.
type SearchDocument struct {
	EmailRecord
	Embedding []float32 `json:"vector_embedding,omitempty"`
	Text      string    `json:"text"`
}

// SearchHit is one nearest-neighbour result.
type SearchHit struct {
	ID           string
	GroupID      string
	CompanyTitle string
	JobTitle     string
	Distance     float64
}
