package model

import (
	"encoding/json"
	"time"
)

// Document is a tenant-owned text with its embedding.
// Embedding is stored as JSON array of float32 for portability.
type Document struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TenantID  uint      `gorm:"not null;uniqueIndex:idx_documents_tenant_title,priority:1" json:"tenant_id"`
	Title     string    `gorm:"size:256;not null;uniqueIndex:idx_documents_tenant_title,priority:2" json:"title"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	Embedding string    `gorm:"type:text" json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// EmbeddingVector returns the parsed embedding slice; empty on parse error.
func (d *Document) EmbeddingVector() []float32 {
	if d.Embedding == "" {
		return nil
	}
	var v []float32
	_ = json.Unmarshal([]byte(d.Embedding), &v)
	return v
}

// SetEmbedding stores the embedding as JSON.
func (d *Document) SetEmbedding(vec []float32) {
	if len(vec) == 0 {
		d.Embedding = "[]"
		return
	}
	b, _ := json.Marshal(vec)
	d.Embedding = string(b)
}
