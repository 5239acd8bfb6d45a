package catalog

import "time"

// Book is a catalog entry. CreatedBy references the identity that created
// the record.
type Book struct {
	ID        string    `gorm:"column:id;primaryKey;size:36;not null" json:"id"`
	Title     string    `gorm:"column:title;size:512;not null" json:"title"`
	Author    string    `gorm:"column:author;size:320;not null" json:"author"`
	ISBN      string    `gorm:"column:isbn;size:32" json:"isbn,omitempty"`
	Genre     string    `gorm:"column:genre;size:64" json:"genre,omitempty"`
	CreatedBy string    `gorm:"column:created_by;size:36;index" json:"createdBy"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// TableName exposes the table backing catalog entries.
func (Book) TableName() string {
	return "books"
}
