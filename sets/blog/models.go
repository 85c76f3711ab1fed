package blog

import "time"

type Author struct {
	ID    uint   `gorm:"primaryKey"`
	Name  string `gorm:"not null"`
	Email string `gorm:"uniqueIndex"`
}

type Comment struct {
	ID       uint `gorm:"primaryKey"`
	AuthorID *uint
	Author   *Author
	Text     string
}

type Post struct {
	ID       uint `gorm:"primaryKey"`
	Title    string
	Posted   time.Time
	AuthorID *uint
	Author   *Author
	Comments []Comment `gorm:"many2many:post_comments"`
}
