package models

import "time"

type Branch struct {
	ID        uint   `gorm:"primaryKey"`
	Code      string `gorm:"size:10;uniqueIndex"`
	Name      string `gorm:"size:100;not null;unique"`
	Address   string `gorm:"size:255"`
	Phone     string `gorm:"size:50"` // Opsiyonel telefon
	IsHub     bool   `gorm:"default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Users []User
}
