package models

import "time"

type WorkerKind string

const (
	WorkerCourier WorkerKind = "courier"
	WorkerDriver  WorkerKind = "driver"
)

// Worker: kurye veya sürücü. Atama motoru yalnızca aktif olanları seçer.
type Worker struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	BranchID       uint       `gorm:"index;not null" json:"branch_id"`
	Name           string     `gorm:"size:100;not null" json:"name"`
	Phone          string     `gorm:"size:50" json:"phone"`
	Kind           WorkerKind `gorm:"size:20;not null;default:'courier'" json:"kind"`
	Active         bool       `gorm:"not null" json:"active"`
	LastAssignedAt *time.Time `json:"last_assigned_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type Vehicle struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	BranchID  uint      `gorm:"index;not null" json:"branch_id"`
	Plate     string    `gorm:"size:20;uniqueIndex;not null" json:"plate"`
	Active    bool      `gorm:"not null" json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MaintenanceAlert: şube bakım penceresi. CapacityFactor 0 ise atama tamamen durur.
type MaintenanceAlert struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	BranchID       uint      `gorm:"index;not null" json:"branch_id"`
	StartsAt       time.Time `gorm:"not null" json:"starts_at"`
	EndsAt         time.Time `gorm:"not null" json:"ends_at"`
	CapacityFactor int       `gorm:"not null" json:"capacity_factor"` // 0..100
	Active         bool      `gorm:"not null" json:"active"`
	Note           string    `gorm:"size:255" json:"note"`
	CreatedAt      time.Time `json:"created_at"`
}

// CoversTime reports whether the alert is in force at t.
func (m *MaintenanceAlert) CoversTime(t time.Time) bool {
	return m.Active && !t.Before(m.StartsAt) && t.Before(m.EndsAt)
}
