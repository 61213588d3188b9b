// Package model defines the core domain models used throughout the application.
package model

import "time"

// Therapist owns patients, a calendar and bank connections.
type Therapist struct {
	CreatedAt  time.Time
	ID         string
	Name       string
	CalendarID string
	TimeZone   string
}

// Location returns the therapist's time zone, falling back to UTC.
func (t *Therapist) Location() *time.Location {
	if t.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(t.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Patient is read from the practice registry.
type Patient struct {
	BillingStartDate *time.Time
	CreatedAt        time.Time
	ID               string
	TherapistID      string
	Name             string
	Email            string
	Document         string
	// Price per session in minor units.
	Price int64
}

// BillableIn reports whether the patient can be billed for the given month.
func (p *Patient) BillableIn(year int, month time.Month) bool {
	if p.BillingStartDate == nil {
		return false
	}
	start := p.BillingStartDate
	if start.Year() != year {
		return start.Year() < year
	}
	return start.Month() <= month
}

// SessionStatus is the clinical status of an appointment.
type SessionStatus string

// Session statuses.
const (
	SessionScheduled SessionStatus = "scheduled"
	SessionAttended  SessionStatus = "attended"
	SessionCancelled SessionStatus = "cancelled"
	SessionNoShow    SessionStatus = "no_show"
)

// PaymentStatus tracks whether a session has been settled.
type PaymentStatus string

// Payment statuses.
const (
	PaymentPending         PaymentStatus = "pending"
	PaymentAwaitingPayment PaymentStatus = "aguardando_pagamento"
	PaymentPaid            PaymentStatus = "paid"
)

// Session is a clinical appointment in the practice registry.
type Session struct {
	Date            time.Time
	ID              string
	TherapistID     string
	PatientID       string
	CalendarEventID string
	Status          SessionStatus
	PaymentStatus   PaymentStatus
	Price           int64
}

// CandidateSession is an unpaid session joined with the patient fields the matcher needs.
type CandidateSession struct {
	Session
	PatientName     string
	PatientDocument string
}
