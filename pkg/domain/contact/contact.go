// Package contact defines the Contact bounded context. A Contact is a person
// the gateway messages on behalf of the business, with a simple outreach
// lifecycle tracked per contact.
package contact

import (
	"strings"
	"time"

	"github.com/sipeed/wagate/pkg/domain"
)

// ---------------------------------------------------------------------------
// Contact aggregate root
// ---------------------------------------------------------------------------

// Contact is the aggregate root of the contact context.
type Contact struct {
	domain.AggregateRoot

	Phone  domain.PhoneNumber `json:"phoneNumber"`
	Name   string             `json:"name"`
	Status Status             `json:"status"`
	Notes  string             `json:"notes,omitempty"`

	LastMessage string            `json:"lastMessage,omitempty"`
	LastContact *domain.Timestamp `json:"lastContact,omitempty"`

	CreatedAt domain.Timestamp `json:"createdAt"`
	UpdatedAt domain.Timestamp `json:"updatedAt"`
}

// New creates a pending contact. The phone is normalized to digits.
func New(phone, name string) (*Contact, error) {
	p := domain.NormalizePhone(phone)
	if !p.Valid() {
		return nil, ErrInvalidPhone
	}
	now := domain.Now()
	c := &Contact{
		Phone:     p,
		Name:      strings.TrimSpace(name),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.SetID(domain.NewID())
	c.RecordEvent(domain.NewEvent(domain.EventContactCreated, c.ID(), map[string]string{
		"phone": string(p),
	}))
	return c, nil
}

// ---------------------------------------------------------------------------
// Behaviour
// ---------------------------------------------------------------------------

// MarkContacted records a delivered outbound message.
func (c *Contact) MarkContacted(message string, at time.Time) {
	ts := domain.TimestampFrom(at)
	c.LastMessage = message
	c.LastContact = &ts
	if c.Status == StatusPending {
		c.Status = StatusContacted
	}
	c.UpdatedAt = ts
	c.RecordEvent(domain.NewEvent(domain.EventContactMessaged, c.ID(), map[string]string{
		"phone": string(c.Phone),
	}))
}

// MarkResponded records that the contact wrote back. Only contacts that were
// reached move to responded; later stages are left alone.
func (c *Contact) MarkResponded(at time.Time) bool {
	if c.Status != StatusContacted && c.Status != StatusPending {
		return false
	}
	c.Status = StatusResponded
	c.UpdatedAt = domain.TimestampFrom(at)
	c.RecordEvent(domain.NewEvent(domain.EventContactResponded, c.ID(), map[string]string{
		"phone": string(c.Phone),
	}))
	return true
}

// SetStatus moves the contact to s. Any known status is accepted; operators
// correct mistakes by hand.
func (c *Contact) SetStatus(s Status) error {
	if !s.Valid() {
		return ErrInvalidStatus
	}
	c.Status = s
	c.UpdatedAt = domain.Now()
	c.RecordEvent(domain.NewEvent(domain.EventContactUpdated, c.ID(), map[string]string{
		"status": string(s),
	}))
	return nil
}

// Update applies operator edits. Empty values leave the field unchanged.
func (c *Contact) Update(name, notes string) {
	if n := strings.TrimSpace(name); n != "" {
		c.Name = n
	}
	if notes != "" {
		c.Notes = notes
	}
	c.UpdatedAt = domain.Now()
}

// DisplayName is the name, or the phone number when unnamed.
func (c *Contact) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return string(c.Phone)
}

// ---------------------------------------------------------------------------
// Value objects
// ---------------------------------------------------------------------------

// Status is a step of the outreach lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusContacted Status = "contacted"
	StatusResponded Status = "responded"
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusContacted, StatusResponded, StatusScheduled, StatusCompleted:
		return true
	}
	return false
}

// StatusIs matches contacts in the given status.
func StatusIs(s Status) domain.Specification[Contact] {
	return domain.SpecFunc[Contact](func(c *Contact) bool { return c.Status == s })
}

// ---------------------------------------------------------------------------
// Repository
// ---------------------------------------------------------------------------

// Repository persists contacts.
type Repository interface {
	domain.Repository[Contact]
	FindByPhone(phone domain.PhoneNumber) (*Contact, error)
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrNotFound      Error = "contact: not found"
	ErrInvalidPhone  Error = "contact: phone number must contain digits"
	ErrInvalidStatus Error = "contact: unknown status"
	ErrDuplicate     Error = "contact: phone number already registered"
)
