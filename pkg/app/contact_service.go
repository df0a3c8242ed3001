package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sipeed/wagate/pkg/domain"
	contactdomain "github.com/sipeed/wagate/pkg/domain/contact"
	sessiondomain "github.com/sipeed/wagate/pkg/domain/session"
	"github.com/sipeed/wagate/pkg/dispatch"
	"github.com/sipeed/wagate/pkg/logger"
)

// ---------------------------------------------------------------------------
// Contact application service
// ---------------------------------------------------------------------------

// NewContact is one row of a bulk create request.
type NewContact struct {
	Phone string `json:"phoneNumber"`
	Name  string `json:"name"`
	Notes string `json:"notes,omitempty"`
}

// BulkError reports a rejected row of a bulk create.
type BulkError struct {
	Index int    `json:"index"`
	Phone string `json:"phoneNumber"`
	Error string `json:"error"`
}

// ContactService orchestrates contact use cases. It is also the directory
// the dispatcher resolves targets through.
//
// Writers run on different goroutines (API handlers, the dispatcher, the
// inbound relay), so every load-modify-save happens under mu. Events are
// published after mu is released.
type ContactService struct {
	repo     contactdomain.Repository
	eventBus domain.EventBus
	mu       sync.Mutex
}

// NewContactService creates a new contact application service.
func NewContactService(repo contactdomain.Repository, eventBus domain.EventBus) *ContactService {
	return &ContactService{repo: repo, eventBus: eventBus}
}

// Create registers one contact.
func (s *ContactService) Create(in NewContact) (*contactdomain.Contact, error) {
	c, err := contactdomain.New(in.Phone, in.Name)
	if err != nil {
		return nil, err
	}
	if in.Notes != "" {
		c.Update("", in.Notes)
	}
	s.mu.Lock()
	events, err := s.save(c)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.publish(events)
	return c, nil
}

// BulkCreate registers every valid row and reports the rest.
func (s *ContactService) BulkCreate(rows []NewContact) ([]*contactdomain.Contact, []BulkError) {
	var (
		created []*contactdomain.Contact
		failed  []BulkError
	)
	for i, row := range rows {
		c, err := s.Create(row)
		if err != nil {
			failed = append(failed, BulkError{Index: i, Phone: row.Phone, Error: err.Error()})
			continue
		}
		created = append(created, c)
	}
	logger.InfoCF("contacts", "Bulk create finished", map[string]interface{}{
		"created": len(created),
		"failed":  len(failed),
	})
	return created, failed
}

// List returns contacts, optionally only those in status.
func (s *ContactService) List(status contactdomain.Status) ([]*contactdomain.Contact, error) {
	all, err := s.repo.FindAll()
	if err != nil {
		return nil, err
	}
	if status == "" {
		return all, nil
	}
	if !status.Valid() {
		return nil, contactdomain.ErrInvalidStatus
	}
	return domain.Filter(all, contactdomain.StatusIs(status)), nil
}

func (s *ContactService) Get(id domain.EntityID) (*contactdomain.Contact, error) {
	return s.repo.FindByID(id)
}

// ContactPatch carries operator edits. Nil fields are left alone.
type ContactPatch struct {
	Name   *string               `json:"name,omitempty"`
	Notes  *string               `json:"notes,omitempty"`
	Status *contactdomain.Status `json:"status,omitempty"`
}

// Update applies patch to the contact.
func (s *ContactService) Update(id domain.EntityID, patch ContactPatch) (*contactdomain.Contact, error) {
	s.mu.Lock()
	c, events, err := s.update(id, patch)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.publish(events)
	return c, nil
}

func (s *ContactService) update(id domain.EntityID, patch ContactPatch) (*contactdomain.Contact, []domain.Event, error) {
	c, err := s.repo.FindByID(id)
	if err != nil {
		return nil, nil, err
	}
	var name, notes string
	if patch.Name != nil {
		name = *patch.Name
	}
	if patch.Notes != nil {
		notes = *patch.Notes
	}
	c.Update(name, notes)
	if patch.Status != nil {
		if err := c.SetStatus(*patch.Status); err != nil {
			return nil, nil, err
		}
	}
	events, err := s.save(c)
	if err != nil {
		return nil, nil, err
	}
	return c, events, nil
}

func (s *ContactService) Delete(id domain.EntityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.Delete(id)
}

// NameFor returns the contact name for peer, or "" when unknown.
func (s *ContactService) NameFor(peer string) string {
	c, err := s.repo.FindByPhone(domain.PhoneNumber(peer))
	if err != nil {
		return ""
	}
	return c.Name
}

// MarkResponded moves the contact behind peer to responded. Unknown peers
// are ignored.
func (s *ContactService) MarkResponded(peer string, at time.Time) error {
	s.mu.Lock()
	events, err := s.markResponded(peer, at)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.publish(events)
	return nil
}

func (s *ContactService) markResponded(peer string, at time.Time) ([]domain.Event, error) {
	c, err := s.repo.FindByPhone(domain.PhoneNumber(peer))
	if errors.Is(err, contactdomain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !c.MarkResponded(at) {
		return nil, nil
	}
	return s.save(c)
}

// ---------------------------------------------------------------------------
// dispatch.Directory
// ---------------------------------------------------------------------------

// Resolve accepts a contact ID or a registered phone number.
func (s *ContactService) Resolve(_ context.Context, target string) (dispatch.Recipient, error) {
	target = strings.TrimSpace(target)
	c, err := s.repo.FindByID(domain.EntityID(target))
	if errors.Is(err, contactdomain.ErrNotFound) {
		if phone := domain.NormalizePhone(target); phone.Valid() {
			c, err = s.repo.FindByPhone(phone)
		}
	}
	if err != nil {
		if errors.Is(err, contactdomain.ErrNotFound) {
			return dispatch.Recipient{}, fmt.Errorf("%w: %s", dispatch.ErrUnknownTarget, target)
		}
		return dispatch.Recipient{}, err
	}
	return dispatch.Recipient{ContactID: c.ID(), Peer: string(c.Phone), Name: c.Name}, nil
}

// MarkDelivered records the sent text on the contact.
func (s *ContactService) MarkDelivered(_ context.Context, r dispatch.Recipient, text string, ack sessiondomain.Ack) error {
	if r.ContactID.IsZero() {
		return nil
	}
	s.mu.Lock()
	events, err := s.markContacted(r.ContactID, text, ack.Timestamp)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.publish(events)
	return nil
}

func (s *ContactService) markContacted(id domain.EntityID, text string, at time.Time) ([]domain.Event, error) {
	c, err := s.repo.FindByID(id)
	if err != nil {
		return nil, err
	}
	c.MarkContacted(text, at)
	return s.save(c)
}

var _ dispatch.Directory = (*ContactService)(nil)

// save persists c and hands back the events it recorded. A failed save
// discards them. Callers hold mu.
func (s *ContactService) save(c *contactdomain.Contact) ([]domain.Event, error) {
	var events []domain.Event
	if c.HasPendingEvents() {
		events = c.PullEvents()
	}
	if err := s.repo.Save(c); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *ContactService) publish(events []domain.Event) {
	if s.eventBus == nil {
		return
	}
	for _, event := range events {
		s.eventBus.Publish(event)
	}
}
