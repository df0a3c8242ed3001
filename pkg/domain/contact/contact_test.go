package contact

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/wagate/pkg/domain"
)

func TestNewNormalizesPhone(t *testing.T) {
	c, err := New("+55 (11) 99999-0000", "  Ana ")
	require.NoError(t, err)

	assert.Equal(t, domain.PhoneNumber("5511999990000"), c.Phone)
	assert.Equal(t, "Ana", c.Name)
	assert.Equal(t, StatusPending, c.Status)
	assert.False(t, c.ID().IsZero())

	events := c.PullEvents()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventContactCreated, events[0].EventType())
}

func TestNewRejectsEmptyPhone(t *testing.T) {
	_, err := New("call me", "Bob")
	assert.ErrorIs(t, err, ErrInvalidPhone)
}

func TestLifecycle(t *testing.T) {
	c, err := New("5511988887777", "")
	require.NoError(t, err)
	c.PullEvents()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	c.MarkContacted("Olá", at)
	assert.Equal(t, StatusContacted, c.Status)
	assert.Equal(t, "Olá", c.LastMessage)
	require.NotNil(t, c.LastContact)
	assert.True(t, c.LastContact.Equal(at))

	assert.True(t, c.MarkResponded(at.Add(time.Minute)))
	assert.Equal(t, StatusResponded, c.Status)

	require.NoError(t, c.SetStatus(StatusCompleted))
	assert.False(t, c.MarkResponded(at.Add(time.Hour)), "completed contacts stay completed")
	assert.Equal(t, StatusCompleted, c.Status)

	// A second delivery never moves a contact backwards.
	c.MarkContacted("again", at.Add(2*time.Hour))
	assert.Equal(t, StatusCompleted, c.Status)

	assert.ErrorIs(t, c.SetStatus("lost"), ErrInvalidStatus)
	assert.Equal(t, "5511988887777", c.DisplayName())
	assert.Len(t, c.PullEvents(), 4)
}

func TestStatusSpecification(t *testing.T) {
	a, _ := New("1", "a")
	b, _ := New("2", "b")
	b.MarkContacted("hi", time.Now())

	got := domain.Filter([]*Contact{a, b}, StatusIs(StatusContacted))
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].Name)
}
