package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsProvisionalID(t *testing.T) {
	assert.True(t, IsProvisionalID("tmp-0190a1b2"))
	assert.False(t, IsProvisionalID("M100"))
	assert.False(t, IsProvisionalID(""))
	assert.True(t, Message{ID: ProvisionalPrefix + "x"}.IsProvisional())
}

func TestConversation_Counterparty(t *testing.T) {
	c := Conversation{Participants: []Participant{{ID: "U", Name: "Una"}, {ID: "O", Name: "Otto"}}}
	assert.Equal(t, "O", c.Counterparty("U").ID)
	assert.Equal(t, "U", c.Counterparty("O").ID)

	self := Conversation{Participants: []Participant{{ID: "U"}}}
	assert.Equal(t, "U", self.Counterparty("U").ID)

	assert.Equal(t, Participant{}, Conversation{}.Counterparty("U"))
}

func TestConversation_CloneDoesNotAlias(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	orig := Conversation{
		ID:           "C1",
		Participants: []Participant{{ID: "U"}, {ID: "O"}},
		LastMessage:  &Message{ID: "M1", Content: "hello", Timestamp: ts, Venue: &VenueContext{ID: "V1"}},
		Venue:        &VenueContext{ID: "V1"},
	}

	cp := orig.Clone()
	cp.Participants[0].Name = "changed"
	cp.LastMessage.Content = "changed"
	cp.LastMessage.Venue.ID = "V2"
	cp.Venue.ID = "V2"

	assert.Empty(t, orig.Participants[0].Name)
	assert.Equal(t, "hello", orig.LastMessage.Content)
	assert.Equal(t, "V1", orig.LastMessage.Venue.ID)
	assert.Equal(t, "V1", orig.VenueID())
	assert.Equal(t, ts, orig.UpdatedAt())
	assert.True(t, Conversation{}.UpdatedAt().IsZero())
}
