package contact

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromURI(t *testing.T) {
	tests := []struct {
		name  string
		uri   string
		want  ID
		valid bool
	}{
		{"tel URI", "tel:+33612345678", "+33612345678", true},
		{"sip URI с доменом", "sip:+33612345678@ims.example.org;user=phone", "+33612345678", true},
		{"display name и скобки", `"Alice" <sip:+33612345678@ims.example.org>`, "+33612345678", true},
		{"голый номер", "+33612345678", "+33612345678", true},
		{"не номер", "sip:alice@example.org", "", false},
		{"пустая строка", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FromURI(tt.uri)
			assert.Equal(t, tt.valid, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaultRegion(t *testing.T) {
	SetDefaultRegion("fr")
	defer SetDefaultRegion("")

	id, ok := Parse("06 12 34 56 78")
	assert.True(t, ok)
	assert.Equal(t, ID("+33612345678"), id)
	assert.Equal(t, "tel:+33612345678", id.URI())
}

func TestSipURI(t *testing.T) {
	id := ID("+33612345678")
	assert.Equal(t, "sip:+33612345678@ims.example.org;user=phone", id.SipURI("ims.example.org"))

	back, ok := FromURI(id.SipURI("ims.example.org"))
	assert.True(t, ok)
	assert.Equal(t, id, back)
}
