package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_DetectSender(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		query  string
		want   string
		wantOK bool
	}{
		{name: "emails from", query: "emails from alice", want: "alice", wantOK: true},
		{name: "email singular", query: "any email from Bob Smith?", want: "Bob Smith", wantOK: true},
		{name: "sent by", query: "what was sent by carol", want: "carol", wantOK: true},
		{name: "show me from", query: "show me messages from dave", want: "dave", wantOK: true},
		{name: "leading from", query: "from alice, anything new", want: "alice, anything new", wantOK: true},
		{name: "trailing punctuation trimmed", query: "emails from alice?", want: "alice", wantOK: true},
		{name: "pronoun rejected", query: "emails from me", wantOK: false},
		{name: "date word rejected", query: "emails from yesterday", wantOK: false},
		{name: "day name rejected", query: "emails from monday", wantOK: false},
		{name: "inbox state rejected", query: "show unread from inbox", wantOK: false},
		{name: "digits rejected", query: "emails from 2024", wantOK: false},
		{name: "too short rejected", query: "emails from a", wantOK: false},
		{name: "no sender clause", query: "what is urgent today", wantOK: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := DetectSender(tt.query)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func Test_MatchesSender(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
		query  string
		want   bool
	}{
		{name: "display name", header: "Alice Johnson <alice.j@example.com>", query: "alice", want: true},
		{name: "email local part", header: "Alice Johnson <alice.j@example.com>", query: "alice.j", want: true},
		{name: "bare address", header: "bob@example.com", query: "bob", want: true},
		{name: "case insensitive", header: "Bob Smith <bsmith@example.com>", query: "BOB", want: true},
		{name: "honorific glued to name", header: "Dr. Sarah Smith <ssmith@hospital.org>", query: "drsmith", want: true},
		{name: "prefix with dotted header", header: "Md. Rahman <rahman@example.com>", query: "mdrahman", want: true},
		{name: "multi token all match", header: "Alice Johnson <aj@example.com>", query: "alice johnson", want: true},
		{name: "multi token partial miss", header: "Alice Johnson <aj@example.com>", query: "alice williams", want: false},
		{name: "display without spaces", header: "Bob Smith <bs@example.com>", query: "bobsmith", want: true},
		{name: "unrelated name", header: "Alice Johnson <aj@example.com>", query: "carol", want: false},
		{name: "substring of address", header: "noreply@github.com", query: "github", want: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, MatchesSender(tt.header, tt.query))
		})
	}
}

func Test_parseSenderHeader(t *testing.T) {
	t.Parallel()

	display, email, local := parseSenderHeader(`"Alice Johnson" <alice.j@example.com>`)
	assert.Equal(t, "Alice Johnson", display)
	assert.Equal(t, "alice.j@example.com", email)
	assert.Equal(t, "alice.j", local)

	display, email, local = parseSenderHeader("bob@example.com")
	assert.Empty(t, display)
	assert.Equal(t, "bob@example.com", email)
	assert.Equal(t, "bob", local)

	display, email, local = parseSenderHeader("Just A Name")
	assert.Equal(t, "Just A Name", display)
	assert.Empty(t, email)
	assert.Empty(t, local)
}
