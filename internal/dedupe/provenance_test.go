package dedupe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCombine(t *testing.T) {
	tests := []struct {
		name      string
		existing  string
		incoming  string
		want      string
		wantAdded bool
	}{
		{"first source", "", "yelp", "yelp", true},
		{"sorted insert", "yelp", "google", "google,yelp", true},
		{"append at end", "google,yelp", "zillow", "google,yelp,zillow", true},
		{"already present is unchanged", "google,yelp", "yelp", "google,yelp", false},
		{"unsorted input is normalized on add", "yelp,google,yelp", "manual", "google,manual,yelp", true},
		{"blank members dropped", "google,,yelp", "bing", "bing,google,yelp", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, added := Combine(tt.existing, tt.incoming)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantAdded, added)
		})
	}
}

func TestHasSource(t *testing.T) {
	assert.True(t, HasSource("google,yelp", "yelp"))
	assert.False(t, HasSource("google,yelp", "goog"))
	assert.False(t, HasSource("", "yelp"))
}

func TestSplitSources(t *testing.T) {
	assert.Nil(t, SplitSources(""))
	assert.Equal(t, []string{"google", "yelp"}, SplitSources(" google , yelp,"))
}

func TestJoinSources(t *testing.T) {
	assert.Equal(t, "google,manual,yelp", JoinSources([]string{"yelp", "manual", "google", "yelp"}))
}
