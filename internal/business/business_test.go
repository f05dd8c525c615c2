package business

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNameKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Joe's Pizza", "joe's pizza"},
		{"  JOE'S PIZZA  ", "joe's pizza"},
		{"Café  Noir", "café  noir"},
		{"ÉCOLE", "école"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NameKey(tt.in))
		})
	}
}

func TestCandidate_NormalizeAndValidate(t *testing.T) {
	c := Candidate{
		Name:    "  Joe's Pizza ",
		Zip:     " 10001",
		Website: " joespizza.com ",
		Phone:   "   ",
	}
	c.Normalize()

	assert.Equal(t, "Joe's Pizza", c.Name)
	assert.Equal(t, "10001", c.Zip)
	assert.Equal(t, "joespizza.com", c.Website)
	assert.Equal(t, "", c.Phone)
	assert.NoError(t, c.Validate())
}

func TestCandidate_ValidateMissingFields(t *testing.T) {
	tests := []struct {
		name string
		c    Candidate
		want string
	}{
		{"missing name", Candidate{Name: "  ", Zip: "10001"}, "name required"},
		{"missing zip", Candidate{Name: "Joe's Pizza"}, "zip required"},
		{"missing both", Candidate{}, "name required, zip required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.c.Normalize()
			err := tt.c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCandidate_ToRecord(t *testing.T) {
	c := Candidate{Name: "Joe's Pizza", Address: "1 Main St", City: "New York", State: "NY", Zip: "10001", Phone: "212-555-0000"}
	r := c.ToRecord(SourceYelp, " y-1 ")

	assert.Equal(t, "Joe's Pizza", r.Name)
	assert.Equal(t, "New York", r.City)
	assert.Equal(t, SourceYelp, r.Source)
	assert.Equal(t, "y-1", r.SourceID)
	assert.Equal(t, SourceYelp, r.SourceIDSource)
	assert.Equal(t, StatusPending, r.Status)
	assert.Nil(t, r.VerticalID)

	assert.Empty(t, c.ToRecord(SourceManual, " ").SourceIDSource)
}

func TestRecord_CloneIsDeep(t *testing.T) {
	vid := int64(4)
	r := &Record{ID: 1, VerticalID: &vid}
	r.SetPayload(SourceYelp, json.RawMessage(`{"a":1}`))

	c := r.Clone()
	*c.VerticalID = 9
	c.Payloads[SourceYelp][2] = 'b'
	c.SetPayload(SourceGoogle, json.RawMessage(`{}`))

	assert.Equal(t, int64(4), *r.VerticalID)
	assert.Equal(t, `{"a":1}`, string(r.Payload(SourceYelp)))
	assert.Nil(t, r.Payload(SourceGoogle))
}

func TestRecord_SetPayloadIgnoresEmpty(t *testing.T) {
	r := &Record{}
	r.SetPayload(SourceYelp, nil)
	assert.Nil(t, r.Payloads)
}

func TestPayloadColumn(t *testing.T) {
	col, ok := PayloadColumn(SourceGoogle)
	assert.True(t, ok)
	assert.Equal(t, "google_response_json", col)

	_, ok = PayloadColumn("bing")
	assert.False(t, ok)
}

func TestVerticalKeys(t *testing.T) {
	assert.Equal(t, []string{"plumbing", "roofing"},
		verticalKeys([]string{" Plumbing", "", "PLUMBING", "Roofing", "  "}))
}
