package business

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
)

// Candidate is one scraped observation of a business from a single source.
type Candidate struct {
	Name     string `json:"name" yaml:"name" validate:"required"`
	Address  string `json:"address" yaml:"address"`
	City     string `json:"city" yaml:"city"`
	State    string `json:"state" yaml:"state"`
	Zip      string `json:"zip" yaml:"zip" validate:"required"`
	Category string `json:"category" yaml:"category"`
	Website  string `json:"website,omitempty" yaml:"website"`
	Email    string `json:"email,omitempty" yaml:"email"`
	Phone    string `json:"phone,omitempty" yaml:"phone"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Normalize trims every field in place. It runs once at the boundary; nothing
// downstream re-trims.
func (c *Candidate) Normalize() {
	c.Name = strings.TrimSpace(c.Name)
	c.Address = strings.TrimSpace(c.Address)
	c.City = strings.TrimSpace(c.City)
	c.State = strings.TrimSpace(c.State)
	c.Zip = strings.TrimSpace(c.Zip)
	c.Category = strings.TrimSpace(c.Category)
	c.Website = strings.TrimSpace(c.Website)
	c.Email = strings.TrimSpace(c.Email)
	c.Phone = strings.TrimSpace(c.Phone)
}

// Validate checks a normalized candidate.
func (c *Candidate) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, strings.ToLower(fe.Field())+" "+fe.Tag())
			}
			return eris.Errorf("business: invalid candidate: %s", strings.Join(fields, ", "))
		}
		return eris.Wrap(err, "business: invalid candidate")
	}
	return nil
}

// ToRecord builds the record a first sighting inserts. VerticalID is left for
// the caller to resolve.
func (c *Candidate) ToRecord(source, sourceID string) *Record {
	sourceID = strings.TrimSpace(sourceID)
	r := &Record{
		Name:     c.Name,
		Address:  c.Address,
		City:     c.City,
		State:    c.State,
		Zip:      c.Zip,
		Phone:    c.Phone,
		Email:    c.Email,
		Website:  c.Website,
		Source:   source,
		SourceID: sourceID,
		Status:   StatusPending,
	}
	if sourceID != "" {
		r.SourceIDSource = source
	}
	return r
}
