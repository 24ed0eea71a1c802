// internal/service/recipient_resolver.go
package service

import (
	"fmt"
	"time"

	appErrors "github.com/kanisahub/comms-backend/internal/errors"
	"github.com/kanisahub/comms-backend/internal/model"
	"github.com/kanisahub/comms-backend/internal/phone"
	"github.com/kanisahub/comms-backend/internal/repository"
)

// Age band boundaries, inclusive. Bands are contiguous and non-overlapping:
// a member at exactly ageChildMax is a child, at ageChildMax+1 a teen.
const (
	ageChildMax = 12
	ageTeenMax  = 19
	ageYouthMax = 35
	ageAdultMax = 59
)

// Resolution is the outcome of expanding a selector: the deduplicated
// addressable recipients plus how many candidates were dropped for carrying
// an invalid phone number.
type Resolution struct {
	Recipients     []model.Recipient
	DroppedInvalid int
}

// RecipientResolver expands a recipient selector into addressable
// recipients. Every phone passes through the validator; duplicates collapse
// by normalized phone, last-wins on name.
type RecipientResolver struct {
	Members repository.MemberRepositoryInterface
	Phones  *phone.Validator
	Now     func() time.Time
}

func NewRecipientResolver(members repository.MemberRepositoryInterface, phones *phone.Validator) *RecipientResolver {
	return &RecipientResolver{Members: members, Phones: phones, Now: time.Now}
}

func (r *RecipientResolver) Resolve(sel model.RecipientSelector) (*Resolution, error) {
	var candidates []model.Recipient
	dropped := 0

	switch s := sel.(type) {
	case model.AllActiveSelector:
		members, err := r.Members.ActiveMembers()
		if err != nil {
			return nil, err
		}
		candidates = membersToRecipients(members)

	case model.DepartmentSelector:
		members, err := r.Members.ActiveByDepartment(s.DepartmentID)
		if err != nil {
			return nil, err
		}
		candidates = membersToRecipients(members)

	case model.AgeBandSelector:
		if !validBand(s.Band) {
			return nil, appErrors.NewValidation("unknown age band: %s", s.Band)
		}
		members, err := r.Members.ActiveMembers()
		if err != nil {
			return nil, err
		}
		now := r.Now()
		for _, m := range members {
			if m.DateOfBirth == nil {
				continue
			}
			if BandForAge(ageAt(*m.DateOfBirth, now)) == s.Band {
				candidates = append(candidates, memberToRecipient(m))
			}
		}

	case model.MemberIDsSelector:
		if len(s.MemberIDs) == 0 {
			return nil, appErrors.NewValidation("member id list is empty")
		}
		members, err := r.Members.ActiveByIDs(s.MemberIDs)
		if err != nil {
			return nil, err
		}
		candidates = membersToRecipients(members)

	case model.CustomNumbersSelector:
		if len(s.Numbers) == 0 {
			return nil, appErrors.NewValidation("custom number list is empty")
		}
		// Ad-hoc numbers have no member linkage; the generic name feeds the
		// {first_name} placeholder downstream.
		for _, raw := range s.Numbers {
			candidates = append(candidates, model.Recipient{Name: "Member", Phone: raw})
		}

	default:
		return nil, fmt.Errorf("unsupported selector type %T", sel)
	}

	// Validate and deduplicate by normalized phone, last-wins.
	byPhone := map[string]int{}
	recipients := []model.Recipient{}
	for _, c := range candidates {
		normalized, err := r.Phones.Validate(c.Phone)
		if err != nil {
			dropped++
			continue
		}
		c.Phone = normalized
		if idx, ok := byPhone[normalized]; ok {
			recipients[idx] = c
			continue
		}
		byPhone[normalized] = len(recipients)
		recipients = append(recipients, c)
	}

	if len(recipients) == 0 {
		return nil, appErrors.NewValidation("recipient selection resolved to zero valid recipients")
	}

	return &Resolution{Recipients: recipients, DroppedInvalid: dropped}, nil
}

// BandForAge maps an age in whole years to its band.
func BandForAge(age int) string {
	switch {
	case age <= ageChildMax:
		return model.AgeBandChild
	case age <= ageTeenMax:
		return model.AgeBandTeen
	case age <= ageYouthMax:
		return model.AgeBandYouth
	case age <= ageAdultMax:
		return model.AgeBandAdult
	default:
		return model.AgeBandSenior
	}
}

func validBand(band string) bool {
	switch band {
	case model.AgeBandChild, model.AgeBandTeen, model.AgeBandYouth, model.AgeBandAdult, model.AgeBandSenior:
		return true
	}
	return false
}

func ageAt(dob, now time.Time) int {
	years := now.Year() - dob.Year()
	// Birthday not yet reached this year.
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		years--
	}
	return years
}

func memberToRecipient(m model.Member) model.Recipient {
	id := m.ID
	return model.Recipient{
		MemberID:  &id,
		FirstName: m.FirstName,
		LastName:  m.LastName,
		Name:      m.FullName(),
		Phone:     m.Phone,
	}
}

func membersToRecipients(members []model.Member) []model.Recipient {
	recipients := make([]model.Recipient, 0, len(members))
	for _, m := range members {
		recipients = append(recipients, memberToRecipient(m))
	}
	return recipients
}
