package calendar

// Attendee is one ATTENDEE property of an invite: address plus the
// participation metadata carried along with it.
type Attendee struct {
	Address    string              `json:"address"`
	CommonName string              `json:"cn,omitempty"`
	Role       string              `json:"role,omitempty"`
	CUType     string              `json:"cutype,omitempty"`
	PartStat   ParticipationStatus `json:"partstat,omitempty"`
	RSVP       bool                `json:"rsvp,omitempty"`
}

// Organizer is the ORGANIZER property of an invite.
type Organizer struct {
	Address    string `json:"address"`
	CommonName string `json:"cn,omitempty"`
}

// SameAddress reports whether two organizers name the same address.
// Both nil counts as same; one nil does not.
func (o *Organizer) SameAddress(other *Organizer) bool {
	if o == nil || other == nil {
		return o == other
	}
	return addressesEqual(o.Address, other.Address)
}
