package calendar

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/inboxd/calengine/calendar/recurrence"
)

const icalProductID = "-//inboxd//calengine//EN"

const (
	propMethod       = "METHOD"
	propRecurrenceID = "RECURRENCE-ID"
	propSequence     = "SEQUENCE"
	propOrganizer    = "ORGANIZER"
	propAttendee     = "ATTENDEE"
	propStatus       = "STATUS"
	propClass        = "CLASS"
	propLocation     = "LOCATION"
	propPriority     = "PRIORITY"
	propTrigger      = "TRIGGER"
	propAction       = "ACTION"
	compAlarm        = "VALARM"
)

// ParseInvites decodes an iCalendar stream into invites, one per VEVENT or
// VTODO component. The calendar-level METHOD applies to every component.
func ParseInvites(r io.Reader) ([]*Invite, error) {
	cal, err := ical.NewDecoder(r).Decode()
	if err != nil {
		return nil, fmt.Errorf("decoding icalendar: %w", err)
	}

	method := Method("")
	if p := cal.Props.Get(propMethod); p != nil {
		method = Method(strings.ToUpper(p.Value))
	}

	var invites []*Invite
	compNum := 0
	for _, comp := range cal.Children {
		if comp.Name != ical.CompEvent && comp.Name != ical.CompToDo {
			continue
		}
		inv, err := inviteFromComponent(comp, method, compNum)
		if err != nil {
			return nil, err
		}
		invites = append(invites, inv)
		compNum++
	}
	return invites, nil
}

func inviteFromComponent(comp *ical.Component, method Method, compNum int) (*Invite, error) {
	inv := &Invite{
		Method:       method,
		ComponentNum: compNum,
		Public:       true,
		Cancel:       method == MethodCancel,
	}
	if comp.Name == ical.CompToDo {
		inv.Type = TypeTask
	}

	if p := comp.Props.Get(ical.PropUID); p != nil {
		inv.UID = p.Value
	}
	if p := comp.Props.Get(propSequence); p != nil {
		if n, err := strconv.Atoi(p.Value); err == nil {
			inv.SeqNo = n
		}
	}
	if dtstamp, err := comp.Props.DateTime(ical.PropDateTimeStamp, nil); err == nil {
		inv.DTStamp = dtstamp
	}
	if p := comp.Props.Get(propStatus); p != nil && strings.EqualFold(p.Value, "CANCELLED") {
		inv.Cancel = true
	}
	if p := comp.Props.Get(propClass); p != nil && !strings.EqualFold(p.Value, "PUBLIC") {
		inv.Public = false
	}
	if p := comp.Props.Get(ical.PropSummary); p != nil {
		inv.Name = p.Value
	}
	if p := comp.Props.Get(propLocation); p != nil {
		inv.Location = p.Value
	}
	if p := comp.Props.Get(propPriority); p != nil {
		// iCalendar priority: 1-4 high, 5 normal, 6-9 low.
		if n, err := strconv.Atoi(p.Value); err == nil && n != 0 {
			switch {
			case n < 5:
				inv.Priority = 1
			case n > 5:
				inv.Priority = -1
			}
		}
	}

	if dtstart, err := comp.Props.DateTime(ical.PropDateTimeStart, nil); err == nil {
		inv.Start = dtstart.UTC()
		if p := comp.Props.Get(ical.PropDateTimeStart); p != nil {
			if tzids := p.Params[ical.ParamTimezoneID]; len(tzids) > 0 {
				inv.TZID = tzids[0]
			}
			if vals := p.Params[ical.ParamValue]; len(vals) > 0 && strings.EqualFold(vals[0], "DATE") {
				inv.AllDay = true
			}
		}
	}
	if dtend, err := comp.Props.DateTime(ical.PropDateTimeEnd, nil); err == nil {
		inv.End = dtend.UTC()
	} else if p := comp.Props.Get(ical.PropDuration); p != nil {
		if d, err := parseICalDuration(p.Value); err == nil {
			inv.Duration = d
		}
	}
	if comp.Name == ical.CompToDo {
		if due, err := comp.Props.DateTime(ical.PropDue, nil); err == nil && inv.End.IsZero() {
			inv.End = due.UTC()
		}
	}

	if p := comp.Props.Get(propRecurrenceID); p != nil {
		rid, err := parseICalDateTime(p.Value)
		if err != nil {
			return nil, fmt.Errorf("parsing RECURRENCE-ID %q: %w", p.Value, err)
		}
		recurID := &RecurID{DateTime: rid}
		if ranges := p.Params["RANGE"]; len(ranges) > 0 {
			recurID.Range = strings.ToUpper(ranges[0])
		}
		inv.RecurID = recurID
	}

	if p := comp.Props.Get(ical.PropOrganizer); p != nil {
		org := &Organizer{Address: normalizeAddress(p.Value)}
		if cns := p.Params[ical.ParamCommonName]; len(cns) > 0 {
			org.CommonName = cns[0]
		}
		inv.Organizer = org
	}
	for _, p := range comp.Props[propAttendee] {
		at := Attendee{Address: normalizeAddress(p.Value)}
		if v := p.Params["PARTSTAT"]; len(v) > 0 {
			at.PartStat = ParticipationStatus(strings.ToUpper(v[0]))
		}
		if v := p.Params[ical.ParamCommonName]; len(v) > 0 {
			at.CommonName = v[0]
		}
		if v := p.Params["ROLE"]; len(v) > 0 {
			at.Role = strings.ToUpper(v[0])
		}
		if v := p.Params["CUTYPE"]; len(v) > 0 {
			at.CUType = strings.ToUpper(v[0])
		}
		if v := p.Params["RSVP"]; len(v) > 0 {
			at.RSVP = strings.EqualFold(v[0], "TRUE")
		}
		inv.Attendees = append(inv.Attendees, at)
	}

	if inv.RecurID == nil {
		var rDates, exDates []time.Time
		for _, p := range comp.Props[ical.PropRecurrenceDates] {
			rDates = append(rDates, parseICalDateList(p.Value)...)
		}
		for _, p := range comp.Props[ical.PropExceptionDates] {
			exDates = append(exDates, parseICalDateList(p.Value)...)
		}

		if p := comp.Props.Get(ical.PropRecurrenceRule); p != nil && p.Value != "" {
			inv.Recurrence = &recurrence.Recurrence{
				Rule: &recurrence.Rule{
					RRule:    p.Value,
					DTStart:  inv.Start,
					Duration: inv.EffectiveDuration(),
				},
				DTStart:  inv.Start,
				Duration: inv.EffectiveDuration(),
			}
		} else if len(rDates) > 0 {
			// RDATE without an RRULE still makes the component recurring.
			inv.Recurrence = &recurrence.Recurrence{
				DTStart:  inv.Start,
				Duration: inv.EffectiveDuration(),
			}
		}
		if inv.Recurrence != nil {
			inv.Recurrence.RDates = rDates
			inv.Recurrence.ExDates = exDates
		}
	}

	for _, child := range comp.Children {
		if child.Name != compAlarm {
			continue
		}
		if alarm := alarmFromComponent(child); alarm != nil {
			inv.Alarms = append(inv.Alarms, alarm)
		}
	}

	return inv, nil
}

func alarmFromComponent(comp *ical.Component) *Alarm {
	alarm := &Alarm{Action: AlarmDisplay}
	if p := comp.Props.Get(propAction); p != nil {
		alarm.Action = AlarmAction(strings.ToUpper(p.Value))
	}
	if p := comp.Props.Get(ical.PropDescription); p != nil {
		alarm.Description = p.Value
	}
	p := comp.Props.Get(propTrigger)
	if p == nil {
		return nil
	}
	if vals := p.Params[ical.ParamValue]; len(vals) > 0 && strings.EqualFold(vals[0], "DATE-TIME") {
		if t, err := parseICalDateTime(p.Value); err == nil {
			alarm.TriggerAbsolute = t
		}
		return alarm
	}
	d, err := parseICalDuration(p.Value)
	if err != nil {
		return nil
	}
	alarm.TriggerRelative = d
	if related := p.Params["RELATED"]; len(related) > 0 && strings.EqualFold(related[0], "END") {
		alarm.RelatedToEnd = true
	}
	return alarm
}

// ICalComponent builds the VEVENT/VTODO component for the invite.
func (inv *Invite) ICalComponent() *ical.Component {
	name := ical.CompEvent
	if inv.Type == TypeTask {
		name = ical.CompToDo
	}
	comp := ical.NewComponent(name)

	setText := func(prop, value string) {
		if value == "" {
			return
		}
		p := ical.NewProp(prop)
		p.Value = value
		comp.Props.Set(p)
	}
	setDateTime := func(prop string, t time.Time) {
		if t.IsZero() {
			return
		}
		p := ical.NewProp(prop)
		p.Value = t.UTC().Format("20060102T150405Z")
		comp.Props.Set(p)
	}

	setText(ical.PropUID, inv.UID)
	setText(propSequence, strconv.Itoa(inv.SeqNo))
	setDateTime(ical.PropDateTimeStamp, inv.DTStamp)
	setDateTime(ical.PropDateTimeStart, inv.Start)
	setDateTime(ical.PropDateTimeEnd, inv.End)
	setText(ical.PropSummary, inv.Name)
	setText(propLocation, inv.Location)
	if inv.Cancel {
		setText(propStatus, "CANCELLED")
	}
	if !inv.Public {
		setText(propClass, "PRIVATE")
	}

	if inv.RecurID != nil {
		p := ical.NewProp(propRecurrenceID)
		p.Value = inv.RecurID.DateTime.UTC().Format("20060102T150405Z")
		if inv.RecurID.Range != "" {
			p.Params.Set("RANGE", inv.RecurID.Range)
		}
		comp.Props.Set(p)
	}
	if inv.Recurrence != nil {
		if inv.Recurrence.Rule != nil {
			setText(ical.PropRecurrenceRule, inv.Recurrence.Rule.RRule)
		}
		for _, rd := range inv.Recurrence.RDates {
			p := ical.NewProp(ical.PropRecurrenceDates)
			p.Value = rd.UTC().Format("20060102T150405Z")
			comp.Props.Add(p)
		}
		for _, xd := range inv.Recurrence.ExDates {
			p := ical.NewProp(ical.PropExceptionDates)
			p.Value = xd.UTC().Format("20060102T150405Z")
			comp.Props.Add(p)
		}
	}
	if inv.Organizer != nil {
		p := ical.NewProp(propOrganizer)
		p.Value = "mailto:" + inv.Organizer.Address
		if inv.Organizer.CommonName != "" {
			p.Params.Set(ical.ParamCommonName, inv.Organizer.CommonName)
		}
		comp.Props.Set(p)
	}
	for _, at := range inv.Attendees {
		p := ical.NewProp(propAttendee)
		p.Value = "mailto:" + at.Address
		if at.PartStat != "" {
			p.Params.Set("PARTSTAT", string(at.PartStat))
		}
		if at.CommonName != "" {
			p.Params.Set(ical.ParamCommonName, at.CommonName)
		}
		if at.Role != "" {
			p.Params.Set("ROLE", at.Role)
		}
		if at.RSVP {
			p.Params.Set("RSVP", "TRUE")
		}
		comp.Props.Add(p)
	}

	for _, alarm := range inv.Alarms {
		ac := ical.NewComponent(compAlarm)
		p := ical.NewProp(propAction)
		p.Value = string(alarm.Action)
		ac.Props.Set(p)
		trigger := ical.NewProp(propTrigger)
		if alarm.Absolute() {
			trigger.Params.Set(ical.ParamValue, "DATE-TIME")
			trigger.Value = alarm.TriggerAbsolute.UTC().Format("20060102T150405Z")
		} else {
			trigger.Value = formatICalDuration(alarm.TriggerRelative)
			if alarm.RelatedToEnd {
				trigger.Params.Set("RELATED", "END")
			}
		}
		ac.Props.Set(trigger)
		if alarm.Description != "" {
			d := ical.NewProp(ical.PropDescription)
			d.Value = alarm.Description
			ac.Props.Set(d)
		}
		comp.Children = append(comp.Children, ac)
	}

	return comp
}

// EncodeICalendar wraps the invite in a VCALENDAR and serializes it.
func (inv *Invite) EncodeICalendar() ([]byte, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, icalProductID)
	cal.Props.SetText(ical.PropVersion, "2.0")
	if inv.Method != "" {
		p := ical.NewProp(propMethod)
		p.Value = string(inv.Method)
		cal.Props.Set(p)
	}
	cal.Children = append(cal.Children, inv.ICalComponent())

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("encoding icalendar: %w", err)
	}
	return buf.Bytes(), nil
}

// parseICalDateList parses a comma-separated RDATE/EXDATE value list,
// skipping entries that fail to parse.
func parseICalDateList(value string) []time.Time {
	var out []time.Time
	for _, v := range strings.Split(value, ",") {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if t, err := parseICalDateTime(v); err == nil {
			out = append(out, t)
		}
	}
	return out
}

// parseICalDateTime parses date-time and date values, normalizing date-only
// values to midnight UTC.
func parseICalDateTime(value string) (time.Time, error) {
	if t, err := time.Parse("20060102T150405Z", value); err == nil {
		return t, nil
	}
	if t, err := time.Parse("20060102T150405", value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("20060102", value)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

// parseICalDuration parses an RFC 5545 duration such as "-PT15M" or "P1DT2H".
func parseICalDuration(value string) (time.Duration, error) {
	s := strings.ToUpper(strings.TrimSpace(value))
	neg := false
	switch {
	case strings.HasPrefix(s, "-"):
		neg = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	if !strings.HasPrefix(s, "P") {
		return 0, fmt.Errorf("invalid duration %q", value)
	}
	s = s[1:]

	var total time.Duration
	num := 0
	haveNum := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			num = num*10 + int(r-'0')
			haveNum = true
		case r == 'T':
			continue
		case r == 'W' && haveNum:
			total += time.Duration(num) * 7 * 24 * time.Hour
			num, haveNum = 0, false
		case r == 'D' && haveNum:
			total += time.Duration(num) * 24 * time.Hour
			num, haveNum = 0, false
		case r == 'H' && haveNum:
			total += time.Duration(num) * time.Hour
			num, haveNum = 0, false
		case r == 'M' && haveNum:
			total += time.Duration(num) * time.Minute
			num, haveNum = 0, false
		case r == 'S' && haveNum:
			total += time.Duration(num) * time.Second
			num, haveNum = 0, false
		default:
			return 0, fmt.Errorf("invalid duration %q", value)
		}
	}
	if neg {
		total = -total
	}
	return total, nil
}

// formatICalDuration renders a duration in RFC 5545 form.
func formatICalDuration(d time.Duration) string {
	var b strings.Builder
	if d < 0 {
		b.WriteByte('-')
		d = -d
	}
	b.WriteByte('P')
	if days := d / (24 * time.Hour); days > 0 {
		fmt.Fprintf(&b, "%dD", days)
		d -= days * 24 * time.Hour
	}
	if d > 0 {
		b.WriteByte('T')
		if h := d / time.Hour; h > 0 {
			fmt.Fprintf(&b, "%dH", h)
			d -= h * time.Hour
		}
		if m := d / time.Minute; m > 0 {
			fmt.Fprintf(&b, "%dM", m)
			d -= m * time.Minute
		}
		if s := d / time.Second; s > 0 {
			fmt.Fprintf(&b, "%dS", s)
		}
	}
	if b.Len() <= 2 {
		return "PT0S"
	}
	return b.String()
}
