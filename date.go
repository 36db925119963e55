package smartcal

import "time"

const DateFormat = time.DateOnly

// Date is a calendar day at midnight in its location.
type Date struct {
	time.Time
}

func NewDateFromTime(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day(), t.Location())
}

func NewDate(year int, month time.Month, day int, loc *time.Location) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, loc)}
}

func (d Date) AddDate(years, months, days int) Date {
	t := d.Time.AddDate(years, months, days)
	return NewDate(t.Year(), t.Month(), t.Day(), t.Location())
}

// Week returns the ISO 8601 week number.
func (d Date) Week() int {
	_, w := d.ISOWeek()
	return w
}

// At moves t to this day, keeping its clock time and location.
func (d Date) At(t time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// Set reads a YYYY-MM-DD flag value.
func (d *Date) Set(v string) error {
	t, err := time.Parse(DateFormat, v)
	if err != nil {
		return err
	}
	*d = NewDateFromTime(t)
	return nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateFormat)
}
