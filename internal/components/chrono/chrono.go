package chrono

import (
	"time"
	_ "time/tzdata"
)

// TimeAPI is the clock every portal flow and cache reads from, it exists so that
// tests can pin "now" to a fixed instant.
type TimeAPI interface {
	Now() time.Time
	Location() *time.Location
}

// Berlin is the timezone all university portals operate in.
var Berlin *time.Location

func init() {
	var err error
	Berlin, err = time.LoadLocation("Europe/Berlin")
	if err != nil {
		panic(err)
	}
}

type StandardImpl struct {
	location *time.Location
}

func NewStandardImpl() StandardImpl {
	return StandardImpl{location: Berlin}
}

func (s StandardImpl) Now() time.Time {
	return time.Now().In(s.location)
}

func (s StandardImpl) Location() *time.Location {
	return s.location
}

// FixedImpl always reports the same instant.
type FixedImpl struct {
	At time.Time
}

func NewFixedImpl(at time.Time) FixedImpl {
	return FixedImpl{At: at.In(Berlin)}
}

func (f FixedImpl) Now() time.Time {
	return f.At
}

func (f FixedImpl) Location() *time.Location {
	return Berlin
}
