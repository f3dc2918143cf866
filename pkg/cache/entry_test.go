package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBirthDateRoundTrip(t *testing.T) {
	date := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	e := Entry{Date: date, InitialAge: seconds(5)}
	assert.Equal(t, date.Add(-seconds(5)), BirthDate(e))
}

func TestAgeNegativeBeforeBirth(t *testing.T) {
	e := Entry{Date: time.Unix(1000, 0), InitialAge: 0}
	before := time.Unix(900, 0)
	assert.True(t, Age(e, before) < 0)
	assert.False(t, IsFresh(e, before))
}

func TestIsFreshBoundary(t *testing.T) {
	e := Entry{
		Date:       time.Unix(1000, 0),
		InitialAge: 0,
		Directives: ProducerDirectives{FreshUntilAge: seconds(10)},
	}
	assert.True(t, IsFresh(e, time.Unix(1010, 0))) // exactly at the boundary
	assert.False(t, IsFresh(e, time.Unix(1011, 0)))
}

func TestIsValidatable(t *testing.T) {
	assert.False(t, IsValidatable(Entry{}))
	assert.True(t, IsValidatable(Entry{Validators: map[string]any{"etag": "w/1"}}))
}

func TestPotentiallyUsefulForWithMaxStaleAndNoValidators(t *testing.T) {
	now := time.Unix(1000, 0)
	e := Entry{
		Date: now,
		Directives: ProducerDirectives{
			FreshUntilAge: seconds(10),
			MaxStale:      &ProducerMaxStale{WithoutRevalidation: 0, WhileRevalidate: 0, IfError: seconds(5)},
		},
	}
	assert.Equal(t, seconds(15), PotentiallyUsefulFor(e, now))
}

func TestPotentiallyUsefulForUnbounded(t *testing.T) {
	now := time.Unix(1000, 0)
	assert.Equal(t, time.Duration(1<<63-1), PotentiallyUsefulFor(Entry{Date: now}, now))

	validatable := Entry{
		Date:       now,
		Directives: ProducerDirectives{MaxStale: &ProducerMaxStale{}},
		Validators: map[string]any{"etag": "w/1"},
	}
	assert.Equal(t, time.Duration(1<<63-1), PotentiallyUsefulFor(validatable, now))
}

func TestVaryMatches(t *testing.T) {
	cases := []struct {
		name   string
		vary   Vary
		params Params
		want   bool
	}{
		{"empty vary always matches", Vary{}, Params{"a": 1}, true},
		{"matching scalar", Vary{"lang": "en"}, Params{"lang": "en"}, true},
		{"mismatched scalar", Vary{"lang": "en"}, Params{"lang": "fr"}, false},
		{"missing required key", Vary{"lang": "en"}, Params{}, false},
		{"absent marker matches missing key", Vary{"user": Absent}, Params{}, true},
		{"absent marker rejects present key", Vary{"user": Absent}, Params{"user": "bob"}, false},
		{"numeric shapes compare equal", Vary{"n": 3}, Params{"n": float64(3)}, true},
		{"extra params are not a constraint", Vary{"a": 1}, Params{"a": 1, "b": 2}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, VaryMatches(tc.vary, tc.params))
		})
	}
}
