package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func seconds(n float64) time.Duration {
	return time.Duration(n * float64(time.Second))
}

func dptr(d time.Duration) *time.Duration { return &d }

func TestNormalizeProducerDirectives(t *testing.T) {
	cases := []struct {
		name string
		raw  ProducerDirectives
		want ProducerDirectives
	}{
		{
			"negative fresh until age clamps to zero",
			ProducerDirectives{FreshUntilAge: -seconds(5)},
			ProducerDirectives{FreshUntilAge: 0},
		},
		{
			"already monotonic max-stale passes through",
			ProducerDirectives{
				FreshUntilAge: seconds(10),
				MaxStale:      &ProducerMaxStale{seconds(1), seconds(2), seconds(3)},
			},
			ProducerDirectives{
				FreshUntilAge: seconds(10),
				MaxStale:      &ProducerMaxStale{seconds(1), seconds(2), seconds(3)},
			},
		},
		{
			"violating max-stale is clamped to predecessor",
			ProducerDirectives{
				FreshUntilAge: seconds(10),
				MaxStale:      &ProducerMaxStale{seconds(5), seconds(2), seconds(1)},
			},
			ProducerDirectives{
				FreshUntilAge: seconds(10),
				MaxStale:      &ProducerMaxStale{seconds(5), seconds(5), seconds(5)},
			},
		},
		{
			"negative max-stale fields clamp to zero first",
			ProducerDirectives{
				MaxStale: &ProducerMaxStale{-seconds(1), -seconds(2), -seconds(3)},
			},
			ProducerDirectives{
				MaxStale: &ProducerMaxStale{0, 0, 0},
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := NormalizeProducerDirectives(tc.raw)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeProducerDirectivesIdempotent(t *testing.T) {
	raw := ProducerDirectives{
		FreshUntilAge: -seconds(1),
		MaxStale:      &ProducerMaxStale{seconds(9), seconds(2), seconds(1)},
		StoreFor:      dptr(seconds(30)),
	}
	once := NormalizeProducerDirectives(raw)
	twice := NormalizeProducerDirectives(once)
	assert.Equal(t, once, twice)
}

func TestNormalizeConsumerDirectives(t *testing.T) {
	raw := ConsumerDirectives{
		MaxAge: dptr(-seconds(5)),
		MaxStale: &ConsumerMaxStale{
			FreshUntilAge:       dptr(-seconds(1)),
			WithoutRevalidation: seconds(5),
			WhileRevalidate:     seconds(2),
			IfError:             seconds(1),
		},
	}
	got := NormalizeConsumerDirectives(raw)
	assert.Equal(t, dptr(0), got.MaxAge)
	assert.Equal(t, dptr(0), got.MaxStale.FreshUntilAge)
	assert.Equal(t, seconds(5), got.MaxStale.WithoutRevalidation)
	assert.Equal(t, seconds(5), got.MaxStale.WhileRevalidate)
	assert.Equal(t, seconds(5), got.MaxStale.IfError)
}

func TestNormalizeConsumerDirectivesIdempotent(t *testing.T) {
	raw := ConsumerDirectives{
		MaxAge:   dptr(seconds(12)),
		MaxStale: &ConsumerMaxStale{WithoutRevalidation: seconds(9), WhileRevalidate: seconds(1), IfError: seconds(0)},
	}
	once := NormalizeConsumerDirectives(raw)
	twice := NormalizeConsumerDirectives(once)
	assert.Equal(t, once, twice)
}

func TestNormalizeConsumerDirectivesNilMaxStale(t *testing.T) {
	got := NormalizeConsumerDirectives(ConsumerDirectives{})
	assert.Nil(t, got.MaxAge)
	assert.Nil(t, got.MaxStale)
}

func TestNormalizeParamsDropsMissing(t *testing.T) {
	raw := Params{"a": "1", "b": nil, "c": 3}
	got := NormalizeParams(raw, nil, nil)
	assert.Equal(t, Params{"a": "1", "c": 3}, got)
}

func TestNormalizeParamsAppliesNormalizers(t *testing.T) {
	raw := Params{"A": "X"}
	got := NormalizeParams(raw, func(n string) string { return n + "!" }, func(v any) any { return v.(string) + "?" })
	assert.Equal(t, Params{"A!": "X?"}, got)
}

func TestNormalizeVaryPreservesAbsent(t *testing.T) {
	raw := Vary{"a": Absent, "b": "v"}
	got := NormalizeVary(raw, nil, nil)
	assert.Equal(t, Vary{"a": Absent, "b": "v"}, got)
}
