package reconciler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_Deterministic(t *testing.T) {
	r := NewResolver(MD5Hash, time.Minute, time.UTC)
	rec := patient("Maria Souza", t0)

	id1, weak1 := r.Resolve("U1", rec, "2026-03-10")
	id2, weak2 := r.Resolve("U1", rec, "2026-03-10")

	assert.Equal(t, id1, id2)
	assert.False(t, weak1)
	assert.False(t, weak2)
	assert.Len(t, id1, 32, "md5 identities are 32 hex characters")
}

func TestResolver_NoCrossPartitionCollision(t *testing.T) {
	r := NewResolver(MD5Hash, time.Minute, time.UTC)
	rec := patient("Maria Souza", t0)

	a, _ := r.Resolve("U1", rec, "2026-03-10")
	b, _ := r.Resolve("U2", rec, "2026-03-10")
	assert.NotEqual(t, a, b)

	// Length prefixes keep shifted boundaries apart.
	c, _ := r.Resolve("U1", RawRecord{Name: "2"}, "2026-03-10")
	d, _ := r.Resolve("U12", RawRecord{Name: ""}, "2026-03-10")
	assert.NotEqual(t, c, d)
}

func TestResolver_ReferenceDayChangesIdentity(t *testing.T) {
	r := NewResolver(MD5Hash, time.Minute, time.UTC)

	dayD, _ := r.Resolve("U1", patient("Maria Souza", t0), "2026-03-10")
	dayD1, _ := r.Resolve("U1", patient("Maria Souza", t0.Add(24*time.Hour)), "2026-03-11")

	assert.NotEqual(t, dayD, dayD1)
}

func TestResolver_NameNormalization(t *testing.T) {
	r := NewResolver(MD5Hash, time.Minute, time.UTC)

	a, _ := r.Resolve("U1", RawRecord{Name: "  Maria   SOUZA ", ArrivedAt: t0}, "2026-03-10")
	b, _ := r.Resolve("U1", RawRecord{Name: "maria souza", ArrivedAt: t0.Add(40 * time.Second)}, "2026-03-10")

	assert.Equal(t, a, b, "case, spacing and seconds within the bucket must not matter")
}

func TestResolver_ArrivalBucket(t *testing.T) {
	r := NewResolver(MD5Hash, 5*time.Minute, time.UTC)

	a, _ := r.Resolve("U1", RawRecord{Name: "Ana", ArrivedAt: t0.Add(1 * time.Minute)}, "2026-03-10")
	b, _ := r.Resolve("U1", RawRecord{Name: "Ana", ArrivedAt: t0.Add(4 * time.Minute)}, "2026-03-10")
	c, _ := r.Resolve("U1", RawRecord{Name: "Ana", ArrivedAt: t0.Add(6 * time.Minute)}, "2026-03-10")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestResolver_ExternalIDWins(t *testing.T) {
	r := NewResolver(MD5Hash, time.Minute, time.UTC)

	a, weak := r.Resolve("U1", RawRecord{ExternalID: "4711", Name: "Ana"}, "2026-03-10")
	b, _ := r.Resolve("U1", RawRecord{ExternalID: "4711", Name: "Another name"}, "2026-03-10")

	assert.False(t, weak)
	assert.Equal(t, a, b)
}

func TestResolver_WeakFallback(t *testing.T) {
	r := NewResolver(MD5Hash, time.Minute, time.UTC)

	tests := []struct {
		name string
		rec  RawRecord
	}{
		{name: "name only", rec: RawRecord{Name: "Ana"}},
		{name: "arrival only", rec: RawRecord{ArrivedAt: t0}},
		{name: "identity fields only", rec: RawRecord{Distinguishing: map[string]string{"ticket": "A12"}}},
		{name: "nothing at all", rec: RawRecord{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var id string
			var weak bool
			require.NotPanics(t, func() {
				id, weak = r.Resolve("U1", tt.rec, "2026-03-10")
			})
			assert.True(t, weak)
			assert.NotEmpty(t, id)
		})
	}

	// Identity fields distinguish records without name and arrival.
	a, _ := r.Resolve("U1", RawRecord{Distinguishing: map[string]string{"ticket": "A12"}}, "2026-03-10")
	b, _ := r.Resolve("U1", RawRecord{Distinguishing: map[string]string{"ticket": "A13"}}, "2026-03-10")
	assert.NotEqual(t, a, b)
}

func TestResolver_PayloadNeverChangesIdentity(t *testing.T) {
	r := NewResolver(MD5Hash, time.Minute, time.UTC)

	tests := []struct {
		name   string
		before RawRecord
		after  RawRecord
	}{
		{
			name:   "name only, status flips",
			before: RawRecord{Name: "Ana", Payload: map[string]string{"status": "Aguardando"}},
			after:  RawRecord{Name: "Ana", InService: true, Payload: map[string]string{"status": "Em atendimento"}},
		},
		{
			name:   "arrival only, counter ticks",
			before: RawRecord{ArrivedAt: t0, Payload: map[string]string{"wait_minutes": "3"}},
			after:  RawRecord{ArrivedAt: t0, Payload: map[string]string{"wait_minutes": "4"}},
		},
		{
			name: "identity fields only, status flips",
			before: RawRecord{
				Distinguishing: map[string]string{"ticket": "A12"},
				Payload:        map[string]string{"ticket": "A12", "status": "Aguardando"},
			},
			after: RawRecord{
				Distinguishing: map[string]string{"ticket": "A12"},
				InService:      true,
				Payload:        map[string]string{"ticket": "A12", "status": "Em atendimento"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, weakA := r.Resolve("U1", tt.before, "2026-03-10")
			b, weakB := r.Resolve("U1", tt.after, "2026-03-10")
			assert.Equal(t, a, b)
			assert.True(t, weakA)
			assert.True(t, weakB)
		})
	}
}

func TestResolver_ReferenceDayUsesLocation(t *testing.T) {
	saoPaulo := time.FixedZone("BRT", -3*60*60)
	r := NewResolver(nil, 0, saoPaulo)

	// 01:30 UTC is still the previous evening in UTC-3.
	assert.Equal(t, "2026-03-09", r.ReferenceDay(time.Date(2026, time.March, 10, 1, 30, 0, 0, time.UTC)))
	assert.Equal(t, "2026-03-10", r.ReferenceDay(time.Date(2026, time.March, 10, 3, 30, 0, 0, time.UTC)))
}

func TestHashFuncByName(t *testing.T) {
	md5Func, err := HashFuncByName("")
	require.NoError(t, err)
	blakeFunc, err := HashFuncByName("BLAKE3")
	require.NoError(t, err)

	material := []byte("p=2:U1;")
	assert.Equal(t, MD5Hash(material), md5Func(material))
	assert.Equal(t, Blake3Hash(material), blakeFunc(material))
	assert.Len(t, blakeFunc(material), 64)
	assert.NotEqual(t, md5Func(material), blakeFunc(material))

	_, err = HashFuncByName("sha1")
	assert.Error(t, err)
}
