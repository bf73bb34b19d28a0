package reconciler

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// referenceDayLayout is the layout of Entity.ReferenceDay.
const referenceDayLayout = "2006-01-02"

// HashFunc turns identity material into an identity string.
//
// Identities are a uniqueness aid for occupants without a durable key. They
// are not a security primitive and must not be used as one.
type HashFunc func(material []byte) string

// MD5Hash hashes identity material with MD5.
func MD5Hash(material []byte) string {
	sum := md5.Sum(material)
	return hex.EncodeToString(sum[:])
}

// Blake3Hash hashes identity material with BLAKE3-256.
func Blake3Hash(material []byte) string {
	sum := blake3.Sum256(material)
	return hex.EncodeToString(sum[:])
}

// HashFuncByName returns the HashFunc registered under name.
func HashFuncByName(name string) (HashFunc, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "md5":
		return MD5Hash, nil
	case "blake3":
		return Blake3Hash, nil
	default:
		return nil, fmt.Errorf("unknown identity hash %q", name)
	}
}

// Resolver derives identities for observed occupants.
//
// Resolve is a pure function of its arguments: the same partition, record
// and reference day always yield the same identity.
type Resolver struct {
	hash     HashFunc
	bucket   time.Duration
	location *time.Location
}

// NewResolver creates a Resolver. A nil hash defaults to MD5Hash, a
// non-positive bucket to one minute and a nil location to time.Local.
func NewResolver(hash HashFunc, bucket time.Duration, location *time.Location) *Resolver {
	if hash == nil {
		hash = MD5Hash
	}
	if bucket <= 0 {
		bucket = time.Minute
	}
	if location == nil {
		location = time.Local
	}
	return &Resolver{hash: hash, bucket: bucket, location: location}
}

// ReferenceDay returns the day, in the resolver's location, that t belongs to.
func (r *Resolver) ReferenceDay(t time.Time) string {
	return t.In(r.location).Format(referenceDayLayout)
}

// Location returns the timezone reference days are computed in.
func (r *Resolver) Location() *time.Location {
	return r.location
}

// Resolve returns the identity of rec within partitionKey on referenceDay.
//
// The second return value is true when the record lacked the fields needed
// for a reliable identity (no external ID, and not both name and arrival
// time). Such identities still work but two occupants with the same partial
// data on the same day share one identity.
//
// Only name and arrival bucket are hashed when either is present. The
// Distinguishing fields are used when both are missing; the rest of the
// payload never takes part, so status changes keep the identity.
func (r *Resolver) Resolve(partitionKey string, rec RawRecord, referenceDay string) (string, bool) {
	var b identityBuilder
	b.field("p", partitionKey)
	b.field("d", referenceDay)

	if id := strings.TrimSpace(rec.ExternalID); id != "" {
		b.field("x", id)
		return r.hash(b.bytes()), false
	}

	name := normalizeName(rec.Name)
	arrival := ""
	if !rec.ArrivedAt.IsZero() {
		arrival = r.arrivalBucket(rec.ArrivedAt)
	}

	if name != "" || arrival != "" {
		b.field("n", name)
		b.field("a", arrival)
		return r.hash(b.bytes()), name == "" || arrival == ""
	}

	keys := make([]string, 0, len(rec.Distinguishing))
	for k := range rec.Distinguishing {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.field("f:"+k, strings.TrimSpace(rec.Distinguishing[k]))
	}
	return r.hash(b.bytes()), true
}

func (r *Resolver) arrivalBucket(t time.Time) string {
	local := t.In(r.location)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, r.location)
	offset := local.Sub(midnight)
	return midnight.Add(offset - offset%r.bucket).Format("15:04")
}

func normalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// identityBuilder writes length-prefixed tag/value pairs so that no two
// different field sequences produce the same material.
type identityBuilder struct {
	sb strings.Builder
}

func (b *identityBuilder) field(tag, value string) {
	b.sb.WriteString(tag)
	b.sb.WriteByte('=')
	b.sb.WriteString(strconv.Itoa(len(value)))
	b.sb.WriteByte(':')
	b.sb.WriteString(value)
	b.sb.WriteByte(';')
}

func (b *identityBuilder) bytes() []byte {
	return []byte(b.sb.String())
}
