package poller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/tidwall/gjson"

	"queuewatch/internal/config"
	"queuewatch/internal/reconciler"
	"queuewatch/pkg/logging"
)

// maxBodyBytes bounds a single page response.
const maxBodyBytes = 8 << 20

// JSONPollerConfig holds configuration for a JSONPoller.
type JSONPollerConfig struct {
	// PartitionKey is the partition every snapshot belongs to.
	PartitionKey string

	// URLs are the pages that together make up the listing.
	URLs []string

	// Headers are sent with every request (session token, cookie...).
	Headers map[string]string

	// RecordsPath is the gjson path of the record array in each response.
	// Empty means the response body itself is the array.
	RecordsPath string

	// Fields maps upstream fields onto RawRecord.
	Fields config.FieldMapping

	// IgnoreFields are dropped from the payload, typically counters that
	// change on every poll and would defeat debouncing.
	IgnoreFields []string

	// Timeout bounds each page request. Defaults to 20 seconds.
	Timeout time.Duration

	// Client is the HTTP client. Defaults to a client with Timeout.
	Client *http.Client

	// Clock stamps ObservedAt. Defaults to the wall clock.
	Clock clock.Clock

	// Location interprets arrival times without a zone. Defaults to time.Local.
	Location *time.Location
}

// JSONPoller fetches a partition's queue from one or more JSON endpoints.
type JSONPoller struct {
	config  JSONPollerConfig
	ignored map[string]bool
}

// NewJSONPoller creates a poller for one partition.
func NewJSONPoller(cfg JSONPollerConfig) (*JSONPoller, error) {
	if cfg.PartitionKey == "" {
		return nil, fmt.Errorf("poller requires a partition key")
	}
	if len(cfg.URLs) == 0 {
		return nil, fmt.Errorf("poller for %s requires at least one URL", cfg.PartitionKey)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewClock()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Fields.Name == "" && cfg.Fields.ID == "" {
		cfg.Fields.Name = "name"
	}

	ignored := make(map[string]bool, len(cfg.IgnoreFields))
	for _, f := range cfg.IgnoreFields {
		ignored[f] = true
	}
	return &JSONPoller{config: cfg, ignored: ignored}, nil
}

// FromPartitionConfig builds a JSONPoller from the partition section of the
// configuration file.
func FromPartitionConfig(p config.PartitionConfig, timeout time.Duration, loc *time.Location) (*JSONPoller, error) {
	return NewJSONPoller(JSONPollerConfig{
		PartitionKey: p.Key,
		URLs:         p.URLs,
		Headers:      p.Headers,
		RecordsPath:  p.RecordsPath,
		Fields:       p.Fields,
		IgnoreFields: p.IgnoreFields,
		Timeout:      timeout,
		Location:     loc,
	})
}

// PartitionKey returns the partition this poller observes.
func (p *JSONPoller) PartitionKey() string {
	return p.config.PartitionKey
}

// Poll fetches every page and merges them into one snapshot.
//
// The snapshot is TRUSTED only when every page was fetched and parsed. When
// some pages fail it is PARTIAL and carries the records that were read; when
// all fail it is ERROR and empty. The returned error joins the per-page
// *reconciler.FetchError values and is nil only for a TRUSTED snapshot.
func (p *JSONPoller) Poll(ctx context.Context) (reconciler.Snapshot, error) {
	snap := reconciler.Snapshot{
		PartitionKey: p.config.PartitionKey,
		ObservedAt:   p.config.Clock.Now(),
	}

	var errs []error
	for _, url := range p.config.URLs {
		records, err := p.fetchPage(ctx, url, snap.ObservedAt)
		if err != nil {
			logging.Warn("Poller", "Page %s of %s failed: %v", url, p.config.PartitionKey, err)
			errs = append(errs, err)
			continue
		}
		snap.Records = append(snap.Records, records...)
	}

	switch {
	case len(errs) == 0:
		snap.FetchQuality = reconciler.QualityTrusted
	case len(errs) == len(p.config.URLs):
		snap.FetchQuality = reconciler.QualityError
		snap.Records = nil
	default:
		snap.FetchQuality = reconciler.QualityPartial
	}

	return snap, errors.Join(errs...)
}

func (p *JSONPoller) fetchPage(ctx context.Context, url string, observedAt time.Time) ([]reconciler.RawRecord, error) {
	fetchErr := func(status int, err error) error {
		return &reconciler.FetchError{
			PartitionKey: p.config.PartitionKey,
			Source:       url,
			StatusCode:   status,
			Err:          err,
		}
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fetchErr(0, err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range p.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := p.config.Client.Do(req)
	if err != nil {
		return nil, fetchErr(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, fetchErr(resp.StatusCode, fmt.Errorf("unexpected status %s", resp.Status))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fetchErr(0, fmt.Errorf("read body: %w", err))
	}

	records, err := p.parse(body, observedAt)
	if err != nil {
		return nil, fetchErr(0, err)
	}
	return records, nil
}

// parse extracts the records of one page.
func (p *JSONPoller) parse(body []byte, observedAt time.Time) ([]reconciler.RawRecord, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("response is not valid JSON")
	}

	list := gjson.ParseBytes(body)
	if p.config.RecordsPath != "" {
		list = list.Get(p.config.RecordsPath)
	}
	if !list.Exists() || list.Type == gjson.Null {
		// An absent or null list is an empty queue.
		return nil, nil
	}
	if !list.IsArray() {
		return nil, fmt.Errorf("records at %q are not a JSON array", p.config.RecordsPath)
	}

	var (
		records []reconciler.RawRecord
		bad     int
	)
	list.ForEach(func(_, item gjson.Result) bool {
		if !item.IsObject() {
			bad++
			return true
		}
		records = append(records, p.toRecord(item, observedAt))
		return true
	})
	if bad > 0 {
		return nil, fmt.Errorf("%d records are not JSON objects", bad)
	}
	return records, nil
}

func (p *JSONPoller) toRecord(item gjson.Result, observedAt time.Time) reconciler.RawRecord {
	f := p.config.Fields
	rec := reconciler.RawRecord{
		Payload: make(map[string]string),
	}

	if f.ID != "" {
		rec.ExternalID = strings.TrimSpace(stringValue(item.Get(f.ID)))
	}
	if f.Name != "" {
		rec.Name = strings.TrimSpace(stringValue(item.Get(f.Name)))
	}
	if f.Arrival != "" {
		rec.ArrivedAt = parseArrival(stringValue(item.Get(f.Arrival)), observedAt, p.config.Location)
	}
	if f.Status != "" {
		status := strings.TrimSpace(stringValue(item.Get(f.Status)))
		for _, v := range f.InServiceValues {
			if strings.EqualFold(status, v) {
				rec.InService = true
				break
			}
		}
	}

	for _, k := range f.IdentityFields {
		if k == f.Status || p.ignored[k] {
			continue
		}
		if v := item.Get(k); v.Exists() {
			if rec.Distinguishing == nil {
				rec.Distinguishing = make(map[string]string, len(f.IdentityFields))
			}
			rec.Distinguishing[k] = strings.TrimSpace(stringValue(v))
		}
	}

	item.ForEach(func(key, value gjson.Result) bool {
		if !p.ignored[key.String()] {
			rec.Payload[key.String()] = stringValue(value)
		}
		return true
	})
	return rec
}

// stringValue renders a JSON value as text. Nested values keep their raw
// JSON form and null becomes the empty string.
func stringValue(r gjson.Result) string {
	switch r.Type {
	case gjson.Null:
		return ""
	case gjson.JSON:
		return r.Raw
	default:
		return r.String()
	}
}

var arrivalLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
}

var clockLayouts = []string{
	"15:04:05",
	"15:04",
}

// parseArrival understands full timestamps and bare clock times, which are
// placed on the observation day. Unparseable values yield the zero time.
func parseArrival(s string, observedAt time.Time, loc *time.Location) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}

	for _, layout := range arrivalLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t
		}
	}

	day := observedAt.In(loc)
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
		}
	}
	return time.Time{}
}
