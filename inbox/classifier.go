// Package inbox sorts applications into the named buckets listing screens show.
package inbox

import (
	"github.com/songzhibin97/license-workflow/catalog"
	"github.com/songzhibin97/license-workflow/types"
)

// Filter narrows a bucket's members. It sees the bucket being classified so
// it can honour the bucket's perspective.
type Filter func(app *types.Application, bucket catalog.Bucket) bool

// ForAssignee keeps applications belonging to userID from the bucket's point
// of view: the current holder for ordinary buckets, the previous holder for
// previous-perspective buckets such as "sent". Applications with no current
// holder (terminal ones) belong to whoever decided them.
func ForAssignee(userID string) Filter {
	return func(app *types.Application, bucket catalog.Bucket) bool {
		if bucket.Perspective == catalog.PerspectivePrevious {
			return app.PreviousUserID == userID
		}
		if app.CurrentUserID == "" {
			return app.PreviousUserID == userID
		}
		return app.CurrentUserID == userID
	}
}

// ForApplicant keeps applications filed by applicantID.
func ForApplicant(applicantID string) Filter {
	return func(app *types.Application, _ catalog.Bucket) bool {
		return app.ApplicantID == applicantID
	}
}

// Classifier answers bucket queries against a catalog. It holds no state
// beyond the catalog and never modifies its inputs.
type Classifier struct {
	catalog *catalog.Catalog
}

// NewClassifier returns a classifier over cat, or the default catalog if nil.
func NewClassifier(cat *catalog.Catalog) *Classifier {
	if cat == nil {
		cat = catalog.Default()
	}
	return &Classifier{catalog: cat}
}

// Classify returns the applications whose status is in the bucket and that
// pass every filter, in input order. An unknown bucket yields an empty slice.
func (c *Classifier) Classify(apps []types.Application, bucketKey string, filters ...Filter) []types.Application {
	bucket, ok := c.catalog.Bucket(bucketKey)
	if !ok {
		return []types.Application{}
	}
	out := make([]types.Application, 0)
	for i := range apps {
		if c.matches(&apps[i], bucket, filters) {
			out = append(out, apps[i])
		}
	}
	return out
}

// CountsByBucket counts members per bucket key. Unknown keys count zero.
// With no keys, every catalog bucket is counted.
func (c *Classifier) CountsByBucket(apps []types.Application, keys []string, filters ...Filter) map[string]int {
	if len(keys) == 0 {
		keys = c.catalog.BucketKeys()
	}
	counts := make(map[string]int, len(keys))
	for _, key := range keys {
		counts[key] = 0
		bucket, ok := c.catalog.Bucket(key)
		if !ok {
			continue
		}
		for i := range apps {
			if c.matches(&apps[i], bucket, filters) {
				counts[key]++
			}
		}
	}
	return counts
}

func (c *Classifier) matches(app *types.Application, bucket catalog.Bucket, filters []Filter) bool {
	if _, ok := bucket.Codes[app.StatusCode]; !ok {
		return false
	}
	for _, f := range filters {
		if !f(app, bucket) {
			return false
		}
	}
	return true
}
