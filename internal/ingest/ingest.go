// Package ingest pulls enrollment and engagement data from the learning
// platforms into the local store. Each platform adapter normalizes its API
// output to the common Record shape; the Ingestor only ever consumes that.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ignite/engagement-sync/internal/domain"
)

// Record is the normalized enrollment+engagement shape every source adapter
// produces.
type Record struct {
	MemberEmail string
	MemberName  string
	ProductCode string
	ProductName string

	Status             domain.EnrollmentStatus
	AccessCount        int
	LastActivity       *time.Time
	ProgressPercentage float64
	EnrolledAt         time.Time

	ClassMemberships []string
}

// Validate rejects records that cannot be keyed. A record without an email
// or product code references nothing the store can hold.
func (r Record) Validate() error {
	if strings.TrimSpace(r.MemberEmail) == "" {
		return &domain.DataIntegrityError{Detail: "record has no member email"}
	}
	if !strings.Contains(r.MemberEmail, "@") {
		return &domain.DataIntegrityError{Detail: fmt.Sprintf("malformed member email %q", r.MemberEmail)}
	}
	if strings.TrimSpace(r.ProductCode) == "" {
		return &domain.DataIntegrityError{Detail: "record has no product code"}
	}
	return nil
}

// Source is a learning-platform adapter. FetchRecords performs the paginated
// pull and returns the full normalized batch for one run.
type Source interface {
	Name() string
	FetchRecords(ctx context.Context) ([]Record, error)
}

// Store is the slice of the membership store ingestion needs.
type Store interface {
	UpsertMember(ctx context.Context, email, name, source string, lastSeen *time.Time) (string, error)
	UpsertProduct(ctx context.Context, code, name, source string) (string, error)
	UpsertEnrollment(ctx context.Context, e domain.Enrollment) error
}

// Ingestor runs one source's records into the store with per-record error
// containment: a bad record is counted and skipped, never aborts the batch.
type Ingestor struct {
	store Store
}

// NewIngestor creates an ingestor over the given store.
func NewIngestor(store Store) *Ingestor {
	return &Ingestor{store: store}
}

// Run fetches and stores one source's batch. The returned stats feed the
// stage result; the error is non-nil only when the fetch itself failed (the
// stage then runs against last-known-good data on the next pipeline stage).
func (in *Ingestor) Run(ctx context.Context, src Source) (map[string]int, error) {
	stats := map[string]int{"fetched": 0, "stored": 0, "skipped": 0}

	records, err := src.FetchRecords(ctx)
	if err != nil {
		return stats, fmt.Errorf("fetching from %s: %w", src.Name(), err)
	}
	stats["fetched"] = len(records)

	for _, rec := range records {
		if err := in.storeRecord(ctx, src.Name(), rec); err != nil {
			stats["skipped"]++
			var integrity *domain.DataIntegrityError
			if errors.As(err, &integrity) {
				log.Printf("%s: skipping record: %v", src.Name(), err)
				continue
			}
			log.Printf("%s: failed to store record for %s/%s: %v",
				src.Name(), rec.MemberEmail, rec.ProductCode, err)
			continue
		}
		stats["stored"]++
	}

	log.Printf("%s: ingested %d records (%d stored, %d skipped)",
		src.Name(), stats["fetched"], stats["stored"], stats["skipped"])
	return stats, nil
}

func (in *Ingestor) storeRecord(ctx context.Context, source string, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	email := strings.ToLower(strings.TrimSpace(rec.MemberEmail))
	memberID, err := in.store.UpsertMember(ctx, email, rec.MemberName, source, rec.LastActivity)
	if err != nil {
		return fmt.Errorf("upserting member: %w", err)
	}

	productID, err := in.store.UpsertProduct(ctx, rec.ProductCode, rec.ProductName, source)
	if err != nil {
		return fmt.Errorf("upserting product: %w", err)
	}

	status := rec.Status
	if status == "" {
		status = domain.EnrollmentActive
	}
	enrolledAt := rec.EnrolledAt
	if enrolledAt.IsZero() {
		enrolledAt = time.Now().UTC()
	}

	if err := in.store.UpsertEnrollment(ctx, domain.Enrollment{
		MemberID:           memberID,
		ProductID:          productID,
		Status:             status,
		AccessCount:        rec.AccessCount,
		LastActivity:       rec.LastActivity,
		ProgressPercentage: rec.ProgressPercentage,
		EnrolledAt:         enrolledAt,
	}); err != nil {
		return fmt.Errorf("upserting enrollment: %w", err)
	}
	return nil
}
