package decision

import (
	"context"
	"fmt"
	"time"

	"github.com/scanpoint/verity/internal/document"
	"go.uber.org/zap"
)

// DocumentTypeDriversLicense is the only document type produced by the
// barcode decoder today.
const DocumentTypeDriversLicense = "drivers_license"

// Query is a deny-list lookup request. Document identifiers are the primary
// match; name and DOB support the fallback match for records filed without a
// document number.
type Query struct {
	DocumentType   string
	DocumentNumber string
	IssuingRegion  string
	FirstName      string
	LastName       string
	DateOfBirth    *time.Time
}

// Record is a deny-list hit.
type Record struct {
	Note string
}

// DenyList is the external deny-list store collaborator.
type DenyList interface {
	FindBannedCustomer(ctx context.Context, q Query) (*Record, error)
}

// Result is an approve/reject verdict with a human-readable reason on reject.
type Result struct {
	Approved bool
	Reason   string
}

// Engine applies age and deny-list rules to a decoded document. Given the
// same document and deny-list answer it always produces the same result; the
// only side effect is a warning log when the deny-list lookup errors.
type Engine struct {
	legalAge int
	log      *zap.Logger
}

func NewEngine(legalAge int, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{legalAge: legalAge, log: log.Named("decision")}
}

// Decide evaluates rules in order, first match wins:
//  1. unknown age rejects: a nil age means the DOB never decoded, and an
//     unverifiable customer is not an of-age customer
//  2. underage rejects with the computed age in the reason
//  3. a deny-list match rejects with the record's note
//  4. otherwise approve
//
// A deny-list lookup failure is treated as no match. That fails open on the
// lookup while the age rules stay strict; rejecting every customer whenever
// the deny-list store blips was judged worse than missing a ban during an
// outage.
func (e *Engine) Decide(ctx context.Context, doc document.Document, denyList DenyList) Result {
	if doc.Age == nil {
		return Result{Approved: false, Reason: "DOB unreadable - manual review required"}
	}
	if *doc.Age < e.legalAge {
		return Result{Approved: false, Reason: fmt.Sprintf("Customer is under %d (age %d)", e.legalAge, *doc.Age)}
	}

	if denyList != nil {
		record, err := e.lookupBanned(ctx, doc, denyList)
		if err != nil {
			e.log.Warn("deny-list lookup failed, treating as no match",
				zap.String("document_number", doc.DocumentNumber),
				zap.Error(err),
			)
		} else if record != nil {
			reason := record.Note
			if reason == "" {
				reason = "Customer is on the deny list"
			}
			return Result{Approved: false, Reason: reason}
		}
	}

	return Result{Approved: true}
}

func (e *Engine) lookupBanned(ctx context.Context, doc document.Document, denyList DenyList) (*Record, error) {
	return denyList.FindBannedCustomer(ctx, Query{
		DocumentType:   DocumentTypeDriversLicense,
		DocumentNumber: doc.DocumentNumber,
		IssuingRegion:  doc.IssuingRegion,
		FirstName:      doc.FirstName,
		LastName:       doc.LastName,
		DateOfBirth:    doc.DateOfBirth,
	})
}
