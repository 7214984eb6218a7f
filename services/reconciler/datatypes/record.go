// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the value types shared by the export reconciler:
// the aggregated per-user record, the export envelope, ledger entries and
// run statistics.
package datatypes

import (
	"math"
)

// Document is a single record read from a document store.
//
// Documents are schemaless. Stores normalise the primary key into the "id"
// field so callers never see driver-specific key names.
type Document map[string]any

// IDField is the field every store uses for the normalised document id.
const IDField = "id"

// SourceIDField keeps a document's own "id" value when the store key
// replaces it under IDField.
const SourceIDField = "sourceId"

// ID returns the normalised document id, or "" when absent.
func (d Document) ID() string {
	if d == nil {
		return ""
	}
	if id, ok := d[IDField].(string); ok {
		return id
	}
	return ""
}

// Slot names one optional section of an AggregatedRecord.
type Slot string

const (
	SlotProfile           Slot = "profile"
	SlotVerification      Slot = "verification"
	SlotIdentityDocument  Slot = "identityDocument"
	SlotPayments          Slot = "payments"
	SlotJourney           Slot = "journey"
	SlotSettings          Slot = "settings"
	SlotWalletConnections Slot = "walletConnections"
	SlotBiometricVectors  Slot = "biometricVectors"
)

// AllSlots lists every slot in envelope order.
var AllSlots = []Slot{
	SlotProfile,
	SlotVerification,
	SlotIdentityDocument,
	SlotPayments,
	SlotJourney,
	SlotSettings,
	SlotWalletConnections,
	SlotBiometricVectors,
}

// RequiredSlots are the slots counted by Summary.DataCompleteness.
// Wallet connections and biometric vectors are informative only.
var RequiredSlots = []Slot{
	SlotProfile,
	SlotVerification,
	SlotIdentityDocument,
	SlotPayments,
	SlotJourney,
	SlotSettings,
}

// Summary is derived from the populated slots of an AggregatedRecord.
type Summary struct {
	HasProfile            bool `json:"hasProfile"`
	HasVerification       bool `json:"hasVerification"`
	HasIdentityDocument   bool `json:"hasIdentityDocument"`
	HasJourney            bool `json:"hasJourney"`
	HasSettings           bool `json:"hasSettings"`
	PaymentCount          int  `json:"paymentCount"`
	WalletConnectionCount int  `json:"walletConnectionCount"`
	BiometricVectorCount  int  `json:"biometricVectorCount"`
	PopulatedSlots        int  `json:"populatedSlots"`
	DataCompleteness      int  `json:"dataCompleteness"`
}

// AggregatedRecord is everything known about one user across all sources.
//
// Every slot is independently optional. A nil map or empty slice means the
// slot is absent; absence of one slot never invalidates the others.
// Records are built fresh for each reconciliation attempt and are only ever
// persisted in their packaged form.
type AggregatedRecord struct {
	Profile           Document   `json:"profile,omitempty"`
	Verification      Document   `json:"verification,omitempty"`
	IdentityDocument  Document   `json:"identityDocument,omitempty"`
	Payments          []Document `json:"payments,omitempty"`
	Journey           Document   `json:"journey,omitempty"`
	Settings          Document   `json:"settings,omitempty"`
	WalletConnections []Document `json:"walletConnections,omitempty"`
	BiometricVectors  []Document `json:"biometricVectors,omitempty"`
	Summary           Summary    `json:"summary"`
}

// Has reports whether the given slot is populated.
func (r *AggregatedRecord) Has(slot Slot) bool {
	switch slot {
	case SlotProfile:
		return len(r.Profile) > 0
	case SlotVerification:
		return len(r.Verification) > 0
	case SlotIdentityDocument:
		return len(r.IdentityDocument) > 0
	case SlotPayments:
		return len(r.Payments) > 0
	case SlotJourney:
		return len(r.Journey) > 0
	case SlotSettings:
		return len(r.Settings) > 0
	case SlotWalletConnections:
		return len(r.WalletConnections) > 0
	case SlotBiometricVectors:
		return len(r.BiometricVectors) > 0
	default:
		return false
	}
}

// PopulatedSlots returns the populated slots in AllSlots order.
func (r *AggregatedRecord) PopulatedSlots() []Slot {
	var slots []Slot
	for _, slot := range AllSlots {
		if r.Has(slot) {
			slots = append(slots, slot)
		}
	}
	return slots
}

// IsEmpty reports whether no slot is populated.
func (r *AggregatedRecord) IsEmpty() bool {
	return len(r.PopulatedSlots()) == 0
}

// SetSingle stores a single-valued document in the named slot.
// List slots receive a one-element list; unknown slots are ignored.
func (r *AggregatedRecord) SetSingle(slot Slot, doc Document) {
	switch slot {
	case SlotProfile:
		r.Profile = doc
	case SlotVerification:
		r.Verification = doc
	case SlotIdentityDocument:
		r.IdentityDocument = doc
	case SlotJourney:
		r.Journey = doc
	case SlotSettings:
		r.Settings = doc
	case SlotPayments, SlotWalletConnections, SlotBiometricVectors:
		r.SetList(slot, []Document{doc})
	}
}

// SetList stores a list of documents in the named list slot.
// Single-valued slots receive the first element; unknown slots are ignored.
func (r *AggregatedRecord) SetList(slot Slot, docs []Document) {
	switch slot {
	case SlotPayments:
		r.Payments = docs
	case SlotWalletConnections:
		r.WalletConnections = docs
	case SlotBiometricVectors:
		r.BiometricVectors = docs
	case SlotProfile, SlotVerification, SlotIdentityDocument, SlotJourney, SlotSettings:
		if len(docs) > 0 {
			r.SetSingle(slot, docs[0])
		}
	}
}

// Summarize recomputes r.Summary from the populated slots.
//
// DataCompleteness is round(100 * presentRequired / len(RequiredSlots)).
func (r *AggregatedRecord) Summarize() Summary {
	present := 0
	for _, slot := range RequiredSlots {
		if r.Has(slot) {
			present++
		}
	}

	r.Summary = Summary{
		HasProfile:            r.Has(SlotProfile),
		HasVerification:       r.Has(SlotVerification),
		HasIdentityDocument:   r.Has(SlotIdentityDocument),
		HasJourney:            r.Has(SlotJourney),
		HasSettings:           r.Has(SlotSettings),
		PaymentCount:          len(r.Payments),
		WalletConnectionCount: len(r.WalletConnections),
		BiometricVectorCount:  len(r.BiometricVectors),
		PopulatedSlots:        len(r.PopulatedSlots()),
		DataCompleteness:      int(math.Round(100 * float64(present) / float64(len(RequiredSlots)))),
	}
	return r.Summary
}
