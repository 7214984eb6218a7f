// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lookup

import (
	"log/slog"

	"github.com/AleutianAI/AleutianVault/services/reconciler/datatypes"
	"github.com/AleutianAI/AleutianVault/services/reconciler/docstore"
)

// Collections names the physical collection behind every slot.
type Collections struct {
	Users             string `yaml:"users" toml:"users" validate:"required"`
	Verifications     string `yaml:"verifications" toml:"verifications" validate:"required"`
	IdentityDocuments string `yaml:"identity_documents" toml:"identity_documents" validate:"required"`
	Payments          string `yaml:"payments" toml:"payments" validate:"required"`
	Journeys          string `yaml:"journeys" toml:"journeys" validate:"required"`
	Settings          string `yaml:"settings" toml:"settings" validate:"required"`
	WalletConnections string `yaml:"wallet_connections" toml:"wallet_connections" validate:"required"`
	BiometricVectors  string `yaml:"biometric_vectors" toml:"biometric_vectors" validate:"required"`
}

// DefaultCollections returns the stock collection names.
func DefaultCollections() Collections {
	return Collections{
		Users:             "users",
		Verifications:     "verifications",
		IdentityDocuments: "identity_documents",
		Payments:          "payments",
		Journeys:          "journeys",
		Settings:          "settings",
		WalletConnections: "wallet_connections",
		BiometricVectors:  "biometric_vectors",
	}
}

// List returns every configured collection name in slot order.
func (c Collections) List() []string {
	return []string{
		c.Users,
		c.Verifications,
		c.IdentityDocuments,
		c.Payments,
		c.Journeys,
		c.Settings,
		c.WalletConnections,
		c.BiometricVectors,
	}
}

// DefaultSources builds the standard source set over a single store.
//
// The profile comes from the primary user collection by id only. Biometric
// vectors fall back to the users/{id}/<biometric collection> sub-collection
// when no top-level document references the user.
func DefaultSources(store docstore.Store, c Collections, logger *slog.Logger) []*Source {
	single := func(slot datatypes.Slot, coll string) *Source {
		return NewSource(
			SourceSpec{Slot: slot, Collection: coll, Kind: KindSingle},
			logger,
			ByID(store, coll),
			ByField(store, coll, UserIDFields...),
		)
	}

	return []*Source{
		NewSource(
			SourceSpec{Slot: datatypes.SlotProfile, Collection: c.Users, Kind: KindSingle},
			logger,
			ByID(store, c.Users),
		),
		single(datatypes.SlotVerification, c.Verifications),
		single(datatypes.SlotIdentityDocument, c.IdentityDocuments),
		NewSource(
			SourceSpec{Slot: datatypes.SlotPayments, Collection: c.Payments, Kind: KindList, NewestFirst: true},
			logger,
			ByField(store, c.Payments, UserIDFields...),
		),
		single(datatypes.SlotJourney, c.Journeys),
		single(datatypes.SlotSettings, c.Settings),
		NewSource(
			SourceSpec{Slot: datatypes.SlotWalletConnections, Collection: c.WalletConnections, Kind: KindList},
			logger,
			ByField(store, c.WalletConnections, UserIDFields...),
		),
		NewSource(
			SourceSpec{Slot: datatypes.SlotBiometricVectors, Collection: c.BiometricVectors, Kind: KindList},
			logger,
			ByField(store, c.BiometricVectors, UserIDFields...),
			SubCollection(store, c.Users, c.BiometricVectors),
		),
	}
}
