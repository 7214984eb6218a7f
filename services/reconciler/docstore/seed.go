// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package docstore

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianVault/services/reconciler/datatypes"
)

// LoadSeed fills m from a YAML or JSON fixture and returns the number of
// documents loaded.
//
// The fixture maps collection to id to document. A key of the form
// "parent/parentID/sub" addresses a nested collection:
//
//	users:
//	  u1: {name: Ada}
//	payments:
//	  p1: {userId: u1, amount: 25}
//	users/u1/biometric_vectors:
//	  b1: {model: face-v2}
func LoadSeed(m *MemoryStore, r io.Reader) (int, error) {
	var fixture map[string]map[string]map[string]any
	if err := yaml.NewDecoder(r).Decode(&fixture); err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("decode seed: %w", err)
	}

	names := make([]string, 0, len(fixture))
	for name := range fixture {
		names = append(names, name)
	}
	sort.Strings(names)

	n := 0
	for _, name := range names {
		parts := strings.Split(name, "/")
		if len(parts) != 1 && len(parts) != 3 {
			return n, fmt.Errorf("seed collection %q: want name or parent/id/sub", name)
		}
		for id, doc := range fixture[name] {
			if len(parts) == 3 {
				m.PutSub(parts[0], parts[1], parts[2], id, datatypes.Document(doc))
			} else {
				m.Put(name, id, datatypes.Document(doc))
			}
			n++
		}
	}
	return n, nil
}
