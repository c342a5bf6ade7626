// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package relay

// Record is a single unit of transmittable science data. The relay treats
// the payload as opaque; it only moves records between queues and endpoints.
type Record struct {
	// ID uniquely identifies the record for backlog queries.
	ID string `json:"id"`

	// Payload is the raw data handed to whichever endpoint carries it.
	Payload []byte `json:"payload,omitempty"`

	// Size is the payload weight reported by the producer. It is carried
	// through untouched; the relay never recomputes it.
	Size int64 `json:"size"`
}
