// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package relay

import "context"

// Endpoint is a transmission channel capable of accepting record batches.
// Completion is not signalled through Transmit; callers observe it by
// IsBusy flipping back to false.
type Endpoint interface {
	// IsBusy reports whether the endpoint is currently transmitting.
	IsBusy() bool

	// CanTransmit reports whether the endpoint is able to carry data at
	// all, independent of whether it is busy right now.
	CanTransmit() bool

	// Score is the endpoint's suitability; lower is preferred.
	Score() float64

	// Transmit hands a batch to the endpoint. It must not block on the
	// actual send; the endpoint reports busy until the batch is done.
	//
	// A non-nil error means the batch was not accepted and the caller
	// still owns it. Once accepted, delivery is at most once: a send
	// failure after the handoff is logged by the endpoint, not reported
	// back, and the records are gone.
	Transmit(ctx context.Context, records []Record) error
}

// Observer receives relay activity notifications. Implementations must be
// safe for use from the flush loop.
type Observer interface {
	RecordsSubmitted(n int)
	BatchTransmitted(n int)
	BacklogChanged(delta int)
}
