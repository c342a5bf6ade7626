// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package relay

// EndpointStatus is a point-in-time view of one registered endpoint.
type EndpointStatus struct {
	Score       float64 `json:"score"`
	Busy        bool    `json:"busy"`
	CanTransmit bool    `json:"can_transmit"`
	Pending     int     `json:"pending"`
	InFlight    int     `json:"in_flight"`
}

// Status is a point-in-time view of the whole relay, built for operator
// status endpoints. It is a snapshot; nothing in it stays live.
type Status struct {
	Endpoints []EndpointStatus `json:"endpoints"`
	Unrouted  int              `json:"unrouted"`
	Backlog   int              `json:"backlog"`
	Capable   bool             `json:"capable"`
}

// Stats snapshots the relay state. In-flight batches of idle endpoints are
// completed first, so the snapshot matches what QueuedRecords would report.
func (d *Delegator) Stats() Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := Status{Unrouted: len(d.unrouted)}
	st.Backlog = len(d.unrouted)
	for i, ep := range d.endpoints {
		if !ep.IsBusy() {
			d.completeInflight(i)
		}
		es := EndpointStatus{
			Score:       ep.Score(),
			Busy:        ep.IsBusy(),
			CanTransmit: ep.CanTransmit(),
			Pending:     len(d.pending[i]),
			InFlight:    len(d.inflight[i]),
		}
		st.Endpoints = append(st.Endpoints, es)
		st.Backlog += es.Pending + es.InFlight
		if es.CanTransmit {
			st.Capable = true
		}
	}
	return st
}
