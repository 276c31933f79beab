package queue

import "sort"

// NextForConsultation ranks the waiting entries that should be started
// next: highest risk priority first, queue number breaking ties, capped
// by the number of doctors currently free. The sort is stable so equal
// priorities keep ascending queue-number order.
func NextForConsultation(s *Store, lookup ClinicalLookup) []*Entry {
	candidates := s.ByStatus(StatusWaiting)

	sort.SliceStable(candidates, func(i, j int) bool {
		pi := lookup(candidates[i].PatientID).Priority
		pj := lookup(candidates[j].PatientID).Priority
		if pi != pj {
			return pi > pj
		}
		return candidates[i].QueueNumber < candidates[j].QueueNumber
	})

	if free := len(s.AvailableDoctors()); len(candidates) > free {
		candidates = candidates[:free]
	}
	return candidates
}
