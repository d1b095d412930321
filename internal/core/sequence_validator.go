package core

// PriceSequenceValidator orders price observations per feed source. Stale or
// repeated sequences are ignored; gaps are tolerated because only the latest
// price matters.
// Not thread-safe; the price feed consumes from a single goroutine.
type PriceSequenceValidator struct {
	lastSeq map[string]int64 // source -> last applied sequence
	gaps    map[string]int64 // source -> gap count
}

func NewPriceSequenceValidator() *PriceSequenceValidator {
	return &PriceSequenceValidator{
		lastSeq: make(map[string]int64),
		gaps:    make(map[string]int64),
	}
}

// Check reports whether an observation should be applied and whether it skipped
// ahead of the next expected sequence. Sequence zero marks an unsequenced feed
// and is always applied. Check does not advance state; call Advance once the
// price has been written.
func (sv *PriceSequenceValidator) Check(source string, sequence int64) (apply bool, gap bool) {
	if sequence == 0 {
		return true, false
	}
	last, seen := sv.lastSeq[source]
	if seen && sequence <= last {
		return false, false
	}
	return true, seen && sequence > last+1
}

// Advance records sequence as applied for source.
func (sv *PriceSequenceValidator) Advance(source string, sequence int64, gap bool) {
	if sequence == 0 {
		return
	}
	if gap {
		sv.gaps[source]++
	}
	sv.lastSeq[source] = sequence
}

// LastSequence returns the last applied sequence for source.
func (sv *PriceSequenceValidator) LastSequence(source string) int64 {
	return sv.lastSeq[source]
}

// SetLastSequence initializes a source (used during recovery)
func (sv *PriceSequenceValidator) SetLastSequence(source string, seq int64) {
	sv.lastSeq[source] = seq
}

// Gaps returns how many gaps were tolerated for source.
func (sv *PriceSequenceValidator) Gaps(source string) int64 {
	return sv.gaps[source]
}
