package store

// ProgressFunc receives progress in [0,1] plus a description of the
// phase currently running.
type ProgressFunc func(fraction float64, phase string)

// progressSlicer divides one ProgressFunc across sequential weighted
// steps, so multi-phase operations report a single monotonic fraction.
type progressSlicer struct {
	callback ProgressFunc
	done     float64
	weight   float64
	phase    string
}

func newProgressSlicer(callback ProgressFunc) *progressSlicer {
	return &progressSlicer{callback: callback}
}

// StartStep closes the previous step and opens a new one occupying
// the given share of the total. Weights across all steps should sum
// to 1.
func (p *progressSlicer) StartStep(phase string, weight float64) {
	p.done += p.weight
	p.weight = weight
	p.phase = phase
	p.report(0)
}

// report maps a fraction within the current step to the whole.
func (p *progressSlicer) report(fraction float64) {
	if p.callback == nil {
		return
	}
	p.callback(p.done+fraction*p.weight, p.phase)
}

// StepCallback returns a ProgressFunc that reports into the current
// step, for handing to sub-operations that track their own fraction.
func (p *progressSlicer) StepCallback() ProgressFunc {
	return func(fraction float64, phase string) {
		if p.callback == nil {
			return
		}
		if phase == "" {
			phase = p.phase
		}
		p.callback(p.done+fraction*p.weight, phase)
	}
}
