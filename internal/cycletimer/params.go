package cycletimer

// DefaultCyclePeriod is one day in seconds, the period a derived schedule
// repeats with.
const DefaultCyclePeriod int64 = 86400

// Params is the plain mutable record describing one timer's schedule.
//
// All epoch fields are integer seconds. Fields are ordinary assignments
// with no validation; Timer.Init validates the whole record once before
// creating the execution unit. After Init, Start and Stop are advanced by
// the cycle loop itself; mutate them through the Timer, which rejects
// writes while a unit is live.
type Params struct {
	// Start marks when the current cycle's active window opens.
	Start int64
	// Stop marks when the current cycle's active window closes.
	// The gap Stop-Start is the window's active width and is preserved
	// across cycles.
	Stop int64
	// Interval is the base seconds between callback invocations while the
	// window is open. Must be > 0 for the loop to make progress.
	Interval int64
	// IntervalMultiplier scales Interval at invocation time, allowing
	// runtime coarsening of the firing rate without recomputing Interval.
	IntervalMultiplier int64
	// CyclePeriod is added to both Start and Stop after each cycle.
	CyclePeriod int64
	// CycleCount is the number of windows to execute before the unit
	// terminates itself.
	CycleCount int
}

// NewParams returns a record with the stock defaults: a degenerate window
// at the epoch, a one second interval, a one day cycle period and a single
// cycle.
func NewParams() *Params {
	return &Params{
		Interval:           1,
		IntervalMultiplier: 1,
		CyclePeriod:        DefaultCyclePeriod,
		CycleCount:         1,
	}
}

// Width returns the active window width Stop-Start in seconds.
func (p *Params) Width() int64 { return p.Stop - p.Start }

func validateParams(p *Params) error {
	if p.Interval <= 0 {
		return ErrBadInterval
	}
	if p.IntervalMultiplier <= 0 {
		return ErrBadMultiplier
	}
	if p.Stop < p.Start {
		return ErrWindowInverted
	}
	if p.CycleCount <= 0 {
		return ErrBadCycleCount
	}
	return nil
}
