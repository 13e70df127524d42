package filter

import "github.com/pgbackrest/pgbackrest-sub008/iostream"

// scratchSize is the inter-filter buffer capacity used for every stage
// except the last, whose output lands directly in the caller's buffer.
const scratchSize = 64 * 1024

// Group is an ordered pipeline of Filters plus the inter-filter scratch
// buffers spec.md §4.1 describes. Filters are frozen once Open is called.
type Group struct {
	filters []Filter
	scratch []*iostream.Buffer // len(filters)-1 scratch buffers between stages
	opened  bool

	pending   *iostream.Buffer // last input handed in by the caller (nil once fully drained or on flush)
	inputSame bool             // true when some filter asked to see pending again
}

// NewGroup constructs an empty Group. Add filters with Add before Open.
func NewGroup() *Group {
	return &Group{}
}

// Add appends a filter to the pipeline. Panics if called after Open, since
// spec.md requires filters be frozen once the group opens.
func (g *Group) Add(f Filter) {
	if g.opened {
		panic("filter: cannot add filter after group is open")
	}
	g.filters = append(g.filters, f)
}

// Open freezes the filter list and allocates inter-filter scratch buffers.
func (g *Group) Open() {
	if g.opened {
		return
	}
	g.opened = true
	if len(g.filters) > 1 {
		g.scratch = make([]*iostream.Buffer, len(g.filters)-1)
		for i := range g.scratch {
			g.scratch[i] = iostream.NewBuffer(scratchSize)
		}
	}
}

// InputSame reports whether the group wants to see the same input again
// rather than new bytes from the upstream source.
func (g *Group) InputSame() bool { return g.inputSame }

// Done reports whether every filter is done and no input remains pending.
func (g *Group) Done() bool {
	if g.pending != nil || g.inputSame {
		return false
	}
	for _, f := range g.filters {
		if !f.Done() {
			return false
		}
	}
	return true
}

// Filters returns the frozen filter list, e.g. so a caller can pull
// Result() off a specific stage (such as the hash filter) after Done.
func (g *Group) Filters() []Filter { return g.filters }

// Process runs input through the pipeline into output, per spec.md §4.1:
// a nil input signals flush (cascades through every stage); if any filter
// requested the same input again on the prior call, input is ignored and
// the cached pending buffer is reused instead.
func (g *Group) Process(input *iostream.Buffer, output *iostream.Buffer) error {
	if !g.opened {
		g.Open()
	}

	if len(g.filters) == 0 {
		// Identity pipeline: just copy.
		if input != nil {
			output.Cat(input.Bytes())
			input.Reset()
		}
		return nil
	}

	wasInputSame := g.inputSame

	var stageIn *iostream.Buffer
	switch {
	case wasInputSame:
		stageIn = g.pending
	case input == nil:
		stageIn = nil
	default:
		g.pending = input
		stageIn = input
	}

	// flushing is true only for a genuine top-level flush (input == nil),
	// not a re-feed of pending data. A flush only reaches stage i+1 once
	// stage i is Done() and produced nothing this round — until then,
	// stage i is still draining buffered output and stage i+1 must see
	// that as ordinary input, not end-of-stream.
	flushing := input == nil && !wasInputSame

	g.inputSame = false

	for i, f := range g.filters {
		var stageOut *iostream.Buffer
		if i == len(g.filters)-1 {
			stageOut = output
		} else {
			stageOut = g.scratch[i]
			stageOut.Reset()
		}

		if err := f.Feed(stageIn, stageOut); err != nil {
			return err
		}

		if f.InputSame() {
			g.inputSame = true
		}

		if flushing && f.Done() && stageOut.Used() == 0 {
			stageIn = nil
		} else {
			stageIn = stageOut
		}
	}

	if !g.inputSame {
		g.pending = nil
	}

	return nil
}
