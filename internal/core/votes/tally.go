package votes

import "sort"

// Change is the effect of one accepted cast on the stored vote table.
// Previous is nil when the pair had no vote before.
type Change struct {
	Previous       *Value
	UserID         string
	Current        Value
	OpinionID      int64
	ConversationID int64
}

// OpinionDelta is the counter adjustment for one opinion.
type OpinionDelta struct {
	OpinionID int64
	Agrees    int
	Disagrees int
	Passes    int
}

// ConversationDelta is the vote-count adjustment for one conversation.
// Participant counts are recounted by the repository.
type ConversationDelta struct {
	ConversationID int64
	Votes          int
}

func (d *OpinionDelta) add(v Value, n int) {
	switch v {
	case ValueAgree:
		d.Agrees += n
	case ValueDisagree:
		d.Disagrees += n
	case ValuePass:
		d.Passes += n
	}
}

func (d OpinionDelta) isZero() bool {
	return d.Agrees == 0 && d.Disagrees == 0 && d.Passes == 0
}

// Tally folds changes into per-opinion and per-conversation counter deltas.
// Re-casting the same value produces no delta. Only first votes on an
// opinion bump the conversation's vote count.
func Tally(changes []Change) ([]OpinionDelta, []ConversationDelta) {
	opinions := make(map[int64]*OpinionDelta)
	conversations := make(map[int64]int)

	for _, c := range changes {
		if c.Previous != nil && *c.Previous == c.Current {
			continue
		}
		d := opinions[c.OpinionID]
		if d == nil {
			d = &OpinionDelta{OpinionID: c.OpinionID}
			opinions[c.OpinionID] = d
		}
		if c.Previous != nil {
			d.add(*c.Previous, -1)
		} else {
			conversations[c.ConversationID]++
		}
		d.add(c.Current, 1)
	}

	opOut := make([]OpinionDelta, 0, len(opinions))
	for _, d := range opinions {
		if !d.isZero() {
			opOut = append(opOut, *d)
		}
	}
	sort.Slice(opOut, func(i, j int) bool { return opOut[i].OpinionID < opOut[j].OpinionID })

	convOut := make([]ConversationDelta, 0, len(conversations))
	for id, n := range conversations {
		convOut = append(convOut, ConversationDelta{ConversationID: id, Votes: n})
	}
	sort.Slice(convOut, func(i, j int) bool { return convOut[i].ConversationID < convOut[j].ConversationID })

	return opOut, convOut
}
