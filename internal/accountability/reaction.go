package accountability

import (
	st "github.com/keshon/therapy-bot/internal/storagetypes"
)

// Vote is the meaning of a reaction emoji on a prompt.
type Vote int

const (
	VoteNone Vote = iota
	VoteYes
	VoteNo
)

// Outcome of a reaction on a prompt.
type Outcome int

const (
	OutcomeNone Outcome = iota
	// Affirmed: yes while the cycle is running.
	Affirmed
	// Confirmed: yes after the cycle ended.
	Confirmed
	// Slacking: no while the cycle is running.
	Slacking
	// Failed: no after the cycle ended.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Affirmed:
		return "affirmed"
	case Confirmed:
		return "confirmed"
	case Slacking:
		return "slacking"
	case Failed:
		return "failed"
	default:
		return "none"
	}
}

// ResolveReaction applies a vote on messageID to rec. Votes on anything but
// the outstanding prompt, and reactions that are not votes, change nothing.
func ResolveReaction(rec *st.UserRecord, messageID string, vote Vote) Outcome {
	if vote == VoteNone || rec.Prompt == "" || rec.Prompt != messageID {
		return OutcomeNone
	}
	rec.Prompt = ""

	switch {
	case vote == VoteYes && !rec.Done:
		rec.Slacking = false
		return Affirmed
	case vote == VoteYes:
		return Confirmed
	case !rec.Done:
		rec.Slacking = true
		return Slacking
	default:
		return Failed
	}
}
