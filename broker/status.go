package broker

import (
	"github.com/shrtyk/logstream-core/api"
	"github.com/shrtyk/logstream-core/internal/startup"
)

// Status is the broker state reported by the monitoring endpoint.
type Status struct {
	Partition      int          `json:"partition"`
	Member         api.MemberID `json:"member"`
	State          string       `json:"state"`
	NextPosition   int64        `json:"next_position"`
	LastPosition   int64        `json:"last_position"`
	CommitPosition int64        `json:"commit_position"`

	SequencerLimit    int `json:"sequencer_limit"`
	SequencerInflight int `json:"sequencer_inflight"`
	AppenderLimit     int `json:"appender_limit"`
	AppenderInflight  int `json:"appender_inflight"`

	LatestSnapshot  string         `json:"latest_snapshot,omitempty"`
	CompactionBound int64          `json:"compaction_bound"`
	Members         []MemberStatus `json:"members"`
}

type MemberStatus struct {
	ID        api.MemberID `json:"id"`
	Available bool         `json:"available"`
}

// Status collects the current broker state. Components that are not started
// yet are left out.
func (b *Broker) Status() Status {
	st := Status{
		Partition:       b.cfg.Partition.ID,
		Member:          b.cfg.Partition.MemberID,
		State:           b.process.State().String(),
		CompactionBound: -1,
	}
	if b.process.State() != startup.Started {
		return st
	}

	st.NextPosition = b.NextPosition()
	st.LastPosition = b.storage.LastPosition()
	st.CommitPosition = b.storage.CommitPosition()

	seq, app := b.sequencer.Limiter(), b.appender.Limiter()
	st.SequencerLimit, st.SequencerInflight = seq.Limit(), seq.Inflight()
	st.AppenderLimit, st.AppenderInflight = app.Limit(), app.Inflight()

	if latest, ok := b.snapshots.LatestSnapshot(); ok {
		st.LatestSnapshot = latest.ID().String()
		st.CompactionBound = latest.CompactionBound()
	}
	for _, m := range b.transport.Members() {
		st.Members = append(st.Members, MemberStatus{ID: m, Available: b.transport.IsMemberAvailable(m)})
	}
	return st
}
